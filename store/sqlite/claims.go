package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/approval"
	"github.com/warp/allocation-engine/core"
	"github.com/warp/allocation-engine/documents"
)

// =============================================================================
// REVENUE CLAIMS (approval.Store interface)
// =============================================================================

var _ approval.Store = (*Store)(nil)

const claimColumns = `
	id, po_number, emp_code, manager_code, customer_ref, order_value, state,
	is_manual, entered_by, approved_by, approved_at, submitted_by, submitted_at,
	submissions_json, rejected_by, rejected_at, rejection_reason, document_json,
	created_at, updated_at`

// UpsertClaim relies on the (po_number, emp_code) unique index: two
// concurrent approvals of the same order can never both insert.
func (s *Store) UpsertClaim(ctx context.Context, key approval.NaturalKey, fn func(*approval.RevenueClaim) (approval.RevenueClaim, error)) (approval.RevenueClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out approval.RevenueClaim
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := queryClaims(ctx, tx,
			"SELECT "+claimColumns+" FROM revenue_claims WHERE po_number = ? AND emp_code = ?",
			key.PONumber, key.EmpCode)
		if err != nil {
			return err
		}

		if len(existing) == 0 {
			next, err := fn(nil)
			if err != nil {
				return err
			}
			if err := insertClaim(ctx, tx, next); err != nil {
				return err
			}
			out = next
			return nil
		}

		cur := existing[0]
		next, err := fn(&cur)
		if err != nil {
			return err
		}
		next.ID = existing[0].ID
		if err := writeClaim(ctx, tx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

func (s *Store) GetClaim(ctx context.Context, id string) (approval.RevenueClaim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getClaim(ctx, s.db, id)
}

func getClaim(ctx context.Context, q querier, id string) (approval.RevenueClaim, error) {
	claims, err := queryClaims(ctx, q, "SELECT "+claimColumns+" FROM revenue_claims WHERE id = ?", id)
	if err != nil {
		return approval.RevenueClaim{}, err
	}
	if len(claims) == 0 {
		return approval.RevenueClaim{}, core.NotFound("revenue claim", id)
	}
	return claims[0], nil
}

func (s *Store) FindClaim(ctx context.Context, key approval.NaturalKey) (approval.RevenueClaim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	claims, err := queryClaims(ctx, s.db,
		"SELECT "+claimColumns+" FROM revenue_claims WHERE po_number = ? AND emp_code = ?",
		key.PONumber, key.EmpCode)
	if err != nil {
		return approval.RevenueClaim{}, err
	}
	if len(claims) == 0 {
		return approval.RevenueClaim{}, core.NotFound("revenue claim", key.String())
	}
	return claims[0], nil
}

func (s *Store) UpdateClaim(ctx context.Context, id string, fn func(*approval.RevenueClaim) error) (approval.RevenueClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out approval.RevenueClaim
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		c, err := getClaim(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(&c); err != nil {
			return err
		}
		c.ID = id
		if err := writeClaim(ctx, tx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

func (s *Store) ListClaims(ctx context.Context, f approval.ClaimFilter) ([]approval.RevenueClaim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		conds []string
		args  []any
	)
	if f.EmpCode != "" {
		conds = append(conds, "emp_code = ?")
		args = append(args, f.EmpCode)
	}
	if len(f.ManagerCodes) > 0 {
		conds = append(conds, "manager_code IN ("+placeholders(len(f.ManagerCodes))+")")
		for _, c := range f.ManagerCodes {
			args = append(args, c)
		}
	}
	if len(f.States) > 0 {
		conds = append(conds, "state IN ("+placeholders(len(f.States))+")")
		for _, st := range f.States {
			args = append(args, st)
		}
	}

	query := "SELECT " + claimColumns + " FROM revenue_claims"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	return queryClaims(ctx, s.db, query, args...)
}

func insertClaim(ctx context.Context, q querier, c approval.RevenueClaim) error {
	cols, err := claimArgs(c)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO revenue_claims
		(id, po_number, emp_code, manager_code, customer_ref, order_value, state,
		 is_manual, entered_by, approved_by, approved_at, submitted_by, submitted_at,
		 submissions_json, rejected_by, rejected_at, rejection_reason, document_json,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, append([]any{c.ID}, cols...)...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: revenue claim %s", core.ErrAlreadyExists, c.Key())
		}
		return fmt.Errorf("failed to insert revenue claim: %w", err)
	}
	return nil
}

func writeClaim(ctx context.Context, q querier, c approval.RevenueClaim) error {
	cols, err := claimArgs(c)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		UPDATE revenue_claims SET
			po_number = ?, emp_code = ?, manager_code = ?, customer_ref = ?,
			order_value = ?, state = ?, is_manual = ?, entered_by = ?,
			approved_by = ?, approved_at = ?, submitted_by = ?, submitted_at = ?,
			submissions_json = ?, rejected_by = ?, rejected_at = ?,
			rejection_reason = ?, document_json = ?, created_at = ?, updated_at = ?
		WHERE id = ?
	`, append(cols, c.ID)...)
	if err != nil {
		return fmt.Errorf("failed to update revenue claim: %w", err)
	}
	return nil
}

// claimArgs returns every column after id, in claimColumns order.
func claimArgs(c approval.RevenueClaim) ([]any, error) {
	subs := c.Submissions
	if subs == nil {
		subs = []approval.Submission{}
	}
	subsJSON, err := json.Marshal(subs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode submissions: %w", err)
	}
	var doc sql.NullString
	if c.Document != nil {
		b, err := json.Marshal(c.Document)
		if err != nil {
			return nil, fmt.Errorf("failed to encode document: %w", err)
		}
		doc = sql.NullString{String: string(b), Valid: true}
	}

	return []any{
		c.PONumber, c.EmpCode, nullString(string(c.ManagerCode)), c.CustomerRef,
		c.OrderValue.String(), c.State, boolInt(c.IsManual), nullString(string(c.EnteredBy)),
		nullString(string(c.ApprovedBy)), nullTime(c.ApprovedAt),
		nullString(string(c.SubmittedBy)), nullTime(c.SubmittedAt),
		string(subsJSON), nullString(string(c.RejectedBy)), nullTime(c.RejectedAt),
		nullString(c.RejectionReason), doc,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	}, nil
}

func queryClaims(ctx context.Context, q querier, query string, args ...any) ([]approval.RevenueClaim, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query revenue claims: %w", err)
	}
	defer rows.Close()

	var claims []approval.RevenueClaim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

func scanClaim(rows *sql.Rows) (approval.RevenueClaim, error) {
	var (
		c               approval.RevenueClaim
		managerCode     sql.NullString
		orderValue      string
		isManual        int
		enteredBy       sql.NullString
		approvedBy      sql.NullString
		approvedAt      sql.NullString
		submittedBy     sql.NullString
		submittedAt     sql.NullString
		submissionsJSON string
		rejectedBy      sql.NullString
		rejectedAt      sql.NullString
		rejectionReason sql.NullString
		documentJSON    sql.NullString
		createdAt       string
		updatedAt       string
	)

	err := rows.Scan(
		&c.ID, &c.PONumber, &c.EmpCode, &managerCode, &c.CustomerRef, &orderValue, &c.State,
		&isManual, &enteredBy, &approvedBy, &approvedAt, &submittedBy, &submittedAt,
		&submissionsJSON, &rejectedBy, &rejectedAt, &rejectionReason, &documentJSON,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return c, fmt.Errorf("failed to scan revenue claim: %w", err)
	}

	c.OrderValue, err = decimal.NewFromString(orderValue)
	if err != nil {
		return c, fmt.Errorf("invalid order value on %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(submissionsJSON), &c.Submissions); err != nil {
		return c, fmt.Errorf("failed to decode submissions of %s: %w", c.ID, err)
	}
	if len(c.Submissions) == 0 {
		c.Submissions = nil
	}
	if documentJSON.Valid && documentJSON.String != "" {
		var ref documents.Ref
		if err := json.Unmarshal([]byte(documentJSON.String), &ref); err != nil {
			return c, fmt.Errorf("failed to decode document of %s: %w", c.ID, err)
		}
		c.Document = &ref
	}

	c.ManagerCode = core.ActorCode(managerCode.String)
	c.IsManual = isManual == 1
	c.EnteredBy = core.ActorCode(enteredBy.String)
	c.ApprovedBy = core.ActorCode(approvedBy.String)
	c.ApprovedAt = timePtr(approvedAt)
	c.SubmittedBy = core.ActorCode(submittedBy.String)
	c.SubmittedAt = timePtr(submittedAt)
	c.RejectedBy = core.ActorCode(rejectedBy.String)
	c.RejectedAt = timePtr(rejectedAt)
	c.RejectionReason = rejectionReason.String
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}
