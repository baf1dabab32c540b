package approval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/allocation-engine/core"
	"github.com/warp/allocation-engine/documents"
)

// =============================================================================
// INPUTS
// =============================================================================

// RecordInput is an employee recording a won order.
type RecordInput struct {
	EmpCode     core.ActorCode  `json:"emp_code" validate:"required"`
	PONumber    string          `json:"po_number" validate:"required"`
	CustomerRef string          `json:"customer_ref" validate:"required"`
	OrderValue  decimal.Decimal `json:"order_value"`
}

// ManualInput is a manager or branch manager entering a claim directly.
// EmpCode defaults to the entering actor.
type ManualInput struct {
	EnteredBy   core.ActorCode  `json:"entered_by" validate:"required"`
	EmpCode     core.ActorCode  `json:"emp_code"`
	PONumber    string          `json:"po_number" validate:"required"`
	CustomerRef string          `json:"customer_ref" validate:"required"`
	OrderValue  decimal.Decimal `json:"order_value"`
}

// ApproveInput approves the claim identified by (PONumber, EmpCode),
// creating it if the employee never recorded it. CustomerRef and
// OrderValue refresh the claim's details when set.
type ApproveInput struct {
	ApproverCode core.ActorCode  `json:"approver_code" validate:"required"`
	PONumber     string          `json:"po_number" validate:"required"`
	EmpCode      core.ActorCode  `json:"emp_code" validate:"required"`
	CustomerRef  string          `json:"customer_ref"`
	OrderValue   decimal.Decimal `json:"order_value"`
}

// SkippedClaim explains why a claim in a bulk submit was not moved.
type SkippedClaim struct {
	ClaimID string `json:"claim_id"`
	Reason  string `json:"reason"`
}

type SubmitResult struct {
	// Count is the number of claims moved up by this call.
	Count            int
	AlreadySubmitted int
	Skipped          []SkippedClaim
}

// =============================================================================
// PIPELINE
// =============================================================================

type Pipeline struct {
	store     Store
	directory core.Directory
	docs      documents.Store
	clock     core.Clock
	newID     core.IDGenerator
	logger    *zap.Logger
}

type Option func(*Pipeline)

func WithLogger(l *zap.Logger) Option { return func(p *Pipeline) { p.logger = l } }

func WithClock(c core.Clock) Option { return func(p *Pipeline) { p.clock = c } }

func WithDocuments(d documents.Store) Option { return func(p *Pipeline) { p.docs = d } }

func WithIDGenerator(g core.IDGenerator) Option { return func(p *Pipeline) { p.newID = g } }

func NewPipeline(store Store, dir core.Directory, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:     store,
		directory: dir,
		clock:     core.SystemClock{},
		newID:     core.NewID,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Record stores a won order as a Created claim. Recording the same
// (poNumber, empCode) again refreshes the details while the claim is
// still Created and otherwise returns it unchanged. A rejected key
// cannot be recorded again.
func (p *Pipeline) Record(ctx context.Context, in RecordInput) (RevenueClaim, error) {
	if err := core.Validate(in); err != nil {
		return RevenueClaim{}, err
	}
	if !in.OrderValue.IsPositive() {
		return RevenueClaim{}, core.NewValidationError("order_value", "must be greater than 0")
	}
	emp, err := core.ResolveWithRole(ctx, p.directory, in.EmpCode, core.RoleEmployee)
	if err != nil {
		return RevenueClaim{}, err
	}
	manager, _ := emp.Parent()

	key := NewNaturalKey(in.PONumber, emp.Code)
	claim, err := p.store.UpsertClaim(ctx, key, func(existing *RevenueClaim) (RevenueClaim, error) {
		now := p.clock.Now()
		if existing == nil {
			return RevenueClaim{
				ID:          p.newID("REV"),
				EmpCode:     emp.Code,
				ManagerCode: manager,
				PONumber:    key.PONumber,
				CustomerRef: in.CustomerRef,
				OrderValue:  in.OrderValue,
				State:       StateCreated,
				EnteredBy:   emp.Code,
				CreatedAt:   now,
				UpdatedAt:   now,
			}, nil
		}
		if existing.State == StateRejected {
			return RevenueClaim{}, fmt.Errorf("%w: %s", core.ErrClaimRejected, key)
		}
		c := existing.Clone()
		if c.State == StateCreated {
			c.CustomerRef = in.CustomerRef
			c.OrderValue = in.OrderValue
			c.UpdatedAt = now
		}
		return c, nil
	})
	if err != nil {
		return RevenueClaim{}, err
	}

	p.logger.Info("revenue claim recorded",
		zap.String("claim_id", claim.ID),
		zap.String("key", key.String()),
		zap.String("state", string(claim.State)))
	return claim, nil
}

// EnterManual stores a claim keyed in by a manager or branch manager.
// Manual claims skip the Created state: the entering actor vouches for them.
func (p *Pipeline) EnterManual(ctx context.Context, in ManualInput) (RevenueClaim, error) {
	if err := core.Validate(in); err != nil {
		return RevenueClaim{}, err
	}
	if !in.OrderValue.IsPositive() {
		return RevenueClaim{}, core.NewValidationError("order_value", "must be greater than 0")
	}
	entering, err := core.ResolveWithRole(ctx, p.directory, in.EnteredBy, core.RoleManager, core.RoleBranchManager)
	if err != nil {
		return RevenueClaim{}, err
	}

	empCode := in.EmpCode
	if empCode == "" {
		empCode = entering.Code
	}
	if empCode != entering.Code {
		emp, err := p.directory.Resolve(ctx, empCode)
		if err != nil {
			return RevenueClaim{}, err
		}
		if !emp.ReportsTo(entering.Code) {
			return RevenueClaim{}, core.Forbidden("%s does not report to %s", emp.Code, entering.Code)
		}
	}

	key := NewNaturalKey(in.PONumber, empCode)
	claim, err := p.store.UpsertClaim(ctx, key, func(existing *RevenueClaim) (RevenueClaim, error) {
		if existing != nil {
			if existing.State == StateRejected {
				return RevenueClaim{}, fmt.Errorf("%w: %s", core.ErrClaimRejected, key)
			}
			return existing.Clone(), nil
		}
		now := p.clock.Now()
		return RevenueClaim{
			ID:          p.newID("REV"),
			EmpCode:     empCode,
			ManagerCode: entering.Code,
			PONumber:    key.PONumber,
			CustomerRef: in.CustomerRef,
			OrderValue:  in.OrderValue,
			State:       StateApproved,
			IsManual:    true,
			EnteredBy:   entering.Code,
			ApprovedBy:  entering.Code,
			ApprovedAt:  &now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}, nil
	})
	if err != nil {
		return RevenueClaim{}, err
	}

	p.logger.Info("manual revenue claim entered",
		zap.String("claim_id", claim.ID),
		zap.String("key", key.String()),
		zap.String("by", entering.Code.String()))
	return claim, nil
}

// Approve is an idempotent upsert on (poNumber, empCode).
//
// The first approval fixes ApprovedBy/ApprovedAt. Approving again returns
// the same claim, refreshing customer and value only if supplied and the
// claim has not been submitted yet. A rejected claim cannot be approved.
func (p *Pipeline) Approve(ctx context.Context, in ApproveInput) (RevenueClaim, error) {
	if err := core.Validate(in); err != nil {
		return RevenueClaim{}, err
	}
	approver, err := core.ResolveWithRole(ctx, p.directory, in.ApproverCode, core.RoleManager)
	if err != nil {
		return RevenueClaim{}, err
	}
	emp, err := p.directory.Resolve(ctx, in.EmpCode)
	if err != nil {
		return RevenueClaim{}, err
	}
	// Only the direct manager approves. Self-approval and approvals from
	// further up go through EnterManual instead.
	if manager, ok := emp.Parent(); !ok || manager != approver.Code {
		return RevenueClaim{}, core.Forbidden("%s is not the direct manager of %s", approver.Code, emp.Code)
	}

	key := NewNaturalKey(in.PONumber, emp.Code)
	claim, err := p.store.UpsertClaim(ctx, key, func(existing *RevenueClaim) (RevenueClaim, error) {
		now := p.clock.Now()
		if existing == nil {
			if strings.TrimSpace(in.CustomerRef) == "" || !in.OrderValue.IsPositive() {
				v := &core.ValidationError{Message: "new claim needs order details"}
				if strings.TrimSpace(in.CustomerRef) == "" {
					v.AddField("customer_ref", "is required")
				}
				if !in.OrderValue.IsPositive() {
					v.AddField("order_value", "must be greater than 0")
				}
				return RevenueClaim{}, v
			}
			manager, _ := emp.Parent()
			return RevenueClaim{
				ID:          p.newID("REV"),
				EmpCode:     emp.Code,
				ManagerCode: manager,
				PONumber:    key.PONumber,
				CustomerRef: in.CustomerRef,
				OrderValue:  in.OrderValue,
				State:       StateApproved,
				EnteredBy:   approver.Code,
				ApprovedBy:  approver.Code,
				ApprovedAt:  &now,
				CreatedAt:   now,
				UpdatedAt:   now,
			}, nil
		}

		c := existing.Clone()
		if c.State == StateRejected {
			return RevenueClaim{}, fmt.Errorf("%w: %s", core.ErrClaimRejected, key)
		}
		if c.State == StateCreated {
			c.State = StateApproved
			c.ApprovedBy = approver.Code
			c.ApprovedAt = &now
			c.UpdatedAt = now
		}
		if c.State == StateApproved {
			if in.CustomerRef != "" && in.CustomerRef != c.CustomerRef {
				c.CustomerRef = in.CustomerRef
				c.UpdatedAt = now
			}
			if in.OrderValue.IsPositive() && !in.OrderValue.Equal(c.OrderValue) {
				c.OrderValue = in.OrderValue
				c.UpdatedAt = now
			}
		}
		return c, nil
	})
	if err != nil {
		return RevenueClaim{}, err
	}

	p.logger.Info("revenue claim approved",
		zap.String("claim_id", claim.ID),
		zap.String("key", key.String()),
		zap.String("approver", approver.Code.String()))
	return claim, nil
}

// ApproveByID approves an existing claim.
func (p *Pipeline) ApproveByID(ctx context.Context, claimID string, approverCode core.ActorCode) (RevenueClaim, error) {
	c, err := p.store.GetClaim(ctx, claimID)
	if err != nil {
		return RevenueClaim{}, err
	}
	return p.Approve(ctx, ApproveInput{ApproverCode: approverCode, PONumber: c.PONumber, EmpCode: c.EmpCode})
}

// Submit hands claims one level up. It is bulk-safe: claims already at or
// past the actor's submission level are counted as already submitted, and
// claims that cannot move are reported in Skipped instead of failing the
// whole call.
func (p *Pipeline) Submit(ctx context.Context, actorCode core.ActorCode, claimIDs []string) (SubmitResult, error) {
	if len(claimIDs) == 0 {
		return SubmitResult{}, core.NewValidationError("claim_ids", "is required")
	}
	actor, err := core.ResolveWithRole(ctx, p.directory, actorCode, core.RoleManager, core.RoleBranchManager)
	if err != nil {
		return SubmitResult{}, err
	}
	target := StateSubmittedByManager
	if actor.Role == core.RoleBranchManager {
		target = StateSubmittedByBranch
	}

	var res SubmitResult
	seen := make(map[string]bool, len(claimIDs))
	for _, id := range claimIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		moved, already, err := p.submitOne(ctx, actor, target, id)
		switch {
		case err != nil && (core.IsClientError(err) || core.IsNotFound(err) || errors.Is(err, core.ErrForbidden)):
			res.Skipped = append(res.Skipped, SkippedClaim{ClaimID: id, Reason: err.Error()})
		case err != nil:
			return res, err
		case moved:
			res.Count++
		case already:
			res.AlreadySubmitted++
		}
	}

	p.logger.Info("revenue claims submitted",
		zap.String("by", actor.Code.String()),
		zap.Int("submitted", res.Count),
		zap.Int("already", res.AlreadySubmitted),
		zap.Int("skipped", len(res.Skipped)))
	return res, nil
}

// submitOne moves one claim to target. The submitter check needs the
// directory, so it runs before the atomic update.
func (p *Pipeline) submitOne(ctx context.Context, actor core.Actor, target ClaimState, id string) (moved, already bool, err error) {
	current, err := p.store.GetClaim(ctx, id)
	if err != nil {
		return false, false, err
	}
	ok, err := p.canSubmit(ctx, actor, current)
	if err != nil {
		return false, false, err
	}
	if !ok {
		return false, false, core.Forbidden("%s cannot submit claim %s", actor.Code, id)
	}

	_, err = p.store.UpdateClaim(ctx, id, func(c *RevenueClaim) error {
		if c.State == StateRejected {
			return fmt.Errorf("%w: rejected", core.ErrClaimRejected)
		}
		if c.State.AtLeast(target) {
			already = true
			return nil
		}
		if !p.readyFor(actor, *c) {
			return fmt.Errorf("%w: claim is %s", core.ErrValidation, c.State)
		}
		now := p.clock.Now()
		c.State = target
		c.SubmittedBy = actor.Code
		c.SubmittedAt = &now
		c.Submissions = append(c.Submissions, Submission{Role: actor.Role, By: actor.Code, At: now})
		c.UpdatedAt = now
		moved = true
		return nil
	})
	if err != nil {
		return false, false, err
	}
	return moved, already, nil
}

// readyFor reports whether the claim is in the state the actor submits from.
func (p *Pipeline) readyFor(actor core.Actor, c RevenueClaim) bool {
	switch actor.Role {
	case core.RoleManager:
		return c.State == StateApproved
	case core.RoleBranchManager:
		return c.State == StateSubmittedByManager ||
			(c.State == StateApproved && c.IsManual && c.EnteredBy == actor.Code)
	}
	return false
}

func (p *Pipeline) canSubmit(ctx context.Context, actor core.Actor, c RevenueClaim) (bool, error) {
	if c.ManagerCode == actor.Code || c.EnteredBy == actor.Code {
		return true, nil
	}
	emp, err := p.directory.Resolve(ctx, c.EmpCode)
	if err != nil {
		if core.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return emp.ReportsTo(actor.Code), nil
}

// Reject moves a claim to the terminal Rejected state. Rejecting an already
// rejected claim returns it unchanged.
func (p *Pipeline) Reject(ctx context.Context, claimID string, actorCode core.ActorCode, reason string) (RevenueClaim, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return RevenueClaim{}, core.NewValidationError("reason", "is required")
	}
	actor, err := core.ResolveWithRole(ctx, p.directory, actorCode,
		core.RoleManager, core.RoleBranchManager, core.RoleRegionalManager, core.RoleAdmin)
	if err != nil {
		return RevenueClaim{}, err
	}
	visible, err := p.visibility(ctx, actor, true)
	if err != nil {
		return RevenueClaim{}, err
	}

	claim, err := p.store.UpdateClaim(ctx, claimID, func(c *RevenueClaim) error {
		if c.State == StateRejected {
			return nil
		}
		if !visible(*c) {
			return core.Forbidden("%s cannot see claim %s", actor.Code, c.ID)
		}
		now := p.clock.Now()
		c.State = StateRejected
		c.RejectedBy = actor.Code
		c.RejectedAt = &now
		c.RejectionReason = reason
		c.UpdatedAt = now
		return nil
	})
	if err != nil {
		return RevenueClaim{}, err
	}

	p.logger.Info("revenue claim rejected",
		zap.String("claim_id", claim.ID),
		zap.String("by", actor.Code.String()),
		zap.String("reason", reason))
	return claim, nil
}

// AttachDocument uploads a purchase-order document and links it to the claim.
func (p *Pipeline) AttachDocument(ctx context.Context, claimID string, actorCode core.ActorCode, name, contentType string, body io.Reader) (RevenueClaim, error) {
	if p.docs == nil {
		return RevenueClaim{}, fmt.Errorf("document storage is not configured")
	}
	c, err := p.store.GetClaim(ctx, claimID)
	if err != nil {
		return RevenueClaim{}, err
	}
	if c.EmpCode != actorCode && c.EnteredBy != actorCode && c.ManagerCode != actorCode {
		return RevenueClaim{}, core.Forbidden("%s cannot attach documents to claim %s", actorCode, claimID)
	}

	ref, err := p.docs.Put(ctx, name, contentType, body)
	if err != nil {
		return RevenueClaim{}, err
	}
	return p.store.UpdateClaim(ctx, claimID, func(c *RevenueClaim) error {
		c.Document = &ref
		c.UpdatedAt = p.clock.Now()
		return nil
	})
}

func (p *Pipeline) Claim(ctx context.Context, id string) (RevenueClaim, error) {
	return p.store.GetClaim(ctx, id)
}

// ClaimFor returns the claim if the actor can see it, rejected or not.
// Claims outside the actor's view are reported as not found.
func (p *Pipeline) ClaimFor(ctx context.Context, id string, actorCode core.ActorCode) (RevenueClaim, error) {
	actor, err := p.directory.Resolve(ctx, actorCode)
	if err != nil {
		return RevenueClaim{}, err
	}
	visible, err := p.visibility(ctx, actor, true)
	if err != nil {
		return RevenueClaim{}, err
	}
	c, err := p.store.GetClaim(ctx, id)
	if err != nil {
		return RevenueClaim{}, err
	}
	if !visible(c) {
		return RevenueClaim{}, core.NotFound("revenue claim", id)
	}
	return c, nil
}

// OpenDocument streams the claim's purchase-order document. Caller closes
// the reader.
func (p *Pipeline) OpenDocument(ctx context.Context, claimID string, actorCode core.ActorCode) (documents.Ref, io.ReadCloser, error) {
	c, err := p.ClaimFor(ctx, claimID, actorCode)
	if err != nil {
		return documents.Ref{}, nil, err
	}
	if c.Document == nil || p.docs == nil {
		return documents.Ref{}, nil, core.NotFound("document", claimID)
	}
	body, err := p.docs.Get(ctx, c.Document.Key)
	if err != nil {
		return documents.Ref{}, nil, err
	}
	return *c.Document, body, nil
}
