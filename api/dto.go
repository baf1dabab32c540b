/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

IDENTITY FIELDS:
  Requests never carry the acting actor. Assigner, approver, submitter and
  so on are always taken from X-Actor-Code, so a client cannot act on
  someone else's behalf by editing a body.

VALIDATION:
  Validation is done by the domain services (core.Validate on their input
  structs). DTOs are pure data carriers.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/approval"
	"github.com/warp/allocation-engine/core"
	"github.com/warp/allocation-engine/documents"
	"github.com/warp/allocation-engine/ledger"
)

// =============================================================================
// ACTORS & STOCK
// =============================================================================

type ActorDTO struct {
	Code        core.ActorCode   `json:"code"`
	Name        string           `json:"name"`
	Role        core.Role        `json:"role"`
	Branch      string           `json:"branch,omitempty"`
	Region      string           `json:"region,omitempty"`
	ParentCodes []core.ActorCode `json:"parent_codes"`
}

type StockPositionDTO struct {
	Actor       core.ActorCode `json:"actor"`
	Item        ledger.ItemKey `json:"item"`
	Received    core.Quantity  `json:"received"`
	Used        core.Quantity  `json:"used"`
	AssignedOut core.Quantity  `json:"assigned_out"`
	Available   core.Quantity  `json:"available"`
}

// =============================================================================
// STOCK POOLS
// =============================================================================

type PoolDTO struct {
	Item      ledger.ItemKey `json:"item"`
	Opening   core.Quantity  `json:"opening"`
	Issued    core.Quantity  `json:"issued"`
	Balance   core.Quantity  `json:"balance"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

// PoolRequest creates a pool or adjusts its opening quantity.
type PoolRequest struct {
	Item    ledger.ItemKey `json:"item"`
	Opening core.Quantity  `json:"opening"`
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

type CreateAllocationRequest struct {
	Item       ledger.ItemKey          `json:"item"`
	Recipients []ledger.RecipientInput `json:"recipients"`
	Purpose    string                  `json:"purpose"`
	ParentPath core.HierarchyPath      `json:"parent_path"`
	Split      bool                    `json:"split"`
}

type RecipientDTO struct {
	ActorCode   core.ActorCode      `json:"actor_code"`
	Name        string              `json:"name"`
	Qty         core.Quantity       `json:"qty"`
	UsedQty     core.Quantity       `json:"used_qty"`
	Remaining   core.Quantity       `json:"remaining"`
	UsedSamples []ledger.UsageEntry `json:"used_samples"`
}

type DispatchDTO struct {
	State                 ledger.DispatchState `json:"state"`
	ToVendor              bool                 `json:"to_vendor"`
	DispatchedAt          *string              `json:"dispatched_at,omitempty"`
	DispatchedBy          core.ActorCode       `json:"dispatched_by,omitempty"`
	LRNumber              string               `json:"lr_number,omitempty"`
	LRUpdatedAt           *string              `json:"lr_updated_at,omitempty"`
	PODUpdatedForEmployee bool                 `json:"pod_updated_for_employee"`
	PODUpdatedAt          *string              `json:"pod_updated_at,omitempty"`
}

type AllocationDTO struct {
	ID             string             `json:"id"`
	AllocationID   string             `json:"allocation_id"`
	Path           core.HierarchyPath `json:"path"`
	Level          core.Level         `json:"level"`
	Item           ledger.ItemKey     `json:"item"`
	Purpose        ledger.Purpose     `json:"purpose"`
	PurposeNote    string             `json:"purpose_note,omitempty"`
	VendorEligible bool               `json:"vendor_eligible"`
	AssignedBy     core.ActorCode     `json:"assigned_by"`
	AssignedByRole core.Role          `json:"assigned_by_role"`
	Total          core.Quantity      `json:"total"`
	Recipients     []RecipientDTO     `json:"recipients"`
	Dispatch       DispatchDTO        `json:"dispatch"`
	CreatedAt      string             `json:"created_at"`
	UpdatedAt      string             `json:"updated_at"`
}

type UsageRequest struct {
	Ref string        `json:"ref"`
	Qty core.Quantity `json:"qty"`
}

type UsageResponse struct {
	Allocation AllocationDTO     `json:"allocation"`
	Entry      ledger.UsageEntry `json:"entry"`
	Remaining  core.Quantity     `json:"remaining"`
}

type UpdateLRRequest struct {
	LRNumber string `json:"lr_number"`
}

type PODResponse struct {
	HierarchyID string `json:"hierarchy_id"`
	Records     int    `json:"records"`
}

// =============================================================================
// REVENUE CLAIMS
// =============================================================================

type RecordClaimRequest struct {
	PONumber    string          `json:"po_number"`
	CustomerRef string          `json:"customer_ref"`
	OrderValue  decimal.Decimal `json:"order_value"`
}

// ManualClaimRequest is entered by a manager or branch manager. EmpCode
// defaults to the caller.
type ManualClaimRequest struct {
	EmpCode     core.ActorCode  `json:"emp_code"`
	PONumber    string          `json:"po_number"`
	CustomerRef string          `json:"customer_ref"`
	OrderValue  decimal.Decimal `json:"order_value"`
}

type ApproveClaimRequest struct {
	PONumber    string          `json:"po_number"`
	EmpCode     core.ActorCode  `json:"emp_code"`
	CustomerRef string          `json:"customer_ref"`
	OrderValue  decimal.Decimal `json:"order_value"`
}

type SubmitClaimsRequest struct {
	ClaimIDs []string `json:"claim_ids"`
}

type SubmitClaimsResponse struct {
	Count            int                     `json:"count"`
	AlreadySubmitted int                     `json:"already_submitted"`
	Skipped          []approval.SkippedClaim `json:"skipped"`
}

type RejectClaimRequest struct {
	Reason string `json:"reason"`
}

type SubmissionDTO struct {
	Role core.Role      `json:"role"`
	By   core.ActorCode `json:"by"`
	At   string         `json:"at"`
}

type ClaimDTO struct {
	ID                string              `json:"id"`
	EmpCode           core.ActorCode      `json:"emp_code"`
	ManagerCode       core.ActorCode      `json:"manager_code,omitempty"`
	PONumber          string              `json:"po_number"`
	CustomerRef       string              `json:"customer_ref"`
	OrderValue        decimal.Decimal     `json:"order_value"`
	State             approval.ClaimState `json:"state"`
	IsManual          bool                `json:"is_manual"`
	EnteredBy         core.ActorCode      `json:"entered_by,omitempty"`
	ApprovedBy        core.ActorCode      `json:"approved_by,omitempty"`
	ApprovedAt        *string             `json:"approved_at,omitempty"`
	IsSubmittedToNext bool                `json:"is_submitted_to_next"`
	SubmittedBy       core.ActorCode      `json:"submitted_by,omitempty"`
	SubmittedAt       *string             `json:"submitted_at,omitempty"`
	Submissions       []SubmissionDTO     `json:"submissions"`
	RejectedBy        core.ActorCode      `json:"rejected_by,omitempty"`
	RejectedAt        *string             `json:"rejected_at,omitempty"`
	RejectionReason   string              `json:"rejection_reason,omitempty"`
	Document          *documents.Ref      `json:"document,omitempty"`
	CreatedAt         string              `json:"created_at"`
	UpdatedAt         string              `json:"updated_at"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toActorDTO(a core.Actor) ActorDTO {
	parents := a.ParentCodes
	if parents == nil {
		parents = []core.ActorCode{}
	}
	return ActorDTO{
		Code:        a.Code,
		Name:        a.Name,
		Role:        a.Role,
		Branch:      a.Branch,
		Region:      a.Region,
		ParentCodes: parents,
	}
}

func toStockPositionDTO(p ledger.StockPosition) StockPositionDTO {
	return StockPositionDTO{
		Actor:       p.Actor,
		Item:        p.Item,
		Received:    p.Received,
		Used:        p.Used,
		AssignedOut: p.AssignedOut,
		Available:   p.Available,
	}
}

func toPoolDTO(p ledger.StockPool) PoolDTO {
	return PoolDTO{
		Item:      p.Item,
		Opening:   p.Opening,
		Issued:    p.Issued,
		Balance:   p.Balance(),
		CreatedAt: formatTime(p.CreatedAt),
		UpdatedAt: formatTime(p.UpdatedAt),
	}
}

func toAllocationDTO(r ledger.AllocationRecord) AllocationDTO {
	recipients := make([]RecipientDTO, len(r.Recipients))
	for i, e := range r.Recipients {
		samples := e.UsedSamples
		if samples == nil {
			samples = []ledger.UsageEntry{}
		}
		recipients[i] = RecipientDTO{
			ActorCode:   e.ActorCode,
			Name:        e.Name,
			Qty:         e.Qty,
			UsedQty:     e.UsedQty,
			Remaining:   e.Remaining(),
			UsedSamples: samples,
		}
	}
	return AllocationDTO{
		ID:             r.ID,
		AllocationID:   r.AllocationID,
		Path:           r.Path,
		Level:          r.Level,
		Item:           r.Item,
		Purpose:        r.Purpose,
		PurposeNote:    r.PurposeNote,
		VendorEligible: r.VendorEligible,
		AssignedBy:     r.AssignedBy,
		AssignedByRole: r.AssignedByRole,
		Total:          r.Total(),
		Recipients:     recipients,
		Dispatch: DispatchDTO{
			State:                 r.State(),
			ToVendor:              r.Dispatch.ToVendor,
			DispatchedAt:          formatTimePtr(r.Dispatch.DispatchedAt),
			DispatchedBy:          r.Dispatch.DispatchedBy,
			LRNumber:              r.Dispatch.LRNumber,
			LRUpdatedAt:           formatTimePtr(r.Dispatch.LRUpdatedAt),
			PODUpdatedForEmployee: r.Dispatch.PODUpdatedForEmployee,
			PODUpdatedAt:          formatTimePtr(r.Dispatch.PODUpdatedAt),
		},
		CreatedAt: formatTime(r.CreatedAt),
		UpdatedAt: formatTime(r.UpdatedAt),
	}
}

func toAllocationDTOs(recs []ledger.AllocationRecord) []AllocationDTO {
	out := make([]AllocationDTO, len(recs))
	for i, r := range recs {
		out[i] = toAllocationDTO(r)
	}
	return out
}

func toClaimDTO(c approval.RevenueClaim) ClaimDTO {
	subs := make([]SubmissionDTO, len(c.Submissions))
	for i, s := range c.Submissions {
		subs[i] = SubmissionDTO{Role: s.Role, By: s.By, At: formatTime(s.At)}
	}
	return ClaimDTO{
		ID:                c.ID,
		EmpCode:           c.EmpCode,
		ManagerCode:       c.ManagerCode,
		PONumber:          c.PONumber,
		CustomerRef:       c.CustomerRef,
		OrderValue:        c.OrderValue,
		State:             c.State,
		IsManual:          c.IsManual,
		EnteredBy:         c.EnteredBy,
		ApprovedBy:        c.ApprovedBy,
		ApprovedAt:        formatTimePtr(c.ApprovedAt),
		IsSubmittedToNext: c.IsSubmittedToNext(),
		SubmittedBy:       c.SubmittedBy,
		SubmittedAt:       formatTimePtr(c.SubmittedAt),
		Submissions:       subs,
		RejectedBy:        c.RejectedBy,
		RejectedAt:        formatTimePtr(c.RejectedAt),
		RejectionReason:   c.RejectionReason,
		Document:          c.Document,
		CreatedAt:         formatTime(c.CreatedAt),
		UpdatedAt:         formatTime(c.UpdatedAt),
	}
}

func toClaimDTOs(claims []approval.RevenueClaim) []ClaimDTO {
	out := make([]ClaimDTO, len(claims))
	for i, c := range claims {
		out[i] = toClaimDTO(c)
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
