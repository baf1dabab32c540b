/*
handlers.go - HTTP API handlers for the allocation engine

PURPOSE:
  Exposes the allocation ledger and the revenue approval pipeline via a
  REST API. Handles HTTP request/response and JSON serialization and
  delegates to the domain services.

ENDPOINTS:
  Pools (admin):
    GET    /api/pools                         List stock pools
    POST   /api/pools                         Configure a pool
    POST   /api/pools/adjust                  Change a pool's opening quantity

  Allocations:
    GET    /api/allocations                   List (assigned_by, recipient, hierarchy_id, ...)
    POST   /api/allocations                   Allocate stock to reportees
    GET    /api/allocations/{id}              Single record
    POST   /api/allocations/{id}/usage        Recipient records usage
    POST   /api/allocations/{id}/dispatch     Hand record to vendor
    PUT    /api/allocations/{id}/lr           Write LR number
    POST   /api/allocations/pod/{hierarchyID} Cascade proof of delivery

  Stock:
    GET    /api/stock                         Caller's derived stock per item (?item=&year=&lot= for one)
    GET    /api/actors/{code}/stock           Stock of a reportee
    GET    /api/vendor/queue                  Records handed to the vendor

  Claims:
    GET    /api/claims                        Claims visible to the caller
    POST   /api/claims                        Employee records a won order
    POST   /api/claims/manual                 Manager/BM manual entry
    POST   /api/claims/approve                Approve by (po_number, emp_code)
    POST   /api/claims/submit                 Bulk submit to the next level
    GET    /api/claims/summary                Totals per state
    GET    /api/claims/{id}                   Single claim
    POST   /api/claims/{id}/approve           Approve by id
    POST   /api/claims/{id}/reject            Reject (terminal)
    POST   /api/claims/{id}/document          Upload PO document (multipart "file")
    GET    /api/claims/{id}/document          Download PO document

ERROR HANDLING:
  Domain errors are mapped in errors.go. Every error body is
  {"error", "code", "details"}.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/allocation-engine/approval"
	"github.com/warp/allocation-engine/core"
	"github.com/warp/allocation-engine/documents"
	"github.com/warp/allocation-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is what the HTTP layer reads besides the domain services: the
// actor directory plus housekeeping for demos and health checks.
type Store interface {
	core.Directory
	SaveActor(ctx context.Context, a core.Actor) error
	ListActors(ctx context.Context) ([]core.Actor, error)
	Reset(ctx context.Context) error
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    Store
	Ledger   *ledger.Ledger
	Pipeline *approval.Pipeline
	logger   *zap.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler. The ledger and pipeline must read
// actors from the same store.
func NewHandler(store Store, l *ledger.Ledger, p *approval.Pipeline, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Store: store, Ledger: l, Pipeline: p, logger: logger}
}

// =============================================================================
// HEALTH & DIRECTORY
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "store unreachable", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) ListActors(w http.ResponseWriter, r *http.Request) {
	actors, err := h.Store.ListActors(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]ActorDTO, len(actors))
	for i, a := range actors {
		dtos[i] = toActorDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Me returns the resolved caller.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toActorDTO(actorFrom(r.Context())))
}

// =============================================================================
// STOCK
// =============================================================================

// GetStock returns the caller's position for every item they touch.
func (h *Handler) GetStock(w http.ResponseWriter, r *http.Request) {
	h.writePositions(w, r, actorFrom(r.Context()))
}

// GetActorStock returns another actor's positions. Admins see everyone;
// others only actors reporting to them.
func (h *Handler) GetActorStock(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	target, err := h.Store.Resolve(r.Context(), core.ActorCode(chi.URLParam(r, "code")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if actor.Role != core.RoleAdmin && actor.Code != target.Code && !target.ReportsTo(actor.Code) {
		h.fail(w, r, core.Forbidden("%s does not report to %s", target.Code, actor.Code))
		return
	}
	h.writePositions(w, r, target)
}

// writePositions answers with one row per item the actor touches, or with
// the single requested item (a zero row when the actor never held it).
func (h *Handler) writePositions(w http.ResponseWriter, r *http.Request, actor core.Actor) {
	item, err := itemFromQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var positions []ledger.StockPosition
	if item != nil {
		pos, err := h.Ledger.Stock().Position(r.Context(), actor, *item)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		positions = []ledger.StockPosition{pos}
	} else {
		positions, err = h.Ledger.Stock().Positions(r.Context(), actor)
		if err != nil {
			h.fail(w, r, err)
			return
		}
	}
	dtos := make([]StockPositionDTO, len(positions))
	for i, p := range positions {
		dtos[i] = toStockPositionDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// VendorQueue lists dispatched records for the vendor.
func (h *Handler) VendorQueue(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if actor.Role != core.RoleVendor && actor.Role != core.RoleAdmin {
		h.fail(w, r, core.Forbidden("%s has no vendor queue", actor.Role))
		return
	}
	recs, err := h.Ledger.VendorQueue(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTOs(recs))
}

// =============================================================================
// STOCK POOLS
// =============================================================================

func (h *Handler) ListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := h.Ledger.Pools(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]PoolDTO, len(pools))
	for i, p := range pools {
		dtos[i] = toPoolDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req PoolRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	pool, err := h.Ledger.ConfigurePool(r.Context(), actorFrom(r.Context()).Code, req.Item, req.Opening)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPoolDTO(pool))
}

func (h *Handler) AdjustPool(w http.ResponseWriter, r *http.Request) {
	var req PoolRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	pool, err := h.Ledger.AdjustPoolOpening(r.Context(), actorFrom(r.Context()).Code, req.Item, req.Opening)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPoolDTO(pool))
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

// CreateAllocation allocates from the caller to the listed recipients.
// Returns the created record(s): one, or one per recipient when split.
func (h *Handler) CreateAllocation(w http.ResponseWriter, r *http.Request) {
	var req CreateAllocationRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	recs, err := h.Ledger.Create(r.Context(), ledger.CreateInput{
		AssignerCode: actorFrom(r.Context()).Code,
		Item:         req.Item,
		Recipients:   req.Recipients,
		Purpose:      req.Purpose,
		ParentPath:   req.ParentPath,
		Split:        req.Split,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAllocationDTOs(recs))
}

// ListAllocations filters records by query parameters:
//
//	assigned_by, recipient, involving, level, hierarchy_id,
//	item, year, lot, to_vendor
//
// Non-admins only see records they take part in, or the subtree of an
// allocation they created.
func (h *Handler) ListAllocations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := actorFrom(ctx)

	f, err := recordFilterFromQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	switch {
	case actor.Role == core.RoleAdmin:
	case actor.Role == core.RoleVendor:
		dispatched := true
		f.ToVendor = &dispatched
	case f.HierarchyID != "":
		owned, err := h.ownedAllocations(ctx, actor.Code)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if !owned[f.HierarchyID] {
			h.fail(w, r, core.Forbidden("%s did not create allocation %s", actor.Code, f.HierarchyID))
			return
		}
	default:
		if f.Involving != "" && f.Involving != actor.Code {
			h.fail(w, r, core.Forbidden("%s may only list own allocations", actor.Code))
			return
		}
		f.Involving = actor.Code
	}

	recs, err := h.Ledger.Records(ctx, f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTOs(recs))
}

func (h *Handler) GetAllocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	rec, err := h.Ledger.Record(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok, err := h.canSeeRecord(ctx, actorFrom(ctx), rec)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		h.fail(w, r, core.NotFound("allocation record", id))
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTO(rec))
}

// RecordUsage records consumption by the caller against their share.
func (h *Handler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	var req UsageRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Ledger.RecordUsage(r.Context(), ledger.UsageInput{
		RecordID:      chi.URLParam(r, "id"),
		RecipientCode: actorFrom(r.Context()).Code,
		Ref:           req.Ref,
		Qty:           req.Qty,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, UsageResponse{
		Allocation: toAllocationDTO(res.Record),
		Entry:      res.Entry,
		Remaining:  res.Remaining,
	})
}

func (h *Handler) DispatchAllocation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Ledger.Dispatch(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()).Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTO(rec))
}

func (h *Handler) UpdateLR(w http.ResponseWriter, r *http.Request) {
	var req UpdateLRRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	rec, err := h.Ledger.UpdateLR(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()).Code, req.LRNumber)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTO(rec))
}

// MarkPOD cascades proof-of-delivery visibility. Vendors confirm delivery;
// admins may do it on their behalf.
func (h *Handler) MarkPOD(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if actor.Role != core.RoleVendor && actor.Role != core.RoleAdmin {
		h.fail(w, r, core.Forbidden("%s may not confirm delivery", actor.Role))
		return
	}
	id := chi.URLParam(r, "hierarchyID")
	n, err := h.Ledger.MarkPODVisible(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PODResponse{HierarchyID: id, Records: n})
}

// ownedAllocations returns the allocation ids the actor created.
func (h *Handler) ownedAllocations(ctx context.Context, code core.ActorCode) (map[string]bool, error) {
	recs, err := h.Ledger.Records(ctx, ledger.RecordFilter{AssignedBy: code})
	if err != nil {
		return nil, err
	}
	owned := make(map[string]bool, len(recs))
	for _, rec := range recs {
		owned[rec.AllocationID] = true
	}
	return owned, nil
}

func (h *Handler) canSeeRecord(ctx context.Context, actor core.Actor, rec ledger.AllocationRecord) (bool, error) {
	switch {
	case actor.Role == core.RoleAdmin, rec.Involves(actor.Code):
		return true, nil
	case actor.Role == core.RoleVendor:
		return rec.Dispatch.ToVendor, nil
	}
	owned, err := h.ownedAllocations(ctx, actor.Code)
	if err != nil {
		return false, err
	}
	for _, seg := range rec.Path {
		if owned[seg.ID] {
			return true, nil
		}
	}
	return false, nil
}

func recordFilterFromQuery(r *http.Request) (ledger.RecordFilter, error) {
	q := r.URL.Query()
	f := ledger.RecordFilter{
		AssignedBy:  core.ActorCode(q.Get("assigned_by")),
		Recipient:   core.ActorCode(q.Get("recipient")),
		Involving:   core.ActorCode(q.Get("involving")),
		Level:       core.Level(q.Get("level")),
		HierarchyID: q.Get("hierarchy_id"),
	}
	if f.Level != "" && !f.Level.Valid() {
		return f, core.NewValidationError("level", "unknown level "+string(f.Level))
	}
	if f.HierarchyID != "" {
		f.HierarchyLevels = core.PODCascadeLevels
	}

	item, err := itemFromQuery(r)
	if err != nil {
		return f, err
	}
	f.Item = item

	if v := q.Get("to_vendor"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, core.NewValidationError("to_vendor", "must be true or false")
		}
		f.ToVendor = &b
	}
	return f, nil
}

// itemFromQuery reads ?item=&year=&lot=. It returns nil when no item is named.
func itemFromQuery(r *http.Request) (*ledger.ItemKey, error) {
	q := r.URL.Query()
	name := q.Get("item")
	if name == "" {
		return nil, nil
	}
	year, err := strconv.Atoi(q.Get("year"))
	if err != nil {
		return nil, core.NewValidationError("year", "is required with item")
	}
	return &ledger.ItemKey{Name: name, Year: year, Lot: q.Get("lot")}, nil
}

// =============================================================================
// REVENUE CLAIMS
// =============================================================================

// ListClaims returns the claims visible to the caller. ?state= narrows the
// list to one state.
func (h *Handler) ListClaims(w http.ResponseWriter, r *http.Request) {
	claims, err := h.Pipeline.Visible(r.Context(), actorFrom(r.Context()).Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if state := approval.ClaimState(r.URL.Query().Get("state")); state != "" {
		filtered := claims[:0]
		for _, c := range claims {
			if c.State == state {
				filtered = append(filtered, c)
			}
		}
		claims = filtered
	}
	writeJSON(w, http.StatusOK, toClaimDTOs(claims))
}

func (h *Handler) GetClaim(w http.ResponseWriter, r *http.Request) {
	c, err := h.Pipeline.ClaimFor(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()).Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimDTO(c))
}

// RecordClaim is the employee recording a won order for themselves.
func (h *Handler) RecordClaim(w http.ResponseWriter, r *http.Request) {
	var req RecordClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.Pipeline.Record(r.Context(), approval.RecordInput{
		EmpCode:     actorFrom(r.Context()).Code,
		PONumber:    req.PONumber,
		CustomerRef: req.CustomerRef,
		OrderValue:  req.OrderValue,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toClaimDTO(c))
}

func (h *Handler) EnterManualClaim(w http.ResponseWriter, r *http.Request) {
	var req ManualClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.Pipeline.EnterManual(r.Context(), approval.ManualInput{
		EnteredBy:   actorFrom(r.Context()).Code,
		EmpCode:     req.EmpCode,
		PONumber:    req.PONumber,
		CustomerRef: req.CustomerRef,
		OrderValue:  req.OrderValue,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toClaimDTO(c))
}

// ApproveClaim upserts on (po_number, emp_code). Approving twice is safe.
func (h *Handler) ApproveClaim(w http.ResponseWriter, r *http.Request) {
	var req ApproveClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.Pipeline.Approve(r.Context(), approval.ApproveInput{
		ApproverCode: actorFrom(r.Context()).Code,
		PONumber:     req.PONumber,
		EmpCode:      req.EmpCode,
		CustomerRef:  req.CustomerRef,
		OrderValue:   req.OrderValue,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimDTO(c))
}

func (h *Handler) ApproveClaimByID(w http.ResponseWriter, r *http.Request) {
	c, err := h.Pipeline.ApproveByID(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()).Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimDTO(c))
}

func (h *Handler) SubmitClaims(w http.ResponseWriter, r *http.Request) {
	var req SubmitClaimsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Pipeline.Submit(r.Context(), actorFrom(r.Context()).Code, req.ClaimIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	skipped := res.Skipped
	if skipped == nil {
		skipped = []approval.SkippedClaim{}
	}
	writeJSON(w, http.StatusOK, SubmitClaimsResponse{
		Count:            res.Count,
		AlreadySubmitted: res.AlreadySubmitted,
		Skipped:          skipped,
	})
}

func (h *Handler) RejectClaim(w http.ResponseWriter, r *http.Request) {
	var req RejectClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.Pipeline.Reject(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()).Code, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimDTO(c))
}

func (h *Handler) ClaimSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.Pipeline.Summary(r.Context(), actorFrom(r.Context()).Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// UploadDocument attaches a purchase-order document sent as the multipart
// field "file".
func (h *Handler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, documents.MaxDocumentSize+1<<20)
	if err := r.ParseMultipartForm(documents.MaxDocumentSize); err != nil {
		h.fail(w, r, core.NewValidationError("file", "invalid multipart upload: "+err.Error()))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.fail(w, r, core.NewValidationError("file", "is required"))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c, err := h.Pipeline.AttachDocument(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()).Code,
		header.Filename, contentType, file)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toClaimDTO(c))
}

func (h *Handler) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	ref, body, err := h.Pipeline.OpenDocument(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()).Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", ref.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(ref.Name))
	if ref.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(ref.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("document download interrupted", zap.String("key", ref.Key), zap.Error(err))
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return core.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	return nil
}
