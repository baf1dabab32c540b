/*
handlers_test.go - HTTP tests against the full router

Tests for:
- Actor resolution and error mapping
- Allocation chain over HTTP (pool, allocate, dispatch, usage, LR, POD)
- Revenue claims (record, approve twice, submit up, visibility, reject)
- PO document upload/download
- Demo scenarios
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/allocation-engine/approval"
	"github.com/warp/allocation-engine/core"
	"github.com/warp/allocation-engine/documents"
	"github.com/warp/allocation-engine/ledger"
	"github.com/warp/allocation-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	t      *testing.T
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	l := ledger.NewLedger(store, store)
	p := approval.NewPipeline(store, store, approval.WithDocuments(documents.NewMemory()))
	h := NewHandler(store, l, p, zap.NewNop())
	require.NoError(t, h.seedActors(context.Background()))

	return &testServer{t: t, router: NewRouter(h, nil)}
}

func (s *testServer) do(method, path string, actor core.ActorCode, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(s.t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(ActorHeader, string(actor))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details struct {
		Fields     []core.FieldError     `json:"fields"`
		Recipients []core.RecipientError `json:"recipients"`
		Available  *int64                `json:"available"`
		Remaining  *int64                `json:"remaining"`
	} `json:"details"`
}

func requireError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) errorBody {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	body := decode[errorBody](t, rec)
	assert.Equal(t, code, body.Code)
	return body
}

var pdb = ledger.ItemKey{Name: "Blenze Pro PDB", Year: 2025, Lot: "L1"}

func (s *testServer) allocate(from core.ActorCode, parent core.HierarchyPath, purpose string, to core.ActorCode, qty core.Quantity) AllocationDTO {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/allocations", from, CreateAllocationRequest{
		Item:       pdb,
		Recipients: []ledger.RecipientInput{{ActorCode: to, Qty: qty}},
		Purpose:    purpose,
		ParentPath: parent,
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	recs := decode[[]AllocationDTO](s.t, rec)
	require.Len(s.t, recs, 1)
	return recs[0]
}

// =============================================================================
// HEALTH & IDENTITY
// =============================================================================

func TestHealthAndActors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/actors", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ActorDTO](t, rec), len(demoActors()))
}

func TestRequireActor(t *testing.T) {
	s := newTestServer(t)

	requireError(t, s.do(http.MethodGet, "/api/me", "", nil), http.StatusUnauthorized, "unauthenticated")
	requireError(t, s.do(http.MethodGet, "/api/me", "NOBODY", nil), http.StatusUnauthorized, "unauthenticated")

	rec := s.do(http.MethodGet, "/api/me", "BM1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[ActorDTO](t, rec)
	assert.Equal(t, core.RoleBranchManager, me.Role)
	assert.Equal(t, []core.ActorCode{"RM1", "ADM"}, me.ParentCodes)
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

func TestAllocationChain_OverHTTP(t *testing.T) {
	// GIVEN: A pool of 500 Blenze Pro PDB
	// WHEN: ADM → RM1 200, RM1 → BM1 80, BM1 → E1 50 (project), dispatched and used
	// THEN: Stock, dispatch, usage bounds and the POD cascade behave end to end

	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/pools", "ADM", PoolRequest{Item: pdb, Opening: 500})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, core.Quantity(500), decode[PoolDTO](t, rec).Balance)
	requireError(t, s.do(http.MethodPost, "/api/pools", "ADM", PoolRequest{Item: pdb, Opening: 500}),
		http.StatusConflict, "already_exists")

	root := s.allocate("ADM", nil, "Project", "RM1", 200)
	assert.Equal(t, core.LevelRoot, root.Level)

	pools := decode[[]PoolDTO](t, s.do(http.MethodGet, "/api/pools", "ADM", nil))
	require.Len(t, pools, 1)
	assert.Equal(t, core.Quantity(300), pools[0].Balance)

	rm := s.allocate("RM1", root.Path, "Project", "BM1", 80)

	stock := decode[[]StockPositionDTO](t, s.do(http.MethodGet, "/api/stock", "RM1", nil))
	require.Len(t, stock, 1)
	assert.Equal(t, core.Quantity(200), stock[0].Received)
	assert.Equal(t, core.Quantity(80), stock[0].AssignedOut)
	assert.Equal(t, core.Quantity(120), stock[0].Available)

	bm := s.allocate("BM1", rm.Path, "Project - Site 4", "E1", 50)
	assert.Equal(t, ledger.StateEligibleForVendor, bm.Dispatch.State)

	rec = s.do(http.MethodPost, "/api/allocations/"+bm.ID+"/dispatch", "BM1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dispatched := decode[AllocationDTO](t, rec)
	assert.True(t, dispatched.Dispatch.ToVendor)
	assert.Equal(t, ledger.StateDispatched, dispatched.Dispatch.State)

	rec = s.do(http.MethodPost, "/api/allocations/"+bm.ID+"/usage", "E1", UsageRequest{Ref: "CUST-001", Qty: 20})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, core.Quantity(30), decode[UsageResponse](t, rec).Remaining)

	over := requireError(t, s.do(http.MethodPost, "/api/allocations/"+bm.ID+"/usage", "E1", UsageRequest{Ref: "CUST-002", Qty: 40}),
		http.StatusUnprocessableEntity, "usage_exceeds_available")
	require.NotNil(t, over.Details.Remaining)
	assert.Equal(t, int64(30), *over.Details.Remaining)

	queue := decode[[]AllocationDTO](t, s.do(http.MethodGet, "/api/vendor/queue", "V1", nil))
	require.Len(t, queue, 1)
	assert.Equal(t, bm.ID, queue[0].ID)
	requireError(t, s.do(http.MethodGet, "/api/vendor/queue", "E1", nil), http.StatusForbidden, "forbidden")

	rec = s.do(http.MethodPut, "/api/allocations/"+bm.ID+"/lr", "V1", UpdateLRRequest{LRNumber: "LR-PUN-0417"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "LR-PUN-0417", decode[AllocationDTO](t, rec).Dispatch.LRNumber)

	requireError(t, s.do(http.MethodPost, "/api/allocations/pod/"+root.AllocationID, "E1", nil), http.StatusForbidden, "forbidden")
	rec = s.do(http.MethodPost, "/api/allocations/pod/"+root.AllocationID, "V1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 3, decode[PODResponse](t, rec).Records)

	rec = s.do(http.MethodGet, "/api/allocations/"+bm.ID, "E1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[AllocationDTO](t, rec).Dispatch.PODUpdatedForEmployee)
}

func TestStock_SingleItemQuery(t *testing.T) {
	// GIVEN: RM1 received 200 and passed 80 to BM1
	// WHEN: Stock is asked for one item by name, year and lot
	// THEN: Exactly one row comes back, zero-filled when the actor never held it

	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/pools", "ADM", PoolRequest{Item: pdb, Opening: 500}).Code)
	root := s.allocate("ADM", nil, "Project", "RM1", 200)
	s.allocate("RM1", root.Path, "Project", "BM1", 80)

	query := func(item ledger.ItemKey) string {
		return "?" + url.Values{
			"item": {item.Name},
			"year": {strconv.Itoa(item.Year)},
			"lot":  {item.Lot},
		}.Encode()
	}

	rm := decode[[]StockPositionDTO](t, s.do(http.MethodGet, "/api/stock"+query(pdb), "RM1", nil))
	require.Len(t, rm, 1)
	assert.Equal(t, pdb, rm[0].Item)
	assert.Equal(t, core.Quantity(120), rm[0].Available)

	bm := decode[[]StockPositionDTO](t, s.do(http.MethodGet, "/api/actors/BM1/stock"+query(pdb), "RM1", nil))
	require.Len(t, bm, 1)
	assert.Equal(t, core.Quantity(80), bm[0].Available)

	assert.Empty(t, decode[[]StockPositionDTO](t, s.do(http.MethodGet, "/api/stock", "E1", nil)))
	untouched := decode[[]StockPositionDTO](t, s.do(http.MethodGet, "/api/stock"+query(pdb), "E1", nil))
	require.Len(t, untouched, 1)
	assert.Equal(t, StockPositionDTO{Actor: "E1", Item: pdb}, untouched[0])

	hampers := ledger.ItemKey{Name: "Festive Gift Hamper", Year: 2025}
	other := decode[[]StockPositionDTO](t, s.do(http.MethodGet, "/api/stock"+query(hampers), "RM1", nil))
	require.Len(t, other, 1)
	assert.Equal(t, core.Quantity(0), other[0].Received)
	assert.Equal(t, core.Quantity(0), other[0].Available)

	requireError(t, s.do(http.MethodGet, "/api/stock?item=Blenze", "RM1", nil), http.StatusBadRequest, "validation_failed")
}

func TestAllocationVisibility(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/pools", "ADM", PoolRequest{Item: pdb, Opening: 100}).Code)
	root := s.allocate("ADM", nil, "Project", "RM1", 100)
	rm := s.allocate("RM1", root.Path, "Project", "BM1", 60)
	bm := s.allocate("BM1", rm.Path, "Gift", "E1", 10)

	// Outsiders get 404, ancestors on the path see the record.
	requireError(t, s.do(http.MethodGet, "/api/allocations/"+bm.ID, "E2", nil), http.StatusNotFound, "not_found")
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/allocations/"+bm.ID, "RM1", nil).Code)

	subtree := decode[[]AllocationDTO](t, s.do(http.MethodGet, "/api/allocations?hierarchy_id="+rm.AllocationID, "RM1", nil))
	assert.Len(t, subtree, 2)
	requireError(t, s.do(http.MethodGet, "/api/allocations?hierarchy_id="+root.AllocationID, "BM1", nil),
		http.StatusForbidden, "forbidden")

	mine := decode[[]AllocationDTO](t, s.do(http.MethodGet, "/api/allocations", "E1", nil))
	require.Len(t, mine, 1)
	assert.Equal(t, bm.ID, mine[0].ID)

	received := decode[[]AllocationDTO](t, s.do(http.MethodGet, "/api/allocations?recipient=BM1", "ADM", nil))
	require.Len(t, received, 1)
	assert.Equal(t, rm.ID, received[0].ID)

	requireError(t, s.do(http.MethodGet, "/api/allocations?level=galaxy", "ADM", nil), http.StatusBadRequest, "validation_failed")

	// Gift is not vendor eligible.
	requireError(t, s.do(http.MethodPost, "/api/allocations/"+bm.ID+"/dispatch", "BM1", nil),
		http.StatusUnprocessableEntity, "not_eligible_for_vendor")

	// Reportee stock is readable by superiors only.
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/actors/E1/stock", "BM1", nil).Code)
	requireError(t, s.do(http.MethodGet, "/api/actors/E1/stock", "BM2", nil), http.StatusForbidden, "forbidden")
}

func TestCreateAllocation_ErrorMapping(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/pools", "ADM", PoolRequest{Item: pdb, Opening: 100}).Code)

	tests := []struct {
		name   string
		actor  core.ActorCode
		req    CreateAllocationRequest
		status int
		code   string
	}{
		{
			name:   "pool exhausted",
			actor:  "ADM",
			req:    CreateAllocationRequest{Item: pdb, Purpose: "Project", Recipients: []ledger.RecipientInput{{ActorCode: "RM1", Qty: 150}}},
			status: http.StatusConflict,
			code:   "stock_pool_exhausted",
		},
		{
			name:   "employee cannot allocate",
			actor:  "E1",
			req:    CreateAllocationRequest{Item: pdb, Purpose: "Project", Recipients: []ledger.RecipientInput{{ActorCode: "E2", Qty: 1}}},
			status: http.StatusForbidden,
			code:   "forbidden",
		},
		{
			name:   "missing purpose",
			actor:  "ADM",
			req:    CreateAllocationRequest{Item: pdb, Recipients: []ledger.RecipientInput{{ActorCode: "RM1", Qty: 1}}},
			status: http.StatusBadRequest,
			code:   "validation_failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireError(t, s.do(http.MethodPost, "/api/allocations", tt.actor, tt.req), tt.status, tt.code)
		})
	}
}

func TestCreateAllocation_ReportsEveryBadRecipient(t *testing.T) {
	// GIVEN: RM1 allocating to a branch manager of another region and an unknown code
	// WHEN: The allocation is posted
	// THEN: 400 with both recipients listed in details

	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/pools", "ADM", PoolRequest{Item: pdb, Opening: 100}).Code)
	root := s.allocate("ADM", nil, "Project", "RM1", 100)

	body := requireError(t, s.do(http.MethodPost, "/api/allocations", "RM1", CreateAllocationRequest{
		Item:       pdb,
		Purpose:    "Project",
		ParentPath: root.Path,
		Recipients: []ledger.RecipientInput{{ActorCode: "BM2", Qty: 5}, {ActorCode: "X9", Qty: 5}},
	}), http.StatusBadRequest, "validation_failed")

	require.Len(t, body.Details.Recipients, 2)
	assert.Equal(t, core.ActorCode("BM2"), body.Details.Recipients[0].ActorCode)
	assert.Equal(t, core.ActorCode("X9"), body.Details.Recipients[1].ActorCode)
}

func TestCreateAllocation_InsufficientStock(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/pools", "ADM", PoolRequest{Item: pdb, Opening: 100}).Code)
	root := s.allocate("ADM", nil, "Project", "RM1", 100)

	body := requireError(t, s.do(http.MethodPost, "/api/allocations", "RM1", CreateAllocationRequest{
		Item:       pdb,
		Purpose:    "Project",
		ParentPath: root.Path,
		Recipients: []ledger.RecipientInput{{ActorCode: "BM1", Qty: 120}},
	}), http.StatusConflict, "insufficient_stock")
	require.NotNil(t, body.Details.Available)
	assert.Equal(t, int64(100), *body.Details.Available)
}

func TestPools_AdminOnly(t *testing.T) {
	s := newTestServer(t)
	requireError(t, s.do(http.MethodPost, "/api/pools", "RM1", PoolRequest{Item: pdb, Opening: 10}), http.StatusForbidden, "forbidden")

	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/pools", "ADM", PoolRequest{Item: pdb, Opening: 10}).Code)
	s.allocate("ADM", nil, "Gift", "RM1", 8)

	requireError(t, s.do(http.MethodPost, "/api/pools/adjust", "ADM", PoolRequest{Item: pdb, Opening: 5}),
		http.StatusBadRequest, "validation_failed")
	rec := s.do(http.MethodPost, "/api/pools/adjust", "ADM", PoolRequest{Item: pdb, Opening: 50})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, core.Quantity(42), decode[PoolDTO](t, rec).Balance)
}

func TestDecodeJSON_RejectsUnknownFields(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/pools", "ADM", map[string]any{"item": pdb, "opening": 1, "assigner_code": "RM1"})
	requireError(t, rec, http.StatusBadRequest, "validation_failed")
}

// =============================================================================
// REVENUE CLAIMS
// =============================================================================

func TestClaims_ApproveTwiceThenSubmitUp(t *testing.T) {
	// GIVEN: E5 recorded PO-77
	// WHEN: MGR1 approves it twice, then MGR1 and BM1 submit
	// THEN: One claim, first approval kept, visible to RM1 and ADM only at the end

	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/claims", "E5", RecordClaimRequest{
		PONumber: " po-77 ", CustomerRef: "CUST-9", OrderValue: decimal.RequireFromString("125000.50"),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	recorded := decode[ClaimDTO](t, rec)
	assert.Equal(t, "PO-77", recorded.PONumber)
	assert.Equal(t, approval.StateCreated, recorded.State)

	first := decode[ClaimDTO](t, s.do(http.MethodPost, "/api/claims/approve", "MGR1", ApproveClaimRequest{PONumber: "PO-77", EmpCode: "E5"}))
	second := decode[ClaimDTO](t, s.do(http.MethodPost, "/api/claims/approve", "MGR1", ApproveClaimRequest{PONumber: "PO-77", EmpCode: "E5"}))
	assert.Equal(t, recorded.ID, first.ID)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, approval.StateApproved, second.State)
	require.NotNil(t, second.ApprovedAt)
	assert.Equal(t, *first.ApprovedAt, *second.ApprovedAt)
	assert.Len(t, decode[[]ClaimDTO](t, s.do(http.MethodGet, "/api/claims", "MGR1", nil)), 1)

	res := decode[SubmitClaimsResponse](t, s.do(http.MethodPost, "/api/claims/submit", "MGR1", SubmitClaimsRequest{ClaimIDs: []string{first.ID}}))
	assert.Equal(t, 1, res.Count)
	res = decode[SubmitClaimsResponse](t, s.do(http.MethodPost, "/api/claims/submit", "MGR1", SubmitClaimsRequest{ClaimIDs: []string{first.ID}}))
	assert.Equal(t, 0, res.Count)
	assert.Equal(t, 1, res.AlreadySubmitted)

	assert.Empty(t, decode[[]ClaimDTO](t, s.do(http.MethodGet, "/api/claims", "RM1", nil)))
	assert.Len(t, decode[[]ClaimDTO](t, s.do(http.MethodGet, "/api/claims", "BM1", nil)), 1)

	res = decode[SubmitClaimsResponse](t, s.do(http.MethodPost, "/api/claims/submit", "BM1", SubmitClaimsRequest{ClaimIDs: []string{first.ID, "REV-missing"}}))
	assert.Equal(t, 1, res.Count)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "REV-missing", res.Skipped[0].ClaimID)

	atRM := decode[[]ClaimDTO](t, s.do(http.MethodGet, "/api/claims", "RM1", nil))
	require.Len(t, atRM, 1)
	assert.Equal(t, approval.StateSubmittedByBranch, atRM[0].State)
	assert.Len(t, atRM[0].Submissions, 2)
	assert.Len(t, decode[[]ClaimDTO](t, s.do(http.MethodGet, "/api/claims", "ADM", nil)), 1)

	summary := decode[approval.Summary](t, s.do(http.MethodGet, "/api/claims/summary", "ADM", nil))
	assert.Equal(t, 1, summary.Total.Count)
	assert.True(t, decimal.RequireFromString("125000.5").Equal(summary.Total.Value))

	requireError(t, s.do(http.MethodGet, "/api/claims", "V1", nil), http.StatusForbidden, "forbidden")
	requireError(t, s.do(http.MethodPost, "/api/claims/approve", "BM1", ApproveClaimRequest{PONumber: "PO-78", EmpCode: "E5"}),
		http.StatusForbidden, "forbidden")
}

func TestClaims_RejectIsTerminal(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/claims", "E6", RecordClaimRequest{
		PONumber: "PO-79", CustomerRef: "CUST-2", OrderValue: decimal.NewFromInt(48250),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	claim := decode[ClaimDTO](t, rec)

	requireError(t, s.do(http.MethodPost, "/api/claims/"+claim.ID+"/reject", "MGR1", RejectClaimRequest{}),
		http.StatusBadRequest, "validation_failed")

	rec = s.do(http.MethodPost, "/api/claims/"+claim.ID+"/reject", "MGR1", RejectClaimRequest{Reason: "duplicate of PO-78"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, approval.StateRejected, decode[ClaimDTO](t, rec).State)

	requireError(t, s.do(http.MethodPost, "/api/claims/"+claim.ID+"/approve", "MGR1", nil), http.StatusConflict, "claim_rejected")
	requireError(t, s.do(http.MethodPost, "/api/claims", "E6", RecordClaimRequest{
		PONumber: "PO-79", CustomerRef: "CUST-2", OrderValue: decimal.NewFromInt(48250),
	}), http.StatusConflict, "claim_rejected")

	rec = s.do(http.MethodGet, "/api/claims/"+claim.ID, "E6", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "duplicate of PO-78", decode[ClaimDTO](t, rec).RejectionReason)
	requireError(t, s.do(http.MethodGet, "/api/claims/"+claim.ID, "E5", nil), http.StatusNotFound, "not_found")
}

func TestClaims_ManualEntry(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/claims/manual", "BM1", ManualClaimRequest{
		PONumber: "PO-85", CustomerRef: "CUST-Metro", OrderValue: decimal.NewFromInt(310000),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	c := decode[ClaimDTO](t, rec)
	assert.True(t, c.IsManual)
	assert.Equal(t, approval.StateApproved, c.State)

	requireError(t, s.do(http.MethodPost, "/api/claims/manual", "E1", ManualClaimRequest{
		PONumber: "PO-86", CustomerRef: "CUST-Metro", OrderValue: decimal.NewFromInt(1),
	}), http.StatusForbidden, "forbidden")
}

func TestClaims_DocumentUploadAndDownload(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/claims", "E5", RecordClaimRequest{
		PONumber: "PO-60", CustomerRef: "CUST-3", OrderValue: decimal.NewFromInt(1000),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	claim := decode[ClaimDTO](t, rec)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="po-60.pdf"`)
	hdr.Set("Content-Type", "application/pdf")
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4 order"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/claims/"+claim.ID+"/document", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(ActorHeader, "E5")
	up := httptest.NewRecorder()
	s.router.ServeHTTP(up, req)
	require.Equal(t, http.StatusCreated, up.Code, up.Body.String())
	attached := decode[ClaimDTO](t, up)
	require.NotNil(t, attached.Document)
	assert.Equal(t, "po-60.pdf", attached.Document.Name)

	down := s.do(http.MethodGet, "/api/claims/"+claim.ID+"/document", "MGR1", nil)
	require.Equal(t, http.StatusOK, down.Code, down.Body.String())
	assert.Equal(t, "application/pdf", down.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-1.4 order", down.Body.String())

	requireError(t, s.do(http.MethodPost, "/api/claims/"+claim.ID+"/document", "E5", nil), http.StatusBadRequest, "validation_failed")
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenarios_LoadAndReset(t *testing.T) {
	s := newTestServer(t)

	assert.Len(t, decode[[]ScenarioDTO](t, s.do(http.MethodGet, "/api/scenarios", "", nil)), len(scenarios))
	requireError(t, s.do(http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "nope"}),
		http.StatusNotFound, "not_found")

	rec := s.do(http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "full-demo"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	current := decode[map[string]string](t, s.do(http.MethodGet, "/api/scenarios/current", "", nil))
	assert.Equal(t, "full-demo", current["scenario_id"])

	stock := decode[[]StockPositionDTO](t, s.do(http.MethodGet, "/api/stock", "RM1", nil))
	require.Len(t, stock, 2)
	assert.Equal(t, "Blenze Pro PDB", stock[0].Item.Name)
	assert.Equal(t, core.Quantity(120), stock[0].Available)
	assert.Equal(t, core.Quantity(40), stock[1].Available)

	e1 := decode[[]StockPositionDTO](t, s.do(http.MethodGet, "/api/stock", "E1", nil))
	require.Len(t, e1, 1)
	assert.Equal(t, core.Quantity(30), e1[0].Available)

	assert.Len(t, decode[[]ClaimDTO](t, s.do(http.MethodGet, "/api/claims", "RM1", nil)), 1)
	assert.Len(t, decode[[]ClaimDTO](t, s.do(http.MethodGet, "/api/claims", "ADM", nil)), 2)
	assert.Len(t, decode[[]ClaimDTO](t, s.do(http.MethodGet, "/api/claims", "BM1", nil)), 3)

	rec = s.do(http.MethodPost, "/api/scenarios/reset", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	requireError(t, s.do(http.MethodGet, "/api/me", "RM1", nil), http.StatusUnauthorized, "unauthenticated")
}
