/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Populates the store with a sales organisation and runs realistic flows
  through the ledger and the approval pipeline, so the UI has something to
  show.

AVAILABLE SCENARIOS:
  blenze-walkthrough:  Pool of 500 Blenze Pro PDB, allocated admin → RM →
                       BM → employee, dispatched to the vendor, partly used
  revenue-pipeline:    Claims at every stage: recorded, approved, submitted
                       by manager and branch, manual entry, rejected
  full-demo:           Both of the above

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Save the demo organisation into the directory
 3. Drive the domain services exactly as the API would

USAGE VIA API:
	POST /api/scenarios/load
	{"scenario_id": "blenze-walkthrough"}

NOTE:
	Scenarios reset the database. Only use in development/demo environments.
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/approval"
	"github.com/warp/allocation-engine/core"
	"github.com/warp/allocation-engine/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "blenze-walkthrough",
		Name:        "Blenze Pro PDB Walkthrough",
		Description: "Admin pool of 500 allocated down the hierarchy, dispatched to the vendor and partly used",
	},
	{
		ID:          "revenue-pipeline",
		Name:        "Revenue Pipeline",
		Description: "Revenue claims at every approval stage, including a manual entry and a rejection",
	},
	{
		ID:          "full-demo",
		Name:        "Full Demo",
		Description: "Allocation walkthrough and revenue pipeline on the same organisation",
	},
}

var scenarioLoaders = map[string]func(context.Context, *Handler) error{
	"blenze-walkthrough": loadBlenzeScenario,
	"revenue-pipeline":   loadRevenueScenario,
	"full-demo": func(ctx context.Context, h *Handler) error {
		if err := loadBlenzeScenario(ctx, h); err != nil {
			return err
		}
		return loadRevenueScenario(ctx, h)
	},
}

// demoActors is a two-region organisation. ParentCodes run nearest first.
func demoActors() []core.Actor {
	chain := func(codes ...core.ActorCode) []core.ActorCode { return codes }
	return []core.Actor{
		{Code: "ADM", Name: "Head Office", Role: core.RoleAdmin},
		{Code: "RM1", Name: "Nikhil Rao", Role: core.RoleRegionalManager, Region: "West", ParentCodes: chain("ADM")},
		{Code: "RM2", Name: "Priya Menon", Role: core.RoleRegionalManager, Region: "South", ParentCodes: chain("ADM")},
		{Code: "BM1", Name: "Sameer Joshi", Role: core.RoleBranchManager, Region: "West", Branch: "Pune", ParentCodes: chain("RM1", "ADM")},
		{Code: "BM2", Name: "Lakshmi Iyer", Role: core.RoleBranchManager, Region: "South", Branch: "Chennai", ParentCodes: chain("RM2", "ADM")},
		{Code: "MGR1", Name: "Farah Khan", Role: core.RoleManager, Region: "West", Branch: "Pune", ParentCodes: chain("BM1", "RM1", "ADM")},
		{Code: "MGR2", Name: "Arun Pillai", Role: core.RoleManager, Region: "South", Branch: "Chennai", ParentCodes: chain("BM2", "RM2", "ADM")},
		{Code: "E1", Name: "Asha Patil", Role: core.RoleEmployee, Region: "West", Branch: "Pune", ParentCodes: chain("MGR1", "BM1", "RM1", "ADM")},
		{Code: "E2", Name: "Ravi Kulkarni", Role: core.RoleEmployee, Region: "West", Branch: "Pune", ParentCodes: chain("MGR1", "BM1", "RM1", "ADM")},
		{Code: "E5", Name: "Meera Desai", Role: core.RoleEmployee, Region: "West", Branch: "Pune", ParentCodes: chain("MGR1", "BM1", "RM1", "ADM")},
		{Code: "E6", Name: "Karan Shah", Role: core.RoleEmployee, Region: "West", Branch: "Pune", ParentCodes: chain("MGR1", "BM1", "RM1", "ADM")},
		{Code: "E9", Name: "Divya Raman", Role: core.RoleEmployee, Region: "South", Branch: "Chennai", ParentCodes: chain("MGR2", "BM2", "RM2", "ADM")},
		{Code: "V1", Name: "Swift Logistics", Role: core.RoleVendor},
	}
}

// =============================================================================
// HANDLERS
// =============================================================================

func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": current})
}

// LoadScenario resets the database and loads the requested scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	loader, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		h.fail(w, r, core.NotFound("scenario", req.ScenarioID))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		h.fail(w, r, err)
		return
	}
	h.currentScenario = ""
	if err := h.seedActors(ctx); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := loader(ctx, h); err != nil {
		h.fail(w, r, fmt.Errorf("load scenario %s: %w", req.ScenarioID, err))
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "scenario_id": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) seedActors(ctx context.Context) error {
	for _, a := range demoActors() {
		if err := h.Store.SaveActor(ctx, a); err != nil {
			return fmt.Errorf("save actor %s: %w", a.Code, err)
		}
	}
	return nil
}

// =============================================================================
// LOADERS
// =============================================================================

var blenzePDB = ledger.ItemKey{Name: "Blenze Pro PDB", Year: 2025, Lot: "L1"}

func loadBlenzeScenario(ctx context.Context, h *Handler) error {
	l := h.Ledger

	if _, err := l.ConfigurePool(ctx, "ADM", blenzePDB, 500); err != nil {
		return err
	}
	root, err := l.Create(ctx, ledger.CreateInput{
		AssignerCode: "ADM",
		Item:         blenzePDB,
		Recipients:   []ledger.RecipientInput{{ActorCode: "RM1", Qty: 200}},
		Purpose:      "Project",
	})
	if err != nil {
		return err
	}
	regional, err := l.Create(ctx, ledger.CreateInput{
		AssignerCode: "RM1",
		Item:         blenzePDB,
		Recipients:   []ledger.RecipientInput{{ActorCode: "BM1", Qty: 80}},
		Purpose:      "Project",
		ParentPath:   root[0].Path,
	})
	if err != nil {
		return err
	}
	branch, err := l.Create(ctx, ledger.CreateInput{
		AssignerCode: "BM1",
		Item:         blenzePDB,
		Recipients:   []ledger.RecipientInput{{ActorCode: "E1", Qty: 50}},
		Purpose:      "Project - Hinjewadi site",
		ParentPath:   regional[0].Path,
	})
	if err != nil {
		return err
	}
	if _, err := l.Dispatch(ctx, branch[0].ID, "BM1"); err != nil {
		return err
	}
	if _, err := l.UpdateLR(ctx, branch[0].ID, "V1", "LR-PUN-0417"); err != nil {
		return err
	}
	if _, err := l.RecordUsage(ctx, ledger.UsageInput{
		RecordID: branch[0].ID, RecipientCode: "E1", Ref: "CUST-001", Qty: 20,
	}); err != nil {
		return err
	}

	// A second item split per recipient, not vendor eligible.
	hampers := ledger.ItemKey{Name: "Festive Gift Hamper", Year: 2025}
	if _, err := l.ConfigurePool(ctx, "ADM", hampers, 120); err != nil {
		return err
	}
	_, err = l.Create(ctx, ledger.CreateInput{
		AssignerCode: "ADM",
		Item:         hampers,
		Recipients: []ledger.RecipientInput{
			{ActorCode: "RM1", Qty: 40},
			{ActorCode: "RM2", Qty: 40},
		},
		Purpose: "Gift",
		Split:   true,
	})
	return err
}

func loadRevenueScenario(ctx context.Context, h *Handler) error {
	p := h.Pipeline
	inr := decimal.RequireFromString

	record := func(emp core.ActorCode, po, customer, value string) (approval.RevenueClaim, error) {
		return p.Record(ctx, approval.RecordInput{
			EmpCode: emp, PONumber: po, CustomerRef: customer, OrderValue: inr(value),
		})
	}

	c77, err := record("E5", "PO-77", "CUST-Deccan-Foods", "125000.50")
	if err != nil {
		return err
	}
	c78, err := record("E6", "PO-78", "CUST-Sahyadri-Hotels", "48250")
	if err != nil {
		return err
	}
	c79, err := record("E6", "PO-79", "CUST-Sahyadri-Hotels", "48250")
	if err != nil {
		return err
	}
	if _, err := record("E2", "PO-81", "CUST-Kothrud-Bakers", "9800"); err != nil {
		return err
	}
	c90, err := record("E9", "PO-90", "CUST-Marina-Caterers", "67000")
	if err != nil {
		return err
	}

	for _, id := range []string{c77.ID, c78.ID} {
		if _, err := p.ApproveByID(ctx, id, "MGR1"); err != nil {
			return err
		}
	}
	if _, err := p.Submit(ctx, "MGR1", []string{c77.ID, c78.ID}); err != nil {
		return err
	}
	if _, err := p.Submit(ctx, "BM1", []string{c77.ID}); err != nil {
		return err
	}
	if _, err := p.Reject(ctx, c79.ID, "MGR1", "duplicate of PO-78"); err != nil {
		return err
	}
	if _, err := p.EnterManual(ctx, approval.ManualInput{
		EnteredBy: "BM1", PONumber: "PO-85", CustomerRef: "CUST-Pune-Metro", OrderValue: inr("310000"),
	}); err != nil {
		return err
	}
	_, err = p.ApproveByID(ctx, c90.ID, "MGR2")
	return err
}
