package ledger_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allocation-engine/core"
	"github.com/warp/allocation-engine/ledger"
	"github.com/warp/allocation-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var pdb = ledger.ItemKey{Name: "Blenze Pro PDB", Year: 2025, Lot: "L1"}

func testDirectory() *memory.Directory {
	return memory.NewDirectory(
		core.Actor{Code: "ADM", Name: "Admin", Role: core.RoleAdmin},
		core.Actor{Code: "ADM2", Name: "Second Admin", Role: core.RoleAdmin},
		core.Actor{Code: "RM1", Name: "North RM", Role: core.RoleRegionalManager, ParentCodes: []core.ActorCode{"ADM"}},
		core.Actor{Code: "RM2", Name: "South RM", Role: core.RoleRegionalManager, ParentCodes: []core.ActorCode{"ADM"}},
		core.Actor{Code: "BM1", Name: "Pune BM", Role: core.RoleBranchManager, ParentCodes: []core.ActorCode{"RM1", "ADM"}},
		core.Actor{Code: "BM2", Name: "Chennai BM", Role: core.RoleBranchManager, ParentCodes: []core.ActorCode{"RM2", "ADM"}},
		core.Actor{Code: "MGR1", Name: "Pune Manager", Role: core.RoleManager, ParentCodes: []core.ActorCode{"BM1", "RM1", "ADM"}},
		core.Actor{Code: "E1", Name: "Asha", Role: core.RoleEmployee, ParentCodes: []core.ActorCode{"MGR1", "BM1", "RM1", "ADM"}},
		core.Actor{Code: "E2", Name: "Ravi", Role: core.RoleEmployee, ParentCodes: []core.ActorCode{"MGR1", "BM1", "RM1", "ADM"}},
		core.Actor{Code: "V1", Name: "Courier", Role: core.RoleVendor},
	)
}

func sequentialIDs() core.IDGenerator {
	var mu sync.Mutex
	n := map[string]int{}
	return func(prefix string) string {
		mu.Lock()
		defer mu.Unlock()
		n[prefix]++
		return fmt.Sprintf("%s-%d", prefix, n[prefix])
	}
}

func newTestLedger(t *testing.T) (*ledger.Ledger, *memory.Ledger, *core.FixedClock) {
	t.Helper()
	store := memory.NewLedger()
	clock := core.NewFixedClock(time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC))
	l := ledger.NewLedger(store, testDirectory(),
		ledger.WithClock(clock),
		ledger.WithIDGenerator(sequentialIDs()),
	)
	_, err := l.ConfigurePool(context.Background(), "ADM", pdb, 500)
	require.NoError(t, err)
	return l, store, clock
}

func allocate(t *testing.T, l *ledger.Ledger, from core.ActorCode, parent core.HierarchyPath, purpose string, to core.ActorCode, qty core.Quantity) ledger.AllocationRecord {
	t.Helper()
	recs, err := l.Create(context.Background(), ledger.CreateInput{
		AssignerCode: from,
		Item:         pdb,
		Recipients:   []ledger.RecipientInput{{ActorCode: to, Qty: qty}},
		Purpose:      purpose,
		ParentPath:   parent,
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	return recs[0]
}

func available(t *testing.T, l *ledger.Ledger, code core.ActorCode) core.Quantity {
	t.Helper()
	ctx := context.Background()
	actor, err := l.Directory().Resolve(ctx, code)
	require.NoError(t, err)
	q, err := l.Stock().Available(ctx, actor, pdb)
	require.NoError(t, err)
	return q
}

// =============================================================================
// END-TO-END FLOW
// =============================================================================

func TestLedger_AllocationChain_DispatchAndUsage(t *testing.T) {
	// GIVEN: A pool of 500 boards
	// WHEN: Stock flows Admin → RM1 → BM1 → E1 and E1 consumes some
	// THEN: Every level's available stock follows the derivation formula

	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	root := allocate(t, l, "ADM", nil, "Sampling", "RM1", 200)
	pool, err := l.Pool(ctx, pdb)
	require.NoError(t, err)
	assert.Equal(t, core.Quantity(300), pool.Balance())
	assert.Equal(t, "R-1", root.Path.Root())
	assert.Equal(t, core.Quantity(300), available(t, l, "ADM"))
	assert.Equal(t, core.Quantity(200), available(t, l, "RM1"))

	rm := allocate(t, l, "RM1", root.Path, "Sampling", "BM1", 80)
	assert.Equal(t, "R-1", rm.Path.Root())
	assert.Equal(t, "RM-1", rm.Path.IDAt(core.LevelRegional))
	assert.Equal(t, core.Quantity(120), available(t, l, "RM1"))
	assert.Equal(t, core.Quantity(80), available(t, l, "BM1"))

	bm := allocate(t, l, "BM1", rm.Path, "Project", "E1", 50)
	assert.True(t, bm.VendorEligible)
	assert.Equal(t, ledger.StateEligibleForVendor, bm.State())

	dispatched, err := l.Dispatch(ctx, bm.ID, "BM1")
	require.NoError(t, err)
	assert.True(t, dispatched.Dispatch.ToVendor)
	assert.Equal(t, ledger.StateDispatched, dispatched.State())

	res, err := l.RecordUsage(ctx, ledger.UsageInput{RecordID: bm.ID, RecipientCode: "E1", Ref: "CUST-001", Qty: 20})
	require.NoError(t, err)
	assert.Equal(t, core.Quantity(30), res.Remaining)
	assert.Equal(t, core.Quantity(30), available(t, l, "E1"))

	_, err = l.RecordUsage(ctx, ledger.UsageInput{RecordID: bm.ID, RecipientCode: "E1", Ref: "CUST-002", Qty: 40})
	assert.ErrorIs(t, err, core.ErrUsageExceedsAvailable)
	var detail *core.UsageExceedsAvailableError
	require.ErrorAs(t, err, &detail)
	assert.Equal(t, core.Quantity(30), detail.Remaining)
	assert.Equal(t, core.Quantity(30), available(t, l, "E1"))
}

// =============================================================================
// STOCK RULES
// =============================================================================

func TestLedger_RootAllocation_PoolExhausted(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Create(ctx, ledger.CreateInput{
		AssignerCode: "ADM",
		Item:         pdb,
		Recipients:   []ledger.RecipientInput{{ActorCode: "RM1", Qty: 300}, {ActorCode: "RM2", Qty: 201}},
		Purpose:      "Sampling",
	})
	assert.ErrorIs(t, err, core.ErrStockPoolExhausted)

	pool, err := l.Pool(ctx, pdb)
	require.NoError(t, err)
	assert.Equal(t, core.Quantity(0), pool.Issued, "failed allocation must not debit the pool")

	recs, err := l.Records(ctx, ledger.RecordFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestLedger_RootAllocation_WithoutPool_NotFound(t *testing.T) {
	l, _, _ := newTestLedger(t)

	_, err := l.Create(context.Background(), ledger.CreateInput{
		AssignerCode: "ADM",
		Item:         ledger.ItemKey{Name: "Unknown", Year: 2025},
		Recipients:   []ledger.RecipientInput{{ActorCode: "RM1", Qty: 1}},
		Purpose:      "Gift",
	})
	assert.True(t, core.IsNotFound(err))
}

func TestLedger_InsufficientStock(t *testing.T) {
	l, _, _ := newTestLedger(t)
	root := allocate(t, l, "ADM", nil, "Sampling", "RM1", 100)

	_, err := l.Create(context.Background(), ledger.CreateInput{
		AssignerCode: "RM1",
		Item:         pdb,
		Recipients:   []ledger.RecipientInput{{ActorCode: "BM1", Qty: 101}},
		Purpose:      "Sampling",
		ParentPath:   root.Path,
	})
	require.ErrorIs(t, err, core.ErrInsufficientStock)

	var detail *core.InsufficientStockError
	require.ErrorAs(t, err, &detail)
	assert.Equal(t, core.Quantity(100), detail.Available)
	assert.Equal(t, core.Quantity(101), detail.Requested)
	assert.Equal(t, core.Quantity(100), available(t, l, "RM1"))
}

func TestLedger_UsageCannotSpendStockAlreadyPassedOn(t *testing.T) {
	// GIVEN: BM1 received 50 and handed 40 to MGR1
	// WHEN: BM1 tries to consume 20 of its own share
	// THEN: Only 10 can be consumed; the entry remainder (50) is not enough

	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	root := allocate(t, l, "ADM", nil, "Sampling", "RM1", 100)
	rm := allocate(t, l, "RM1", root.Path, "Sampling", "BM1", 50)
	allocate(t, l, "BM1", rm.Path, "Sampling", "MGR1", 40)

	_, err := l.RecordUsage(ctx, ledger.UsageInput{RecordID: rm.ID, RecipientCode: "BM1", Ref: "DEMO", Qty: 20})
	assert.ErrorIs(t, err, core.ErrUsageExceedsAvailable)

	_, err = l.RecordUsage(ctx, ledger.UsageInput{RecordID: rm.ID, RecipientCode: "BM1", Ref: "DEMO", Qty: 10})
	require.NoError(t, err)
	assert.Equal(t, core.Quantity(0), available(t, l, "BM1"))
}

func TestLedger_UsageByNonRecipient_NotFound(t *testing.T) {
	l, _, _ := newTestLedger(t)
	root := allocate(t, l, "ADM", nil, "Sampling", "RM1", 10)

	_, err := l.RecordUsage(context.Background(), ledger.UsageInput{RecordID: root.ID, RecipientCode: "RM2", Ref: "X", Qty: 1})
	assert.True(t, core.IsNotFound(err))
}

func TestLedger_Conservation(t *testing.T) {
	// GIVEN: A mix of allocations and usage across the tree
	// THEN: Σ available + Σ used over all actors equals the pool opening

	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	r1 := allocate(t, l, "ADM", nil, "Sampling", "RM1", 200)
	r2 := allocate(t, l, "ADM", nil, "Marketing", "RM2", 100)
	rm := allocate(t, l, "RM1", r1.Path, "Sampling", "BM1", 80)
	allocate(t, l, "RM2", r2.Path, "Marketing", "BM2", 30)
	bm := allocate(t, l, "BM1", rm.Path, "Project", "MGR1", 60)
	mgr := allocate(t, l, "MGR1", bm.Path, "Project", "E1", 25)
	_, err := l.RecordUsage(ctx, ledger.UsageInput{RecordID: mgr.ID, RecipientCode: "E1", Ref: "CUST-9", Qty: 5})
	require.NoError(t, err)
	_, err = l.RecordUsage(ctx, ledger.UsageInput{RecordID: bm.ID, RecipientCode: "MGR1", Ref: "CUST-3", Qty: 10})
	require.NoError(t, err)

	var total core.Quantity
	for _, code := range []core.ActorCode{"ADM", "RM1", "RM2", "BM1", "BM2", "MGR1", "E1", "E2"} {
		actor, err := l.Directory().Resolve(ctx, code)
		require.NoError(t, err)
		pos, err := l.Stock().Position(ctx, actor, pdb)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, int64(pos.Available), int64(0), "available of %s", code)
		assert.Equal(t, pos.Received-pos.Used-pos.AssignedOut, pos.Available)
		if code == "ADM" {
			total += pos.Available
			continue
		}
		total += pos.Available + pos.Used
	}
	assert.Equal(t, core.Quantity(500), total)
	assert.NoError(t, l.Stock().CheckPoolConsistency(ctx, pdb))
}

func TestLedger_SplitAndSingleRecordDeriveTheSame(t *testing.T) {
	ctx := context.Background()
	recipients := []ledger.RecipientInput{{ActorCode: "RM1", Qty: 70}, {ActorCode: "RM2", Qty: 30}}

	positions := func(split bool) map[core.ActorCode]ledger.StockPosition {
		l, _, _ := newTestLedger(t)
		recs, err := l.Create(ctx, ledger.CreateInput{
			AssignerCode: "ADM", Item: pdb, Recipients: recipients, Purpose: "Gift", Split: split,
		})
		require.NoError(t, err)
		if split {
			require.Len(t, recs, 2)
			assert.Equal(t, recs[0].AllocationID, recs[1].AllocationID)
			assert.NotEqual(t, recs[0].ID, recs[1].ID)
		} else {
			require.Len(t, recs, 1)
			assert.Equal(t, recs[0].AllocationID, recs[0].ID)
		}

		out := map[core.ActorCode]ledger.StockPosition{}
		for _, code := range []core.ActorCode{"ADM", "RM1", "RM2"} {
			actor, err := l.Directory().Resolve(ctx, code)
			require.NoError(t, err)
			pos, err := l.Stock().Position(ctx, actor, pdb)
			require.NoError(t, err)
			out[code] = pos
		}
		return out
	}

	assert.Equal(t, positions(false), positions(true))
}

// =============================================================================
// RECIPIENT VALIDATION
// =============================================================================

func TestLedger_Create_ReportsEveryBadRecipient(t *testing.T) {
	l, _, _ := newTestLedger(t)
	root := allocate(t, l, "ADM", nil, "Sampling", "RM1", 100)

	_, err := l.Create(context.Background(), ledger.CreateInput{
		AssignerCode: "RM1",
		Item:         pdb,
		Recipients: []ledger.RecipientInput{
			{ActorCode: "BM1", Qty: 10},
			{ActorCode: "BM2", Qty: 10},  // reports to RM2
			{ActorCode: "RM1", Qty: 10},  // self
			{ActorCode: "GHOST", Qty: 1}, // unknown
			{ActorCode: "BM1", Qty: 5},   // duplicate
		},
		Purpose:    "Sampling",
		ParentPath: root.Path,
	})
	require.ErrorIs(t, err, core.ErrValidation)

	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	var bad []core.ActorCode
	for _, r := range verr.Recipients {
		bad = append(bad, r.ActorCode)
	}
	assert.ElementsMatch(t, []core.ActorCode{"BM2", "RM1", "GHOST", "BM1"}, bad)
	assert.Equal(t, core.Quantity(100), available(t, l, "RM1"), "nothing may be written")
}

func TestLedger_Create_InputValidation(t *testing.T) {
	l, _, _ := newTestLedger(t)

	_, err := l.Create(context.Background(), ledger.CreateInput{
		AssignerCode: "ADM",
		Item:         ledger.ItemKey{Year: 1999},
		Recipients:   []ledger.RecipientInput{{ActorCode: "RM1", Qty: 0}},
	})
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	fields := map[string]bool{}
	for _, f := range verr.Fields {
		fields[f.Field] = true
	}
	assert.True(t, fields["purpose"])
	assert.True(t, fields["item.name"])
	assert.True(t, fields["recipients[0].qty"])
}

func TestLedger_Create_EmployeeCannotAllocate(t *testing.T) {
	l, _, _ := newTestLedger(t)

	_, err := l.Create(context.Background(), ledger.CreateInput{
		AssignerCode: "E1",
		Item:         pdb,
		Recipients:   []ledger.RecipientInput{{ActorCode: "E2", Qty: 1}},
		Purpose:      "Gift",
		ParentPath:   core.HierarchyPath{{Level: core.LevelRoot, ID: "R-1"}},
	})
	assert.ErrorIs(t, err, core.ErrForbidden)
}

func TestLedger_Create_NonRootNeedsParentPath(t *testing.T) {
	l, _, _ := newTestLedger(t)
	allocate(t, l, "ADM", nil, "Sampling", "RM1", 10)

	_, err := l.Create(context.Background(), ledger.CreateInput{
		AssignerCode: "RM1",
		Item:         pdb,
		Recipients:   []ledger.RecipientInput{{ActorCode: "BM1", Qty: 1}},
		Purpose:      "Gift",
	})
	assert.ErrorIs(t, err, core.ErrValidation)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestLedger_ConcurrentCreates_NeverOverAllocate(t *testing.T) {
	// GIVEN: RM1 holds 100
	// WHEN: 20 goroutines each try to hand 10 to BM1
	// THEN: Exactly 10 succeed and RM1 ends at zero, never negative

	l, _, _ := newTestLedger(t)
	root := allocate(t, l, "ADM", nil, "Sampling", "RM1", 100)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Create(context.Background(), ledger.CreateInput{
				AssignerCode: "RM1",
				Item:         pdb,
				Recipients:   []ledger.RecipientInput{{ActorCode: "BM1", Qty: 10}},
				Purpose:      "Sampling",
				ParentPath:   root.Path,
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, core.ErrInsufficientStock)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, core.Quantity(0), available(t, l, "RM1"))
	assert.Equal(t, core.Quantity(100), available(t, l, "BM1"))
}

func TestLedger_ConcurrentAdmins_ShareOnePool(t *testing.T) {
	l, _, _ := newTestLedger(t)

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		admin := core.ActorCode("ADM")
		if i%2 == 1 {
			admin = "ADM2"
		}
		wg.Add(1)
		go func(admin core.ActorCode) {
			defer wg.Done()
			_, _ = l.Create(context.Background(), ledger.CreateInput{
				AssignerCode: admin,
				Item:         pdb,
				Recipients:   []ledger.RecipientInput{{ActorCode: "RM1", Qty: 50}},
				Purpose:      "Sampling",
			})
		}(admin)
	}
	wg.Wait()

	pool, err := l.Pool(context.Background(), pdb)
	require.NoError(t, err)
	assert.Equal(t, core.Quantity(500), pool.Issued)
	assert.Equal(t, core.Quantity(500), available(t, l, "RM1"))
	assert.NoError(t, l.Stock().CheckPoolConsistency(context.Background(), pdb))
}

func TestLedger_ConcurrentUsage_NeverExceedsShare(t *testing.T) {
	// GIVEN: BM1 received 50 and passed nothing on
	// WHEN: 20 goroutines each record 5 of usage on the same share
	// THEN: Exactly 10 succeed and the share is used up, never beyond

	l, store, _ := newTestLedger(t)
	root := allocate(t, l, "ADM", nil, "Project", "RM1", 100)
	rm := allocate(t, l, "RM1", root.Path, "Project", "BM1", 50)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.RecordUsage(context.Background(), ledger.UsageInput{
				RecordID: rm.ID, RecipientCode: "BM1", Ref: fmt.Sprintf("CUST-%02d", i), Qty: 5,
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, core.ErrUsageExceedsAvailable)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, core.Quantity(0), available(t, l, "BM1"))

	rec, err := store.GetRecord(context.Background(), rm.ID)
	require.NoError(t, err)
	require.Len(t, rec.Recipients, 1)
	assert.Equal(t, core.Quantity(50), rec.Recipients[0].UsedQty)
	assert.Len(t, rec.Recipients[0].UsedSamples, 10)
}

// =============================================================================
// DISPATCH & POD
// =============================================================================

func TestLedger_Dispatch_NotEligible(t *testing.T) {
	l, _, _ := newTestLedger(t)
	rec := allocate(t, l, "ADM", nil, "Sampling", "RM1", 10)

	_, err := l.Dispatch(context.Background(), rec.ID, "ADM")
	assert.ErrorIs(t, err, core.ErrNotEligibleForVendor)
}

func TestLedger_Dispatch_IsIdempotentAndKeepsFirstTimestamp(t *testing.T) {
	l, _, clock := newTestLedger(t)
	ctx := context.Background()
	rec := allocate(t, l, "ADM", nil, "Marketing Event", "RM1", 10)
	assert.Equal(t, ledger.PurposeMarketing, rec.Purpose)

	first, err := l.Dispatch(ctx, rec.ID, "ADM")
	require.NoError(t, err)
	clock.Advance(time.Hour)
	second, err := l.Dispatch(ctx, rec.ID, "ADM2")
	require.NoError(t, err)

	assert.Equal(t, first.Dispatch.DispatchedAt, second.Dispatch.DispatchedAt)
	assert.Equal(t, core.ActorCode("ADM"), second.Dispatch.DispatchedBy)
}

func TestLedger_Dispatch_OnlyAssignerOrAdmin(t *testing.T) {
	l, _, _ := newTestLedger(t)
	root := allocate(t, l, "ADM", nil, "Project", "RM1", 10)
	rm := allocate(t, l, "RM1", root.Path, "Project", "BM1", 5)

	_, err := l.Dispatch(context.Background(), rm.ID, "RM2")
	assert.ErrorIs(t, err, core.ErrForbidden)
}

func TestLedger_UpdateLR_LastWriteWins(t *testing.T) {
	l, _, clock := newTestLedger(t)
	ctx := context.Background()
	rec := allocate(t, l, "ADM", nil, "Project", "RM1", 10)

	_, err := l.UpdateLR(ctx, rec.ID, "V1", "LR-1")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	updated, err := l.UpdateLR(ctx, rec.ID, "V1", "LR-2")
	require.NoError(t, err)

	assert.Equal(t, "LR-2", updated.Dispatch.LRNumber)
	assert.Equal(t, clock.Now(), *updated.Dispatch.LRUpdatedAt)

	_, err = l.UpdateLR(ctx, rec.ID, "E1", "LR-3")
	assert.ErrorIs(t, err, core.ErrForbidden)
}

func TestLedger_MarkPODVisible_CascadesToSubtreeOnly(t *testing.T) {
	// GIVEN: Two subtrees under one root and one under another
	// WHEN: POD is marked for RM1's allocation
	// THEN: Exactly RM1's record and its descendants flip

	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	r1 := allocate(t, l, "ADM", nil, "Project", "RM1", 100)
	r2 := allocate(t, l, "ADM", nil, "Project", "RM2", 100)
	rmA := allocate(t, l, "RM1", r1.Path, "Project", "BM1", 40)
	bmA := allocate(t, l, "BM1", rmA.Path, "Project", "MGR1", 20)
	mgrA := allocate(t, l, "MGR1", bmA.Path, "Project", "E1", 10)
	rmB := allocate(t, l, "RM2", r2.Path, "Project", "BM2", 40)

	n, err := l.MarkPODVisible(ctx, rmA.AllocationID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for id, want := range map[string]bool{
		r1.ID: false, r2.ID: false, rmA.ID: true, bmA.ID: true, mgrA.ID: true, rmB.ID: false,
	} {
		rec, err := l.Record(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, rec.Dispatch.PODUpdatedForEmployee, "record %s", id)
	}

	n, err = l.MarkPODVisible(ctx, r1.AllocationID)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	rec, err := l.Record(ctx, r2.ID)
	require.NoError(t, err)
	assert.False(t, rec.Dispatch.PODUpdatedForEmployee)
}

func TestLedger_MarkPODVisible_UnknownID(t *testing.T) {
	l, _, _ := newTestLedger(t)
	_, err := l.MarkPODVisible(context.Background(), "R-404")
	assert.True(t, core.IsNotFound(err))
}

// =============================================================================
// POOL MANAGEMENT
// =============================================================================

func TestLedger_ConfigurePool_Twice(t *testing.T) {
	l, _, _ := newTestLedger(t)
	_, err := l.ConfigurePool(context.Background(), "ADM", pdb, 10)
	assert.ErrorIs(t, err, core.ErrAlreadyExists)
}

func TestLedger_AdjustPoolOpening_NotBelowIssued(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	allocate(t, l, "ADM", nil, "Gift", "RM1", 120)

	_, err := l.AdjustPoolOpening(ctx, "ADM", pdb, 100)
	assert.ErrorIs(t, err, core.ErrValidation)

	pool, err := l.AdjustPoolOpening(ctx, "ADM", pdb, 800)
	require.NoError(t, err)
	assert.Equal(t, core.Quantity(680), pool.Balance())
	assert.Equal(t, core.Quantity(680), available(t, l, "ADM"))
}

func TestLedger_ConfigurePool_AdminOnly(t *testing.T) {
	l, _, _ := newTestLedger(t)
	_, err := l.ConfigurePool(context.Background(), "RM1", ledger.ItemKey{Name: "Other", Year: 2025}, 10)
	assert.ErrorIs(t, err, core.ErrForbidden)
}
