package inventory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

var testNow = time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

type recordingIntegration struct {
	mu       sync.Mutex
	events   []MovementsPostedEvent
	registry []RegistryChangedEvent
}

func (r *recordingIntegration) HandleRegistryChanged(_ context.Context, evt RegistryChangedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registry = append(r.registry, evt)
}

func (r *recordingIntegration) HandleMovementsPosted(_ context.Context, evt MovementsPostedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingIntegration) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestService(cfg ServiceConfig) (*Service, *memoryStore) {
	store := newMemoryStore()
	store.clock = func() time.Time { return testNow }
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return testNow }
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	return NewService(store, cfg, nil), store
}

func receipt(itemID, warehouseID, qty int64) MovementInput {
	return MovementInput{TransactionType: TransactionReceipt, ItemID: itemID, WarehouseID: warehouseID, Quantity: qty}
}

func issue(itemID, warehouseID, qty int64) MovementInput {
	return MovementInput{TransactionType: TransactionIssue, ItemID: itemID, WarehouseID: warehouseID, Quantity: qty}
}

func TestAppendKeepsBalanceIdentity(t *testing.T) {
	svc, _ := newTestService(ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Append(ctx, receipt(1, 1, 1000))
	require.NoError(t, err)
	_, err = svc.Append(ctx, MovementInput{TransactionType: TransactionReservation, ItemID: 1, WarehouseID: 1, Quantity: 50})
	require.NoError(t, err)
	_, err = svc.Append(ctx, MovementInput{TransactionType: TransactionReservationRelease, ItemID: 1, WarehouseID: 1, Quantity: 20})
	require.NoError(t, err)

	available, err := svc.AvailableQuantity(ctx, 1, 1, Company(), 0)
	require.NoError(t, err)
	require.Equal(t, int64(970), available)

	balances, err := svc.StockBalance(ctx, BalanceFilter{ItemID: 1, Scope: Company()})
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, int64(1000), balances[0].OnHand)
	assert.Equal(t, int64(30), balances[0].Reserved)
	assert.Equal(t, int64(970), balances[0].Available)
}

func TestAppendRecordsRunningBalance(t *testing.T) {
	svc, _ := newTestService(ServiceConfig{})
	ctx := context.Background()

	rows, err := svc.AppendAll(ctx, []MovementInput{
		receipt(1, 1, 1000),
		{TransactionType: TransactionReservation, ItemID: 1, WarehouseID: 1, Quantity: 50},
		{TransactionType: TransactionReservationRelease, ItemID: 1, WarehouseID: 1, Quantity: 20},
		issue(1, 1, 70),
	})
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, int64(1000), rows[0].RunningBalance)
	assert.Equal(t, int64(950), rows[1].RunningBalance)
	assert.Equal(t, int64(970), rows[2].RunningBalance)
	assert.Equal(t, int64(900), rows[3].RunningBalance)
	for _, row := range rows {
		assert.Equal(t, MovementCompleted, row.Status)
		assert.NotEmpty(t, row.TransactionNo)
	}
}

func TestAppendRejectsInsufficientStock(t *testing.T) {
	svc, store := newTestService(ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Append(ctx, receipt(1, 1, 10))
	require.NoError(t, err)

	_, err = svc.Append(ctx, issue(1, 1, 11))
	require.ErrorIs(t, err, ErrInsufficientStock)
	var shortfall *InsufficientStockError
	require.True(t, errors.As(err, &shortfall))
	assert.Equal(t, int64(10), shortfall.Available)
	assert.Equal(t, int64(11), shortfall.Required)
	assert.Len(t, store.snapshot(), 1)

	_, err = svc.Append(ctx, MovementInput{TransactionType: TransactionReservation, ItemID: 1, WarehouseID: 1, Quantity: 11})
	require.ErrorIs(t, err, ErrInsufficientStock)

	_, err = svc.Append(ctx, issue(1, 1, 10))
	require.NoError(t, err)
}

func TestAppendAllIsAtomic(t *testing.T) {
	svc, store := newTestService(ServiceConfig{})
	ctx := context.Background()

	_, err := svc.AppendAll(ctx, []MovementInput{receipt(1, 1, 5), issue(1, 1, 10)})
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Empty(t, store.snapshot())
}

func TestAppendValidatesInput(t *testing.T) {
	svc, store := newTestService(ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Append(ctx, receipt(1, 1, 0))
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.Append(ctx, MovementInput{TransactionType: TransactionReceipt, MovementType: MovementOut, ItemID: 1, WarehouseID: 1, Quantity: 1})
	require.ErrorIs(t, err, ErrInvalidMovement)

	_, err = svc.Append(ctx, MovementInput{TransactionType: "BOGUS", ItemID: 1, WarehouseID: 1, Quantity: 1})
	require.ErrorIs(t, err, ErrInvalidMovement)

	bad := receipt(1, 1, 1)
	bad.UnitCost = decimal.NewNullDecimal(decimal.NewFromInt(-1))
	_, err = svc.Append(ctx, bad)
	require.ErrorIs(t, err, ErrInvalidUnitCost)

	serial := receipt(1, 1, 2)
	serial.SerialID = 9
	_, err = svc.Append(ctx, serial)
	require.ErrorIs(t, err, ErrInvalidMovement)

	assert.Empty(t, store.snapshot())
}

func TestAppendComputesTotalCost(t *testing.T) {
	svc, _ := newTestService(ServiceConfig{})
	in := receipt(1, 1, 4)
	in.UnitCost = decimal.NewNullDecimal(decimal.RequireFromString("12.50"))

	row, err := svc.Append(context.Background(), in)
	require.NoError(t, err)
	require.True(t, row.TotalCost.Valid)
	assert.True(t, row.TotalCost.Decimal.Equal(decimal.NewFromInt(50)))
}

func TestTenantsNeverShareStock(t *testing.T) {
	svc, _ := newTestService(ServiceConfig{})
	ctx := context.Background()

	t1 := receipt(1, 1, 100)
	t1.TenantID = 1
	t2 := receipt(1, 1, 50)
	t2.TenantID = 2
	_, err := svc.AppendAll(ctx, []MovementInput{t1, t2})
	require.NoError(t, err)

	cases := []struct {
		name  string
		scope Scope
		want  int64
	}{
		{name: "tenant one", scope: ForTenant(1), want: 100},
		{name: "tenant two", scope: ForTenant(2), want: 50},
		{name: "company", scope: Company(), want: 0},
		{name: "all tenants", scope: AllTenants(), want: 150},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := svc.AvailableQuantity(ctx, 1, 1, tc.scope, 0)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err = svc.AvailableQuantity(ctx, 1, 1, Scope{}, 0)
	require.ErrorIs(t, err, ErrScopeRequired)

	over := issue(1, 1, 60)
	over.TenantID = 2
	_, err = svc.Append(ctx, over)
	require.ErrorIs(t, err, ErrInsufficientStock)

	balances, err := svc.StockBalance(ctx, BalanceFilter{ItemID: 1, Scope: AllTenants()})
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, int64(1), balances[0].TenantID)
	assert.Equal(t, int64(2), balances[1].TenantID)
}

func TestLotMovementsCheckLotAndItemBalance(t *testing.T) {
	svc, _ := newTestService(ServiceConfig{})
	ctx := context.Background()

	lot, err := svc.CreateLot(ctx, LotInput{LotNumber: "LOT-7", ItemID: 1, WarehouseID: 1})
	require.NoError(t, err)

	lotIn := receipt(1, 1, 10)
	lotIn.LotID = lot.ID
	_, err = svc.AppendAll(ctx, []MovementInput{lotIn, receipt(1, 1, 5)})
	require.NoError(t, err)

	lotOut := issue(1, 1, 11)
	lotOut.LotID = lot.ID
	_, err = svc.Append(ctx, lotOut)
	require.ErrorIs(t, err, ErrInsufficientStock)

	_, err = svc.Append(ctx, issue(1, 1, 12))
	require.NoError(t, err)

	// only 3 left at item level although the lot still shows 10
	lotOut.Quantity = 4
	_, err = svc.Append(ctx, lotOut)
	var shortfall *InsufficientStockError
	require.ErrorAs(t, err, &shortfall)
	assert.Equal(t, int64(3), shortfall.Available)

	lotAvailable, err := svc.AvailableQuantity(ctx, 1, 1, Company(), lot.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), lotAvailable)
}

func TestLotMovementsMustMatchLotOwnerAndItem(t *testing.T) {
	svc, store := newTestService(ServiceConfig{})
	ctx := context.Background()

	lot, err := svc.CreateLot(ctx, LotInput{LotNumber: "LOT-T1", ItemID: 1, WarehouseID: 1, TenantID: 1})
	require.NoError(t, err)
	own := receipt(1, 1, 10)
	own.LotID = lot.ID
	own.TenantID = 1
	_, err = svc.Append(ctx, own)
	require.NoError(t, err)
	rowsBefore := len(store.snapshot())

	cases := []struct {
		name    string
		input   MovementInput
		wantErr error
	}{
		{name: "other tenant receipt", input: MovementInput{TransactionType: TransactionReceipt, ItemID: 1, WarehouseID: 1, Quantity: 5, LotID: lot.ID, TenantID: 2}, wantErr: ErrNotFound},
		{name: "other tenant issue", input: MovementInput{TransactionType: TransactionIssue, ItemID: 1, WarehouseID: 1, Quantity: 1, LotID: lot.ID, TenantID: 2}, wantErr: ErrNotFound},
		{name: "company against tenant lot", input: MovementInput{TransactionType: TransactionReceipt, ItemID: 1, WarehouseID: 1, Quantity: 5, LotID: lot.ID}, wantErr: ErrNotFound},
		{name: "unknown lot", input: MovementInput{TransactionType: TransactionReceipt, ItemID: 1, WarehouseID: 1, Quantity: 5, LotID: 999, TenantID: 1}, wantErr: ErrNotFound},
		{name: "item mismatch", input: MovementInput{TransactionType: TransactionReceipt, ItemID: 2, WarehouseID: 1, Quantity: 5, LotID: lot.ID, TenantID: 1}, wantErr: ErrInvalidMovement},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Append(ctx, tc.input)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
	assert.Len(t, store.snapshot(), rowsBefore)

	balances, err := svc.StockBalance(ctx, BalanceFilter{ItemID: 1, Scope: ForTenant(2)})
	require.NoError(t, err)
	assert.Empty(t, balances)
}

func TestTransfer(t *testing.T) {
	svc, store := newTestService(ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Append(ctx, receipt(1, 1, 20))
	require.NoError(t, err)

	out, in, err := svc.Transfer(ctx, TransferInput{ItemID: 1, Quantity: 5, FromWarehouseID: 1, ToWarehouseID: 2, TransactionNo: "TRF-1"})
	require.NoError(t, err)
	assert.Equal(t, TransactionTransferOut, out.TransactionType)
	assert.Equal(t, TransactionTransferIn, in.TransactionType)
	assert.Equal(t, "TRF-1-OUT", out.TransactionNo)
	assert.Equal(t, "TRF-1-IN", in.TransactionNo)
	assert.Equal(t, int64(15), out.RunningBalance)
	assert.Equal(t, int64(5), in.RunningBalance)

	_, _, err = svc.Transfer(ctx, TransferInput{ItemID: 1, Quantity: 50, FromWarehouseID: 1, ToWarehouseID: 2})
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Len(t, store.snapshot(), 3)

	_, _, err = svc.Transfer(ctx, TransferInput{ItemID: 1, Quantity: 1, FromWarehouseID: 1, ToWarehouseID: 1})
	require.ErrorIs(t, err, ErrInvalidMovement)
}

func TestReverseAppendsCompensatingRow(t *testing.T) {
	svc, store := newTestService(ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Append(ctx, receipt(1, 1, 10))
	require.NoError(t, err)
	out, err := svc.Append(ctx, issue(1, 1, 4))
	require.NoError(t, err)

	comp, err := svc.Reverse(ctx, out.ID, "wrong item picked", 42)
	require.NoError(t, err)
	assert.Equal(t, MovementIn, comp.MovementType)
	assert.Equal(t, TransactionAdjustmentIn, comp.TransactionType)
	assert.Equal(t, ReferenceReversal, comp.ReferenceType)
	assert.Equal(t, out.ID, comp.ReversalOfID)
	assert.Equal(t, int64(42), comp.CreatedBy)
	assert.Equal(t, int64(10), comp.RunningBalance)

	orig, err := store.GetMovement(ctx, out.ID)
	require.NoError(t, err)
	assert.True(t, orig.IsReversed)
	assert.Equal(t, comp.ID, orig.ReversedByID)
	assert.Equal(t, MovementCompleted, orig.Status)

	_, err = svc.Reverse(ctx, out.ID, "again", 42)
	require.ErrorIs(t, err, ErrAlreadyReversed)

	_, err = svc.Reverse(ctx, comp.ID, "undo the undo", 42)
	require.ErrorIs(t, err, ErrInvalidMovement)

	available, err := svc.AvailableQuantity(ctx, 1, 1, Company(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(10), available)
}

func TestReverseReservationReleasesIt(t *testing.T) {
	svc, _ := newTestService(ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Append(ctx, receipt(1, 1, 10))
	require.NoError(t, err)
	res, err := svc.Append(ctx, MovementInput{TransactionType: TransactionReservation, ItemID: 1, WarehouseID: 1, Quantity: 6})
	require.NoError(t, err)

	comp, err := svc.Reverse(ctx, res.ID, "order cancelled", 1)
	require.NoError(t, err)
	assert.Equal(t, MovementRelease, comp.MovementType)
	assert.Equal(t, TransactionReservationRelease, comp.TransactionType)
}

func TestReverseReceiptCannotDriveStockNegative(t *testing.T) {
	svc, _ := newTestService(ServiceConfig{})
	ctx := context.Background()

	in, err := svc.Append(ctx, receipt(1, 1, 10))
	require.NoError(t, err)
	_, err = svc.Append(ctx, issue(1, 1, 8))
	require.NoError(t, err)

	_, err = svc.Reverse(ctx, in.ID, "duplicate receipt", 1)
	require.ErrorIs(t, err, ErrInsufficientStock)

	_, err = svc.Reverse(ctx, 999, "missing", 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRetryExhaustionSurfacesConflict(t *testing.T) {
	svc, store := newTestService(ServiceConfig{MaxRetries: 2})
	ctx := context.Background()

	store.conflicts = 10
	_, err := svc.Append(ctx, receipt(1, 1, 1))
	require.ErrorIs(t, err, ErrConcurrencyConflict)
	assert.Equal(t, 3, store.attempts)
	assert.Empty(t, store.snapshot())

	store.conflicts = 1
	store.attempts = 0
	_, err = svc.Append(ctx, receipt(1, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, store.attempts)
}

func TestConcurrentIssuesNeverOversell(t *testing.T) {
	svc, _ := newTestService(ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Append(ctx, receipt(1, 1, 100))
	require.NoError(t, err)

	var succeeded atomic.Int64
	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			_, err := svc.Append(ctx, issue(1, 1, 3))
			if errors.Is(err, ErrInsufficientStock) {
				return nil
			}
			if err == nil {
				succeeded.Add(1)
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(33), succeeded.Load())
	available, err := svc.AvailableQuantity(ctx, 1, 1, Company(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), available)
}

func TestTwoWritersOnOneTuple(t *testing.T) {
	cases := []struct {
		name      string
		each      int64
		conflicts int
		wantOK    int
		wantShort int
	}{
		{name: "half each", each: 5, wantOK: 2},
		{name: "half each with retried conflicts", each: 5, conflicts: 2, wantOK: 2},
		{name: "full each", each: 10, wantOK: 1, wantShort: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, store := newTestService(ServiceConfig{})
			ctx := context.Background()
			_, err := svc.Append(ctx, receipt(1, 1, 10))
			require.NoError(t, err)
			store.mu.Lock()
			store.conflicts = tc.conflicts
			store.mu.Unlock()

			start := make(chan struct{})
			var ok, short atomic.Int64
			var g errgroup.Group
			for range 2 {
				g.Go(func() error {
					<-start
					_, err := svc.Append(ctx, issue(1, 1, tc.each))
					switch {
					case err == nil:
						ok.Add(1)
					case errors.Is(err, ErrInsufficientStock):
						short.Add(1)
					default:
						return err
					}
					return nil
				})
			}
			close(start)
			require.NoError(t, g.Wait())

			assert.Equal(t, int64(tc.wantOK), ok.Load())
			assert.Equal(t, int64(tc.wantShort), short.Load())
			available, err := svc.AvailableQuantity(ctx, 1, 1, Company(), 0)
			require.NoError(t, err)
			assert.Equal(t, int64(0), available)

			var balances []int64
			for _, m := range store.snapshot()[1:] {
				balances = append(balances, m.RunningBalance)
			}
			if tc.wantOK == 2 {
				assert.Equal(t, []int64{5, 0}, balances)
			} else {
				assert.Equal(t, []int64{0}, balances)
			}
		})
	}
}

func TestCommittedMovementsArePublished(t *testing.T) {
	store := newMemoryStore()
	integration := &recordingIntegration{}
	svc := NewService(store, ServiceConfig{Clock: func() time.Time { return testNow }}, integration)
	ctx := context.Background()

	_, err := svc.AppendAll(ctx, []MovementInput{receipt(1, 1, 5), receipt(2, 1, 5)})
	require.NoError(t, err)
	require.Equal(t, 1, integration.count())
	assert.Len(t, integration.events[0].Movements, 2)
	assert.Equal(t, testNow, integration.events[0].PostedAt)

	_, err = svc.Append(ctx, issue(1, 1, 50))
	require.Error(t, err)
	assert.Equal(t, 1, integration.count())
}

func TestTransactionHistoryNewestFirst(t *testing.T) {
	svc, _ := newTestService(ServiceConfig{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		in := receipt(1, 1, 1)
		in.TransactionDate = testNow.AddDate(0, 0, i)
		_, err := svc.Append(ctx, in)
		require.NoError(t, err)
	}

	rows, page, err := svc.TransactionHistory(ctx, HistoryFilter{ItemID: 1, Scope: Company()}, shared.PageRequest{Page: 1, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 3, page.TotalPages)
	assert.True(t, rows[0].TransactionDate.After(rows[1].TransactionDate))

	_, _, err = svc.TransactionHistory(ctx, HistoryFilter{}, shared.PageRequest{})
	require.ErrorIs(t, err, ErrScopeRequired)
}

func TestGetMovementHonoursScope(t *testing.T) {
	svc, _ := newTestService(ServiceConfig{})
	ctx := context.Background()

	in := receipt(1, 1, 3)
	in.TenantID = 4
	row, err := svc.Append(ctx, in)
	require.NoError(t, err)

	_, err = svc.GetMovement(ctx, ForTenant(5), row.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, err, shared.ErrNotFound)

	got, err := svc.GetMovement(ctx, ForTenant(4), row.ID)
	require.NoError(t, err)
	assert.Equal(t, row.ID, got.ID)
}

func TestSortKeysIsStable(t *testing.T) {
	keys := []StockKey{
		{ItemID: 2, WarehouseID: 1, TenantID: 1},
		{ItemID: 1, WarehouseID: 2, TenantID: 0},
		{ItemID: 1, WarehouseID: 1, TenantID: 0},
	}
	SortKeys(keys)
	assert.Equal(t, []StockKey{
		{ItemID: 1, WarehouseID: 1, TenantID: 0},
		{ItemID: 1, WarehouseID: 2, TenantID: 0},
		{ItemID: 2, WarehouseID: 1, TenantID: 1},
	}, keys)
	assert.Equal(t, "stock:1:2:1", keys[2].String())
}
