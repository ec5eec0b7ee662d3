package query_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"CDPLedger/internal/core"
	fpmath "CDPLedger/internal/math"
	"CDPLedger/internal/query"
	"CDPLedger/internal/testutil"
)

type queryHarness struct {
	service *query.Service
	fixture *testutil.Fixture
}

func newQueryHarness(t *testing.T) *queryHarness {
	t.Helper()

	f := testutil.NewFixture(t, testutil.Eth(2000))
	engine := core.NewEngine(core.EngineConfig{
		Ledger:      f.Ledger,
		Logger:      zerolog.Nop(),
		Clock:       f.Clock.Now,
		PersistChan: make(chan core.CoreOutput, 256),
		PublishChan: make(chan core.CoreOutput, 256),
	})
	ctx, cancel := context.WithCancel(context.Background())
	go engine.Run(ctx)
	t.Cleanup(cancel)

	return &queryHarness{
		service: query.NewService(engine, f.Token, f.Vault, nil),
		fixture: f,
	}
}

// ============================================================================
// Test: Position view
// ============================================================================

func TestQuery_Position(t *testing.T) {
	h := newQueryHarness(t)
	owner := uuid.New()
	h.fixture.Fund(t, owner, testutil.Eth(10))
	if err := h.fixture.Ledger.OpenPosition(owner, owner, testutil.Eth(10), testutil.Eth(10000), uuid.Nil, uuid.Nil); err != nil {
		t.Fatalf("open: %v", err)
	}
	h.fixture.Ledger.DrainEvents()

	view, err := h.service.Position(context.Background(), owner)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if view.Status != "active" {
		t.Errorf("status = %q, want active", view.Status)
	}
	if view.Debt != testutil.Eth(10000).Dec() {
		t.Errorf("debt = %s, want 10000 eth", view.Debt)
	}
	if view.PendingCollateral != "0" || view.PendingDebt != "0" {
		t.Errorf("pending = (%s, %s), want zero", view.PendingCollateral, view.PendingDebt)
	}

	wantNICR, err := fpmath.NominalICR(testutil.Eth(10), testutil.Eth(10000))
	if err != nil {
		t.Fatalf("nicr: %v", err)
	}
	if view.NominalICR != wantNICR.Dec() {
		t.Errorf("nominal icr = %s, want %s", view.NominalICR, wantNICR.Dec())
	}
	wantICR, err := fpmath.ICR(testutil.Eth(10), testutil.Eth(2000), testutil.Eth(10000))
	if err != nil {
		t.Fatalf("icr: %v", err)
	}
	if view.ICR != wantICR.Dec() {
		t.Errorf("icr = %s, want %s", view.ICR, wantICR.Dec())
	}
}

func TestQuery_PositionNotFound(t *testing.T) {
	h := newQueryHarness(t)

	_, err := h.service.Position(context.Background(), uuid.New())
	if !errors.Is(err, query.ErrPositionNotFound) {
		t.Errorf("got %v, want ErrPositionNotFound", err)
	}
}

// ============================================================================
// Test: System view
// ============================================================================

func TestQuery_System(t *testing.T) {
	h := newQueryHarness(t)
	h.fixture.OpenPosition(t, testutil.Eth(10), testutil.Eth(10000))
	h.fixture.OpenPosition(t, testutil.Eth(20), testutil.Eth(13000))

	view, err := h.service.System(context.Background())
	if err != nil {
		t.Fatalf("system: %v", err)
	}
	if view.ActivePositions != 2 {
		t.Errorf("active positions = %d, want 2", view.ActivePositions)
	}
	if view.SystemDebt != testutil.Eth(23000).Dec() {
		t.Errorf("system debt = %s, want 23000 eth", view.SystemDebt)
	}
	if view.SystemCollateral != testutil.Eth(30).Dec() {
		t.Errorf("system collateral = %s, want 30 eth", view.SystemCollateral)
	}
	if view.Price != testutil.Eth(2000).Dec() {
		t.Errorf("price = %s, want 2000 eth", view.Price)
	}
	if view.DebtTokenSupply != testutil.Eth(23000).Dec() {
		t.Errorf("supply = %s, want 23000 eth", view.DebtTokenSupply)
	}
	if view.EscrowedCollateral != testutil.Eth(30).Dec() {
		t.Errorf("escrowed = %s, want 30 eth", view.EscrowedCollateral)
	}
}

// ============================================================================
// Test: Hints and sorted owners
// ============================================================================

func TestQuery_Hints(t *testing.T) {
	h := newQueryHarness(t)
	weak := h.fixture.OpenPosition(t, testutil.Eth(10), testutil.Eth(10000))
	strong := h.fixture.OpenPosition(t, testutil.Eth(20), testutil.Eth(10000))

	// A NICR between the two lands after the strong position.
	target, err := fpmath.NominalICR(testutil.Eth(15), testutil.Eth(10000))
	if err != nil {
		t.Fatalf("nicr: %v", err)
	}
	view, err := h.service.Hints(context.Background(), target)
	if err != nil {
		t.Fatalf("hints: %v", err)
	}
	if view.Prev != strong || view.Next != weak {
		t.Errorf("hints = (%s, %s), want (%s, %s)", view.Prev, view.Next, strong, weak)
	}

	// Above the head, the neighborhood is the list front.
	top, _ := fpmath.NominalICR(testutil.Eth(100), testutil.Eth(10000))
	view, err = h.service.Hints(context.Background(), top)
	if err != nil {
		t.Fatalf("hints: %v", err)
	}
	if view.Prev != uuid.Nil || view.Next != strong {
		t.Errorf("head hints = (%s, %s), want (nil, %s)", view.Prev, view.Next, strong)
	}

	// Below the tail, the neighborhood is the list back.
	bottom, _ := fpmath.NominalICR(testutil.Eth(1), testutil.Eth(10000))
	view, err = h.service.Hints(context.Background(), bottom)
	if err != nil {
		t.Fatalf("hints: %v", err)
	}
	if view.Prev != weak || view.Next != uuid.Nil {
		t.Errorf("tail hints = (%s, %s), want (%s, nil)", view.Prev, view.Next, weak)
	}
}

func TestQuery_SortedOwners(t *testing.T) {
	h := newQueryHarness(t)
	weak := h.fixture.OpenPosition(t, testutil.Eth(10), testutil.Eth(10000))
	strong := h.fixture.OpenPosition(t, testutil.Eth(20), testutil.Eth(10000))

	ids, err := h.service.SortedOwners(context.Background())
	if err != nil {
		t.Fatalf("sorted owners: %v", err)
	}
	if len(ids) != 2 || ids[0] != strong || ids[1] != weak {
		t.Errorf("order = %v, want [%s %s]", ids, strong, weak)
	}
}

// ============================================================================
// Test: Balances
// ============================================================================

func TestQuery_Balances(t *testing.T) {
	h := newQueryHarness(t)
	owner := h.fixture.OpenPosition(t, testutil.Eth(10), testutil.Eth(10000))

	view, err := h.service.Balances(context.Background(), owner)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if view.DebtToken != testutil.Eth(10000).Dec() {
		t.Errorf("debt token = %s, want 10000 eth", view.DebtToken)
	}
	if view.FreeCollateral != "0" {
		t.Errorf("free collateral = %s, want 0", view.FreeCollateral)
	}
}
