// Package query serves read models computed from the live ledger. Reads run
// on the engine loop via Inspect, so every view is consistent with the last
// applied command.
package query

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"CDPLedger/internal/core"
	fpmath "CDPLedger/internal/math"
	"CDPLedger/internal/observability"
	"CDPLedger/internal/state"
	"CDPLedger/internal/token"
	"CDPLedger/internal/vault"
)

var ErrPositionNotFound = errors.New("position not found")

type Service struct {
	engine    *core.Engine
	debtToken *token.Ledger
	vault     *vault.Vault
	metrics   *observability.Metrics
}

func NewService(engine *core.Engine, debtToken *token.Ledger, v *vault.Vault, metrics *observability.Metrics) *Service {
	return &Service{engine: engine, debtToken: debtToken, vault: v, metrics: metrics}
}

// PositionView is the live state of one position, pending rewards included.
type PositionView struct {
	Owner             uuid.UUID `json:"owner"`
	Status            string    `json:"status"`
	Collateral        string    `json:"collateral"`
	Debt              string    `json:"debt"`
	Stake             string    `json:"stake"`
	PendingCollateral string    `json:"pending_collateral"`
	PendingDebt       string    `json:"pending_debt"`
	NominalICR        string    `json:"nominal_icr,omitempty"`
	ICR               string    `json:"icr,omitempty"`
}

// SystemView is the global state of the ledger.
type SystemView struct {
	Sequence                int64  `json:"sequence"`
	ActivePositions         int    `json:"active_positions"`
	SystemCollateral        string `json:"system_collateral"`
	SystemDebt              string `json:"system_debt"`
	TotalStakes             string `json:"total_stakes"`
	TotalStakesSnapshot     string `json:"total_stakes_snapshot"`
	TotalCollateralSnapshot string `json:"total_collateral_snapshot"`
	LCollateral             string `json:"l_collateral"`
	LDebt                   string `json:"l_debt"`
	BaseRate                string `json:"base_rate"`
	BorrowingRate           string `json:"borrowing_rate"`
	RedemptionRate          string `json:"redemption_rate"`
	LiquidationProtocolFee  string `json:"liquidation_protocol_fee"`
	LastFeeOperation        time.Time `json:"last_fee_operation"`
	Price                   string `json:"price,omitempty"`
	DebtTokenSupply         string `json:"debt_token_supply"`
	EscrowedCollateral      string `json:"escrowed_collateral"`
}

// HintView is an insertion neighborhood for a target NICR, handed back to
// clients so their next write lands in O(1) list work.
type HintView struct {
	Prev uuid.UUID `json:"prev"`
	Next uuid.UUID `json:"next"`
}

// BalanceView is one holder's token and collateral balances.
type BalanceView struct {
	Holder         uuid.UUID `json:"holder"`
	DebtToken      string    `json:"debt_token"`
	FreeCollateral string    `json:"free_collateral"`
}

func (s *Service) Position(ctx context.Context, owner uuid.UUID) (*PositionView, error) {
	var view *PositionView
	err := s.engine.Inspect(ctx, func(l *state.PositionLedger) {
		pos, ok := l.Position(owner)
		if !ok {
			return
		}
		view = &PositionView{
			Owner:      owner,
			Status:     pos.Status.String(),
			Collateral: pos.Collateral.Dec(),
			Debt:       pos.Debt.Dec(),
			Stake:      pos.Stake.Dec(),
		}

		if !pos.IsActive() {
			view.PendingCollateral = "0"
			view.PendingDebt = "0"
			return
		}
		pendColl, perr := l.Rewards().PendingCollateralReward(&pos)
		pendDebt, derr := l.Rewards().PendingDebtReward(&pos)
		if perr != nil || derr != nil {
			return
		}
		view.PendingCollateral = pendColl.Dec()
		view.PendingDebt = pendDebt.Dec()

		liveColl := new(uint256.Int).Add(pos.Collateral, pendColl)
		liveDebt := new(uint256.Int).Add(pos.Debt, pendDebt)
		if nicr, err := fpmath.NominalICR(liveColl, liveDebt); err == nil {
			view.NominalICR = nicr.Dec()
		}
		if price, err := l.PriceFeed().Price(); err == nil {
			if icr, err := fpmath.ICR(liveColl, price, liveDebt); err == nil {
				view.ICR = icr.Dec()
			}
		}
	})
	if err != nil {
		return nil, err
	}
	if view == nil {
		return nil, ErrPositionNotFound
	}
	return view, nil
}

func (s *Service) System(ctx context.Context) (*SystemView, error) {
	var view SystemView
	err := s.engine.Inspect(ctx, func(l *state.PositionLedger) {
		dist := l.Distribution()
		fees := l.Fees()
		view = SystemView{
			Sequence:                s.engine.Sequence(),
			ActivePositions:         l.Sorted().Size(),
			SystemCollateral:        l.SystemCollateral().Dec(),
			SystemDebt:              l.SystemDebt().Dec(),
			TotalStakes:             dist.TotalStakes.Dec(),
			TotalStakesSnapshot:     dist.TotalStakesSnapshot.Dec(),
			TotalCollateralSnapshot: dist.TotalCollateralSnapshot.Dec(),
			LCollateral:             dist.LCollateral.Dec(),
			LDebt:                   dist.LDebt.Dec(),
			BaseRate:                fees.BaseRate().Dec(),
			BorrowingRate:           fees.BorrowingRate().Dec(),
			RedemptionRate:          fees.RedemptionRate().Dec(),
			LiquidationProtocolFee:  fees.LiquidationProtocolFee().Dec(),
			LastFeeOperation:        fees.LastFeeOperation(),
			DebtTokenSupply:         s.debtToken.TotalSupply().Dec(),
			EscrowedCollateral:      s.vault.Escrowed().Dec(),
		}
		if price, err := l.PriceFeed().Price(); err == nil {
			view.Price = price.Dec()
		}
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// Hints walks the index for the neighborhood a position with the given NICR
// would occupy. Linear in list size; clients call it off the write path.
func (s *Service) Hints(ctx context.Context, nicr *uint256.Int) (*HintView, error) {
	var view HintView
	err := s.engine.Inspect(ctx, func(l *state.PositionLedger) {
		idx := l.Sorted()
		prev := uuid.Nil
		cur, ok := idx.First()
		for ok {
			curNICR, known := l.NominalICR(cur)
			if !known || curNICR.Lt(nicr) {
				break
			}
			prev = cur
			cur, ok = idx.Next(cur)
		}
		view.Prev = prev
		if ok {
			view.Next = cur
		}
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// SortedOwners returns the index order, strongest first.
func (s *Service) SortedOwners(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.engine.Inspect(ctx, func(l *state.PositionLedger) {
		ids = l.Sorted().IDs()
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Service) Balances(ctx context.Context, holder uuid.UUID) (*BalanceView, error) {
	var view BalanceView
	err := s.engine.Inspect(ctx, func(l *state.PositionLedger) {
		view = BalanceView{
			Holder:         holder,
			DebtToken:      s.debtToken.BalanceOf(holder).Dec(),
			FreeCollateral: s.vault.FreeBalanceOf(holder).Dec(),
		}
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}
