package state

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"CDPLedger/internal/event"
	fpmath "CDPLedger/internal/math"
	"CDPLedger/internal/oracle"
	"CDPLedger/internal/sorted"
	"CDPLedger/internal/token"
	"CDPLedger/internal/vault"
)

// Config wires the ledger's collaborators.
type Config struct {
	PriceFeed    oracle.PriceFeed
	DebtToken    token.DebtToken
	Vault        *vault.Vault
	FeeRecipient uuid.UUID
	MaxPositions int
	Clock        func() time.Time
}

// PositionLedger owns every position record and all global distribution and
// fee state. Each public operation either fully applies or returns an error
// before any mutation beyond lazy reward realization (which is a
// state-equivalent transformation, never a semantic change).
//
// Not thread-safe — driven by the single-threaded core.
type PositionLedger struct {
	positions map[uuid.UUID]*Position
	sorted    *sorted.List
	dist      *DistributionState
	rewards   *RewardDistributor
	fees      *FeeEngine

	price        oracle.PriceFeed
	debtToken    token.DebtToken
	vault        *vault.Vault
	feeRecipient uuid.UUID

	// Recorded figures of active positions (excluding the redistribution
	// pool tracked on dist).
	totalActiveCollateral *uint256.Int
	totalActiveDebt       *uint256.Int

	globalDelegates map[uuid.UUID]bool
	delegates       map[uuid.UUID]map[uuid.UUID]bool

	events []event.Event
}

func NewPositionLedger(cfg Config) *PositionLedger {
	if cfg.MaxPositions <= 0 {
		cfg.MaxPositions = 1 << 20
	}
	l := &PositionLedger{
		positions:             make(map[uuid.UUID]*Position),
		dist:                  NewDistributionState(),
		fees:                  NewFeeEngine(cfg.Clock),
		price:                 cfg.PriceFeed,
		debtToken:             cfg.DebtToken,
		vault:                 cfg.Vault,
		feeRecipient:          cfg.FeeRecipient,
		totalActiveCollateral: new(uint256.Int),
		totalActiveDebt:       new(uint256.Int),
		globalDelegates:       make(map[uuid.UUID]bool),
		delegates:             make(map[uuid.UUID]map[uuid.UUID]bool),
	}
	l.rewards = NewRewardDistributor(l.dist)
	l.sorted = sorted.NewList(l, cfg.MaxPositions)
	return l
}

// NominalICR implements sorted.NICRSource over live, reward-inclusive
// figures, so the index always orders by current state rather than a cached
// rank.
func (l *PositionLedger) NominalICR(id uuid.UUID) (*uint256.Int, bool) {
	pos, ok := l.positions[id]
	if !ok || !pos.IsActive() {
		return nil, false
	}
	coll, debt, err := l.liveFigures(pos)
	if err != nil {
		return nil, false
	}
	nicr, err := fpmath.NominalICR(coll, debt)
	if err != nil {
		// Overflow means an astronomically overcollateralized position;
		// rank it at the top.
		return fpmath.MaxUint256(), true
	}
	return nicr, true
}

// liveFigures returns collateral and debt including pending rewards, without
// mutating the position.
func (l *PositionLedger) liveFigures(pos *Position) (*uint256.Int, *uint256.Int, error) {
	pendColl, err := l.rewards.PendingCollateralReward(pos)
	if err != nil {
		return nil, nil, err
	}
	pendDebt, err := l.rewards.PendingDebtReward(pos)
	if err != nil {
		return nil, nil, err
	}
	coll := new(uint256.Int).Add(pos.Collateral, pendColl)
	debt := new(uint256.Int).Add(pos.Debt, pendDebt)
	return coll, debt, nil
}

// CurrentICR returns the price-denominated ratio over live figures.
func (l *PositionLedger) CurrentICR(pos *Position, price *uint256.Int) (*uint256.Int, error) {
	coll, debt, err := l.liveFigures(pos)
	if err != nil {
		return nil, err
	}
	return fpmath.ICR(coll, price, debt)
}

// --- delegate rights ---

// CanManage reports whether caller may act on owner's position: the owner,
// a globally whitelisted delegate, or an individually whitelisted delegate.
func (l *PositionLedger) CanManage(caller, owner uuid.UUID) bool {
	if caller == owner {
		return true
	}
	if l.globalDelegates[caller] {
		return true
	}
	return l.delegates[owner][caller]
}

// WhitelistDelegate grants or revokes an individual delegate right. No
// implicit expiry.
func (l *PositionLedger) WhitelistDelegate(owner, delegate uuid.UUID, whitelisted bool) error {
	if delegate == uuid.Nil || delegate == owner {
		return ErrInvalidDelegate
	}
	if whitelisted {
		if l.delegates[owner] == nil {
			l.delegates[owner] = make(map[uuid.UUID]bool)
		}
		l.delegates[owner][delegate] = true
	} else {
		delete(l.delegates[owner], delegate)
	}
	l.emit(&event.DelegateWhitelisted{Owner: owner, Delegate: delegate, Whitelisted: whitelisted})
	return nil
}

// SetGlobalDelegate grants or revokes a system-wide delegate right.
// Privileged.
func (l *PositionLedger) SetGlobalDelegate(delegate uuid.UUID, whitelisted bool) error {
	if delegate == uuid.Nil {
		return ErrInvalidDelegate
	}
	if whitelisted {
		l.globalDelegates[delegate] = true
	} else {
		delete(l.globalDelegates, delegate)
	}
	l.emit(&event.DelegateWhitelisted{Owner: uuid.Nil, Delegate: delegate, Whitelisted: whitelisted})
	return nil
}

// --- fee administration ---

func (l *PositionLedger) SetBorrowingSpread(spread *uint256.Int) error {
	if err := l.fees.SetBorrowingSpread(spread); err != nil {
		return err
	}
	l.emit(&event.BorrowingSpreadUpdated{BorrowingSpread: spread.Dec()})
	return nil
}

func (l *PositionLedger) SetLiquidationProtocolFee(fee *uint256.Int) error {
	if err := l.fees.SetLiquidationProtocolFee(fee); err != nil {
		return err
	}
	l.emit(&event.LiquidationProtocolFeeChanged{LiquidationProtocolFee: fee.Dec()})
	return nil
}

// FundCollateral credits external collateral to a holder's free vault
// balance. This is the deposit boundary of the service.
func (l *PositionLedger) FundCollateral(holder uuid.UUID, amount *uint256.Int) error {
	amount = orZero(amount)
	if amount.IsZero() {
		return ErrAmountIsZero
	}
	if err := l.vault.Fund(holder, amount); err != nil {
		return err
	}
	l.emit(&event.CollateralFunded{Holder: holder, Amount: amount.Dec()})
	return nil
}

// --- position lifecycle ---

// OpenPosition creates an active position for owner: escrows collateral,
// mints the requested debt to the owner and the borrowing fee to the fee
// recipient, and threads the position into the sorted index.
func (l *PositionLedger) OpenPosition(caller, owner uuid.UUID, collateral, debt *uint256.Int, hintPrev, hintNext uuid.UUID) error {
	collateral, debt = orZero(collateral), orZero(debt)

	if !l.CanManage(caller, owner) {
		return ErrDelegateNotWhitelisted
	}
	if collateral.IsZero() {
		return ErrAmountIsZero
	}
	if debt.IsZero() {
		return ErrZeroDebtChange
	}
	if existing, ok := l.positions[owner]; ok && existing.IsActive() {
		return ErrPositionExists
	}
	if l.sorted.IsFull() {
		return sorted.ErrListFull
	}

	price, err := l.price.Price()
	if err != nil {
		return fmt.Errorf("oracle: %w", err)
	}

	if err := l.decayBaseRate(); err != nil {
		return err
	}
	fee, err := l.fees.BorrowingFee(debt)
	if err != nil {
		return err
	}

	compositeDebt, overflow := new(uint256.Int).AddOverflow(debt, fee)
	if overflow {
		return fpmath.ErrArithmeticOverflow
	}
	if compositeDebt.Lt(MinNetDebt) {
		return ErrNetDebtBelowMinimum
	}

	icr, err := fpmath.ICR(collateral, price, compositeDebt)
	if err != nil {
		return err
	}
	if icr.Lt(MCR) {
		return ErrICRBelowMCR
	}

	nicr, err := fpmath.NominalICR(collateral, compositeDebt)
	if err != nil {
		return err
	}
	if nicr.IsZero() {
		return ErrICRBelowMCR
	}

	// All checks passed; mutations begin with the only fallible one.
	if err := l.vault.Escrow(owner, collateral); err != nil {
		return err
	}

	pos := newPosition(owner)
	pos.Status = StatusActive
	pos.Collateral.Set(collateral)
	pos.Debt.Set(compositeDebt)
	l.positions[owner] = pos

	l.rewards.UpdateSnapshot(pos)
	l.setStake(pos)

	if err := l.sorted.Insert(owner, nicr, hintPrev, hintNext); err != nil {
		// Capacity and duplication were pre-checked; this cannot happen.
		panic(fmt.Sprintf("state: sorted insert after checks: %v", err))
	}

	if err := l.debtToken.Mint(owner, debt); err != nil {
		return err
	}
	if err := l.debtToken.Mint(l.feeRecipient, fee); err != nil {
		return err
	}

	l.totalActiveCollateral.Add(l.totalActiveCollateral, collateral)
	l.totalActiveDebt.Add(l.totalActiveDebt, compositeDebt)

	l.emit(&event.PositionCreated{
		Owner:      owner,
		Collateral: pos.Collateral.Dec(),
		Debt:       pos.Debt.Dec(),
		Stake:      pos.Stake.Dec(),
	})
	l.emitPositionUpdated(pos)
	return nil
}

// AdjustPosition applies a collateral deposit or withdrawal and/or a debt
// borrow or repayment. Pending rewards are realized first so every check
// runs against live figures.
func (l *PositionLedger) AdjustPosition(caller, owner uuid.UUID, collDeposit, collWithdraw, debtChange *uint256.Int, isDebtIncrease bool, hintPrev, hintNext uuid.UUID) error {
	collDeposit, collWithdraw, debtChange = orZero(collDeposit), orZero(collWithdraw), orZero(debtChange)

	if !l.CanManage(caller, owner) {
		return ErrDelegateNotWhitelisted
	}
	pos, ok := l.positions[owner]
	if !ok || !pos.IsActive() {
		return ErrPositionNotActive
	}
	if !collDeposit.IsZero() && !collWithdraw.IsZero() {
		return ErrNotSingularCollateralChange
	}
	if isDebtIncrease && debtChange.IsZero() {
		return ErrZeroDebtChange
	}
	if collDeposit.IsZero() && collWithdraw.IsZero() && debtChange.IsZero() {
		return ErrNoCollateralOrDebtChange
	}

	price, err := l.price.Price()
	if err != nil {
		return fmt.Errorf("oracle: %w", err)
	}
	if err := l.applyPendingRewards(pos); err != nil {
		return err
	}

	newColl := new(uint256.Int).Add(pos.Collateral, collDeposit)
	if collWithdraw.Gt(newColl) {
		return ErrWithdrawExceedsCollateral
	}
	newColl.Sub(newColl, collWithdraw)

	newDebt := new(uint256.Int).Set(pos.Debt)
	fee := new(uint256.Int)
	if !debtChange.IsZero() {
		if isDebtIncrease {
			if err := l.decayBaseRate(); err != nil {
				return err
			}
			fee, err = l.fees.BorrowingFee(debtChange)
			if err != nil {
				return err
			}
			newDebt.Add(newDebt, debtChange)
			newDebt.Add(newDebt, fee)
		} else {
			if debtChange.Gt(pos.Debt) {
				return ErrRepayExceedsDebt
			}
			if l.debtToken.BalanceOf(caller).Lt(debtChange) {
				return ErrRepayInsufficientBalance
			}
			newDebt.Sub(newDebt, debtChange)
		}
	}

	if newDebt.Lt(MinNetDebt) {
		return ErrNetDebtBelowMinimum
	}
	icr, err := fpmath.ICR(newColl, price, newDebt)
	if err != nil {
		return err
	}
	if icr.Lt(MCR) {
		return ErrICRBelowMCR
	}
	nicr, err := fpmath.NominalICR(newColl, newDebt)
	if err != nil {
		return err
	}
	if nicr.IsZero() {
		return ErrICRBelowMCR
	}

	// Mutations. The deposit escrow is the only fallible step, so it runs
	// first.
	if !collDeposit.IsZero() {
		if err := l.vault.Escrow(owner, collDeposit); err != nil {
			return err
		}
	}
	if !collWithdraw.IsZero() {
		if err := l.vault.Release(owner, collWithdraw); err != nil {
			return fmt.Errorf("release withdrawn collateral: %w", err)
		}
	}
	if !debtChange.IsZero() {
		if isDebtIncrease {
			if err := l.debtToken.Mint(owner, debtChange); err != nil {
				return err
			}
			if err := l.debtToken.Mint(l.feeRecipient, fee); err != nil {
				return err
			}
		} else {
			if err := l.debtToken.Burn(caller, debtChange); err != nil {
				return err
			}
		}
	}

	l.totalActiveCollateral.Sub(l.totalActiveCollateral, pos.Collateral)
	l.totalActiveCollateral.Add(l.totalActiveCollateral, newColl)
	l.totalActiveDebt.Sub(l.totalActiveDebt, pos.Debt)
	l.totalActiveDebt.Add(l.totalActiveDebt, newDebt)

	pos.Collateral.Set(newColl)
	pos.Debt.Set(newDebt)
	l.setStake(pos)

	if err := l.sorted.Reinsert(owner, nicr, hintPrev, hintNext); err != nil {
		panic(fmt.Sprintf("state: sorted reinsert of active position: %v", err))
	}

	l.emitPositionUpdated(pos)
	return nil
}

// ClosePosition repays the full debt from the caller's balance and returns
// the escrowed collateral to the owner. The last active position can never be
// closed: fee and stake ratios must stay defined.
func (l *PositionLedger) ClosePosition(caller, owner uuid.UUID) error {
	if !l.CanManage(caller, owner) {
		return ErrDelegateNotWhitelisted
	}
	pos, ok := l.positions[owner]
	if !ok || !pos.IsActive() {
		return ErrPositionNotActive
	}
	if l.sorted.Size() <= 1 {
		return ErrOnlyOnePositionInSystem
	}

	if err := l.applyPendingRewards(pos); err != nil {
		return err
	}

	if l.debtToken.BalanceOf(caller).Lt(pos.Debt) {
		return ErrRepayInsufficientBalance
	}
	if err := l.debtToken.Burn(caller, pos.Debt); err != nil {
		return err
	}
	if err := l.vault.Release(owner, pos.Collateral); err != nil {
		return fmt.Errorf("release closed collateral: %w", err)
	}

	l.totalActiveCollateral.Sub(l.totalActiveCollateral, pos.Collateral)
	l.totalActiveDebt.Sub(l.totalActiveDebt, pos.Debt)

	l.removeStake(pos)
	if err := l.sorted.Remove(owner); err != nil {
		panic(fmt.Sprintf("state: sorted remove of active position: %v", err))
	}
	l.closeRecord(pos, StatusClosedByOwner)
	l.emitPositionUpdated(pos)
	return nil
}

// --- internals shared with the liquidation and redemption engines ---

func (l *PositionLedger) decayBaseRate() error {
	rate, changed, err := l.fees.DecayBaseRate()
	if err != nil {
		return err
	}
	if changed {
		l.emit(&event.BaseRateUpdated{BaseRate: rate.Dec()})
	}
	return nil
}

// applyPendingRewards realizes the position's redistribution share and moves
// it from the pending pool into the active totals.
func (l *PositionLedger) applyPendingRewards(pos *Position) error {
	collReward, debtReward, err := l.rewards.ApplyPendingRewards(pos)
	if err != nil {
		return err
	}
	l.totalActiveCollateral.Add(l.totalActiveCollateral, collReward)
	l.totalActiveDebt.Add(l.totalActiveDebt, debtReward)
	return nil
}

// setStake recomputes the position's stake from its collateral. The first
// position (no snapshots yet) stakes 1:1; later positions scale by
// totalStakesSnapshot / totalCollateralSnapshot so reward shares stay fair
// across positions opened at different system collateral levels.
func (l *PositionLedger) setStake(pos *Position) {
	var newStake *uint256.Int
	if l.dist.TotalCollateralSnapshot.IsZero() {
		newStake = new(uint256.Int).Set(pos.Collateral)
	} else {
		s, err := fpmath.MulDiv(pos.Collateral, l.dist.TotalStakesSnapshot, l.dist.TotalCollateralSnapshot)
		if err != nil {
			panic(fmt.Sprintf("state: stake computation: %v", err))
		}
		newStake = s
	}

	l.dist.TotalStakes.Sub(l.dist.TotalStakes, pos.Stake)
	l.dist.TotalStakes.Add(l.dist.TotalStakes, newStake)
	pos.Stake.Set(newStake)
	l.emit(&event.TotalStakesUpdated{TotalStakes: l.dist.TotalStakes.Dec()})
}

func (l *PositionLedger) removeStake(pos *Position) {
	l.dist.TotalStakes.Sub(l.dist.TotalStakes, pos.Stake)
	pos.Stake.Clear()
	l.emit(&event.TotalStakesUpdated{TotalStakes: l.dist.TotalStakes.Dec()})
}

// closeRecord zeroes the record and marks the terminal status. The caller
// has already removed the position from the index and the stake sum.
func (l *PositionLedger) closeRecord(pos *Position, status Status) {
	pos.Debt.Clear()
	pos.Collateral.Clear()
	pos.SnapshotCollateral.Clear()
	pos.SnapshotDebt.Clear()
	pos.Status = status
}

// updateSystemSnapshots refreshes the stake-scaling snapshots after a
// liquidation. The collateral snapshot includes the redistribution pool so
// the stake-to-collateral ratio stays meaningful while rewards are pending.
func (l *PositionLedger) updateSystemSnapshots() {
	l.dist.TotalStakesSnapshot.Set(l.dist.TotalStakes)
	total := new(uint256.Int).Add(l.totalActiveCollateral, l.dist.PendingCollateral)
	l.dist.TotalCollateralSnapshot.Set(total)
	l.emit(&event.SystemSnapshotsUpdated{
		TotalStakesSnapshot:     l.dist.TotalStakesSnapshot.Dec(),
		TotalCollateralSnapshot: l.dist.TotalCollateralSnapshot.Dec(),
	})
}

func (l *PositionLedger) emit(ev event.Event) {
	l.events = append(l.events, ev)
}

func (l *PositionLedger) emitPositionUpdated(pos *Position) {
	l.emit(&event.PositionUpdated{
		Owner:      pos.Owner,
		Collateral: pos.Collateral.Dec(),
		Debt:       pos.Debt.Dec(),
		Stake:      pos.Stake.Dec(),
		Status:     pos.Status.String(),
	})
}

// DrainEvents returns and clears the events accumulated by the last
// operations. Called by the core after each command.
func (l *PositionLedger) DrainEvents() []event.Event {
	evs := l.events
	l.events = nil
	return evs
}

// --- read accessors ---

// Position returns a copy of the record for owner.
func (l *PositionLedger) Position(owner uuid.UUID) (Position, bool) {
	pos, ok := l.positions[owner]
	if !ok {
		return Position{}, false
	}
	return Position{
		Owner:              pos.Owner,
		Debt:               new(uint256.Int).Set(pos.Debt),
		Collateral:         new(uint256.Int).Set(pos.Collateral),
		Stake:              new(uint256.Int).Set(pos.Stake),
		Status:             pos.Status,
		SnapshotCollateral: new(uint256.Int).Set(pos.SnapshotCollateral),
		SnapshotDebt:       new(uint256.Int).Set(pos.SnapshotDebt),
	}, true
}

// SystemCollateral returns active plus pending collateral.
func (l *PositionLedger) SystemCollateral() *uint256.Int {
	return new(uint256.Int).Add(l.totalActiveCollateral, l.dist.PendingCollateral)
}

// SystemDebt returns active plus pending debt.
func (l *PositionLedger) SystemDebt() *uint256.Int {
	return new(uint256.Int).Add(l.totalActiveDebt, l.dist.PendingDebt)
}

func (l *PositionLedger) Sorted() *sorted.List          { return l.sorted }
func (l *PositionLedger) Fees() *FeeEngine              { return l.fees }
func (l *PositionLedger) Distribution() *DistributionState { return l.dist }
func (l *PositionLedger) Rewards() *RewardDistributor   { return l.rewards }
func (l *PositionLedger) FeeRecipient() uuid.UUID       { return l.feeRecipient }
func (l *PositionLedger) PriceFeed() oracle.PriceFeed   { return l.price }

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
