// Package token is the fungible debt-token ledger boundary. The position
// engine only needs mint, burn, and balance lookup; transfer semantics live
// outside this service.
package token

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var ErrInsufficientBalance = errors.New("insufficient debt token balance")

// DebtToken is the contract the position engine expects from the token
// ledger. Burn must fail loudly when the holder's balance cannot cover the
// amount.
type DebtToken interface {
	Mint(to uuid.UUID, amount *uint256.Int) error
	Burn(from uuid.UUID, amount *uint256.Int) error
	BalanceOf(holder uuid.UUID) *uint256.Int
	TotalSupply() *uint256.Int
}

// Ledger is the in-memory DebtToken implementation.
// Not thread-safe — only accessed from the single-threaded core.
type Ledger struct {
	balances map[uuid.UUID]*uint256.Int
	supply   *uint256.Int
}

func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[uuid.UUID]*uint256.Int),
		supply:   new(uint256.Int),
	}
}

func (l *Ledger) Mint(to uuid.UUID, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	balance := l.balanceRef(to)
	if _, overflow := balance.AddOverflow(balance, amount); overflow {
		return fmt.Errorf("mint to %s: balance overflow", to)
	}
	if _, overflow := l.supply.AddOverflow(l.supply, amount); overflow {
		return fmt.Errorf("mint to %s: supply overflow", to)
	}
	return nil
}

func (l *Ledger) Burn(from uuid.UUID, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	balance := l.balanceRef(from)
	if balance.Lt(amount) {
		return fmt.Errorf("burn %s from %s (balance %s): %w",
			amount.Dec(), from, balance.Dec(), ErrInsufficientBalance)
	}
	balance.Sub(balance, amount)
	l.supply.Sub(l.supply, amount)
	return nil
}

func (l *Ledger) BalanceOf(holder uuid.UUID) *uint256.Int {
	if b, ok := l.balances[holder]; ok {
		return new(uint256.Int).Set(b)
	}
	return new(uint256.Int)
}

func (l *Ledger) TotalSupply() *uint256.Int {
	return new(uint256.Int).Set(l.supply)
}

// Balances exports every non-zero balance as decimal strings, for snapshots.
func (l *Ledger) Balances() map[uuid.UUID]string {
	out := make(map[uuid.UUID]string, len(l.balances))
	for holder, b := range l.balances {
		if !b.IsZero() {
			out[holder] = b.Dec()
		}
	}
	return out
}

// Restore loads balances into an empty ledger and recomputes the supply.
func (l *Ledger) Restore(balances map[uuid.UUID]string) error {
	for holder, dec := range balances {
		v, err := uint256.FromDecimal(dec)
		if err != nil {
			return fmt.Errorf("restore balance of %s: %w", holder, err)
		}
		l.balances[holder] = v
		l.supply.Add(l.supply, v)
	}
	return nil
}

func (l *Ledger) balanceRef(holder uuid.UUID) *uint256.Int {
	b, ok := l.balances[holder]
	if !ok {
		b = new(uint256.Int)
		l.balances[holder] = b
	}
	return b
}
