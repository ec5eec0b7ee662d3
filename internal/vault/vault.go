// Package vault is the collateral custody boundary. Free balances are
// collateral a holder can spend or withdraw; the escrow pool backs open
// positions and is paid out only on close, liquidation, and redemption.
package vault

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance = errors.New("insufficient free collateral balance")
	ErrInsufficientEscrow  = errors.New("insufficient escrowed collateral")
)

// Vault tracks free collateral per holder plus the single escrow pool.
// Not thread-safe — only accessed from the single-threaded core.
type Vault struct {
	free     map[uuid.UUID]*uint256.Int
	escrowed *uint256.Int
}

func NewVault() *Vault {
	return &Vault{
		free:     make(map[uuid.UUID]*uint256.Int),
		escrowed: new(uint256.Int),
	}
}

// Fund credits external collateral to a holder's free balance. This is the
// deposit boundary; the chain/transfer mechanics live outside this service.
func (v *Vault) Fund(holder uuid.UUID, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	balance := v.freeRef(holder)
	if _, overflow := balance.AddOverflow(balance, amount); overflow {
		return fmt.Errorf("fund %s: balance overflow", holder)
	}
	return nil
}

// Escrow moves amount from the holder's free balance into the escrow pool.
func (v *Vault) Escrow(holder uuid.UUID, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	balance := v.freeRef(holder)
	if balance.Lt(amount) {
		return fmt.Errorf("escrow %s from %s (free %s): %w",
			amount.Dec(), holder, balance.Dec(), ErrInsufficientBalance)
	}
	balance.Sub(balance, amount)
	v.escrowed.Add(v.escrowed, amount)
	return nil
}

// Release pays amount out of the escrow pool into the recipient's free
// balance.
func (v *Vault) Release(to uuid.UUID, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if v.escrowed.Lt(amount) {
		return fmt.Errorf("release %s to %s (escrowed %s): %w",
			amount.Dec(), to, v.escrowed.Dec(), ErrInsufficientEscrow)
	}
	v.escrowed.Sub(v.escrowed, amount)
	v.freeRef(to).Add(v.freeRef(to), amount)
	return nil
}

// FreeBalanceOf returns the holder's spendable collateral.
func (v *Vault) FreeBalanceOf(holder uuid.UUID) *uint256.Int {
	if b, ok := v.free[holder]; ok {
		return new(uint256.Int).Set(b)
	}
	return new(uint256.Int)
}

// Escrowed returns the total collateral backing open positions.
func (v *Vault) Escrowed() *uint256.Int {
	return new(uint256.Int).Set(v.escrowed)
}

// Balances exports non-zero free balances and the escrow pool as decimal
// strings, for snapshots.
func (v *Vault) Balances() (map[uuid.UUID]string, string) {
	out := make(map[uuid.UUID]string, len(v.free))
	for holder, b := range v.free {
		if !b.IsZero() {
			out[holder] = b.Dec()
		}
	}
	return out, v.escrowed.Dec()
}

// Restore loads balances into an empty vault.
func (v *Vault) Restore(free map[uuid.UUID]string, escrowed string) error {
	for holder, dec := range free {
		b, err := uint256.FromDecimal(dec)
		if err != nil {
			return fmt.Errorf("restore free balance of %s: %w", holder, err)
		}
		v.free[holder] = b
	}
	e, err := uint256.FromDecimal(escrowed)
	if err != nil {
		return fmt.Errorf("restore escrow pool: %w", err)
	}
	v.escrowed.Set(e)
	return nil
}

func (v *Vault) freeRef(holder uuid.UUID) *uint256.Int {
	b, ok := v.free[holder]
	if !ok {
		b = new(uint256.Int)
		v.free[holder] = b
	}
	return b
}
