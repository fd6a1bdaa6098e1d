package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance = errors.New("insufficient token balance")
	ErrSupplyOverflow      = errors.New("token supply overflow")
)

// Ledger is an in-memory fungible token: balances keyed by address and a total
// supply. It is safe for concurrent use.
type Ledger struct {
	token Token

	mu          sync.RWMutex
	balances    map[common.Address]*uint256.Int
	totalSupply *uint256.Int
}

// NewLedger creates an empty ledger for t.
func NewLedger(t Token) *Ledger {
	return &Ledger{
		token:       t,
		balances:    make(map[common.Address]*uint256.Int),
		totalSupply: new(uint256.Int),
	}
}

// Token returns the ledger's token metadata.
func (l *Ledger) Token() Token {
	return l.token
}

// BalanceOf returns a copy of owner's balance.
func (l *Ledger) BalanceOf(owner common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[owner]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

// TotalSupply returns a copy of the total supply.
func (l *Ledger) TotalSupply() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalSupply.Clone()
}

// Mint credits amount to `to`.
func (l *Ledger) Mint(to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	supply, overflow := new(uint256.Int).AddOverflow(l.totalSupply, amount)
	if overflow {
		return ErrSupplyOverflow
	}
	l.totalSupply = supply
	l.credit(to, amount)
	return nil
}

// Burn debits amount from `from`.
func (l *Ledger) Burn(from common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.debit(from, amount); err != nil {
		return err
	}
	l.totalSupply = new(uint256.Int).Sub(l.totalSupply, amount)
	return nil
}

// Transfer moves amount from `from` to `to`.
func (l *Ledger) Transfer(from, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.debit(from, amount); err != nil {
		return err
	}
	l.credit(to, amount)
	return nil
}

func (l *Ledger) credit(to common.Address, amount *uint256.Int) {
	b, ok := l.balances[to]
	if !ok {
		b = new(uint256.Int)
		l.balances[to] = b
	}
	// cannot overflow: every balance is bounded by the total supply
	b.Add(b, amount)
}

func (l *Ledger) debit(from common.Address, amount *uint256.Int) error {
	b, ok := l.balances[from]
	if !ok {
		b = new(uint256.Int)
	}
	if b.Lt(amount) {
		return fmt.Errorf("%s: %s has %s, needs %s: %w", l.token.Symbol, from.Hex(), b.Dec(), amount.Dec(), ErrInsufficientBalance)
	}
	if ok {
		b.Sub(b, amount)
	}
	return nil
}
