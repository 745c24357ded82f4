// Package vault is an in-memory asset custodian used by the dev binary and
// the test suite. Balances are raw amounts at each asset's native precision.
package vault

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var ErrInsufficientFunds = errors.New("insufficient funds")

type holding struct {
	asset  common.Address
	holder common.Address
}

// Vault tracks per-asset balances. Safe for concurrent use.
type Vault struct {
	mu       sync.Mutex
	balances map[holding]*big.Int
}

func New() *Vault {
	return &Vault{balances: make(map[holding]*big.Int)}
}

// Mint credits holder with amount of asset.
func (v *Vault) Mint(asset, holder common.Address, amount *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.credit(asset, holder, amount)
}

// TransferFrom moves amount of asset from one holder to another. The vault
// has no allowance concept; authorization is the caller's concern.
func (v *Vault) TransferFrom(asset, from, to common.Address, amount *big.Int) error {
	return v.move(asset, from, to, amount)
}

// Transfer moves amount of asset from one holder to another.
func (v *Vault) Transfer(asset, from, to common.Address, amount *big.Int) error {
	return v.move(asset, from, to, amount)
}

// BalanceOf returns a copy of holder's balance of asset.
func (v *Vault) BalanceOf(asset, holder common.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()

	if bal, ok := v.balances[holding{asset, holder}]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

func (v *Vault) move(asset, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid amount")
	}
	if amount.Sign() == 0 {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	bal, ok := v.balances[holding{asset, from}]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("%s holds %s of %s, need %s: %w",
			from.Hex(), balString(bal), asset.Hex(), amount, ErrInsufficientFunds)
	}
	bal.Sub(bal, amount)
	v.credit(asset, to, amount)
	return nil
}

func (v *Vault) credit(asset, holder common.Address, amount *big.Int) {
	key := holding{asset, holder}
	if bal, ok := v.balances[key]; ok {
		bal.Add(bal, amount)
		return
	}
	v.balances[key] = new(big.Int).Set(amount)
}

func balString(b *big.Int) string {
	if b == nil {
		return "0"
	}
	return b.String()
}
