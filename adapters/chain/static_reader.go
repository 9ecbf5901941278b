package chain

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/layer-3/murmur/core"
	"github.com/layer-3/murmur/ports"
)

// StaticBalanceReader answers balanceOf from a fixed table. It backs local
// development and tests.
type StaticBalanceReader struct {
	mu       sync.RWMutex
	balances map[string]*big.Int
}

// NewStaticBalanceReader creates an empty table; every balance is zero.
func NewStaticBalanceReader() *StaticBalanceReader {
	return &StaticBalanceReader{balances: make(map[string]*big.Int)}
}

var _ ports.BalanceReader = (*StaticBalanceReader)(nil)

func balanceKey(chain, contract, owner string) string {
	return strings.ToLower(chain + "|" + contract + "|" + owner)
}

// Set records the balance of owner for contract on chain.
func (r *StaticBalanceReader) Set(chain, contract, owner string, balance int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[balanceKey(chain, contract, owner)] = big.NewInt(balance)
}

// BalanceOf returns the recorded balance or zero.
func (r *StaticBalanceReader) BalanceOf(ctx context.Context, condition core.AccessCondition, owner string) (*big.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.balances[balanceKey(condition.Chain, condition.ContractAddress, owner)]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}
