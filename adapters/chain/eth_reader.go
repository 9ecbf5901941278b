// Package chain reads the on-chain state that access conditions test.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/layer-3/murmur/core"
	"github.com/layer-3/murmur/ports"
)

// balanceOfABI covers both ERC20 and ERC721 balanceOf(address).
const balanceOfABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

// ContractCaller is the subset of ethclient.Client used for reads.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// EthBalanceReader evaluates balanceOf against JSON-RPC endpoints, one per
// chain name.
type EthBalanceReader struct {
	abi     abi.ABI
	rpcURLs map[string]string

	mu      sync.Mutex
	callers map[string]ContractCaller
}

// NewEthBalanceReader creates a reader dialing rpcURLs lazily.
func NewEthBalanceReader(rpcURLs map[string]string) (*EthBalanceReader, error) {
	parsed, err := abi.JSON(strings.NewReader(balanceOfABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse balanceOf abi: %w", err)
	}
	return &EthBalanceReader{
		abi:     parsed,
		rpcURLs: rpcURLs,
		callers: make(map[string]ContractCaller),
	}, nil
}

// WithCaller registers an already connected caller for chain.
func (r *EthBalanceReader) WithCaller(chain string, caller ContractCaller) *EthBalanceReader {
	r.mu.Lock()
	r.callers[chain] = caller
	r.mu.Unlock()
	return r
}

var _ ports.BalanceReader = (*EthBalanceReader)(nil)

func (r *EthBalanceReader) caller(ctx context.Context, chain string) (ContractCaller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.callers[chain]; ok {
		return c, nil
	}
	url, ok := r.rpcURLs[chain]
	if !ok {
		return nil, fmt.Errorf("no rpc endpoint configured for chain %q", chain)
	}
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", chain, err)
	}
	r.callers[chain] = client
	return client, nil
}

// BalanceOf calls condition.Method on the condition's contract for owner.
func (r *EthBalanceReader) BalanceOf(ctx context.Context, condition core.AccessCondition, owner string) (*big.Int, error) {
	if !common.IsHexAddress(owner) {
		return nil, core.ErrInvalidAddress
	}
	caller, err := r.caller(ctx, condition.Chain)
	if err != nil {
		return nil, err
	}

	data, err := r.abi.Pack(core.MethodBalanceOf, common.HexToAddress(owner))
	if err != nil {
		return nil, err
	}
	contract := common.HexToAddress(condition.ContractAddress)
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf call failed: %w", err)
	}

	values, err := r.abi.Unpack(core.MethodBalanceOf, out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode balanceOf result: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected balanceOf result arity %d", len(values))
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", values[0])
	}
	return balance, nil
}
