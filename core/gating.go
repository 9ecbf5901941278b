package core

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Supported contract standards. Both expose balanceOf(owner).
const (
	StandardERC721 = "ERC721"
	StandardERC20  = "ERC20"
)

// MethodBalanceOf is the only on-chain read supported by conditions.
const MethodBalanceOf = "balanceOf"

// ParamUserAddress is substituted with the requester's address at
// evaluation time.
const ParamUserAddress = ":userAddress"

// DefaultChain is the chain used when a condition does not name one.
const DefaultChain = "mumbai"

// ReturnValueTest compares the on-chain return value with Value.
type ReturnValueTest struct {
	Comparator string          `json:"comparator"`
	Value      decimal.Decimal `json:"value"`
}

// AccessCondition is an on-chain ownership predicate. It is immutable once
// attached to gated content.
type AccessCondition struct {
	ContractAddress      string          `json:"contractAddress"`
	StandardContractType string          `json:"standardContractType"`
	Chain                string          `json:"chain"`
	Method               string          `json:"method"`
	Parameters           []string        `json:"parameters"`
	ReturnValueTest      ReturnValueTest `json:"returnValueTest"`
}

// NewOwnershipCondition returns the default gate: the requester must hold
// at least one token of the ERC721 contract on chain.
func NewOwnershipCondition(contract, chain string) (AccessCondition, error) {
	if chain == "" {
		chain = DefaultChain
	}
	c := AccessCondition{
		ContractAddress:      contract,
		StandardContractType: StandardERC721,
		Chain:                chain,
		Method:               MethodBalanceOf,
		Parameters:           []string{ParamUserAddress},
		ReturnValueTest:      ReturnValueTest{Comparator: ">", Value: decimal.Zero},
	}
	return c.Normalize()
}

// Normalize validates the condition and fills defaults. The returned value
// has a checksummed contract address.
func (c AccessCondition) Normalize() (AccessCondition, error) {
	addr, err := NormalizeAddress(c.ContractAddress)
	if err != nil {
		return AccessCondition{}, fmt.Errorf("%w: contract: %w", ErrInvalidCondition, err)
	}
	c.ContractAddress = addr
	if c.StandardContractType == "" {
		c.StandardContractType = StandardERC721
	}
	if c.StandardContractType != StandardERC721 && c.StandardContractType != StandardERC20 {
		return AccessCondition{}, fmt.Errorf("%w: unsupported standard %q", ErrInvalidCondition, c.StandardContractType)
	}
	if c.Chain == "" {
		c.Chain = DefaultChain
	}
	if c.Method == "" {
		c.Method = MethodBalanceOf
	}
	if c.Method != MethodBalanceOf {
		return AccessCondition{}, fmt.Errorf("%w: unsupported method %q", ErrInvalidCondition, c.Method)
	}
	if len(c.Parameters) == 0 {
		c.Parameters = []string{ParamUserAddress}
	}
	if len(c.Parameters) != 1 || c.Parameters[0] != ParamUserAddress {
		return AccessCondition{}, fmt.Errorf("%w: balanceOf takes exactly %s", ErrInvalidCondition, ParamUserAddress)
	}
	if _, err := compare(c.ReturnValueTest.Comparator, 0); err != nil {
		return AccessCondition{}, err
	}
	return c, nil
}

// Evaluate applies the return value test to an on-chain result.
func (c AccessCondition) Evaluate(result *big.Int) (bool, error) {
	if result == nil {
		return false, fmt.Errorf("%w: missing on-chain result", ErrInvalidCondition)
	}
	return compare(c.ReturnValueTest.Comparator, decimal.NewFromBigInt(result, 0).Cmp(c.ReturnValueTest.Value))
}

// Digest is a stable hash of the condition, used to bind encrypted keys to
// it.
func (c AccessCondition) Digest() ([32]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(raw), nil
}

func compare(comparator string, cmp int) (bool, error) {
	switch comparator {
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case "=", "==":
		return cmp == 0, nil
	case "!=":
		return cmp != 0, nil
	default:
		return false, fmt.Errorf("%w: unknown comparator %q", ErrInvalidCondition, comparator)
	}
}

// GatedContentRecord describes a piece of encrypted, condition-gated
// content. It is published once and never mutated.
type GatedContentRecord struct {
	Condition             AccessCondition `json:"condition"`
	EncryptedFileLocator  string          `json:"encryptedFileCID"`
	EncryptedSymmetricKey string          `json:"encryptedSymmetricKey"` // hex
	ContentType           string          `json:"contentType"`
	Title                 string          `json:"title"`
	Description           string          `json:"description"`
	IsPublic              bool            `json:"isPublic"`
}

// Validate checks that a fetched record is usable.
func (r GatedContentRecord) Validate() error {
	if r.EncryptedFileLocator == "" || r.EncryptedSymmetricKey == "" {
		return fmt.Errorf("%w: missing encrypted payload", ErrInvalidRecord)
	}
	if _, err := r.Condition.Normalize(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	return nil
}

// Preview returns what may be shown before the content is unlocked.
func (r GatedContentRecord) Preview(locator string) GatedPreview {
	return GatedPreview{
		Locator:     locator,
		Condition:   r.Condition,
		ContentType: r.ContentType,
		Title:       r.Title,
		Description: r.Description,
		IsPublic:    r.IsPublic,
	}
}

// GatedPreview is the locked view of a GatedContentRecord. It never holds
// the encrypted key or plaintext.
type GatedPreview struct {
	Locator     string          `json:"locator"`
	Condition   AccessCondition `json:"condition"`
	ContentType string          `json:"content_type"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	IsPublic    bool            `json:"is_public"`
}

// UnlockStatus is the per-record unlock state seen by one recipient.
type UnlockStatus string

const (
	UnlockLocked    UnlockStatus = "locked"
	UnlockUnlocking UnlockStatus = "unlocking"
	UnlockUnlocked  UnlockStatus = "unlocked"
	UnlockFailed    UnlockStatus = "failed"
)

// UnlockState reports the current unlock status and the last failure.
type UnlockState struct {
	Status UnlockStatus `json:"status"`
	Err    error        `json:"-"`
}
