package keyservice

import (
	"context"
	"testing"
	"time"

	"github.com/layer-3/murmur/adapters/chain"
	"github.com/layer-3/murmur/adapters/tokenizer"
	"github.com/layer-3/murmur/core"
	"github.com/layer-3/murmur/internal/eth"
	"github.com/layer-3/murmur/internal/logging"
	"github.com/layer-3/murmur/ports"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const contract = "0x83b06d09b99ad2641dd9b1132e8ce8809b623433"

type fixture struct {
	svc      *Service
	auth     *tokenizer.JWTAuthorizer
	balances *chain.StaticBalanceReader
	cond     core.AccessCondition
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	auth := tokenizer.NewJWTAuthorizer(time.Minute)
	balances := chain.NewStaticBalanceReader()
	svc, err := NewRandom(auth, balances, logging.Discard())
	require.NoError(t, err)
	cond, err := core.NewOwnershipCondition(contract, "mumbai")
	require.NoError(t, err)
	return &fixture{svc: svc, auth: auth, balances: balances, cond: cond}
}

func (f *fixture) token(t *testing.T, purpose string) (string, string) {
	t.Helper()
	signer, err := eth.GenerateLocalSigner()
	require.NoError(t, err)
	addr, err := signer.Address(context.Background())
	require.NoError(t, err)
	tok, err := f.auth.Authorize(context.Background(), signer, addr, purpose)
	require.NoError(t, err)
	return tok, addr
}

func TestRoundTripForHolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	encTok, _ := f.token(t, ports.PurposeEncrypt)
	encrypted, encKey, err := f.svc.EncryptFile(ctx, []byte("secret picture"), f.cond, encTok)
	require.NoError(t, err)
	assert.NotContains(t, string(encrypted), "secret picture")

	decTok, holder := f.token(t, ports.PurposeDecrypt)
	f.balances.Set("mumbai", contract, holder, 1)

	key, err := f.svc.GetEncryptionKey(ctx, encKey, f.cond, decTok)
	require.NoError(t, err)

	plain, err := f.svc.DecryptFile(encrypted, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret picture"), plain)

	// Repeated unlock with a satisfied condition is deterministic.
	again, err := f.svc.GetEncryptionKey(ctx, encKey, f.cond, decTok)
	require.NoError(t, err)
	assert.Equal(t, key, again)
}

func TestConditionNotMet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	encTok, _ := f.token(t, ports.PurposeEncrypt)
	_, encKey, err := f.svc.EncryptFile(ctx, []byte("x"), f.cond, encTok)
	require.NoError(t, err)

	decTok, _ := f.token(t, ports.PurposeDecrypt)
	_, err = f.svc.GetEncryptionKey(ctx, encKey, f.cond, decTok)
	assert.ErrorIs(t, err, core.ErrConditionNotMet)
}

func TestKeyIsBoundToCondition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	encTok, _ := f.token(t, ports.PurposeEncrypt)
	_, encKey, err := f.svc.EncryptFile(ctx, []byte("x"), f.cond, encTok)
	require.NoError(t, err)

	// A recipient who satisfies a weaker condition cannot reuse the key.
	weaker := f.cond
	weaker.ReturnValueTest.Comparator = ">="
	weaker.ReturnValueTest.Value = decimal.Zero

	decTok, _ := f.token(t, ports.PurposeDecrypt)
	_, err = f.svc.GetEncryptionKey(ctx, encKey, weaker, decTok)
	assert.ErrorIs(t, err, core.ErrConditionNotMet)
}

func TestAuthorizationRequired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.EncryptFile(ctx, []byte("x"), f.cond, "garbage")
	assert.ErrorIs(t, err, core.ErrAuthorizationRejected)

	// A token for the wrong purpose is refused too.
	encTok, _ := f.token(t, ports.PurposeEncrypt)
	_, encKey, err := f.svc.EncryptFile(ctx, []byte("x"), f.cond, encTok)
	require.NoError(t, err)
	_, err = f.svc.GetEncryptionKey(ctx, encKey, f.cond, encTok)
	assert.ErrorIs(t, err, core.ErrAuthorizationRejected)
}

func TestDecryptFileRejectsTampering(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.DecryptFile([]byte("short"), make([]byte, 32))
	assert.ErrorIs(t, err, core.ErrEncryption)
}

func TestNewRejectsBadMasterKey(t *testing.T) {
	_, err := New([]byte("short"), nil, nil, nil)
	assert.Error(t, err)
}
