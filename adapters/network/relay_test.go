package network

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/murmur/core"
	"github.com/layer-3/murmur/internal/eth"
	"github.com/layer-3/murmur/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBundle(t *testing.T) (core.KeyBundle, string) {
	t.Helper()
	ctx := context.Background()
	wallet, err := eth.GenerateLocalSigner()
	require.NoError(t, err)
	addr, err := wallet.Address(ctx)
	require.NoError(t, err)

	identity, err := crypto.GenerateKey()
	require.NoError(t, err)
	pub := crypto.CompressPubkey(&identity.PublicKey)
	sig, err := wallet.SignMessage(ctx, core.IdentityPayload(pub))
	require.NoError(t, err)

	return core.KeyBundle{
		Version:         core.KeyBundleVersion,
		WalletAddress:   addr,
		IdentityKey:     crypto.FromECDSA(identity),
		IdentityPublic:  pub,
		WalletSignature: sig,
	}, addr
}

func newClient(t *testing.T, r *Relay) (ports.NetworkClient, string) {
	t.Helper()
	bundle, addr := newBundle(t)
	c, err := r.NewClient(context.Background(), bundle)
	require.NoError(t, err)
	return c, addr
}

func TestNewClientVerifiesBundle(t *testing.T) {
	r := NewInMemoryRelay(nil)
	defer r.Close()

	bundle, addr := newBundle(t)
	c, err := r.NewClient(context.Background(), bundle)
	require.NoError(t, err)
	assert.Equal(t, addr, c.Address())

	forged := bundle
	other, _ := newBundle(t)
	forged.WalletSignature = other.WalletSignature
	_, err = r.NewClient(context.Background(), forged)
	assert.ErrorIs(t, err, core.ErrInvalidSignature)

	mismatched := bundle
	mismatched.IdentityPublic = other.IdentityPublic
	_, err = r.NewClient(context.Background(), mismatched)
	assert.ErrorIs(t, err, core.ErrInvalidKeyMaterial)
}

func TestConversationsAreVisibleToBothPeers(t *testing.T) {
	r := NewInMemoryRelay(nil)
	defer r.Close()
	ctx := context.Background()

	alice, aliceAddr := newClient(t, r)
	bob, bobAddr := newClient(t, r)

	convo, err := alice.NewConversation(ctx, bobAddr)
	require.NoError(t, err)
	assert.Equal(t, bobAddr, convo.PeerAddress)

	again, err := alice.NewConversation(ctx, bobAddr)
	require.NoError(t, err)
	assert.Equal(t, convo.ID, again.ID)

	list, err := bob.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, convo.ID, list[0].ID)
	assert.Equal(t, aliceAddr, list[0].PeerAddress)
}

func TestStreamConversations(t *testing.T) {
	r := NewInMemoryRelay(nil)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	alice, aliceAddr := newClient(t, r)
	bob, bobAddr := newClient(t, r)

	stream, err := bob.StreamConversations(ctx)
	require.NoError(t, err)

	_, err = alice.NewConversation(ctx, bobAddr)
	require.NoError(t, err)

	select {
	case c := <-stream:
		assert.Equal(t, aliceAddr, c.PeerAddress)
	case <-ctx.Done():
		t.Fatal("no conversation streamed")
	}
}

func TestMessagesHistoryAndStream(t *testing.T) {
	r := NewInMemoryRelay(nil)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	alice, aliceAddr := newClient(t, r)
	bob, bobAddr := newClient(t, r)
	convo, err := alice.NewConversation(ctx, bobAddr)
	require.NoError(t, err)

	stream, err := bob.StreamMessages(ctx, convo.ID)
	require.NoError(t, err)

	var sent []core.Message
	for _, text := range []string{"one", "two", "three"} {
		m, err := alice.Send(ctx, convo.ID, core.TextBody(text))
		require.NoError(t, err)
		assert.Equal(t, aliceAddr, m.SenderAddress)
		sent = append(sent, m)
	}

	for i := range sent {
		select {
		case m := <-stream:
			assert.Equal(t, sent[i].ID, m.ID, "stream must preserve order")
		case <-ctx.Done():
			t.Fatal("message not streamed")
		}
	}

	history, err := bob.ListMessages(ctx, convo.ID, core.Window{Limit: 2})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "two", history[0].Body.Text)
	assert.Equal(t, "three", history[1].Body.Text)
}

func TestNonMembersAreRejected(t *testing.T) {
	r := NewInMemoryRelay(nil)
	defer r.Close()
	ctx := context.Background()

	alice, _ := newClient(t, r)
	_, bobAddr := newClient(t, r)
	mallory, _ := newClient(t, r)

	convo, err := alice.NewConversation(ctx, bobAddr)
	require.NoError(t, err)

	_, err = mallory.Send(ctx, convo.ID, core.TextBody("hi"))
	assert.ErrorIs(t, err, core.ErrConversationNotFound)
	_, err = mallory.ListMessages(ctx, convo.ID, core.Window{})
	assert.ErrorIs(t, err, core.ErrConversationNotFound)
	_, err = mallory.StreamMessages(ctx, convo.ID)
	assert.ErrorIs(t, err, core.ErrConversationNotFound)
}

func TestStreamEndsWhenRelayCloses(t *testing.T) {
	r := NewInMemoryRelay(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	alice, _ := newClient(t, r)
	stream, err := alice.StreamConversations(ctx)
	require.NoError(t, err)

	require.NoError(t, r.Close())

	select {
	case _, ok := <-stream:
		assert.False(t, ok)
	case <-ctx.Done():
		t.Fatal("stream did not end")
	}
}
