package core

import (
	"strings"
	"time"
)

// Conversation is a per-peer messaging channel.
type Conversation struct {
	ID          string            `json:"id"` // network topic
	PeerAddress string            `json:"peer_address"`
	CreatedAt   time.Time         `json:"created_at"`
	Context     map[string]string `json:"context,omitempty"`
}

// ConversationSet is an append-only, peer-unique sequence of conversations.
// The zero value is an empty set. A set is never modified in place; merges
// return a new value sharing no mutable state with the old one.
type ConversationSet struct {
	items []Conversation
	peers map[string]struct{}
}

// Len returns the number of admitted conversations.
func (s ConversationSet) Len() int { return len(s.items) }

// List returns a copy of the conversations in admission order.
func (s ConversationSet) List() []Conversation {
	out := make([]Conversation, len(s.items))
	copy(out, s.items)
	return out
}

// Contains reports whether a conversation with peer was admitted.
func (s ConversationSet) Contains(peer string) bool {
	_, ok := s.peers[peerKey(peer)]
	return ok
}

// ByID returns the conversation with the given topic.
func (s ConversationSet) ByID(id string) (Conversation, bool) {
	for _, c := range s.items {
		if c.ID == id {
			return c, true
		}
	}
	return Conversation{}, false
}

// MergeConversations admits every conversation in batch, in order, whose
// peer is not yet present and is not self. It returns the new set and the
// conversations that were admitted by this call.
func MergeConversations(state ConversationSet, batch []Conversation, self string) (ConversationSet, []Conversation) {
	var admitted []Conversation
	next := state
	cloned := false
	for _, c := range batch {
		key := peerKey(c.PeerAddress)
		if key == "" || SameAddress(c.PeerAddress, self) {
			continue
		}
		if _, dup := next.peers[key]; dup {
			continue
		}
		if !cloned {
			next = state.clone(len(batch))
			cloned = true
		}
		next.items = append(next.items, c)
		next.peers[key] = struct{}{}
		admitted = append(admitted, c)
	}
	return next, admitted
}

func (s ConversationSet) clone(extra int) ConversationSet {
	items := make([]Conversation, len(s.items), len(s.items)+extra)
	copy(items, s.items)
	peers := make(map[string]struct{}, len(s.peers)+extra)
	for k := range s.peers {
		peers[k] = struct{}{}
	}
	return ConversationSet{items: items, peers: peers}
}

func peerKey(address string) string {
	return strings.ToLower(trimHexPrefix(address))
}
