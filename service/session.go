package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/layer-3/murmur/core"
	"github.com/layer-3/murmur/ports"
	"github.com/sirupsen/logrus"
)

// Resetter is a component holding per-session state. Reset is called on
// disconnect and must not block.
type Resetter interface {
	Reset()
}

// Handle is an initialised session. It is passed explicitly to every
// component that talks to the network.
type Handle struct {
	Address string
	Signer  ports.Signer
	Keys    core.KeyBundle
	Client  ports.NetworkClient
	Epoch   uint64

	// Ctx is cancelled when the session ends.
	Ctx context.Context
}

// Live reports whether the session the handle belongs to is still open.
func (h Handle) Live() bool {
	return h.Ctx != nil && h.Ctx.Err() == nil
}

// SessionStatus is a snapshot of the session manager.
type SessionStatus struct {
	Address   string `json:"address,omitempty"`
	Epoch     uint64 `json:"epoch"`
	Connected bool   `json:"connected"`
	Ready     bool   `json:"ready"`
	Error     string `json:"error,omitempty"`
}

// SessionManager turns a wallet signer into a messaging session.
type SessionManager struct {
	keys    ports.KeyStore
	clients ports.ClientFactory
	events  ports.EventPublisher
	log     logrus.FieldLogger
	now     func() time.Time

	mu        sync.Mutex
	epoch     uint64
	address   string
	signer    ports.Signer
	ctx       context.Context
	cancel    context.CancelFunc
	ready     chan struct{}
	done      bool
	handle    *Handle
	err       error
	resetters []Resetter
	onReady   []func(Handle)
}

// NewSessionManager creates a session manager. events may be nil.
func NewSessionManager(keys ports.KeyStore, clients ports.ClientFactory, events ports.EventPublisher, log logrus.FieldLogger) *SessionManager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SessionManager{
		keys:    keys,
		clients: clients,
		events:  events,
		log:     log.WithField("component", "session"),
		now:     time.Now,
	}
}

// Register adds components that are reset on every disconnect.
func (m *SessionManager) Register(rs ...Resetter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetters = append(m.resetters, rs...)
}

// OnReady registers fn to run, in its own goroutine, each time a session
// finishes initialising.
func (m *SessionManager) OnReady(fn func(Handle)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReady = append(m.onReady, fn)
}

// Connect starts a session for signer. Key material is loaded or derived
// in the background; use Ready to wait for it. Connecting the same wallet
// again is a no-op, unless its initialisation failed, in which case that
// error is returned and the caller must Disconnect before retrying.
func (m *SessionManager) Connect(ctx context.Context, signer ports.Signer) error {
	raw, err := signer.Address(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrIdentity, err)
	}
	address, err := core.NormalizeAddress(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrIdentity, err)
	}

	m.mu.Lock()
	if m.address != "" {
		same := core.SameAddress(m.address, address)
		err := m.err
		m.mu.Unlock()
		if !same {
			return fmt.Errorf("%w: %w", core.ErrIdentity, core.ErrAlreadyConnected)
		}
		// A failed session stays in place until Disconnect.
		return err
	}
	m.epoch++
	epoch := m.epoch
	m.address = address
	m.signer = signer
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.ready = make(chan struct{})
	m.done = false
	m.handle = nil
	m.err = nil
	sctx := m.ctx
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{"address": address, "epoch": epoch}).Info("session connecting")
	m.publish(core.EventConnected, address, epoch, "")

	go m.bootstrap(sctx, epoch, signer, address)
	return nil
}

func (m *SessionManager) bootstrap(ctx context.Context, epoch uint64, signer ports.Signer, address string) {
	log := m.log.WithFields(logrus.Fields{"address": address, "epoch": epoch})

	var h Handle
	keys, created, err := LoadOrCreateKeys(ctx, m.keys, signer, address)
	if err != nil {
		err = core.Classify(core.ErrIdentity, err)
	} else {
		if created {
			log.Info("derived new key material")
			m.publish(core.EventKeysDerived, address, epoch, "")
		}
		var client ports.NetworkClient
		client, err = m.clients.NewClient(ctx, keys)
		if err != nil {
			err = core.Classify(core.ErrNetwork, err)
		} else {
			h = Handle{Address: address, Signer: signer, Keys: keys, Client: client, Epoch: epoch, Ctx: ctx}
		}
	}

	m.mu.Lock()
	if m.epoch != epoch || m.done {
		m.mu.Unlock()
		if h.Client != nil {
			_ = h.Client.Close()
		}
		return
	}
	m.done = true
	m.err = err
	if err == nil {
		m.handle = &h
	}
	close(m.ready)
	hooks := make([]func(Handle), len(m.onReady))
	copy(hooks, m.onReady)
	m.mu.Unlock()

	if err != nil {
		log.WithError(err).Error("session initialisation failed")
		return
	}
	log.Info("session ready")
	for _, fn := range hooks {
		go fn(h)
	}
}

// Ready blocks until the current session is initialised and returns its
// handle, or the initialisation error.
func (m *SessionManager) Ready(ctx context.Context) (Handle, error) {
	m.mu.Lock()
	if m.address == "" {
		m.mu.Unlock()
		return Handle{}, fmt.Errorf("%w: %w", core.ErrIdentity, core.ErrNotConnected)
	}
	epoch, ready := m.epoch, m.ready
	m.mu.Unlock()

	select {
	case <-ready:
	case <-ctx.Done():
		return Handle{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return Handle{}, fmt.Errorf("%w: %w", core.ErrIdentity, core.ErrStaleSession)
	}
	if m.err != nil {
		return Handle{}, m.err
	}
	return *m.handle, nil
}

// Current returns the handle of the session if it is initialised.
func (m *SessionManager) Current() (Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle == nil {
		return Handle{}, false
	}
	return *m.handle, true
}

// IsCurrent reports whether epoch is the epoch of the open session.
func (m *SessionManager) IsCurrent(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.address != "" && m.epoch == epoch
}

// Status returns a snapshot of the session.
func (m *SessionManager) Status() SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := SessionStatus{
		Address:   m.address,
		Epoch:     m.epoch,
		Connected: m.address != "",
		Ready:     m.handle != nil,
	}
	if m.err != nil {
		s.Error = m.err.Error()
	}
	return s
}

// Disconnect ends the session: it cancels every subscription, closes the
// client and resets every registered component. It is a no-op when no
// session is open.
func (m *SessionManager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.address == "" {
		m.mu.Unlock()
		return nil
	}
	address, epoch := m.address, m.epoch
	h := m.handle
	m.cancel()
	if !m.done {
		m.done = true
		m.err = fmt.Errorf("%w: %w", core.ErrIdentity, core.ErrNotConnected)
		close(m.ready)
	}
	m.epoch++
	m.address = ""
	m.signer = nil
	m.ctx, m.cancel = nil, nil
	m.handle = nil
	resetters := append([]Resetter(nil), m.resetters...)
	m.mu.Unlock()

	if h != nil {
		if err := h.Client.Close(); err != nil {
			m.log.WithError(err).Warn("failed to close network client")
		}
	}
	for _, r := range resetters {
		r.Reset()
	}

	m.log.WithFields(logrus.Fields{"address": address, "epoch": epoch}).Info("session disconnected")
	m.publish(core.EventDisconnected, address, epoch, "")
	return nil
}

// Degraded records a non-fatal failure of a session subsystem.
func (m *SessionManager) Degraded(h Handle, err error) {
	m.publish(core.EventStreamDegraded, h.Address, h.Epoch, err.Error())
}

func (m *SessionManager) publish(typ core.SessionEventType, address string, epoch uint64, detail string) {
	if m.events == nil {
		return
	}
	event := core.SessionEvent{
		Type:       typ,
		Address:    address,
		Epoch:      epoch,
		Detail:     detail,
		OccurredAt: m.now().UTC(),
	}
	if err := m.events.PublishSessionEvent(context.Background(), event); err != nil {
		m.log.WithError(err).WithField("event", typ).Warn("failed to publish session event")
	}
}
