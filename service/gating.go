package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/layer-3/murmur/core"
	"github.com/layer-3/murmur/ports"
	"github.com/sirupsen/logrus"
)

// Content types of uploaded gating artefacts.
const (
	ContentTypeEncryptedBlob = "application/octet-stream"
	ContentTypeRecord        = "application/json"
)

// PublishRequest describes content to encrypt and gate.
type PublishRequest struct {
	Data        []byte
	ContentType string
	Title       string
	Description string
	IsPublic    bool
	Condition   core.AccessCondition
}

// PendingUpload is gated content that was encrypted but not yet
// delivered. It can be passed to RetryUpload without encrypting again.
// Locator is set once the record is uploaded.
type PendingUpload struct {
	Address   string                  `json:"address"`
	Encrypted []byte                  `json:"encrypted,omitempty"`
	Record    core.GatedContentRecord `json:"record"`
	Locator   string                  `json:"locator,omitempty"`
}

// PublishError is returned when encryption succeeded but the upload or
// the delivery of the locator failed.
type PublishError struct {
	Pending *PendingUpload
	Err     error
}

func (e *PublishError) Error() string { return e.Err.Error() }

func (e *PublishError) Unwrap() error { return e.Err }

// GatingWorkflow publishes encrypted, condition-gated content and unlocks
// content received from others.
type GatingWorkflow struct {
	authorizer ports.Authorizer
	encryption ports.EncryptionService
	content    ports.ContentStore
	log        logrus.FieldLogger

	mu        sync.Mutex
	epoch     uint64
	states    map[string]core.UnlockState
	records   map[string]core.GatedContentRecord
	plaintext map[string][]byte
}

// NewGatingWorkflow creates a gating workflow.
func NewGatingWorkflow(authorizer ports.Authorizer, encryption ports.EncryptionService, content ports.ContentStore, log logrus.FieldLogger) *GatingWorkflow {
	if log == nil {
		log = logrus.StandardLogger()
	}
	w := &GatingWorkflow{
		authorizer: authorizer,
		encryption: encryption,
		content:    content,
		log:        log.WithField("component", "gating"),
	}
	w.resetLocked()
	return w
}

func gatingErr(err error) error {
	return core.Classify(core.ErrGating, err)
}

// Publish encrypts req.Data under req.Condition, uploads the encrypted
// blob and its record and returns the record locator. Nothing is uploaded
// if authorization or encryption fails. Upload failures return a
// *PublishError.
func (w *GatingWorkflow) Publish(ctx context.Context, h Handle, req PublishRequest) (string, error) {
	if len(req.Data) == 0 {
		return "", fmt.Errorf("%w: %w: empty content", core.ErrGating, core.ErrInvalidRecord)
	}
	condition, err := req.Condition.Normalize()
	if err != nil {
		return "", gatingErr(err)
	}
	if err := stale(h); err != nil {
		return "", err
	}

	authSig, err := w.authorizer.Authorize(ctx, h.Signer, h.Address, ports.PurposeEncrypt)
	if err != nil {
		return "", gatingErr(err)
	}
	encrypted, encryptedKey, err := w.encryption.EncryptFile(ctx, req.Data, condition, authSig)
	if err != nil {
		return "", gatingErr(err)
	}

	pending := &PendingUpload{
		Address:   h.Address,
		Encrypted: encrypted,
		Record: core.GatedContentRecord{
			Condition:             condition,
			EncryptedSymmetricKey: hex.EncodeToString(encryptedKey),
			ContentType:           req.ContentType,
			Title:                 req.Title,
			Description:           req.Description,
			IsPublic:              req.IsPublic,
		},
	}
	return w.upload(ctx, h, pending)
}

// RetryUpload resumes a publish that failed at upload. Only the wallet that
// encrypted the content may retry it. An already uploaded record is not
// uploaded again.
func (w *GatingWorkflow) RetryUpload(ctx context.Context, h Handle, pending *PendingUpload) (string, error) {
	if pending == nil || (pending.Locator == "" && len(pending.Encrypted) == 0) {
		return "", fmt.Errorf("%w: %w: nothing to upload", core.ErrGating, core.ErrInvalidRecord)
	}
	if !core.SameAddress(pending.Address, h.Address) {
		return "", fmt.Errorf("%w: %w: upload belongs to %s", core.ErrGating, core.ErrStaleSession, pending.Address)
	}
	if pending.Locator != "" {
		return pending.Locator, stale(h)
	}
	return w.upload(ctx, h, pending)
}

// stale reports a session that ended while a publish was in flight.
func stale(h Handle) error {
	if h.Live() {
		return nil
	}
	return fmt.Errorf("%w: %w", core.ErrGating, core.ErrStaleSession)
}

func (w *GatingWorkflow) upload(ctx context.Context, h Handle, pending *PendingUpload) (string, error) {
	if pending.Record.EncryptedFileLocator == "" {
		locator, err := w.content.Put(ctx, pending.Encrypted, ContentTypeEncryptedBlob)
		if err != nil {
			return "", w.uploadFailed(pending, err)
		}
		pending.Record.EncryptedFileLocator = locator
	}

	raw, err := json.Marshal(pending.Record)
	if err != nil {
		return "", gatingErr(err)
	}
	locator, err := w.content.Put(ctx, raw, ContentTypeRecord)
	if err != nil {
		return "", w.uploadFailed(pending, err)
	}
	pending.Locator = locator

	log := w.log.WithFields(logrus.Fields{"locator": locator, "epoch": h.Epoch})
	if err := stale(h); err != nil {
		log.Debug("discarding publish result of an ended session")
		return "", err
	}
	log.Info("gated content published")
	return locator, nil
}

func (w *GatingWorkflow) uploadFailed(pending *PendingUpload, err error) error {
	w.log.WithError(err).Warn("gated content upload failed")
	return &PublishError{
		Pending: pending,
		Err:     fmt.Errorf("%w: %w: %w", core.ErrGating, core.ErrUploadFailed, err),
	}
}

// Preview returns the metadata of a gated record without unlocking it.
func (w *GatingWorkflow) Preview(ctx context.Context, locator string) (core.GatedPreview, error) {
	record, err := w.record(ctx, locator)
	if err != nil {
		return core.GatedPreview{}, err
	}
	return record.Preview(locator), nil
}

func (w *GatingWorkflow) record(ctx context.Context, locator string) (core.GatedContentRecord, error) {
	w.mu.Lock()
	record, ok := w.records[locator]
	w.mu.Unlock()
	if ok {
		return record, nil
	}

	raw, err := w.content.Get(ctx, locator)
	if err != nil {
		return core.GatedContentRecord{}, gatingErr(err)
	}
	if err := json.Unmarshal(raw, &record); err != nil {
		return core.GatedContentRecord{}, fmt.Errorf("%w: %w: %v", core.ErrGating, core.ErrInvalidRecord, err)
	}
	if err := record.Validate(); err != nil {
		return core.GatedContentRecord{}, gatingErr(err)
	}

	w.mu.Lock()
	w.records[locator] = record
	w.mu.Unlock()
	return record, nil
}

// Unlock fetches, authorizes and decrypts the content behind locator. The
// encryption service releases the key only if the session's wallet meets
// the record's condition. Failures are recorded per locator and may be
// retried. A result for a session that ended meanwhile is discarded.
func (w *GatingWorkflow) Unlock(ctx context.Context, h Handle, locator string) ([]byte, error) {
	w.mu.Lock()
	if !w.adoptLocked(h) {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", core.ErrGating, core.ErrStaleSession)
	}
	if plain, ok := w.plaintext[locator]; ok {
		w.mu.Unlock()
		return clone(plain), nil
	}
	w.states[locator] = core.UnlockState{Status: core.UnlockUnlocking}
	w.mu.Unlock()

	log := w.log.WithFields(logrus.Fields{"locator": locator, "epoch": h.Epoch})

	plain, err := w.unlock(ctx, h, locator)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.epoch != h.Epoch || !h.Live() {
		log.Debug("discarding unlock result of an ended session")
		return nil, fmt.Errorf("%w: %w", core.ErrGating, core.ErrStaleSession)
	}
	if err != nil {
		w.states[locator] = core.UnlockState{Status: core.UnlockFailed, Err: err}
		log.WithError(err).Warn("unlock failed")
		return nil, err
	}
	w.states[locator] = core.UnlockState{Status: core.UnlockUnlocked}
	w.plaintext[locator] = plain
	log.Info("content unlocked")
	return clone(plain), nil
}

func (w *GatingWorkflow) unlock(ctx context.Context, h Handle, locator string) ([]byte, error) {
	record, err := w.record(ctx, locator)
	if err != nil {
		return nil, err
	}
	encryptedKey, err := hex.DecodeString(record.EncryptedSymmetricKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: encrypted key: %v", core.ErrGating, core.ErrInvalidRecord, err)
	}
	blob, err := w.content.Get(ctx, record.EncryptedFileLocator)
	if err != nil {
		return nil, gatingErr(err)
	}

	authSig, err := w.authorizer.Authorize(ctx, h.Signer, h.Address, ports.PurposeDecrypt)
	if err != nil {
		return nil, gatingErr(err)
	}
	symKey, err := w.encryption.GetEncryptionKey(ctx, encryptedKey, record.Condition, authSig)
	if err != nil {
		return nil, gatingErr(err)
	}
	plain, err := w.encryption.DecryptFile(blob, symKey)
	if err != nil {
		return nil, gatingErr(err)
	}
	return plain, nil
}

// State returns the unlock state of locator for the current session.
func (w *GatingWorkflow) State(locator string) core.UnlockState {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.states[locator]; ok {
		return s
	}
	return core.UnlockState{Status: core.UnlockLocked}
}

// Reset forgets every unlock state and cached plaintext.
func (w *GatingWorkflow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resetLocked()
	w.epoch = 0
}

func (w *GatingWorkflow) adoptLocked(h Handle) bool {
	if w.epoch == h.Epoch {
		return h.Live()
	}
	if h.Epoch < w.epoch || !h.Live() {
		return false
	}
	w.resetLocked()
	w.epoch = h.Epoch
	return true
}

func (w *GatingWorkflow) resetLocked() {
	w.states = make(map[string]core.UnlockState)
	w.records = make(map[string]core.GatedContentRecord)
	w.plaintext = make(map[string][]byte)
}

// IsUploadFailure reports whether err is a publish or delivery failure that
// can be retried with RetryUpload, and returns the pending upload.
func IsUploadFailure(err error) (*PendingUpload, bool) {
	var pe *PublishError
	if errors.As(err, &pe) && pe.Pending != nil {
		return pe.Pending, true
	}
	return nil, false
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
