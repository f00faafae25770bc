// Package syncengine pushes the local outbox to the remote service and pulls
// remote changes into the active tenant schema.
package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/pos_sync/apperr"
	"bitbucket.org/mmdatafocus/pos_sync/config"
	"bitbucket.org/mmdatafocus/pos_sync/metrics"
	"bitbucket.org/mmdatafocus/pos_sync/models"
	"bitbucket.org/mmdatafocus/pos_sync/tenant"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var ErrNoTenant = errors.New("no active tenant")

// Options wires an Engine. Stores, Metadata, Pusher and Puller are
// required.
type Options struct {
	Stores   StoreProvider
	Metadata MetadataStore
	Pusher   Pusher
	Puller   Puller
	Tenant   *tenant.Context
	Logger   *logrus.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time

	PushBatchSize int
	PullPageSize  int
	// MaxPullPages bounds one PullChanges call; the rest is pulled next cycle.
	MaxPullPages int
	// MaxSnapshotPages bounds one Bootstrap. A snapshot that needs more
	// pages fails instead of looping on a misbehaving remote.
	MaxSnapshotPages int
}

type Engine struct {
	stores   StoreProvider
	metadata MetadataStore
	pusher   Pusher
	puller   Puller
	tctx     *tenant.Context
	logger   *logrus.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	PushBatchSize    int
	PullPageSize     int
	MaxPullPages     int
	MaxSnapshotPages int

	mu       sync.Mutex
	deviceID string
}

func NewEngine(opts Options) *Engine {
	e := &Engine{
		stores:        opts.Stores,
		metadata:      opts.Metadata,
		pusher:        opts.Pusher,
		puller:        opts.Puller,
		tctx:          opts.Tenant,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		now:           opts.Now,
		PushBatchSize: opts.PushBatchSize,
		PullPageSize:  opts.PullPageSize,
		MaxPullPages:  opts.MaxPullPages,

		MaxSnapshotPages: opts.MaxSnapshotPages,
	}
	if e.tctx == nil {
		e.tctx = tenant.NewContext()
	}
	if e.logger == nil {
		e.logger = config.GetLogger()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.PushBatchSize <= 0 {
		e.PushBatchSize = 100
	}
	if e.PullPageSize <= 0 {
		e.PullPageSize = 500
	}
	if e.MaxPullPages <= 0 {
		e.MaxPullPages = 50
	}
	if e.MaxSnapshotPages <= 0 {
		e.MaxSnapshotPages = 10000
	}
	return e
}

// SetTenantID binds the engine to tenantID for this process only.
func (e *Engine) SetTenantID(tenantID string) {
	e.tctx.SetTenantID(tenantID)
}

func (e *Engine) TenantID() string {
	return e.tctx.TenantID()
}

// EnsureDeviceID returns the persisted device id, creating it on first use.
func (e *Engine) EnsureDeviceID(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deviceID != "" {
		return e.deviceID, nil
	}
	id, ok, err := e.metadata.Get(ctx, models.MetadataKeyDeviceId)
	if err != nil {
		return "", fmt.Errorf("read device id: %w", err)
	}
	if !ok || id == "" {
		id, err = e.metadata.SetIfAbsent(ctx, models.MetadataKeyDeviceId, uuid.NewString())
		if err != nil {
			return "", fmt.Errorf("persist device id: %w", err)
		}
	}
	e.deviceID = id
	return id, nil
}

// SyncNow pushes the outbox and then pulls remote changes. A failed push
// skips the pull.
func (e *Engine) SyncNow(ctx context.Context) error {
	if _, err := e.PushOutbox(ctx); err != nil {
		return err
	}
	_, err := e.PullChanges(ctx)
	return err
}

// PushOutbox sends pending entries in creation order, deleting each one as
// soon as the remote confirms it. The first failure stops the batch and
// leaves the remaining entries queued.
func (e *Engine) PushOutbox(ctx context.Context) (int, error) {
	tenantID, store, deviceID, err := e.prepare(ctx, "syncengine.PushOutbox")
	if err != nil {
		return 0, err
	}
	log := e.logger.WithFields(logrus.Fields{"module": "syncengine", "tenant_id": tenantID})

	pushed := 0
	for {
		entries, err := store.PendingOutbox(ctx, tenantID, e.PushBatchSize)
		if err != nil {
			return pushed, fmt.Errorf("load outbox: %w", err)
		}
		for _, entry := range entries {
			if err := e.pusher.Push(ctx, newPushMessage(entry, deviceID)); err != nil {
				log.WithError(err).WithField("entry_id", entry.ID).Warn("outbox push failed")
				e.metrics.RecordPushed(pushed)
				return pushed, fmt.Errorf("push outbox entry %d: %w", entry.ID, err)
			}
			if err := store.DeleteOutboxEntry(ctx, tenantID, entry.ID); err != nil {
				e.metrics.RecordPushed(pushed)
				return pushed, fmt.Errorf("delete confirmed outbox entry %d: %w", entry.ID, err)
			}
			pushed++
		}
		if len(entries) < e.PushBatchSize {
			break
		}
	}
	e.metrics.RecordPushed(pushed)
	if pushed > 0 {
		log.WithField("pushed", pushed).Info("outbox pushed")
	}
	return pushed, nil
}

// PullChanges applies remote changes since the stored checkpoint. Each page
// is applied together with its checkpoint, so a failure never loses or
// skips a page.
func (e *Engine) PullChanges(ctx context.Context) (int, error) {
	tenantID, store, deviceID, err := e.prepare(ctx, "syncengine.PullChanges")
	if err != nil {
		return 0, err
	}

	cp, err := store.Checkpoint(ctx, tenantID, deviceID)
	if err != nil {
		return 0, fmt.Errorf("load checkpoint: %w", err)
	}
	cursor := ""
	var bootstrappedAt *time.Time
	if cp != nil {
		cursor = cp.Cursor
		bootstrappedAt = cp.BootstrappedAt
	}

	applied := 0
	for page := 0; page < e.MaxPullPages; page++ {
		resp, err := e.puller.Changes(ctx, tenantID, cursor, e.PullPageSize)
		if err != nil {
			e.metrics.RecordPulled(applied)
			return applied, fmt.Errorf("pull changes: %w", err)
		}
		next := strings.TrimSpace(resp.NextCursor)
		if next == "" {
			next = cursor
		}
		now := e.now().UTC()
		newCp := &models.SyncCheckpoint{
			TenantId:       tenantID,
			DeviceId:       deviceID,
			Cursor:         next,
			BootstrappedAt: bootstrappedAt,
			LastPullAt:     &now,
		}
		if err := store.ApplyChanges(ctx, tenantID, toLocalRecords(tenantID, resp.Changes), newCp); err != nil {
			e.metrics.RecordPulled(applied)
			return applied, fmt.Errorf("apply changes: %w", err)
		}
		applied += len(resp.Changes)
		cursor = next
		if !resp.More() {
			break
		}
	}
	e.metrics.RecordPulled(applied)
	if applied > 0 {
		e.logger.WithFields(logrus.Fields{
			"module":    "syncengine",
			"tenant_id": tenantID,
			"applied":   applied,
		}).Info("remote changes applied")
	}
	return applied, nil
}

// Bootstrap replaces the tenant's local records with a full remote snapshot
// and records the checkpoint the snapshot corresponds to. Outbox entries
// are kept. Running it again redoes the whole resync.
func (e *Engine) Bootstrap(ctx context.Context) error {
	tenantID, store, deviceID, err := e.prepare(ctx, "syncengine.Bootstrap")
	if err != nil {
		return err
	}
	if err := store.ClearRecords(ctx, tenantID); err != nil {
		return fmt.Errorf("clear local records: %w", err)
	}

	total := 0
	token := ""
	for pages := 1; ; pages++ {
		page, err := e.puller.Snapshot(ctx, tenantID, token, e.PullPageSize)
		if err != nil {
			return fmt.Errorf("fetch snapshot: %w", err)
		}
		recs := toLocalRecords(tenantID, page.Records)
		if page.More() {
			if page.NextPageToken == token {
				return apperr.Applicationf("syncengine.Bootstrap", "snapshot page token %q did not advance", token)
			}
			if pages >= e.MaxSnapshotPages {
				return apperr.Applicationf("syncengine.Bootstrap", "snapshot exceeded %d pages", e.MaxSnapshotPages)
			}
			if err := store.ApplyChanges(ctx, tenantID, recs, nil); err != nil {
				return fmt.Errorf("apply snapshot page: %w", err)
			}
			total += len(recs)
			token = page.NextPageToken
			continue
		}

		now := e.now().UTC()
		cp := &models.SyncCheckpoint{
			TenantId:       tenantID,
			DeviceId:       deviceID,
			Cursor:         page.Cursor,
			BootstrappedAt: &now,
			LastPullAt:     &now,
		}
		if err := store.ApplyChanges(ctx, tenantID, recs, cp); err != nil {
			return fmt.Errorf("apply final snapshot page: %w", err)
		}
		total += len(recs)
		break
	}

	e.metrics.RecordPulled(total)
	e.logger.WithFields(logrus.Fields{
		"module":    "syncengine",
		"tenant_id": tenantID,
		"records":   total,
	}).Info("local store bootstrapped from server")
	return nil
}

// BootstrapIfNeeded runs Bootstrap unless this tenant/device pair already
// has one recorded. It reports whether a bootstrap ran.
func (e *Engine) BootstrapIfNeeded(ctx context.Context) (bool, error) {
	tenantID, store, deviceID, err := e.prepare(ctx, "syncengine.BootstrapIfNeeded")
	if err != nil {
		return false, err
	}
	cp, err := store.Checkpoint(ctx, tenantID, deviceID)
	if err != nil {
		return false, fmt.Errorf("load checkpoint: %w", err)
	}
	if cp != nil && cp.BootstrappedAt != nil {
		return false, nil
	}
	return true, e.Bootstrap(ctx)
}

// RecordMutation is the local write path: the row and its outbox entry
// commit together.
func (e *Engine) RecordMutation(ctx context.Context, entityType, entityID string, op models.OutboxOperation, payload json.RawMessage) (*models.OutboxEntry, error) {
	const opName = "syncengine.RecordMutation"
	if !op.Valid() {
		return nil, apperr.Applicationf(opName, "unknown operation %q", op)
	}
	if strings.TrimSpace(entityType) == "" || strings.TrimSpace(entityID) == "" {
		return nil, apperr.Applicationf(opName, "entity type and id are required")
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return nil, apperr.Applicationf(opName, "payload is not valid JSON")
	}
	tenantID, store, deviceID, err := e.prepare(ctx, opName)
	if err != nil {
		return nil, err
	}

	rec := &models.LocalRecord{
		TenantId:   tenantID,
		EntityType: entityType,
		EntityId:   entityID,
		Payload:    []byte(payload),
	}
	entry := &models.OutboxEntry{
		TenantId:   tenantID,
		EntityType: entityType,
		EntityId:   entityID,
		Operation:  op,
		Payload:    []byte(payload),
		DeviceId:   deviceID,
	}
	if err := store.RecordMutation(ctx, rec, entry); err != nil {
		return nil, fmt.Errorf("record mutation: %w", err)
	}
	return entry, nil
}

// PendingCount is the outbox depth of the active tenant.
func (e *Engine) PendingCount(ctx context.Context) (int64, error) {
	tenantID := e.TenantID()
	if tenantID == "" {
		return 0, apperr.Application("syncengine.PendingCount", ErrNoTenant)
	}
	store, err := e.stores.TenantStore(ctx)
	if err != nil {
		return 0, err
	}
	return store.CountOutbox(ctx, tenantID)
}

func (e *Engine) prepare(ctx context.Context, op string) (string, Store, string, error) {
	tenantID := e.TenantID()
	if tenantID == "" {
		return "", nil, "", apperr.Application(op, ErrNoTenant)
	}
	store, err := e.stores.TenantStore(ctx)
	if err != nil {
		return "", nil, "", err
	}
	deviceID, err := e.EnsureDeviceID(ctx)
	if err != nil {
		return "", nil, "", err
	}
	return tenantID, store, deviceID, nil
}
