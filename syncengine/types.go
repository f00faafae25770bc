package syncengine

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/pos_sync/models"
)

// RemoteRecord is one entity row as the remote sees it.
type RemoteRecord struct {
	EntityType string          `json:"entity_type"`
	EntityId   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload"`
	Version    int64           `json:"version"`
	Deleted    bool            `json:"deleted"`
}

// ChangesPage is one page of the remote change feed.
type ChangesPage struct {
	Changes    []RemoteRecord `json:"changes"`
	NextCursor string         `json:"next_cursor"`
	HasMore    *bool          `json:"has_more"`
}

// More follows the feed convention: an explicit has_more wins, otherwise a
// next cursor means there is more.
func (p ChangesPage) More() bool {
	if p.NextCursor == "" {
		return false
	}
	return p.HasMore == nil || *p.HasMore
}

// SnapshotPage is one page of a full tenant snapshot. Cursor is the change
// feed position the snapshot corresponds to.
type SnapshotPage struct {
	Records       []RemoteRecord `json:"records"`
	NextPageToken string         `json:"next_page_token"`
	HasMore       *bool          `json:"has_more"`
	Cursor        string         `json:"cursor"`
}

func (p SnapshotPage) More() bool {
	if p.NextPageToken == "" {
		return false
	}
	return p.HasMore == nil || *p.HasMore
}

// PushMessage is the wire form of one outbox entry.
type PushMessage struct {
	TenantId       string          `json:"tenant_id"`
	DeviceId       string          `json:"device_id"`
	EntryId        uint64          `json:"entry_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	EntityType     string          `json:"entity_type"`
	EntityId       string          `json:"entity_id"`
	Operation      string          `json:"operation"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      time.Time       `json:"created_at"`
}

func newPushMessage(e models.OutboxEntry, deviceID string) PushMessage {
	if e.DeviceId != "" {
		deviceID = e.DeviceId
	}
	e.DeviceId = deviceID
	return PushMessage{
		TenantId:       e.TenantId,
		DeviceId:       deviceID,
		EntryId:        e.ID,
		IdempotencyKey: e.IdempotencyKey(),
		EntityType:     e.EntityType,
		EntityId:       e.EntityId,
		Operation:      string(e.Operation),
		Payload:        json.RawMessage(e.Payload),
		CreatedAt:      e.CreatedAt,
	}
}

// Pusher delivers one outbox entry. A nil error means the remote confirmed
// it. Delivery must be idempotent on IdempotencyKey.
type Pusher interface {
	Push(ctx context.Context, msg PushMessage) error
}

// Puller reads remote state.
type Puller interface {
	Changes(ctx context.Context, tenantID, cursor string, limit int) (*ChangesPage, error)
	Snapshot(ctx context.Context, tenantID, pageToken string, limit int) (*SnapshotPage, error)
}

// Store is the active tenant's local sync data.
type Store interface {
	PendingOutbox(ctx context.Context, tenantID string, limit int) ([]models.OutboxEntry, error)
	DeleteOutboxEntry(ctx context.Context, tenantID string, id uint64) error
	CountOutbox(ctx context.Context, tenantID string) (int64, error)
	RecordMutation(ctx context.Context, rec *models.LocalRecord, entry *models.OutboxEntry) error
	ApplyChanges(ctx context.Context, tenantID string, recs []models.LocalRecord, cp *models.SyncCheckpoint) error
	ClearRecords(ctx context.Context, tenantID string) error
	Checkpoint(ctx context.Context, tenantID, deviceID string) (*models.SyncCheckpoint, error)
}

// StoreProvider resolves the Store for the currently active schema.
type StoreProvider interface {
	TenantStore(ctx context.Context) (Store, error)
}

// StoreProviderFunc adapts a function to StoreProvider.
type StoreProviderFunc func(ctx context.Context) (Store, error)

func (f StoreProviderFunc) TenantStore(ctx context.Context) (Store, error) { return f(ctx) }

// MetadataStore is the device-wide key/value store.
type MetadataStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetIfAbsent(ctx context.Context, key, value string) (string, error)
}

func toLocalRecords(tenantID string, in []RemoteRecord) []models.LocalRecord {
	out := make([]models.LocalRecord, 0, len(in))
	for _, r := range in {
		out = append(out, models.LocalRecord{
			TenantId:   tenantID,
			EntityType: r.EntityType,
			EntityId:   r.EntityId,
			Payload:    []byte(r.Payload),
			Version:    r.Version,
			Deleted:    r.Deleted,
		})
	}
	return out
}
