package syncengine

import (
	"context"
	"errors"
	"sync"

	"bitbucket.org/mmdatafocus/pos_sync/models"
)

type memStore struct {
	mu          sync.Mutex
	nextID      uint64
	outbox      []models.OutboxEntry
	records     map[string]models.LocalRecord
	checkpoints map[string]models.SyncCheckpoint
	applyCalls  int
	failApplyAt int
	clears      int
}

func newMemStore() *memStore {
	return &memStore{
		records:     map[string]models.LocalRecord{},
		checkpoints: map[string]models.SyncCheckpoint{},
	}
}

func recordKey(tenantID, entityType, entityID string) string {
	return tenantID + "/" + entityType + "/" + entityID
}

func (s *memStore) addOutbox(tenantID, entityID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.outbox = append(s.outbox, models.OutboxEntry{
		ID:         s.nextID,
		TenantId:   tenantID,
		EntityType: "product",
		EntityId:   entityID,
		Operation:  models.OutboxOperationUpdate,
		Payload:    []byte(`{}`),
	})
	return s.nextID
}

func (s *memStore) outboxIDs() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint64, 0, len(s.outbox))
	for _, e := range s.outbox {
		ids = append(ids, e.ID)
	}
	return ids
}

func (s *memStore) PendingOutbox(ctx context.Context, tenantID string, limit int) ([]models.OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.OutboxEntry
	for _, e := range s.outbox {
		if e.TenantId != tenantID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) DeleteOutboxEntry(ctx context.Context, tenantID string, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.outbox {
		if e.ID == id && e.TenantId == tenantID {
			s.outbox = append(s.outbox[:i], s.outbox[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *memStore) CountOutbox(ctx context.Context, tenantID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.outbox {
		if e.TenantId == tenantID {
			n++
		}
	}
	return n, nil
}

func (s *memStore) RecordMutation(ctx context.Context, rec *models.LocalRecord, entry *models.OutboxEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Deleted = entry.Operation == models.OutboxOperationDelete
	s.records[recordKey(rec.TenantId, rec.EntityType, rec.EntityId)] = *rec
	s.nextID++
	entry.ID = s.nextID
	s.outbox = append(s.outbox, *entry)
	return nil
}

func (s *memStore) ApplyChanges(ctx context.Context, tenantID string, recs []models.LocalRecord, cp *models.SyncCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyCalls++
	if s.failApplyAt > 0 && s.applyCalls == s.failApplyAt {
		return errors.New("deadlock found when trying to get lock")
	}
	for _, r := range recs {
		s.records[recordKey(tenantID, r.EntityType, r.EntityId)] = r
	}
	if cp != nil {
		s.checkpoints[cp.TenantId+"/"+cp.DeviceId] = *cp
	}
	return nil
}

func (s *memStore) ClearRecords(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	for k, r := range s.records {
		if r.TenantId == tenantID {
			delete(s.records, k)
		}
	}
	for k, cp := range s.checkpoints {
		if cp.TenantId == tenantID {
			delete(s.checkpoints, k)
		}
	}
	return nil
}

func (s *memStore) Checkpoint(ctx context.Context, tenantID, deviceID string) (*models.SyncCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[tenantID+"/"+deviceID]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func (s *memStore) record(tenantID, entityType, entityID string) (models.LocalRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[recordKey(tenantID, entityType, entityID)]
	return r, ok
}

type memMetadata struct {
	mu   sync.Mutex
	kv   map[string]string
	sets int
}

func newMemMetadata() *memMetadata {
	return &memMetadata{kv: map[string]string{}}
}

func (m *memMetadata) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.kv[key]
	return v, ok, nil
}

func (m *memMetadata) SetIfAbsent(ctx context.Context, key, value string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.kv[key]; ok {
		return v, nil
	}
	m.sets++
	m.kv[key] = value
	return value, nil
}

type recordingPusher struct {
	mu     sync.Mutex
	sent   []PushMessage
	failAt int
	err    error
}

func (p *recordingPusher) Push(ctx context.Context, msg PushMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAt > 0 && len(p.sent)+1 == p.failAt {
		return p.err
	}
	p.sent = append(p.sent, msg)
	return nil
}

func (p *recordingPusher) entryIDs() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]uint64, 0, len(p.sent))
	for _, m := range p.sent {
		ids = append(ids, m.EntryId)
	}
	return ids
}

type scriptedPuller struct {
	mu           sync.Mutex
	changes      []ChangesPage
	changesErrAt int
	changeCalls  int
	cursors      []string
	snapshots    []SnapshotPage
	snapCalls    int
	tokens       []string
}

func (p *scriptedPuller) Changes(ctx context.Context, tenantID, cursor string, limit int) (*ChangesPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changeCalls++
	p.cursors = append(p.cursors, cursor)
	if p.changesErrAt > 0 && p.changeCalls == p.changesErrAt {
		return nil, errors.New("connection reset by peer")
	}
	if len(p.changes) == 0 {
		return &ChangesPage{}, nil
	}
	page := p.changes[0]
	p.changes = p.changes[1:]
	return &page, nil
}

func (p *scriptedPuller) Snapshot(ctx context.Context, tenantID, pageToken string, limit int) (*SnapshotPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens = append(p.tokens, pageToken)
	idx := p.snapCalls % len(p.snapshots)
	p.snapCalls++
	page := p.snapshots[idx]
	return &page, nil
}

func boolPtr(b bool) *bool { return &b }
