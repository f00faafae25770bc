package session

import (
	"context"
	"errors"
	"sync"

	"bitbucket.org/mmdatafocus/pos_sync/models"
	"bitbucket.org/mmdatafocus/pos_sync/tenant"
	"bitbucket.org/mmdatafocus/pos_sync/utils"
)

// events records collaborator calls in order across fakes.
type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	e.log = append(e.log, s)
	e.mu.Unlock()
}

func (e *events) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

type fakeDirectory struct {
	users map[string]models.TenantUser
	subs  map[string]models.Subscription
	err   error
}

func (d *fakeDirectory) FindTenantUserByEmail(ctx context.Context, email string) (*models.TenantUser, error) {
	if d.err != nil {
		return nil, d.err
	}
	u, ok := d.users[email]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	return &u, nil
}

func (d *fakeDirectory) FindSubscriptionByTenantID(ctx context.Context, tenantID string) (*models.Subscription, error) {
	if d.err != nil {
		return nil, d.err
	}
	s, ok := d.subs[tenantID]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	return &s, nil
}

type fakeMetadata struct {
	mu sync.Mutex
	kv map[string]string
}

func (m *fakeMetadata) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.kv[key]
	return v, ok, nil
}

func (m *fakeMetadata) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = value
	return nil
}

func (m *fakeMetadata) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	return nil
}

type fakeLocalData struct {
	ev       *events
	has      map[string]bool
	cleared  [][]string
	clearErr error
}

func (l *fakeLocalData) HasLocalData(ctx context.Context, schemas ...string) (bool, error) {
	for _, s := range schemas {
		if l.has[s] {
			return true, nil
		}
	}
	return false, nil
}

func (l *fakeLocalData) ClearForTenantSwitch(ctx context.Context, schemas ...string) error {
	if l.clearErr != nil {
		return l.clearErr
	}
	l.ev.add("clear")
	l.cleared = append(l.cleared, schemas)
	for _, s := range schemas {
		delete(l.has, s)
	}
	return nil
}

// fakeUsers holds login rows per schema and reads from the active one.
type fakeUsers struct {
	tctx  *tenant.Context
	users map[string]map[string]models.User
}

func (u *fakeUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	rows, ok := u.users[u.tctx.Schema()]
	if !ok {
		return nil, errors.New("no active schema")
	}
	user, ok := rows[email]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	return &user, nil
}

type fakeCredentials struct {
	mu      sync.Mutex
	entries map[string]models.CredentialCacheEntry
}

func (c *fakeCredentials) Upsert(ctx context.Context, entry *models.CredentialCacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.Email] = *entry
	return nil
}

func (c *fakeCredentials) FindByEmail(ctx context.Context, email string) (*models.CredentialCacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[models.NormalizeEmail(email)]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	return &e, nil
}

func (c *fakeCredentials) RecordFailedAttempt(ctx context.Context, email string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[email]
	e.FailedAttempts++
	c.entries[email] = e
	return e.FailedAttempts, nil
}

func (c *fakeCredentials) ResetFailedAttempts(ctx context.Context, email string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[email]
	e.FailedAttempts = 0
	c.entries[email] = e
	return nil
}

func (c *fakeCredentials) DeleteByEmail(ctx context.Context, email string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, email)
	return nil
}

func (c *fakeCredentials) get(email string) (models.CredentialCacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[email]
	return e, ok
}

type fakeSchemas struct {
	ev   *events
	tctx *tenant.Context
}

func (s *fakeSchemas) SetActiveSchema(schema string) {
	s.ev.add("activate:" + schema)
	s.tctx.SetSchema(schema)
}

type fakeEngine struct {
	ev           *events
	tctx         *tenant.Context
	bootstraps   int
	bootstrapErr error
	// onBootstrap runs on each successful bootstrap, standing in for the
	// rows a snapshot writes.
	onBootstrap func()
}

func (e *fakeEngine) SetTenantID(tenantID string) {
	e.tctx.SetTenantID(tenantID)
}

func (e *fakeEngine) BootstrapIfNeeded(ctx context.Context) (bool, error) {
	e.bootstraps++
	if e.bootstrapErr != nil {
		return false, e.bootstrapErr
	}
	e.ev.add("bootstrap:" + e.tctx.TenantID())
	if e.onBootstrap != nil {
		e.onBootstrap()
	}
	return true, nil
}
