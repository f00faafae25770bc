// Package tenant owns the active tenant selection and every database client
// used by the sync core: one lazily created public client plus an LRU-bounded
// set of schema-scoped clients.
package tenant

import (
	"strings"
	"sync"
)

// Context is the process-wide active schema and tenant id. Empty strings
// mean "none". Set at login and cleared at logout.
type Context struct {
	mu       sync.RWMutex
	schema   string
	tenantID string
}

func NewContext() *Context {
	return &Context{}
}

// SetSchema stores schema; blank or whitespace-only clears it.
func (c *Context) SetSchema(schema string) {
	c.mu.Lock()
	c.schema = strings.TrimSpace(schema)
	c.mu.Unlock()
}

func (c *Context) Schema() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.schema
}

func (c *Context) SetTenantID(tenantID string) {
	c.mu.Lock()
	c.tenantID = strings.TrimSpace(tenantID)
	c.mu.Unlock()
}

func (c *Context) TenantID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tenantID
}

// Snapshot returns both values under one lock.
func (c *Context) Snapshot() (schema, tenantID string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.schema, c.tenantID
}

// Restore sets both values under one lock.
func (c *Context) Restore(schema, tenantID string) {
	c.mu.Lock()
	c.schema = strings.TrimSpace(schema)
	c.tenantID = strings.TrimSpace(tenantID)
	c.mu.Unlock()
}

func (c *Context) Clear() {
	c.Restore("", "")
}
