package config

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"bitbucket.org/mmdatafocus/pos_sync/appctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

var (
	// ErrTenantScopeMissing aborts a statement on a tenant-scoped model whose
	// context carries neither a tenant nor an explicit bypass.
	ErrTenantScopeMissing = errors.New("tenant scope missing from context")
	ErrTenantMismatch     = errors.New("row tenant does not match context tenant")
)

// TenantScoped marks models whose rows belong to a single tenant.
// TenantColumn names the field holding the tenant id.
type TenantScoped interface {
	TenantColumn() string
}

// TenantScopePlugin enforces the tenant carried by appctx.WithTenant on every
// statement against a TenantScoped model: reads, updates and deletes get a
// tenant predicate, creates get the tenant stamped on each row. Statements
// with neither a tenant nor appctx.SkipTenantScope fail.
type TenantScopePlugin struct{}

func NewTenantScopePlugin() *TenantScopePlugin { return &TenantScopePlugin{} }

func (p *TenantScopePlugin) Name() string { return "tenant_scope" }

func (p *TenantScopePlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	for _, err := range []error{
		cb.Create().Before("gorm:create").Register("tenant_scope:create", stampTenant),
		cb.Query().Before("gorm:query").Register("tenant_scope:query", scopeTenant),
		cb.Row().Before("gorm:row").Register("tenant_scope:row", scopeTenant),
		cb.Update().Before("gorm:update").Register("tenant_scope:update", scopeTenant),
		cb.Delete().Before("gorm:delete").Register("tenant_scope:delete", scopeTenant),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

func scopeTenant(db *gorm.DB) {
	if db.Error != nil {
		return
	}
	field := tenantField(db.Statement)
	if field == nil {
		return
	}
	tenantID, scoped, err := contextTenant(db.Statement.Context)
	if err != nil {
		_ = db.AddError(fmt.Errorf("%s: %w", db.Statement.Table, err))
		return
	}
	if !scoped {
		return
	}
	db.Statement.AddClause(clause.Where{Exprs: []clause.Expression{
		clause.Eq{Column: clause.Column{Table: db.Statement.Table, Name: field.DBName}, Value: tenantID},
	}})
}

// stampTenant fills an empty tenant field from the context and rejects rows
// that already name another tenant.
func stampTenant(db *gorm.DB) {
	if db.Error != nil {
		return
	}
	field := tenantField(db.Statement)
	if field == nil {
		return
	}
	tenantID, scoped, err := contextTenant(db.Statement.Context)
	if err != nil {
		_ = db.AddError(fmt.Errorf("%s: %w", db.Statement.Table, err))
		return
	}
	if !scoped {
		return
	}

	rv := reflect.Indirect(db.Statement.ReflectValue)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := stampRow(db.Statement.Context, field, reflect.Indirect(rv.Index(i)), tenantID); err != nil {
				_ = db.AddError(err)
				return
			}
		}
	case reflect.Struct:
		if err := stampRow(db.Statement.Context, field, rv, tenantID); err != nil {
			_ = db.AddError(err)
		}
	}
}

func stampRow(ctx context.Context, field *schema.Field, row reflect.Value, tenantID string) error {
	v, zero := field.ValueOf(ctx, row)
	if zero {
		return field.Set(ctx, row, tenantID)
	}
	if got, _ := v.(string); got != tenantID {
		return fmt.Errorf("%w: row has %v, context has %s", ErrTenantMismatch, v, tenantID)
	}
	return nil
}

// tenantField returns the tenant field of the statement's model, or nil for
// raw SQL and models that are not TenantScoped.
func tenantField(stmt *gorm.Statement) *schema.Field {
	if stmt.Schema == nil || stmt.Schema.ModelType == nil {
		return nil
	}
	scoped, ok := reflect.New(stmt.Schema.ModelType).Interface().(TenantScoped)
	if !ok {
		return nil
	}
	return stmt.Schema.LookUpField(scoped.TenantColumn())
}

// contextTenant reports the tenant to scope by. scoped is false when the
// context opted out via appctx.SkipTenantScope.
func contextTenant(ctx context.Context) (tenantID string, scoped bool, err error) {
	if ctx == nil {
		return "", false, ErrTenantScopeMissing
	}
	if skip, _ := appctx.GetBool(ctx, appctx.ContextKeySkipTenantScope); skip {
		return "", false, nil
	}
	tenantID, _ = appctx.GetString(ctx, appctx.ContextKeyTenantId)
	if strings.TrimSpace(tenantID) == "" {
		return "", false, ErrTenantScopeMissing
	}
	return tenantID, true, nil
}
