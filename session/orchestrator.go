// Package session authenticates users online against the tenant directory or
// offline against the local credential cache, activates the tenant schema,
// and enforces session expiry.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/pos_sync/apperr"
	"bitbucket.org/mmdatafocus/pos_sync/config"
	"bitbucket.org/mmdatafocus/pos_sync/metrics"
	"bitbucket.org/mmdatafocus/pos_sync/models"
	"bitbucket.org/mmdatafocus/pos_sync/scheduler"
	"bitbucket.org/mmdatafocus/pos_sync/tenant"
	"bitbucket.org/mmdatafocus/pos_sync/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultSessionTTL    = 24 * time.Hour
	DefaultCredentialTTL = 7 * 24 * time.Hour
)

// ErrNoSession is returned by Current when nobody is logged in.
var ErrNoSession = errors.New("no active session")

type Options struct {
	Directory   Directory
	Metadata    MetadataStore
	LocalData   LocalData
	Users       TenantUsers
	Credentials CredentialCache
	Passwords   utils.PasswordService
	Confirmer   Confirmer
	Engine      Engine
	Schemas     SchemaActivator
	Tenant      *tenant.Context
	Sessions    Store
	Scheduler   scheduler.Scheduler
	Secret      []byte

	SessionTTL    time.Duration
	CredentialTTL time.Duration
	// MaxFailedAttempts locks offline login after that many consecutive
	// wrong passwords. 0 disables the lockout.
	MaxFailedAttempts int

	Logger  *logrus.Logger
	Metrics *metrics.Metrics
}

type Orchestrator struct {
	directory   Directory
	metadata    MetadataStore
	localData   LocalData
	users       TenantUsers
	credentials CredentialCache
	passwords   utils.PasswordService
	confirmer   Confirmer
	engine      Engine
	schemas     SchemaActivator
	tctx        *tenant.Context
	sessions    Store
	sched       scheduler.Scheduler
	secret      []byte

	sessionTTL    time.Duration
	credentialTTL time.Duration
	maxFailed     int

	logger  *logrus.Logger
	metrics *metrics.Metrics

	// loginMu serializes Login and Logout.
	loginMu sync.Mutex
	mu      sync.Mutex
	current *Session
	expiry  scheduler.Timer
}

func NewOrchestrator(opts Options) *Orchestrator {
	o := &Orchestrator{
		directory:     opts.Directory,
		metadata:      opts.Metadata,
		localData:     opts.LocalData,
		users:         opts.Users,
		credentials:   opts.Credentials,
		passwords:     opts.Passwords,
		confirmer:     opts.Confirmer,
		engine:        opts.Engine,
		schemas:       opts.Schemas,
		tctx:          opts.Tenant,
		sessions:      opts.Sessions,
		sched:         opts.Scheduler,
		secret:        opts.Secret,
		sessionTTL:    opts.SessionTTL,
		credentialTTL: opts.CredentialTTL,
		maxFailed:     opts.MaxFailedAttempts,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
	}
	if o.passwords == nil {
		o.passwords = utils.BcryptPasswordService{}
	}
	if o.confirmer == nil {
		o.confirmer = ContextConfirmer{}
	}
	if o.tctx == nil {
		o.tctx = tenant.NewContext()
	}
	if o.sessions == nil {
		o.sessions = NewMemoryStore()
	}
	if o.sched == nil {
		o.sched = scheduler.Real()
	}
	if o.sessionTTL <= 0 {
		o.sessionTTL = DefaultSessionTTL
	}
	if o.credentialTTL <= 0 {
		o.credentialTTL = DefaultCredentialTTL
	}
	if o.logger == nil {
		o.logger = config.GetLogger()
	}
	return o
}

type loginInput struct {
	Email    string `validate:"required,email,max=255"`
	Password string `validate:"required"`
}

// Login authenticates online when the directory is reachable and falls back
// to the credential cache when it is not. Any previous session is replaced.
func (o *Orchestrator) Login(ctx context.Context, email, password string) (*Session, error) {
	const op = "session.Login"
	email = models.NormalizeEmail(email)
	if err := utils.ValidateStruct(loginInput{Email: email, Password: password}); err != nil {
		return nil, apperr.Application(op, err)
	}

	o.loginMu.Lock()
	defer o.loginMu.Unlock()

	s, mode, err := o.login(ctx, email, password)
	result := "success"
	if err != nil {
		result = apperr.Classify(err).String()
		if reason := apperr.ReasonOf(err); reason != "" {
			result = reason
		}
	}
	o.metrics.RecordLogin(string(mode), result)
	if err != nil {
		o.logger.WithFields(logrus.Fields{
			"module": "session",
			"email":  email,
			"mode":   mode,
			"result": result,
		}).Warn("login rejected")
		return nil, err
	}
	o.logger.WithFields(logrus.Fields{
		"module":    "session",
		"email":     email,
		"mode":      mode,
		"tenant_id": s.TenantId,
		"schema":    s.Schema,
	}).Info("login succeeded")
	return s, nil
}

func (o *Orchestrator) login(ctx context.Context, email, password string) (*Session, Mode, error) {
	user, sub, err := o.lookupDirectory(ctx, email)
	if apperr.IsConnectivity(err) {
		o.logger.WithFields(logrus.Fields{"module": "session", "email": email}).
			WithError(err).Warn("tenant directory unreachable; trying offline login")
		s, err := o.offlineLogin(ctx, email, password)
		return s, ModeOffline, err
	}
	if err != nil {
		return nil, ModeOnline, err
	}
	s, err := o.onlineLogin(ctx, email, password, user, sub)
	return s, ModeOnline, err
}

// lookupDirectory resolves the tenant user and validates the subscription.
// Connectivity failures are returned untouched so the caller can go offline.
func (o *Orchestrator) lookupDirectory(ctx context.Context, email string) (*models.TenantUser, *models.Subscription, error) {
	const op = "session.lookupDirectory"
	user, err := o.directory.FindTenantUserByEmail(ctx, email)
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return nil, nil, apperr.Authentication(op, apperr.ReasonInvalidCredentials)
	}
	if err != nil {
		return nil, nil, err
	}
	if !user.IsActive {
		return nil, nil, apperr.Authentication(op, apperr.ReasonUserInactive)
	}

	sub, err := o.directory.FindSubscriptionByTenantID(ctx, user.TenantId)
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return nil, nil, apperr.Authorization(op, apperr.ReasonSubscriptionMissing, nil)
	}
	if err != nil {
		return nil, nil, err
	}
	now := o.sched.Now()
	if !sub.ActiveAt(now) {
		reason := apperr.ReasonSubscriptionInactive
		if sub.ExpiresAt != nil && !now.Before(*sub.ExpiresAt) {
			reason = apperr.ReasonSubscriptionExpired
		}
		return nil, nil, apperr.Authorization(op, reason, fmt.Errorf("subscription status %q", sub.Status))
	}
	return user, sub, nil
}

func (o *Orchestrator) onlineLogin(ctx context.Context, email, password string, user *models.TenantUser, sub *models.Subscription) (*Session, error) {
	const op = "session.onlineLogin"
	schema := strings.TrimSpace(user.SchemaName)
	if !tenant.ValidSchemaName(schema) {
		return nil, apperr.Applicationf(op, "directory returned invalid schema %q", user.SchemaName)
	}
	tenantID := strings.TrimSpace(user.TenantId)

	pending, err := o.checkTenantSwitch(ctx, schema, tenantID)
	if err != nil {
		return nil, err
	}

	prevSchema, prevTenant := o.tctx.Snapshot()
	ok := false
	defer func() {
		if !ok {
			o.tctx.Restore(prevSchema, prevTenant)
		}
	}()
	o.schemas.SetActiveSchema(schema)
	o.engine.SetTenantID(tenantID)

	local, err := o.loadTenantUser(ctx, email)
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return nil, apperr.Authentication(op, apperr.ReasonInvalidCredentials)
	}
	if err != nil {
		return nil, fmt.Errorf("load tenant user: %w", err)
	}
	if !local.Active() {
		return nil, apperr.Authentication(op, apperr.ReasonUserInactive)
	}
	if !o.passwords.VerifyPassword(password, local.Password) {
		return nil, apperr.Authentication(op, apperr.ReasonInvalidCredentials)
	}

	if pending != nil {
		if err := o.clearForSwitch(ctx, *pending); err != nil {
			return nil, err
		}
	}

	now := o.sched.Now()
	entry := &models.CredentialCacheEntry{
		Email:          email,
		PasswordHash:   local.Password,
		RolesSnapshot:  local.Roles,
		TenantId:       tenantID,
		SchemaName:     schema,
		BusinessName:   user.BusinessName,
		LastVerifiedAt: now,
		ExpiresAt:      now.Add(o.credentialTTL),
	}
	if err := o.credentials.Upsert(ctx, entry); err != nil {
		return nil, fmt.Errorf("cache credential: %w", err)
	}
	if err := o.writeMarkers(ctx, email, schema, tenantID); err != nil {
		return nil, err
	}

	if ran, err := o.engine.BootstrapIfNeeded(ctx); err != nil {
		o.logger.WithFields(logrus.Fields{"module": "session", "tenant_id": tenantID}).
			WithError(err).Warn("initial bootstrap failed; the sync worker will catch up")
	} else if ran {
		o.logger.WithFields(logrus.Fields{"module": "session", "tenant_id": tenantID}).Info("local store bootstrapped")
	}

	s, err := o.startSession(ctx, entry, ModeOnline)
	if err != nil {
		return nil, err
	}
	ok = true
	return s, nil
}

// offlineLogin authenticates against the credential cache. The checks run
// in a fixed order so each rejection reason is unambiguous.
func (o *Orchestrator) offlineLogin(ctx context.Context, email, password string) (*Session, error) {
	const op = "session.offlineLogin"
	entry, err := o.credentials.FindByEmail(ctx, email)
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return nil, apperr.Authentication(op, apperr.ReasonNoPriorLogin)
	}
	if err != nil {
		return nil, fmt.Errorf("load cached credential: %w", err)
	}
	if entry.Expired(o.sched.Now()) {
		return nil, apperr.Authentication(op, apperr.ReasonExpired)
	}
	if o.maxFailed > 0 && entry.FailedAttempts >= o.maxFailed {
		return nil, apperr.Authentication(op, apperr.ReasonLockedOut)
	}
	if !o.passwords.VerifyPassword(password, entry.PasswordHash) {
		if _, err := o.credentials.RecordFailedAttempt(ctx, email); err != nil {
			config.LogError(o.logger, "session", "offlineLogin", "record failed attempt", email, err)
		}
		return nil, apperr.Authentication(op, apperr.ReasonWrongPassword)
	}
	if entry.FailedAttempts > 0 {
		if err := o.credentials.ResetFailedAttempts(ctx, email); err != nil {
			config.LogError(o.logger, "session", "offlineLogin", "reset failed attempts", email, err)
		}
	}

	lastEmail, lastSchema, lastTenant, err := o.readMarkers(ctx)
	if err != nil {
		return nil, err
	}
	if lastEmail != entry.Email || lastSchema != entry.SchemaName || lastTenant != entry.TenantId {
		return nil, apperr.Authentication(op, apperr.ReasonIdentityMismatch)
	}

	prevSchema, prevTenant := o.tctx.Snapshot()
	o.schemas.SetActiveSchema(entry.SchemaName)
	o.engine.SetTenantID(entry.TenantId)

	s, err := o.startSession(ctx, entry, ModeOffline)
	if err != nil {
		o.tctx.Restore(prevSchema, prevTenant)
		return nil, err
	}
	return s, nil
}

// loadTenantUser reads the login record from the active schema. A device
// that never synced this tenant has no users yet, so a miss runs the initial
// bootstrap and looks again.
func (o *Orchestrator) loadTenantUser(ctx context.Context, email string) (*models.User, error) {
	local, err := o.users.FindByEmail(ctx, email)
	if !errors.Is(err, utils.ErrorRecordNotFound) {
		return local, err
	}
	ran, err := o.engine.BootstrapIfNeeded(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrap tenant users: %w", err)
	}
	if !ran {
		return nil, utils.ErrorRecordNotFound
	}
	return o.users.FindByEmail(ctx, email)
}

// checkTenantSwitch runs before any schema activation and has no side
// effects. Switching away from the recorded tenant, or landing on local data
// nobody recorded, needs confirmation; the returned switch is cleared by
// clearForSwitch once the password is verified. nil means nothing to clear.
func (o *Orchestrator) checkTenantSwitch(ctx context.Context, schema, tenantID string) (*TenantSwitch, error) {
	const op = "session.checkTenantSwitch"
	_, lastSchema, lastTenant, err := o.readMarkers(ctx)
	if err != nil {
		return nil, err
	}

	sw := TenantSwitch{FromSchema: lastSchema, FromTenant: lastTenant, ToSchema: schema, ToTenant: tenantID}
	switch {
	case lastSchema != "" || lastTenant != "":
		if lastSchema == schema && lastTenant == tenantID {
			return nil, nil
		}
	default:
		has, err := o.localData.HasLocalData(ctx, schema)
		if err != nil {
			return nil, fmt.Errorf("inspect local data: %w", err)
		}
		if !has {
			return nil, nil
		}
		sw.Unrecorded = true
	}

	confirmed, err := o.confirmer.ConfirmTenantSwitch(ctx, sw)
	if err != nil {
		return nil, apperr.ConsistencyGuard(op, apperr.ReasonTenantSwitchDeclined, err)
	}
	if !confirmed {
		return nil, apperr.ConsistencyGuard(op, apperr.ReasonTenantSwitchDeclined, nil)
	}
	return &sw, nil
}

// clearForSwitch wipes the tenant-scoped local data of both schemas of a
// confirmed switch.
func (o *Orchestrator) clearForSwitch(ctx context.Context, sw TenantSwitch) error {
	if err := o.localData.ClearForTenantSwitch(ctx, sw.FromSchema, sw.ToSchema); err != nil {
		return fmt.Errorf("clear local data for tenant switch: %w", err)
	}
	o.logger.WithFields(logrus.Fields{
		"module":      "session",
		"from_schema": sw.FromSchema,
		"from_tenant": sw.FromTenant,
		"to_schema":   sw.ToSchema,
		"to_tenant":   sw.ToTenant,
	}).Warn("local tenant data cleared for tenant switch")
	return nil
}

func (o *Orchestrator) readMarkers(ctx context.Context) (email, schema, tenantID string, err error) {
	keys := []string{models.MetadataKeyLastLoginEmail, models.MetadataKeyLastLoginSchema, models.MetadataKeyLastLoginTenant}
	vals := make([]string, len(keys))
	for i, k := range keys {
		v, _, err := o.metadata.Get(ctx, k)
		if err != nil {
			return "", "", "", fmt.Errorf("read %s: %w", k, err)
		}
		vals[i] = v
	}
	return vals[0], vals[1], vals[2], nil
}

func (o *Orchestrator) writeMarkers(ctx context.Context, email, schema, tenantID string) error {
	for k, v := range map[string]string{
		models.MetadataKeyLastLoginEmail:  email,
		models.MetadataKeyLastLoginSchema: schema,
		models.MetadataKeyLastLoginTenant: tenantID,
	} {
		if err := o.metadata.Set(ctx, k, v); err != nil {
			return fmt.Errorf("write %s: %w", k, err)
		}
	}
	return nil
}

func (o *Orchestrator) startSession(ctx context.Context, entry *models.CredentialCacheEntry, mode Mode) (*Session, error) {
	now := o.sched.Now()
	s := &Session{
		ID:           uuid.NewString(),
		Email:        entry.Email,
		TenantId:     entry.TenantId,
		Schema:       entry.SchemaName,
		BusinessName: entry.BusinessName,
		Roles:        entry.RolesSnapshot,
		Mode:         mode,
		IssuedAt:     now,
		ExpiresAt:    now.Add(o.sessionTTL),
	}
	claim := utils.JwtCustomClaim{
		Email:    s.Email,
		TenantId: s.TenantId,
		Schema:   s.Schema,
		Mode:     string(mode),
	}
	claim.Id = s.ID
	token, err := utils.JwtGenerate(o.secret, claim, s.IssuedAt, s.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}
	s.Token = token
	if err := o.sessions.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	o.mu.Lock()
	prev := o.current
	o.replaceLocked(s)
	o.mu.Unlock()
	if prev != nil {
		o.dropStored(prev)
	}
	return s, nil
}

// replaceLocked installs s as the current session and arms its expiry.
func (o *Orchestrator) replaceLocked(s *Session) {
	if o.expiry != nil {
		o.expiry.Stop()
		o.expiry = nil
	}
	o.current = s
	if s == nil {
		return
	}
	id := s.ID
	o.expiry = o.sched.AfterFunc(s.ExpiresAt.Sub(o.sched.Now()), func() { o.expire(id) })
}

// expire force-logs-out the session with id if it is still current.
func (o *Orchestrator) expire(id string) {
	o.mu.Lock()
	s := o.current
	if s == nil || s.ID != id {
		o.mu.Unlock()
		return
	}
	o.expiry = nil
	o.current = nil
	o.tctx.Clear()
	o.mu.Unlock()

	o.dropStored(s)
	o.logger.WithFields(logrus.Fields{"module": "session", "email": s.Email}).Info("session expired; logged out")
}

func (o *Orchestrator) dropStored(s *Session) {
	if err := o.sessions.Delete(context.Background(), s.Token); err != nil {
		config.LogError(o.logger, "session", "dropStored", "delete stored session", s.ID, err)
	}
}

// Logout ends the current session, drops its cached credential and clears
// the active tenant. The last-login markers stay so the next login can run
// the tenant-switch check.
func (o *Orchestrator) Logout(ctx context.Context) error {
	o.loginMu.Lock()
	defer o.loginMu.Unlock()

	o.mu.Lock()
	s := o.current
	o.replaceLocked(nil)
	o.tctx.Clear()
	o.mu.Unlock()
	if s == nil {
		return nil
	}

	if err := o.sessions.Delete(ctx, s.Token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := o.credentials.DeleteByEmail(ctx, s.Email); err != nil {
		return fmt.Errorf("delete cached credential: %w", err)
	}
	o.logger.WithFields(logrus.Fields{"module": "session", "email": s.Email}).Info("logged out")
	return nil
}

// Current returns the active session. An expired session is logged out on
// access and reported as session_expired.
func (o *Orchestrator) Current(ctx context.Context) (*Session, error) {
	o.mu.Lock()
	s := o.current
	o.mu.Unlock()
	if s == nil {
		return nil, ErrNoSession
	}
	if s.Expired(o.sched.Now()) {
		o.expire(s.ID)
		return nil, apperr.Authentication("session.Current", apperr.ReasonSessionExpired)
	}
	cp := *s
	return &cp, nil
}

// Authenticate resolves a bearer token to the current session. The token
// must be validly signed, stored and belong to the session that is current
// on this device.
func (o *Orchestrator) Authenticate(ctx context.Context, token string) (*Session, error) {
	const op = "session.Authenticate"
	if _, err := utils.JwtValidate(o.secret, token); err != nil {
		return nil, apperr.New(apperr.KindAuthentication, op, apperr.ReasonInvalidCredentials, err)
	}
	stored, err := o.sessions.Get(ctx, token)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, apperr.Authentication(op, apperr.ReasonSessionExpired)
	}
	if err != nil {
		return nil, err
	}
	cur, err := o.Current(ctx)
	if err != nil {
		return nil, err
	}
	if cur.ID != stored.ID {
		return nil, apperr.Authentication(op, apperr.ReasonSessionExpired)
	}
	return cur, nil
}

// SetTenant binds the sync engine to tenantID without a login.
func (o *Orchestrator) SetTenant(tenantID string) {
	o.engine.SetTenantID(tenantID)
}
