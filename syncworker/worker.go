// Package syncworker runs the periodic push/pull cycle for the active tenant
// and adapts its retry interval to the kind of failure it sees.
package syncworker

import (
	"context"
	"errors"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/pos_sync/apperr"
	"bitbucket.org/mmdatafocus/pos_sync/config"
	"bitbucket.org/mmdatafocus/pos_sync/metrics"
	"bitbucket.org/mmdatafocus/pos_sync/scheduler"
	"bitbucket.org/mmdatafocus/pos_sync/syncengine"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultBaseInterval = 10 * time.Second
	DefaultMaxBackoff   = 300 * time.Second
)

// ErrCycleInFlight is returned by RunOnce while another cycle is running.
var ErrCycleInFlight = errors.New("sync cycle already in flight")

type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateError   State = "error"
	StateOffline State = "offline"
)

// Status is a point-in-time copy of the worker state.
type Status struct {
	State     State         `json:"state"`
	LastError string        `json:"last_error,omitempty"`
	Backoff   time.Duration `json:"backoff"`
}

// Syncer is the part of the sync engine the worker drives.
type Syncer interface {
	TenantID() string
	SyncNow(ctx context.Context) error
}

var _ Syncer = (*syncengine.Engine)(nil)

type Options struct {
	Engine       Syncer
	Scheduler    scheduler.Scheduler
	BaseInterval time.Duration
	MaxBackoff   time.Duration
	// Locker is optional. When set, each cycle holds the tenant's lock.
	Locker       Locker
	LockTTL      time.Duration
	CycleTimeout time.Duration
	Logger       *logrus.Logger
	Metrics      *metrics.Metrics
	Tracer       trace.Tracer
}

type Worker struct {
	engine       Syncer
	sched        scheduler.Scheduler
	base         time.Duration
	max          time.Duration
	locker       Locker
	lockTTL      time.Duration
	cycleTimeout time.Duration
	logger       *logrus.Logger
	metrics      *metrics.Metrics
	tracer       trace.Tracer

	mu         sync.Mutex
	status     Status
	failures   int
	started    bool
	inFlight   bool
	timer      scheduler.Timer
	generation uint64
}

func NewWorker(opts Options) *Worker {
	w := &Worker{
		engine:       opts.Engine,
		sched:        opts.Scheduler,
		base:         opts.BaseInterval,
		max:          opts.MaxBackoff,
		locker:       opts.Locker,
		lockTTL:      opts.LockTTL,
		cycleTimeout: opts.CycleTimeout,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		tracer:       opts.Tracer,
	}
	if w.sched == nil {
		w.sched = scheduler.Real()
	}
	if w.base <= 0 {
		w.base = DefaultBaseInterval
	}
	if w.max < w.base {
		w.max = max(DefaultMaxBackoff, w.base)
	}
	if w.lockTTL <= 0 {
		w.lockTTL = 2 * time.Minute
	}
	if w.logger == nil {
		w.logger = config.GetLogger()
	}
	if w.tracer == nil {
		w.tracer = otel.Tracer("pos-sync/syncworker")
	}
	w.status = Status{State: StateIdle, Backoff: w.base}
	return w
}

// Start schedules the first cycle after the base interval. Calling it on a
// started worker does nothing.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true
	w.scheduleLocked(w.base)
	w.logger.WithFields(logrus.Fields{"module": "syncworker", "interval": w.base.String()}).Info("sync worker started")
}

// Stop cancels the pending cycle and resets the worker to idle. A cycle that
// is already running finishes, but its outcome is discarded and nothing is
// rescheduled.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.generation++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.started = false
	w.failures = 0
	w.status = Status{State: StateIdle, Backoff: w.base}
	w.metrics.UpdateBackoff(w.base.Seconds())
}

func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// RunOnce runs a single cycle now without touching the schedule. It returns
// the cycle's error, or ErrCycleInFlight when a cycle is already running.
func (w *Worker) RunOnce(ctx context.Context) error {
	w.mu.Lock()
	gen := w.generation
	w.mu.Unlock()
	return w.cycle(ctx, gen)
}

func (w *Worker) scheduleLocked(d time.Duration) {
	gen := w.generation
	w.timer = w.sched.AfterFunc(d, func() { w.tick(gen) })
}

func (w *Worker) tick(gen uint64) {
	w.mu.Lock()
	if gen != w.generation || !w.started {
		w.mu.Unlock()
		return
	}
	w.timer = nil
	w.mu.Unlock()

	ctx := context.Background()
	if w.cycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cycleTimeout)
		defer cancel()
	}
	_ = w.cycle(ctx, gen)

	w.mu.Lock()
	defer w.mu.Unlock()
	if gen == w.generation && w.started && w.timer == nil {
		w.scheduleLocked(w.status.Backoff)
	}
}

func (w *Worker) cycle(ctx context.Context, gen uint64) error {
	w.mu.Lock()
	if w.inFlight {
		w.mu.Unlock()
		return ErrCycleInFlight
	}
	tenantID := w.engine.TenantID()
	if tenantID == "" {
		if gen == w.generation {
			w.status.State = StateOffline
		}
		w.mu.Unlock()
		w.metrics.RecordCycle("no_tenant", 0)
		return apperr.Application("syncworker.cycle", syncengine.ErrNoTenant)
	}
	w.inFlight = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.inFlight = false
		w.mu.Unlock()
	}()

	log := w.logger.WithFields(logrus.Fields{"module": "syncworker", "tenant_id": tenantID})

	if w.locker != nil {
		lock, err := w.locker.Obtain(ctx, cycleLockKey(tenantID), w.lockTTL)
		switch {
		case errors.Is(err, ErrLockHeld):
			log.Info("sync cycle skipped; another process holds the tenant lock")
			w.metrics.RecordCycle("skipped", 0)
			return err
		case err != nil:
			log.WithError(err).Warn("could not obtain sync lock; proceeding without lock")
		default:
			defer func() {
				if releaseErr := lock.Release(context.Background()); releaseErr != nil {
					log.WithError(releaseErr).Warn("failed to release sync lock")
				}
			}()
		}
	}

	w.mu.Lock()
	if gen == w.generation {
		w.status.State = StateSyncing
		w.status.LastError = ""
	}
	w.mu.Unlock()

	ctx, span := w.tracer.Start(ctx, "sync.cycle", trace.WithAttributes(attribute.String("tenant_id", tenantID)))
	started := w.sched.Now()
	err := w.engine.SyncNow(ctx)
	elapsed := w.sched.Now().Sub(started)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.generation {
		return err
	}
	outcome := w.applyLocked(err)
	w.metrics.RecordCycle(outcome, elapsed.Seconds())
	w.metrics.UpdateBackoff(w.status.Backoff.Seconds())

	entry := log.WithFields(logrus.Fields{"state": w.status.State, "backoff": w.status.Backoff.String()})
	switch outcome {
	case "success":
		entry.Debug("sync cycle completed")
	case "offline":
		entry.WithError(err).Warn("sync cycle failed: remote unreachable")
	default:
		entry.WithError(err).Error("sync cycle failed")
	}
	return err
}

// applyLocked folds a cycle result into the status and returns the outcome
// label.
func (w *Worker) applyLocked(err error) string {
	if err == nil {
		w.failures = 0
		w.status = Status{State: StateIdle, Backoff: w.base}
		return "success"
	}
	w.status.LastError = err.Error()
	if apperr.IsConnectivity(err) {
		w.failures = 0
		w.status.State = StateOffline
		w.status.Backoff = w.base
		return "offline"
	}
	w.failures++
	w.status.State = StateError
	w.status.Backoff = backoffFor(w.base, w.max, w.failures)
	return "error"
}

// backoffFor is base*2^(failures-1), capped at ceiling.
func backoffFor(base, ceiling time.Duration, failures int) time.Duration {
	d := base
	for i := 1; i < failures; i++ {
		if d >= ceiling/2 {
			return ceiling
		}
		d *= 2
	}
	return min(d, ceiling)
}
