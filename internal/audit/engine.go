package audit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/careauth/logger"
	"github.com/google/uuid"
)

// EngineConfig configures an [Engine].
type EngineConfig struct {
	// Async routes events through a Dispatcher. When false, Log persists
	// inline; use that only in tests.
	Async        bool
	BufferSize   int
	DropIfFull   bool
	WriteTimeout time.Duration
	Detection    DetectionConfig
}

// Engine is the security event pipeline.
type Engine struct {
	store      Store
	detector   *Detector
	dispatcher *Dispatcher
	fallback   Sink
	tap        Sink
	logger     logger.Logger
	timeout    time.Duration
	now        func() time.Time

	writeFailures  atomic.Uint64
	detectFailures atomic.Uint64
	alerts         atomic.Uint64
}

// EngineOption customizes an [Engine].
type EngineOption func(*Engine)

// WithLogger sets the diagnostics logger.
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithFallback sets the sink that receives events the store rejected.
func WithFallback(s Sink) EngineOption {
	return func(e *Engine) {
		if s != nil {
			e.fallback = s
		}
	}
}

// WithTap sets a sink that observes every persisted event.
func WithTap(s Sink) EngineOption {
	return func(e *Engine) {
		if s != nil {
			e.tap = s
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine builds the pipeline over store. A nil store makes every Log a
// no-op apart from the tap.
func NewEngine(store Store, cfg EngineConfig, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		fallback: NoOpSink{},
		tap:      NoOpSink{},
		logger:   logger.NewNop(),
		timeout:  cfg.WriteTimeout,
		now:      time.Now,
	}
	if e.timeout <= 0 {
		e.timeout = 5 * time.Second
	}
	for _, opt := range opts {
		opt(e)
	}
	e.detector = NewDetector(store, cfg.Detection)
	e.detector.now = e.now

	if cfg.Async {
		e.dispatcher = NewDispatcher(DispatcherConfig{
			BufferSize: cfg.BufferSize,
			DropIfFull: cfg.DropIfFull,
		}, SinkFunc(e.persist))
	}
	return e
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(ctx context.Context, event Event)

func (f SinkFunc) Emit(ctx context.Context, event Event) {
	f(ctx, event)
}

// Log enriches, scores and submits ev. It never returns an error and never
// panics.
func (e *Engine) Log(ctx context.Context, ev Event) {
	if e == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.writeFailures.Add(1)
			e.logger.Error("audit log panicked", logger.Any("panic", r), logger.String("action", ev.Action))
		}
	}()

	e.Prepare(&ev)

	if e.dispatcher != nil {
		e.dispatcher.Emit(ctx, ev)
		return
	}
	e.persist(context.WithoutCancel(ctx), ev)
}

// Prepare fills id, timestamp, location, action details and risk. Fields
// already set by the caller are kept.
func (e *Engine) Prepare(ev *Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now().UTC()
	}
	if ev.Status == "" {
		ev.Status = StatusSuccess
	}
	if ev.Location == "" {
		ev.Location = ClassifyLocation(ev.IP)
	}
	actionDetails(ev)
	if ev.Risk == "" {
		ev.Risk = ScoreRisk(*ev)
	}
}

func (e *Engine) persist(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.writeFailures.Add(1)
			e.logger.Error("audit persist panicked", logger.Any("panic", r), logger.String("event_id", ev.ID))
		}
	}()

	if e.store == nil {
		e.tap.Emit(ctx, ev)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, e.timeout)
	err := e.store.Append(writeCtx, ev)
	cancel()
	if err != nil {
		e.writeFailures.Add(1)
		e.logger.Warn("audit write failed",
			logger.String("event_id", ev.ID),
			logger.String("action", ev.Action),
			logger.Error(err),
		)
		e.fallback.Emit(ctx, ev)
		return
	}
	e.tap.Emit(ctx, ev)

	if ev.synthetic {
		return
	}

	detectCtx, cancel := context.WithTimeout(ctx, e.timeout)
	alerts, err := e.detector.Inspect(detectCtx, ev)
	cancel()
	if err != nil {
		e.detectFailures.Add(1)
		e.logger.Warn("anomaly detection failed",
			logger.String("event_id", ev.ID),
			logger.Error(err),
		)
	}
	for _, alert := range alerts {
		e.alerts.Add(1)
		e.Prepare(&alert)
		e.logger.Info("security anomaly detected",
			logger.String("action", alert.Action),
			logger.String("user_id", alert.UserID),
			logger.String("ip", alert.IP),
		)
		e.persist(ctx, alert)
	}
}

// UserStats returns per-user aggregates over window.
func (e *Engine) UserStats(ctx context.Context, userID string, window TimeRange) (UserStats, error) {
	if e == nil || e.store == nil {
		return UserStats{UserID: userID, Range: window, ByRisk: map[RiskLevel]int{}}, nil
	}
	return e.store.UserStats(ctx, userID, window)
}

// OrganizationOverview returns per-organization aggregates over window.
func (e *Engine) OrganizationOverview(ctx context.Context, organizationID string, window TimeRange, topN int) (OrganizationOverview, error) {
	if e == nil || e.store == nil {
		return OrganizationOverview{OrganizationID: organizationID, Range: window, ByRisk: map[RiskLevel]int{}}, nil
	}
	return e.store.OrganizationOverview(ctx, organizationID, window, topN)
}

// Close drains queued events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.dispatcher.Close()
}

// Dropped returns events discarded because the buffer was full.
func (e *Engine) Dropped() uint64 {
	if e == nil {
		return 0
	}
	return e.dispatcher.Dropped()
}

// WriteFailures returns events the store rejected.
func (e *Engine) WriteFailures() uint64 {
	if e == nil {
		return 0
	}
	return e.writeFailures.Load()
}

// DetectFailures returns detector runs that returned an error.
func (e *Engine) DetectFailures() uint64 {
	if e == nil {
		return 0
	}
	return e.detectFailures.Load()
}

// Alerts returns the number of synthetic events produced.
func (e *Engine) Alerts() uint64 {
	if e == nil {
		return 0
	}
	return e.alerts.Load()
}
