package flowbus

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/flowbus/pkg/flowbus/deadletter"
	"github.com/randalmurphal/flowbus/pkg/flowbus/observability"
	"github.com/randalmurphal/flowbus/pkg/flowbus/registry"
	"github.com/randalmurphal/flowbus/pkg/flowbus/retry"
)

// Engine routes calls to registered handlers on a shared worker pool.
// All methods are safe for concurrent use.
type Engine struct {
	lookup      PolicyLookup
	policies    *registry.Registry[string, Policy]
	pools       *registry.Registry[string, *handlerPool]
	aggregators *registry.Registry[string, AggregatorFunc]

	logger      *slog.Logger
	metrics     observability.MetricsRecorder
	spans       observability.SpanManager
	deadLetters deadletter.Store
	onError     func(call *CallDescriptor, err error)
	backoff     retry.Backoff

	// mu guards closed and the queue's send/close pair.
	mu     sync.RWMutex
	closed bool
	queue  chan *task

	ctx       context.Context
	cancel    context.CancelFunc
	group     errgroup.Group
	closeOnce sync.Once
	stopped   chan struct{}

	stats engineStats

	// Test hooks.
	now       func() time.Time
	roundWait func(ctx context.Context, call *CallDescriptor, round int) error
}

// engineStats are updated atomically and read through Stats.
type engineStats struct {
	submitted       atomic.Uint64
	completed       atomic.Uint64
	failed          atomic.Uint64
	rejected        atomic.Uint64
	expired         atomic.Uint64
	noHandler       atomic.Uint64
	handlerFailures atomic.Uint64
	retryRounds     atomic.Uint64
	unobserved      atomic.Uint64
}

// Stats is a point-in-time view of engine counters.
type Stats struct {
	Submitted       uint64
	Completed       uint64
	Failed          uint64
	Rejected        uint64
	Expired         uint64
	NoHandler       uint64
	HandlerFailures uint64
	RetryRounds     uint64
	Unobserved      uint64
	Queued          int
}

// New creates an engine and starts its workers. Call Close or Shutdown to
// stop them.
func New(opts ...Option) *Engine {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		lookup:      cfg.lookup,
		policies:    registry.New[string, Policy](),
		pools:       registry.New[string, *handlerPool](),
		aggregators: registry.New[string, AggregatorFunc](),
		logger:      cfg.logger,
		metrics:     cfg.metrics,
		spans:       cfg.spans,
		deadLetters: cfg.deadLetters,
		onError:     cfg.onError,
		backoff:     cfg.backoff,
		queue:       make(chan *task, cfg.queueSize),
		ctx:         ctx,
		cancel:      cancel,
		stopped:     make(chan struct{}),
		now:         time.Now,
	}
	e.roundWait = func(ctx context.Context, _ *CallDescriptor, round int) error {
		return e.backoff.Wait(ctx, round)
	}

	for name, fn := range builtinAggregators {
		e.aggregators.Register(name, fn)
	}

	for i := 0; i < cfg.workers; i++ {
		e.group.Go(e.worker)
	}
	go func() {
		_ = e.group.Wait()
		close(e.stopped)
	}()

	return e
}

// Policy returns the policy for eventType. The lookup runs outside any
// engine lock; if two callers race on a new type, the first answer stored
// is the one every caller sees from then on.
func (e *Engine) Policy(eventType string) Policy {
	if p, ok := e.policies.Get(eventType); ok {
		return p
	}
	p, _ := e.policies.LoadOrStore(eventType, e.lookup(eventType))
	return p
}

// RegisterAggregator makes fn available to policies under name.
func (e *Engine) RegisterAggregator(name string, fn AggregatorFunc) {
	e.aggregators.Register(name, fn)
}

// UnregisterAggregator removes a named aggregator. Calls built afterwards
// fall back to the default for their result type.
func (e *Engine) UnregisterAggregator(name string) {
	e.aggregators.Delete(name)
}

// Aggregators returns the registered aggregator names, sorted.
func (e *Engine) Aggregators() []string {
	names := e.aggregators.Keys()
	sort.Strings(names)
	return names
}

// EventTypes returns the event types with at least one handler, sorted.
func (e *Engine) EventTypes() []string {
	var types []string
	e.pools.Range(func(eventType string, p *handlerPool) bool {
		if p.len() > 0 {
			types = append(types, eventType)
		}
		return true
	})
	sort.Strings(types)
	return types
}

// NewCall builds a call for eventType under the engine's policy for it.
func (e *Engine) NewCall(eventType, method string, invoker Invoker, opts ...CallOption) *CallDescriptor {
	policy := e.Policy(eventType)
	call := newCall(eventType, method, invoker, policy, e.aggregators.Get, opts)
	if name := policy.Aggregator(); name != "" && !e.aggregators.Has(name) {
		e.logger.Warn("unknown aggregator, using default",
			slog.String("event_type", eventType),
			slog.String("aggregator", name),
		)
	}
	return call
}

func (e *Engine) pool(eventType string) *handlerPool {
	p, _ := e.pools.GetOrCreate(eventType, newHandlerPool)
	return p
}

// Register adds handler to the pool for eventType. Handles issued by this
// engine's Dispatcher are ignored so a dispatcher cannot call itself.
func (e *Engine) Register(eventType string, handler any) {
	if handler == nil || e.issued(handler) {
		return
	}
	e.pool(eventType).register(handler)
	e.logger.Debug("handler registered",
		slog.String("event_type", eventType),
	)
}

// Unregister removes every registration of handler for eventType.
// Unregistering an unknown handler is a no-op.
func (e *Engine) Unregister(eventType string, handler any) {
	p, ok := e.pools.Get(eventType)
	if !ok {
		return
	}
	if n := p.unregister(handler); n > 0 {
		e.logger.Debug("handler unregistered",
			slog.String("event_type", eventType),
			slog.Int("slots", n),
		)
	}
}

// Handlers returns how many handler slots are registered for eventType.
func (e *Engine) Handlers(eventType string) int {
	p, ok := e.pools.Get(eventType)
	if !ok {
		return 0
	}
	return p.len()
}

// Await blocks until at least one handler is registered for eventType.
// It returns ctx.Err() if ctx ends first and ErrClosed if the engine stops.
func (e *Engine) Await(ctx context.Context, eventType string) error {
	ready := e.pool(eventType).readyCh()
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return ErrClosed
	}
}

// Close stops accepting calls and waits for queued and running ones to
// finish. It is safe to call more than once.
//
// A handler must not call Close on the engine running it, since Close would
// wait for that handler to return. Call it from a new goroutine instead.
func (e *Engine) Close() error {
	e.stopIntake()
	<-e.stopped
	e.cancel()
	return nil
}

// Shutdown stops accepting calls, cancels running handlers' contexts and
// rejects calls still queued. It waits for workers to exit or ctx to end.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.stopIntake()
	e.cancel()

	select {
	case <-e.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) stopIntake() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		close(e.queue)
		e.mu.Unlock()
		e.logger.Debug("engine closing")
	})
}

// Stats returns current counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Submitted:       e.stats.submitted.Load(),
		Completed:       e.stats.completed.Load(),
		Failed:          e.stats.failed.Load(),
		Rejected:        e.stats.rejected.Load(),
		Expired:         e.stats.expired.Load(),
		NoHandler:       e.stats.noHandler.Load(),
		HandlerFailures: e.stats.handlerFailures.Load(),
		RetryRounds:     e.stats.retryRounds.Load(),
		Unobserved:      e.stats.unobserved.Load(),
		Queued:          len(e.queue),
	}
}

// task is one submitted call waiting for or running on a worker.
type task struct {
	ctx     context.Context
	release func()
	call    *CallDescriptor
	promise *Promise
	mode    string
	run     func(ctx context.Context, call *CallDescriptor) (any, error)

	// detached tasks have no caller waiting; their failures are reported.
	detached bool
}

// submit queues a call without blocking. A rejected call comes back as an
// already-failed future together with the rejection error.
func (e *Engine) submit(ctx context.Context, call *CallDescriptor, mode string, detached bool,
	run func(context.Context, *CallDescriptor) (any, error)) (*Promise, error) {

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopEngine := context.AfterFunc(e.ctx, cancel)
	stopCaller := func() bool { return false }
	if !detached {
		stopCaller = context.AfterFunc(ctx, cancel)
	}

	t := &task{
		ctx:      taskCtx,
		call:     call,
		promise:  NewPromise(),
		mode:     mode,
		run:      run,
		detached: detached,
		release: func() {
			stopEngine()
			stopCaller()
			cancel()
		},
	}
	t.promise.onCancel = cancel

	if err := e.enqueue(t); err != nil {
		t.release()
		rejected := &DispatchError{Kind: KindRejected, Call: call, Err: err}
		e.stats.rejected.Add(1)
		e.metrics.RecordDispatchError(ctx, call.EventType, KindRejected.String())
		observability.LogSubmitRejected(e.logger, call.EventType, call.Method, err.Error())
		t.promise.Fail(rejected)
		return t.promise, rejected
	}
	return t.promise, nil
}

func (e *Engine) enqueue(t *task) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return ErrClosed
	}
	select {
	case e.queue <- t:
		e.stats.submitted.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// worker drains the queue until it is closed.
func (e *Engine) worker() error {
	for t := range e.queue {
		if e.ctx.Err() != nil {
			e.rejectQueued(t)
			continue
		}
		e.execute(t)
	}
	return nil
}

func (e *Engine) rejectQueued(t *task) {
	defer t.release()

	err := &DispatchError{Kind: KindRejected, Call: t.call, Err: ErrClosed}
	e.stats.rejected.Add(1)
	e.metrics.RecordDispatchError(t.ctx, t.call.EventType, KindRejected.String())
	if t.promise.Fail(err) && t.detached {
		e.reportUnobserved(t.call, err)
	}
}

// execute runs one task and settles its promise.
func (e *Engine) execute(t *task) {
	defer t.release()

	// Cancelled while queued.
	if t.promise.IsDone() {
		return
	}

	start := time.Now()
	ctx, span := e.spans.StartDispatchSpan(t.ctx, t.mode, t.call.EventType, t.call.Method, t.call.ID.String())
	result, err := t.run(ctx, t.call)
	e.spans.EndSpanWithError(span, err)
	e.metrics.RecordInvocation(ctx, t.call.EventType, t.mode, time.Since(start), err)

	if err != nil {
		e.stats.failed.Add(1)
	} else {
		e.stats.completed.Add(1)
	}

	if !t.promise.settle(result, err, false) {
		return
	}
	if err != nil && t.detached {
		e.reportUnobserved(t.call, err)
	}
}

// checkStale fails a call that outlived its TTL.
func (e *Engine) checkStale(ctx context.Context, call *CallDescriptor) error {
	now := e.now()
	if !call.Stale(now) {
		return nil
	}
	e.stats.expired.Add(1)
	e.metrics.RecordDispatchError(ctx, call.EventType, KindExpired.String())
	observability.LogExpired(e.logger, call.EventType, call.Method, now.Sub(call.CreatedAt), call.Policy.TTL())
	return &DispatchError{Kind: KindExpired, Call: call}
}

// reportUnobserved hands a failure nobody will see to the error hook, the
// log, and the dead-letter store.
func (e *Engine) reportUnobserved(call *CallDescriptor, err error) {
	e.stats.unobserved.Add(1)
	observability.LogUnobservedFailure(e.logger, call.EventType, call.Method, err)

	if e.onError != nil {
		e.onError(call, err)
	}

	if e.deadLetters == nil {
		return
	}
	kind, attempts := KindHandlerFailure, 1
	var de *DispatchError
	if errors.As(err, &de) {
		kind = de.Kind
		attempts = max(de.Rounds, 1)
	}
	entry := deadletter.NewEntry(call.ID.String(), call.EventType, call.Method, kind.String(), err, call.Args, call.CreatedAt).
		WithAttempts(attempts)
	if serr := e.deadLetters.Save(entry); serr != nil {
		e.logger.Warn("dead-letter save failed",
			slog.String("event_type", call.EventType),
			slog.String("error", serr.Error()),
		)
	}
}
