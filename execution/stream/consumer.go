package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/BaSui01/agentgraph/execution"
	"github.com/BaSui01/agentgraph/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultReconnectDelay is the fixed wait before the single reconnect attempt.
const DefaultReconnectDelay = 3 * time.Second

// Recorder receives stream metrics.
type Recorder interface {
	RecordStreamEvent(eventType string)
	RecordStreamDropped(reason string)
	RecordReconnect()
	StreamOpened()
	StreamClosed()
}

// Hydrator fetches the server view of an execution; used to catch up
// before reconnecting.
type Hydrator interface {
	Status(ctx context.Context, executionID string) (*execution.State, error)
}

// Stopper cancels a scheduled reconnect. *time.Timer implements it.
type Stopper interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler func(d time.Duration, f func()) Stopper

func timerScheduler(d time.Duration, f func()) Stopper { return time.AfterFunc(d, f) }

type nopRecorder struct{}

func (nopRecorder) RecordStreamEvent(string)   {}
func (nopRecorder) RecordStreamDropped(string) {}
func (nopRecorder) RecordReconnect()           {}
func (nopRecorder) StreamOpened()              {}
func (nopRecorder) StreamClosed()              {}

// Consumer owns the event connection of one execution and is the only
// writer of its tracker apart from Cancel and intervention resolution.
//
// On a disconnect while the workflow is running, and with auto-reconnect
// enabled, it schedules exactly one reconnect after a fixed delay. A failed
// reconnect counts as another disconnect. The pending reconnect is stopped
// when the execution is cancelled or reaches a terminal status.
type Consumer struct {
	tracker  *execution.Tracker
	source   Source
	tokens   TokenProvider
	hydrator Hydrator
	logger   *zap.Logger
	recorder Recorder
	tracer   trace.Tracer
	schedule Scheduler
	now      func() time.Time

	autoReconnect bool
	delay         time.Duration

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	started    bool
	opened     bool
	stopped    bool
	conn       Conn
	pending    Stopper
	reconnects int
	err        error
	done       chan struct{}
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithLogger sets the consumer logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Consumer) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithHydrator enables catch-up from the execution status API before reconnecting.
func WithHydrator(h Hydrator) Option {
	return func(c *Consumer) { c.hydrator = h }
}

// WithTracer sets the tracer used for connection spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Consumer) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithAutoReconnect enables the single scheduled reconnect. A non-positive
// delay uses DefaultReconnectDelay.
func WithAutoReconnect(enabled bool, delay time.Duration) Option {
	return func(c *Consumer) {
		c.autoReconnect = enabled
		if delay > 0 {
			c.delay = delay
		}
	}
}

// WithScheduler replaces time.AfterFunc for reconnect scheduling.
func WithScheduler(s Scheduler) Option {
	return func(c *Consumer) {
		if s != nil {
			c.schedule = s
		}
	}
}

// WithClock overrides the time source used for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Consumer) {
		if now != nil {
			c.now = now
		}
	}
}

// NewConsumer creates a consumer for tracker's execution.
func NewConsumer(tracker *execution.Tracker, source Source, tokens TokenProvider, opts ...Option) *Consumer {
	c := &Consumer{
		tracker:  tracker,
		source:   source,
		tokens:   tokens,
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
		tracer:   otel.Tracer("github.com/BaSui01/agentgraph/execution/stream"),
		schedule: timerScheduler,
		now:      time.Now,
		delay:    DefaultReconnectDelay,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "stream_consumer"), zap.String("execution_id", tracker.ID()))
	return c
}

// ExecutionID returns the id of the consumed execution.
func (c *Consumer) ExecutionID() string { return c.tracker.ID() }

// Tracker returns the tracker fed by this consumer.
func (c *Consumer) Tracker() *execution.Tracker { return c.tracker }

// Done is closed when the consumer has stopped for good.
func (c *Consumer) Done() <-chan struct{} { return c.done }

// Reconnects returns how many reconnects have been scheduled.
func (c *Consumer) Reconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnects
}

// Err returns the error that stopped the consumer, if any.
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Wait blocks until the consumer stops or ctx is done.
func (c *Consumer) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start resolves the token and opens the stream. A missing or expired token
// fails before any connection attempt. Events are then applied in arrival
// order on a background goroutine.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return types.Errorf(types.ErrStreamActive, "stream for execution %s already started", c.tracker.ID())
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	if status := c.tracker.Status(); status.Terminal() {
		err := types.Errorf(types.ErrExecutionTerminal, "execution %s is %s", c.tracker.ID(), status)
		c.shutdown(err)
		return err
	}

	token, err := ResolveToken(ctx, c.tokens, c.now())
	if err != nil {
		c.shutdown(err)
		return err
	}

	conn, err := c.open(token)
	if err != nil {
		c.shutdown(err)
		return err
	}

	c.mu.Lock()
	c.opened = true
	c.mu.Unlock()
	c.recorder.StreamOpened()

	c.tracker.OnCancel(c.Stop)
	go c.watchTerminal()
	go c.readLoop(conn)
	return nil
}

// Stop ends consumption and drops any pending reconnect. It does not change
// the tracker's workflow status.
func (c *Consumer) Stop() {
	c.shutdown(nil)
}

func (c *Consumer) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Consumer) open(token string) (Conn, error) {
	c.mu.Lock()
	ctx := c.ctx
	attempt := c.reconnects
	c.mu.Unlock()

	ctx, span := c.tracer.Start(ctx, "stream.Consumer.connect", trace.WithAttributes(
		attribute.String("execution.id", c.tracker.ID()),
		attribute.Int("stream.attempt", attempt),
	))
	defer span.End()

	conn, err := c.source.Open(ctx, c.tracker.ID(), token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "connect failed")
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		_ = conn.Close()
		return nil, context.Canceled
	}
	c.conn = conn
	return conn, nil
}

func (c *Consumer) readLoop(conn Conn) {
	for {
		raw, err := conn.Recv(c.ctx)
		if err != nil {
			c.disconnected(conn, err)
			return
		}
		if c.isStopped() {
			return
		}

		ev, err := execution.DecodeEvent(raw)
		if err != nil {
			c.logger.Warn("dropping malformed event", zap.Error(err))
			c.recorder.RecordStreamDropped("malformed")
			continue
		}

		if err := c.tracker.Apply(ev); err != nil {
			reason := "invalid_transition"
			if types.IsErrorCode(err, types.ErrExecutionTerminal) {
				reason = "terminal"
			}
			c.logger.Debug("event not applied",
				zap.String("event_type", string(ev.Type)),
				zap.Error(err))
			c.recorder.RecordStreamDropped(reason)
			continue
		}
		c.recorder.RecordStreamEvent(string(ev.Type))
	}
}

func (c *Consumer) disconnected(conn Conn, cause error) {
	_ = conn.Close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return
	}

	c.tracker.SetConnected(false)
	if errors.Is(cause, io.EOF) {
		c.logger.Info("stream closed by server")
	} else {
		c.logger.Warn("stream disconnected", zap.Error(cause))
	}
	c.scheduleReconnect(cause)
}

// scheduleReconnect arms the single reconnect timer, or stops the consumer
// when no reconnect applies.
func (c *Consumer) scheduleReconnect(cause error) {
	running := c.tracker.Status() == execution.WorkflowRunning

	c.mu.Lock()
	if c.stopped || c.pending != nil {
		c.mu.Unlock()
		return
	}
	if !c.autoReconnect || !running || types.IsErrorCode(cause, types.ErrAuthentication) {
		c.mu.Unlock()
		c.shutdown(terminalCause(cause))
		return
	}
	c.pending = c.schedule(c.delay, c.reconnect)
	c.reconnects++
	attempt := c.reconnects
	c.mu.Unlock()

	c.recorder.RecordReconnect()
	c.logger.Info("reconnect scheduled",
		zap.Duration("delay", c.delay),
		zap.Int("attempt", attempt))
}

func terminalCause(cause error) error {
	if cause == nil || errors.Is(cause, io.EOF) {
		return nil
	}
	if _, ok := types.AsError(cause); ok {
		return cause
	}
	return types.NewError(types.ErrTransport, "stream disconnected").WithCause(cause)
}

func (c *Consumer) reconnect() {
	c.mu.Lock()
	c.pending = nil
	stopped := c.stopped
	ctx := c.ctx
	c.mu.Unlock()
	if stopped || c.tracker.Status().Terminal() {
		return
	}

	if c.hydrator != nil {
		snap, err := c.hydrator.Status(ctx, c.tracker.ID())
		switch {
		case err != nil:
			c.logger.Warn("catch-up before reconnect failed", zap.Error(err))
		default:
			if err := c.tracker.Hydrate(snap); err != nil {
				c.logger.Warn("catch-up snapshot rejected", zap.Error(err))
			}
		}
		if c.tracker.Status().Terminal() || c.isStopped() {
			return
		}
	}

	token, err := ResolveToken(ctx, c.tokens, c.now())
	if err != nil {
		c.shutdown(err)
		return
	}

	conn, err := c.open(token)
	if err != nil {
		if c.isStopped() {
			return
		}
		c.logger.Warn("reconnect failed", zap.Error(err))
		c.scheduleReconnect(err)
		return
	}
	c.tracker.SetConnected(true)
	c.readLoop(conn)
}

func (c *Consumer) watchTerminal() {
	select {
	case <-c.tracker.Done():
		c.shutdown(nil)
	case <-c.done:
	}
}

func (c *Consumer) shutdown(err error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.err = err
	pending, conn, opened, cancel := c.pending, c.conn, c.opened, c.cancel
	c.pending, c.conn = nil, nil
	c.mu.Unlock()

	if pending != nil {
		pending.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if opened {
		c.recorder.StreamClosed()
	}
	if err != nil {
		c.logger.Warn("stream consumer stopped", zap.Error(err))
	} else {
		c.logger.Debug("stream consumer stopped")
	}
	close(c.done)
}
