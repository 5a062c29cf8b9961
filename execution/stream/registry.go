package stream

import (
	"context"
	"sort"
	"sync"

	"github.com/BaSui01/agentgraph/types"
	"go.uber.org/zap"
)

// Registry keeps at most one live consumer per execution id.
type Registry struct {
	mu        sync.Mutex
	consumers map[string]*Consumer
	logger    *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		consumers: make(map[string]*Consumer),
		logger:    logger.With(zap.String("component", "stream_registry")),
	}
}

// Start registers and starts c. It fails with STREAM_ACTIVE while another
// consumer for the same execution is still running.
func (r *Registry) Start(ctx context.Context, c *Consumer) error {
	id := c.ExecutionID()

	r.mu.Lock()
	if existing, ok := r.consumers[id]; ok {
		select {
		case <-existing.Done():
		default:
			r.mu.Unlock()
			return types.Errorf(types.ErrStreamActive, "execution %s already has an active stream", id)
		}
	}
	r.consumers[id] = c
	r.mu.Unlock()

	go func() {
		<-c.Done()
		r.mu.Lock()
		if r.consumers[id] == c {
			delete(r.consumers, id)
		}
		r.mu.Unlock()
	}()

	if err := c.Start(ctx); err != nil {
		return err
	}
	r.logger.Debug("stream registered", zap.String("execution_id", id))
	return nil
}

// Get returns the live consumer for an execution.
func (r *Registry) Get(executionID string) (*Consumer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.consumers[executionID]
	return c, ok
}

// Stop stops the consumer of one execution, if any.
func (r *Registry) Stop(executionID string) {
	if c, ok := r.Get(executionID); ok {
		c.Stop()
	}
}

// StopAll stops every consumer and waits for them to finish or ctx to end.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	consumers := make([]*Consumer, 0, len(r.consumers))
	for _, c := range r.consumers {
		consumers = append(consumers, c)
	}
	r.mu.Unlock()

	for _, c := range consumers {
		c.Stop()
	}
	for _, c := range consumers {
		select {
		case <-c.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Active lists the execution ids with a live consumer, sorted.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.consumers))
	for id := range r.consumers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
