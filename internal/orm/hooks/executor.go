package hooks

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/conduit-lang/collections/internal/orm/entity"
)

// Executor runs registered hooks for engine events.
type Executor struct {
	registry   *Registry
	asyncQueue *AsyncQueue
	logger     *zap.Logger
}

// NewExecutor creates an executor. Without a queue, async hooks run inline
// in Dispatch.
func NewExecutor(asyncQueue *AsyncQueue, logger *zap.Logger) *Executor {
	return NewExecutorWithRegistry(NewRegistry(), asyncQueue, logger)
}

// NewExecutorWithRegistry creates an executor over an existing registry
func NewExecutorWithRegistry(registry *Registry, asyncQueue *AsyncQueue, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{registry: registry, asyncQueue: asyncQueue, logger: logger}
}

// Register registers a hook
func (e *Executor) Register(kind Kind, hook *Hook) {
	e.registry.Register(kind, hook)
}

// Run executes the synchronous hooks for ev inside tx, in registration
// order. The first error stops execution and aborts the write.
func (e *Executor) Run(ctx context.Context, tx *sql.Tx, ev *Event) error {
	for _, hook := range e.registry.GetHooks(ev.Kind) {
		if hook.Async {
			continue
		}
		if err := hook.Fn(ctx, tx, ev); err != nil {
			return fmt.Errorf("hook %s (%s) failed: %w", hook.Name, ev.Kind, err)
		}
	}
	return nil
}

// Dispatch hands ev to the async hooks once the write has committed. Each
// hook receives its own copy of the event. Failures are logged, never
// returned.
func (e *Executor) Dispatch(ev *Event) {
	for _, hook := range e.registry.GetHooks(ev.Kind) {
		if !hook.Async {
			continue
		}
		hook := hook
		evCopy := copyEvent(ev)
		task := AsyncTask{
			Name: fmt.Sprintf("%s:%s", ev.Kind, hook.Name),
			Fn: func(ctx context.Context) error {
				return hook.Fn(ctx, nil, evCopy)
			},
		}
		if e.asyncQueue == nil {
			if err := task.Fn(context.Background()); err != nil {
				e.logger.Warn("async hook failed", zap.String("task", task.Name), zap.Error(err))
			}
			continue
		}
		if err := e.asyncQueue.Enqueue(task); err != nil {
			e.logger.Warn("failed to enqueue async hook", zap.String("task", task.Name), zap.Error(err))
		}
	}
}

// HasHooks reports whether anything is registered for kind
func (e *Executor) HasHooks(kind Kind) bool {
	return e.registry.HasHooks(kind)
}

// GetRegistry returns the hook registry
func (e *Executor) GetRegistry() *Registry {
	return e.registry
}

// copyEvent isolates async hooks from later mutation of the models the
// engine keeps using.
func copyEvent(ev *Event) *Event {
	out := *ev
	if ev.Model != nil {
		m := *ev.Model
		m.Data = entity.CloneDoc(ev.Model.Data)
		m.Meta = entity.CloneDoc(ev.Model.Meta)
		m.Tags = append([]string(nil), ev.Model.Tags...)
		out.Model = &m
	}
	if ev.Collection != nil {
		c := *ev.Collection
		c.Data = entity.CloneDoc(ev.Collection.Data)
		c.Meta = entity.CloneDoc(ev.Collection.Meta)
		out.Collection = &c
	}
	if ev.Relation != nil {
		r := *ev.Relation
		out.Relation = &r
	}
	out.Changed = append([]string(nil), ev.Changed...)
	out.Deleted = append([]entity.UUID(nil), ev.Deleted...)
	return &out
}
