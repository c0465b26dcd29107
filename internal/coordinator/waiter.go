package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/basket/workforce/internal/bus"
	"github.com/basket/workforce/internal/persistence"
	"github.com/basket/workforce/internal/task"
)

// Waiter blocks until a task reaches a terminal status. It listens on the
// bus and polls the store as a fallback.
type Waiter struct {
	eventBus *bus.Bus // nil means polling only
	store    *persistence.TaskStore
}

// NewWaiter creates a task completion waiter.
func NewWaiter(eventBus *bus.Bus, store *persistence.TaskStore) *Waiter {
	return &Waiter{eventBus: eventBus, store: store}
}

// WaitForTask returns the terminal manifest of taskID, or an error when
// the timeout or ctx expires first.
func (w *Waiter) WaitForTask(ctx context.Context, taskID string, timeout time.Duration) (*task.Manifest, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Subscribe before the first check so a transition in between is not missed.
	var sub *bus.Subscription
	if w.eventBus != nil {
		sub = w.eventBus.Subscribe("task.")
		defer w.eventBus.Unsubscribe(sub)
	}

	m, err := w.checkTerminal(ctx, taskID)
	if err != nil || m != nil {
		return m, err
	}

	tickerInterval := time.Second
	if sub == nil {
		tickerInterval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(tickerInterval)
	defer ticker.Stop()

	for {
		var events <-chan bus.Event
		if sub != nil {
			events = sub.Ch()
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for task %s: %w", taskID, ctx.Err())
		case <-ticker.C:
		case ev, ok := <-events:
			if !ok {
				sub = nil
				continue
			}
			if !isTerminalEventFor(ev, taskID) {
				continue
			}
		}
		m, err := w.checkTerminal(ctx, taskID)
		if err != nil || m != nil {
			return m, err
		}
	}
}

func isTerminalEventFor(ev bus.Event, taskID string) bool {
	switch ev.Topic {
	case bus.TopicTaskCompleted, bus.TopicTaskFailed, bus.TopicTaskCancelled:
	default:
		return false
	}
	scoped, ok := ev.Payload.(bus.TaskScoped)
	return ok && scoped.TaskRef() == taskID
}

// checkTerminal returns the manifest when it is terminal and nil while
// the task is still live.
func (w *Waiter) checkTerminal(ctx context.Context, taskID string) (*task.Manifest, error) {
	m, err := w.store.Get(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if !m.Status.Terminal() {
		return nil, nil
	}
	return m, nil
}
