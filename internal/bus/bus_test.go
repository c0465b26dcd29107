package bus

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe("task.")
	defer b.Unsubscribe(sub)

	if err := b.Broadcast(TopicTaskProgress, ProgressEvent{TaskID: "t1", Progress: 0.2}); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	select {
	case event := <-sub.Ch():
		if event.Topic != TopicTaskProgress {
			t.Fatalf("topic = %q, want %q", event.Topic, TopicTaskProgress)
		}
		p, ok := event.Payload.(ProgressEvent)
		if !ok || p.TaskID != "t1" {
			t.Fatalf("payload = %#v", event.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestBus_PrefixMatching(t *testing.T) {
	b := New()

	taskSub := b.Subscribe("task.")
	defer b.Unsubscribe(taskSub)
	allSub := b.Subscribe("")
	defer b.Unsubscribe(allSub)

	b.Publish(TopicTaskStage, StageEvent{TaskID: "t1", Stage: "plan"})
	b.Publish(TopicEmployeeStatus, EmployeeStatusEvent{EmployeeID: "e1", Status: EmployeeBusy})

	select {
	case event := <-taskSub.Ch():
		if event.Topic != TopicTaskStage {
			t.Fatalf("topic = %q, want %q", event.Topic, TopicTaskStage)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for task event")
	}

	select {
	case event := <-taskSub.Ch():
		t.Fatalf("unexpected event on taskSub: %v", event)
	case <-time.After(50 * time.Millisecond):
	}

	for i := 0; i < 2; i++ {
		select {
		case <-allSub.Ch():
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for all event")
		}
	}
}

func TestBus_NonBlocking(t *testing.T) {
	b := New()
	sub := b.Subscribe("task.")
	defer b.Unsubscribe(sub)

	for i := 0; i < defaultBufferSize+10; i++ {
		b.Publish(TopicTaskActivity, i)
	}

	count := 0
	for {
		select {
		case <-sub.Ch():
			count++
		default:
			goto done
		}
	}
done:
	if count != defaultBufferSize {
		t.Fatalf("received %d events, expected %d (buffer size)", count, defaultBufferSize)
	}
	if b.Dropped() != 10 {
		t.Fatalf("dropped = %d, want 10", b.Dropped())
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe("task.")
	if b.SubscriberCount() != 1 {
		t.Fatalf("count = %d, want 1", b.SubscriberCount())
	}
	b.Unsubscribe(sub)
	if b.SubscriberCount() != 0 {
		t.Fatalf("count = %d, want 0", b.SubscriberCount())
	}
	if _, ok := <-sub.Ch(); ok {
		t.Fatal("expected closed channel")
	}
	// Second unsubscribe is a no-op.
	b.Unsubscribe(sub)
}

func TestBus_Close(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	b.Close()

	if _, ok := <-sub.Ch(); ok {
		t.Fatal("expected closed channel after Close")
	}
	if err := b.Broadcast(TopicTaskCompleted, CompletedEvent{TaskID: "t1"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Broadcast after Close err = %v, want ErrClosed", err)
	}
	late := b.Subscribe("")
	if _, ok := <-late.Ch(); ok {
		t.Fatal("subscription on closed bus should be closed")
	}
	b.Close()
}

func TestBus_ConcurrentPublish(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	const goroutines = 10
	const perGoroutine = 5
	total := goroutines * perGoroutine

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				b.Publish(TopicTaskActivity, id*100+i)
			}
		}(g)
	}
	wg.Wait()

	received := 0
	for {
		select {
		case <-sub.Ch():
			received++
		default:
			goto done
		}
	}
done:
	if received != total {
		t.Fatalf("received %d events, want %d", received, total)
	}
}
