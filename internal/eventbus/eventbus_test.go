package eventbus

import (
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Envelope) Envelope {
	t.Helper()
	select {
	case env, ok := <-ch:
		if !ok {
			t.Fatal("channel closed unexpectedly")
		}
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
		return Envelope{}
	}
}

func TestPublishSubscribe_BasicDelivery(t *testing.T) {
	b := New(4)
	ch, unsub := b.Subscribe("task-1")
	defer unsub()

	b.Publish(Envelope{TaskID: "task-1", Type: EventStageStarted, Stage: "extract_audio"})

	got := recv(t, ch)
	if got.Stage != "extract_audio" || got.Type != EventStageStarted {
		t.Fatalf("got = %+v", got)
	}
	if got.Sequence != 1 {
		t.Fatalf("Sequence = %d, want 1", got.Sequence)
	}
}

func TestPublish_MultipleSubscribersAllReceive(t *testing.T) {
	b := New(4)
	ch1, unsub1 := b.Subscribe("task-1")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("task-1")
	defer unsub2()

	b.Publish(Envelope{TaskID: "task-1", Type: EventStageSucceeded, Stage: "mux"})

	if got := recv(t, ch1); got.Stage != "mux" {
		t.Fatalf("ch1 got = %+v", got)
	}
	if got := recv(t, ch2); got.Stage != "mux" {
		t.Fatalf("ch2 got = %+v", got)
	}
}

func TestPublish_ScopedToTaskID(t *testing.T) {
	b := New(4)
	ch1, unsub1 := b.Subscribe("task-1")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("task-2")
	defer unsub2()

	b.Publish(Envelope{TaskID: "task-1", Type: EventStageStarted, Stage: "mux"})

	recv(t, ch1)
	select {
	case env := <-ch2:
		t.Fatalf("task-2 subscriber should not receive task-1 events, got %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribe_SnapshotOnSubscribe(t *testing.T) {
	b := New(4)
	b.Publish(Envelope{TaskID: "task-1", Type: EventStageSucceeded, Stage: "translate"})

	ch, unsub := b.Subscribe("task-1")
	defer unsub()

	got := recv(t, ch)
	if got.Stage != "translate" || got.Type != EventStageSucceeded {
		t.Fatalf("late subscriber snapshot = %+v", got)
	}
}

func TestSubscribe_NoSnapshotWhenNothingPublishedYet(t *testing.T) {
	b := New(4)
	ch, unsub := b.Subscribe("task-1")
	defer unsub()

	select {
	case env := <-ch:
		t.Fatalf("expected no snapshot, got %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	b := New(4)
	ch, unsub := b.Subscribe("task-1")
	unsub()

	b.Publish(Envelope{TaskID: "task-1", Type: EventStageStarted})

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}

func TestPublish_OverflowDropsOldestAndMarksNextDelivered(t *testing.T) {
	b := New(2)
	ch, unsub := b.Subscribe("task-1")
	defer unsub()

	b.Publish(Envelope{TaskID: "task-1", Stage: "s1"})
	b.Publish(Envelope{TaskID: "task-1", Stage: "s2"})
	b.Publish(Envelope{TaskID: "task-1", Stage: "s3"}) // overflows cap 2, drops s1

	first := recv(t, ch)
	if first.Stage != "s2" {
		t.Fatalf("first.Stage = %q, want s2 (s1 should have been dropped)", first.Stage)
	}

	second := recv(t, ch)
	if second.Stage != "s3" {
		t.Fatalf("second.Stage = %q, want s3", second.Stage)
	}
	if !second.Dropped {
		t.Fatal("expected Dropped marker on envelope following an overflow")
	}
}

func TestNew_NonPositiveCapacityDefaults(t *testing.T) {
	b := New(0)
	if b.capacity != DefaultQueueCapacity {
		t.Fatalf("capacity = %d, want %d", b.capacity, DefaultQueueCapacity)
	}
}
