package events

import (
	"testing"
	"time"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventItemProgress)

	bus.Publish(&ItemProgressEvent{
		BaseEvent: BaseEvent{EventType: EventItemProgress, Time: time.Now()},
		EntryKey:  "entry-1",
		FileName:  "statement.csv",
		Stage:     StageUpload,
		Percent:   50,
	})

	select {
	case received := <-ch:
		progress, ok := received.(*ItemProgressEvent)
		if !ok {
			t.Fatal("Expected ItemProgressEvent")
		}
		if progress.EntryKey != "entry-1" {
			t.Errorf("Expected entry key 'entry-1', got '%s'", progress.EntryKey)
		}
		if progress.Percent != 50 {
			t.Errorf("Expected percent 50, got %d", progress.Percent)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for event")
	}
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch1 := bus.Subscribe(EventItemStatus)
	ch2 := bus.Subscribe(EventItemStatus)

	bus.PublishItemStatus("entry-1", "statement.csv", "queued", "detecting", "")

	received1 := false
	received2 := false

	select {
	case <-ch1:
		received1 = true
	case <-time.After(100 * time.Millisecond):
	}

	select {
	case <-ch2:
		received2 = true
	case <-time.After(100 * time.Millisecond):
	}

	if !received1 || !received2 {
		t.Error("Not all subscribers received the event")
	}
}

func TestEventBus_DifferentEventTypes(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	statusCh := bus.Subscribe(EventItemStatus)
	settledCh := bus.Subscribe(EventBatchSettled)

	bus.PublishItemStatus("entry-1", "statement.csv", "queued", "detecting", "")

	select {
	case <-statusCh:
		// Expected
	case <-time.After(100 * time.Millisecond):
		t.Error("Status subscriber didn't receive event")
	}

	select {
	case <-settledCh:
		t.Error("Settled subscriber received wrong event type")
	case <-time.After(50 * time.Millisecond):
		// Expected - timeout means no event
	}
}

func TestEventBus_SubscribeAll(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	allCh := bus.SubscribeAll()

	bus.PublishItemStatus("entry-1", "statement.csv", "queued", "detecting", "")
	bus.PublishItemProgress("entry-1", "statement.csv", StageUpload, 10)

	count := 0
	for i := 0; i < 2; i++ {
		select {
		case <-allCh:
			count++
		case <-time.After(100 * time.Millisecond):
		}
	}

	if count != 2 {
		t.Errorf("Expected to receive 2 events, got %d", count)
	}
}

func TestEventBus_NonBlocking(t *testing.T) {
	bus := NewEventBus(2) // Small buffer
	defer bus.Close()

	ch := bus.Subscribe(EventItemProgress)

	// Fill the buffer; excess events must be dropped, not block
	for i := 0; i < 10; i++ {
		bus.PublishItemProgress("entry-1", "statement.csv", StageUpload, i*10)
	}

	count := 0
	for {
		select {
		case <-ch:
			count++
		case <-time.After(10 * time.Millisecond):
			goto done
		}
	}
done:

	if count == 0 {
		t.Error("Should have received at least some events")
	}
	if bus.DroppedEventCount() == 0 {
		t.Error("Expected dropped events with a full buffer")
	}
}

func TestEventBus_Close(t *testing.T) {
	bus := NewEventBus(10)

	ch := bus.Subscribe(EventItemStatus)

	bus.Close()

	_, ok := <-ch
	if ok {
		t.Error("Channel should be closed after bus.Close()")
	}

	// Publishing after close should not panic
	bus.PublishItemStatus("entry-1", "statement.csv", "queued", "detecting", "")
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventItemStatus)
	bus.Unsubscribe(EventItemStatus, ch)

	bus.PublishItemStatus("entry-1", "statement.csv", "queued", "detecting", "")

	select {
	case <-ch:
		t.Error("Unsubscribed channel should not receive events")
	case <-time.After(50 * time.Millisecond):
		// Expected
	}
}
