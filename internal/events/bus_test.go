package events

import (
	"sync"
	"testing"
	"time"

	"vigil/internal/stage"
)

func alertEvent(cameraID int) Event {
	return Event{
		CameraID:  cameraID,
		Stage:     "threat",
		Summary:   stage.Summary{Stage: "threat", WeaponFound: true, Alert: true},
		Timestamp: time.Now(),
	}
}

func TestBusDeliversToHandler(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	var got []Event
	unsubscribe := bus.Subscribe(func(ev Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	bus.Publish(alertEvent(1))
	bus.Publish(alertEvent(2))

	mu.Lock()
	n := len(got)
	mu.Unlock()
	if n != 2 {
		t.Fatalf("delivered = %d, want 2", n)
	}

	unsubscribe()
	bus.Publish(alertEvent(3))

	mu.Lock()
	n = len(got)
	mu.Unlock()
	if n != 2 {
		t.Errorf("delivered after unsubscribe = %d, want 2", n)
	}
}

func TestBusChannelSubscriber(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.SubscribeChannel(4)
	defer unsubscribe()

	bus.Publish(alertEvent(7))

	select {
	case ev := <-ch:
		if ev.CameraID != 7 || ev.Stage != "threat" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestBusCameraFilter(t *testing.T) {
	bus := NewBus()
	filtered, unsubFiltered := bus.SubscribeCameraChannel(2, 4)
	defer unsubFiltered()
	all, unsubAll := bus.SubscribeChannel(4)
	defer unsubAll()

	bus.Publish(alertEvent(1))
	bus.Publish(alertEvent(2))

	if got := len(all); got != 2 {
		t.Errorf("unfiltered backlog = %d, want 2", got)
	}
	if got := len(filtered); got != 1 {
		t.Fatalf("filtered backlog = %d, want 1", got)
	}
	if ev := <-filtered; ev.CameraID != 2 {
		t.Errorf("filtered event camera = %d, want 2", ev.CameraID)
	}
}

func TestBusCameraFilterMatchesCameraZero(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.SubscribeCameraChannel(0, 4)
	defer unsubscribe()

	bus.Publish(alertEvent(0))
	bus.Publish(alertEvent(1))

	if got := len(ch); got != 1 {
		t.Fatalf("backlog = %d, want only camera 0", got)
	}
	if ev := <-ch; ev.CameraID != 0 {
		t.Errorf("event camera = %d, want 0", ev.CameraID)
	}
}

func TestBusDropsOldestOnOverflow(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.SubscribeChannel(2)
	defer unsubscribe()

	bus.Publish(alertEvent(1))
	bus.Publish(alertEvent(2))
	bus.Publish(alertEvent(3))

	if got := len(ch); got != 2 {
		t.Fatalf("backlog = %d, want 2", got)
	}
	if ev := <-ch; ev.CameraID != 2 {
		t.Errorf("first buffered camera = %d, want oldest dropped", ev.CameraID)
	}
	if ev := <-ch; ev.CameraID != 3 {
		t.Errorf("second buffered camera = %d, want 3", ev.CameraID)
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.SubscribeChannel(1)

	unsubscribe()
	unsubscribe()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}
	if bus.SubscriberCount() != 0 {
		t.Errorf("subscribers = %d, want 0", bus.SubscriberCount())
	}
}

func TestBusClose(t *testing.T) {
	bus := NewBus()
	ch, _ := bus.SubscribeChannel(1)
	bus.Subscribe(func(Event) {})

	bus.Close()

	if bus.SubscriberCount() != 0 {
		t.Errorf("subscribers = %d, want 0", bus.SubscriberCount())
	}
	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}
}
