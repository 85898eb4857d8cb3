package events

import (
	"sync"
	"testing"
	"time"

	"vigil/internal/database"
)

type memEventStore struct {
	mu      sync.Mutex
	records []*database.EventRecord
}

func (m *memEventStore) SaveEvent(event *database.EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, event)
	return nil
}

func (m *memEventStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func TestRecorderPersistsEvents(t *testing.T) {
	bus := NewBus()
	store := &memEventStore{}
	recorder := StartRecorder(bus, store)

	bus.Publish(alertEvent(4))

	deadline := time.Now().Add(2 * time.Second)
	for store.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	recorder.Stop()

	if store.count() != 1 {
		t.Fatalf("records = %d, want 1", store.count())
	}
	record := store.records[0]
	if record.ID == "" {
		t.Error("record should carry a generated id")
	}
	if record.CameraID != 4 || record.Stage != "threat" {
		t.Errorf("record = %+v", record)
	}
	if !record.Summary.WeaponFound {
		t.Error("record should carry the summary")
	}
}

func TestRecorderStopDrains(t *testing.T) {
	bus := NewBus()
	store := &memEventStore{}
	recorder := StartRecorder(bus, store)

	for i := 0; i < 5; i++ {
		bus.Publish(alertEvent(i))
	}
	recorder.Stop()

	if got := store.count(); got != 5 {
		t.Errorf("records = %d, want 5 drained before Stop returns", got)
	}
}
