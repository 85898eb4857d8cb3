package events

import (
	"log"

	"github.com/google/uuid"

	"vigil/internal/database"
)

// Store persists alert events.
type Store interface {
	SaveEvent(event *database.EventRecord) error
}

// Recorder drains bus events into the store on its own goroutine so slow
// writes never back up the render path.
type Recorder struct {
	store       Store
	unsubscribe func()
	done        chan struct{}
}

// StartRecorder subscribes to the bus and begins persisting events.
func StartRecorder(bus *Bus, store Store) *Recorder {
	ch, unsubscribe := bus.SubscribeChannel(64)
	r := &Recorder{
		store:       store,
		unsubscribe: unsubscribe,
		done:        make(chan struct{}),
	}
	go r.run(ch)
	return r
}

func (r *Recorder) run(ch <-chan Event) {
	defer close(r.done)
	for ev := range ch {
		record := &database.EventRecord{
			ID:        uuid.NewString(),
			CameraID:  ev.CameraID,
			Stage:     ev.Stage,
			Detail:    ev.Summary.Detail,
			Summary:   ev.Summary,
			CreatedAt: ev.Timestamp,
		}
		if err := r.store.SaveEvent(record); err != nil {
			log.Printf("[EventRecorder] Failed to save event: %v", err)
		}
	}
}

// Stop unsubscribes and waits for the writer goroutine to drain.
func (r *Recorder) Stop() {
	r.unsubscribe()
	<-r.done
}
