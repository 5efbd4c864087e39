package feed

import (
	"io"

	sse "github.com/tmaxmax/go-sse"
)

const maxEvent = 1 << 20

// Event is one dispatched Server-Sent Event.
type Event struct {
	Type string
	Data string
	ID   string
}

// readEvents calls fn for every event on r that carries data. Unnamed events
// get type "message". It returns fn's first error, the parse error, or nil
// at EOF.
func readEvents(r io.Reader, fn func(Event) error) error {
	for ev, err := range sse.Read(r, &sse.ReadConfig{MaxEventSize: maxEvent}) {
		if err != nil {
			return err
		}
		if ev.Data == "" {
			continue
		}
		typ := ev.Type
		if typ == "" {
			typ = "message"
		}
		if err := fn(Event{Type: typ, Data: ev.Data, ID: ev.LastEventID}); err != nil {
			return err
		}
	}
	return nil
}
