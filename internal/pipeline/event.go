// internal/pipeline/event.go
package pipeline

import (
	"encoding/json"
	"time"
)

// Event is a candidate pool-creation notification taken off the stream.
// It is immutable once created and discarded after processing or queue
// eviction.
type Event struct {
	ID         string
	ReceivedAt time.Time
	Logs       []string
	Raw        json.RawMessage
}
