package cache

import (
	"encoding/json"
	"time"
)

// TTL is the freshness window of a cached selection.
const TTL = 30 * time.Minute

// Entry is the winner of a probing round.
type Entry struct {
	Address    string    `json:"address"`
	LatencyMs  int64     `json:"latency_ms"`
	ObservedAt time.Time `json:"observed_at"`
}

// Age is how long ago the entry was observed. Entries stamped in the future
// by a node with a skewed clock count as brand new.
func (e Entry) Age(now time.Time) time.Duration {
	age := now.Sub(e.ObservedAt)
	if age < 0 {
		return 0
	}
	return age
}

// Fresh reports whether the entry is still inside the window. An entry
// exactly TTL old is stale.
func (e Entry) Fresh(now time.Time) bool {
	return e.Age(now) < TTL
}

func encodeEntry(e Entry) ([]byte, error) {
	return json.Marshal(e)
}

func decodeEntry(data []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, err
	}
	if e.Address == "" || e.ObservedAt.IsZero() {
		return Entry{}, ErrCorruptEntry
	}
	return e, nil
}
