package domain

import "time"

// Epoch is a discrete round counter used to timestamp proposals and
// registrations. Epochs are derived from wall-clock time on a fixed interval
// so independent validator processes agree on the current round without a
// shared counter.
type Epoch int64

// EpochAt returns the epoch containing t for the given interval.
// A non-positive interval defaults to one hour.
func EpochAt(t time.Time, interval time.Duration) Epoch {
	if interval <= 0 {
		interval = time.Hour
	}
	return Epoch(t.Unix() / int64(interval/time.Second))
}

// Int64 returns the epoch as a plain integer for storage.
func (e Epoch) Int64() int64 { return int64(e) }
