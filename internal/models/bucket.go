package models

import "time"

// Bucket is the persisted state of one key's token bucket.
//
// LastRefill and WakeAt are stored with millisecond precision. A zero WakeAt
// means no wake is pending for the key.
type Bucket struct {
	Key        string    `json:"key"`
	Tokens     int       `json:"tokens"`
	LastRefill time.Time `json:"last_refill"`
	WakeAt     time.Time `json:"wake_at,omitempty"`
}

// HasWake reports whether a wake is scheduled for the bucket.
func (b *Bucket) HasWake() bool {
	return !b.WakeAt.IsZero()
}

// PendingWake is a scheduled wake for a key, as listed by the store on startup.
type PendingWake struct {
	Key string    `json:"key"`
	At  time.Time `json:"at"`
}
