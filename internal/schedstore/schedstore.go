// Package schedstore persists the state the dispatcher needs between
// inbound deliveries: per (UID, RECURRENCE-ID, attendee) REPLY DTSTAMP
// watermarks, pending COUNTER proposals awaiting an organizer decision,
// and the last-known scheduling object per UID an attendee's inbound
// state is reconciled against.
package schedstore

import (
	"context"
	"time"
)

// Watermark is the last-applied REPLY DTSTAMP for one attendee on one
// instance, used to enforce inbound REPLY monotonicity.
type Watermark struct {
	UID      string
	Instance int64
	Attendee string
	DTStamp  time.Time
}

// PendingCounter is a stored COUNTER proposal awaiting the organizer's
// accept (silently apply the edit) or DECLINECOUNTER.
type PendingCounter struct {
	ID       string
	UID      string
	Instance int64
	From     string
	Proposal string // serialized VEVENT/VTODO component
	CreatedAt time.Time
}

// Store is the persistence boundary the dispatcher calls into on
// every inbound/outbound scheduling operation.
type Store interface {
	Close()

	GetWatermark(ctx context.Context, uid string, instance int64, attendee string) (time.Time, bool, error)
	SetWatermark(ctx context.Context, w Watermark) error

	AddPendingCounter(ctx context.Context, p PendingCounter) error
	ListPendingCounters(ctx context.Context, uid string) ([]PendingCounter, error)
	ClearPendingCounter(ctx context.Context, uid string, instance int64) error

	DeleteOldWatermarks(ctx context.Context, cutoff time.Time) error

	GetObject(ctx context.Context, uid string) (string, bool, error)
	PutObject(ctx context.Context, uid, ics string) error
	DeleteObject(ctx context.Context, uid string) error
}
