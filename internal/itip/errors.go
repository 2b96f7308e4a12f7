package itip

import "errors"

// Error taxonomy exposed to dispatcher callers, matching spec §7.
// These are sentinels so callers can test with errors.Is even after
// an operation wraps one with additional context via fmt.Errorf.
var (
	ErrNoSchedulingInfo       = errors.New("itip: object has no organizer/attendees or is ill-formed")
	ErrNotOrganizer           = errors.New("itip: operation requires the local account to be organizer")
	ErrNotOrganizerNorAttendee = errors.New("itip: local account holds neither organizer nor attendee role")
	ErrOrganizerMismatch      = errors.New("itip: organizer address changed or does not match stored object")
	ErrUidMismatch            = errors.New("itip: inbound message UID does not match stored object")
	ErrOtherSchedulingAgent   = errors.New("itip: SCHEDULE-AGENT names an agent other than SERVER")
	ErrCannotModifyAddress    = errors.New("itip: attendee attempted to modify organizer/attendee addressing")
	ErrCannotModifyProperty   = errors.New("itip: attendee attempted to modify a disallowed property")
	ErrUnsupportedMethod      = errors.New("itip: unsupported or out-of-scope METHOD")
	ErrNothingToSend          = errors.New("itip: operation is valid but yields no recipients")
	// ErrSequenceOutOfDate is part of the exposed taxonomy (spec §7)
	// but is never returned by this engine: a stale inbound SEQUENCE
	// on REQUEST/CANCEL/ADD is always a drop, not a reject, per
	// spec §7's drop-vs-reject split — ProcessInbound reports it via
	// a Notification with Dropped=true instead (see inbound.go).
	ErrSequenceOutOfDate = errors.New("itip: inbound SEQUENCE is older than stored")
	ErrMalformed         = errors.New("itip: structural invariant violation")
)
