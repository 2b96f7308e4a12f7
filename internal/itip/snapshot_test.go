package itip

import (
	"errors"
	"testing"
)

const simpleRequestICS = `
BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Test//EN
BEGIN:VEVENT
UID:event-1@example.com
DTSTAMP:20260301T120000Z
DTSTART:20260310T150000Z
DTEND:20260310T160000Z
SUMMARY:Weekly sync
SEQUENCE:0
ORGANIZER;CN=Alice:mailto:alice@example.com
ATTENDEE;PARTSTAT=NEEDS-ACTION;ROLE=REQ-PARTICIPANT:mailto:bob@example.com
ATTENDEE;PARTSTAT=ACCEPTED;ROLE=REQ-PARTICIPANT:mailto:carol@example.com
END:VEVENT
END:VCALENDAR
`

func TestBuildSnapshot_RoleDetection(t *testing.T) {
	cal := parseICS(t, simpleRequestICS)

	organizerSnap := mustSnapshot(t, cal, []string{"alice@example.com"})
	if organizerSnap.Role != RoleOrganizer {
		t.Fatalf("expected RoleOrganizer, got %v", organizerSnap.Role)
	}

	attendeeSnap := mustSnapshot(t, cal, []string{"bob@example.com"})
	if attendeeSnap.Role != RoleAttendee {
		t.Fatalf("expected RoleAttendee, got %v", attendeeSnap.Role)
	}

	noneSnap := mustSnapshot(t, cal, []string{"dave@example.com"})
	if noneSnap.Role != RoleNone {
		t.Fatalf("expected RoleNone, got %v", noneSnap.Role)
	}
}

func TestBuildSnapshot_NoAttendees(t *testing.T) {
	const ics = `
BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Test//EN
BEGIN:VEVENT
UID:solo@example.com
DTSTAMP:20260301T120000Z
DTSTART:20260310T150000Z
ORGANIZER:mailto:alice@example.com
END:VEVENT
END:VCALENDAR
`
	cal := parseICS(t, ics)
	_, err := BuildSnapshot(cal, []string{"alice@example.com"}, false)
	if !errors.Is(err, ErrNoSchedulingInfo) {
		t.Fatalf("expected ErrNoSchedulingInfo, got %v", err)
	}
}

func TestBuildSnapshot_DuplicateAttendeeCollapses(t *testing.T) {
	const ics = `
BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Test//EN
BEGIN:VEVENT
UID:dup@example.com
DTSTAMP:20260301T120000Z
DTSTART:20260310T150000Z
ORGANIZER:mailto:alice@example.com
ATTENDEE;PARTSTAT=ACCEPTED:mailto:bob@example.com
ATTENDEE;PARTSTAT=DECLINED:mailto:Bob@Example.com
END:VEVENT
END:VCALENDAR
`
	cal := parseICS(t, ics)
	snap := mustSnapshot(t, cal, []string{"alice@example.com"})
	inst := snap.Instances[MainInstance]
	if len(inst.Attendees) != 1 {
		t.Fatalf("expected 1 deduplicated attendee, got %d", len(inst.Attendees))
	}
	if p := inst.Attendees["bob@example.com"]; p.PartStat != PartStatAccepted {
		t.Fatalf("expected the first occurrence to win, got %v", p.PartStat)
	}
}

func TestBuildSnapshot_OtherScheduleAgentRejected(t *testing.T) {
	const ics = `
BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Test//EN
BEGIN:VEVENT
UID:agent@example.com
DTSTAMP:20260301T120000Z
DTSTART:20260310T150000Z
ORGANIZER;SCHEDULE-AGENT=CLIENT:mailto:alice@example.com
ATTENDEE:mailto:bob@example.com
END:VEVENT
END:VCALENDAR
`
	cal := parseICS(t, ics)
	_, err := BuildSnapshot(cal, []string{"alice@example.com"}, false)
	if !errors.Is(err, ErrOtherSchedulingAgent) {
		t.Fatalf("expected ErrOtherSchedulingAgent, got %v", err)
	}

	// Inbound processing must not enforce this rule (asInbound=true).
	if _, err := BuildSnapshot(cal, []string{"alice@example.com"}, true); err != nil {
		t.Fatalf("asInbound=true should skip SCHEDULE-AGENT enforcement: %v", err)
	}
}

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"mailto:Alice@Example.com": "alice@example.com",
		"  bob@example.com  ":      "bob@example.com",
		"MAILTO:CAROL@EXAMPLE.COM": "carol@example.com",
	}
	for in, want := range cases {
		if got := NormalizeAddress(in); got != want {
			t.Errorf("NormalizeAddress(%q) = %q, want %q", in, got, want)
		}
	}
}
