package itip

import (
	"errors"
	"testing"
)

func TestEngine_ProposeUpdate_AttendeeReply(t *testing.T) {
	e := &Engine{ProdID: "-//Test//EN", Now: fixedNow}
	oldCal := parseICS(t, simpleRequestICS)

	const acceptedICS = `
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
ATTENDEE;PARTSTAT=ACCEPTED;ROLE=REQ-PARTICIPANT:mailto:bob@example.com
ATTENDEE;PARTSTAT=ACCEPTED;ROLE=REQ-PARTICIPANT:mailto:carol@example.com
END:VEVENT
END:VCALENDAR
`
	newCal := parseICS(t, acceptedICS)

	msgs, err := e.ProposeUpdate(oldCal, newCal, []string{"bob@example.com"})
	if err != nil {
		t.Fatalf("ProposeUpdate: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Method != MethodReply {
		t.Fatalf("expected a single REPLY, got %+v", msgs)
	}
	if msgs[0].From != "bob@example.com" {
		t.Fatalf("expected REPLY from bob, got %q", msgs[0].From)
	}
	if msgs[0].Summary.PartStat != PartStatAccepted {
		t.Fatalf("expected PartStatAccepted in summary, got %v", msgs[0].Summary.PartStat)
	}

	// SEQUENCE must not move for a plain RSVP (cosmetic, spec §4.2).
	comp := findComponent(newCal, MainInstance)
	if seq := sequenceOf(comp); seq != 0 {
		t.Fatalf("expected SEQUENCE unchanged, got %d", seq)
	}
}

func TestEngine_ProposeUpdate_AttendeeCannotChangeAttendeeSet(t *testing.T) {
	e := &Engine{ProdID: "-//Test//EN", Now: fixedNow}
	oldCal := parseICS(t, simpleRequestICS)

	const tamperedICS = `
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
ATTENDEE;PARTSTAT=ACCEPTED;ROLE=REQ-PARTICIPANT:mailto:bob@example.com
ATTENDEE;PARTSTAT=ACCEPTED;ROLE=REQ-PARTICIPANT:mailto:carol@example.com
ATTENDEE;PARTSTAT=NEEDS-ACTION;ROLE=REQ-PARTICIPANT:mailto:eve@example.com
END:VEVENT
END:VCALENDAR
`
	newCal := parseICS(t, tamperedICS)

	if _, err := e.ProposeUpdate(oldCal, newCal, []string{"bob@example.com"}); !errors.Is(err, ErrCannotModifyAddress) {
		t.Fatalf("expected ErrCannotModifyAddress, got %v", err)
	}
}

func TestEngine_ProposeUpdate_AttendeeCannotChangeRRule(t *testing.T) {
	e := &Engine{ProdID: "-//Test//EN", Now: fixedNow}

	const oldICS = `
BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Test//EN
BEGIN:VEVENT
UID:recur-1@example.com
DTSTAMP:20260301T120000Z
DTSTART:20260310T150000Z
DTEND:20260310T160000Z
SUMMARY:Weekly sync
SEQUENCE:0
RRULE:FREQ=WEEKLY;COUNT=5
ORGANIZER:mailto:alice@example.com
ATTENDEE;PARTSTAT=NEEDS-ACTION:mailto:bob@example.com
END:VEVENT
END:VCALENDAR
`
	const newICS = `
BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Test//EN
BEGIN:VEVENT
UID:recur-1@example.com
DTSTAMP:20260301T120000Z
DTSTART:20260310T150000Z
DTEND:20260310T160000Z
SUMMARY:Weekly sync
SEQUENCE:0
RRULE:FREQ=WEEKLY;COUNT=10
ORGANIZER:mailto:alice@example.com
ATTENDEE;PARTSTAT=ACCEPTED:mailto:bob@example.com
END:VEVENT
END:VCALENDAR
`
	oldCal := parseICS(t, oldICS)
	newCal := parseICS(t, newICS)

	if _, err := e.ProposeUpdate(oldCal, newCal, []string{"bob@example.com"}); !errors.Is(err, ErrCannotModifyProperty) {
		t.Fatalf("expected ErrCannotModifyProperty, got %v", err)
	}
}

func TestEngine_ProposeUpdate_AttendeeCounterOnSignificantFieldEdit(t *testing.T) {
	e := &Engine{ProdID: "-//Test//EN", Now: fixedNow}
	oldCal := parseICS(t, simpleRequestICS)

	const proposedICS = `
BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Test//EN
BEGIN:VEVENT
UID:event-1@example.com
DTSTAMP:20260301T120000Z
DTSTART:20260310T160000Z
DTEND:20260310T170000Z
SUMMARY:Weekly sync
SEQUENCE:0
ORGANIZER;CN=Alice:mailto:alice@example.com
ATTENDEE;PARTSTAT=NEEDS-ACTION;ROLE=REQ-PARTICIPANT:mailto:bob@example.com
ATTENDEE;PARTSTAT=ACCEPTED;ROLE=REQ-PARTICIPANT:mailto:carol@example.com
END:VEVENT
END:VCALENDAR
`
	newCal := parseICS(t, proposedICS)

	msgs, err := e.ProposeUpdate(oldCal, newCal, []string{"bob@example.com"})
	if err != nil {
		t.Fatalf("ProposeUpdate: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Method != MethodCounter {
		t.Fatalf("expected a single COUNTER, got %+v", msgs)
	}
	if bodyMethod(msgs[0].Body) != "COUNTER" {
		t.Fatalf("envelope METHOD not set to COUNTER")
	}
}

func TestEngine_ProposeCancel_AttendeeDeclinesEveryHeldInstance(t *testing.T) {
	e := &Engine{ProdID: "-//Test//EN", Now: fixedNow}
	cal := parseICS(t, simpleRequestICS)

	msgs, err := e.ProposeCancel(cal, []string{"bob@example.com"})
	if err != nil {
		t.Fatalf("ProposeCancel: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Method != MethodReply {
		t.Fatalf("expected a single REPLY(DECLINED), got %+v", msgs)
	}
	if msgs[0].Summary.PartStat != PartStatDeclined {
		t.Fatalf("expected PartStatDeclined, got %v", msgs[0].Summary.PartStat)
	}
}
