package itip

import (
	"errors"
	"testing"
)

func TestEngine_ProposeCreate_SendsRequestToAllAttendees(t *testing.T) {
	e := &Engine{ProdID: "-//Test//EN", Now: fixedNow}
	cal := parseICS(t, simpleRequestICS)

	msgs, err := e.ProposeCreate(cal, []string{"alice@example.com"})
	if err != nil {
		t.Fatalf("ProposeCreate: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Method != MethodRequest {
		t.Fatalf("expected a single REQUEST, got %+v", msgs)
	}
	if len(msgs[0].To) != 2 {
		t.Fatalf("expected 2 recipients, got %v", msgs[0].To)
	}
	if bodyMethod(msgs[0].Body) != "REQUEST" {
		t.Fatalf("envelope METHOD not set to REQUEST")
	}
}

func TestEngine_ProposeCreate_RequiresOrganizerRole(t *testing.T) {
	e := &Engine{ProdID: "-//Test//EN", Now: fixedNow}
	cal := parseICS(t, simpleRequestICS)

	if _, err := e.ProposeCreate(cal, []string{"bob@example.com"}); !errors.Is(err, ErrNotOrganizer) {
		t.Fatalf("expected ErrNotOrganizer, got %v", err)
	}
}

func TestEngine_ProposeUpdate_SignificantChangeBumpsSequence(t *testing.T) {
	e := &Engine{ProdID: "-//Test//EN", Now: fixedNow}
	oldCal := parseICS(t, simpleRequestICS)

	const newICS = `
BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Test//EN
BEGIN:VEVENT
UID:event-1@example.com
DTSTAMP:20260301T120000Z
DTSTART:20260310T170000Z
DTEND:20260310T180000Z
SUMMARY:Weekly sync
SEQUENCE:0
ORGANIZER;CN=Alice:mailto:alice@example.com
ATTENDEE;PARTSTAT=NEEDS-ACTION;ROLE=REQ-PARTICIPANT:mailto:bob@example.com
ATTENDEE;PARTSTAT=ACCEPTED;ROLE=REQ-PARTICIPANT:mailto:carol@example.com
END:VEVENT
END:VCALENDAR
`
	newCal := parseICS(t, newICS)

	msgs, err := e.ProposeUpdate(oldCal, newCal, []string{"alice@example.com"})
	if err != nil {
		t.Fatalf("ProposeUpdate: %v", err)
	}
	if findMethodCount(msgs, MethodRequest) != 1 {
		t.Fatalf("expected one REQUEST, got %+v", msgs)
	}

	comp := findComponent(newCal, MainInstance)
	if seq := sequenceOf(comp); seq != 1 {
		t.Fatalf("expected SEQUENCE bumped to 1, got %d", seq)
	}
}

func TestEngine_ProposeUpdate_AttendeeAddAndRemove_CancelBeforeRequest(t *testing.T) {
	e := &Engine{ProdID: "-//Test//EN", Now: fixedNow}
	oldCal := parseICS(t, simpleRequestICS)

	const newICS = `
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
ATTENDEE;PARTSTAT=NEEDS-ACTION;ROLE=REQ-PARTICIPANT:mailto:dave@example.com
END:VEVENT
END:VCALENDAR
`
	newCal := parseICS(t, newICS)

	msgs, err := e.ProposeUpdate(oldCal, newCal, []string{"alice@example.com"})
	if err != nil {
		t.Fatalf("ProposeUpdate: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected CANCEL + REQUEST, got %d messages: %+v", len(msgs), msgs)
	}
	if msgs[0].Method != MethodCancel {
		t.Fatalf("expected CANCEL first, got %v", msgs[0].Method)
	}
	if msgs[1].Method != MethodRequest {
		t.Fatalf("expected REQUEST second, got %v", msgs[1].Method)
	}
	if len(msgs[0].To) != 1 || msgs[0].To[0] != "carol@example.com" {
		t.Fatalf("expected CANCEL scoped to carol only, got %v", msgs[0].To)
	}
}

func TestEngine_ProposeCancel_FreeBusyYieldsNothingToSend(t *testing.T) {
	e := &Engine{ProdID: "-//Test//EN", Now: fixedNow}
	const ics = `
BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Test//EN
BEGIN:VFREEBUSY
UID:fb-1@example.com
DTSTAMP:20260301T120000Z
DTSTART:20260310T150000Z
DTEND:20260310T160000Z
ORGANIZER:mailto:alice@example.com
ATTENDEE:mailto:bob@example.com
END:VFREEBUSY
END:VCALENDAR
`
	cal := parseICS(t, ics)
	if _, err := e.ProposeCancel(cal, []string{"alice@example.com"}); !errors.Is(err, ErrNothingToSend) {
		t.Fatalf("expected ErrNothingToSend, got %v", err)
	}
}
