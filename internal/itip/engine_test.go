package itip

import (
	"testing"
)

func TestProcessInbound_AddAppendsOverride(t *testing.T) {
	cal := parseICS(t, simpleRequestICS)
	cal.Props.SetText("METHOD", "REQUEST")
	state := &InboundState{}
	stored, _, err := ProcessInbound(cal, state)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	state.Stored = stored

	const addICS = `
BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Test//EN
METHOD:ADD
BEGIN:VEVENT
UID:event-1@example.com
DTSTAMP:20260301T130000Z
RECURRENCE-ID:20260317T150000Z
DTSTART:20260317T180000Z
DTEND:20260317T190000Z
SUMMARY:Weekly sync (moved)
SEQUENCE:0
ORGANIZER:mailto:alice@example.com
ATTENDEE;PARTSTAT=NEEDS-ACTION:mailto:bob@example.com
END:VEVENT
END:VCALENDAR
`
	addCal := parseICS(t, addICS)
	out, notes, err := ProcessInbound(addCal, state)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(notes) != 1 || notes[0].Dropped {
		t.Fatalf("expected ADD to apply, got %+v", notes)
	}
	if len(out.Children) != 2 {
		t.Fatalf("expected main + 1 override, got %d components", len(out.Children))
	}
}

func TestProcessInbound_CounterThenDeclineCounterClearsPending(t *testing.T) {
	cal := parseICS(t, simpleRequestICS)
	cal.Props.SetText("METHOD", "REQUEST")
	state := &InboundState{}
	stored, _, err := ProcessInbound(cal, state)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	state.Stored = stored

	const counterICS = `
BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Test//EN
METHOD:COUNTER
BEGIN:VEVENT
UID:event-1@example.com
DTSTAMP:20260301T130000Z
DTSTART:20260310T160000Z
DTEND:20260310T170000Z
SUMMARY:Weekly sync
SEQUENCE:0
ORGANIZER:mailto:alice@example.com
ATTENDEE;PARTSTAT=NEEDS-ACTION:mailto:bob@example.com
END:VEVENT
END:VCALENDAR
`
	counterCal := parseICS(t, counterICS)
	_, notes, err := ProcessInbound(counterCal, state)
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	if len(notes) != 1 || notes[0].Dropped {
		t.Fatalf("expected COUNTER to register, got %+v", notes)
	}
	if len(state.Pending) != 1 {
		t.Fatalf("expected one pending counter, got %d", len(state.Pending))
	}

	const declineICS = `
BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Test//EN
METHOD:DECLINECOUNTER
BEGIN:VEVENT
UID:event-1@example.com
DTSTAMP:20260301T140000Z
SEQUENCE:0
ORGANIZER:mailto:alice@example.com
ATTENDEE:mailto:bob@example.com
END:VEVENT
END:VCALENDAR
`
	declineCal := parseICS(t, declineICS)
	_, notes, err = ProcessInbound(declineCal, state)
	if err != nil {
		t.Fatalf("declinecounter: %v", err)
	}
	if len(notes) != 1 || notes[0].Dropped {
		t.Fatalf("expected DECLINECOUNTER to register, got %+v", notes)
	}
	if len(state.Pending) != 0 {
		t.Fatalf("expected pending counter cleared, got %d", len(state.Pending))
	}
}

func TestEngine_ProcessInbound_OrganizerMismatchRejected(t *testing.T) {
	e := &Engine{ProdID: "-//Test//EN", Now: fixedNow}
	cal := parseICS(t, simpleRequestICS)
	cal.Props.SetText("METHOD", "REQUEST")
	state := &InboundState{}
	stored, _, err := e.ProcessInbound(cal, state, []string{"bob@example.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	state.Stored = stored

	const spoofedICS = `
BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Test//EN
METHOD:REQUEST
BEGIN:VEVENT
UID:event-1@example.com
DTSTAMP:20260301T130000Z
DTSTART:20260310T150000Z
DTEND:20260310T160000Z
SUMMARY:Weekly sync
SEQUENCE:1
ORGANIZER:mailto:mallory@example.com
ATTENDEE;PARTSTAT=NEEDS-ACTION:mailto:bob@example.com
END:VEVENT
END:VCALENDAR
`
	spoofedCal := parseICS(t, spoofedICS)
	if _, _, err := e.ProcessInbound(spoofedCal, state, []string{"bob@example.com"}); err == nil {
		t.Fatal("expected organizer mismatch to be rejected")
	}
}

func TestEngine_BuildRefresh(t *testing.T) {
	e := &Engine{ProdID: "-//Test//EN", Now: fixedNow}
	cal := parseICS(t, simpleRequestICS)

	msg, err := e.BuildRefresh(cal, []string{"bob@example.com"})
	if err != nil {
		t.Fatalf("BuildRefresh: %v", err)
	}
	if msg.Method != MethodRefresh {
		t.Fatalf("expected REFRESH, got %v", msg.Method)
	}
	if msg.From != "bob@example.com" {
		t.Fatalf("expected From=bob, got %q", msg.From)
	}
}
