package itip

import "testing"

func diffByID(diffs []InstanceDiff, id InstanceID) (InstanceDiff, bool) {
	for _, d := range diffs {
		if d.ID == id {
			return d, true
		}
	}
	return InstanceDiff{}, false
}

func TestDiffSnapshots_CosmeticVsSignificant(t *testing.T) {
	oldCal := parseICS(t, simpleRequestICS)
	oldSnap := mustSnapshot(t, oldCal, []string{"alice@example.com"})

	// Cosmetic: only PARTSTAT changes (simulating an inbound REPLY
	// having already been applied) — fingerprint must not move.
	const cosmeticICS = `
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
	cosmeticCal := parseICS(t, cosmeticICS)
	cosmeticSnap := mustSnapshot(t, cosmeticCal, []string{"alice@example.com"})

	diffs, err := DiffSnapshots(oldSnap, cosmeticSnap)
	if err != nil {
		t.Fatalf("DiffSnapshots: %v", err)
	}
	d, ok := diffByID(diffs, MainInstance)
	if !ok || d.Kind != DiffCosmetic {
		t.Fatalf("expected DiffCosmetic, got %+v (ok=%v)", d, ok)
	}

	// Significant: DTSTART moves.
	const significantICS = `
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
	sigCal := parseICS(t, significantICS)
	sigSnap := mustSnapshot(t, sigCal, []string{"alice@example.com"})

	diffs, err = DiffSnapshots(oldSnap, sigSnap)
	if err != nil {
		t.Fatalf("DiffSnapshots: %v", err)
	}
	d, ok = diffByID(diffs, MainInstance)
	if !ok || d.Kind != DiffModified {
		t.Fatalf("expected DiffModified, got %+v (ok=%v)", d, ok)
	}
}

func TestDiffSnapshots_AttendeeSetChanged(t *testing.T) {
	oldCal := parseICS(t, simpleRequestICS)
	oldSnap := mustSnapshot(t, oldCal, []string{"alice@example.com"})

	const updatedICS = `
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
	newCal := parseICS(t, updatedICS)
	newSnap := mustSnapshot(t, newCal, []string{"alice@example.com"})

	diffs, err := DiffSnapshots(oldSnap, newSnap)
	if err != nil {
		t.Fatalf("DiffSnapshots: %v", err)
	}
	d, ok := diffByID(diffs, MainInstance)
	if !ok || d.Kind != DiffAttendeeSetChanged {
		t.Fatalf("expected DiffAttendeeSetChanged, got %+v (ok=%v)", d, ok)
	}
	if len(d.AddedAttendees) != 1 || d.AddedAttendees[0] != "dave@example.com" {
		t.Fatalf("expected dave added, got %v", d.AddedAttendees)
	}
	if len(d.RemovedAttendees) != 1 || d.RemovedAttendees[0] != "carol@example.com" {
		t.Fatalf("expected carol removed, got %v", d.RemovedAttendees)
	}
}

func TestDiffSnapshots_UidMismatchRejected(t *testing.T) {
	cal := parseICS(t, simpleRequestICS)
	snap := mustSnapshot(t, cal, []string{"alice@example.com"})

	other := *snap
	other.UID = "different-uid@example.com"

	if _, err := DiffSnapshots(snap, &other); err == nil {
		t.Fatal("expected an error for mismatched UID")
	}
}
