package itip

import (
	"testing"

	goical "github.com/emersion/go-ical"
)

func TestApplyBumps_ResetsPartStatsExceptCosmeticSource(t *testing.T) {
	cal := parseICS(t, simpleRequestICS)
	comp := findComponent(cal, MainInstance)

	ApplyBumps(cal, []SequenceBump{{
		Instance:        MainInstance,
		ResetPartStats:  true,
		CosmeticOnlyFor: map[string]bool{"carol@example.com": true},
	}})

	if seq := sequenceOf(comp); seq != 1 {
		t.Fatalf("expected SEQUENCE 1, got %d", seq)
	}
	attendees := comp.Props.Values(goical.PropAttendee)
	if len(attendees) != 2 {
		t.Fatalf("expected both attendees to survive the bump, got %d: %+v", len(attendees), attendees)
	}
	for _, p := range attendees {
		addr := NormalizeAddress(p.Value)
		partstat := p.Params.Get(goical.ParamParticipationStatus)
		switch addr {
		case "bob@example.com":
			if partstat != string(PartStatNeedsAction) {
				t.Errorf("expected bob reset to NEEDS-ACTION, got %s", partstat)
			}
		case "carol@example.com":
			if partstat != string(PartStatAccepted) {
				t.Errorf("expected carol's ACCEPTED to survive (cosmetic source), got %s", partstat)
			}
		}
	}
}

func TestApplyBumps_NoOpWithoutBumps(t *testing.T) {
	cal := parseICS(t, simpleRequestICS)
	comp := findComponent(cal, MainInstance)
	before := sequenceOf(comp)
	ApplyBumps(cal, nil)
	if after := sequenceOf(comp); after != before {
		t.Fatalf("expected no-op, SEQUENCE changed from %d to %d", before, after)
	}
}
