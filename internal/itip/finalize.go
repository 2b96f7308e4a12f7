package itip

import (
	"strconv"

	goical "github.com/emersion/go-ical"
)

// ApplyBumps is the Finalizer (C7, spec §4.7): rewrites SEQUENCE on
// the mutated object's touched instances in place, and resets every
// attendee's PARTSTAT to NEEDS-ACTION on those instances — except
// attendees whose own PARTSTAT change was the source of a
// non-significant cosmetic delta, who keep what they just set.
// Idempotent: called with no bumps, it is a no-op.
func ApplyBumps(newCal *CalendarObject, bumps []SequenceBump) {
	for _, bump := range bumps {
		comp := findComponent(newCal, bump.Instance)
		if comp == nil {
			continue
		}

		seq := 0
		if seqProp := comp.Props.Get(goical.PropSequence); seqProp != nil {
			if v, err := strconv.Atoi(seqProp.Value); err == nil {
				seq = v
			}
		}
		setSequence(comp, seq+1)

		if !bump.ResetPartStats {
			continue
		}

		attProps := comp.Props.Values(goical.PropAttendee)
		comp.Props.Del(goical.PropAttendee)
		for _, attProp := range attProps {
			p := attProp
			addr := NormalizeAddress(p.Value)
			if bump.CosmeticOnlyFor == nil || !bump.CosmeticOnlyFor[addr] {
				if p.Params == nil {
					p.Params = goical.Params{}
				}
				p.Params.Set(goical.ParamParticipationStatus, string(PartStatNeedsAction))
			}
			comp.Props.Add(&p)
		}
	}
}
