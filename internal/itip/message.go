package itip

import (
	"fmt"

	goical "github.com/emersion/go-ical"
)

// buildEnvelope assembles the Message Builder's output (C6, spec
// §4.6): a *CalendarObject with METHOD set, carrying components plus
// any VTIMEZONE definitions they reference.
func buildEnvelope(method Method, prodID string, source *CalendarObject, components ...*Component) *CalendarObject {
	env := goical.NewCalendar()
	env.Props.SetText(goical.PropVersion, "2.0")
	env.Props.SetText(goical.PropProductID, prodID)
	env.Props.SetText(goical.PropMethod, string(method))

	env.Children = append(env.Children, components...)

	for _, tz := range referencedTimezones(source, components) {
		env.Children = append(env.Children, tz)
	}

	return env
}

// referencedTimezones returns the VTIMEZONE components from source
// whose TZID is referenced by a DTSTART/DTEND/EXDATE/RDATE on any of
// components.
func referencedTimezones(source *CalendarObject, components []*Component) []*Component {
	if source == nil {
		return nil
	}

	needed := make(map[string]bool)
	for _, c := range components {
		for _, code := range []string{
			goical.PropDateTimeStart,
			goical.PropDateTimeEnd,
			goical.PropExceptionDates,
			goical.PropRecurrenceDates,
		} {
			for _, p := range c.Props.Values(code) {
				if tzid := p.Params.Get(goical.ParamTimezoneID); tzid != "" {
					needed[tzid] = true
				}
			}
		}
	}
	if len(needed) == 0 {
		return nil
	}

	var out []*Component
	for _, c := range source.Children {
		if c.Name != goical.CompTimezone {
			continue
		}
		if id := c.Props.Get(goical.PropTimezoneID); id != nil && needed[id.Value] {
			out = append(out, c)
		}
	}
	return out
}

// cloneComponent returns a copy of c's properties: each property slice
// is duplicated, so replacing a property (e.g. setting DTSTAMP or
// SEQUENCE) leaves the caller's original untouched, but parameter maps
// are shared with the original. Child components (e.g. VALARM) are not
// copied.
func cloneComponent(c *Component) *Component {
	clone := goical.NewComponent(c.Name)
	for name, props := range c.Props {
		cp := make([]goical.Prop, len(props))
		copy(cp, props)
		clone.Props[name] = cp
	}
	return clone
}

func setDateTimeStamp(c *Component, dtstamp string) {
	c.Props.Set(&goical.Prop{Name: goical.PropDateTimeStamp, Value: dtstamp})
}

func setSequence(c *Component, seq int) {
	c.Props.Set(&goical.Prop{Name: goical.PropSequence, Value: fmt.Sprintf("%d", seq)})
}
