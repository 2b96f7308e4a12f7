package dispatch

import (
	"bytes"
	"fmt"
	"io"

	goical "github.com/emersion/go-ical"
	"github.com/sonroyaalmerol/itip-engine/internal/itip"
)

// decodeCalendar parses a full scheduling object off the wire, the
// same decoder call every teacher handler that touches ICS bytes uses.
func decodeCalendar(r io.Reader) (*itip.CalendarObject, error) {
	cal, err := goical.NewDecoder(r).Decode()
	if err != nil {
		return nil, fmt.Errorf("dispatch: decode calendar: %w", err)
	}
	return cal, nil
}

func decodeCalendarString(s string) (*itip.CalendarObject, error) {
	if s == "" {
		return nil, nil
	}
	return decodeCalendar(bytes.NewReader([]byte(s)))
}

func encodeCalendar(cal *itip.CalendarObject) (string, error) {
	var buf bytes.Buffer
	if err := goical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("dispatch: encode calendar: %w", err)
	}
	return buf.String(), nil
}

// encodeComponent and decodeComponent round-trip a bare VEVENT/VTODO
// component (a stored COUNTER proposal) through a throwaway VCALENDAR
// wrapper, since go-ical only encodes/decodes whole calendars.
func encodeComponent(c *itip.Component) (string, error) {
	if c == nil {
		return "", nil
	}
	wrapper := goical.NewCalendar()
	wrapper.Props.SetText(goical.PropVersion, "2.0")
	wrapper.Props.SetText(goical.PropProductID, "-//itip-engine//dispatch//EN")
	wrapper.Children = append(wrapper.Children, c)
	return encodeCalendar(wrapper)
}

func decodeComponent(s string) (*itip.Component, error) {
	if s == "" {
		return nil, nil
	}
	cal, err := decodeCalendarString(s)
	if err != nil {
		return nil, err
	}
	if len(cal.Children) == 0 {
		return nil, fmt.Errorf("dispatch: stored proposal has no component")
	}
	return cal.Children[0], nil
}
