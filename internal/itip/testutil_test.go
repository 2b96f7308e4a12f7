package itip

import (
	"bytes"
	"strings"
	"testing"
	"time"

	goical "github.com/emersion/go-ical"
)

// parseICS is a minimal .ics-literal test fixture loader so test cases
// read like the wire format rather than verbose struct literals.
func parseICS(t *testing.T, src string) *CalendarObject {
	t.Helper()
	raw := strings.ReplaceAll(strings.TrimSpace(src), "\n", "\r\n") + "\r\n"
	cal, err := goical.NewDecoder(bytes.NewReader([]byte(raw))).Decode()
	if err != nil {
		t.Fatalf("parseICS: %v", err)
	}
	return cal
}

func mustSnapshot(t *testing.T, cal *CalendarObject, identities []string) *Snapshot {
	t.Helper()
	snap, err := BuildSnapshot(cal, identities, false)
	if err != nil {
		t.Fatalf("BuildSnapshot: %v", err)
	}
	return snap
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func findMethodCount(msgs []Message, m Method) int {
	n := 0
	for _, msg := range msgs {
		if msg.Method == m {
			n++
		}
	}
	return n
}

func bodyMethod(cal *CalendarObject) string {
	if p := cal.Props.Get(goical.PropMethod); p != nil {
		return p.Value
	}
	return ""
}
