package dispatch

import (
	"context"
	"fmt"
	"time"

	goical "github.com/emersion/go-ical"
	"github.com/sonroyaalmerol/itip-engine/internal/itip"
	"github.com/sonroyaalmerol/itip-engine/internal/schedstore"
)

// loadInboundState rebuilds an itip.InboundState from schedstore for
// one UID. Only the REPLY watermarks the incoming message could touch
// are hydrated (one per component/attendee pair it carries) —
// ProcessInbound never consults any other key in one call — all other
// watermark keys come back empty and are filled in by ProcessInbound
// itself.
func loadInboundState(ctx context.Context, store schedstore.Store, uid string, incoming *itip.CalendarObject) (*itip.InboundState, error) {
	state := &itip.InboundState{Watermarks: itip.DTStampWatermark{}}

	storedICS, ok, err := store.GetObject(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("dispatch: load stored object: %w", err)
	}
	if ok {
		cal, err := decodeCalendarString(storedICS)
		if err != nil {
			return nil, err
		}
		state.Stored = cal
	}

	rows, err := store.ListPendingCounters(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("dispatch: list pending counters: %w", err)
	}
	for _, row := range rows {
		proposal, err := decodeComponent(row.Proposal)
		if err != nil {
			return nil, err
		}
		state.Pending = append(state.Pending, itip.PendingCounter{
			UID:      row.UID,
			Instance: itip.InstanceID(row.Instance),
			From:     row.From,
			Proposal: proposal,
		})
	}

	if methodProp := incoming.Props.Get(goical.PropMethod); methodProp != nil && methodProp.Value == string(itip.MethodReply) {
		for _, comp := range incoming.Children {
			inst := instanceIDFor(comp)
			for _, att := range comp.Props.Values(goical.PropAttendee) {
				addr := itip.NormalizeAddress(att.Value)
				ts, found, err := store.GetWatermark(ctx, uid, int64(inst), addr)
				if err != nil {
					return nil, fmt.Errorf("dispatch: load watermark: %w", err)
				}
				if found {
					state.Watermarks[uid+"|"+inst.String()+"|"+addr] = ts
				}
			}
		}
	}

	return state, nil
}

// saveInboundState persists the mutated InboundState back: the
// reconciled object (or its deletion), the pending-counter set and any
// watermark entries ProcessInbound touched.
func saveInboundState(ctx context.Context, store schedstore.Store, uid string, state *itip.InboundState) error {
	if state.Stored == nil {
		if err := store.DeleteObject(ctx, uid); err != nil {
			return fmt.Errorf("dispatch: delete object: %w", err)
		}
	} else {
		ics, err := encodeCalendar(state.Stored)
		if err != nil {
			return err
		}
		if err := store.PutObject(ctx, uid, ics); err != nil {
			return fmt.Errorf("dispatch: put object: %w", err)
		}
	}

	existing, err := store.ListPendingCounters(ctx, uid)
	if err != nil {
		return fmt.Errorf("dispatch: list pending counters: %w", err)
	}
	// Every stored row is cleared and the current set re-inserted, so a
	// proposal that is still pending is not stored twice.
	for _, row := range existing {
		if err := store.ClearPendingCounter(ctx, uid, row.Instance); err != nil {
			return fmt.Errorf("dispatch: clear pending counter: %w", err)
		}
	}
	for _, p := range state.Pending {
		proposal, err := encodeComponent(p.Proposal)
		if err != nil {
			return err
		}
		if err := store.AddPendingCounter(ctx, schedstore.PendingCounter{
			UID:       uid,
			Instance:  int64(p.Instance),
			From:      p.From,
			Proposal:  proposal,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("dispatch: add pending counter: %w", err)
		}
	}

	for key, ts := range state.Watermarks {
		u, inst, attendee, err := splitWatermarkKey(key)
		if err != nil {
			return err
		}
		if err := store.SetWatermark(ctx, schedstore.Watermark{
			UID:      u,
			Instance: inst,
			Attendee: attendee,
			DTStamp:  ts,
		}); err != nil {
			return fmt.Errorf("dispatch: save watermark: %w", err)
		}
	}

	return nil
}

func instanceIDFor(comp *itip.Component) itip.InstanceID {
	rid := comp.Props.Get(goical.PropRecurrenceID)
	if rid == nil {
		return itip.MainInstance
	}
	t, err := rid.DateTime(time.UTC)
	if err != nil {
		return itip.MainInstance
	}
	return itip.RecurrenceInstance(t)
}

// splitWatermarkKey reverses itip's "uid|instance|attendee" packing.
// UIDs never contain '|' in practice (they're URI-safe per RFC 5545);
// this dispatcher does not attempt to support ones that do.
func splitWatermarkKey(key string) (uid string, instance int64, attendee string, err error) {
	parts := make([]string, 0, 3)
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			parts = append(parts, key[start:i])
			start = i + 1
		}
	}
	parts = append(parts, key[start:])
	if len(parts) != 3 {
		return "", 0, "", fmt.Errorf("dispatch: malformed watermark key %q", key)
	}
	if parts[1] == "MAIN" {
		return parts[0], 0, parts[2], nil
	}
	t, perr := time.Parse(time.RFC3339, parts[1])
	if perr != nil {
		return "", 0, "", fmt.Errorf("dispatch: malformed watermark instance %q: %w", parts[1], perr)
	}
	return parts[0], int64(itip.RecurrenceInstance(t)), parts[2], nil
}
