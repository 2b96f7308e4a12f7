package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	goical "github.com/emersion/go-ical"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/itip-engine/internal/auth"
	"github.com/sonroyaalmerol/itip-engine/internal/config"
	"github.com/sonroyaalmerol/itip-engine/internal/directory"
	"github.com/sonroyaalmerol/itip-engine/internal/itip"
	"github.com/sonroyaalmerol/itip-engine/internal/schedstore"
)

// Handler exposes the itip engine over HTTP: a scheduling outbox for
// local changes (propose) and a scheduling inbox for messages arriving
// from elsewhere (inbound) — the same split RFC 6638 draws between the
// CalDAV outbox/inbox collections, adapted from the teacher's
// handleSchedulingOutboxPost to stand alone from a calendar store.
type Handler struct {
	cfg      *config.Config
	engine   *itip.Engine
	store    schedstore.Store
	dir      directory.Resolver
	notifier *Notifier
	logger   zerolog.Logger
}

func NewHandler(cfg *config.Config, engine *itip.Engine, store schedstore.Store, dir directory.Resolver, notifier *Notifier, logger zerolog.Logger) *Handler {
	return &Handler{cfg: cfg, engine: engine, store: store, dir: dir, notifier: notifier, logger: logger}
}

func (h *Handler) readICS(w http.ResponseWriter, r *http.Request) (*itip.CalendarObject, []byte, bool) {
	max := h.cfg.HTTP.MaxICSBytes
	if max <= 0 {
		max = 1 << 20
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, max+1))
	defer r.Body.Close()
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return nil, nil, false
	}
	if int64(len(raw)) > max {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return nil, nil, false
	}
	cal, err := decodeCalendarString(string(raw))
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to parse scheduling object")
		http.Error(w, "bad calendar object", http.StatusBadRequest)
		return nil, nil, false
	}
	return cal, raw, true
}

func (h *Handler) identities(ctx context.Context, r *http.Request) ([]string, error) {
	p, ok := auth.PrincipalFrom(ctx)
	if !ok || p == nil {
		return nil, fmt.Errorf("dispatch: no authenticated principal")
	}
	return h.dir.Identities(ctx, p.UserID)
}

// HandleProposeCreate is POST {base}/outbox/create: the caller has
// just written a brand-new organizer object and wants the REQUEST
// fan-out plus any SEQUENCE bump applied back onto it.
func (h *Handler) HandleProposeCreate(w http.ResponseWriter, r *http.Request) {
	cal, _, ok := h.readICS(w, r)
	if !ok {
		return
	}
	identities, err := h.identities(r.Context(), r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	msgs, err := h.engine.ProposeCreate(cal, identities)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	h.deliverAndRespond(w, r, cal, msgs)
}

// HandleProposeUpdate is POST {base}/outbox/update, carrying a JSON
// body {"old": "<ICS>", "new": "<ICS>"}.
func (h *Handler) HandleProposeUpdate(w http.ResponseWriter, r *http.Request) {
	var body updatePayload
	if !h.readJSON(w, r, &body) {
		return
	}
	oldCal, err := decodeCalendarString(body.Old)
	if err != nil {
		http.Error(w, "bad old calendar object", http.StatusBadRequest)
		return
	}
	newCal, err := decodeCalendarString(body.New)
	if err != nil {
		http.Error(w, "bad new calendar object", http.StatusBadRequest)
		return
	}

	identities, err := h.identities(r.Context(), r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	msgs, err := h.engine.ProposeUpdate(oldCal, newCal, identities)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	h.deliverAndRespond(w, r, newCal, msgs)
}

// HandleProposeCancel is POST {base}/outbox/cancel: the caller deleted
// a local object and wants CANCEL fanned out.
func (h *Handler) HandleProposeCancel(w http.ResponseWriter, r *http.Request) {
	cal, _, ok := h.readICS(w, r)
	if !ok {
		return
	}
	identities, err := h.identities(r.Context(), r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	msgs, err := h.engine.ProposeCancel(cal, identities)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	h.deliverAndRespond(w, r, cal, msgs)
}

// HandleRefresh is POST {base}/outbox/refresh: an attendee wants the
// organizer to resend the current object.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	cal, _, ok := h.readICS(w, r)
	if !ok {
		return
	}
	identities, err := h.identities(r.Context(), r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	msg, err := h.engine.BuildRefresh(cal, identities)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	h.deliverAndRespond(w, r, cal, []itip.Message{msg})
}

// HandleInbound is POST {base}/inbox: a scheduling message has arrived
// for a local attendee or organizer and must be reconciled against
// whatever this dispatcher last stored for its UID.
func (h *Handler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	cal, _, ok := h.readICS(w, r)
	if !ok {
		return
	}
	identities, err := h.identities(r.Context(), r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	uid := uidOf(cal)
	if uid == "" {
		http.Error(w, "missing UID", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	state, err := loadInboundState(ctx, h.store, uid, cal)
	if err != nil {
		h.logger.Error().Err(err).Str("uid", uid).Msg("failed to load inbound state")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	updated, notifications, err := h.engine.ProcessInbound(cal, state, identities)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	state.Stored = updated

	if err := saveInboundState(ctx, h.store, uid, state); err != nil {
		h.logger.Error().Err(err).Str("uid", uid).Msg("failed to save inbound state")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, notifications)
}

type updatePayload struct {
	Old string `json:"old"`
	New string `json:"new"`
}

func uidOf(cal *itip.CalendarObject) string {
	for _, c := range cal.Children {
		if c.Name == goical.CompEvent || c.Name == goical.CompToDo || c.Name == goical.CompJournal {
			if p := c.Props.Get(goical.PropUID); p != nil {
				return p.Value
			}
		}
	}
	return ""
}

func (h *Handler) deliverAndRespond(w http.ResponseWriter, r *http.Request, cal *itip.CalendarObject, msgs []itip.Message) {
	uid := uidOf(cal)
	h.notifier.Deliver(r.Context(), uid, msgs)
	h.writeJSON(w, http.StatusOK, msgs)
}

// writeEngineError maps an engine error to an HTTP status. There is no
// case for itip.ErrSequenceOutOfDate: a stale inbound SEQUENCE is a
// drop, not a reject (spec's drop-vs-reject split for ProcessInbound),
// so it never reaches the caller as an error — ProcessInbound reports
// it as a Notification with Dropped=true instead, and HandleInbound
// returns 200 with that notification list. The sentinel stays in
// errors.go because it is still part of the exposed error taxonomy,
// just one with no live return path in this engine.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusUnprocessableEntity
	switch {
	case errors.Is(err, itip.ErrNothingToSend):
		h.writeJSON(w, http.StatusOK, []itip.Message{})
		return
	case errors.Is(err, itip.ErrNotOrganizer), errors.Is(err, itip.ErrNotOrganizerNorAttendee),
		errors.Is(err, itip.ErrOrganizerMismatch), errors.Is(err, itip.ErrUidMismatch),
		errors.Is(err, itip.ErrCannotModifyAddress), errors.Is(err, itip.ErrCannotModifyProperty):
		status = http.StatusForbidden
	case errors.Is(err, itip.ErrMalformed):
		status = http.StatusBadRequest
	}
	http.Error(w, err.Error(), status)
}
