package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"circlefi/core/types"
)

const (
	wsWriteTimeout = 10 * time.Second
	maxEventsPage  = 1000
)

type eventView struct {
	Seq        uint64            `json:"seq"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func newEventView(evt *types.Event) eventView {
	seq, _ := evt.Sequence()
	return eventView{Seq: seq, Type: evt.Type, Attributes: evt.Attributes}
}

func parseFrom(r *http.Request) (uint64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("from"))
	if raw == "" {
		return 1, nil
	}
	from, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: from %q", errBadRequest, raw)
	}
	if from == 0 {
		from = 1
	}
	return from, nil
}

// handleEvents pages through the journal starting at ?from=.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	from, err := parseFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.events == nil {
		writeJSON(w, http.StatusOK, map[string]any{"events": []eventView{}})
		return
	}
	evts, err := s.events.Events(from)
	if err != nil {
		s.logger.Error("read journal", "error", err, "request_id", requestIDFrom(r.Context()))
		writeError(w, err)
		return
	}
	if len(evts) > maxEventsPage {
		evts = evts[:maxEventsPage]
	}
	out := make([]eventView, 0, len(evts))
	for _, evt := range evts {
		out = append(out, newEventView(evt))
	}
	resp := map[string]any{"events": out}
	if len(out) > 0 {
		resp["next"] = out[len(out)-1].Seq + 1
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleEventStream upgrades to a websocket that first replays the journal
// from ?from= and then follows the live bus.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: errorDetail{Code: "unavailable", Message: "event stream disabled"}})
		return
	}
	from, err := parseFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	s.metrics.SubscriberConnected()
	defer s.metrics.SubscriberDisconnected()

	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, from); err != nil {
		switch {
		case errors.Is(err, errSubscriberDropped):
			_ = conn.Close(websocket.StatusGoingAway, "subscriber too slow")
		case websocket.CloseStatus(err) == -1 && ctx.Err() == nil:
			s.logger.Warn("event stream failed", "error", err, "request_id", requestIDFrom(r.Context()))
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

var errSubscriberDropped = errors.New("subscriber dropped")

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, from uint64) error {
	// Subscribe before reading the backlog so nothing committed in between
	// is lost; duplicates are filtered by sequence.
	live, cancel := s.bus.Subscribe()
	defer cancel()

	last := from - 1
	if s.events != nil {
		backlog, err := s.events.Events(from)
		if err != nil {
			return err
		}
		for _, evt := range backlog {
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
			if seq, ok := evt.Sequence(); ok {
				last = seq
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-live:
			if !ok {
				return errSubscriberDropped
			}
			seq, _ := evt.Sequence()
			if seq <= last {
				continue
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
			last = seq
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt *types.Event) error {
	data, err := json.Marshal(newEventView(evt))
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
