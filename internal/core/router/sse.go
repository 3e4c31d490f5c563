package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mohammed-shakir/featuregrid/internal/collection"
	"github.com/mohammed-shakir/featuregrid/internal/core/model"
	"github.com/mohammed-shakir/featuregrid/internal/logger"
	"github.com/mohammed-shakir/featuregrid/internal/panel"
)

const (
	eventBuffer       = 16
	keepAliveInterval = 15 * time.Second
)

type pageEventJSON struct {
	Seq    uint64         `json:"seq"`
	Start  int            `json:"start"`
	Take   int            `json:"take"`
	Result []model.Record `json:"result"`
	Count  int            `json:"count"`
	Error  string         `json:"error,omitempty"`
}

type sessionEventJSON struct {
	Session string `json:"session"`
}

func encodeEvent(ev collection.PageEvent) (name string, data []byte, err error) {
	out := pageEventJSON{Seq: ev.Seq, Start: ev.Request.Start, Take: ev.Request.Count}
	name = "page"
	if ev.Err != nil {
		name = "error"
		out.Error = ev.Err.Error()
	} else {
		out.Result = ev.Result.Rows
		out.Count = ev.Result.TotalCount
		if out.Result == nil {
			out.Result = []model.Record{}
		}
	}
	data, err = json.Marshal(out)
	return name, data, err
}

// handleEvents streams a paged panel's page events for one session until the
// client leaves or the session ends. The first event names the session, which
// the client passes as ?session= on state and tab requests. Connecting with
// ?session= attaches to that session instead of opening a new one.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	idx, err := pathIndex(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	p, err := a.reg.Panel(idx)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if p.Kind != panel.KindPaged {
		a.writeError(w, r, fmt.Errorf("panel %d is not a paged grid: %w", idx, panel.ErrNoSuchPanel))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.writeError(w, r, errors.New("streaming unsupported"))
		return
	}

	sid, err := sessionParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	sess, err := a.reg.OpenSession(sid)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	defer sess.Release()
	stream, err := sess.Stream(idx)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	// the server write timeout would cut long-lived streams
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	sub := stream.Subscribe(eventBuffer)
	defer sub.Unsubscribe()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	hello, _ := json.Marshal(sessionEventJSON{Session: sess.ID})
	if _, err := fmt.Fprintf(w, "event: session\ndata: %s\n\n", hello); err != nil {
		return
	}
	flusher.Flush()

	ctx := logger.WithCollection(r.Context(), p.Name)
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			name, data, err := encodeEvent(ev)
			if err != nil {
				a.logger.ErrorContext(ctx, "encode page event", "seq", ev.Seq, "err", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
