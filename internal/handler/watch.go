package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"lepm/internal/model"
	"lepm/internal/web"
)

const (
	watchWSWriteWait = 10 * time.Second
	watchWSPongWait  = 60 * time.Second
	watchWSPingEvery = (watchWSPongWait * 9) / 10
)

var watchWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type watchWSOutbound struct {
	Type   string        `json:"type"`
	Change *model.Change `json:"change,omitempty"`
	Cursor int64         `json:"cursor,omitempty"`
}

// watch streams committed changes over a websocket. ?since=<cursor> replays
// the persisted backlog before live delivery; ?line_id=<id> narrows the feed
// to one line.
func (h *Handler) watch(w http.ResponseWriter, r *http.Request) {
	var lineID int64
	if raw := r.URL.Query().Get("line_id"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			web.RespondError(w, h.log, model.InvalidArgumentf("invalid line_id %q", raw))
			return
		}
		lineID = v
	}
	var since int64 = -1
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			web.RespondError(w, h.log, model.InvalidArgumentf("invalid cursor %q", raw))
			return
		}
		since = v
	}

	conn, err := watchWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(watchWSPongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(watchWSPongWait))
	})

	writeCh := make(chan watchWSOutbound, 32)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		ticker := time.NewTicker(watchWSPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case out := <-writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(watchWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(watchWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Subscribe before the backlog replay so nothing committed in between is
	// lost; duplicates on the seam are filtered by cursor below.
	feed := h.svc.Subscribe(ctx)

	cursor := since
	if since >= 0 {
		for {
			backlog, err := h.svc.Changes(ctx, cursor, 0)
			if err != nil {
				h.log.Warn("watch backlog read failed", "err", err)
				cancel()
				<-writerDone
				return
			}
			for _, c := range backlog {
				cursor = c.Cursor
				if lineID != 0 && c.LineID != lineID {
					continue
				}
				c := c
				// The replay must reach the client in full: block until the
				// writer takes the message or the connection dies.
				select {
				case writeCh <- watchWSOutbound{Type: "change", Change: &c, Cursor: c.Cursor}:
				case <-ctx.Done():
					<-writerDone
					return
				}
			}
			if len(backlog) == 0 {
				break
			}
		}
	}
	select {
	case writeCh <- watchWSOutbound{Type: "subscribed", Cursor: cursor}:
	case <-ctx.Done():
		<-writerDone
		return
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-feed:
				if !ok {
					pushWatchWS(writeCh, watchWSOutbound{Type: "closed"})
					cancel()
					return
				}
				if c.Cursor <= cursor {
					continue
				}
				cursor = c.Cursor
				if lineID != 0 && c.LineID != lineID {
					continue
				}
				pushWatchWS(writeCh, watchWSOutbound{Type: "change", Change: &c, Cursor: c.Cursor})
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			cancel()
			<-writerDone
			return
		}
	}
}

// pushWatchWS delivers a live message, dropping the oldest pending one
// instead of blocking a slow client. The backlog replay never uses it.
func pushWatchWS(ch chan watchWSOutbound, out watchWSOutbound) {
	select {
	case ch <- out:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- out:
	default:
	}
}
