package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/park285/code-duel/internal/obslog"
	"github.com/park285/code-duel/pkg/duelapi"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const streamWriteTimeout = 5 * time.Second

// StreamHandler upgrades to a websocket that replays the match snapshot and
// the latest message, then forwards every later message. The subscription is
// taken before the latest message is read so nothing published in between is
// missed; clients may see that message twice.
func (h *Handlers) StreamHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "matchId")
	m, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.storeError(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
		CompressionMode:    websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("stream_accept_error", zap.String("match_id", id), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// Clients never send; CloseRead cancels ctx once they go away.
	ctx := conn.CloseRead(r.Context())

	sub, err := h.notify.Subscribe(ctx, id)
	if err != nil {
		obslog.L().Warn("stream_subscribe_error", zap.String("match_id", id), zap.Error(err))
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer func() { _ = sub.Close() }()

	snap := duelapi.Snapshot{Type: duelapi.TypeSnapshot, Match: m.StatusDTO(h.problemFor(r, m).DTO())}
	if err := writeJSONFrame(ctx, conn, snap); err != nil {
		return
	}
	latest, err := h.notify.Latest(ctx, id)
	if err != nil {
		obslog.L().Warn("stream_latest_error", zap.String("match_id", id), zap.Error(err))
	} else if latest != nil {
		if err := writeFrame(ctx, conn, latest); err != nil {
			return
		}
	}
	obslog.L().Debug("stream_open", zap.String("match_id", id))

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub.C():
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "stream closed")
				return
			}
			if err := writeFrame(ctx, conn, raw); err != nil {
				return
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, raw []byte) error {
	wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, raw)
}

func writeJSONFrame(ctx context.Context, conn *websocket.Conn, v any) error {
	wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, v)
}
