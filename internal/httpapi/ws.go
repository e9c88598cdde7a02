package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const wsWriteTimeout = 10 * time.Second

type wsError struct {
	Error string `json:"error"`
}

// WSHandler upgrades /ws and serves completion requests over the socket.
// Each inbound text frame carries one CompleteRequest; the reply frame is
// either a CompleteResponse or a wsError. Authentication happened earlier
// in the pipeline.
func WSHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			d.Logger.Error("websocket accept failed", "error", err)
			return
		}
		defer func() {
			_ = conn.Close(websocket.StatusInternalError, "unexpected close")
		}()

		d.Logger.Info("websocket connected", "remote", r.RemoteAddr)
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				status := websocket.CloseStatus(err)
				if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
					_ = conn.Close(websocket.StatusNormalClosure, "")
					return
				}
				d.Logger.Debug("websocket read ended", "error", err)
				return
			}

			var req CompleteRequest
			if err := json.Unmarshal(data, &req); err != nil {
				wsSend(r.Context(), d, conn, wsError{Error: "invalid message format"})
				continue
			}
			if req.Prompt == "" {
				wsSend(r.Context(), d, conn, wsError{Error: "prompt required"})
				continue
			}

			res, err := dispatch(r.Context(), d, &req)
			if err != nil {
				wsSend(r.Context(), d, conn, wsError{Error: err.Error()})
				continue
			}
			wsSend(r.Context(), d, conn, res)
		}
	}
}

func wsSend(ctx context.Context, d Dependencies, conn *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		d.Logger.Error("websocket marshal failed", "error", err)
		return
	}
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		d.Logger.Debug("websocket write failed", "error", err)
	}
}
