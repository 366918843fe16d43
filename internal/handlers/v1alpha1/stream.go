package v1alpha1

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	api "github.com/serverkit/installer/api/v1alpha1"
	"github.com/serverkit/installer/internal/handlers/v1alpha1/mappers"
	"github.com/serverkit/installer/internal/service"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Stream pushes progress updates of a session over a websocket. It drains the
// job exactly like a poll does, so a client must use either the stream or
// polling for a session, not both. The connection is closed once the job is
// terminal.
func (h *ServiceHandler) Stream(w http.ResponseWriter, r *http.Request) {
	session := chi.URLParam(r, "id")
	logger := zap.S().Named("stream_handler").With("session", session)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debugw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// The client never sends anything; reading only detects a closed peer.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.streamInterval)
	defer ticker.Stop()

	var last *api.ProgressResponse
	for {
		result, err := h.jobSrv.Poll(r.Context(), session)
		if err != nil {
			if _, ok := err.(*service.ErrJobNotFound); !ok {
				logger.Errorw("failed to poll installation", "error", err)
				return
			}
		}

		update := mappers.ProgressToApi(result)
		if last == nil || len(update.Logs) > 0 || update.Status != last.Status || update.Progress != last.Progress {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(update); err != nil {
				logger.Debugw("client went away", "error", err)
				return
			}
			last = &update
		}

		if update.IsTerminal() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(update.Status)),
				time.Now().Add(writeWait))
			return
		}

		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
