package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"VibeTune/core/poller"
	"VibeTune/logger"
	"VibeTune/model"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SongFeedHandler pushes the song list over a websocket while any song is
// processing, then closes the connection normally.
func (h *APIHandler) SongFeedHandler(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		userID = UserIDFromContext(r.Context())
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("[SongFeed] websocket upgrade failed", logger.ErrorField(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// 客户端断开时停止轮询
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	p := poller.New(h.pollInterval, func(ctx context.Context) ([]*model.Song, error) {
		return h.songs.List(ctx, userID)
	})
	err = p.Run(ctx, func(songs []*model.Song) {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(songs); err != nil {
			logger.Warn("[SongFeed] write failed", logger.ErrorField(err))
			cancel()
		}
	})

	code, reason := websocket.CloseNormalClosure, "no songs processing"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		return
	default:
		code, reason = websocket.CloseInternalServerErr, "failed to list songs"
	}
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout)); err != nil {
		logger.Debug("[SongFeed] close message not delivered", logger.ErrorField(err))
	}
}
