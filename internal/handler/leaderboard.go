package handler

import (
	"context"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bazar-buzzer/internal/model"
)

// Ranking is the projector surface used by the leaderboard endpoints.
type Ranking interface {
	Current(ctx context.Context, limit int) (model.Snapshot, error)
	Subscribe(ctx context.Context) (<-chan model.Snapshot, func())
}

// LeaderboardHandler serves the ranking as JSON and as a websocket stream.
type LeaderboardHandler struct {
	Ranking Ranking
}

func NewLeaderboardHandler(r Ranking) *LeaderboardHandler {
	return &LeaderboardHandler{Ranking: r}
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// streamMessage is the envelope written to websocket clients.
type streamMessage struct {
	Type string         `json:"type"`
	Data model.Snapshot `json:"data"`
}

// Get: GET /v1/leaderboard?limit=k returns at most k entries, so limit=0
// is an empty list.  Without limit, or with k above the cached size, the
// whole cached ranking is returned.  A negative or non-numeric limit is a
// 400.
func (h *LeaderboardHandler) Get(c echo.Context) error {
	limit := math.MaxInt
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid limit"})
		}
		limit = n
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	snap, err := h.Ranking.Current(ctx, limit)
	if err != nil {
		return writeError(c, err, codeNameConflict)
	}
	return c.JSON(http.StatusOK, snap)
}

// Stream upgrades to a websocket and writes a full snapshot on connect and
// after every change.  Incoming frames are read only to notice the peer
// going away.
func (h *LeaderboardHandler) Stream(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Println("leaderboard: upgrade error:", err)
		return nil
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	snaps, unsubscribe := h.Ranking.Subscribe(ctx)
	defer unsubscribe()

	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-snaps:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(wsWriteWait))
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(streamMessage{Type: "leaderboard", Data: snap}); err != nil {
				return nil
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return nil
			}
		}
	}
}
