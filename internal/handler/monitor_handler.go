package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/techassess/internal/config"
	ws "github.com/stemsi/techassess/internal/websocket"
)

const (
	snapshotSize    = 100
	snapshotTimeout = 5 * time.Second // keep slow queries from stalling the stream
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// MonitorHandler streams live session events to reviewers.
type MonitorHandler struct {
	rdb            *redis.Client
	sessionService SessionLister
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(rdb *redis.Client, sessionService SessionLister, log zerolog.Logger, allowedOrigins []string) *MonitorHandler {
	return &MonitorHandler{
		rdb:            rdb,
		sessionService: sessionService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// MonitorStream godoc
// WS /ws/v1/admin/monitor?token=...
// Sends a snapshot on connect, then forwards every monitor event published
// by the session service and the expiry sweeper.
func (h *MonitorHandler) MonitorStream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Subscribe before the snapshot so no event falls between the two.
	pubsub := h.rdb.Subscribe(ctx, config.CacheKey.SessionMonitorChannel())
	defer pubsub.Close()
	if err := confirmSubscription(ctx, pubsub); err != nil {
		h.log.Error().Err(err).Msg("Monitor subscription failed")
		_ = ws.WriteError(conn, "live events unavailable")
		return
	}
	events := pubsub.Channel()

	ws.KeepAlive(conn)
	if err := h.sendSnapshot(ctx, conn); err != nil {
		h.log.Warn().Err(err).Msg("Initial monitor snapshot failed")
		_ = ws.WriteError(conn, "snapshot unavailable")
	}

	// gorilla allows one concurrent reader and one writer; the reader runs
	// here and hands actions to the write loop below.
	actions := make(chan ws.Action, 8)
	go func() {
		defer cancel()
		for {
			var req ws.RequestEnvelope
			if err := ws.ReadJSON(conn, &req); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.log.Warn().Err(err).Msg("Unexpected monitor close")
				}
				return
			}
			select {
			case actions <- req.Action:
			case <-ctx.Done():
				return
			}
		}
	}()

	ping := time.NewTicker(ws.PingPeriod)
	defer ping.Stop()

	h.log.Info().Str("remote", c.ClientIP()).Msg("Reviewer attached to live monitor")
	defer h.log.Info().Str("remote", c.ClientIP()).Msg("Reviewer detached from live monitor")

	for {
		var err error
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-events:
			if !ok {
				return
			}
			// payloads are already JSON-encoded MonitorEvents
			err = ws.WriteRaw(conn, []byte(msg.Payload))

		case action := <-actions:
			switch action {
			case ws.ActionPing:
				err = ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
			case ws.ActionRefresh:
				err = h.sendSnapshot(ctx, conn)
			default:
				err = ws.WriteError(conn, "unknown action: "+string(action))
			}

		case <-ping.C:
			err = ws.WritePing(conn)
		}

		if err != nil {
			h.log.Debug().Err(err).Msg("Monitor write failed")
			return
		}
	}
}

// subscriptionReceiver is the part of *redis.PubSub that reads replies.
type subscriptionReceiver interface {
	Receive(ctx context.Context) (interface{}, error)
}

// confirmSubscription waits until Redis acknowledges the subscription.
// Subscribe alone returns before the server has registered the channel.
func confirmSubscription(ctx context.Context, ps subscriptionReceiver) error {
	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	msg, err := ps.Receive(ctx)
	if err != nil {
		return fmt.Errorf("subscribe monitor channel: %w", err)
	}
	sub, ok := msg.(*redis.Subscription)
	if !ok || sub.Kind != "subscribe" {
		return fmt.Errorf("subscribe monitor channel: unexpected reply %T", msg)
	}
	return nil
}

func (h *MonitorHandler) sendSnapshot(ctx context.Context, conn *websocket.Conn) error {
	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	list, _, err := h.sessionService.List(ctx, nil, 1, snapshotSize)
	if err != nil {
		return err
	}
	return ws.WriteTyped(conn, ws.SnapshotResponse{
		Event:    ws.EventSnapshot,
		Stats:    list.Stats,
		Sessions: list.Sessions,
	})
}
