// Package relay implements the CodeHive relay server: it accepts agent
// websocket connections, dispatches typed envelopes into room operations,
// sweeps dead members and expired rooms, and snapshots room metadata to
// disk.
package relay

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/CodeHiveAPP/codehive/internal/config"
	"github.com/CodeHiveAPP/codehive/internal/hive"
	"github.com/CodeHiveAPP/codehive/internal/logging"
	"github.com/CodeHiveAPP/codehive/internal/metrics"
	"github.com/CodeHiveAPP/codehive/internal/protocol"
	"github.com/CodeHiveAPP/codehive/internal/webhook"
)

const (
	roomExpiryCheck  = 5 * time.Minute
	persistInterval  = 60 * time.Second
	heartbeatTimeout = int64(protocol.HeartbeatTimeoutMs)
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Agents connect from their own machines, not browsers; origin checks
	// would only reject legitimate non-browser dials.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the relay process state.
type Server struct {
	cfg      config.RelayConfig
	registry *hive.Registry
	hooks    *webhook.Dispatcher
	httpSrv  *http.Server
	done     chan struct{}
}

// NewServer wires a relay from config. Call Run to start serving.
func NewServer(cfg config.RelayConfig) *Server {
	return &Server{
		cfg:      cfg,
		registry: hive.NewRegistry(),
		hooks:    webhook.NewDispatcher(),
		done:     make(chan struct{}),
	}
}

// Registry exposes the room registry (tests and diagnostics).
func (s *Server) Registry() *hive.Registry {
	return s.registry
}

// Handler returns the relay's HTTP handler without starting the sweeps or
// the listener. Tests mount it on httptest servers.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Run loads the persistence snapshot, starts the sweeps and serves until
// the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.loadSnapshot()

	go s.heartbeatSweep()
	go s.expirySweep()
	go s.persistLoop()

	router := s.buildRouter()
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpSrv = &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.L().Info("relay listening", zap.String("addr", addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		close(s.done)
		return err
	case <-ctx.Done():
	}

	close(s.done)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		logging.L().Warn("http shutdown", zap.Error(err))
	}
	s.writeSnapshot()
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/ws", s.handleWebSocket)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		connected := 0
		for _, r := range s.registry.Rooms() {
			connected += r.MemberCount()
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"rooms":   s.registry.Count(),
			"members": connected,
		})
	})
	return router
}

// handleWebSocket upgrades an agent connection and starts its pumps.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.L().Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := newClient(s, conn)
	metrics.Get().ConnectionsGauge.Inc()
	go cl.writePump()
	go cl.readPump()
}

// handleDisconnect vacates the session's seat when the transport closes.
func (s *Server) handleDisconnect(c *client) {
	c.markClosed()
	metrics.Get().ConnectionsGauge.Dec()

	deviceID, roomCode := c.session()
	if deviceID == "" || roomCode == "" {
		return
	}
	room := s.registry.GetRoom(roomCode)
	if room == nil {
		return
	}
	removed := room.RemoveMember(deviceID)
	if removed == nil {
		return
	}
	logging.ForRoom(roomCode).Info("member disconnected", zap.String("name", removed.Name))
	room.Broadcast(&protocol.Message{
		Type:   protocol.MsgMemberLeft,
		Code:   roomCode,
		Name:   removed.Name,
		Member: removed,
	}, "")
	s.hooks.Fire(room.WebhookConfig(), roomCode, webhook.EventLeave, map[string]any{"name": removed.Name})
	if room.IsEmpty() {
		s.registry.DeleteRoom(roomCode)
		metrics.Get().RoomsPrunedTotal.WithLabelValues("empty").Inc()
	}
	s.updateRoomGauge()
}

// heartbeatSweep evicts members that stopped heartbeating, then prunes the
// rooms they emptied.
func (s *Server) heartbeatSweep() {
	ticker := time.NewTicker(protocol.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		for _, room := range s.registry.Rooms() {
			for _, deviceID := range room.FindDeadClients(heartbeatTimeout) {
				removed := room.RemoveMember(deviceID)
				if removed == nil {
					continue
				}
				metrics.Get().MembersEvicted.Inc()
				logging.ForRoom(room.Code).Info("evicted dead member", zap.String("name", removed.Name))
				room.Broadcast(&protocol.Message{
					Type:   protocol.MsgMemberLeft,
					Code:   room.Code,
					Name:   removed.Name,
					Member: removed,
				}, "")
				s.hooks.Fire(room.WebhookConfig(), room.Code, webhook.EventLeave, map[string]any{"name": removed.Name})
			}
		}
		if n := s.registry.PruneEmptyRooms(); n > 0 {
			metrics.Get().RoomsPrunedTotal.WithLabelValues("empty").Add(float64(n))
		}
		s.updateRoomGauge()
	}
}

// expirySweep prunes rooms whose lastActivity is past their expiry window.
func (s *Server) expirySweep() {
	ticker := time.NewTicker(roomExpiryCheck)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
		pruned := s.registry.PruneExpiredRooms()
		for _, code := range pruned {
			logging.ForRoom(code).Info("expired room pruned")
		}
		if len(pruned) > 0 {
			metrics.Get().RoomsPrunedTotal.WithLabelValues("expired").Add(float64(len(pruned)))
		}
		s.updateRoomGauge()
	}
}

func (s *Server) updateRoomGauge() {
	metrics.Get().ActiveRoomsGauge.Set(float64(s.registry.Count()))
}
