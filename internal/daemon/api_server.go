package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ripforge/internal/api"
	"ripforge/internal/history"
	"ripforge/internal/jobs"
	"ripforge/internal/logging"
	"ripforge/internal/services"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

// apiServer serves the HTTP control API and the progress websocket.
type apiServer struct {
	bind     string
	origins  []string
	logger   *slog.Logger
	daemon   *Daemon
	upgrader websocket.Upgrader

	listener net.Listener
	server   *http.Server
}

func newAPIServer(bind string, origins []string, d *Daemon, logger *slog.Logger) *apiServer {
	bind = strings.TrimSpace(bind)
	if bind == "" || d == nil {
		return nil
	}
	s := &apiServer{
		bind:    bind,
		origins: origins,
		logger:  logging.NewComponentLogger(logger, "api-server"),
		daemon:  d,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.server = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *apiServer) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	if len(s.origins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = s.origins
		corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Request-ID"}
		corsConfig.ExposeHeaders = []string{"X-Request-ID"}
		r.Use(cors.New(corsConfig))
	}

	g := r.Group("/api")
	g.GET("/status", s.handleStatus)
	g.GET("/queue", s.handleQueue)
	g.GET("/history", s.handleHistory)
	g.DELETE("/history", s.handleClearHistory)
	g.POST("/jobs/encode", s.handleEncode)
	g.POST("/jobs/scan", s.handleScan)
	g.GET("/progress", s.handleProgress)
	return r
}

// checkOrigin admits websocket upgrades without an Origin header, from the
// API's own host, or from a configured origin.
func (s *apiServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(s.origins, strings.TrimRight(origin, "/")) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// requestLogger tags each request with a correlation id and logs it at debug
// level.
func (s *apiServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid := c.GetHeader("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header("X-Request-ID", rid)
		c.Request = c.Request.WithContext(services.WithRequestID(c.Request.Context(), rid))
		c.Next()
		logging.WithContext(c.Request.Context(), s.logger).Debug("api request",
			logging.String("method", c.Request.Method),
			logging.String("path", c.FullPath()),
			logging.Int("status", c.Writer.Status()),
			logging.Duration("elapsed", time.Since(start)),
		)
	}
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_server_failed", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.stop()
	}()

	s.logger.Info("api server listening",
		logging.String(logging.FieldEventType, "api_server_listening"),
		logging.String("address", listener.Addr().String()),
	)
	return nil
}

func (s *apiServer) stop() {
	if s == nil || s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *apiServer) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.daemon.Status())
}

func (s *apiServer) handleQueue(c *gin.Context) {
	c.JSON(http.StatusOK, api.QueueListResponse{Items: s.daemon.Queue()})
}

func (s *apiServer) handleHistory(c *gin.Context) {
	filter := history.Filter{
		Kind:       jobs.Kind(strings.TrimSpace(c.Query("kind"))),
		ErrorsOnly: c.Query("errors") == "1" || strings.EqualFold(c.Query("errors"), "true"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(c, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	items, err := s.daemon.History(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []api.HistoryEntry{}
	}
	c.JSON(http.StatusOK, api.HistoryResponse{Items: items})
}

func (s *apiServer) handleClearHistory(c *gin.Context) {
	removed, err := s.daemon.ClearHistory(c.Request.Context())
	if err != nil {
		s.writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *apiServer) handleEncode(c *gin.Context) {
	var req api.EncodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := s.daemon.EnqueueEncode(req.Path, req.KeepSource)
	if err != nil {
		s.writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(enqueueStatus(resp), resp)
}

func (s *apiServer) handleScan(c *gin.Context) {
	var req api.ScanRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.writeError(c, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	resp, err := s.daemon.EnqueueScan(req.Drive)
	if err != nil {
		s.writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(enqueueStatus(resp), resp)
}

func enqueueStatus(resp api.EnqueueResponse) int {
	if resp.Queued {
		return http.StatusAccepted
	}
	return http.StatusOK
}

// handleProgress streams progress updates as JSON text frames until the
// client goes away.
func (s *apiServer) handleProgress(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", logging.Error(err))
		return
	}
	updates, unsubscribe := s.daemon.hub.Subscribe()
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug("websocket read error", logging.Error(err))
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case <-closed:
			return
		case progress, ok := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(progress); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *apiServer) writeError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, api.ErrorResponse{Error: message})
}
