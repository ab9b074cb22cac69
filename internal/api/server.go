// Package api provides the HTTP solve API: clients post a challenge,
// get an inverted nonce back, and can subscribe to a WebSocket feed of
// every nonce solved by this instance.
package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/tos-network/fastmine/internal/cache"
	"github.com/tos-network/fastmine/internal/config"
	"github.com/tos-network/fastmine/internal/limiter"
	"github.com/tos-network/fastmine/internal/miner"
	"github.com/tos-network/fastmine/internal/telemetry"
	"github.com/tos-network/fastmine/internal/util"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the HTTP solve API server.
type Server struct {
	cfg       *config.APIConfig
	cache     *cache.Client
	cacheTTL  time.Duration
	limiter   *limiter.Limiter
	telemetry *telemetry.Agent
	router    *gin.Engine
	server    *http.Server

	statsCacheMu   sync.RWMutex
	statsCache     *StatsResponse
	statsCacheTime time.Time

	feed *feedHub
}

// SolveRequest is the body of POST /solve.
type SolveRequest struct {
	Prefix string `json:"prefix" binding:"required"`
	Target string `json:"target" binding:"required"`
}

// SolveResponse is the response of POST /solve.
type SolveResponse struct {
	Nonce  string `json:"nonce"`
	Tier   string `json:"tier"`
	Cached bool   `json:"cached"`
}

// StatsResponse is the response of GET /stats.
type StatsResponse struct {
	TotalSolved   uint64            `json:"total_solved"`
	TotalAttempts uint64            `json:"total_attempts"`
	ByTier        map[string]uint64 `json:"by_tier"`
	Now           int64             `json:"now"`
}

// NewServer creates a new API server. cacheClient, lim, and tel may be
// nil; /solve runs without a result cache, policy gate, or telemetry
// respectively in that case. cacheTTL governs how long a solved record
// stays cached in Redis.
func NewServer(cfg *config.APIConfig, cacheClient *cache.Client, cacheTTL time.Duration, lim *limiter.Limiter, tel *telemetry.Agent) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		cfg:       cfg,
		cache:     cacheClient,
		cacheTTL:  cacheTTL,
		limiter:   lim,
		telemetry: tel,
		router:    router,
		feed:      newFeedHub(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the solve API endpoints.
func (s *Server) setupRoutes() {
	s.router.Use(func(c *gin.Context) {
		origin := "*"
		if len(s.cfg.CORSOrigins) > 0 {
			origin = s.cfg.CORSOrigins[0]
		}
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	s.router.POST("/solve", s.handleSolve)
	s.router.GET("/stats", s.handleStats)
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	s.router.GET("/ws/feed", s.handleFeed)
}

// Start begins the API server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.cfg.Bind,
		Handler: s.router,
	}

	util.Infof("API server listening on %s", s.cfg.Bind)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Errorf("API server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts down the API server.
func (s *Server) Stop() error {
	if s.server != nil {
		s.feed.closeAll()
		return s.server.Close()
	}
	return nil
}

// handleSolve answers a POST /solve request: check the cache, invert
// the hash if it's a miss, cache the result, and broadcast it to the
// WebSocket feed.
func (s *Server) handleSolve(c *gin.Context) {
	ip := c.ClientIP()
	if s.limiter != nil && !s.limiter.Allow(ip) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return
	}

	var req SolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if !util.IsValidHex(req.Prefix) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid prefix hex"})
		return
	}
	if !util.ValidateTargetHash(req.Target) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid target hash"})
		return
	}

	cacheKey := req.Prefix + ":" + req.Target

	if s.cache != nil {
		if rec, hit, err := s.cache.Lookup(cacheKey); err == nil && hit {
			c.JSON(http.StatusOK, SolveResponse{Nonce: string(rec.Nonce), Tier: rec.Tier, Cached: true})
			return
		}
	}

	prefix, err := util.HexToBytes(req.Prefix)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid prefix hex"})
		return
	}

	targetHex := req.Target
	if len(targetHex) > 16 {
		targetHex = targetHex[len(targetHex)-16:]
	}
	target, err := strconv.ParseUint(targetHex, 16, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid target hex"})
		return
	}

	start := time.Now()
	attempt, ok := miner.MineAttempt(prefix, target)
	elapsed := time.Since(start)

	if s.cache != nil {
		s.cache.IncrAttempt()
	}
	if s.telemetry != nil {
		s.telemetry.RecordAttempt(tierOrNone(attempt, ok), elapsed, ok)
	}

	if !ok {
		if s.limiter != nil {
			s.limiter.AddFailure(ip)
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no preimage found"})
		return
	}

	if s.cache != nil {
		s.cache.Store(cacheKey, &cache.SolveRecord{
			Nonce:    attempt.Nonce,
			SolvedAt: time.Now().Unix(),
			Tier:     attempt.Tier,
		}, s.cacheTTL)
	}

	s.feed.broadcast(attempt.Tier, string(attempt.Nonce))

	c.JSON(http.StatusOK, SolveResponse{Nonce: string(attempt.Nonce), Tier: attempt.Tier, Cached: false})
}

func tierOrNone(a miner.Attempt, ok bool) string {
	if !ok {
		return "none"
	}
	return a.Tier
}

// handleStats answers GET /stats from the result cache, refreshing its
// own short-lived cache on expiry.
func (s *Server) handleStats(c *gin.Context) {
	s.statsCacheMu.RLock()
	if s.statsCache != nil && time.Since(s.statsCacheTime) < s.cfg.StatsCache {
		cached := s.statsCache
		s.statsCacheMu.RUnlock()
		c.JSON(http.StatusOK, cached)
		return
	}
	s.statsCacheMu.RUnlock()

	if s.cache == nil {
		c.JSON(http.StatusOK, &StatsResponse{ByTier: map[string]uint64{}, Now: time.Now().Unix()})
		return
	}

	snap, err := s.cache.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get stats"})
		return
	}

	response := &StatsResponse{
		TotalSolved:   snap.TotalSolved,
		TotalAttempts: snap.TotalAttempts,
		ByTier:        snap.ByTier,
		Now:           time.Now().Unix(),
	}

	s.statsCacheMu.Lock()
	s.statsCache = response
	s.statsCacheTime = time.Now()
	s.statsCacheMu.Unlock()

	c.JSON(http.StatusOK, response)
}

// FeedMessage is broadcast to every /ws/feed subscriber each time this
// instance solves a challenge.
type FeedMessage struct {
	Tier      string `json:"tier"`
	Nonce     string `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
}

// handleFeed upgrades to WebSocket and registers the connection on the
// feed hub, the inverse of the pool's WebSocketServer broadcasting
// jobs: here the server broadcasts solved nonces to subscribers.
func (s *Server) handleFeed(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		util.Warnf("feed: websocket upgrade error: %v", err)
		return
	}

	s.feed.register(conn)
}

// feedHub fans out solved-nonce broadcasts to every subscribed
// WebSocket client, mirroring the pool's clients sync.Map pattern.
type feedHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newFeedHub() *feedHub {
	return &feedHub{clients: make(map[*websocket.Conn]struct{})}
}

func (h *feedHub) register(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *feedHub) broadcast(tier, nonce string) {
	msg := FeedMessage{Tier: tier, Nonce: nonce, Timestamp: time.Now().Unix()}

	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			util.Debugf("feed: write error, dropping subscriber: %v", err)
			go conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *feedHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}
