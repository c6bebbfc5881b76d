// Package api: admin HTTP API сервера репликации: состояние мира, соединения, метрики.
// Данные берутся только из опубликованного тиком снимка, живые структуры тика не читаются.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/netsync/internal/auth"
	"github.com/annel0/netsync/internal/logging"
	"github.com/annel0/netsync/internal/middleware"
	"github.com/annel0/netsync/internal/replication"
)

// SnapshotSource источник снимков состояния; безопасен для вызова из любой горутины
type SnapshotSource interface {
	Snapshot() *replication.Snapshot
}

// Config зависимости admin API
type Config struct {
	Addr      string
	Snapshots SnapshotSource
	// Registry регистр метрик сервера; HTTP-метрики регистрируются туда же
	Registry *prometheus.Registry
	// Users и Tokens включают /api/auth/login и проверку Bearer-токенов.
	// Без Tokens все маршруты открыты.
	Users  auth.UserRepository
	Tokens *auth.JWTAuthenticator
}

// Server admin API
type Server struct {
	router    *gin.Engine
	http      *http.Server
	snapshots SnapshotSource
	users     auth.UserRepository
	tokens    *auth.JWTAuthenticator
	process   *processMetrics
	logger    *logging.Logger
}

// Response общий конверт ответа
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// LoginRequest запрос на вход
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse ответ на вход
type LoginResponse struct {
	Token   string `json:"token"`
	UserID  uint64 `json:"user_id"`
	IsAdmin bool   `json:"is_admin"`
}

// RegisterRequest создание учётной записи администратором
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	IsAdmin  bool   `json:"is_admin"`
}

// StatsResponse данные /api/stats
type StatsResponse struct {
	Time        time.Time               `json:"time"`
	Strategy    string                  `json:"strategy"`
	Cells       int                     `json:"interest_cells,omitempty"`
	Entities    int                     `json:"entities"`
	Connections int                     `json:"connections"`
	Ready       int                     `json:"ready"`
	Server      replication.ServerStats `json:"server"`
	Process     ProcessStats            `json:"process"`
}

// NewServer собирает роутер. Слушать начинает Start.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Snapshots == nil {
		return nil, errors.New("api: snapshot source is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8088"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:    router,
		snapshots: cfg.Snapshots,
		users:     cfg.Users,
		tokens:    cfg.Tokens,
		process:   newProcessMetrics(),
		logger:    logging.GetAPILogger(),
	}

	router.Use(otelgin.Middleware("netsync-admin"))
	router.Use(middleware.NewRequestLogger(s.logger).Handler())
	router.Use(middleware.NewPrometheusMiddleware("netsync_admin", cfg.Registry, "/metrics").Handler())

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	if s.tokens != nil && s.users != nil {
		api.POST("/auth/login", s.handleLogin)
	}

	protected := api.Group("/")
	protected.Use(s.jwtMiddleware())
	{
		protected.GET("/stats", s.handleStats)
		protected.GET("/entities", s.handleEntities)
		protected.GET("/connections", s.handleConnections)

		admin := protected.Group("/admin")
		admin.Use(s.adminMiddleware())
		if s.users != nil {
			admin.POST("/users", s.handleRegister)
		}
	}

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Handler http.Handler роутера
func (s *Server) Handler() http.Handler { return s.router }

// Start слушает в отдельной горутине. Ошибка старта приходит в errc.
func (s *Server) Start() <-chan error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("admin API listening on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	return errc
}

// Shutdown мягкая остановка
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	snap := s.snapshots.Snapshot()
	status := "ok"
	// снимок не публикуется: тик не идёт
	if !snap.Time.IsZero() && time.Since(snap.Time) > 10*time.Second {
		status = "stalled"
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "ticks": snap.Stats.Ticks, "time": time.Now().Unix()})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Message: "Неверный формат запроса"})
		return
	}
	user, err := s.users.ValidateCredentials(req.Username, req.Password)
	if err != nil {
		s.logger.Info("login failed for %q", req.Username)
		c.JSON(http.StatusUnauthorized, Response{Message: "Неверное имя пользователя или пароль"})
		return
	}
	token, err := s.tokens.IssueForUser(user)
	if err != nil {
		s.logger.Error("issue token for %s: %v", user.Username, err)
		c.JSON(http.StatusInternalServerError, Response{Message: "Ошибка генерации токена"})
		return
	}
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    LoginResponse{Token: token, UserID: user.ID, IsAdmin: user.IsAdmin},
	})
}

func (s *Server) handleRegister(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Message: "Неверный формат запроса"})
		return
	}
	if len(req.Username) < 3 || len(req.Username) > 30 {
		c.JSON(http.StatusBadRequest, Response{Message: "Имя пользователя должно быть от 3 до 30 символов"})
		return
	}
	if len(req.Password) < 6 {
		c.JSON(http.StatusBadRequest, Response{Message: "Пароль должен быть минимум 6 символов"})
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Message: "Ошибка обработки пароля"})
		return
	}
	user, err := s.users.CreateUser(req.Username, hash, req.IsAdmin)
	if errors.Is(err, auth.ErrUserExists) {
		c.JSON(http.StatusConflict, Response{Message: "Пользователь уже существует"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Message: "Ошибка создания пользователя"})
		return
	}
	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    gin.H{"user_id": user.ID, "username": user.Username, "is_admin": user.IsAdmin},
	})
}

func (s *Server) handleStats(c *gin.Context) {
	snap := s.snapshots.Snapshot()
	ready := 0
	for _, conn := range snap.Connections {
		if conn.Ready {
			ready++
		}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: StatsResponse{
		Time:        snap.Time,
		Strategy:    snap.Strategy,
		Cells:       snap.InterestCells,
		Entities:    len(snap.Entities),
		Connections: len(snap.Connections),
		Ready:       ready,
		Server:      snap.Stats,
		Process:     s.process.collect(),
	}})
}

// handleEntities сущности снимка. ?owner=<conn> оставляет сущности соединения, ?limit=N обрезает список.
func (s *Server) handleEntities(c *gin.Context) {
	entities := s.snapshots.Snapshot().Entities
	if v := c.Query("owner"); v != "" {
		owner, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, Response{Message: "owner должен быть числом"})
			return
		}
		filtered := make([]replication.EntityInfo, 0)
		for _, e := range entities {
			if e.HasOwner && e.Owner == uint32(owner) {
				filtered = append(filtered, e)
			}
		}
		entities = filtered
	}
	total := len(entities)
	if v := c.Query("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit >= 0 && limit < len(entities) {
			entities = entities[:limit]
		}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"total": total, "entities": entities}})
}

func (s *Server) handleConnections(c *gin.Context) {
	conns := s.snapshots.Snapshot().Connections
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"total": len(conns), "connections": conns}})
}
