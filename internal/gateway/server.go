// Package gateway is the stateless HTTP front of the pipeline. It forwards
// uploads to the workers over the bus and serves the static frontend bundle.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Requester is the bus round trip the gateway depends on; satisfied by
// *bus.Client.
type Requester interface {
	Request(ctx context.Context, subject string, header nats.Header, data []byte) ([]byte, error)
}

// Server routes HTTP traffic to the workers.
type Server struct {
	cfg        config.GatewayConfig
	requester  Requester
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server
	readyCheck func() bool
}

// New builds the gateway. metricsHandler (may be nil) is mounted on /metrics;
// readyCheck gates /readyz.
func New(cfg config.GatewayConfig, httpCfg config.HTTPConfig, requester Requester, metricsHandler http.Handler, readyCheck func() bool, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	s := &Server{
		cfg:        cfg,
		requester:  requester,
		logger:     logger.With(slog.String("component", "gateway")),
		engine:     engine,
		readyCheck: readyCheck,
	}

	engine.Use(requestIDMiddleware(), s.loggingMiddleware(), gin.Recovery())

	engine.POST("/transcribe", s.handleTranscribe)
	engine.POST("/generate", s.handleGenerate)
	engine.GET("/healthz", s.handleHealth)
	engine.GET("/readyz", s.handleReady)
	if metricsHandler != nil {
		engine.GET("/metrics", gin.WrapH(metricsHandler))
	}

	// Everything else is the frontend bundle.
	static := http.FileServer(http.Dir(cfg.StaticDir))
	engine.NoRoute(func(c *gin.Context) {
		static.ServeHTTP(c.Writer, c.Request)
	})

	addr := fmt.Sprintf("%s:%d", httpCfg.Bind, httpCfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("gateway listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleTranscribe(c *gin.Context) {
	requestID := c.GetString(ctxRequestID)

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.String(http.StatusRequestEntityTooLarge, "request body exceeds %d bytes", maxErr.Limit)
			return
		}
		c.String(http.StatusBadRequest, "failed to read request body")
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	header := nats.Header{}
	header.Set(protocol.HeaderRequestID, requestID)
	data, err := s.requester.Request(ctx, protocol.SubjectTranscribe, header, body)
	if err != nil {
		s.busFailure(c, requestID, err)
		return
	}

	var reply protocol.TranscribeReply
	if err := json.Unmarshal(data, &reply); err != nil {
		s.logger.Error("malformed worker reply", slog.String("request_id", requestID), slog.String("error", err.Error()))
		c.String(http.StatusInternalServerError, "transcription failed")
		return
	}
	if reply.Error != "" {
		s.logger.Warn("transcription request failed",
			slog.String("request_id", requestID),
			slog.String("kind", reply.ErrorKind),
			slog.String("error", reply.Error))
		c.String(http.StatusInternalServerError, "transcription failed: %s", reply.ErrorKind)
		return
	}
	c.String(http.StatusOK, reply.Text)
}

type generateBody struct {
	Instruction string   `json:"instruction" binding:"required"`
	Input       string   `json:"input"`
	Temperature *float64 `json:"temperature"`
	TopP        *float64 `json:"top_p"`
	TopK        *int     `json:"top_k"`
	NumBeams    *int     `json:"num_beams"`
	MaxTokens   *int     `json:"max_new_tokens"`
}

func (s *Server) handleGenerate(c *gin.Context) {
	requestID := c.GetString(ctxRequestID)

	var body generateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.String(http.StatusBadRequest, "invalid generation request")
		return
	}

	req := protocol.GenerateRequest{
		RequestID:   requestID,
		Instruction: body.Instruction,
		Input:       body.Input,
		Temperature: body.Temperature,
		TopP:        body.TopP,
		TopK:        body.TopK,
		NumBeams:    body.NumBeams,
		MaxTokens:   body.MaxTokens,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		c.String(http.StatusInternalServerError, "generation failed")
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	data, err := s.requester.Request(ctx, protocol.SubjectGenerate, nil, payload)
	if err != nil {
		s.busFailure(c, requestID, err)
		return
	}

	var reply protocol.GenerateReply
	if err := json.Unmarshal(data, &reply); err != nil {
		s.logger.Error("malformed worker reply", slog.String("request_id", requestID), slog.String("error", err.Error()))
		c.String(http.StatusInternalServerError, "generation failed")
		return
	}
	if reply.Error != "" {
		s.logger.Warn("generation request failed",
			slog.String("request_id", requestID),
			slog.String("kind", reply.ErrorKind),
			slog.String("error", reply.Error))
		c.String(http.StatusInternalServerError, "generation failed: %s", reply.ErrorKind)
		return
	}
	c.String(http.StatusOK, reply.Text)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) handleReady(c *gin.Context) {
	if s.readyCheck == nil || s.readyCheck() {
		c.String(http.StatusOK, "ready")
		return
	}
	c.String(http.StatusServiceUnavailable, "not ready")
}

func (s *Server) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	timeout := time.Duration(s.cfg.RequestTimeoutMS) * time.Millisecond
	return context.WithTimeout(c.Request.Context(), timeout)
}

// busFailure maps transport-level failures: a deadline means the worker never
// answered in time (504), anything else means the bus path is broken (502).
func (s *Server) busFailure(c *gin.Context, requestID string, err error) {
	s.logger.Warn("bus request failed", slog.String("request_id", requestID), slog.String("error", err.Error()))
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
		c.String(http.StatusGatewayTimeout, "worker timed out")
		return
	}
	c.String(http.StatusBadGateway, "worker unavailable")
}

const ctxRequestID = "request_id"

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(ctxRequestID, id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.String("request_id", c.GetString(ctxRequestID)),
			slog.Duration("latency", time.Since(start)))
	}
}
