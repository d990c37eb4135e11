package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/murmurlabs/murmur-core/internal/bus"
	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/eventstore"
	"github.com/murmurlabs/murmur-core/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service exposes the generation worker over the bus.
type Service struct {
	cfg    config.GeneratorConfig
	bus    *bus.Client
	worker *Worker
	store  *eventstore.Store
	logger *slog.Logger
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	ready  bool
}

func NewService(parent context.Context, cfg config.GeneratorConfig, busClient *bus.Client, worker *Worker, store *eventstore.Store, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		worker: worker,
		store:  store,
		logger: logger.With(slog.String("component", "generator-service")),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().QueueSubscribe(protocol.SubjectGenerate, protocol.QueueGenerators, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe generation requests: %w", err)
	}
	s.sub = sub
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
	s.worker.Close()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.GenerateRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode generation request", slog.String("error", err.Error()))
		// Reply immediately so the requester does not sit on its timeout.
		s.respond(msg, protocol.GenerateReply{
			Error:     "malformed generation request payload",
			ErrorKind: protocol.ErrKindBadRequest,
			Timestamp: time.Now().UTC(),
		})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timeout := time.Duration(s.cfg.TimeoutMS) * time.Millisecond
		ctx, cancel := context.WithTimeout(s.ctx, timeout)
		defer cancel()

		sampling := ResolveSampling(s.cfg.Sampling, req)
		start := time.Now()
		text, err := s.worker.Generate(ctx, req.Instruction, req.Input, sampling)
		reply := protocol.GenerateReply{
			RequestID: req.RequestID,
			Model:     s.worker.Model(),
			LatencyMS: time.Since(start).Milliseconds(),
			Timestamp: time.Now().UTC(),
		}
		if err != nil {
			reply.Error = err.Error()
			reply.ErrorKind = classifyError(err)
			s.logger.Warn("generation failed",
				slog.String("request_id", req.RequestID),
				slog.String("kind", reply.ErrorKind),
				slog.String("error", err.Error()))
		} else {
			reply.Text = text
			s.record(ctx, reply)
		}
		s.respond(msg, reply)
	}()
}

func (s *Service) record(ctx context.Context, reply protocol.GenerateReply) {
	err := s.store.Append(ctx, eventstore.Utterance{
		RequestID: reply.RequestID,
		Kind:      eventstore.KindGeneration,
		Text:      reply.Text,
		Model:     reply.Model,
		LatencyMS: reply.LatencyMS,
	})
	if err != nil {
		s.logger.Warn("failed to record utterance", slog.String("error", err.Error()))
	}
}

func (s *Service) respond(msg *nats.Msg, reply protocol.GenerateReply) {
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Warn("failed to marshal reply", slog.String("error", err.Error()))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to respond", slog.String("error", err.Error()))
	}
}

func classifyError(err error) string {
	var acqErr *AcquisitionError
	if errors.As(err, &acqErr) {
		return protocol.ErrKindAcquisition
	}
	var malformed *MalformedOutputError
	if errors.As(err, &malformed) {
		return protocol.ErrKindMalformed
	}
	var infErr *InferenceError
	if errors.As(err, &infErr) {
		return protocol.ErrKindInference
	}
	return protocol.ErrKindInternal
}
