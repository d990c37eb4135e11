package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/murmurlabs/murmur-core/internal/audio"
	"github.com/murmurlabs/murmur-core/internal/bus"
	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/eventstore"
	"github.com/murmurlabs/murmur-core/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service exposes the worker over the bus. Requests carry the raw audio blob
// as payload; replies are JSON.
type Service struct {
	cfg    config.TranscriberConfig
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

func NewService(parent context.Context, cfg config.TranscriberConfig, busClient *bus.Client, worker *Worker, store *eventstore.Store, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		worker: worker,
		store:  store,
		logger: logger.With(slog.String("component", "transcriber-service")),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().QueueSubscribe(protocol.SubjectTranscribe, protocol.QueueTranscribers, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe transcription requests: %w", err)
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
	requestID := msg.Header.Get(protocol.HeaderRequestID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timeout := time.Duration(s.cfg.TimeoutMS) * time.Millisecond
		ctx, cancel := context.WithTimeout(s.ctx, timeout)
		defer cancel()

		start := time.Now()
		result, err := s.worker.TranscribeSegment(ctx, msg.Data)
		reply := protocol.TranscribeReply{
			RequestID: requestID,
			Model:     s.worker.Model(),
			Device:    s.worker.Device(),
			LatencyMS: time.Since(start).Milliseconds(),
			Timestamp: time.Now().UTC(),
		}
		if err != nil {
			reply.Error = err.Error()
			reply.ErrorKind = classifyError(err)
			s.logger.Warn("transcription failed",
				slog.String("request_id", requestID),
				slog.String("kind", reply.ErrorKind),
				slog.String("error", err.Error()))
		} else {
			reply.Text = result.Text
			for _, seg := range result.Segments {
				reply.Segments = append(reply.Segments, protocol.Segment(seg))
			}
			s.record(ctx, reply)
		}
		s.respond(msg, reply)
	}()
}

func (s *Service) record(ctx context.Context, reply protocol.TranscribeReply) {
	err := s.store.Append(ctx, eventstore.Utterance{
		RequestID: reply.RequestID,
		Kind:      eventstore.KindTranscription,
		Text:      reply.Text,
		Model:     reply.Model,
		Device:    reply.Device,
		LatencyMS: reply.LatencyMS,
	})
	if err != nil {
		s.logger.Warn("failed to record utterance", slog.String("error", err.Error()))
	}
}

func (s *Service) respond(msg *nats.Msg, reply protocol.TranscribeReply) {
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
	var decodeErr *audio.DecodeError
	if errors.As(err, &decodeErr) {
		return protocol.ErrKindDecode
	}
	var acqErr *AcquisitionError
	if errors.As(err, &acqErr) {
		return protocol.ErrKindAcquisition
	}
	var infErr *InferenceError
	if errors.As(err, &infErr) {
		return protocol.ErrKindInference
	}
	return protocol.ErrKindInternal
}
