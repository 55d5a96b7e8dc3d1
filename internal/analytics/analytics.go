package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/solventry/paysdk/internal/configuration"
)

// Poster posts against an absolute URL; the analytics endpoint lives outside
// the client API base.
type Poster interface {
	PostURL(ctx context.Context, url string, body []byte) ([]byte, error)
}

// Sender emits fire-and-forget analytics events. Events wait for the
// configuration to arrive, are dropped when analytics is disabled, and send
// failures never affect the flow that produced them.
type Sender struct {
	gate        *configuration.Gate
	poster      Poster
	integration string
	sessionID   string
	logger      *slog.Logger
}

func NewSender(gate *configuration.Gate, poster Poster, integration string, logger *slog.Logger) *Sender {
	return &Sender{
		gate:        gate,
		poster:      poster,
		integration: integration,
		sessionID:   uuid.New().String(),
		logger:      logger,
	}
}

type eventPayload struct {
	Analytics []eventEntry `json:"analytics"`
	Meta      eventMeta    `json:"_meta"`
}

type eventEntry struct {
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp"`
}

type eventMeta struct {
	Platform        string `json:"platform"`
	SessionID       string `json:"sessionId"`
	IntegrationType string `json:"integration"`
}

// Send emits one event named <integration>.go.<event>. Events fired before
// the configuration arrives wait on the gate and go out once it does; events
// for a session whose fetch fails, or whose analytics is disabled, are
// dropped. Non-blocking: the post runs on its own goroutine and any failure
// is swallowed with a debug log.
func (s *Sender) Send(event string) {
	timestamp := time.Now().Unix()
	s.gate.Ensure(context.Background(), func(cfg *configuration.Configuration, err error) {
		if err != nil || !cfg.IsAnalyticsEnabled() {
			return
		}
		s.post(cfg, event, timestamp)
	})
}

func (s *Sender) post(cfg *configuration.Configuration, event string, timestamp int64) {
	payload := eventPayload{
		Analytics: []eventEntry{{
			Kind:      s.integration + ".go." + event,
			Timestamp: timestamp,
		}},
		Meta: eventMeta{
			Platform:        "go",
			SessionID:       s.sessionID,
			IntegrationType: s.integration,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Debug("analytics payload marshal failed", "error", err)
		return
	}

	url := cfg.Analytics.URL
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := s.poster.PostURL(ctx, url, body); err != nil {
			s.logger.Debug("analytics send failed", "event", event, "error", err)
		}
	}()
}
