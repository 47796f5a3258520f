package runtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	configpkg "github.com/drblury/larkflow/internal/runtime/config"
	"github.com/drblury/larkflow/internal/runtime/envelope"
	loggingpkg "github.com/drblury/larkflow/internal/runtime/logging"
)

type publishedMessage struct {
	topic string
	msg   *message.Message
}

type testPublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	err       error
	closed    bool
}

func (p *testPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	for _, msg := range messages {
		p.published = append(p.published, publishedMessage{topic: topic, msg: msg})
	}
	return nil
}

func (p *testPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *testPublisher) Messages() []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	clone := make([]publishedMessage, len(p.published))
	copy(clone, p.published)
	return clone
}

func (p *testPublisher) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *testPublisher) waitForMessages(t *testing.T, want int) []publishedMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := p.Messages(); len(msgs) >= want {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d published messages, got %d", want, len(p.Messages()))
	return nil
}

type testStore struct {
	mu    sync.Mutex
	marks map[string]int
	err   error
}

func newTestStore() *testStore {
	return &testStore{marks: map[string]int{}}
}

func (s *testStore) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	s.marks[key]++
	return s.marks[key] == 1, nil
}

func (s *testStore) Seen(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	return s.marks[key] > 0, nil
}

func (s *testStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.marks, key)
	return nil
}

func (s *testStore) markCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marks[key]
}

func newTestSlogLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(newTestSlogLogger())
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	s := &Service{
		Conf:            &configpkg.Config{},
		Logger:          newTestLogger(),
		registry:        NewRegistry(),
		status:          newStatusTracker(),
		resourceTracker: newResourceTracker(),
	}
	s.errorClassifier = defaultErrorClassifier
	s.dispatchMu.Lock()
	s.rebuildDispatchLocked()
	s.dispatchMu.Unlock()
	return s
}

func p2Payload(eventType, eventID string) map[string]any {
	return map[string]any{
		"schema": "2.0",
		"header": map[string]any{
			"event_type":  eventType,
			"event_id":    eventID,
			"token":       "verification-token",
			"tenant_key":  "tenant-1",
			"app_id":      "cli_test",
			"create_time": "1693565712000",
		},
		"event": map[string]any{
			"message_id": "om_1",
		},
	}
}

func newTestEvent(eventType, eventID string) *envelope.Context {
	return envelope.NewContext(p2Payload(eventType, eventID))
}
