package embed

import (
	"context"
	"errors"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
)

// mockEmbedder implements ai.Embedder for testing.
type mockEmbedder struct {
	embeddings  []float32
	err         error
	failFirst   bool // fail the first call only, succeed after
	returnEmpty bool
	callCount   int
}

func (m *mockEmbedder) Name() string { return "mock-embedder" }

func (m *mockEmbedder) Register(r api.Registry) {}

func (m *mockEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	m.callCount++
	if m.err != nil {
		if !m.failFirst || m.callCount == 1 {
			return nil, m.err
		}
	}
	if m.returnEmpty {
		return &ai.EmbedResponse{Embeddings: nil}, nil
	}
	embeddings := m.embeddings
	if embeddings == nil {
		embeddings = []float32{0.1, 0.2, 0.3}
	}
	return &ai.EmbedResponse{
		Embeddings: []*ai.Embedding{{Embedding: embeddings}},
	}, nil
}

func TestEmbedSuccess(t *testing.T) {
	mock := &mockEmbedder{embeddings: []float32{1, 2, 3}}
	client := New(mock, 3, nil)

	vec, err := client.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("len(vec) = %d, want 3", len(vec))
	}
	if mock.callCount != 1 {
		t.Errorf("callCount = %d, want 1", mock.callCount)
	}
}

func TestEmbedDimensionMismatch(t *testing.T) {
	mock := &mockEmbedder{embeddings: []float32{1, 2, 3}}
	client := New(mock, 768, nil)

	_, err := client.Embed(context.Background(), "hello")
	if !errors.Is(err, ErrService) {
		t.Errorf("Embed() error = %v, want ErrService", err)
	}
}

func TestEmbedEmptyResponse(t *testing.T) {
	mock := &mockEmbedder{returnEmpty: true}
	client := New(mock, 3, nil)

	_, err := client.Embed(context.Background(), "hello")
	if !errors.Is(err, ErrService) {
		t.Errorf("Embed() error = %v, want ErrService", err)
	}
	if mock.callCount != 1 {
		t.Errorf("callCount = %d, want 1 (empty response is not transient)", mock.callCount)
	}
}

func TestEmbedNonRetryableError(t *testing.T) {
	mock := &mockEmbedder{err: errors.New("invalid api key")}
	client := New(mock, 3, nil)

	_, err := client.Embed(context.Background(), "hello")
	if !errors.Is(err, ErrService) {
		t.Errorf("Embed() error = %v, want ErrService", err)
	}
	if mock.callCount != 1 {
		t.Errorf("callCount = %d, want 1 (no retry for permanent errors)", mock.callCount)
	}
}

func TestEmbedRetriesTransientOnce(t *testing.T) {
	mock := &mockEmbedder{
		embeddings: []float32{1, 2, 3},
		err:        errors.New("429 rate limit exceeded"),
		failFirst:  true,
	}
	client := New(mock, 3, nil)

	vec, err := client.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed() error = %v, want recovery on retry", err)
	}
	if len(vec) != 3 {
		t.Errorf("len(vec) = %d, want 3", len(vec))
	}
	if mock.callCount != 2 {
		t.Errorf("callCount = %d, want 2", mock.callCount)
	}
}

func TestEmbedRetryExhausted(t *testing.T) {
	mock := &mockEmbedder{err: errors.New("connection reset by peer")}
	client := New(mock, 3, nil)

	_, err := client.Embed(context.Background(), "hello")
	if !errors.Is(err, ErrService) {
		t.Errorf("Embed() error = %v, want ErrService", err)
	}
	if mock.callCount != 2 {
		t.Errorf("callCount = %d, want 2 (exactly one re-attempt)", mock.callCount)
	}
}

func TestEmbedContextCancelledDuringBackoff(t *testing.T) {
	mock := &mockEmbedder{err: errors.New("503 service unavailable")}
	client := New(mock, 3, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Embed(ctx, "hello")
	if !errors.Is(err, ErrService) {
		t.Errorf("Embed() error = %v, want ErrService", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Embed() error = %v, want wrapped context.Canceled", err)
	}
	if mock.callCount != 1 {
		t.Errorf("callCount = %d, want 1 (backoff aborted)", mock.callCount)
	}
}

func TestRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", errors.New("Rate Limit exceeded"), true},
		{"http 429", errors.New("unexpected status 429"), true},
		{"http 503", errors.New("503 Service Unavailable"), true},
		{"timeout", errors.New("i/o timeout"), true},
		{"connection reset", errors.New("read: connection reset"), true},
		{"auth failure", errors.New("401 unauthorized"), false},
		{"bad request", errors.New("invalid input"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryableError(tt.err); got != tt.want {
				t.Errorf("retryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
