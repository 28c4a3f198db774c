// SPDX-License-Identifier: Apache-2.0

package matcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/adiadia/keyrouter/internal/metrics"
	"github.com/sony/gobreaker/v2"
)

const (
	embeddingCallTimeout = 2 * time.Second
	breakerName          = "embedding-scorer"
)

// EmbeddingScorer scores intents by cosine similarity between the intent
// embedding and the centroid of the scope-tag embeddings, fetched from a
// remote embeddings endpoint. Every call is bounded by a timeout, retried
// with backoff, and guarded by a circuit breaker; on any failure the scorer
// degrades to "no match" rather than blocking the Selector.
type EmbeddingScorer struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[][]float64]
	logger  *slog.Logger
}

func NewEmbeddingScorer(url string, logger *slog.Logger) *EmbeddingScorer {
	if logger == nil {
		logger = slog.Default()
	}

	settings := gobreaker.Settings{
		Name:    breakerName,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			metrics.SetBreakerState(name, int(to))
		},
	}

	return &EmbeddingScorer{
		url:     url,
		client:  &http.Client{Timeout: embeddingCallTimeout},
		breaker: gobreaker.NewCircuitBreaker[[][]float64](settings),
		logger:  logger,
	}
}

type embeddingRequest struct {
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

func (s *EmbeddingScorer) Score(ctx context.Context, text string, tags []string) (int, error) {
	terms := Tokenize(text)
	if len(terms) == 0 {
		return SparseIntentConfidence, nil
	}
	if len(tags) == 0 {
		return 0, nil
	}

	input := append([]string{strings.Join(terms, " ")}, tags...)

	vectors, err := s.breaker.Execute(func() ([][]float64, error) {
		return s.embed(ctx, input)
	})
	if err != nil {
		// Degrade to no match; the decision still goes through.
		s.logger.Warn("embedding scorer unavailable", "error", err)
		return 0, nil
	}
	if len(vectors) != len(input) {
		s.logger.Warn("embedding scorer returned wrong vector count",
			"want", len(input),
			"got", len(vectors),
		)
		return 0, nil
	}

	similarity := cosine(vectors[0], centroid(vectors[1:]))
	return clampConfidence(similarity * 100), nil
}

func (s *EmbeddingScorer) embed(ctx context.Context, input []string) ([][]float64, error) {
	body, err := json.Marshal(embeddingRequest{Input: input})
	if err != nil {
		return nil, err
	}

	var out embeddingResponse
	err = withRetry(ctx, defaultRetryConfig, func() error {
		callCtx, cancel := context.WithTimeout(ctx, embeddingCallTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("embedding endpoint returned status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	})
	if err != nil {
		return nil, err
	}
	if len(out.Embeddings) == 0 {
		return nil, errors.New("embedding endpoint returned no vectors")
	}
	return out.Embeddings, nil
}

func centroid(vectors [][]float64) []float64 {
	if len(vectors) == 0 {
		return nil
	}
	out := make([]float64, len(vectors[0]))
	for _, v := range vectors {
		for i := 0; i < len(out) && i < len(v); i++ {
			out[i] += v[i]
		}
	}
	for i := range out {
		out[i] /= float64(len(vectors))
	}
	return out
}

func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return math.Max(0, sim)
}
