package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"polyquiz-service/internal/domain"
)

// Client talks to the external question-generation service. The service is a
// black box: topic/count/difficulty in, question array out. Failures map to
// domain.ErrQuizUnavailable so the host gets a retryable error; there is no
// internal retry.
type Client struct {
	url        string
	httpClient *http.Client
	fallback   FallbackSource
}

// FallbackSource is consulted when the generator is down or misbehaves.
type FallbackSource interface {
	Questions(ctx context.Context, topic string, count int, difficulty string) ([]domain.Question, error)
}

func NewClient(url string, timeout time.Duration, fallback FallbackSource) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		fallback:   fallback,
	}
}

type generateRequest struct {
	Topic      string `json:"topic"`
	Count      int    `json:"count"`
	Difficulty string `json:"difficulty"`
}

type generateResponse struct {
	Questions []domain.Question `json:"questions"`
}

func (c *Client) Questions(ctx context.Context, topic string, count int, difficulty string) ([]domain.Question, error) {
	questions, err := c.generate(ctx, topic, count, difficulty)
	if err == nil {
		return questions, nil
	}
	if c.fallback == nil {
		return nil, err
	}
	log.Printf("generator failed for topic %q, falling back: %v", topic, err)
	return c.fallback.Questions(ctx, topic, count, difficulty)
}

func (c *Client) generate(ctx context.Context, topic string, count int, difficulty string) ([]domain.Question, error) {
	body, err := json.Marshal(generateRequest{Topic: topic, Count: count, Difficulty: difficulty})
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrQuizUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: generator returned %s", domain.ErrQuizUnavailable, resp.Status)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrQuizUnavailable, err)
	}

	if err := Validate(out.Questions); err != nil {
		return nil, err
	}
	return out.Questions, nil
}

// Validate enforces the generator contract at this boundary so the game core
// never has to re-check it: four distinct options per question and the
// correct answer among them.
func Validate(questions []domain.Question) error {
	if len(questions) == 0 {
		return fmt.Errorf("%w: empty question set", domain.ErrBadQuestionSet)
	}
	for i, q := range questions {
		if len(q.Options) != 4 {
			return fmt.Errorf("%w: question %d has %d options", domain.ErrBadQuestionSet, i, len(q.Options))
		}
		seen := make(map[string]bool, len(q.Options))
		answerFound := false
		for _, opt := range q.Options {
			if seen[opt] {
				return fmt.Errorf("%w: question %d has duplicate option %q", domain.ErrBadQuestionSet, i, opt)
			}
			seen[opt] = true
			if opt == q.CorrectOption {
				answerFound = true
			}
		}
		if !answerFound {
			return fmt.Errorf("%w: question %d answer not among options", domain.ErrBadQuestionSet, i)
		}
	}
	return nil
}
