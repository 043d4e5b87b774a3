package memory

import (
	"context"
	"strings"

	"polyquiz-service/internal/domain"
)

// StaticQuestionSource serves question sets from an in-memory map keyed by
// topic (useful for tests/demos and as the last-resort fallback when neither
// the generator nor the question bank is configured).
type StaticQuestionSource struct {
	sets map[string][]domain.Question
}

func NewStaticQuestionSource(sets map[string][]domain.Question) *StaticQuestionSource {
	return &StaticQuestionSource{sets: sets}
}

func (s *StaticQuestionSource) Questions(_ context.Context, topic string, count int, _ string) ([]domain.Question, error) {
	set, ok := s.sets[strings.ToLower(topic)]
	if !ok || len(set) == 0 {
		return nil, domain.ErrQuizUnavailable
	}
	if count <= 0 || count > len(set) {
		count = len(set)
	}
	questions := make([]domain.Question, count)
	copy(questions, set[:count])
	return questions, nil
}
