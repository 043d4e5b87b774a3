package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"polyquiz-service/internal/domain"
)

// QuestionBank serves curated question sets from Postgres, used as the
// fallback when the generator is unavailable. Sets are stored as JSONB per
// (topic, difficulty).
type QuestionBank struct {
	pool *pgxpool.Pool
}

func NewQuestionBank(pool *pgxpool.Pool) *QuestionBank {
	return &QuestionBank{pool: pool}
}

func (b *QuestionBank) Questions(ctx context.Context, topic string, count int, difficulty string) ([]domain.Question, error) {
	if difficulty == "" {
		difficulty = "medium"
	}
	var raw []byte
	err := b.pool.QueryRow(ctx,
		`SELECT questions FROM question_banks WHERE lower(topic)=lower($1) AND difficulty=$2`,
		topic, difficulty,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrQuizUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("load question bank: %w", err)
	}

	var questions []domain.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		return nil, fmt.Errorf("unmarshal question bank: %w", err)
	}
	if len(questions) == 0 {
		return nil, domain.ErrQuizUnavailable
	}
	if count > 0 && count < len(questions) {
		questions = questions[:count]
	}
	return questions, nil
}
