package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/logitest/attempt-service/internal/config"
	"github.com/logitest/attempt-service/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CachedQuestionBank fronts a QuestionBank with Redis. Redis failures are
// logged and the source bank is used instead.
type CachedQuestionBank struct {
	source QuestionBank
	rdb    *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewCachedQuestionBank creates a new CachedQuestionBank.
func NewCachedQuestionBank(source QuestionBank, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *CachedQuestionBank {
	return &CachedQuestionBank{
		source: source,
		rdb:    rdb,
		ttl:    ttl,
		log:    log.With().Str("component", "question_cache").Logger(),
	}
}

func (b *CachedQuestionBank) GetTest(ctx context.Context, id uuid.UUID) (*model.Test, error) {
	var t model.Test
	key := config.CacheKey.TestKey(id.String())
	if b.get(ctx, key, &t) {
		return &t, nil
	}
	loaded, err := b.source.GetTest(ctx, id)
	if err != nil {
		return nil, err
	}
	b.set(ctx, key, loaded)
	return loaded, nil
}

func (b *CachedQuestionBank) GetQuestion(ctx context.Context, id uuid.UUID) (*model.Question, error) {
	var q model.Question
	key := config.CacheKey.QuestionKey(id.String())
	if b.get(ctx, key, &q) {
		return &q, nil
	}
	loaded, err := b.source.GetQuestion(ctx, id)
	if err != nil {
		return nil, err
	}
	b.set(ctx, key, loaded)
	return loaded, nil
}

func (b *CachedQuestionBank) ListQuestions(ctx context.Context, testID uuid.UUID) ([]model.Question, error) {
	var qs []model.Question
	key := config.CacheKey.TestQuestionsKey(testID.String())
	if b.get(ctx, key, &qs) {
		return qs, nil
	}
	loaded, err := b.source.ListQuestions(ctx, testID)
	if err != nil {
		return nil, err
	}
	b.set(ctx, key, loaded)
	return loaded, nil
}

// PrewarmActiveTests loads every active test and its questions into Redis.
// It is a no-op when the source cannot enumerate tests.
func (b *CachedQuestionBank) PrewarmActiveTests(ctx context.Context) error {
	lister, ok := b.source.(ActiveTestLister)
	if !ok {
		return nil
	}
	tests, err := lister.ListActiveTests(ctx)
	if err != nil {
		return fmt.Errorf("list active tests: %w", err)
	}

	b.log.Info().Int("count", len(tests)).Msg("Prewarming active tests")

	warmed := 0
	for i := range tests {
		t := tests[i]
		qs, err := b.source.ListQuestions(ctx, t.ID)
		if err != nil {
			b.log.Warn().
				Err(err).
				Str("test_id", t.ID.String()).
				Msg("Failed to warm test, skipping")
			continue
		}

		pipe := b.rdb.Pipeline()
		b.pipeSet(ctx, pipe, config.CacheKey.TestKey(t.ID.String()), &t)
		b.pipeSet(ctx, pipe, config.CacheKey.TestQuestionsKey(t.ID.String()), qs)
		for j := range qs {
			b.pipeSet(ctx, pipe, config.CacheKey.QuestionKey(qs[j].ID.String()), &qs[j])
		}
		if _, err := pipe.Exec(ctx); err != nil {
			b.log.Warn().Err(err).Str("test_id", t.ID.String()).Msg("Failed to write warm cache")
			continue
		}
		warmed++
	}

	b.log.Info().
		Int("warmed", warmed).
		Int("total", len(tests)).
		Msg("Prewarming complete")
	return nil
}

func (b *CachedQuestionBank) get(ctx context.Context, key string, dst any) bool {
	data, err := b.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			b.log.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		b.log.Warn().Err(err).Str("key", key).Msg("Corrupt cache entry")
		return false
	}
	return true
}

func (b *CachedQuestionBank) set(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := b.rdb.Set(ctx, key, data, b.ttl).Err(); err != nil {
		b.log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

func (b *CachedQuestionBank) pipeSet(ctx context.Context, pipe redis.Pipeliner, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	pipe.Set(ctx, key, data, b.ttl)
}
