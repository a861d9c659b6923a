package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/logitest/attempt-service/internal/config"
	"github.com/logitest/attempt-service/internal/model"
	"github.com/redis/go-redis/v9"
)

// FinalizedEvent is published once per attempt when it leaves in-progress.
type FinalizedEvent struct {
	AttemptID       uuid.UUID           `json:"attempt_id"`
	TestID          uuid.UUID           `json:"test_id"`
	CandidateID     string              `json:"candidate_id"`
	Status          model.AttemptStatus `json:"status"`
	Score           float64             `json:"score"`
	PercentageScore float64             `json:"percentage_score"`
	EndTime         time.Time           `json:"end_time"`
}

// FinalizationPublisher notifies downstream consumers of finalized attempts.
type FinalizationPublisher interface {
	PublishFinalized(ctx context.Context, ev FinalizedEvent) error
}

// RedisFinalizationPublisher pushes events onto the attempt_finalized_queue list.
type RedisFinalizationPublisher struct {
	rdb *redis.Client
}

// NewRedisFinalizationPublisher creates a new RedisFinalizationPublisher.
func NewRedisFinalizationPublisher(rdb *redis.Client) *RedisFinalizationPublisher {
	return &RedisFinalizationPublisher{rdb: rdb}
}

func (p *RedisFinalizationPublisher) PublishFinalized(ctx context.Context, ev FinalizedEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := p.rdb.RPush(ctx, config.WorkerKey.AttemptFinalizedQueue, raw).Err(); err != nil {
		return fmt.Errorf("push finalized event: %w", err)
	}
	return nil
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) PublishFinalized(context.Context, FinalizedEvent) error { return nil }

func finalizedEvent(a *model.TestAttempt) FinalizedEvent {
	ev := FinalizedEvent{
		AttemptID:       a.ID,
		TestID:          a.TestID,
		CandidateID:     a.CandidateID,
		Status:          a.Status,
		Score:           a.Score,
		PercentageScore: a.PercentageScore,
	}
	if a.EndTime != nil {
		ev.EndTime = *a.EndTime
	}
	return ev
}
