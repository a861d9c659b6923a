package repository

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/logitest/attempt-service/internal/model"
)

type activeKey struct {
	candidateID string
	testID      uuid.UUID
}

type memAttempt struct {
	// lock serializes guarded units on this attempt.
	lock      sync.Mutex
	attempt   *model.TestAttempt
	responses map[uuid.UUID]*model.QuestionResponse
	events    []model.ResponseEvent
}

// MemoryAttemptStore keeps attempts in process memory. Each attempt is
// mutated by one unit at a time; readers see only committed state.
type MemoryAttemptStore struct {
	mu       sync.RWMutex
	attempts map[uuid.UUID]*memAttempt
	active   map[activeKey]uuid.UUID
	seq      atomic.Int64
}

// NewMemoryAttemptStore creates an empty MemoryAttemptStore.
func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{
		attempts: make(map[uuid.UUID]*memAttempt),
		active:   make(map[activeKey]uuid.UUID),
	}
}

func (s *MemoryAttemptStore) CreateAttempt(_ context.Context, a *model.TestAttempt) (*model.TestAttempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := activeKey{candidateID: a.CandidateID, testID: a.TestID}
	if id, ok := s.active[key]; ok {
		return s.attempts[id].attempt.Clone(), false, nil
	}

	stored := a.Clone()
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	now := time.Now()
	stored.CreatedAt, stored.UpdatedAt = now, now
	s.attempts[stored.ID] = &memAttempt{
		attempt:   stored,
		responses: make(map[uuid.UUID]*model.QuestionResponse),
	}
	s.active[key] = stored.ID
	return stored.Clone(), true, nil
}

func (s *MemoryAttemptStore) GetAttempt(_ context.Context, id uuid.UUID) (*model.TestAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.attempts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.attempt.Clone(), nil
}

func (s *MemoryAttemptStore) ListByCandidate(_ context.Context, candidateID string) ([]model.TestAttempt, error) {
	return s.list(func(a *model.TestAttempt) bool { return a.CandidateID == candidateID }), nil
}

func (s *MemoryAttemptStore) ListByCandidateAndTest(_ context.Context, candidateID string, testID uuid.UUID) ([]model.TestAttempt, error) {
	return s.list(func(a *model.TestAttempt) bool {
		return a.CandidateID == candidateID && a.TestID == testID
	}), nil
}

func (s *MemoryAttemptStore) ListByTest(_ context.Context, testID uuid.UUID, f AttemptFilter) ([]model.TestAttempt, int, error) {
	all := s.list(func(a *model.TestAttempt) bool {
		return a.TestID == testID && (f.Status == nil || a.Status == *f.Status)
	})
	total := len(all)
	if f.Offset >= total {
		return []model.TestAttempt{}, total, nil
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < total {
		end = f.Offset + f.Limit
	}
	return all[f.Offset:end], total, nil
}

func (s *MemoryAttemptStore) ListStale(_ context.Context, now, idleBefore time.Time, limit int) ([]model.TestAttempt, error) {
	out := s.list(func(a *model.TestAttempt) bool {
		return a.Status == model.AttemptStatusInProgress &&
			(a.ExpiresAt.Before(now) || a.LastActivityAt.Before(idleBefore))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryAttemptStore) ListResponses(_ context.Context, attemptID uuid.UUID) ([]model.QuestionResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.attempts[attemptID]
	if !ok {
		return nil, ErrNotFound
	}
	return sortedResponses(rec.responses), nil
}

func (s *MemoryAttemptStore) ListEvents(_ context.Context, attemptID uuid.UUID) ([]model.ResponseEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.attempts[attemptID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]model.ResponseEvent(nil), rec.events...), nil
}

func (s *MemoryAttemptStore) WithAttempt(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, tx AttemptTx) error) error {
	s.mu.RLock()
	rec, ok := s.attempts[id]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	rec.lock.Lock()
	defer rec.lock.Unlock()

	s.mu.RLock()
	tx := &memTx{
		store:     s,
		attempt:   rec.attempt.Clone(),
		responses: make(map[uuid.UUID]*model.QuestionResponse, len(rec.responses)),
	}
	for qid, r := range rec.responses {
		tx.responses[qid] = r.Clone()
	}
	s.mu.RUnlock()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec.attempt = tx.attempt
	rec.responses = tx.responses
	rec.events = append(rec.events, tx.events...)
	if tx.attempt.Status.IsTerminal() {
		key := activeKey{candidateID: tx.attempt.CandidateID, testID: tx.attempt.TestID}
		if s.active[key] == tx.attempt.ID {
			delete(s.active, key)
		}
	}
	return nil
}

func (s *MemoryAttemptStore) list(keep func(*model.TestAttempt) bool) []model.TestAttempt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.TestAttempt, 0)
	for _, rec := range s.attempts {
		if keep(rec.attempt) {
			out = append(out, *rec.attempt.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

// memTx stages writes against copies; WithAttempt publishes them on success.
type memTx struct {
	store     *MemoryAttemptStore
	attempt   *model.TestAttempt
	responses map[uuid.UUID]*model.QuestionResponse
	events    []model.ResponseEvent
}

func (t *memTx) Attempt() *model.TestAttempt { return t.attempt.Clone() }

func (t *memTx) Response(_ context.Context, questionID uuid.UUID) (*model.QuestionResponse, error) {
	r, ok := t.responses[questionID]
	if !ok {
		return nil, nil
	}
	return r.Clone(), nil
}

func (t *memTx) Responses(_ context.Context) ([]model.QuestionResponse, error) {
	return sortedResponses(t.responses), nil
}

func (t *memTx) SaveResponse(_ context.Context, r *model.QuestionResponse, d model.ResponseDelta, ev *model.ResponseEvent) (*model.QuestionResponse, error) {
	if t.attempt.Status.IsTerminal() {
		return nil, ErrAttemptNotInProgress
	}
	now := time.Now()
	cur, ok := t.responses[r.QuestionID]
	if !ok {
		cur = r.Clone()
		cur.AttemptID = t.attempt.ID
		cur.CandidateID = t.attempt.CandidateID
		if cur.ID == uuid.Nil {
			cur.ID = uuid.New()
		}
		cur.CreatedAt = now
		t.responses[r.QuestionID] = cur
	}
	d.ApplyTo(cur)
	cur.UpdatedAt = now

	if ev != nil {
		e := *ev
		e.ResponseID = cur.ID
		e.Seq = t.store.seq.Add(1)
		t.events = append(t.events, e)
	}
	return cur.Clone(), nil
}

func (t *memTx) UpdateAttempt(_ context.Context, u model.AttemptUpdate) error {
	if t.attempt.Status.IsTerminal() {
		return ErrAttemptNotInProgress
	}
	t.attempt.Metrics.AttemptCounters.Apply(u.Counters)
	if !u.ActivityAt.IsZero() {
		t.attempt.LastActivityAt = u.ActivityAt
	}
	if u.SetFocus {
		t.attempt.FocusQuestionID = nil
		t.attempt.FocusSince = nil
		if u.FocusQuestionID != nil {
			id := *u.FocusQuestionID
			t.attempt.FocusQuestionID = &id
		}
		if u.FocusSince != nil {
			ts := *u.FocusSince
			t.attempt.FocusSince = &ts
		}
	}
	t.attempt.UpdatedAt = time.Now()
	return nil
}

func (t *memTx) Finalize(_ context.Context, f model.Finalization) error {
	if t.attempt.Status.IsTerminal() {
		return ErrAttemptNotInProgress
	}
	end := f.EndTime
	a := t.attempt
	a.Status = f.Status
	a.EndTime = &end
	a.Score = f.Score
	a.RawScore = f.RawScore
	a.PercentageScore = f.PercentageScore
	a.QuestionsTotal = f.QuestionsTotal
	a.Metrics.AttemptCounters = f.Counters
	final := f.Final
	a.Metrics.Final = &final
	a.FocusQuestionID = nil
	a.FocusSince = nil
	a.UpdatedAt = time.Now()

	byID := make(map[uuid.UUID]*model.QuestionResponse, len(t.responses))
	for _, r := range t.responses {
		byID[r.ID] = r
	}
	for _, g := range f.Grades {
		r, ok := byID[g.ResponseID]
		if !ok {
			continue
		}
		r.IsCorrect = g.IsCorrect
		r.IsReversed = g.IsReversed
		r.IsHalfCorrect = g.IsHalfCorrect
		r.Score = g.Score
		r.Graded = g.Graded
		if g.PropositionResponses != nil {
			r.PropositionResponses = append([]model.PropositionResponse(nil), g.PropositionResponses...)
		}
	}
	return nil
}

func sortedResponses(m map[uuid.UUID]*model.QuestionResponse) []model.QuestionResponse {
	out := make([]model.QuestionResponse, 0, len(m))
	for _, r := range m {
		out = append(out, *r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].QuestionID.String() < out[j].QuestionID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
