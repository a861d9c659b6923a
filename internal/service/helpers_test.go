package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/logitest/attempt-service/internal/config"
	"github.com/logitest/attempt-service/internal/grading"
	"github.com/logitest/attempt-service/internal/model"
	"github.com/logitest/attempt-service/internal/repository"
	"github.com/rs/zerolog"
)

var (
	candidate = model.Identity{UserID: "cand-1", Role: model.RoleCandidate}
	intruder  = model.Identity{UserID: "cand-2", Role: model.RoleCandidate}
	recruiter = model.Identity{UserID: "staff-1", Role: model.RoleRecruiter}
)

func intp(v int) *int { return &v }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []FinalizedEvent
}

func (p *recordingPublisher) PublishFinalized(_ context.Context, ev FinalizedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// dominoQuestion has tiles 1 and 2 fixed and tile 3 editable.
func dominoQuestion(testID uuid.UUID, number, top, bottom int) model.Question {
	return model.Question{
		ID:             uuid.New(),
		TestID:         testID,
		QuestionNumber: number,
		Type:           model.QuestionTypeDomino,
		Instruction:    "Find the missing tile",
		Difficulty:     "medium",
		Domino: &model.DominoQuestion{
			Tiles: []model.Tile{
				{ID: 1, TopValue: intp(2), BottomValue: intp(2)},
				{ID: 2, TopValue: intp(3), BottomValue: intp(3)},
				{ID: 3, IsEditable: true},
			},
			CorrectAnswer: &model.DominoCorrectAnswer{TileID: 3, TopValue: top, BottomValue: bottom},
		},
	}
}

func mcqQuestion(testID uuid.UUID, number int, key ...model.Evaluation) model.Question {
	props := make([]model.Proposition, len(key))
	for i, k := range key {
		props[i] = model.Proposition{Text: "statement", CorrectEvaluation: k}
	}
	return model.Question{
		ID:             uuid.New(),
		TestID:         testID,
		QuestionNumber: number,
		Type:           model.QuestionTypeMultipleChoice,
		Difficulty:     "hard",
		MultipleChoice: &model.MultipleChoiceQuestion{Propositions: props},
	}
}

func dominoAnswer(top, bottom int) model.AnswerPayload {
	return model.AnswerPayload{Domino: &model.DominoAnswer{TileID: 3, TopValue: intp(top), BottomValue: intp(bottom)}}
}

type fixture struct {
	svc      *AttemptService
	results  *ResultsService
	store    *repository.MemoryAttemptStore
	clock    *fakeClock
	pub      *recordingPublisher
	test     model.Test
	q1, q2   model.Question
	mcqTest  model.Test
	mcq      model.Question
	inactive model.Test
}

func newFixture(t *testing.T, opts AttemptOptions) *fixture {
	t.Helper()

	f := &fixture{
		store: repository.NewMemoryAttemptStore(),
		clock: newFakeClock(),
		pub:   &recordingPublisher{},
	}
	f.test = model.Test{ID: uuid.New(), Name: "Domino A", DurationMinutes: 30, IsActive: true}
	f.q1 = dominoQuestion(f.test.ID, 1, 4, 4)
	f.q2 = dominoQuestion(f.test.ID, 2, 1, 5)
	f.mcqTest = model.Test{ID: uuid.New(), Name: "Logic B", DurationMinutes: 20, IsActive: true}
	f.mcq = mcqQuestion(f.mcqTest.ID, 1, model.EvaluationTrue, model.EvaluationFalse, model.EvaluationUnknown)
	f.inactive = model.Test{ID: uuid.New(), Name: "Retired", DurationMinutes: 10, IsActive: false}

	bank := repository.NewMemoryQuestionBank(
		[]model.Test{f.test, f.mcqTest, f.inactive},
		[]model.Question{f.q1, f.q2, f.mcq, dominoQuestion(f.inactive.ID, 1, 0, 0)},
	)
	f.build(bank, opts)
	return f
}

func (f *fixture) build(bank repository.QuestionBank, opts AttemptOptions) {
	f.svc = NewAttemptService(f.store, bank, grading.NewEngine(grading.DefaultPolicy()), f.pub, opts, zerolog.Nop())
	f.svc.SetClock(f.clock.Now)
	f.results = NewResultsService(f.store, bank, zerolog.Nop())
}

func (f *fixture) start(t *testing.T, who model.Identity, testID uuid.UUID) *model.TestAttempt {
	t.Helper()
	res, err := f.svc.Start(context.Background(), who, testID, model.ClientInfo{UserAgent: "go-test", IPAddress: "127.0.0.1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return res.Attempt
}

func resumePolicy() AttemptOptions {
	return AttemptOptions{StartPolicy: config.StartPolicyResume}
}
