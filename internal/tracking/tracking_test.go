package tracking

import (
	"testing"
	"time"

	"github.com/logitest/attempt-service/internal/model"
)

func intPtr(v int) *int { return &v }

func domino(top, bottom int) model.AnswerPayload {
	return model.AnswerPayload{Domino: &model.DominoAnswer{TileID: 7, TopValue: intPtr(top), BottomValue: intPtr(bottom)}}
}

// session drives a response the way the attempt service does: decide the
// event, apply it, keep the log.
type session struct {
	r       model.QuestionResponse
	counter model.AttemptCounters
	log     []model.ResponseEvent
	clock   time.Time
}

func (s *session) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *session) record(t *testing.T, ev model.ResponseEvent) {
	t.Helper()
	rd, ad, err := Apply(&s.r, ev)
	if err != nil {
		t.Fatalf("apply %s: %v", ev.EventType, err)
	}
	rd.ApplyTo(&s.r)
	s.counter.Apply(ad)
	s.log = append(s.log, ev)
}

func (s *session) visit(t *testing.T) { s.record(t, Visit(s.tick(), VisitData{})) }

func (s *session) answer(t *testing.T, p model.AnswerPayload) bool {
	ev, ok := Answer(&s.r, p, s.tick())
	if ok {
		s.record(t, ev)
	}
	return ok
}

func (s *session) leave(t *testing.T, ms int64) {
	s.record(t, Leave(s.tick(), LeaveData{ElapsedMs: ms}))
}

func (s *session) flag(t *testing.T) { s.record(t, ToggleFlag(&s.r, s.tick())) }

func (s *session) skip(t *testing.T) bool {
	ev, ok := Skip(&s.r, s.tick(), "")
	if ok {
		s.record(t, ev)
	}
	return ok
}

func TestAnswer_Decisions(t *testing.T) {
	s := &session{}

	if !s.answer(t, domino(1, 2)) || s.log[0].EventType != model.EventAnswer {
		t.Fatalf("first answer should emit answer event, log=%v", s.log)
	}
	if s.answer(t, domino(1, 2)) {
		t.Fatal("identical resubmission must not emit an event")
	}
	if !s.answer(t, domino(2, 1)) || s.log[1].EventType != model.EventChange {
		t.Fatalf("different answer should emit change event, log=%v", s.log)
	}
	if s.counter.QuestionsAnswered != 1 || s.counter.AnswerChanges != 1 || s.r.AnswerChanges != 1 {
		t.Fatalf("counters = %+v, response changes = %d", s.counter, s.r.AnswerChanges)
	}
	if !s.answer(t, model.AnswerPayload{}) {
		t.Fatal("clearing an answer is a change")
	}
	if s.counter.QuestionsAnswered != 0 {
		t.Fatalf("answered = %d after clearing, want 0", s.counter.QuestionsAnswered)
	}
	if s.answer(t, model.AnswerPayload{}) {
		t.Fatal("empty over empty must not emit an event")
	}
}

func TestAnswer_PropositionOrderIsIrrelevant(t *testing.T) {
	r := &model.QuestionResponse{PropositionResponses: []model.PropositionResponse{
		{PropositionIndex: 0, CandidateEvaluation: model.EvaluationTrue},
		{PropositionIndex: 1, CandidateEvaluation: model.EvaluationFalse},
	}}
	reordered := model.AnswerPayload{Propositions: []model.PropositionResponse{
		{PropositionIndex: 1, CandidateEvaluation: model.EvaluationFalse},
		{PropositionIndex: 0, CandidateEvaluation: model.EvaluationTrue},
	}}
	if _, ok := Answer(r, reordered, time.Now()); ok {
		t.Fatal("reordered identical answer should be a no-op")
	}
}

func TestFlagToggle_NeverNegative(t *testing.T) {
	s := &session{}
	s.flag(t)
	s.flag(t)
	if s.r.IsFlagged || s.counter.FlaggedQuestions != 0 {
		t.Fatalf("after flag+unflag: flagged=%v counter=%d", s.r.IsFlagged, s.counter.FlaggedQuestions)
	}

	// A stray unflag on an unflagged response has no effect.
	rd, ad, err := Apply(&s.r, model.ResponseEvent{EventType: model.EventUnflag})
	if err != nil {
		t.Fatal(err)
	}
	if rd.Flagged != nil || ad.FlaggedQuestions != 0 {
		t.Fatalf("stray unflag produced %+v %+v", rd, ad)
	}
}

func TestSkip_ClearsAnswerAndIsIdempotent(t *testing.T) {
	s := &session{}
	s.answer(t, domino(3, 4))
	if !s.skip(t) {
		t.Fatal("first skip should emit")
	}
	if s.skip(t) {
		t.Fatal("second skip must be a no-op")
	}
	if s.r.HasAnswer() || !s.r.IsSkipped {
		t.Fatalf("skip should clear answer: %+v", s.r)
	}
	if s.counter.QuestionsAnswered != 0 || s.counter.QuestionsSkipped != 1 {
		t.Fatalf("counters = %+v", s.counter)
	}

	s.answer(t, domino(3, 4))
	if s.r.IsSkipped || s.counter.QuestionsSkipped != 0 || s.counter.QuestionsAnswered != 1 {
		t.Fatalf("answering should un-skip: response=%+v counters=%+v", s.r, s.counter)
	}
}

func TestReplay_AgreesWithLiveCounters(t *testing.T) {
	tests := []struct {
		name  string
		steps func(t *testing.T, s *session)
	}{
		{
			name: "visit answer change flag",
			steps: func(t *testing.T, s *session) {
				s.visit(t)
				s.answer(t, domino(1, 1))
				s.visit(t)
				s.answer(t, domino(1, 2))
				s.flag(t)
			},
		},
		{
			name: "skip then answer then unflag",
			steps: func(t *testing.T, s *session) {
				s.visit(t)
				s.flag(t)
				s.skip(t)
				s.visit(t)
				s.answer(t, domino(0, 6))
				s.flag(t)
			},
		},
		{
			name: "focus time credited on leave",
			steps: func(t *testing.T, s *session) {
				s.visit(t)
				s.answer(t, domino(2, 3))
				s.leave(t, 4200)
				s.visit(t)
				s.leave(t, 800)
				s.flag(t)
			},
		},
		{
			name: "answer clear answer",
			steps: func(t *testing.T, s *session) {
				s.answer(t, domino(5, 5))
				s.answer(t, model.AnswerPayload{Domino: &model.DominoAnswer{TileID: 7}})
				s.answer(t, domino(5, 4))
				s.skip(t)
				s.skip(t)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := &session{clock: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
			tc.steps(t, s)

			replayed, delta, err := Replay(s.log)
			if err != nil {
				t.Fatalf("replay: %v", err)
			}
			if replayed.VisitCount != s.r.VisitCount ||
				replayed.TimeSpent != s.r.TimeSpent ||
				replayed.AnswerChanges != s.r.AnswerChanges ||
				replayed.IsFlagged != s.r.IsFlagged ||
				replayed.IsSkipped != s.r.IsSkipped ||
				!replayed.Answer().Equal(s.r.Answer()) {
				t.Fatalf("replayed %+v differs from live %+v", replayed, s.r)
			}

			var fromLog model.AttemptCounters
			fromLog.Apply(delta)
			if fromLog != s.counter {
				t.Fatalf("replayed counters %+v, live %+v", fromLog, s.counter)
			}
			if got := Summarize([]model.QuestionResponse{s.r}); got != s.counter {
				t.Fatalf("summarized counters %+v, live %+v", got, s.counter)
			}
		})
	}
}

func TestLeave_CarriesElapsedTime(t *testing.T) {
	at := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	ev := Leave(at, LeaveData{ElapsedMs: 5000, Reason: LeaveReasonFinalized})
	if ev.EventType != model.EventLeave || len(ev.Data) == 0 {
		t.Fatalf("event = %+v", ev)
	}
	rd, ad, err := Apply(&model.QuestionResponse{}, ev)
	if err != nil {
		t.Fatal(err)
	}
	if rd.TimeSpentInc != 5000 || rd.VisitInc != 0 {
		t.Fatalf("delta = %+v, want time only", rd)
	}
	if ad != (model.AttemptDelta{}) {
		t.Fatalf("attempt delta = %+v, want none", ad)
	}
}

func TestApply_LeaveRejectsBadData(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing", ""},
		{"malformed", `{"elapsed_ms":`},
		{"negative", `{"elapsed_ms":-1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := model.ResponseEvent{EventType: model.EventLeave, Data: []byte(tt.data)}
			if _, _, err := Apply(&model.QuestionResponse{}, ev); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestApply_UnknownEvent(t *testing.T) {
	if _, _, err := Apply(&model.QuestionResponse{}, model.ResponseEvent{EventType: "teleport"}); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}
