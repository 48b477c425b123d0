package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/examgrader/internal/apperr"
	"github.com/pavelanni/examgrader/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestUser(t *testing.T, s *Store, username string, role model.UserRole) string {
	t.Helper()
	id, err := s.CreateUser(context.Background(), model.User{
		Username:    username,
		DisplayName: "User " + username,
		Role:        role,
		Active:      true,
	})
	if err != nil {
		t.Fatalf("createTestUser: %v", err)
	}
	return id
}

func createTestExam(t *testing.T, s *Store, createdBy string) *model.Exam {
	t.Helper()
	e := &model.Exam{
		Title:     "Biology quiz",
		CreatedBy: createdBy,
		Questions: []model.Question{
			{Type: model.QuestionMultipleChoice, Text: "Which is a plant?", Marks: 5, CorrectAnswer: json.RawMessage(`"B"`)},
			{Type: model.QuestionShortAnswer, Text: "What is photosynthesis?", Marks: 5,
				CorrectAnswer: json.RawMessage(`"Conversion of light energy into chemical energy"`)},
		},
	}
	if err := s.CreateExam(context.Background(), e); err != nil {
		t.Fatalf("createTestExam: %v", err)
	}
	return e
}

func TestUserCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	count, err := s.UserCount(ctx)
	if err != nil {
		t.Fatalf("UserCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 users, got %d", count)
	}

	id := createTestUser(t, s, "alice", model.UserRoleStudent)

	u, err := s.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if u == nil || u.ID != id || u.Role != model.UserRoleStudent || !u.Active {
		t.Fatalf("unexpected user: %+v", u)
	}

	u, err = s.GetUserByID(ctx, id)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if u == nil || u.Username != "alice" {
		t.Fatalf("unexpected user: %+v", u)
	}

	missing, err := s.GetUserByUsername(ctx, "nobody")
	if err != nil {
		t.Fatalf("GetUserByUsername missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing user, got %+v", missing)
	}

	if _, err := s.CreateUser(ctx, model.User{Username: "alice", Role: model.UserRoleStudent}); err == nil {
		t.Fatal("expected error for duplicate username")
	}

	if err := s.SetUserActive(ctx, id, false); err != nil {
		t.Fatalf("SetUserActive: %v", err)
	}
	u, _ = s.GetUserByID(ctx, id)
	if u.Active {
		t.Error("user should be inactive")
	}

	createTestUser(t, s, "bob", model.UserRoleTeacher)
	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 || users[0].Username != "alice" || users[1].Username != "bob" {
		t.Fatalf("unexpected users: %+v", users)
	}
}

func TestParentLinks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	parent := createTestUser(t, s, "mum", model.UserRoleParent)
	child := createTestUser(t, s, "kid", model.UserRoleStudent)
	other := createTestUser(t, s, "other", model.UserRoleStudent)

	if err := s.LinkParent(ctx, parent, child); err != nil {
		t.Fatalf("LinkParent: %v", err)
	}
	if err := s.LinkParent(ctx, parent, child); err != nil {
		t.Fatalf("LinkParent twice: %v", err)
	}

	ok, err := s.IsParentOf(ctx, parent, child)
	if err != nil || !ok {
		t.Errorf("IsParentOf(child) = %v, %v; want true", ok, err)
	}
	ok, err = s.IsParentOf(ctx, parent, other)
	if err != nil || ok {
		t.Errorf("IsParentOf(other) = %v, %v; want false", ok, err)
	}
}

func TestExamRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	teacher := createTestUser(t, s, "teach", model.UserRoleTeacher)
	e := createTestExam(t, s, teacher)

	got, err := s.GetExam(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetExam: %v", err)
	}
	if got == nil {
		t.Fatal("exam not found")
	}
	if got.Status != model.ExamActive || got.CreatedBy != teacher {
		t.Errorf("unexpected exam: %+v", got)
	}
	if len(got.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(got.Questions))
	}
	for i, q := range got.Questions {
		if q.ID != e.Questions[i].ID || q.Position != i+1 {
			t.Errorf("question %d out of order: %+v", i, q)
		}
	}
	if string(got.Questions[0].CorrectAnswer) != `"B"` {
		t.Errorf("correct answer = %s", got.Questions[0].CorrectAnswer)
	}
	if got.TotalMarks() != 10 {
		t.Errorf("TotalMarks() = %d, want 10", got.TotalMarks())
	}

	if err := s.SetExamStatus(ctx, e.ID, model.ExamDraft); err != nil {
		t.Fatalf("SetExamStatus: %v", err)
	}
	got, _ = s.GetExam(ctx, e.ID)
	if got.Status != model.ExamDraft {
		t.Errorf("status = %s, want DRAFT", got.Status)
	}

	missing, err := s.GetExam(ctx, "no-such-exam")
	if err != nil {
		t.Fatalf("GetExam missing: %v", err)
	}
	if missing != nil {
		t.Fatal("expected nil for missing exam")
	}
}

func TestIsAssigned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	teacher := createTestUser(t, s, "teach", model.UserRoleTeacher)
	direct := createTestUser(t, s, "direct", model.UserRoleStudent)
	member := createTestUser(t, s, "member", model.UserRoleStudent)
	stranger := createTestUser(t, s, "stranger", model.UserRoleStudent)
	lapsed := createTestUser(t, s, "lapsed", model.UserRoleStudent)
	e := createTestExam(t, s, teacher)

	classID, err := s.CreateClass(ctx, model.Class{Name: "5B", StudentIDs: []string{member}})
	if err != nil {
		t.Fatalf("CreateClass: %v", err)
	}
	for _, a := range []model.Assignment{
		{ExamID: e.ID, StudentID: direct, Active: true},
		{ExamID: e.ID, ClassID: classID, Active: true},
		{ExamID: e.ID, StudentID: lapsed, Active: false},
	} {
		if _, err := s.AssignExam(ctx, a); err != nil {
			t.Fatalf("AssignExam: %v", err)
		}
	}
	if _, err := s.AssignExam(ctx, model.Assignment{ExamID: e.ID, Active: true}); err == nil {
		t.Error("expected error for assignment without student or class")
	}

	tests := []struct {
		name    string
		student string
		want    bool
	}{
		{"direct", direct, true},
		{"via class", member, true},
		{"not assigned", stranger, false},
		{"inactive assignment", lapsed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.IsAssigned(ctx, e.ID, tt.student)
			if err != nil {
				t.Fatalf("IsAssigned: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsAssigned() = %v, want %v", got, tt.want)
			}
		})
	}
}

func testFinalization(e *model.Exam, attemptID string, status model.GradeStatus) Finalization {
	correct := true
	ai := 4.0
	aiFB := "Good, minor omission"
	return Finalization{
		AttemptID:   attemptID,
		SubmittedAt: time.Now(),
		TimeSpent:   12,
		Answers: []model.Answer{
			{QuestionID: e.Questions[0].ID, Answer: json.RawMessage(`"B"`), Strategy: model.StrategyObjective,
				IsCorrect: &correct, FinalScore: 5, Feedback: "Correct answer!"},
			{QuestionID: e.Questions[1].ID, Answer: json.RawMessage(`"light to energy"`), Strategy: model.StrategyAssisted,
				AIScore: &ai, AIFeedback: &aiFB, FinalScore: 4, Feedback: aiFB},
		},
		Grade: model.Grade{TotalScore: 9, MaxScore: 10, Percentage: 90, Letter: "A", Status: status},
	}
}

func TestFinalizeAttempt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	teacher := createTestUser(t, s, "teach", model.UserRoleTeacher)
	student := createTestUser(t, s, "stud", model.UserRoleStudent)
	e := createTestExam(t, s, teacher)

	a, err := s.CreateAttempt(ctx, e.ID, student, time.Now().Add(-12*time.Minute))
	if err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}
	if err := s.FinalizeAttempt(ctx, testFinalization(e, a.ID, model.GradeCompleted)); err != nil {
		t.Fatalf("FinalizeAttempt: %v", err)
	}

	got, err := s.GetAttempt(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if !got.IsCompleted || got.SubmittedAt == nil || got.TimeSpent != 12 {
		t.Errorf("unexpected attempt: %+v", got)
	}

	answers, err := s.GetAnswers(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAnswers: %v", err)
	}
	if len(answers) != 2 {
		t.Fatalf("expected 2 answers, got %d", len(answers))
	}
	mc := answers[e.Questions[0].ID]
	if mc.IsCorrect == nil || !*mc.IsCorrect || mc.AIScore != nil || mc.AIFeedback != nil {
		t.Errorf("objective answer = %+v", mc)
	}
	sa := answers[e.Questions[1].ID]
	if sa.IsCorrect != nil || sa.AIScore == nil || *sa.AIScore != 4 || sa.FinalScore != 4 {
		t.Errorf("assisted answer = %+v", sa)
	}
	if string(sa.Answer) != `"light to energy"` {
		t.Errorf("answer payload = %s", sa.Answer)
	}

	g, err := s.GetGrade(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetGrade: %v", err)
	}
	if g == nil || g.TotalScore != 9 || g.Percentage != 90 || g.Letter != "A" ||
		g.Status != model.GradeCompleted || g.IsPublished {
		t.Errorf("unexpected grade: %+v", g)
	}

	// Second submission is rejected and writes nothing.
	err = s.FinalizeAttempt(ctx, testFinalization(e, a.ID, model.GradePending))
	if !errors.Is(err, apperr.ErrAlreadySubmitted) {
		t.Fatalf("second FinalizeAttempt err = %v, want ErrAlreadySubmitted", err)
	}
	n, _ := s.CountAnswers(ctx, a.ID)
	if n != 2 {
		t.Errorf("answers after resubmission = %d, want 2", n)
	}
	g, _ = s.GetGrade(ctx, a.ID)
	if g.Status != model.GradeCompleted {
		t.Errorf("grade status changed to %s", g.Status)
	}
}

func TestFinalizeAttemptConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	teacher := createTestUser(t, s, "teach", model.UserRoleTeacher)
	student := createTestUser(t, s, "stud", model.UserRoleStudent)
	e := createTestExam(t, s, teacher)
	a, err := s.CreateAttempt(ctx, e.ID, student, time.Now())
	if err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.FinalizeAttempt(ctx, testFinalization(e, a.ID, model.GradeCompleted))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, apperr.ErrAlreadySubmitted):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("%d submissions succeeded, want exactly 1", succeeded)
	}
	if c, _ := s.CountAnswers(ctx, a.ID); c != 2 {
		t.Errorf("answers = %d, want 2", c)
	}
}

func TestFinalizeKeepsCompletedGrade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	teacher := createTestUser(t, s, "teach", model.UserRoleTeacher)
	student := createTestUser(t, s, "stud", model.UserRoleStudent)
	e := createTestExam(t, s, teacher)
	a, _ := s.CreateAttempt(ctx, e.ID, student, time.Now())

	if _, err := s.EnsureGrade(ctx, a.ID, 10); err != nil {
		t.Fatalf("EnsureGrade: %v", err)
	}
	if _, err := s.UpdateGrade(ctx, a.ID, func(g *model.Grade) error {
		g.TotalScore, g.Percentage, g.Letter, g.Status = 7, 70, "C", model.GradeCompleted
		return nil
	}); err != nil {
		t.Fatalf("UpdateGrade: %v", err)
	}

	fin := testFinalization(e, a.ID, model.GradePending)
	if err := s.FinalizeAttempt(ctx, fin); err != nil {
		t.Fatalf("FinalizeAttempt: %v", err)
	}
	g, _ := s.GetGrade(ctx, a.ID)
	if g.Status != model.GradeCompleted || g.TotalScore != 7 {
		t.Errorf("completed grade was overwritten: %+v", g)
	}
}

func TestFinalizeReplacesLazyPendingGrade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	teacher := createTestUser(t, s, "teach", model.UserRoleTeacher)
	student := createTestUser(t, s, "stud", model.UserRoleStudent)
	e := createTestExam(t, s, teacher)
	a, _ := s.CreateAttempt(ctx, e.ID, student, time.Now())

	lazy, err := s.EnsureGrade(ctx, a.ID, 10)
	if err != nil {
		t.Fatalf("EnsureGrade: %v", err)
	}
	if err := s.FinalizeAttempt(ctx, testFinalization(e, a.ID, model.GradeCompleted)); err != nil {
		t.Fatalf("FinalizeAttempt: %v", err)
	}
	g, _ := s.GetGrade(ctx, a.ID)
	if g.ID != lazy.ID {
		t.Errorf("grade id changed from %s to %s", lazy.ID, g.ID)
	}
	if g.TotalScore != 9 || g.Status != model.GradeCompleted {
		t.Errorf("unexpected grade: %+v", g)
	}
}

func TestEnsureGradeIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	teacher := createTestUser(t, s, "teach", model.UserRoleTeacher)
	student := createTestUser(t, s, "stud", model.UserRoleStudent)
	e := createTestExam(t, s, teacher)
	a, _ := s.CreateAttempt(ctx, e.ID, student, time.Now())

	first, err := s.EnsureGrade(ctx, a.ID, 10)
	if err != nil {
		t.Fatalf("EnsureGrade: %v", err)
	}
	if first.Status != model.GradePending || first.TotalScore != 0 || first.IsPublished || first.MaxScore != 10 {
		t.Errorf("unexpected lazy grade: %+v", first)
	}
	second, err := s.EnsureGrade(ctx, a.ID, 10)
	if err != nil {
		t.Fatalf("EnsureGrade again: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("EnsureGrade created a second grade")
	}
}

func TestUpdateGradeRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	teacher := createTestUser(t, s, "teach", model.UserRoleTeacher)
	student := createTestUser(t, s, "stud", model.UserRoleStudent)
	e := createTestExam(t, s, teacher)
	a, _ := s.CreateAttempt(ctx, e.ID, student, time.Now())
	if _, err := s.EnsureGrade(ctx, a.ID, 10); err != nil {
		t.Fatalf("EnsureGrade: %v", err)
	}

	boom := errors.New("boom")
	_, err := s.UpdateGrade(ctx, a.ID, func(g *model.Grade) error {
		g.TotalScore = 10
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	g, _ := s.GetGrade(ctx, a.ID)
	if g.TotalScore != 0 {
		t.Errorf("total = %v, want 0 after rollback", g.TotalScore)
	}

	_, err = s.UpdateGrade(ctx, "no-such-attempt", func(*model.Grade) error { return nil })
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPublishGrade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	teacher := createTestUser(t, s, "teach", model.UserRoleTeacher)
	student := createTestUser(t, s, "stud", model.UserRoleStudent)
	e := createTestExam(t, s, teacher)
	a, _ := s.CreateAttempt(ctx, e.ID, student, time.Now())
	if err := s.FinalizeAttempt(ctx, testFinalization(e, a.ID, model.GradeCompleted)); err != nil {
		t.Fatalf("FinalizeAttempt: %v", err)
	}

	at := time.Now().Truncate(time.Millisecond)
	changed, err := s.PublishGrade(ctx, a.ID, at)
	if err != nil {
		t.Fatalf("PublishGrade: %v", err)
	}
	if !changed {
		t.Fatal("first publish should change the grade")
	}
	changed, err = s.PublishGrade(ctx, a.ID, at.Add(time.Hour))
	if err != nil {
		t.Fatalf("PublishGrade again: %v", err)
	}
	if changed {
		t.Error("second publish should be a no-op")
	}

	g, _ := s.GetGrade(ctx, a.ID)
	if !g.IsPublished || g.PublishedAt == nil || !g.PublishedAt.Equal(at) {
		t.Errorf("unexpected publish state: %+v", g)
	}

	// Overrides never touch publish fields.
	if _, err := s.UpdateGrade(ctx, a.ID, func(g *model.Grade) error {
		g.IsPublished = false
		g.TotalScore = 8
		return nil
	}); err != nil {
		t.Fatalf("UpdateGrade: %v", err)
	}
	g, _ = s.GetGrade(ctx, a.ID)
	if !g.IsPublished || g.TotalScore != 8 {
		t.Errorf("unexpected grade after override: %+v", g)
	}
}

func TestEventLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendEvent(ctx, "grade.published", "stud-1", map[string]any{"attemptId": "a1"}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := s.AppendEvent(ctx, "grade.published", "stud-2", map[string]any{"attemptId": "a2"}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	events, err := s.ListEvents(ctx, 0, 10)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Key != "stud-1" || events[0].Seq >= events[1].Seq {
		t.Errorf("unexpected order: %+v", events)
	}
	var payload map[string]string
	if err := json.Unmarshal(events[1].Data, &payload); err != nil || payload["attemptId"] != "a2" {
		t.Errorf("payload = %s (%v)", events[1].Data, err)
	}

	rest, err := s.ListEvents(ctx, events[0].Seq, 10)
	if err != nil {
		t.Fatalf("ListEvents after: %v", err)
	}
	if len(rest) != 1 || rest[0].Key != "stud-2" {
		t.Errorf("unexpected tail: %+v", rest)
	}
}

func TestImportMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.IsImported(ctx, "exams.json", "abc")
	if err != nil || ok {
		t.Fatalf("IsImported on empty store = %v, %v", ok, err)
	}
	if err := s.RecordImport(ctx, "exams.json", "abc"); err != nil {
		t.Fatalf("RecordImport: %v", err)
	}
	if ok, _ := s.IsImported(ctx, "exams.json", "abc"); !ok {
		t.Error("expected file to be recorded")
	}
	if ok, _ := s.IsImported(ctx, "exams.json", "def"); ok {
		t.Error("changed file should not count as imported")
	}
	if err := s.RecordImport(ctx, "exams.json", "def"); err != nil {
		t.Fatalf("RecordImport update: %v", err)
	}
	if ok, _ := s.IsImported(ctx, "exams.json", "def"); !ok {
		t.Error("expected updated hash to be recorded")
	}
}

func TestListGradeRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	teacher := createTestUser(t, s, "teach", model.UserRoleTeacher)
	student := createTestUser(t, s, "stud", model.UserRoleStudent)
	e := createTestExam(t, s, teacher)

	done, _ := s.CreateAttempt(ctx, e.ID, student, time.Now())
	if err := s.FinalizeAttempt(ctx, testFinalization(e, done.ID, model.GradeCompleted)); err != nil {
		t.Fatalf("FinalizeAttempt: %v", err)
	}
	// An in-progress attempt with a lazy grade is not reported.
	open, _ := s.CreateAttempt(ctx, e.ID, student, time.Now())
	if _, err := s.EnsureGrade(ctx, open.ID, 10); err != nil {
		t.Fatalf("EnsureGrade: %v", err)
	}

	rows, err := s.ListGradeRows(ctx, "")
	if err != nil {
		t.Fatalf("ListGradeRows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	r := rows[0]
	if r.AttemptID != done.ID || r.Username != "stud" || r.ExamTitle != "Biology quiz" ||
		r.Percentage != 90 || r.Letter != "A" || r.SubmittedAt == nil {
		t.Errorf("unexpected row: %+v", r)
	}

	rows, err = s.ListGradeRows(ctx, "other-exam")
	if err != nil {
		t.Fatalf("ListGradeRows filtered: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows for other exam, got %d", len(rows))
	}
}

func TestClaimAttempt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	teacher := createTestUser(t, s, "teach", model.UserRoleTeacher)
	student := createTestUser(t, s, "stud", model.UserRoleStudent)
	e := createTestExam(t, s, teacher)
	a, err := s.CreateAttempt(ctx, e.ID, student, time.Now())
	if err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}

	t0 := time.Now()
	if err := s.ClaimAttempt(ctx, a.ID, t0, t0.Add(-time.Hour)); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := s.ClaimAttempt(ctx, a.ID, t0.Add(time.Second), t0.Add(-time.Hour)); !errors.Is(err, apperr.ErrAlreadySubmitted) {
		t.Errorf("second claim err = %v, want ErrAlreadySubmitted", err)
	}
	if err := s.ClaimAttempt(ctx, a.ID, t0.Add(2*time.Hour), t0.Add(time.Hour)); err != nil {
		t.Errorf("stale claim should be taken over: %v", err)
	}

	if err := s.ReleaseAttempt(ctx, a.ID); err != nil {
		t.Fatalf("ReleaseAttempt: %v", err)
	}
	if err := s.ClaimAttempt(ctx, a.ID, t0, t0.Add(-time.Hour)); err != nil {
		t.Errorf("claim after release: %v", err)
	}

	if err := s.FinalizeAttempt(ctx, testFinalization(e, a.ID, model.GradeCompleted)); err != nil {
		t.Fatalf("FinalizeAttempt: %v", err)
	}
	if err := s.ReleaseAttempt(ctx, a.ID); err != nil {
		t.Fatalf("ReleaseAttempt: %v", err)
	}
	if err := s.ClaimAttempt(ctx, a.ID, t0.Add(3*time.Hour), t0.Add(3*time.Hour)); !errors.Is(err, apperr.ErrAlreadySubmitted) {
		t.Errorf("claim on completed attempt err = %v, want ErrAlreadySubmitted", err)
	}
}
