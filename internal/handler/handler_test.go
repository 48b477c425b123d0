package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examgrader/internal/auth"
	"github.com/pavelanni/examgrader/internal/grades"
	"github.com/pavelanni/examgrader/internal/grading"
	"github.com/pavelanni/examgrader/internal/i18n"
	"github.com/pavelanni/examgrader/internal/model"
	"github.com/pavelanni/examgrader/internal/notify"
	"github.com/pavelanni/examgrader/internal/store"
	"github.com/pavelanni/examgrader/internal/submission"
)

type scorerFunc func(ctx context.Context, req grading.ScoreRequest) (grading.ScoreResponse, error)

func (f scorerFunc) Score(ctx context.Context, req grading.ScoreRequest) (grading.ScoreResponse, error) {
	return f(ctx, req)
}

type testServer struct {
	t      *testing.T
	srv    *httptest.Server
	store  *store.Store
	tokens *auth.Service
	exam   *model.Exam
	users  map[string]*model.User
}

func newTestServer(t *testing.T, scorer grading.Scorer) *testServer {
	t.Helper()
	ctx := context.Background()
	if err := i18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	s, err := store.Open(ctx, store.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	tokens, err := auth.New("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("auth.New: %v", err)
	}

	ts := &testServer{t: t, store: s, tokens: tokens, users: map[string]*model.User{}}
	hash, err := auth.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	for _, u := range []model.User{
		{Username: "teacher", Role: model.UserRoleTeacher, Active: true},
		{Username: "alice", Role: model.UserRoleStudent, Active: true},
		{Username: "gone", Role: model.UserRoleStudent, Active: false},
	} {
		u.DisplayName = u.Username
		u.PasswordHash = hash
		id, err := s.CreateUser(ctx, u)
		if err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		u.ID = id
		ts.users[u.Username] = &u
	}

	ts.exam = &model.Exam{
		Title:     "Biology quiz",
		CreatedBy: ts.users["teacher"].ID,
		Questions: []model.Question{
			{Type: model.QuestionMultipleChoice, Text: "Which is a plant?", Marks: 5, CorrectAnswer: json.RawMessage(`"B"`)},
			{Type: model.QuestionShortAnswer, Text: "What is photosynthesis?", Marks: 5, CorrectAnswer: json.RawMessage(`"light"`)},
		},
	}
	if err := s.CreateExam(ctx, ts.exam); err != nil {
		t.Fatalf("CreateExam: %v", err)
	}
	if _, err := s.AssignExam(ctx, model.Assignment{ExamID: ts.exam.ID, StudentID: ts.users["alice"].ID, Active: true}); err != nil {
		t.Fatalf("AssignExam: %v", err)
	}

	policy := grading.RetryPolicy{MaxAttempts: 1, InitialBackoff: time.Millisecond, CallTimeout: time.Second}
	h := New(s, tokens,
		submission.NewService(s, grading.NewGrader(scorer, policy), 2),
		grades.NewManager(s, notify.Log{}))
	r := chi.NewRouter()
	r.Use(i18n.Middleware("en"))
	h.Routes(r)
	ts.srv = httptest.NewServer(r)
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) token(username string) string {
	ts.t.Helper()
	tok, err := ts.tokens.Issue(*ts.users[username])
	if err != nil {
		ts.t.Fatalf("Issue: %v", err)
	}
	return tok
}

func (ts *testServer) do(method, path, token string, body any) (int, map[string]any) {
	ts.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			ts.t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	if err != nil {
		ts.t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		ts.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (ts *testServer) submission() map[string]any {
	return map[string]any{
		"examId": ts.exam.ID,
		"answers": []map[string]any{
			{"questionId": ts.exam.Questions[0].ID, "answer": "B"},
			{"questionId": ts.exam.Questions[1].ID, "answer": "Plants use light"},
		},
	}
}

func fixedScorer(score float64) grading.Scorer {
	return scorerFunc(func(context.Context, grading.ScoreRequest) (grading.ScoreResponse, error) {
		return grading.ScoreResponse{Score: score, Feedback: "Good"}, nil
	})
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	code, body := ts.do(http.MethodGet, "/healthz", "", nil)
	if code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("healthz = %d %v", code, body)
	}
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name     string
		username string
		password string
		want     int
	}{
		{"valid", "alice", "s3cret", http.StatusOK},
		{"wrong password", "alice", "nope", http.StatusUnauthorized},
		{"unknown user", "mallory", "s3cret", http.StatusUnauthorized},
		{"inactive user", "gone", "s3cret", http.StatusUnauthorized},
		{"blank username", " ", "s3cret", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := ts.do(http.MethodPost, "/api/auth/login", "",
				map[string]string{"username": tt.username, "password": tt.password})
			if code != tt.want {
				t.Fatalf("status = %d, want %d (%v)", code, tt.want, body)
			}
			if code == http.StatusOK {
				tok, _ := body["access_token"].(string)
				claims, err := ts.tokens.Parse(tok)
				if err != nil || claims.Subject != ts.users["alice"].ID {
					t.Errorf("token = %q, err = %v", tok, err)
				}
			}
			if code == http.StatusUnauthorized && body["error"] != "Invalid username or password." {
				t.Errorf("error = %v", body["error"])
			}
		})
	}
}

func TestRequireAuth(t *testing.T) {
	ts := newTestServer(t, nil)
	path := "/api/submissions"

	code, body := ts.do(http.MethodPost, path, "", ts.submission())
	if code != http.StatusUnauthorized || body["error"] != "Authentication required." {
		t.Errorf("no token = %d %v", code, body)
	}
	if code, _ := ts.do(http.MethodPost, path, "garbage", ts.submission()); code != http.StatusUnauthorized {
		t.Errorf("bad token = %d", code)
	}
	if code, _ := ts.do(http.MethodPost, path, ts.token("gone"), ts.submission()); code != http.StatusUnauthorized {
		t.Errorf("inactive user = %d", code)
	}
	code, body = ts.do(http.MethodPost, path, ts.token("teacher"), ts.submission())
	if code != http.StatusForbidden || body["error"] != "You are not allowed to do this." {
		t.Errorf("teacher submit = %d %v", code, body)
	}
}

func TestSubmitAndReviewFlow(t *testing.T) {
	ts := newTestServer(t, fixedScorer(4))
	student, teacher := ts.token("alice"), ts.token("teacher")

	code, body := ts.do(http.MethodPost, "/api/submissions", student, ts.submission())
	if code != http.StatusCreated {
		t.Fatalf("submit = %d %v", code, body)
	}
	if body["message"] != "Exam submitted and graded." || body["status"] != "COMPLETED" {
		t.Errorf("submit body = %v", body)
	}
	prelim, _ := body["preliminaryScore"].(map[string]any)
	if prelim["score"] != 9.0 || prelim["maxScore"] != 10.0 || prelim["percentage"] != 90.0 {
		t.Errorf("preliminaryScore = %v", prelim)
	}
	attemptID, _ := body["attemptId"].(string)
	gradePath := "/api/attempts/" + attemptID + "/grade"

	again := ts.submission()
	again["attemptId"] = attemptID
	code, body = ts.do(http.MethodPost, "/api/submissions", student, again)
	if code != http.StatusBadRequest || body["error"] != "This attempt has already been submitted." {
		t.Errorf("resubmit = %d %v", code, body)
	}

	code, body = ts.do(http.MethodGet, gradePath, student, nil)
	if code != http.StatusOK || body["displayStatus"] != "pending review" {
		t.Fatalf("student view = %d %v", code, body)
	}
	if _, ok := body["totalScore"]; ok {
		t.Errorf("student sees totalScore before publish: %v", body)
	}

	if code, _ := ts.do(http.MethodPost, "/api/attempts/"+attemptID+"/publish", student, nil); code != http.StatusForbidden {
		t.Errorf("student publish = %d", code)
	}

	code, body = ts.do(http.MethodPost, gradePath, teacher, map[string]any{"totalScore": -1})
	if code != http.StatusBadRequest {
		t.Fatalf("negative score = %d %v", code, body)
	}
	if fields, _ := body["fields"].([]any); len(fields) != 1 {
		t.Errorf("fields = %v", body["fields"])
	}

	code, body = ts.do(http.MethodPost, gradePath, teacher, map[string]any{"totalScore": 8, "feedback": "Nice"})
	if code != http.StatusOK || body["is_published"] != true || body["grade"] != "B" {
		t.Fatalf("grade = %d %v", code, body)
	}

	code, body = ts.do(http.MethodGet, gradePath, student, nil)
	if code != http.StatusOK || body["totalScore"] != 8.0 || body["displayStatus"] != "published" {
		t.Errorf("published student view = %d %v", code, body)
	}
}

func TestSubmitPendingReviewMessage(t *testing.T) {
	ts := newTestServer(t, nil)
	code, body := ts.do(http.MethodPost, "/api/submissions", ts.token("alice"), ts.submission())
	if code != http.StatusCreated {
		t.Fatalf("submit = %d %v", code, body)
	}
	msg, _ := body["message"].(string)
	if !strings.Contains(msg, "1 answer will be reviewed") || body["status"] != "PENDING" {
		t.Errorf("body = %v", body)
	}

	attemptID, _ := body["attemptId"].(string)
	code, body = ts.do(http.MethodPost, "/api/attempts/"+attemptID+"/publish", ts.token("teacher"), nil)
	if code != http.StatusBadRequest {
		t.Errorf("publish pending = %d %v", code, body)
	}
}

func TestErrorStatuses(t *testing.T) {
	ts := newTestServer(t, nil)
	student := ts.token("alice")

	code, body := ts.do(http.MethodGet, "/api/attempts/missing/grade", student, nil)
	if code != http.StatusNotFound || body["error"] != "Not found." {
		t.Errorf("missing attempt = %d %v", code, body)
	}

	code, body = ts.do(http.MethodPost, "/api/submissions", student, map[string]any{"examId": "missing"})
	if code != http.StatusNotFound {
		t.Errorf("missing exam = %d %v", code, body)
	}

	code, body = ts.do(http.MethodPost, "/api/submissions", student, map[string]any{"answers": []any{}})
	if code != http.StatusBadRequest || body["error"] != "The request is invalid." {
		t.Errorf("missing examId = %d %v", code, body)
	}

	code, _ = ts.do(http.MethodPost, "/api/submissions", student, map[string]any{"examId": ts.exam.ID, "bogus": 1})
	if code != http.StatusBadRequest {
		t.Errorf("unknown field = %d", code)
	}
}

func TestMessageID(t *testing.T) {
	ts := newTestServer(t, nil)
	other := &model.Exam{Title: "Unassigned", CreatedBy: ts.users["teacher"].ID,
		Questions: []model.Question{{Type: model.QuestionEssay, Text: "?", Marks: 1}}}
	if err := ts.store.CreateExam(context.Background(), other); err != nil {
		t.Fatalf("CreateExam: %v", err)
	}
	code, body := ts.do(http.MethodPost, "/api/submissions", ts.token("alice"), map[string]any{"examId": other.ID})
	if code != http.StatusForbidden || body["error"] != "This exam is not assigned to you." {
		t.Errorf("not assigned = %d %v", code, body)
	}
}
