package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pavelanni/examgrader/internal/apperr"
)

// FeedbackPendingReview is recorded whenever no automated score could be produced.
const FeedbackPendingReview = "Pending manual review"

// ScoreContext carries optional hints for the scoring service.
type ScoreContext struct {
	Difficulty string `json:"difficulty,omitempty"`
	GradeLevel string `json:"gradeLevel,omitempty"`
}

// ScoreRequest is the fixed request contract of the assisted scoring service.
type ScoreRequest struct {
	QuestionID      string        `json:"-"`
	Question        string        `json:"question"`
	ReferenceAnswer string        `json:"referenceAnswer"`
	StudentAnswer   string        `json:"studentAnswer"`
	MaxMarks        int           `json:"maxMarks"`
	Context         *ScoreContext `json:"context,omitempty"`
}

// ScoreResponse is the fixed response schema of the assisted scoring service.
type ScoreResponse struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// Scorer is an external scoring service.
type Scorer interface {
	Score(ctx context.Context, req ScoreRequest) (ScoreResponse, error)
}

// NullScorer is used when no scoring service is configured. Every call
// fails, so every assisted question falls back to manual review.
type NullScorer struct{}

func (NullScorer) Score(context.Context, ScoreRequest) (ScoreResponse, error) {
	return ScoreResponse{}, apperr.External("score", apperr.ErrServiceUnavailable, false)
}

// RetryPolicy bounds how long the assisted grader waits on the scoring service.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	CallTimeout    time.Duration
}

// DefaultRetryPolicy allows one retry of a transient failure.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    2,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		CallTimeout:    20 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = d.InitialBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	if p.CallTimeout <= 0 {
		p.CallTimeout = d.CallTimeout
	}
	return p
}

// AssistedResult is the outcome of one assisted grading call.
type AssistedResult struct {
	Score    float64
	Feedback string
	// FellBack is true when the service could not produce a usable score.
	FellBack bool
	Err      error
}

// AssistedGrader delegates subjective scoring to a Scorer and never fails:
// any error becomes the pending-review fallback.
type AssistedGrader struct {
	scorer Scorer
	policy RetryPolicy
}

// NewAssistedGrader creates an AssistedGrader. A nil scorer behaves like NullScorer.
func NewAssistedGrader(s Scorer, p RetryPolicy) *AssistedGrader {
	if s == nil {
		s = NullScorer{}
	}
	return &AssistedGrader{scorer: s, policy: p.withDefaults()}
}

// Grade scores a single answer, clamping the score to [0, MaxMarks].
func (g *AssistedGrader) Grade(ctx context.Context, req ScoreRequest) AssistedResult {
	resp, err := g.scoreWithRetry(ctx, req)
	if err != nil {
		slog.Warn("assisted grading fell back to manual review",
			"question_id", req.QuestionID, "error", err)
		return AssistedResult{Feedback: FeedbackPendingReview, FellBack: true, Err: err}
	}
	return AssistedResult{
		Score:    clamp(resp.Score, req.MaxMarks),
		Feedback: resp.Feedback,
	}
}

func (g *AssistedGrader) scoreWithRetry(ctx context.Context, req ScoreRequest) (ScoreResponse, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = g.policy.InitialBackoff
	eb.MaxInterval = g.policy.MaxBackoff
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(g.policy.MaxAttempts-1)), ctx)

	attempt := 0
	op := func() (ScoreResponse, error) {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, g.policy.CallTimeout)
		defer cancel()

		resp, err := g.scorer.Score(callCtx, req)
		if err != nil {
			if ctx.Err() == nil && (apperr.IsTransient(err) || errors.Is(err, context.DeadlineExceeded)) {
				slog.Debug("scoring call failed, may retry",
					"question_id", req.QuestionID, "attempt", attempt, "error", err)
				return resp, err
			}
			return resp, backoff.Permanent(err)
		}
		if math.IsNaN(resp.Score) || math.IsInf(resp.Score, 0) {
			return resp, backoff.Permanent(
				apperr.External("score", fmt.Errorf("invalid score %v", resp.Score), false))
		}
		return resp, nil
	}
	return backoff.RetryWithData(op, b)
}

func clamp(score float64, marks int) float64 {
	if score < 0 {
		return 0
	}
	if m := float64(marks); score > m {
		return m
	}
	return score
}
