package grading

import (
	"encoding/json"
	"slices"
)

const feedbackCorrect = "Correct answer!"

// ObjectiveResult is the deterministic outcome of an exact-match comparison.
type ObjectiveResult struct {
	Score    float64
	Correct  bool
	Feedback string
}

// GradeObjective compares a student response to the correct answer with
// case-sensitive exact matching. Multi-valued answers must match as sets;
// there is no partial credit. It performs no I/O.
func GradeObjective(resp Response, correctAnswer json.RawMessage, marks int) ObjectiveResult {
	want, err := DecodeResponse(correctAnswer)
	if err != nil || resp == nil {
		return incorrect(correctAnswer)
	}
	if matches(resp, want) {
		return ObjectiveResult{Score: float64(marks), Correct: true, Feedback: feedbackCorrect}
	}
	return incorrect(correctAnswer)
}

func incorrect(correctAnswer json.RawMessage) ObjectiveResult {
	return ObjectiveResult{
		Score:    0,
		Feedback: "Incorrect. The correct answer is: " + referenceText(correctAnswer),
	}
}

func matches(got, want Response) bool {
	switch w := want.(type) {
	case Scalar:
		g, ok := got.(Scalar)
		return ok && g == w
	case Set:
		switch g := got.(type) {
		case Set:
			return slices.Equal(g.normalized(), w.normalized())
		case Scalar:
			return slices.Equal(Set{string(g)}.normalized(), w.normalized())
		}
	}
	return false
}
