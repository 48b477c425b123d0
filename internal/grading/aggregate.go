package grading

import (
	"math"

	"github.com/pavelanni/examgrader/internal/apperr"
)

// ScoredItem is one question's contribution to an attempt total.
type ScoredItem struct {
	FinalScore float64
	Marks      int
}

// Summary is the aggregated score of an attempt.
type Summary struct {
	TotalScore float64
	MaxScore   int
	Percentage int
	Letter     string
}

// Aggregate sums per-question scores and derives percentage and letter.
// An exam worth zero marks cannot be graded.
func Aggregate(items []ScoredItem) (Summary, error) {
	var s Summary
	for _, it := range items {
		s.TotalScore += it.FinalScore
		s.MaxScore += it.Marks
	}
	pct, err := Percentage(s.TotalScore, s.MaxScore)
	if err != nil {
		return Summary{}, err
	}
	s.Percentage = pct
	s.Letter = LetterFor(pct)
	return s, nil
}

// Percentage returns round(100 * total / maxScore).
func Percentage(total float64, maxScore int) (int, error) {
	if maxScore <= 0 {
		return 0, apperr.Config("exam has no marks to grade against (max score %d)", maxScore)
	}
	return int(math.Round(100 * total / float64(maxScore))), nil
}

// LetterFor maps a percentage to a letter grade.
func LetterFor(percentage int) string {
	switch {
	case percentage >= 90:
		return "A"
	case percentage >= 80:
		return "B"
	case percentage >= 70:
		return "C"
	case percentage >= 60:
		return "D"
	default:
		return "F"
	}
}

// SummarizeResults aggregates graded results.
func SummarizeResults(results []Result) (Summary, error) {
	items := make([]ScoredItem, len(results))
	for i, r := range results {
		items[i] = ScoredItem{FinalScore: r.Score, Marks: r.Marks}
	}
	return Aggregate(items)
}
