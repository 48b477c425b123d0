package grading

import "github.com/pavelanni/examgrader/internal/model"

// StrategyFor decides automation eligibility for a question type. It is the
// only place that does; graders never inspect question types themselves.
// Unknown types are left for a human.
func StrategyFor(t model.QuestionType) model.Strategy {
	switch t {
	case model.QuestionMultipleChoice, model.QuestionTrueFalse, model.QuestionMultipleSelect:
		return model.StrategyObjective
	case model.QuestionShortAnswer, model.QuestionLongAnswer, model.QuestionFillBlanks:
		return model.StrategyAssisted
	case model.QuestionEssay, model.QuestionFileUpload:
		return model.StrategyManualOnly
	default:
		return model.StrategyManualOnly
	}
}
