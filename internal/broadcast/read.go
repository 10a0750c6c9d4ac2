package broadcast

import (
	"fmt"

	"github.com/pscheid92/askpulse/internal/domain"
)

// Stats returns the snapshot taken after the most recent command.
func (b *Bus) Stats() domain.Stats {
	return *b.stats.Load()
}

// ListQuestions returns a page of questions, newest first, with current vote totals.
func (b *Bus) ListQuestions(offset, limit int) []domain.Question {
	questions := b.questions.List(offset, limit)
	for i := range questions {
		questions[i].Votes = b.total(domain.TargetQuestion, questions[i].ID)
	}
	return questions
}

// QuestionWithAnswers returns a question and its answers in posting order.
func (b *Bus) QuestionWithAnswers(id int64) (domain.QuestionWithAnswers, error) {
	q, ok := b.questions.Get(id)
	if !ok {
		return domain.QuestionWithAnswers{}, fmt.Errorf("%w: %d", domain.ErrQuestionNotFound, id)
	}
	q.Votes = b.total(domain.TargetQuestion, id)
	return domain.QuestionWithAnswers{Question: q, Answers: b.AnswersFor(id)}, nil
}

// AnswersFor returns the answers of a question in posting order, empty for unknown questions.
func (b *Bus) AnswersFor(questionID int64) []domain.Answer {
	answers := b.answers.ForQuestion(questionID)
	for i := range answers {
		answers[i].Votes = b.total(domain.TargetAnswer, answers[i].ID)
	}
	return answers
}

func (b *Bus) total(kind domain.TargetKind, id int64) int64 {
	total, _ := b.votes.Total(domain.Target{Kind: kind, ID: id})
	return total
}
