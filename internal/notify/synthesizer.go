// Package notify derives user-facing notifications from domain events.
package notify

import (
	"fmt"

	"github.com/pscheid92/askpulse/internal/domain"
)

// Synthesize derives the notification for an emitted domain event.
// Only new_question and new_answer produce one. The result depends on the event alone.
func Synthesize(event domain.Event) (domain.Notification, bool) {
	switch event.Type {
	case domain.EventNewQuestion:
		q, ok := event.Data.(domain.Question)
		if !ok {
			return domain.Notification{}, false
		}
		return FromQuestion(q), true
	case domain.EventNewAnswer:
		na, ok := event.Data.(domain.NewAnswer)
		if !ok {
			return domain.Notification{}, false
		}
		return FromAnswer(na.QuestionID, na.Answer), true
	default:
		return domain.Notification{}, false
	}
}

func FromQuestion(q domain.Question) domain.Notification {
	return domain.Notification{
		Kind:       domain.NotificationQuestion,
		Title:      q.Title,
		Author:     q.Author.Name,
		QuestionID: q.ID,
		Timestamp:  q.CreatedAt,
	}
}

func FromAnswer(questionID int64, a domain.Answer) domain.Notification {
	return domain.Notification{
		Kind:       domain.NotificationAnswer,
		Title:      fmt.Sprintf("New answer for question #%d", questionID),
		Author:     a.Author.Name,
		QuestionID: questionID,
		Timestamp:  a.CreatedAt,
	}
}
