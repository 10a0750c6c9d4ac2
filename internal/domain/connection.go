package domain

import (
	"context"

	"github.com/google/uuid"
)

// Subscriber is the delivery endpoint of one live connection.
// Deliver must not block; it returns false when the event was dropped
// (for example because the connection's send queue is full).
type Subscriber interface {
	Deliver(event Event) bool
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(event Event) bool

func (f SubscriberFunc) Deliver(event Event) bool { return f(event) }

// Deduplicator is the admission filter guarding answer submissions.
// Admit returns true exactly once per fingerprint within the dedup window.
// It may block on I/O; the event bus calls it outside its goroutine.
type Deduplicator interface {
	Admit(ctx context.Context, fingerprint string) (bool, error)
}

// Stats is a consistent snapshot of the core's stores.
type Stats struct {
	Connections      int `json:"connections"`
	Topics           int `json:"topics"`
	Questions        int `json:"questions"`
	Answers          int `json:"answers"`
	ProcessedAnswers int `json:"processedAnswers"`
}

// EventBus is the command surface the transports drive.
type EventBus interface {
	Connect(ctx context.Context, sub Subscriber) (uuid.UUID, error)
	Disconnect(ctx context.Context, connID uuid.UUID) error
	PublishQuestion(ctx context.Context, draft QuestionDraft) (Question, error)
	PostAnswer(ctx context.Context, questionID int64, draft AnswerDraft) (Answer, bool, error)
	VoteQuestion(ctx context.Context, questionID int64, dir Direction) (int64, bool, error)
	VoteAnswer(ctx context.Context, answerID int64, dir Direction) (int64, bool, error)
	JoinTopic(ctx context.Context, connID uuid.UUID, questionID int64) error
	LeaveTopic(ctx context.Context, connID uuid.UUID, questionID int64) error
}

// ReadModel is the plain-read surface served without entering the bus.
type ReadModel interface {
	Stats() Stats
	ListQuestions(offset, limit int) []Question
	QuestionWithAnswers(id int64) (QuestionWithAnswers, error)
	AnswersFor(questionID int64) []Answer
}
