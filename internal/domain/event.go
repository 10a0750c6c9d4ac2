package domain

import "time"

// EventType names an event emitted to subscribers.
type EventType string

const (
	EventNewQuestion   EventType = "new_question"
	EventNewAnswer     EventType = "new_answer"
	EventVoteUpdated   EventType = "vote_updated"
	EventNotification  EventType = "notification"
	EventPresenceCount EventType = "presence_count"
	EventError         EventType = "error"
)

// Event is one emission. Data holds the typed payload for Type:
//
//	new_question   -> Question
//	new_answer     -> NewAnswer
//	vote_updated   -> VoteUpdate
//	notification   -> Notification
//	presence_count -> PresenceCount
//	error          -> ErrorMessage
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

type NewAnswer struct {
	QuestionID int64  `json:"questionId"`
	Answer     Answer `json:"answer"`
}

type VoteUpdate struct {
	Kind  TargetKind `json:"type"`
	ID    int64      `json:"id"`
	Votes int64      `json:"votes"`
}

type PresenceCount struct {
	Count int `json:"count"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

// NotificationKind is the domain event a notification was derived from.
type NotificationKind string

const (
	NotificationQuestion NotificationKind = "question"
	NotificationAnswer   NotificationKind = "answer"
)

// Notification is ephemeral: created and delivered within one fanout cycle.
type Notification struct {
	Kind       NotificationKind `json:"type"`
	Title      string           `json:"title"`
	Author     string           `json:"author"`
	QuestionID int64            `json:"questionId"`
	Timestamp  time.Time        `json:"timestamp"`
}
