package domain

import (
	"strconv"
	"time"
)

type Comment struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Answer struct {
	ID          int64     `json:"id"`
	QuestionID  int64     `json:"questionId"`
	Content     string    `json:"content"`
	Author      Author    `json:"author"`
	Votes       int64     `json:"votes"`
	Accepted    bool      `json:"accepted"`
	Comments    []Comment `json:"comments"`
	Fingerprint string    `json:"uniqueId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AnswerDraft is the caller-supplied part of an answer. SubmittedAt is the
// caller-visible submission instant; when zero or not after the epoch the bus uses its own clock.
type AnswerDraft struct {
	Content     string    `json:"content"`
	Author      Author    `json:"author"`
	SubmittedAt time.Time `json:"submittedAt,omitzero"`
}

// Fingerprint derives the idempotency key of an answer submission from the
// topic, the author's identity and the submission instant (millisecond precision).
// The answer content is not part of the key. submittedAt must lie after the epoch;
// a negative millisecond value would make author names ending in "-" ambiguous.
func Fingerprint(questionID int64, authorName string, submittedAt time.Time) string {
	return strconv.FormatInt(questionID, 10) + "-" + authorName + "-" + strconv.FormatInt(submittedAt.UnixMilli(), 10)
}
