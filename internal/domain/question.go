package domain

import "time"

// Author describes who wrote a question or answer. The core treats it as an
// opaque descriptor supplied by the caller; only Name takes part in fingerprints.
type Author struct {
	Name       string   `json:"name"`
	Avatar     string   `json:"avatar,omitempty"`
	Reputation int      `json:"reputation"`
	JoinDate   string   `json:"joinDate,omitempty"`
	Badges     []string `json:"badges,omitempty"`
}

type Question struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags"`
	Author      Author    `json:"author"`
	Votes       int64     `json:"votes"`
	Views       int64     `json:"views"`
	CreatedAt   time.Time `json:"createdAt"`
}

// QuestionDraft is the caller-supplied part of a question.
type QuestionDraft struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Author      Author   `json:"author"`
}

// QuestionWithAnswers is the read model served for a single question page.
type QuestionWithAnswers struct {
	Question Question `json:"question"`
	Answers  []Answer `json:"answers"`
}
