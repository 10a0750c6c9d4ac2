package broadcast

import (
	"context"

	"github.com/google/uuid"
	"github.com/pscheid92/askpulse/internal/domain"
)

// busCmd is the command interface for the Bus actor.
// fail delivers an error reply unless one was already sent, so a caller never waits
// for the timeout when a handler panics.
type busCmd interface {
	name() string
	context() context.Context
	fail(err error)
}

type baseCmd struct {
	ctx context.Context
}

func (c baseCmd) context() context.Context { return c.ctx }

type connectCmd struct {
	baseCmd
	subscriber domain.Subscriber
	reply      chan connectResult
}

type connectResult struct {
	connID uuid.UUID
	err    error
}

func (connectCmd) name() string { return "connect" }
func (c connectCmd) fail(err error) {
	select {
	case c.reply <- connectResult{err: err}:
	default:
	}
}

type disconnectCmd struct {
	baseCmd
	connID uuid.UUID
	reply  chan error
}

func (disconnectCmd) name() string { return "disconnect" }
func (c disconnectCmd) fail(err error) {
	select {
	case c.reply <- err:
	default:
	}
}

type publishQuestionCmd struct {
	baseCmd
	draft domain.QuestionDraft
	reply chan questionResult
}

type questionResult struct {
	question domain.Question
	err      error
}

func (publishQuestionCmd) name() string { return "publish_question" }
func (c publishQuestionCmd) fail(err error) {
	select {
	case c.reply <- questionResult{err: err}:
	default:
	}
}

type postAnswerCmd struct {
	baseCmd
	questionID  int64
	draft       domain.AnswerDraft
	fingerprint string
	verdict     verdict
	reply       chan answerResult
}

// verdict is the admission decision taken before a post_answer command is enqueued.
type verdict int

const (
	verdictUnchecked verdict = iota // never admitted: empty content or unknown question
	verdictAdmitted
	verdictDuplicate
)

type answerResult struct {
	answer   domain.Answer
	accepted bool
	err      error
}

func (postAnswerCmd) name() string { return "post_answer" }
func (c postAnswerCmd) fail(err error) {
	select {
	case c.reply <- answerResult{err: err}:
	default:
	}
}

type voteCmd struct {
	baseCmd
	target    domain.Target
	direction domain.Direction
	reply     chan voteResult
}

type voteResult struct {
	total   int64
	applied bool
	err     error
}

func (c voteCmd) name() string { return "vote_" + string(c.target.Kind) }
func (c voteCmd) fail(err error) {
	select {
	case c.reply <- voteResult{err: err}:
	default:
	}
}

type joinTopicCmd struct {
	baseCmd
	connID     uuid.UUID
	questionID int64
	reply      chan error
}

func (joinTopicCmd) name() string { return "join_topic" }
func (c joinTopicCmd) fail(err error) {
	select {
	case c.reply <- err:
	default:
	}
}

type leaveTopicCmd struct {
	baseCmd
	connID     uuid.UUID
	questionID int64
	reply      chan error
}

func (leaveTopicCmd) name() string { return "leave_topic" }
func (c leaveTopicCmd) fail(err error) {
	select {
	case c.reply <- err:
	default:
	}
}

type stopCmd struct {
	baseCmd
}

func (stopCmd) name() string { return "stop" }
func (stopCmd) fail(_ error) {}
