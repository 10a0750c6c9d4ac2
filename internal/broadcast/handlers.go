package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pscheid92/askpulse/internal/domain"
	"github.com/pscheid92/askpulse/internal/notify"
)

// Handlers return the result label recorded in the command metrics.
// Every handler validates before it mutates, then commits, then emits.

func (b *Bus) handleConnect(c connectCmd) string {
	if c.subscriber == nil {
		c.reply <- connectResult{err: fmt.Errorf("%w: nil subscriber", domain.ErrInvalidCommand)}
		return "invalid"
	}

	connID := b.presence.Connect(c.subscriber)
	count := b.presence.Count()
	b.metrics.Connections.Set(float64(count))

	slog.InfoContext(c.ctx, "User connected", "conn_id", connID.String(), "active_users", count)
	b.broadcastAll(c.ctx, domain.Event{Type: domain.EventPresenceCount, Data: domain.PresenceCount{Count: count}})

	c.reply <- connectResult{connID: connID}
	return "ok"
}

func (b *Bus) handleDisconnect(c disconnectCmd) string {
	removed := b.presence.Disconnect(c.connID)
	purged := b.topics.Purge(c.connID)

	if !removed {
		c.reply <- nil
		return "noop"
	}

	count := b.presence.Count()
	b.metrics.Connections.Set(float64(count))

	slog.InfoContext(c.ctx, "User disconnected", "conn_id", c.connID.String(), "topics_left", purged, "active_users", count)
	b.broadcastAll(c.ctx, domain.Event{Type: domain.EventPresenceCount, Data: domain.PresenceCount{Count: count}})

	c.reply <- nil
	return "ok"
}

func (b *Bus) handlePublishQuestion(c publishQuestionCmd) string {
	if strings.TrimSpace(c.draft.Title) == "" {
		c.reply <- questionResult{err: fmt.Errorf("%w: question title is required", domain.ErrInvalidCommand)}
		return "invalid"
	}

	q := b.questions.Create(c.draft, b.clock.Now())
	b.votes.Track(domain.Target{Kind: domain.TargetQuestion, ID: q.ID})

	slog.InfoContext(c.ctx, "Question published", "question_id", q.ID, "author", q.Author.Name)

	event := domain.Event{Type: domain.EventNewQuestion, Data: q}
	b.broadcastAll(c.ctx, event)
	b.notify(c.ctx, event)

	c.reply <- questionResult{question: q}
	return "ok"
}

func (b *Bus) handlePostAnswer(c postAnswerCmd) string {
	if strings.TrimSpace(c.draft.Content) == "" {
		c.reply <- answerResult{err: fmt.Errorf("%w: answer content is required", domain.ErrInvalidCommand)}
		return "invalid"
	}

	// Unchecked means the question was unknown when the answer was submitted.
	// Questions are never deleted, so one that existed at admission still exists.
	if c.verdict == verdictUnchecked || !b.questions.Exists(c.questionID) {
		slog.WarnContext(c.ctx, "Answer for unknown question dropped", "question_id", c.questionID)
		c.reply <- answerResult{}
		return "not_found"
	}

	if c.verdict == verdictDuplicate {
		slog.InfoContext(c.ctx, "Duplicate answer detected, skipping", "question_id", c.questionID, "fingerprint", c.fingerprint)
		c.reply <- answerResult{}
		return "duplicate"
	}

	a := b.answers.Create(c.questionID, c.draft, c.fingerprint, b.clock.Now())
	b.votes.Track(domain.Target{Kind: domain.TargetAnswer, ID: a.ID})

	slog.InfoContext(c.ctx, "Answer posted", "question_id", c.questionID, "answer_id", a.ID, "author", a.Author.Name)

	// Topic members receive new_answer twice: once scoped, once global.
	// Consumers dedup by answer id.
	event := domain.Event{Type: domain.EventNewAnswer, Data: domain.NewAnswer{QuestionID: c.questionID, Answer: a}}
	b.broadcastTopic(c.ctx, c.questionID, event)
	b.broadcastAll(c.ctx, event)
	b.notify(c.ctx, event)

	c.reply <- answerResult{answer: a, accepted: true}
	return "ok"
}

// admit consults the deduplicator. Errors fail open: a lost duplicate check
// is preferable to dropping a legitimate answer.
func (b *Bus) admit(ctx context.Context, fingerprint string) verdict {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dedupTimeout)
	defer cancel()

	ok, err := b.dedup.Admit(ctx, fingerprint)
	if err != nil {
		slog.WarnContext(ctx, "Dedup check failed, admitting answer", "fingerprint", fingerprint, "error", err)
		return verdictAdmitted
	}
	if !ok {
		return verdictDuplicate
	}
	return verdictAdmitted
}

func (b *Bus) release(ctx context.Context, fingerprint string) {
	r, ok := b.dedup.(releaser)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dedupTimeout)
	defer cancel()
	if err := r.Release(ctx, fingerprint); err != nil {
		slog.WarnContext(ctx, "Failed to release answer fingerprint", "fingerprint", fingerprint, "error", err)
	}
}

func (b *Bus) handleVote(c voteCmd) string {
	total, err := b.votes.Apply(c.target, c.direction)
	switch {
	case errors.Is(err, domain.ErrTargetNotFound):
		slog.WarnContext(c.ctx, "Vote for unknown target dropped", "target", c.target.String())
		c.reply <- voteResult{}
		return "not_found"
	case err != nil:
		c.reply <- voteResult{err: err}
		return "invalid"
	}

	slog.DebugContext(c.ctx, "Vote applied", "target", c.target.String(), "direction", string(c.direction), "total", total)
	b.broadcastAll(c.ctx, domain.Event{
		Type: domain.EventVoteUpdated,
		Data: domain.VoteUpdate{Kind: c.target.Kind, ID: c.target.ID, Votes: total},
	})

	c.reply <- voteResult{total: total, applied: true}
	return "ok"
}

func (b *Bus) handleJoinTopic(c joinTopicCmd) string {
	if !b.presence.Contains(c.connID) {
		slog.DebugContext(c.ctx, "Join from unknown connection ignored", "conn_id", c.connID.String(), "question_id", c.questionID)
		c.reply <- nil
		return "unknown_connection"
	}

	if b.topics.Join(c.connID, c.questionID) {
		slog.DebugContext(c.ctx, "Joined question topic", "conn_id", c.connID.String(), "question_id", c.questionID)
	}
	c.reply <- nil
	return "ok"
}

func (b *Bus) handleLeaveTopic(c leaveTopicCmd) string {
	if b.topics.Leave(c.connID, c.questionID) {
		slog.DebugContext(c.ctx, "Left question topic", "conn_id", c.connID.String(), "question_id", c.questionID)
		c.reply <- nil
		return "ok"
	}
	c.reply <- nil
	return "noop"
}

func (b *Bus) notify(ctx context.Context, event domain.Event) {
	n, ok := notify.Synthesize(event)
	if !ok {
		return
	}
	b.broadcastAll(ctx, domain.Event{Type: domain.EventNotification, Data: n})
}
