package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/askpulse/internal/adapter/metrics"
	"github.com/pscheid92/askpulse/internal/domain"
	"github.com/pscheid92/askpulse/internal/forum"
	"github.com/pscheid92/askpulse/internal/presence"
	"github.com/pscheid92/askpulse/internal/topic"
	"github.com/pscheid92/askpulse/internal/vote"
)

const (
	commandTimeout   = 5 * time.Second  // Caller-side wait for a reply
	stopTimeout      = 10 * time.Second // Graceful shutdown timeout
	dedupTimeout     = 2 * time.Second  // Bound on a remote admission check, taken off the actor
	depthInterval    = 1 * time.Second
	DefaultQueueSize = 256
)

// sweeper is implemented by deduplicators that keep local state the bus must expire.
type sweeper interface {
	Sweep() int
}

// releaser is implemented by deduplicators that can give back a claim.
type releaser interface {
	Release(ctx context.Context, fingerprint string) error
}

type sizer interface {
	Len() int
}

// Bus is the event bus actor. All mutations of the shared stores happen on its goroutine,
// in the order commands were accepted from the queue.
type Bus struct {
	cmdCh         chan busCmd
	done          chan struct{}
	stopOnce      sync.Once
	clock         clockwork.Clock
	presence      *presence.Registry
	topics        *topic.Table
	questions     *forum.QuestionStore
	answers       *forum.AnswerStore
	votes         *vote.Aggregator
	dedup         domain.Deduplicator
	metrics       *metrics.BusMetrics
	stats         atomic.Pointer[domain.Stats]
	stopTimeout   time.Duration
	sweepInterval time.Duration
}

// NewBus creates the bus and starts its goroutine.
// dedup guards answer submissions; when it also implements Sweep() the bus expires it every sweepInterval.
// queueSize bounds the command queue; callers block (up to their context) once it is full.
func NewBus(dedup domain.Deduplicator, m *metrics.BusMetrics, clock clockwork.Clock, queueSize int, sweepInterval time.Duration) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	b := &Bus{
		cmdCh:         make(chan busCmd, queueSize),
		done:          make(chan struct{}),
		clock:         clock,
		presence:      presence.NewRegistry(),
		topics:        topic.NewTable(),
		questions:     forum.NewQuestionStore(),
		answers:       forum.NewAnswerStore(),
		votes:         vote.NewAggregator(),
		dedup:         dedup,
		metrics:       m,
		stopTimeout:   stopTimeout,
		sweepInterval: sweepInterval,
	}
	b.publishStats()
	go b.run()
	return b
}

// Connect registers a live connection. The subscriber receives the presence_count emitted by this very command.
func (b *Bus) Connect(ctx context.Context, sub domain.Subscriber) (uuid.UUID, error) {
	reply := make(chan connectResult, 1)
	res, err := send(ctx, b, connectCmd{baseCmd: baseCmd{ctx}, subscriber: sub, reply: reply}, reply)
	if err != nil {
		return uuid.Nil, err
	}
	return res.connID, res.err
}

// Disconnect removes a connection and purges its topic memberships. Idempotent.
func (b *Bus) Disconnect(ctx context.Context, connID uuid.UUID) error {
	reply := make(chan error, 1)
	res, err := send(ctx, b, disconnectCmd{baseCmd: baseCmd{ctx}, connID: connID, reply: reply}, reply)
	if err != nil {
		return err
	}
	return res
}

// PublishQuestion stores a new question and announces it to every connection.
func (b *Bus) PublishQuestion(ctx context.Context, draft domain.QuestionDraft) (domain.Question, error) {
	reply := make(chan questionResult, 1)
	res, err := send(ctx, b, publishQuestionCmd{baseCmd: baseCmd{ctx}, draft: draft, reply: reply}, reply)
	if err != nil {
		return domain.Question{}, err
	}
	return res.question, res.err
}

// PostAnswer stores an answer unless its fingerprint was already admitted within the dedup window
// or the question does not exist. The bool reports whether the answer was accepted.
//
// The admission check runs on the caller's goroutine so a slow shared store never stalls the actor.
// A claim whose command definitely did not commit is released again.
func (b *Bus) PostAnswer(ctx context.Context, questionID int64, draft domain.AnswerDraft) (domain.Answer, bool, error) {
	cmd := postAnswerCmd{baseCmd: baseCmd{ctx}, questionID: questionID, draft: draft, reply: make(chan answerResult, 1)}

	if strings.TrimSpace(draft.Content) != "" && b.questions.Exists(questionID) {
		submittedAt := draft.SubmittedAt
		if submittedAt.UnixMilli() <= 0 {
			submittedAt = b.clock.Now()
		}
		cmd.fingerprint = domain.Fingerprint(questionID, draft.Author.Name, submittedAt)
		cmd.verdict = b.admit(ctx, cmd.fingerprint)
	}

	res, err := send(ctx, b, cmd, cmd.reply)
	// A timed-out or cancelled command may still commit, so only a definite no gives the claim back.
	notCommitted := errors.Is(err, domain.ErrBusStopped) || (err == nil && !res.accepted)
	if cmd.verdict == verdictAdmitted && notCommitted {
		b.release(ctx, cmd.fingerprint)
	}
	if err != nil {
		return domain.Answer{}, false, err
	}
	return res.answer, res.accepted, res.err
}

// VoteQuestion applies a vote to a question. The bool is false when the question does not exist.
func (b *Bus) VoteQuestion(ctx context.Context, questionID int64, dir domain.Direction) (int64, bool, error) {
	return b.vote(ctx, domain.Target{Kind: domain.TargetQuestion, ID: questionID}, dir)
}

// VoteAnswer applies a vote to an answer. The bool is false when the answer does not exist.
func (b *Bus) VoteAnswer(ctx context.Context, answerID int64, dir domain.Direction) (int64, bool, error) {
	return b.vote(ctx, domain.Target{Kind: domain.TargetAnswer, ID: answerID}, dir)
}

func (b *Bus) vote(ctx context.Context, target domain.Target, dir domain.Direction) (int64, bool, error) {
	reply := make(chan voteResult, 1)
	res, err := send(ctx, b, voteCmd{baseCmd: baseCmd{ctx}, target: target, direction: dir, reply: reply}, reply)
	if err != nil {
		return 0, false, err
	}
	return res.total, res.applied, res.err
}

// JoinTopic subscribes a connection to the discussion of a question.
func (b *Bus) JoinTopic(ctx context.Context, connID uuid.UUID, questionID int64) error {
	reply := make(chan error, 1)
	res, err := send(ctx, b, joinTopicCmd{baseCmd: baseCmd{ctx}, connID: connID, questionID: questionID, reply: reply}, reply)
	if err != nil {
		return err
	}
	return res
}

// LeaveTopic unsubscribes a connection from the discussion of a question.
func (b *Bus) LeaveTopic(ctx context.Context, connID uuid.UUID, questionID int64) error {
	reply := make(chan error, 1)
	res, err := send(ctx, b, leaveTopicCmd{baseCmd: baseCmd{ctx}, connID: connID, questionID: questionID, reply: reply}, reply)
	if err != nil {
		return err
	}
	return res
}

// Stop shuts down the bus goroutine. Commands sent afterwards fail with domain.ErrBusStopped.
// Blocks until the goroutine has exited or the stop timeout is reached.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		select {
		case b.cmdCh <- stopCmd{baseCmd: baseCmd{context.Background()}}:
		case <-b.done:
			return
		}

		timeout := b.clock.NewTimer(b.stopTimeout)
		defer timeout.Stop()

		select {
		case <-b.done:
			slog.Info("Event bus stopped gracefully")
		case <-timeout.Chan():
			slog.Warn("Event bus stop timeout exceeded", "timeout", b.stopTimeout, "queued_commands", len(b.cmdCh))
		}
	})
}

// send enqueues cmd and waits for its reply.
// A full queue blocks the caller until ctx is done; no command is ever silently discarded.
func send[R any](ctx context.Context, b *Bus, cmd busCmd, reply <-chan R) (R, error) {
	var zero R

	select {
	case b.cmdCh <- cmd:
	case <-b.done:
		return zero, domain.ErrBusStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	timer := b.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case res := <-reply:
		return res, nil
	case <-b.done:
		// The stop command may have raced ahead of ours; a reply could still be buffered.
		select {
		case res := <-reply:
			return res, nil
		default:
			return zero, domain.ErrBusStopped
		}
	case <-timer.Chan():
		return zero, fmt.Errorf("%w: %s after %v", domain.ErrCommandTimeout, cmd.name(), commandTimeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (b *Bus) run() {
	defer close(b.done)

	depthTicker := b.clock.NewTicker(depthInterval)
	defer depthTicker.Stop()

	var sweepCh <-chan time.Time
	if _, ok := b.dedup.(sweeper); ok && b.sweepInterval > 0 {
		sweepTicker := b.clock.NewTicker(b.sweepInterval)
		defer sweepTicker.Stop()
		sweepCh = sweepTicker.Chan()
	}

	for {
		select {
		case <-depthTicker.Chan():
			depth := len(b.cmdCh)
			b.metrics.QueueDepth.Set(float64(depth))
			if depth > cap(b.cmdCh)*4/5 {
				slog.Warn("Command queue near capacity", "depth", depth, "capacity", cap(b.cmdCh))
			}

		case <-sweepCh:
			b.sweepDedup()

		case cmd := <-b.cmdCh:
			if _, ok := cmd.(stopCmd); ok {
				slog.Info("Event bus shutting down",
					"connections", b.presence.Count(),
					"queued_commands", len(b.cmdCh),
				)
				b.drain()
				return
			}
			b.dispatch(cmd)
		}
	}
}

// drain fails every command still queued behind the stop command.
func (b *Bus) drain() {
	for {
		select {
		case cmd := <-b.cmdCh:
			cmd.fail(domain.ErrBusStopped)
		default:
			return
		}
	}
}

// dispatch runs one command to completion. A panicking handler is recovered,
// the caller receives domain.ErrCommandFailed and the loop keeps serving.
func (b *Bus) dispatch(cmd busCmd) {
	start := b.clock.Now()
	name := cmd.name()
	result := "ok"

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(cmd.context(), "Event bus command panic recovered", "command", name, "panic", r)
			b.metrics.PanicsTotal.Inc()
			result = "panic"
			cmd.fail(fmt.Errorf("%w: %s", domain.ErrCommandFailed, name))
		}
		b.metrics.CommandsTotal.WithLabelValues(name, result).Inc()
		b.metrics.CommandDuration.WithLabelValues(name).Observe(b.clock.Since(start).Seconds())
		b.publishStats()
	}()

	switch c := cmd.(type) {
	case connectCmd:
		result = b.handleConnect(c)
	case disconnectCmd:
		result = b.handleDisconnect(c)
	case publishQuestionCmd:
		result = b.handlePublishQuestion(c)
	case postAnswerCmd:
		result = b.handlePostAnswer(c)
	case voteCmd:
		result = b.handleVote(c)
	case joinTopicCmd:
		result = b.handleJoinTopic(c)
	case leaveTopicCmd:
		result = b.handleLeaveTopic(c)
	default:
		slog.Warn("Event bus received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
		result = "unknown"
	}
}

func (b *Bus) sweepDedup() {
	s, ok := b.dedup.(sweeper)
	if !ok {
		return
	}
	if n := s.Sweep(); n > 0 {
		slog.Debug("Dedup entries expired", "count", n)
	}
	b.publishStats()
}

// publishStats stores a fresh snapshot. Only the bus goroutine (and NewBus) call it,
// so the snapshot always reflects a state between two commands.
func (b *Bus) publishStats() {
	processed := 0
	if s, ok := b.dedup.(sizer); ok {
		processed = s.Len()
	}
	b.stats.Store(&domain.Stats{
		Connections:      b.presence.Count(),
		Topics:           b.topics.Len(),
		Questions:        b.questions.Len(),
		Answers:          b.answers.Len(),
		ProcessedAnswers: processed,
	})
}
