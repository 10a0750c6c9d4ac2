package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/askpulse/internal/adapter/metrics"
	"github.com/pscheid92/askpulse/internal/dedup"
	"github.com/pscheid92/askpulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a subscriber that keeps every delivered event.
type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Deliver(event domain.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return true
}

func (r *recorder) ofType(t domain.EventType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) presenceCounts() []int {
	var out []int
	for _, e := range r.ofType(domain.EventPresenceCount) {
		out = append(out, e.Data.(domain.PresenceCount).Count)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type dedupFunc func(ctx context.Context, fingerprint string) (bool, error)

func (f dedupFunc) Admit(ctx context.Context, fingerprint string) (bool, error) {
	return f(ctx, fingerprint)
}

func testBus(t *testing.T, clock clockwork.Clock) *Bus {
	t.Helper()
	return testBusWithDedup(t, clock, dedup.NewCache(dedup.DefaultWindow, clock))
}

func testBusWithDedup(t *testing.T, clock clockwork.Clock, d domain.Deduplicator) *Bus {
	t.Helper()
	m := metrics.NewBusMetrics(prometheus.NewRegistry())
	b := NewBus(d, m, clock, 16, 10*time.Second)
	t.Cleanup(b.Stop)
	return b
}

func connect(t *testing.T, b *Bus) (uuid.UUID, *recorder) {
	t.Helper()
	rec := &recorder{}
	id, err := b.Connect(context.Background(), rec)
	require.NoError(t, err)
	return id, rec
}

func draft(title string) domain.QuestionDraft {
	return domain.QuestionDraft{
		Title:  title,
		Tags:   []string{"go"},
		Author: domain.Author{Name: "Ada"},
	}
}

func TestBus_PresenceCountOnConnectAndDisconnect(t *testing.T) {
	b := testBus(t, clockwork.NewFakeClock())
	ctx := context.Background()

	_, recA := connect(t, b)
	assert.Equal(t, []int{1}, recA.presenceCounts())

	idB, recB := connect(t, b)
	assert.Equal(t, []int{1, 2}, recA.presenceCounts())
	assert.Equal(t, []int{2}, recB.presenceCounts())

	require.NoError(t, b.Disconnect(ctx, idB))
	assert.Equal(t, []int{1, 2, 1}, recA.presenceCounts())
	assert.Equal(t, []int{2}, recB.presenceCounts(), "disconnected connection receives nothing")
	assert.Equal(t, 1, b.Stats().Connections)
}

func TestBus_DisconnectIsIdempotent(t *testing.T) {
	b := testBus(t, clockwork.NewFakeClock())
	ctx := context.Background()

	_, recA := connect(t, b)
	idB, _ := connect(t, b)

	require.NoError(t, b.Disconnect(ctx, idB))
	require.NoError(t, b.Disconnect(ctx, idB))
	require.NoError(t, b.Disconnect(ctx, uuid.New()))

	assert.Equal(t, []int{1, 2, 1}, recA.presenceCounts(), "repeated disconnects emit nothing")
}

func TestBus_ConnectRejectsNilSubscriber(t *testing.T) {
	b := testBus(t, clockwork.NewFakeClock())

	_, err := b.Connect(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidCommand)
	assert.Equal(t, 0, b.Stats().Connections)
}

func TestBus_PublishQuestion(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	b := testBus(t, clock)
	ctx := context.Background()
	_, recA := connect(t, b)
	_, recB := connect(t, b)

	q1, err := b.PublishQuestion(ctx, draft("First"))
	require.NoError(t, err)
	q2, err := b.PublishQuestion(ctx, draft("Second"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), q1.ID)
	assert.Equal(t, int64(2), q2.ID)
	assert.Equal(t, int64(0), q1.Votes)
	assert.Equal(t, clock.Now(), q1.CreatedAt)

	for _, rec := range []*recorder{recA, recB} {
		questions := rec.ofType(domain.EventNewQuestion)
		require.Len(t, questions, 2)
		assert.Equal(t, q1, questions[0].Data)

		notes := rec.ofType(domain.EventNotification)
		require.Len(t, notes, 2)
		n := notes[0].Data.(domain.Notification)
		assert.Equal(t, domain.NotificationQuestion, n.Kind)
		assert.Equal(t, "First", n.Title)
		assert.Equal(t, "Ada", n.Author)
		assert.Equal(t, int64(1), n.QuestionID)
	}
	assert.Equal(t, 2, b.Stats().Questions)
}

func TestBus_PublishQuestionRequiresTitle(t *testing.T) {
	b := testBus(t, clockwork.NewFakeClock())
	_, rec := connect(t, b)

	_, err := b.PublishQuestion(context.Background(), draft("   "))
	assert.ErrorIs(t, err, domain.ErrInvalidCommand)
	assert.Empty(t, rec.ofType(domain.EventNewQuestion))
	assert.Equal(t, 0, b.Stats().Questions)
}

func TestBus_PostAnswerTopicScoping(t *testing.T) {
	b := testBus(t, clockwork.NewFakeClock())
	ctx := context.Background()
	idA, recA := connect(t, b)
	_, recB := connect(t, b)

	q, err := b.PublishQuestion(ctx, draft("Scoped"))
	require.NoError(t, err)
	require.NoError(t, b.JoinTopic(ctx, idA, q.ID))
	recA.reset()
	recB.reset()

	a, accepted, err := b.PostAnswer(ctx, q.ID, domain.AnswerDraft{Content: "Use channels", Author: domain.Author{Name: "Bo"}})
	require.NoError(t, err)
	require.True(t, accepted)
	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, q.ID, a.QuestionID)

	assert.Len(t, recA.ofType(domain.EventNewAnswer), 2, "topic member gets the scoped and the global copy")
	assert.Len(t, recB.ofType(domain.EventNewAnswer), 1)

	for _, rec := range []*recorder{recA, recB} {
		notes := rec.ofType(domain.EventNotification)
		require.Len(t, notes, 1)
		n := notes[0].Data.(domain.Notification)
		assert.Equal(t, domain.NotificationAnswer, n.Kind)
		assert.Equal(t, "New answer for question #1", n.Title)
		assert.Equal(t, "Bo", n.Author)
	}

	payload := recB.ofType(domain.EventNewAnswer)[0].Data.(domain.NewAnswer)
	assert.Equal(t, q.ID, payload.QuestionID)
	assert.Equal(t, a, payload.Answer)
}

func TestBus_PostAnswerAfterLeaveIsGlobalOnly(t *testing.T) {
	b := testBus(t, clockwork.NewFakeClock())
	ctx := context.Background()
	idA, recA := connect(t, b)

	q, err := b.PublishQuestion(ctx, draft("Leave"))
	require.NoError(t, err)
	require.NoError(t, b.JoinTopic(ctx, idA, q.ID))
	require.NoError(t, b.LeaveTopic(ctx, idA, q.ID))
	require.NoError(t, b.LeaveTopic(ctx, idA, q.ID))

	_, accepted, err := b.PostAnswer(ctx, q.ID, domain.AnswerDraft{Content: "x", Author: domain.Author{Name: "Bo"}})
	require.NoError(t, err)
	require.True(t, accepted)
	assert.Len(t, recA.ofType(domain.EventNewAnswer), 1)
	assert.Equal(t, 0, b.Stats().Topics)
}

func TestBus_DuplicateAnswerWithinWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := testBus(t, clock)
	ctx := context.Background()
	_, rec := connect(t, b)

	q, err := b.PublishQuestion(ctx, draft("Dup"))
	require.NoError(t, err)
	rec.reset()

	submitted := clock.Now().Add(-time.Second)
	answer := domain.AnswerDraft{Content: "same", Author: domain.Author{Name: "Bo"}, SubmittedAt: submitted}

	first, accepted, err := b.PostAnswer(ctx, q.ID, answer)
	require.NoError(t, err)
	require.True(t, accepted)
	assert.Equal(t, domain.Fingerprint(q.ID, "Bo", submitted), first.Fingerprint)

	_, accepted, err = b.PostAnswer(ctx, q.ID, answer)
	require.NoError(t, err)
	assert.False(t, accepted, "second submission inside the window is dropped")
	assert.Len(t, rec.ofType(domain.EventNewAnswer), 1)
	assert.Len(t, rec.ofType(domain.EventNotification), 1)
	assert.Equal(t, 1, b.Stats().Answers)
	assert.Equal(t, 1, b.Stats().ProcessedAnswers)

	clock.Advance(dedup.DefaultWindow)

	second, accepted, err := b.PostAnswer(ctx, q.ID, answer)
	require.NoError(t, err)
	assert.True(t, accepted, "fingerprint is accepted again once the window elapsed")
	assert.Equal(t, int64(2), second.ID)
}

func TestBus_PostAnswerUnknownQuestion(t *testing.T) {
	var calls int
	d := dedupFunc(func(context.Context, string) (bool, error) {
		calls++
		return true, nil
	})
	b := testBusWithDedup(t, clockwork.NewFakeClock(), d)
	_, rec := connect(t, b)

	_, accepted, err := b.PostAnswer(context.Background(), 42, domain.AnswerDraft{Content: "x", Author: domain.Author{Name: "Bo"}})
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.Zero(t, calls, "unknown questions never reach the dedup filter")
	assert.Empty(t, rec.ofType(domain.EventNewAnswer))
}

func TestBus_PostAnswerRequiresContent(t *testing.T) {
	b := testBus(t, clockwork.NewFakeClock())
	ctx := context.Background()
	q, err := b.PublishQuestion(ctx, draft("Q"))
	require.NoError(t, err)

	_, _, err = b.PostAnswer(ctx, q.ID, domain.AnswerDraft{Author: domain.Author{Name: "Bo"}})
	assert.ErrorIs(t, err, domain.ErrInvalidCommand)
	assert.Equal(t, 0, b.Stats().ProcessedAnswers)
}

func TestBus_DedupErrorFailsOpen(t *testing.T) {
	d := dedupFunc(func(context.Context, string) (bool, error) {
		return false, errors.New("redis down")
	})
	b := testBusWithDedup(t, clockwork.NewFakeClock(), d)
	ctx := context.Background()
	q, err := b.PublishQuestion(ctx, draft("Q"))
	require.NoError(t, err)

	_, accepted, err := b.PostAnswer(ctx, q.ID, domain.AnswerDraft{Content: "x", Author: domain.Author{Name: "Bo"}})
	require.NoError(t, err)
	assert.True(t, accepted)
}

func TestBus_VoteSums(t *testing.T) {
	b := testBus(t, clockwork.NewFakeClock())
	ctx := context.Background()
	_, rec := connect(t, b)

	q, err := b.PublishQuestion(ctx, draft("Votes"))
	require.NoError(t, err)

	for _, dir := range []domain.Direction{domain.DirectionUp, domain.DirectionUp, domain.DirectionDown} {
		_, applied, err := b.VoteQuestion(ctx, q.ID, dir)
		require.NoError(t, err)
		require.True(t, applied)
	}

	updates := rec.ofType(domain.EventVoteUpdated)
	require.Len(t, updates, 3)
	last := updates[2].Data.(domain.VoteUpdate)
	assert.Equal(t, domain.VoteUpdate{Kind: domain.TargetQuestion, ID: q.ID, Votes: 1}, last)

	listed := b.ListQuestions(0, 10)
	require.Len(t, listed, 1)
	assert.Equal(t, int64(1), listed[0].Votes)
}

func TestBus_VotesCanGoNegative(t *testing.T) {
	b := testBus(t, clockwork.NewFakeClock())
	ctx := context.Background()
	q, err := b.PublishQuestion(ctx, draft("Q"))
	require.NoError(t, err)
	a, _, err := b.PostAnswer(ctx, q.ID, domain.AnswerDraft{Content: "x", Author: domain.Author{Name: "Bo"}})
	require.NoError(t, err)

	total, applied, err := b.VoteAnswer(ctx, a.ID, domain.DirectionDown)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(-1), total)

	qa, err := b.QuestionWithAnswers(q.ID)
	require.NoError(t, err)
	require.Len(t, qa.Answers, 1)
	assert.Equal(t, int64(-1), qa.Answers[0].Votes)
	assert.Equal(t, int64(0), qa.Question.Votes)
}

func TestBus_VoteUnknownTarget(t *testing.T) {
	b := testBus(t, clockwork.NewFakeClock())
	_, rec := connect(t, b)

	_, applied, err := b.VoteAnswer(context.Background(), 99, domain.DirectionUp)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Empty(t, rec.ofType(domain.EventVoteUpdated))
}

func TestBus_VoteInvalidDirection(t *testing.T) {
	b := testBus(t, clockwork.NewFakeClock())
	ctx := context.Background()
	q, err := b.PublishQuestion(ctx, draft("Q"))
	require.NoError(t, err)

	_, applied, err := b.VoteQuestion(ctx, q.ID, domain.Direction("sideways"))
	assert.ErrorIs(t, err, domain.ErrInvalidDirection)
	assert.False(t, applied)
}

func TestBus_ConcurrentVotesAreSerialized(t *testing.T) {
	b := testBus(t, clockwork.NewRealClock())
	ctx := context.Background()
	q, err := b.PublishQuestion(ctx, draft("Hot"))
	require.NoError(t, err)

	const voters = 50
	var wg sync.WaitGroup
	for i := range voters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dir := domain.DirectionUp
			if i%5 == 0 {
				dir = domain.DirectionDown
			}
			_, _, err := b.VoteQuestion(ctx, q.ID, dir)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	qa, err := b.QuestionWithAnswers(q.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(40-10), qa.Question.Votes)
}

func TestBus_DisconnectPurgesTopics(t *testing.T) {
	b := testBus(t, clockwork.NewFakeClock())
	ctx := context.Background()
	id, _ := connect(t, b)

	require.NoError(t, b.JoinTopic(ctx, id, 1))
	require.NoError(t, b.JoinTopic(ctx, id, 2))
	require.NoError(t, b.JoinTopic(ctx, id, 2))
	assert.Equal(t, 2, b.Stats().Topics)

	require.NoError(t, b.Disconnect(ctx, id))
	assert.Equal(t, 0, b.Stats().Topics)
}

func TestBus_JoinFromUnknownConnectionIgnored(t *testing.T) {
	b := testBus(t, clockwork.NewFakeClock())

	require.NoError(t, b.JoinTopic(context.Background(), uuid.New(), 1))
	assert.Equal(t, 0, b.Stats().Topics)
}

func TestBus_RefusingSubscriberDoesNotAffectOthers(t *testing.T) {
	b := testBus(t, clockwork.NewFakeClock())
	ctx := context.Background()

	_, err := b.Connect(ctx, domain.SubscriberFunc(func(domain.Event) bool { return false }))
	require.NoError(t, err)
	_, err = b.Connect(ctx, domain.SubscriberFunc(func(domain.Event) bool { panic("broken writer") }))
	require.NoError(t, err)
	_, rec := connect(t, b)

	_, err = b.PublishQuestion(ctx, draft("Still delivered"))
	require.NoError(t, err)
	assert.Len(t, rec.ofType(domain.EventNewQuestion), 1)
}

// failingClock panics on the n-th call to Now once armed.
type failingClock struct {
	*clockwork.FakeClock
	countdown atomic.Int32
}

func (c *failingClock) Now() time.Time {
	if c.countdown.Load() > 0 && c.countdown.Add(-1) == 0 {
		panic("clock failure")
	}
	return c.FakeClock.Now()
}

func TestBus_HandlerPanicIsRecovered(t *testing.T) {
	clock := &failingClock{FakeClock: clockwork.NewFakeClock()}
	b := testBus(t, clock)
	ctx := context.Background()
	_, rec := connect(t, b)

	// The first Now stamps the command start, the second runs inside the handler.
	clock.countdown.Store(2)
	_, err := b.PublishQuestion(ctx, draft("Q"))
	assert.ErrorIs(t, err, domain.ErrCommandFailed)
	assert.Equal(t, 0, b.Stats().Questions, "nothing is committed by a failed command")
	assert.Empty(t, rec.ofType(domain.EventNewQuestion))

	q, err := b.PublishQuestion(ctx, draft("Q"))
	require.NoError(t, err, "the bus keeps serving after a panic")
	assert.Equal(t, int64(1), q.ID)
}

func TestBus_SlowDedupDoesNotBlockOtherCommands(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	d := dedupFunc(func(ctx context.Context, _ string) (bool, error) {
		close(entered)
		select {
		case <-unblock:
			return true, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	})
	b := testBusWithDedup(t, clockwork.NewFakeClock(), d)
	ctx := context.Background()
	_, rec := connect(t, b)

	q, err := b.PublishQuestion(ctx, draft("Q"))
	require.NoError(t, err)

	posted := make(chan bool, 1)
	go func() {
		_, accepted, _ := b.PostAnswer(ctx, q.ID, domain.AnswerDraft{Content: "x", Author: domain.Author{Name: "Bo"}})
		posted <- accepted
	}()
	<-entered

	voteCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	total, applied, err := b.VoteQuestion(voteCtx, q.ID, domain.DirectionUp)
	require.NoError(t, err, "the vote is served while the admission check is pending")
	assert.True(t, applied)
	assert.Equal(t, int64(1), total)

	close(unblock)
	assert.True(t, <-posted)
	assert.Len(t, rec.ofType(domain.EventNewAnswer), 1)
}

// releasingDedup admits everything and records released fingerprints.
type releasingDedup struct {
	mu       sync.Mutex
	released []string
}

func (d *releasingDedup) Admit(context.Context, string) (bool, error) { return true, nil }

func (d *releasingDedup) Release(_ context.Context, fingerprint string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = append(d.released, fingerprint)
	return nil
}

func TestBus_UncommittedClaimIsReleased(t *testing.T) {
	d := &releasingDedup{}
	clock := clockwork.NewFakeClock()
	b := testBusWithDedup(t, clock, d)
	ctx := context.Background()

	q, err := b.PublishQuestion(ctx, draft("Q"))
	require.NoError(t, err)

	answer := domain.AnswerDraft{Content: "x", Author: domain.Author{Name: "Bo"}, SubmittedAt: clock.Now()}
	_, accepted, err := b.PostAnswer(ctx, q.ID, answer)
	require.NoError(t, err)
	require.True(t, accepted)
	assert.Empty(t, d.released, "a committed answer keeps its claim")

	b.Stop()
	_, _, err = b.PostAnswer(ctx, q.ID, answer)
	assert.ErrorIs(t, err, domain.ErrBusStopped)
	assert.Equal(t, []string{domain.Fingerprint(q.ID, "Bo", clock.Now())}, d.released)
}

func TestBus_PreEpochSubmissionUsesBusClock(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	b := testBus(t, clock)
	ctx := context.Background()

	q, err := b.PublishQuestion(ctx, draft("Q"))
	require.NoError(t, err)

	// "x" at -123ms and "x-" at +123ms would otherwise share a key.
	a, accepted, err := b.PostAnswer(ctx, q.ID, domain.AnswerDraft{
		Content:     "x",
		Author:      domain.Author{Name: "x"},
		SubmittedAt: time.UnixMilli(-123),
	})
	require.NoError(t, err)
	require.True(t, accepted)
	assert.Equal(t, domain.Fingerprint(q.ID, "x", clock.Now()), a.Fingerprint)

	_, accepted, err = b.PostAnswer(ctx, q.ID, domain.AnswerDraft{
		Content:     "y",
		Author:      domain.Author{Name: "x-"},
		SubmittedAt: time.UnixMilli(123),
	})
	require.NoError(t, err)
	assert.True(t, accepted)
}

func TestBus_SweepTickerExpiresDedupEntries(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := testBus(t, clock)
	ctx := context.Background()

	q, err := b.PublishQuestion(ctx, draft("Q"))
	require.NoError(t, err)
	_, _, err = b.PostAnswer(ctx, q.ID, domain.AnswerDraft{Content: "x", Author: domain.Author{Name: "Bo"}})
	require.NoError(t, err)
	require.Equal(t, 1, b.Stats().ProcessedAnswers)

	// depth ticker and sweep ticker
	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 2))

	clock.Advance(dedup.DefaultWindow)

	assert.Eventually(t, func() bool {
		return b.Stats().ProcessedAnswers == 0
	}, time.Second, 5*time.Millisecond)
}

func TestBus_ReadModel(t *testing.T) {
	b := testBus(t, clockwork.NewFakeClock())
	ctx := context.Background()

	for _, title := range []string{"one", "two", "three"} {
		_, err := b.PublishQuestion(ctx, draft(title))
		require.NoError(t, err)
	}

	page := b.ListQuestions(1, 1)
	require.Len(t, page, 1)
	assert.Equal(t, "two", page[0].Title)

	_, err := b.QuestionWithAnswers(99)
	assert.ErrorIs(t, err, domain.ErrQuestionNotFound)
	assert.Empty(t, b.AnswersFor(99))
}

func TestBus_StopRejectsCommands(t *testing.T) {
	b := testBus(t, clockwork.NewFakeClock())
	b.Stop()
	b.Stop()

	_, err := b.PublishQuestion(context.Background(), draft("late"))
	assert.ErrorIs(t, err, domain.ErrBusStopped)
}
