package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JAKOBGTAG/multi-email-sender/internal/domain"
	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/clock"
	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/distlock"
	"github.com/JAKOBGTAG/multi-email-sender/internal/ratelimit"
	"github.com/JAKOBGTAG/multi-email-sender/internal/retry"
	"github.com/JAKOBGTAG/multi-email-sender/internal/stats"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)

// fakeTransport records calls and fails according to script, which gets the
// message and the 1-based attempt number for that recipient.
type fakeTransport struct {
	mu       sync.Mutex
	calls    []string
	attempts map[string]int
	script   func(msg *domain.OutboundMessage, attempt int) error
}

func newFakeTransport(script func(*domain.OutboundMessage, int) error) *fakeTransport {
	return &fakeTransport{attempts: make(map[string]int), script: script}
}

func (f *fakeTransport) Send(_ context.Context, msg *domain.OutboundMessage) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, msg.To)
	f.attempts[msg.To]++
	attempt := f.attempts[msg.To]
	f.mu.Unlock()

	if f.script != nil {
		if err := f.script(msg, attempt); err != nil {
			return "", err
		}
	}
	return "msg-" + msg.To, nil
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordedEvent struct {
	level  string
	msg    string
	fields map[string]any
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) Record(level, msg string, fields map[string]any) {
	r.mu.Lock()
	r.events = append(r.events, recordedEvent{level, msg, fields})
	r.mu.Unlock()
}

func (r *eventRecorder) states(email string) []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []State
	for _, e := range r.events {
		if e.msg == "recipient state" && e.fields["email"] == email {
			out = append(out, State(e.fields["state"].(string)))
		}
	}
	return out
}

type testEnv struct {
	svc       *Service
	clock     *clock.Fake
	transport *fakeTransport
	events    *eventRecorder
}

func newTestEnv(t *testing.T, cfg Config, script func(*domain.OutboundMessage, int) error, opts ...Option) *testEnv {
	t.Helper()
	fc := clock.NewFake(epoch)
	tr := newFakeTransport(script)
	ev := &eventRecorder{}
	base := []Option{
		WithClock(fc),
		WithEventLogger(ev),
		WithPolicy(retry.New(cfg.Retry, retry.WithClock(fc), retry.WithRand(func() float64 { return 0 }))),
	}
	svc, err := NewService(cfg, tr, nil, append(base, opts...)...)
	require.NoError(t, err)
	return &testEnv{svc: svc, clock: fc, transport: tr, events: ev}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RateLimit.Enabled = false
	cfg.Timeout = 0
	return cfg
}

func recipients(emails ...string) []domain.Recipient {
	out := make([]domain.Recipient, len(emails))
	for i, e := range emails {
		out[i] = domain.Recipient{Email: e}
	}
	return out
}

var testContent = domain.Content{Subject: "Hello", Text: "Hi there", FromEmail: "team@example.com", FromName: "Team"}

func TestDispatchBatch_OrderAndPacing(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)

	results, err := env.svc.DispatchBatch(context.Background(), recipients("a@x.io", "b@x.io", "c@x.io"), testContent, domain.SendOptions{})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, email := range []string{"a@x.io", "b@x.io", "c@x.io"} {
		assert.Equal(t, email, results[i].Email)
		assert.True(t, results[i].Success)
		assert.Equal(t, "msg-"+email, results[i].MessageID)
		assert.Equal(t, 1, results[i].Attempts)
	}
	assert.Equal(t, []string{"a@x.io", "b@x.io", "c@x.io"}, env.transport.calls)

	// Pacing between recipients, none after the last.
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, env.clock.Sleeps())

	assert.Equal(t, []State{StatePending, StateRateLimitWait, StateAttempting, StateSuccess}, env.events.states("a@x.io"))

	st := env.svc.Statistics()
	assert.Equal(t, int64(3), st.TotalSent)
	assert.Equal(t, int64(3), st.TotalAttempts)
	assert.Equal(t, int64(3), st.DailyCount[epoch.Format(stats.DateLayout)])
}

func TestDispatchBatch_QuotaExhaustionIsFatal(t *testing.T) {
	cfg := testConfig()
	cfg.DailyLimit = 2
	env := newTestEnv(t, cfg, nil)
	ctx := context.Background()

	_, err := env.svc.DispatchBatch(ctx, recipients("a@x.io", "b@x.io"), testContent, domain.SendOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, env.transport.callCount())

	results, err := env.svc.DispatchBatch(ctx, recipients("c@x.io"), testContent, domain.SendOptions{})
	assert.ErrorIs(t, err, ErrDailyQuotaExceeded)
	assert.Nil(t, results)
	assert.Equal(t, 2, env.transport.callCount())

	q := env.svc.QuotaStatus()
	assert.True(t, q.Exhausted)
	assert.Zero(t, q.Remaining)

	// The next local day starts a fresh quota.
	env.clock.Advance(24 * time.Hour)
	_, err = env.svc.DispatchBatch(ctx, recipients("c@x.io"), testContent, domain.SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, env.svc.QuotaStatus().Count)
}

func TestDispatchBatch_QuotaCountsEveryAttempt(t *testing.T) {
	cfg := testConfig()
	cfg.Retry = retry.Config{MaxRetries: 3, BaseDelay: time.Second}
	env := newTestEnv(t, cfg, func(_ *domain.OutboundMessage, attempt int) error {
		if attempt < 3 {
			return errors.New("network timeout")
		}
		return nil
	})

	res, err := env.svc.DispatchOne(context.Background(), domain.Recipient{Email: "a@x.io"}, testContent, domain.SendOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, env.svc.QuotaStatus().Count)

	// Backoff only: 1000*1.5, 2000*1.5.
	assert.Equal(t, []time.Duration{1500 * time.Millisecond, 3000 * time.Millisecond}, env.clock.Sleeps())
	assert.Equal(t, 4500*time.Millisecond, res.Duration)
	assert.Equal(t, []State{
		StatePending, StateRateLimitWait,
		StateAttempting, StateRetryWait,
		StateAttempting, StateRetryWait,
		StateAttempting, StateSuccess,
	}, env.events.states("a@x.io"))
}

func TestDispatchBatch_FailuresDoNotAbortBatch(t *testing.T) {
	cfg := testConfig()
	cfg.Retry = retry.Config{MaxRetries: 2, BaseDelay: time.Second}
	env := newTestEnv(t, cfg, func(msg *domain.OutboundMessage, _ int) error {
		switch msg.To {
		case "bad@x.io":
			return errors.New("550 invalid email address")
		case "busy@x.io":
			return errors.New("SMTP server busy")
		}
		return nil
	})

	results, err := env.svc.DispatchBatch(context.Background(),
		recipients("a@x.io", "bad@x.io", "busy@x.io", "d@x.io"), testContent, domain.SendOptions{})
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.False(t, results[1].Success)
	assert.Equal(t, 1, results[1].Attempts)
	assert.Equal(t, domain.CategoryInvalidRecipient, results[1].Category)
	assert.Contains(t, results[1].Error, "invalid email")

	assert.False(t, results[2].Success)
	assert.Equal(t, 2, results[2].Attempts)
	assert.Equal(t, domain.CategoryTransport, results[2].Category)

	assert.True(t, results[3].Success)

	assert.Equal(t, StateNonRetryableFailure, last(env.events.states("bad@x.io")))
	assert.Equal(t, StateExhaustedFailure, last(env.events.states("busy@x.io")))

	st := env.svc.Statistics()
	assert.Equal(t, int64(2), st.TotalSent)
	assert.Equal(t, int64(2), st.TotalFailed)
	assert.Equal(t, int64(5), st.TotalAttempts)
	assert.Equal(t, map[string]int64{"invalid_recipient": 1, "transport": 1}, st.ErrorBreakdown)
}

func TestDispatchBatch_ValidationIsFatal(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	ctx := context.Background()

	_, err := env.svc.DispatchBatch(ctx, nil, testContent, domain.SendOptions{})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "recipients", ve.Field)

	_, err = env.svc.DispatchBatch(ctx, recipients("ok@x.io", "not-an-address"), testContent, domain.SendOptions{})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, 1, ve.Index)
	assert.Equal(t, "validation failed: recipients[1].email: invalid address", ve.Error())

	noFrom := testContent
	noFrom.FromEmail = ""
	_, err = env.svc.DispatchBatch(ctx, recipients("ok@x.io"), noFrom, domain.SendOptions{})
	require.ErrorAs(t, err, &ve)

	assert.Zero(t, env.transport.callCount())
	assert.Zero(t, env.svc.QuotaStatus().Count)
}

func TestDispatchBatch_WaitsOnRateLimiter(t *testing.T) {
	cfg := testConfig()
	cfg.DelayBetweenEmails = 0
	cfg.RateLimit = ratelimit.Config{Enabled: true, MaxPerMinute: 1, MaxPerHour: 100}
	env := newTestEnv(t, cfg, nil)

	_, err := env.svc.DispatchBatch(context.Background(), recipients("a@x.io", "b@x.io"), testContent, domain.SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Minute}, env.clock.Sleeps())

	st, err := env.svc.LimiterStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Stats.ThrottledCount)

	require.NoError(t, env.svc.ResetLimiter(context.Background()))
	st, err = env.svc.LimiterStatus(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.Stats.TotalEmails)
}

func TestDispatchBatch_CancellationReturnsPartialResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(t, testConfig(), nil, WithResultHandler(func(domain.SendResult) { cancel() }))

	results, err := env.svc.DispatchBatch(ctx, recipients("a@x.io", "b@x.io", "c@x.io"), testContent, domain.SendOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 1)
	assert.Equal(t, "a@x.io", results[0].Email)
	assert.Equal(t, 1, env.transport.callCount())
}

func TestDispatchBatch_AttemptTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond
	cfg.Retry = retry.Config{MaxRetries: 1}
	env := newTestEnv(t, cfg, nil)
	env.svc.transport = blockingTransport{}

	res, err := env.svc.DispatchOne(context.Background(), domain.Recipient{Email: "a@x.io"}, testContent, domain.SendOptions{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, domain.CategoryNetwork, res.Category)
	assert.Contains(t, res.Error, "send timeout")
}

type blockingTransport struct{}

func (blockingTransport) Send(ctx context.Context, _ *domain.OutboundMessage) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestDispatchBatch_AdaptiveFeedback(t *testing.T) {
	cfg := testConfig()
	cfg.Retry = retry.Config{MaxRetries: 1}
	fc := clock.NewFake(epoch)
	adaptive := ratelimit.NewAdaptive(ratelimit.Config{Enabled: true, MaxPerMinute: 10, MaxPerHour: 1000}, ratelimit.WithClock(fc))

	svc, err := NewService(cfg, newFakeTransport(func(*domain.OutboundMessage, int) error {
		return errors.New("connection refused")
	}), adaptive, WithClock(fc))
	require.NoError(t, err)

	_, err = svc.DispatchBatch(context.Background(), recipients("a@x.io", "b@x.io", "c@x.io", "d@x.io"), testContent, domain.SendOptions{})
	require.NoError(t, err)

	as := adaptive.AdaptiveStatistics()
	assert.Equal(t, int64(4), as.Samples)
	assert.Less(t, as.CurrentMaxPerMinute, 10)
}

func TestDispatchBatch_SpendsBurstWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.DelayBetweenEmails = 0
	cfg.SpendBurst = true
	fc := clock.NewFake(epoch)
	burst := ratelimit.NewBurst(ratelimit.Config{Enabled: true, MaxPerMinute: 1, MaxPerHour: 100}, ratelimit.WithClock(fc))

	svc, err := NewService(cfg, newFakeTransport(nil), burst, WithClock(fc))
	require.NoError(t, err)

	_, err = svc.DispatchBatch(context.Background(), recipients("a@x.io", "b@x.io"), testContent, domain.SendOptions{})
	require.NoError(t, err)
	assert.Empty(t, fc.Sleeps(), "second send fits under the burst cap")
	assert.False(t, burst.CanBurst())
}

func TestDispatchBatch_BurstNotSpentByDefault(t *testing.T) {
	cfg := testConfig()
	cfg.DelayBetweenEmails = 0
	fc := clock.NewFake(epoch)
	burst := ratelimit.NewBurst(ratelimit.Config{Enabled: true, MaxPerMinute: 1, MaxPerHour: 100}, ratelimit.WithClock(fc))

	svc, err := NewService(cfg, newFakeTransport(nil), burst, WithClock(fc))
	require.NoError(t, err)

	_, err = svc.DispatchBatch(context.Background(), recipients("a@x.io", "b@x.io"), testContent, domain.SendOptions{})
	require.NoError(t, err)
	assert.True(t, burst.CanBurst())
}

type upperRenderer struct{ fail bool }

func (r upperRenderer) Render(c domain.Content, rc domain.Recipient) (domain.Content, error) {
	if r.fail {
		return c, errors.New("unknown variable")
	}
	c.Subject = strings.ToUpper(c.Subject) + " " + rc.Name
	return c, nil
}

func TestDispatchBatch_Renderer(t *testing.T) {
	var subjects []string
	env := newTestEnv(t, testConfig(), func(msg *domain.OutboundMessage, _ int) error {
		subjects = append(subjects, msg.Subject)
		return nil
	}, WithRenderer(upperRenderer{}))

	_, err := env.svc.DispatchBatch(context.Background(),
		[]domain.Recipient{{Email: "a@x.io", Name: "Ann"}}, testContent, domain.SendOptions{Priority: domain.PriorityHigh})
	require.NoError(t, err)
	assert.Equal(t, []string{"HELLO Ann"}, subjects)
}

func TestDispatchBatch_RenderFailureIsPerRecipient(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil, WithRenderer(upperRenderer{fail: true}))

	results, err := env.svc.DispatchBatch(context.Background(), recipients("a@x.io"), testContent, domain.SendOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, domain.CategoryValidation, results[0].Category)
	assert.Zero(t, results[0].Attempts)
	assert.Zero(t, env.transport.callCount())
}

func TestService_SnapshotAndRestore(t *testing.T) {
	store := stats.NewFileStore(filepath.Join(t.TempDir(), "stats.json"))
	env := newTestEnv(t, testConfig(), nil, WithSnapshotStore(store))
	require.NoError(t, env.svc.Restore(context.Background()), "missing snapshot is tolerated")

	_, err := env.svc.DispatchBatch(context.Background(), recipients("a@x.io", "b@x.io"), testContent, domain.SendOptions{})
	require.NoError(t, err)

	fresh := newTestEnv(t, testConfig(), nil, WithSnapshotStore(store))
	require.NoError(t, fresh.svc.Restore(context.Background()))
	assert.Equal(t, int64(2), fresh.svc.Statistics().TotalSent)
}

func TestDispatchBatch_LockHeldElsewhere(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	holder := distlock.NewRedisLock(client, "dispatch", time.Minute)
	ok, err := holder.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	cfg := testConfig()
	cfg.LockTimeout = 0
	env := newTestEnv(t, cfg, nil, WithLock(distlock.NewRedisLock(client, "dispatch", time.Minute)))

	_, err = env.svc.DispatchBatch(context.Background(), recipients("a@x.io"), testContent, domain.SendOptions{})
	assert.ErrorIs(t, err, distlock.ErrLockNotAcquired)
	assert.Zero(t, env.transport.callCount())

	require.NoError(t, holder.Release(context.Background()))
	_, err = env.svc.DispatchBatch(context.Background(), recipients("a@x.io"), testContent, domain.SendOptions{})
	require.NoError(t, err)
	assert.False(t, mr.Exists("lock:dispatch"), "lock released after the batch")
}

func TestNewService_RequiresTransport(t *testing.T) {
	_, err := NewService(DefaultConfig(), nil, nil)
	assert.Error(t, err)
}

func last(states []State) State {
	if len(states) == 0 {
		return ""
	}
	return states[len(states)-1]
}
