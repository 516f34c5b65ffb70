package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/affiliate-outreach/pkg/dashapi"
)

type fakeStatus struct {
	mu       sync.Mutex
	statuses []*dashapi.EnrichmentStatus
	statusN  int
	jobErr   map[string]error
	jobCalls []string
}

func (f *fakeStatus) EnrichmentStatus(context.Context) (*dashapi.EnrichmentStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.statusN
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	f.statusN++
	if f.statuses[i] == nil {
		return nil, errors.New("status unavailable")
	}
	return f.statuses[i], nil
}

func (f *fakeStatus) JobStatus(_ context.Context, jobID string) (*dashapi.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobCalls = append(f.jobCalls, jobID)
	if err := f.jobErr[jobID]; err != nil {
		return nil, err
	}
	return &dashapi.JobStatus{JobID: jobID, Status: "running", Flushed: 2}, nil
}

func (f *fakeStatus) polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusN
}

func active(ids ...string) *dashapi.EnrichmentStatus {
	s := &dashapi.EnrichmentStatus{HasActiveJobs: true}
	for _, id := range ids {
		s.Jobs = append(s.Jobs, dashapi.JobProgress{JobID: id})
	}
	return s
}

func idle() *dashapi.EnrichmentStatus { return &dashapi.EnrichmentStatus{} }

func TestPoll_QueriesEveryActiveJob(t *testing.T) {
	fs := &fakeStatus{
		statuses: []*dashapi.EnrichmentStatus{active("j1", "j2", "j3")},
		jobErr:   map[string]error{"j2": errors.New("boom")},
	}
	var got Tick
	p := New(fs, OnTick(func(tk Tick) { got = tk }))

	ok, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.ElementsMatch(t, []string{"j1", "j2", "j3"}, fs.jobCalls)
	assert.Len(t, got.Jobs, 2, "failed job is skipped, not fatal")
	assert.Equal(t, 4, got.Flushed)
}

func TestPoll_Idle(t *testing.T) {
	fs := &fakeStatus{statuses: []*dashapi.EnrichmentStatus{idle()}}
	ticked := false
	p := New(fs, OnTick(func(Tick) { ticked = true }))

	ok, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, ticked)
	assert.Empty(t, fs.jobCalls)
}

func TestPoll_StatusError(t *testing.T) {
	fs := &fakeStatus{statuses: []*dashapi.EnrichmentStatus{nil}}
	p := New(fs)

	ok, err := p.Poll(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestStart_StopsWhenJobsDrain(t *testing.T) {
	fs := &fakeStatus{statuses: []*dashapi.EnrichmentStatus{active("j1"), nil, active("j1"), idle()}}
	var ticks, done atomic.Int32
	p := New(fs,
		WithInterval(time.Millisecond),
		OnTick(func(Tick) { ticks.Add(1) }),
		OnDone(func() { done.Add(1) }),
	)

	p.Start(context.Background())
	p.Wait()

	assert.False(t, p.Running())
	assert.Equal(t, 4, fs.polls(), "a failed status poll keeps the loop alive")
	assert.Equal(t, int32(2), ticks.Load())
	assert.Equal(t, int32(1), done.Load())
}

func TestStart_Idempotent(t *testing.T) {
	fs := &fakeStatus{statuses: []*dashapi.EnrichmentStatus{active("j1")}}
	p := New(fs, WithInterval(time.Hour))

	p.Start(context.Background())
	p.Start(context.Background())
	require.Eventually(t, func() bool { return fs.polls() >= 1 }, time.Second, time.Millisecond)
	p.Stop()

	assert.Equal(t, 1, fs.polls(), "second Start must not spawn another loop")
	assert.False(t, p.Running())
}

func TestStop_NoFurtherTicks(t *testing.T) {
	fs := &fakeStatus{statuses: []*dashapi.EnrichmentStatus{active("j1")}}
	p := New(fs, WithInterval(time.Millisecond))

	p.Start(context.Background())
	require.Eventually(t, func() bool { return fs.polls() >= 3 }, time.Second, time.Millisecond)
	p.Stop()
	after := fs.polls()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, fs.polls())

	p.Stop()
}

func TestStart_ContextCancel(t *testing.T) {
	fs := &fakeStatus{statuses: []*dashapi.EnrichmentStatus{active("j1")}}
	done := false
	p := New(fs, WithInterval(time.Millisecond), OnDone(func() { done = true }))

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	require.Eventually(t, func() bool { return fs.polls() >= 1 }, time.Second, time.Millisecond)
	cancel()
	p.Wait()

	assert.False(t, p.Running())
	assert.False(t, done, "cancellation is not a drain")
}

func TestStart_RestartAfterDrain(t *testing.T) {
	fs := &fakeStatus{statuses: []*dashapi.EnrichmentStatus{idle()}}
	p := New(fs, WithInterval(time.Millisecond))

	p.Start(context.Background())
	p.Wait()
	p.Start(context.Background())
	p.Wait()

	assert.Equal(t, 2, fs.polls())
}
