package expiry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/park285/code-duel/internal/duel"
	"github.com/park285/code-duel/pkg/duelapi"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	overs []duelapi.GameOver
}

func (r *recorder) Publish(_ context.Context, _ string, msg duelapi.StreamMessage) error {
	if g, ok := msg.(duelapi.GameOver); ok {
		r.mu.Lock()
		r.overs = append(r.overs, g)
		r.mu.Unlock()
	}
	return nil
}

func (r *recorder) gameOvers() []duelapi.GameOver {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]duelapi.GameOver(nil), r.overs...)
}

func setup(t *testing.T) (*redis.Client, *duel.Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, duel.NewStore(rdb), mr
}

func racingMatch(t *testing.T, s *duel.Store, id string, d time.Duration) *duel.Match {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &duel.Match{ID: id, ProblemID: "p1", Duration: d.Milliseconds()}))
	for _, p := range []string{"alice", "bob"} {
		_, err := s.Join(ctx, id, p)
		require.NoError(t, err)
	}
	m, err := s.StartRace(ctx, id)
	require.NoError(t, err)
	return m
}

func waitStatus(t *testing.T, s *duel.Store, id string, want duel.Status) *duel.Match {
	t.Helper()
	var m *duel.Match
	require.Eventually(t, func() bool {
		var err error
		m, err = s.Get(context.Background(), id)
		return err == nil && m.Status == want
	}, 3*time.Second, 10*time.Millisecond)
	return m
}

func TestTimerExpiresRacingMatch(t *testing.T) {
	rdb, store, mr := setup(t)
	notes := &recorder{}
	timer := NewTimer(rdb, store, notes, nil)
	defer timer.Close()

	m := racingMatch(t, store, "m1", 50*time.Millisecond)
	require.NoError(t, timer.Schedule(context.Background(), m.ID, time.UnixMilli(m.EndTime)))

	got := waitStatus(t, store, "m1", duel.StatusExpired)
	assert.Equal(t, duelapi.ReasonTimeLimit, got.EndReason)
	assert.Empty(t, got.WinnerID)

	require.Eventually(t, func() bool { return !mr.Exists(timersKey) }, time.Second, 10*time.Millisecond)
	overs := notes.gameOvers()
	require.Len(t, overs, 1)
	assert.Nil(t, overs[0].Winner)
	assert.Equal(t, duelapi.ReasonTimeLimit, overs[0].Reason)
}

func TestTimerOnFinishedMatchIsNoop(t *testing.T) {
	rdb, store, mr := setup(t)
	notes := &recorder{}
	timer := NewTimer(rdb, store, notes, nil)
	defer timer.Close()

	m := racingMatch(t, store, "m1", 30*time.Millisecond)
	_, err := store.Finish(context.Background(), "m1", "bob")
	require.NoError(t, err)
	require.NoError(t, timer.Schedule(context.Background(), m.ID, time.UnixMilli(m.EndTime)))

	require.Eventually(t, func() bool { return !mr.Exists(timersKey) }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, notes.gameOvers())
	got, _ := store.Get(context.Background(), "m1")
	assert.Equal(t, duel.StatusFinished, got.Status)
	assert.Equal(t, "bob", got.WinnerID)
}

func TestRearmAfterRestart(t *testing.T) {
	rdb, store, mr := setup(t)
	notes := &recorder{}

	m := racingMatch(t, store, "m1", 80*time.Millisecond)
	first := NewTimer(rdb, store, notes, nil)
	require.NoError(t, first.Schedule(context.Background(), m.ID, time.UnixMilli(m.EndTime)))
	first.Close()
	assert.True(t, mr.Exists(timersKey), "schedule must survive process stop")

	second := NewTimer(rdb, store, notes, nil)
	defer second.Close()
	n, err := second.Rearm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	waitStatus(t, store, "m1", duel.StatusExpired)
	require.Eventually(t, func() bool { return len(notes.gameOvers()) == 1 }, time.Second, 10*time.Millisecond)
}

func TestSweepClosesOnlyOverdue(t *testing.T) {
	_, store, _ := setup(t)
	notes := &recorder{}
	racingMatch(t, store, "old", time.Millisecond)
	racingMatch(t, store, "fresh", time.Hour)
	racingMatch(t, store, "won", time.Millisecond)
	_, err := store.Finish(context.Background(), "won", "alice")
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	sw := NewSweeper(store, notes, nil, time.Minute)
	closed, err := sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	old, _ := store.Get(context.Background(), "old")
	assert.Equal(t, duel.StatusExpired, old.Status)
	assert.Equal(t, duelapi.ReasonDrawTimeLimit, old.EndReason)
	fresh, _ := store.Get(context.Background(), "fresh")
	assert.Equal(t, duel.StatusRacing, fresh.Status)

	overs := notes.gameOvers()
	require.Len(t, overs, 1)
	assert.Equal(t, duelapi.ReasonDrawTimeLimit, overs[0].Reason)

	closed, err = sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, closed)
}

type failingArchive struct{ calls int }

func (a *failingArchive) SaveResult(context.Context, *duel.Match) error {
	a.calls++
	return errors.New("pq: connection refused")
}

func TestSweepArchiveFailureStillCloses(t *testing.T) {
	_, store, _ := setup(t)
	notes := &recorder{}
	arch := &failingArchive{}
	racingMatch(t, store, "m1", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	closed, err := NewSweeper(store, notes, arch, time.Minute).SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, closed)
	assert.Equal(t, 1, arch.calls)
	require.Len(t, notes.gameOvers(), 1)
	m, _ := store.Get(context.Background(), "m1")
	assert.Equal(t, duel.StatusExpired, m.Status)
}

func TestTimerAndSweepSingleGameOver(t *testing.T) {
	for i := 0; i < 10; i++ {
		rdb, store, _ := setup(t)
		notes := &recorder{}
		m := racingMatch(t, store, "m1", time.Millisecond)
		time.Sleep(5 * time.Millisecond)

		timer := NewTimer(rdb, store, notes, nil)
		sw := NewSweeper(store, notes, nil, time.Minute)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, timer.Schedule(context.Background(), m.ID, time.UnixMilli(m.EndTime)))
		}()
		go func() {
			defer wg.Done()
			_, err := sw.SweepOnce(context.Background())
			assert.NoError(t, err)
		}()
		wg.Wait()
		waitStatus(t, store, "m1", duel.StatusExpired)
		require.Eventually(t, func() bool { return timer.Armed() == 0 }, time.Second, 5*time.Millisecond)
		timer.Close()

		assert.Len(t, notes.gameOvers(), 1, "iteration %d", i)
	}
}

func TestSweeperSchedule(t *testing.T) {
	_, store, _ := setup(t)
	notes := &recorder{}
	racingMatch(t, store, "m1", time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sw := NewSweeper(store, notes, nil, 20*time.Millisecond)
	require.NoError(t, sw.Start(ctx))
	defer func() { _ = sw.Stop() }()

	got := waitStatus(t, store, "m1", duel.StatusExpired)
	assert.Equal(t, duelapi.ReasonDrawTimeLimit, got.EndReason)
}
