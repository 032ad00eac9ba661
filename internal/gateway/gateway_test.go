package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/park285/code-duel/internal/bus"
	"github.com/park285/code-duel/internal/duel"
	"github.com/park285/code-duel/internal/msgcat"
	"github.com/park285/code-duel/internal/notify"
	"github.com/park285/code-duel/internal/problem"
	"github.com/park285/code-duel/pkg/duelapi"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type recordingBus struct {
	mu   sync.Mutex
	envs []bus.Envelope
}

func (b *recordingBus) Publish(_ context.Context, env bus.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.envs = append(b.envs, env)
	return nil
}

func (b *recordingBus) topics(t bus.Topic) []bus.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []bus.Envelope
	for _, e := range b.envs {
		if e.Topic == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	srv    *httptest.Server
	store  *duel.Store
	events *recordingBus
	notify *notify.Channel
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	repo := problem.NewMemoryRepository()
	require.NoError(t, repo.Upsert(context.Background(), &problem.Problem{
		ID: "hello", Slug: "hello", Title: "Hello Duel", Description: "print hello", TimeMinutes: 5,
		TestCases: []problem.TestCase{{Input: "", Outputs: []string{"hello"}}},
	}))
	cat, err := msgcat.New("")
	require.NoError(t, err)

	f := &fixture{store: duel.NewStore(rdb), events: &recordingBus{}, notify: notify.NewChannel(rdb)}
	h := New(f.store, repo, f.events, f.notify, cat, Options{
		AllowedDurations: []int{5, 10, 20},
		DefaultDuration:  5,
		Health:           func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})
	f.srv = httptest.NewServer(h.Routes())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) post(t *testing.T, path string, body any) (int, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (f *fixture) get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (f *fixture) racing(t *testing.T, id string) {
	t.Helper()
	code, _ := f.post(t, "/match/create", duelapi.CreateMatchRequest{PlayerID: "alice", MatchID: id, Time: 5})
	require.Equal(t, http.StatusOK, code)
	code, _ = f.post(t, "/match/join", duelapi.JoinMatchRequest{PlayerID: "bob", MatchID: id})
	require.Equal(t, http.StatusOK, code)
	_, err := f.store.StartRace(context.Background(), id)
	require.NoError(t, err)
}

func TestCreateMatch(t *testing.T) {
	f := newFixture(t)
	code, body := f.post(t, "/match/create", duelapi.CreateMatchRequest{PlayerID: "alice", Time: 7})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Match Created", body["msg"])
	assert.EqualValues(t, 5, body["durationMinutes"])
	assert.Equal(t, "Hello Duel", body["problemTitle"])

	id, _ := body["matchId"].(string)
	require.True(t, strings.HasPrefix(id, "match_"), id)
	m, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, duel.StatusWaiting, m.Status)
	assert.Equal(t, []string{"alice"}, m.Players)
	assert.Equal(t, int64(5*60*1000), m.Duration)
}

func TestCreateMatchErrors(t *testing.T) {
	f := newFixture(t)

	code, body := f.post(t, "/match/create", duelapi.CreateMatchRequest{PlayerID: "alice", Time: 10})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "No questions found for 10 mins.", body["error"])

	code, _ = f.post(t, "/match/create", duelapi.CreateMatchRequest{Time: 5})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.post(t, "/match/create", duelapi.CreateMatchRequest{PlayerID: "alice", MatchID: "dup"})
	require.Equal(t, http.StatusOK, code)
	code, _ = f.post(t, "/match/create", duelapi.CreateMatchRequest{PlayerID: "carol", MatchID: "dup"})
	assert.Equal(t, http.StatusConflict, code)
}

func TestJoinMatch(t *testing.T) {
	f := newFixture(t)
	code, _ := f.post(t, "/match/create", duelapi.CreateMatchRequest{PlayerID: "alice", MatchID: "m1"})
	require.Equal(t, http.StatusOK, code)

	code, body := f.post(t, "/match/join", duelapi.JoinMatchRequest{PlayerID: "bob", MatchID: "m1"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Joined", body["msg"])
	assert.EqualValues(t, 5*60*1000, body["durationMs"])
	state := body["state"].(map[string]any)
	assert.Equal(t, []any{"alice", "bob"}, state["players"])
	assert.Equal(t, "Hello Duel", body["problem"].(map[string]any)["title"])

	joined := f.events.topics(bus.TopicPlayerJoined)
	require.Len(t, joined, 1)
	var ev duelapi.PlayerJoinedEvent
	require.NoError(t, joined[0].Decode(&ev))
	assert.Equal(t, duelapi.PlayerJoinedEvent{MatchID: "m1", PlayerID: "bob"}, ev)

	raw, err := f.notify.Latest(context.Background(), "m1")
	require.NoError(t, err)
	var pj duelapi.PlayerJoined
	require.NoError(t, json.Unmarshal(raw, &pj))
	assert.Equal(t, duelapi.TypePlayerJoined, pj.Type)
	assert.Equal(t, []string{"alice", "bob"}, pj.Players)

	// a member may re-join; the event is raised again
	code, _ = f.post(t, "/match/join", duelapi.JoinMatchRequest{PlayerID: "alice", MatchID: "m1"})
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, f.events.topics(bus.TopicPlayerJoined), 2)

	code, body = f.post(t, "/match/join", duelapi.JoinMatchRequest{PlayerID: "carol", MatchID: "m1"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Cannot join. Match is FULL", body["error"])

	code, _ = f.post(t, "/match/join", duelapi.JoinMatchRequest{PlayerID: "bob", MatchID: "nope"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestJoinAfterStart(t *testing.T) {
	f := newFixture(t)
	f.racing(t, "m1")
	code, body := f.post(t, "/match/join", duelapi.JoinMatchRequest{PlayerID: "carol", MatchID: "m1"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Cannot join. Match is RACING", body["error"])
}

func TestRunAndSubmit(t *testing.T) {
	f := newFixture(t)
	code, _ := f.post(t, "/match/create", duelapi.CreateMatchRequest{PlayerID: "alice", MatchID: "m1"})
	require.Equal(t, http.StatusOK, code)

	code, body := f.post(t, "/match/submit", duelapi.CodeRequest{PlayerID: "alice", MatchID: "m1", Code: "print(1)"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Cannot submit. Match is WAITING", body["error"])

	// body type overrides the path
	code, _ = f.post(t, "/match/run", duelapi.CodeRequest{PlayerID: "alice", MatchID: "m1", Code: "x", Type: duelapi.ActionSubmitSolution})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.post(t, "/match/run", duelapi.CodeRequest{PlayerID: "alice", MatchID: "m1", Code: "print(1)", Language: "py"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Code queued", body["msg"])

	jobs := f.events.topics(bus.TopicRunCode)
	require.Len(t, jobs, 1)
	var job duelapi.SubmissionJob
	require.NoError(t, jobs[0].Decode(&job))
	assert.Equal(t, duelapi.ActionRunTests, job.Action)
	assert.Equal(t, "python", job.Language)

	code, _ = f.post(t, "/match/run", duelapi.CodeRequest{PlayerID: "alice", MatchID: "m1", Code: ""})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.post(t, "/match/run", duelapi.CodeRequest{PlayerID: "alice", MatchID: "m1", Code: "x", Language: "cobol"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.post(t, "/match/run", duelapi.CodeRequest{PlayerID: "mallory", MatchID: "m1", Code: "x"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.post(t, "/match/run", duelapi.CodeRequest{PlayerID: "alice", MatchID: "nope", Code: "x"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSubmitWhileRacing(t *testing.T) {
	f := newFixture(t)
	f.racing(t, "m1")
	code, _ := f.post(t, "/match/submit", duelapi.CodeRequest{PlayerID: "bob", MatchID: "m1", Code: "print(1)", Language: "cpp"})
	require.Equal(t, http.StatusOK, code)

	jobs := f.events.topics(bus.TopicRunCode)
	require.Len(t, jobs, 1)
	var job duelapi.SubmissionJob
	require.NoError(t, jobs[0].Decode(&job))
	assert.Equal(t, duelapi.ActionSubmitSolution, job.Action)
	assert.Equal(t, "bob", job.PlayerID)
	assert.Equal(t, "cpp", job.Language)
}

func TestAnalyze(t *testing.T) {
	f := newFixture(t)
	code, body := f.post(t, "/match/analyze", duelapi.AnalyzeRequest{PlayerID: "alice", MatchID: "m1", Code: "for x in y: pass"})
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body["msg"], "Analysis started")

	jobs := f.events.topics(bus.TopicAnalyzeCode)
	require.Len(t, jobs, 1)
	var job duelapi.AnalyzeJob
	require.NoError(t, jobs[0].Decode(&job))
	assert.Equal(t, "python", job.Language)
	assert.Equal(t, "Unknown Problem", job.ProblemTitle)

	code, _ = f.post(t, "/match/analyze", duelapi.AnalyzeRequest{PlayerID: "alice", MatchID: "m1"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMatchStatus(t *testing.T) {
	f := newFixture(t)
	code, _ := f.post(t, "/match/create", duelapi.CreateMatchRequest{PlayerID: "alice", MatchID: "m1"})
	require.Equal(t, http.StatusOK, code)

	code, body := f.get(t, "/match/m1")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "WAITING", body["status"])
	assert.Nil(t, body["winnerId"])
	assert.Nil(t, body["startTime"])
	prob := body["problem"].(map[string]any)
	assert.Equal(t, "Hello Duel", prob["title"])
	assert.NotContains(t, prob, "testCases")

	code, body = f.get(t, "/match/missing")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Match not found", body["error"])
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	code, body := f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["msg"])
}

func TestStreamReplaysThenForwards(t *testing.T) {
	f := newFixture(t)
	code, _ := f.post(t, "/match/create", duelapi.CreateMatchRequest{PlayerID: "alice", MatchID: "m1"})
	require.Equal(t, http.StatusOK, code)
	code, _ = f.post(t, "/match/join", duelapi.JoinMatchRequest{PlayerID: "bob", MatchID: "m1"})
	require.Equal(t, http.StatusOK, code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/match/m1/stream"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var snap duelapi.Snapshot
	require.NoError(t, wsjson.Read(ctx, conn, &snap))
	assert.Equal(t, duelapi.TypeSnapshot, snap.Type)
	assert.Equal(t, "WAITING", snap.Match.Status)

	var latest duelapi.PlayerJoined
	require.NoError(t, wsjson.Read(ctx, conn, &latest))
	assert.Equal(t, duelapi.TypePlayerJoined, latest.Type)

	require.NoError(t, f.notify.Publish(ctx, "m1", duelapi.NewStartRace(10, 20)))
	var start duelapi.StartRace
	require.NoError(t, wsjson.Read(ctx, conn, &start))
	assert.Equal(t, duelapi.TypeStartRace, start.Type)
	assert.Equal(t, int64(20), start.EndTime)
}

func TestStreamUnknownMatch(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(f.srv.URL, "http")+"/match/none/stream", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
