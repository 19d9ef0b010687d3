package sessions_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/agentoven/huddle/internal/sessions"
	"github.com/agentoven/huddle/pkg/models"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, clock *fakeClock) *sessions.MemoryStore {
	t.Helper()
	opts := sessions.Options{}
	if clock != nil {
		opts.Now = clock.Now
	}
	return sessions.NewMemoryStore(opts)
}

var agent = models.Agent{ID: "mathew", Name: "Mathew Jerry Meleth"}

func appendUser(ctx context.Context, s sessions.Store, id, content string) (models.Turn, error) {
	return s.Append(ctx, id, models.NewUserTurn(content))
}

func appendAgent(ctx context.Context, s sessions.Store, id string, a models.Agent, content string, metadata map[string]interface{}) (models.Turn, error) {
	t := models.NewAgentTurn(a, content)
	for k, v := range metadata {
		t.Metadata[k] = v
	}
	return s.Append(ctx, id, t)
}

// ─── Create / Get ────────────────────────────────────────────

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	created, err := s.Create(ctx, "s1", map[string]interface{}{"source": "test"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.ID != "s1" {
		t.Errorf("Create().ID = %q, want %q", created.ID, "s1")
	}

	got, err := s.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Metadata["source"] != "test" {
		t.Errorf("Get().Metadata[source] = %v, want %q", got.Metadata["source"], "test")
	}
}

func TestCreate_GeneratesID(t *testing.T) {
	s := newTestStore(t, nil)
	got, err := s.Create(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if got.ID == "" {
		t.Error("Create(\"\").ID is empty")
	}
}

func TestCreate_Duplicate(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	if _, err := s.Create(ctx, "dup", nil); err != nil {
		t.Fatalf("Create() first call error = %v", err)
	}
	if _, err := s.Create(ctx, "dup", nil); !errors.Is(err, sessions.ErrSessionExists) {
		t.Errorf("Create() second call error = %v, want ErrSessionExists", err)
	}
}

func TestNotFound(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	if _, err := s.Get(ctx, "nope"); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Errorf("Get() error = %v, want ErrSessionNotFound", err)
	}
	if _, err := appendUser(ctx, s, "nope", "hi"); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Errorf("appendUser() error = %v, want ErrSessionNotFound", err)
	}
	if err := s.Clear(ctx, "nope"); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Errorf("Clear() error = %v, want ErrSessionNotFound", err)
	}
	if err := s.Delete(ctx, "nope"); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Errorf("Delete() error = %v, want ErrSessionNotFound", err)
	}
}

func TestGetOrCreate(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	_, created, err := s.GetOrCreate(ctx, "x")
	if err != nil || !created {
		t.Fatalf("GetOrCreate() = created %v, err %v; want created", created, err)
	}
	_, created, err = s.GetOrCreate(ctx, "x")
	if err != nil || created {
		t.Errorf("GetOrCreate() second call created = %v, err = %v; want existing", created, err)
	}
}

// ─── Append / History ────────────────────────────────────────

func TestAppend_AssignsSeqAndValidates(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	s.Create(ctx, "s", nil)

	u, err := appendUser(ctx, s, "s", "question")
	if err != nil {
		t.Fatalf("appendUser() error = %v", err)
	}
	a, err := appendAgent(ctx, s, "s", agent, "answer", map[string]interface{}{models.MetaRound: 1})
	if err != nil {
		t.Fatalf("appendAgent() error = %v", err)
	}
	if u.Seq != 1 || a.Seq != 2 {
		t.Errorf("Seq = (%d, %d), want (1, 2)", u.Seq, a.Seq)
	}
	if a.Metadata[models.MetaRound] != 1 {
		t.Errorf("appendAgent().Metadata[round] = %v, want 1", a.Metadata[models.MetaRound])
	}

	bad := models.NewUserTurn("x")
	bad.AgentID = "rahil"
	if _, err := s.Append(ctx, "s", bad); !errors.Is(err, models.ErrUserTurnWithAgent) {
		t.Errorf("Append(user turn with agent) error = %v, want ErrUserTurnWithAgent", err)
	}
	if _, err := s.Append(ctx, "s", models.Turn{Role: models.RoleAgent, Content: "x"}); !errors.Is(err, models.ErrAgentTurnWithoutAgent) {
		t.Errorf("Append(agent turn without agent) error = %v, want ErrAgentTurnWithoutAgent", err)
	}
}

func TestAppend_TimestampsNeverGoBackwards(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	s.Create(ctx, "s", nil)

	first := models.NewUserTurn("later")
	second := models.NewUserTurn("earlier")
	second.Timestamp = first.Timestamp.Add(-time.Minute)

	s.Append(ctx, "s", first)
	got, _ := s.Append(ctx, "s", second)
	if got.Timestamp.Before(first.Timestamp) {
		t.Errorf("Append() timestamp %v is before previous %v", got.Timestamp, first.Timestamp)
	}
}

func TestHistory(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	s.Create(ctx, "s", nil)
	for i := 0; i < 30; i++ {
		appendUser(ctx, s, "s", fmt.Sprintf("u%d", i))
		appendAgent(ctx, s, "s", agent, fmt.Sprintf("a%d", i), nil)
	}

	all, _ := s.History(ctx, "s", sessions.HistoryQuery{})
	if len(all) != sessions.DefaultHistoryMax {
		t.Errorf("History() len = %d, want %d", len(all), sessions.DefaultHistoryMax)
	}
	if all[len(all)-1].Content != "a29" {
		t.Errorf("History() last = %q, want %q", all[len(all)-1].Content, "a29")
	}

	users, _ := s.History(ctx, "s", sessions.HistoryQuery{Max: 3, Role: models.RoleUser})
	if len(users) != 3 || users[0].Content != "u27" || users[2].Content != "u29" {
		t.Errorf("History(user, 3) = %v, want u27..u29", contents(users))
	}

	everything, _ := s.History(ctx, "s", sessions.HistoryQuery{Max: -1})
	if len(everything) != 60 {
		t.Errorf("History(Max: -1) len = %d, want 60", len(everything))
	}
}

func TestSnapshotsAreCopies(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	s.Create(ctx, "s", nil)
	appendAgent(ctx, s, "s", agent, "original", map[string]interface{}{"k": "v"})

	snap, _ := s.Get(ctx, "s")
	snap.Turns[0].Content = "mutated"
	snap.Turns[0].Metadata["k"] = "mutated"

	hist, _ := s.History(ctx, "s", sessions.HistoryQuery{})
	if hist[0].Content != "original" || hist[0].Metadata["k"] != "v" {
		t.Errorf("stored turn changed through a snapshot: %+v", hist[0])
	}
}

// ─── Clear / Delete / Stats ──────────────────────────────────

func TestClearKeepsSessionAndSeq(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	s.Create(ctx, "s", nil)
	appendUser(ctx, s, "s", "one")
	appendUser(ctx, s, "s", "two")

	if err := s.Clear(ctx, "s"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	got, _ := s.Get(ctx, "s")
	if len(got.Turns) != 0 {
		t.Errorf("Get().Turns len = %d after Clear, want 0", len(got.Turns))
	}
	next, _ := appendUser(ctx, s, "s", "three")
	if next.Seq != 3 {
		t.Errorf("Seq after Clear = %d, want 3", next.Seq)
	}
}

func TestStatsAndList(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock)
	ctx := context.Background()

	s.Create(ctx, "old", nil)
	clock.Advance(time.Minute)
	s.Create(ctx, "new", nil)
	appendUser(ctx, s, "new", "hi")
	appendAgent(ctx, s, "new", agent, "hello", nil)
	appendAgent(ctx, s, "new", agent, "again", nil)

	st, err := s.Stats(ctx, "new")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if st.UserTurns != 1 || st.AgentTurns != 2 || st.AgentCounts["mathew"] != 2 {
		t.Errorf("Stats() = %+v, want 1 user turn and 2 mathew turns", st)
	}

	list := s.List(ctx)
	if len(list) != 2 || list[0].ID != "new" {
		t.Errorf("List() = %+v, want new first", list)
	}
}

// ─── Stale sweep ─────────────────────────────────────────────

func TestSweepStale(t *testing.T) {
	clock := newFakeClock()
	var reaped int
	s := sessions.NewMemoryStore(sessions.Options{
		Now:          clock.Now,
		StaleTimeout: time.Hour,
		OnReap:       func(n int) { reaped += n },
	})
	ctx := context.Background()

	s.Create(ctx, "idle", nil)
	s.Create(ctx, "busy", nil)
	clock.Advance(50 * time.Minute)
	appendUser(ctx, s, "busy", "still here")
	clock.Advance(20 * time.Minute)

	if n := s.SweepStale(ctx); n != 1 {
		t.Errorf("SweepStale() = %d, want 1", n)
	}
	if _, err := s.Get(ctx, "idle"); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Errorf("Get(idle) error = %v, want ErrSessionNotFound", err)
	}
	if _, err := s.Get(ctx, "busy"); err != nil {
		t.Errorf("Get(busy) error = %v", err)
	}
	if reaped != 1 {
		t.Errorf("OnReap total = %d, want 1", reaped)
	}
}

func TestCreate_SweepsOpportunistically(t *testing.T) {
	clock := newFakeClock()
	s := sessions.NewMemoryStore(sessions.Options{
		Now:           clock.Now,
		StaleTimeout:  time.Hour,
		SweepInterval: 15 * time.Minute,
	})
	ctx := context.Background()

	s.Create(ctx, "idle", nil)
	clock.Advance(2 * time.Hour)
	s.Create(ctx, "fresh", nil)

	if s.Len() != 1 {
		t.Errorf("Len() = %d after opportunistic sweep, want 1", s.Len())
	}
}

func TestJanitorRunCycle(t *testing.T) {
	clock := newFakeClock()
	s := sessions.NewMemoryStore(sessions.Options{Now: clock.Now, StaleTimeout: time.Minute})
	ctx := context.Background()
	s.Create(ctx, "a", nil)
	s.Create(ctx, "b", nil)
	clock.Advance(time.Hour)

	j := sessions.NewJanitor(s, time.Minute)
	if n := j.RunCycle(ctx); n != 2 {
		t.Errorf("RunCycle() = %d, want 2", n)
	}
}

func TestJanitorStopsOnCancel(t *testing.T) {
	j := sessions.NewJanitor(newTestStore(t, nil), time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		j.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}

// ─── Concurrency ─────────────────────────────────────────────

func TestConcurrentAppends(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	s.Create(ctx, "s", nil)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				appendUser(ctx, s, "s", fmt.Sprintf("%d-%d", w, i))
				s.History(ctx, "s", sessions.HistoryQuery{Max: 5})
			}
		}(w)
	}
	wg.Wait()

	hist, _ := s.History(ctx, "s", sessions.HistoryQuery{Max: -1})
	if len(hist) != 400 {
		t.Fatalf("History() len = %d, want 400", len(hist))
	}
	for i := 1; i < len(hist); i++ {
		if hist[i].Seq != hist[i-1].Seq+1 {
			t.Fatalf("Seq gap at %d: %d then %d", i, hist[i-1].Seq, hist[i].Seq)
		}
		if hist[i].Timestamp.Before(hist[i-1].Timestamp) {
			t.Fatalf("timestamp went backwards at %d", i)
		}
	}
}

func contents(turns []models.Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.Content
	}
	return out
}
