package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/agentoven/huddle/internal/api"
	"github.com/agentoven/huddle/internal/api/handlers"
	"github.com/agentoven/huddle/internal/api/middleware"
	"github.com/agentoven/huddle/internal/completion/completiontest"
	"github.com/agentoven/huddle/internal/config"
	"github.com/agentoven/huddle/internal/engine"
	"github.com/agentoven/huddle/internal/intent"
	"github.com/agentoven/huddle/internal/mention"
	"github.com/agentoven/huddle/internal/metrics"
	"github.com/agentoven/huddle/internal/persona"
	"github.com/agentoven/huddle/internal/roster"
	"github.com/agentoven/huddle/internal/router"
	"github.com/agentoven/huddle/internal/sessions"
	"github.com/agentoven/huddle/pkg/models"
)

func newTestServer(t *testing.T, llm *completiontest.Fake, auth *middleware.APIKeyAuth) *httptest.Server {
	t.Helper()
	f := roster.DefaultFile()
	r, err := f.Roster()
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.NewCollector("huddle", reg)
	scanner := mention.New(r)
	tr := router.New(r, intent.New(r, scanner, llm, intent.WithReplyStrategy(intent.ReplyHeuristic)))
	store := sessions.NewMemoryStore(sessions.Options{})
	eng := engine.New(engine.Config{}, engine.Deps{
		Roster:   r,
		Store:    store,
		Router:   tr,
		Scanner:  scanner,
		LLM:      llm,
		Personas: persona.NewStatic(f),
		Metrics:  m,
	})

	cfg := &config.Config{Version: "test"}
	h := handlers.New(eng, store, tr, r)
	srv := httptest.NewServer(api.NewRouter(cfg, h, api.Options{Metrics: m, Gatherer: reg, Auth: auth}))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// readSSE collects every event of an SSE body.
func readSSE(t *testing.T, body io.Reader) []models.Event {
	t.Helper()
	var events []models.Event
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev models.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	require.NoError(t, sc.Err())
	return events
}

func createSession(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp := do(t, http.MethodPost, srv.URL+"/api/v1/sessions", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[models.Session](t, resp).ID
}

func TestHealthAndVersion(t *testing.T) {
	srv := newTestServer(t, completiontest.New(), nil)

	resp := do(t, http.MethodGet, srv.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", decode[map[string]string](t, resp)["status"])

	resp = do(t, http.MethodGet, srv.URL+"/version", "")
	assert.Equal(t, "test", decode[map[string]string](t, resp)["version"])
}

func TestListAgents(t *testing.T) {
	srv := newTestServer(t, completiontest.New(), nil)

	resp := do(t, http.MethodGet, srv.URL+"/api/v1/agents", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[struct {
		Leader string         `json:"leader"`
		Agents []models.Agent `json:"agents"`
	}](t, resp)
	assert.Equal(t, "rahil", body.Leader)
	require.Len(t, body.Agents, 4)
	assert.Equal(t, "rahil", body.Agents[0].ID)
}

func TestSessionLifecycle(t *testing.T) {
	srv := newTestServer(t, completiontest.New(), nil)

	resp := do(t, http.MethodPost, srv.URL+"/api/v1/sessions", `{"id":"demo"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/api/v1/sessions", `{"id":"demo"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/sessions/demo", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/sessions", "")
	assert.Len(t, decode[[]models.SessionStats](t, resp), 1)

	resp = do(t, http.MethodPost, srv.URL+"/api/v1/sessions/demo/clear", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, http.MethodDelete, srv.URL+"/api/v1/sessions/demo", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/sessions/demo", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChat_StreamsPass(t *testing.T) {
	llm := completiontest.New().Reply("siddarth", "Shard the write path first.")
	srv := newTestServer(t, llm, nil)
	id := createSession(t, srv)

	resp := do(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+id+"/chat",
		`{"message":"Hi Siddarth, what's your take on scaling?","mode":"group"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readSSE(t, resp.Body)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, models.EventPassComplete, last.Type)
	assert.Equal(t, models.ReasonQueueEmpty, last.Reason)

	var chunks strings.Builder
	for _, ev := range events {
		if ev.Type == models.EventAgentChunk {
			assert.Equal(t, "siddarth", ev.AgentID)
			chunks.WriteString(ev.Chunk)
		}
	}
	assert.Equal(t, "Shard the write path first.", chunks.String())

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/sessions/"+id+"/history?role=agent", "")
	turns := decode[[]models.Turn](t, resp)
	require.Len(t, turns, 1)
	assert.Equal(t, "siddarth", turns[0].AgentID)
}

func TestChat_Validation(t *testing.T) {
	srv := newTestServer(t, completiontest.New(), nil)
	id := createSession(t, srv)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown session", "/api/v1/sessions/nope/chat", `{"message":"hi"}`, http.StatusNotFound},
		{"empty message", "/api/v1/sessions/" + id + "/chat", `{"message":""}`, http.StatusBadRequest},
		{"bad mode", "/api/v1/sessions/" + id + "/chat", `{"message":"hi","mode":"debate"}`, http.StatusBadRequest},
		{"bad consensus", "/api/v1/sessions/" + id + "/chat", `{"message":"hi","mode":"think_tank","min_consensus":2}`, http.StatusBadRequest},
		{"bad json", "/api/v1/sessions/" + id + "/chat", `{`, http.StatusBadRequest},
		{"bad history max", "/api/v1/sessions/" + id + "/history?max=x", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := http.MethodPost
			if tt.body == "" {
				method = http.MethodGet
			}
			resp := do(t, method, srv.URL+tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestRouteMessage(t *testing.T) {
	llm := completiontest.New().Fail("", errors.New("classifier down"))
	srv := newTestServer(t, llm, nil)

	resp := do(t, http.MethodPost, srv.URL+"/api/v1/route", `{"message":"Bring in the team"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	d := decode[models.RoutingDecision](t, resp)
	assert.Equal(t, models.IntentTeamActivation, d.Intent)
	assert.Equal(t, []string{"rahil", "mathew", "shreyas", "siddarth"}, d.AgentIDs)

	resp = do(t, http.MethodPost, srv.URL+"/api/v1/route", `{"message":"What about Kafka retention?"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, completiontest.New(), nil)
	do(t, http.MethodGet, srv.URL+"/health", "")

	resp := do(t, http.MethodGet, srv.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "huddle_http_requests_total")
}

func TestAPIKeyRequired(t *testing.T) {
	srv := newTestServer(t, completiontest.New(), middleware.NewAPIKeyAuth([]string{"secret"}))

	resp := do(t, http.MethodGet, srv.URL+"/api/v1/agents", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebSocket_PingAndChat(t *testing.T) {
	srv := newTestServer(t, completiontest.New(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"type": "ping"}))
	var pong map[string]interface{}
	require.NoError(t, wsjson.Read(ctx, conn, &pong))
	assert.Equal(t, "pong", pong["type"])

	require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"type": "chat", "message": "Hello"}))

	var session map[string]interface{}
	require.NoError(t, wsjson.Read(ctx, conn, &session))
	assert.Equal(t, "session", session["type"])
	assert.NotEmpty(t, session["session_id"])

	var last models.Event
	for {
		var ev models.Event
		require.NoError(t, wsjson.Read(ctx, conn, &ev))
		last = ev
		if ev.Type == models.EventPassComplete {
			break
		}
	}
	assert.Equal(t, models.ReasonQueueEmpty, last.Reason)
	assert.Equal(t, session["session_id"], last.SessionID)
}
