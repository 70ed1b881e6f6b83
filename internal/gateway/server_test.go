package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/crewd/internal/config"
	"github.com/nextlevelbuilder/crewd/internal/orchestrator"
	"github.com/nextlevelbuilder/crewd/internal/providers"
	"github.com/nextlevelbuilder/crewd/internal/store"
	"github.com/nextlevelbuilder/crewd/pkg/protocol"
)

func testHistory(t *testing.T) store.HistoryStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return s
}

// echoFactory builds single-agent sessions whose leader answers with a
// fixed string.
func echoFactory(answer string) SessionFactory {
	return func() *orchestrator.Orchestrator {
		return orchestrator.New(orchestrator.Options{
			Leader: "Atlas",
			Step: func(ctx context.Context, st *orchestrator.AgentState, extraSystem string, allowedTools []string) (*providers.ChatResponse, error) {
				return &providers.ChatResponse{Content: answer}, nil
			},
		})
	}
}

func newTestServer(t *testing.T, history store.HistoryStore) *httptest.Server {
	t.Helper()
	cfg := config.GatewayConfig{Host: "127.0.0.1", Port: 0}
	s := NewServer(cfg, echoFactory("All good."), history, nil, nil)
	srv := httptest.NewServer(s.BuildMux())
	t.Cleanup(srv.Close)
	return srv
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestChatStreamsNDJSON(t *testing.T) {
	history := testHistory(t)
	srv := newTestServer(t, history)

	resp, err := http.Post(srv.URL+"/api/chat", "application/json",
		strings.NewReader(`{"message": "hello"}`))
	if err != nil {
		t.Fatalf("POST chat: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("content type = %q", ct)
	}

	var events []protocol.StreamEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var ev protocol.StreamEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("bad NDJSON line %q: %v", scanner.Text(), err)
		}
		events = append(events, ev)
	}

	if len(events) == 0 {
		t.Fatal("no events streamed")
	}
	if events[0].Type != protocol.StreamConversation || events[0].ConversationID == "" {
		t.Errorf("first event = %+v, want conversation with fresh id", events[0])
	}
	if last := events[len(events)-1]; last.Type != protocol.StreamDone {
		t.Errorf("last event = %+v, want done", last)
	}
	var answer strings.Builder
	for _, ev := range events {
		if ev.Type == protocol.StreamToken {
			answer.WriteString(ev.Content)
		}
	}
	if answer.String() != "All good." {
		t.Errorf("answer = %q", answer.String())
	}
}

func TestChatRejectsBadRequests(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, err := http.Post(srv.URL+"/api/chat", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/api/chat", "application/json", strings.NewReader(`{"message": ""}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty message status = %d", resp.StatusCode)
	}
}

func TestConversationAPI(t *testing.T) {
	history := testHistory(t)
	srv := newTestServer(t, history)
	ctx := context.Background()

	conv, err := history.Create(ctx, "Findable")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	resp, err := http.Get(srv.URL + "/api/conversations/" + conv.ID)
	if err != nil {
		t.Fatalf("GET conversation: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got store.Conversation
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != conv.ID || got.Title != "Findable" {
		t.Errorf("conversation = %+v", got)
	}

	resp, err = http.Get(srv.URL + "/api/conversations/missing")
	if err != nil {
		t.Fatalf("GET missing: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing conversation status = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/conversations/"+conv.ID, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	if _, err := history.Get(ctx, conv.ID); err == nil {
		t.Error("conversation still present after DELETE")
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	srv := newTestServer(t, testHistory(t))
	resp, err := http.Get(srv.URL + "/api/conversations/search")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 without q", resp.StatusCode)
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no whitelist allows all", nil, "http://anywhere.example", true},
		{"empty origin always allowed", []string{"http://ui.example"}, "", true},
		{"whitelisted origin", []string{"http://ui.example"}, "http://ui.example", true},
		{"wildcard entry", []string{"*"}, "http://anywhere.example", true},
		{"rejected origin", []string{"http://ui.example"}, "http://evil.example", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(config.GatewayConfig{AllowedOrigins: tt.allowed}, nil, nil, nil, nil)
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := s.checkOrigin(r); got != tt.want {
				t.Errorf("checkOrigin = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	if !rl.Enabled() {
		t.Fatal("limiter disabled with positive rpm")
	}

	// Burst allows the first two requests; the third is rejected.
	if !rl.Allow("1.2.3.4") {
		t.Fatal("first request rejected")
	}
	// The fresh bucket must survive its own insertion-time eviction
	// sweep, or every request would start a new full bucket.
	if _, ok := rl.clients["1.2.3.4"]; !ok {
		t.Fatal("client bucket evicted immediately after first request")
	}
	if !rl.Allow("1.2.3.4") {
		t.Fatal("burst request rejected")
	}
	if rl.Allow("1.2.3.4") {
		t.Error("request over burst allowed")
	}
	// Other clients have their own bucket.
	if !rl.Allow("5.6.7.8") {
		t.Error("fresh client rejected")
	}

	unlimited := NewRateLimiter(0, 5)
	if unlimited.Enabled() {
		t.Error("limiter enabled with rpm 0")
	}
	for i := 0; i < 100; i++ {
		if !unlimited.Allow("1.2.3.4") {
			t.Fatal("disabled limiter rejected a request")
		}
	}
}
