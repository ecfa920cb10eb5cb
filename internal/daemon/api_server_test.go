package daemon

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ripforge/internal/api"
	"ripforge/internal/logging"
)

func newTestAPI(t *testing.T, origins ...string) (*Daemon, *httptest.Server) {
	t.Helper()
	cfg := testConfig(t)
	d := newTestDaemon(t, cfg, &fakeWatcher{}, Options{})
	s := newAPIServer("127.0.0.1:0", origins, d, logging.NewNop())
	if s == nil {
		t.Fatal("expected api server")
	}
	srv := httptest.NewServer(s.server.Handler)
	t.Cleanup(srv.Close)
	return d, srv
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestNewAPIServerDisabled(t *testing.T) {
	if s := newAPIServer("  ", nil, nil, nil); s != nil {
		t.Fatal("empty bind must disable the api")
	}
}

func TestAPICORS(t *testing.T) {
	_, srv := newTestAPI(t, "http://dashboard.local:3000")

	tests := []struct {
		name   string
		origin string
		want   string
	}{
		{"allowed", "http://dashboard.local:3000", "http://dashboard.local:3000"},
		{"other", "http://evil.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/queue", nil)
			if err != nil {
				t.Fatal(err)
			}
			req.Header.Set("Origin", tt.origin)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("GET queue: %v", err)
			}
			resp.Body.Close()
			if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Fatalf("Access-Control-Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCheckOrigin(t *testing.T) {
	s := &apiServer{origins: []string{"http://dashboard.local:3000"}}
	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{"no origin", "", true},
		{"same host", "http://127.0.0.1:7488", true},
		{"configured", "http://dashboard.local:3000/", true},
		{"foreign", "http://evil.example", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:7488/api/progress", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := s.checkOrigin(req); got != tt.want {
				t.Fatalf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestAPIStatusAndQueue(t *testing.T) {
	d, srv := newTestAPI(t)

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}
	var status api.DaemonStatus
	decodeBody(t, resp, &status)
	if status.Running || status.LockFilePath != d.lockPath {
		t.Fatalf("unexpected status %+v", status)
	}

	movie := filepath.Join(d.cfg.Paths.SourceDir, "Heat.mkv")
	if err := os.WriteFile(movie, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	body, _ := json.Marshal(api.EncodeRequest{Path: movie, KeepSource: true})
	resp, err = http.Post(srv.URL+"/api/jobs/encode", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST encode: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status %d, want 202", resp.StatusCode)
	}
	var enq api.EnqueueResponse
	decodeBody(t, resp, &enq)
	if !enq.Queued || enq.Job.Source != movie {
		t.Fatalf("unexpected enqueue %+v", enq)
	}

	resp, err = http.Post(srv.URL+"/api/jobs/encode", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST encode: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("duplicate status %d, want 200", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/api/jobs/scan", "application/json", nil)
	if err != nil {
		t.Fatalf("POST scan: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("scan status %d, want 202", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/queue")
	if err != nil {
		t.Fatalf("GET queue: %v", err)
	}
	var queue api.QueueListResponse
	decodeBody(t, resp, &queue)
	if len(queue.Items) != 2 || !strings.HasPrefix(queue.Items[0].Name, "Scan Disk") {
		t.Fatalf("unexpected queue %+v", queue.Items)
	}
}

func TestAPIErrors(t *testing.T) {
	_, srv := newTestAPI(t)
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"bad limit", http.MethodGet, "/api/history?limit=x", "", http.StatusBadRequest},
		{"negative limit", http.MethodGet, "/api/history?limit=-1", "", http.StatusBadRequest},
		{"malformed encode", http.MethodPost, "/api/jobs/encode", "{", http.StatusBadRequest},
		{"relative missing file", http.MethodPost, "/api/jobs/encode", `{"path":"nope.mkv"}`, http.StatusBadRequest},
		{"malformed scan", http.MethodPost, "/api/jobs/scan", "[", http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/api/nothing", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("status %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.want == http.StatusBadRequest {
				var e api.ErrorResponse
				if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
					t.Fatalf("expected error body, got %+v (%v)", e, err)
				}
			}
		})
	}
}

func TestAPIHistory(t *testing.T) {
	_, srv := newTestAPI(t)

	resp, err := http.Get(srv.URL + "/api/history?kind=encode&errors=true&limit=5")
	if err != nil {
		t.Fatalf("GET history: %v", err)
	}
	var hist api.HistoryResponse
	decodeBody(t, resp, &hist)
	if hist.Items == nil || len(hist.Items) != 0 {
		t.Fatalf("expected empty non-nil items, got %+v", hist.Items)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/history", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE history: %v", err)
	}
	var cleared map[string]int
	decodeBody(t, resp, &cleared)
	if removed, ok := cleared["removed"]; !ok || removed != 0 {
		t.Fatalf("unexpected clear response %v", cleared)
	}
}

func TestAPIProgressStream(t *testing.T) {
	d, srv := newTestAPI(t)
	d.hub.SetCurrentTask("Scanning disc")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/progress"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first api.Progress
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial: %v", err)
	}
	if first.Task != "Scanning disc" {
		t.Fatalf("unexpected initial progress %+v", first)
	}

	d.hub.SetProgress(2, 8)
	var next api.Progress
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if next.Current != 2 || next.Percent != 25 {
		t.Fatalf("unexpected update %+v", next)
	}
}
