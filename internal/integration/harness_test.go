package integration

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"huddle/internal/app"
	"huddle/internal/config"
	"huddle/pkg/client"
	"huddle/pkg/types"
)

const waitTimeout = 5 * time.Second

type harness struct {
	app    *app.Application
	server *httptest.Server
	wsURL  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(dir, "huddle.db")
	cfg.Files.Dir = filepath.Join(dir, "files")
	cfg.Auth.JWTSecret = "integration-test-secret"
	cfg.HTTP.RateLimitPerMinute = 0
	cfg.Delivery.RateLimitPerMinute = 10000

	a, err := app.NewApplication(cfg)
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}
	t.Cleanup(a.Close)

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	return &harness{
		app:    a,
		server: srv,
		wsURL:  "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

func (h *harness) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := h.app.Tokens().Issue(userID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return token
}

func (h *harness) request(t *testing.T, method, path, userID string, body io.Reader, contentType string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, h.server.URL+path, body)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+h.token(t, userID))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

func (h *harness) mustJSON(t *testing.T, method, path, userID string, body interface{}, wantStatus int, dst interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	status, data := h.request(t, method, path, userID, reader, "application/json")
	if status != wantStatus {
		t.Fatalf("%s %s: status %d, want %d (%s)", method, path, status, wantStatus, data)
	}
	if dst != nil {
		if err := json.Unmarshal(data, dst); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
	}
}

func (h *harness) createUsers(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		h.mustJSON(t, http.MethodPost, "/users", id, map[string]string{"id": id, "name": strings.ToUpper(id)}, http.StatusCreated, nil)
	}
}

func (h *harness) createGroup(t *testing.T, owner, groupID string, members ...string) {
	t.Helper()
	h.mustJSON(t, http.MethodPost, "/groups", owner, map[string]interface{}{
		"id":      groupID,
		"name":    groupID,
		"members": members,
	}, http.StatusCreated, nil)
}

func (h *harness) connect(t *testing.T, userID string) *client.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	s, err := client.Dial(ctx, h.wsURL, h.token(t, userID))
	if err != nil {
		t.Fatalf("Dial(%s): %v", userID, err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func (h *harness) history(t *testing.T, path, userID string) []*types.Message {
	t.Helper()
	var page struct {
		Messages []*types.Message `json:"messages"`
	}
	h.mustJSON(t, http.MethodGet, path, userID, nil, http.StatusOK, &page)
	return page.Messages
}

func (h *harness) onlineUsers(t *testing.T) int {
	t.Helper()
	var health struct {
		Connections map[string]int `json:"connections"`
	}
	h.mustJSON(t, http.MethodGet, "/health", "", nil, http.StatusOK, &health)
	return health.Connections["online_users"]
}

func (h *harness) upload(t *testing.T, userID, groupID, filename string, content []byte) *types.Message {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	_, _ = part.Write(content)
	_ = mw.Close()

	status, data := h.request(t, http.MethodPost, "/groups/"+groupID+"/files", userID, &buf, mw.FormDataContentType())
	if status != http.StatusCreated {
		t.Fatalf("upload: status %d (%s)", status, data)
	}
	var resp struct {
		Message *types.Message `json:"message"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("decode upload: %v", err)
	}
	return resp.Message
}

// nextMessage waits for the next pushed message of kind, skipping acks and
// other kinds.
func nextMessage(t *testing.T, s *client.Session, kind string) *types.Message {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				t.Fatalf("session closed while waiting for %s", kind)
			}
			if ev.Kind != kind {
				continue
			}
			msg, err := ev.Message()
			if err != nil {
				t.Fatalf("decode %s: %v", kind, err)
			}
			return msg
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
			return nil
		}
	}
}
