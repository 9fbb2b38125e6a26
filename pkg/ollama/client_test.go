package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, content string, gotFormat *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model    string          `json:"model"`
			Format   json.RawMessage `json:"format"`
			Messages []struct {
				Images []string `json:"images"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(req.Messages) != 1 || len(req.Messages[0].Images) != 1 {
			http.Error(w, "expected one message with one image", http.StatusBadRequest)
			return
		}
		if gotFormat != nil {
			*gotFormat = string(req.Format)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":   req.Model,
			"message": map[string]string{"role": "assistant", "content": content},
			"done":    true,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClientInvalidURL(t *testing.T) {
	if _, err := NewClient("localhost"); err == nil {
		t.Error("Expected error for URL without scheme")
	}
}

func TestSimpleQuery(t *testing.T) {
	srv := newTestServer(t, "a honeycomb", nil)
	c, err := NewClient(srv.URL + "/api/chat")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	img := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	got, err := c.SimpleQuery(context.Background(), "llava", "what is this?", img)
	if err != nil {
		t.Fatalf("SimpleQuery failed: %v", err)
	}
	if got != "a honeycomb" {
		t.Errorf("Expected model content, got %q", got)
	}
}

func TestDetectTags(t *testing.T) {
	var format string
	srv := newTestServer(t, `{"candidates":[{"box":{"x":0.1,"y":0.1,"w":0.1,"h":0.1},"confidence":0.8}]}`, &format)
	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	img := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	res, err := c.DetectTags(context.Background(), "llava", "find tags", img)
	if err != nil {
		t.Fatalf("DetectTags failed: %v", err)
	}
	if len(res.Candidates) != 1 || res.Candidates[0].Confidence != 0.8 {
		t.Errorf("Unexpected result %+v", res)
	}
	if format != `"json"` {
		t.Errorf("Expected json format request, got %s", format)
	}
}

func TestDetectTagsBadImage(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:1")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if _, err := c.DetectTags(context.Background(), "llava", "p", "%%%"); err == nil {
		t.Error("Expected base64 decode error")
	}
}
