package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// mockRoundTripper is an in-memory bucket answering HEAD and PUT.
type mockRoundTripper struct {
	mu    sync.Mutex
	state map[string][]byte
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch req.Method {
	case http.MethodHead:
		if body, ok := m.state[key]; ok {
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{
				"Content-Length": {strconv.Itoa(len(body))},
			}}, nil
		}
		return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}, nil
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		m.state[key] = body
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{
			"ETag": {"\"etag123\""},
		}}, nil
	}
	return &http.Response{StatusCode: http.StatusMethodNotAllowed, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}, nil
}

func newMockUploader(t *testing.T, prefix string) (*Uploader, *mockRoundTripper) {
	t.Helper()
	rt := &mockRoundTripper{state: make(map[string][]byte)}
	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
	})
	return newUploader(client, Config{Bucket: "datasets", Prefix: prefix}), rt
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Error("Expected error without bucket")
	}
}

func TestKey(t *testing.T) {
	u, _ := newMockUploader(t, "runs")
	if u.RunID() == "" {
		t.Fatal("Expected run id")
	}
	want := "runs/" + u.RunID() + "/sub/a.hdf5"
	if got := u.Key(filepath.Join("sub", "a.hdf5")); got != want {
		t.Errorf("Expected key %s, got %s", want, got)
	}

	other, _ := newMockUploader(t, "runs")
	if other.RunID() == u.RunID() {
		t.Error("Expected a fresh run id per uploader")
	}
}

func TestUploadDir(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"dataset.txt":       "dataset_0.hdf5\n",
		"dataset_0.hdf5":    "shard payload",
		"nested/images.txt": "a.jpeg 1\n",
	}
	for rel, content := range files {
		p := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	u, rt := newMockUploader(t, "runs")
	keys, err := u.UploadDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("UploadDir failed: %v", err)
	}
	if len(keys) != len(files) {
		t.Fatalf("Expected %d keys, got %d", len(files), len(keys))
	}
	for i := 1; i < len(keys); i++ {
		if keys[i] <= keys[i-1] {
			t.Errorf("Keys not in lexical order: %v", keys)
		}
	}
	for rel, content := range files {
		body, ok := rt.state[u.Key(rel)]
		if !ok {
			t.Errorf("Missing object for %s", rel)
			continue
		}
		if !bytes.Contains(body, []byte(content)) {
			t.Errorf("Object %s does not contain file content", rel)
		}
	}
}

func TestPutFileCreateOnly(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	u, _ := newMockUploader(t, "")
	if _, err := u.PutFile(context.Background(), p, "a.txt"); err != nil {
		t.Fatalf("PutFile failed: %v", err)
	}
	if _, err := u.PutFile(context.Background(), p, "a.txt"); !errors.Is(err, ErrExists) {
		t.Errorf("Expected ErrExists on second upload, got %v", err)
	}
}
