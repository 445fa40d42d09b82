package drive

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

type staticTokens struct {
	token    string
	reauths  int32
	reauthFn func()
}

func (s *staticTokens) GetAccessToken(context.Context) (string, error) {
	return s.token, nil
}

func (s *staticTokens) ReauthenticateWithConsent(context.Context) (string, error) {
	atomic.AddInt32(&s.reauths, 1)
	if s.reauthFn != nil {
		s.reauthFn()
	}
	return s.token, nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *staticTokens) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	tokens := &staticTokens{token: "at-test"}
	client := NewClient(tokens, &Options{
		APIBase:    server.URL,
		UploadBase: server.URL,
	})
	return client, tokens
}

func TestMetadata(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer at-test" {
			t.Errorf("Authorization = %q, want Bearer at-test", got)
		}
		if r.URL.Path != "/files/f1" {
			t.Errorf("path = %q, want /files/f1", r.URL.Path)
		}
		if fields := r.URL.Query().Get("fields"); fields == "" {
			t.Error("metadata fetch without a field mask")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"f1","name":"notes.td","mimeType":"text/html","headRevisionId":"r7","modifiedTime":"2026-08-01T12:00:00Z"}`))
	})

	meta, err := client.Metadata(context.Background(), "f1")
	if err != nil {
		t.Fatalf("Metadata() failed: %v", err)
	}
	if meta.ID != "f1" || meta.Name != "notes.td" || meta.HeadRevisionID != "r7" {
		t.Errorf("Metadata() = %+v", meta)
	}
}

func TestDownload(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("alt") != "media" {
			t.Errorf("download without alt=media: %s", r.URL.String())
		}
		_, _ = w.Write([]byte("document body"))
	})

	content, err := client.Download(context.Background(), "f1")
	if err != nil {
		t.Fatalf("Download() failed: %v", err)
	}
	if string(content) != "document body" {
		t.Errorf("Download() = %q", content)
	}
}

func TestUpload(t *testing.T) {
	var gotBody string
	client, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Query().Get("uploadType") != "media" {
			t.Errorf("unexpected upload request: %s %s", r.Method, r.URL.String())
		}
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		_, _ = w.Write([]byte(`{"id":"f1"}`))
	})

	if err := client.Upload(context.Background(), "f1", []byte("new body")); err != nil {
		t.Fatalf("Upload() failed: %v", err)
	}
	if gotBody != "new body" {
		t.Errorf("uploaded body = %q", gotBody)
	}
	if atomic.LoadInt32(&tokens.reauths) != 0 {
		t.Error("re-authentication triggered for a clean upload")
	}
}

// TestUploadRetriesOnceAfterForbidden covers the permission-loss path: the
// first 403 forces one re-consent round and one retry, a second 403 gives up.
func TestUploadRetriesOnceAfterForbidden(t *testing.T) {
	t.Run("retry succeeds", func(t *testing.T) {
		var consented atomic.Bool
		var attempts int32
		client, tokens := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			atomic.AddInt32(&attempts, 1)
			if !consented.Load() {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			_, _ = w.Write([]byte(`{"id":"f1"}`))
		})
		tokens.reauthFn = func() { consented.Store(true) }

		if err := client.Upload(context.Background(), "f1", []byte("body")); err != nil {
			t.Fatalf("Upload() failed: %v", err)
		}
		if atomic.LoadInt32(&tokens.reauths) != 1 || atomic.LoadInt32(&attempts) != 2 {
			t.Errorf("reauths = %d, attempts = %d, want 1 and 2",
				atomic.LoadInt32(&tokens.reauths), atomic.LoadInt32(&attempts))
		}
	})

	t.Run("still forbidden", func(t *testing.T) {
		var attempts int32
		client, tokens := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusForbidden)
		})

		err := client.Upload(context.Background(), "f1", []byte("body"))
		if !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("err = %v, want ErrPermissionDenied", err)
		}
		if atomic.LoadInt32(&tokens.reauths) != 1 || atomic.LoadInt32(&attempts) != 2 {
			t.Errorf("reauths = %d, attempts = %d, want exactly one retry",
				atomic.LoadInt32(&tokens.reauths), atomic.LoadInt32(&attempts))
		}
	})
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"not found", http.StatusNotFound, `{"error":{"message":"File not found"}}`, ErrNotFound},
		{"forbidden", http.StatusForbidden, `{}`, ErrPermissionDenied},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := client.Metadata(context.Background(), "f1")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	t.Run("api error message surfaced", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"Rate limit exceeded"}}`))
		})
		_, err := client.Metadata(context.Background(), "f1")
		if err == nil || !strings.Contains(err.Error(), "Rate limit exceeded") {
			t.Errorf("err = %v, want the provider message surfaced", err)
		}
	})
}

func TestRename(t *testing.T) {
	var gotBody string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s, want PATCH", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		_, _ = w.Write([]byte(`{"id":"f1","name":"renamed.td"}`))
	})

	if err := client.Rename(context.Background(), "f1", "renamed.td"); err != nil {
		t.Fatalf("Rename() failed: %v", err)
	}
	if gotBody != `{"name":"renamed.td"}` {
		t.Errorf("rename body = %q", gotBody)
	}
}
