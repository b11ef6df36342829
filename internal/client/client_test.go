package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mhdmirzan/pose-estimation/internal/media"
	"github.com/mhdmirzan/pose-estimation/internal/session"
)

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://localhost:8000/"})
	if c.baseURL != "http://localhost:8000" {
		t.Errorf("expected trailing slash trimmed, got %s", c.baseURL)
	}
	if c.httpClient.Timeout != 2*session.DefaultDeadline {
		t.Errorf("expected default timeout %v, got %v", 2*session.DefaultDeadline, c.httpClient.Timeout)
	}
}

func TestClient_Do_Upload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/predict/image" {
			t.Errorf("expected /api/predict/image, got %s", r.URL.Path)
		}
		f, hdr, err := r.FormFile(UploadField)
		if err != nil {
			t.Fatalf("missing form file: %v", err)
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if string(data) != "raw-png" {
			t.Errorf("unexpected upload body %q", data)
		}
		if hdr.Filename != "pose.png" {
			t.Errorf("unexpected filename %s", hdr.Filename)
		}
		if ct := hdr.Header.Get("Content-Type"); ct != "image/png" {
			t.Errorf("unexpected part content type %s", ct)
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte{0xFF, 0xD8, 0xFF, 0xD9})
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL})
	out, err := c.Do(context.Background(), session.Request{
		Kind:     media.Image,
		Endpoint: "/api/predict/image",
		Upload:   &session.UploadedFile{Name: "pose.png", Data: []byte("raw-png"), MimeType: "image/png"},
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if len(out) != 4 || out[0] != 0xFF {
		t.Errorf("unexpected response bytes %X", out)
	}
}

func TestClient_Do_SampleHasNoBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/predict/sample/video/walk.mp4" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.ContentLength > 0 {
			t.Errorf("expected empty body, got %d bytes", r.ContentLength)
		}
		w.Write([]byte("mp4"))
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL})
	out, err := c.Do(context.Background(), session.Request{
		Kind:     media.Video,
		Endpoint: media.Classify(media.Video).SampleEndpoint("walk.mp4"),
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if string(out) != "mp4" {
		t.Errorf("unexpected body %q", out)
	}
}

func TestClient_Do_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model exploded", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL})
	_, err := c.Do(context.Background(), session.Request{Kind: media.Image, Endpoint: "/api/predict/image"})

	var tErr *TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if tErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", tErr.StatusCode)
	}
	if tErr.Body != "model exploded" {
		t.Errorf("unexpected body %q", tErr.Body)
	}
}

func TestClient_Do_TimeoutIsNetTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL, Timeout: 20 * time.Millisecond})
	_, err := c.Do(context.Background(), session.Request{Kind: media.Image, Endpoint: "/api/predict/image"})
	if err == nil {
		t.Fatal("expected error")
	}
	var netErr interface{ Timeout() bool }
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Errorf("expected a timeout error in the chain, got %v", err)
	}
}

func TestClient_ListSamples(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/samples/videos" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string][]string{"files": {"b.mp4", "a.mp4", "a.mp4"}})
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL})
	files, err := c.ListSamples(context.Background(), media.Video)
	if err != nil {
		t.Fatalf("ListSamples failed: %v", err)
	}
	want := []string{"b.mp4", "a.mp4", "a.mp4"}
	if len(files) != len(want) {
		t.Fatalf("expected %v, got %v", want, files)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %s, want %s", i, files[i], want[i])
		}
	}
}

func TestClient_IsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	if !NewClient(Config{BaseURL: server.URL}).IsAvailable(context.Background()) {
		t.Error("expected server to be available")
	}
	if NewClient(Config{BaseURL: "http://127.0.0.1:1"}).IsAvailable(context.Background()) {
		t.Error("expected unreachable server to be unavailable")
	}
}

func TestClient_WithOrchestrator(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("annotated"))
	}))
	defer server.Close()

	o := session.New(NewClient(Config{BaseURL: server.URL}))
	defer o.Close()

	if err := o.SubmitSample("pose.jpg", media.Image); err != nil {
		t.Fatal(err)
	}
	select {
	case <-o.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("cycle did not resolve")
	}
	if got := string(o.View().Result.Data); got != "annotated" {
		t.Errorf("expected annotated result, got %q", got)
	}
}
