package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserve(t *testing.T) {
	m := New()
	m.Observe("image", "upload", "succeeded", 120*time.Millisecond)
	m.Observe("image", "upload", "succeeded", 80*time.Millisecond)
	m.Observe("video", "sample", "failed", time.Second)

	if got := testutil.ToFloat64(m.Predictions.WithLabelValues("image", "upload", "succeeded")); got != 2 {
		t.Errorf("image successes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Predictions.WithLabelValues("video", "sample", "failed")); got != 1 {
		t.Errorf("video failures = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.Duration); got != 2 {
		t.Errorf("expected 2 duration series, got %d", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.VideoFrames.Add(42)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "pose_video_frames_total 42") {
		t.Errorf("frames counter missing from exposition:\n%s", body)
	}
}

func TestNew_Independent(t *testing.T) {
	a, b := New(), New()
	a.VideoFrames.Inc()
	if testutil.ToFloat64(b.VideoFrames) != 0 {
		t.Error("registries should not share state")
	}
}
