package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mhdmirzan/pose-estimation/internal/media"
	"github.com/mhdmirzan/pose-estimation/internal/session"
)

func TestValidateAnalyzeOptions(t *testing.T) {
	tests := []struct {
		name    string
		opts    AnalyzeOptions
		want    media.Kind
		wantErr bool
	}{
		{"image file", AnalyzeOptions{Kind: "image", File: "me.jpg", Deadline: time.Second}, media.Image, false},
		{"video sample", AnalyzeOptions{Kind: "Video", Sample: "walk.mp4", Deadline: time.Second}, media.Video, false},
		{"both sources", AnalyzeOptions{Kind: "image", File: "a.jpg", Sample: "b.jpg", Deadline: time.Second}, "", true},
		{"no source", AnalyzeOptions{Kind: "image", Deadline: time.Second}, "", true},
		{"unknown kind", AnalyzeOptions{Kind: "audio", File: "a.mp3", Deadline: time.Second}, "", true},
		{"zero deadline", AnalyzeOptions{Kind: "image", File: "a.jpg"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := validateAnalyzeOptions(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validateAnalyzeOptions() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("validateAnalyzeOptions() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestWriteResult(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	path, err := writeResult(dir, session.Reference{Data: []byte("mp4"), Filename: "pose_result.mp4"})
	if err != nil {
		t.Fatalf("writeResult failed: %v", err)
	}
	if path != filepath.Join(dir, "pose_result.mp4") {
		t.Errorf("unexpected path %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "mp4" {
		t.Errorf("result not written: %q %v", data, err)
	}

	if _, err := writeResult(dir, session.Reference{Filename: "pose_result.jpg"}); err == nil {
		t.Error("expected an error for an empty result")
	}
}

func TestResolveDSN(t *testing.T) {
	old := dbURL
	t.Cleanup(func() { dbURL = old })

	dbURL = ""
	t.Setenv("POSTGRES_HOST", "")
	if dsn, explicit := resolveDSN(); explicit || dsn != "postgres://localhost:5432/pose" {
		t.Errorf("expected local default, got %s explicit=%v", dsn, explicit)
	}

	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "pose")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_DB", "ledger")
	t.Setenv("POSTGRES_PORT", "")
	if dsn, explicit := resolveDSN(); !explicit || dsn != "postgres://pose:secret@db:5432/ledger" {
		t.Errorf("expected env DSN, got %s explicit=%v", dsn, explicit)
	}

	dbURL = "postgres://flag/wins"
	if dsn, explicit := resolveDSN(); !explicit || dsn != dbURL {
		t.Errorf("expected flag DSN, got %s", dsn)
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := map[string]string{
		"serve":   dbOptional,
		"analyze": "",
		"samples": "",
		"runs":    dbRequired,
		"reset":   dbOptional,
	}
	for name, mode := range want {
		c, _, err := rootCmd.Find([]string{name})
		if err != nil || c.Name() != name {
			t.Errorf("command %s not registered", name)
			continue
		}
		if got := c.Annotations[dbAnnotation]; got != mode {
			t.Errorf("%s db mode = %q, want %q", name, got, mode)
		}
	}
}

func TestResolveResetTargets(t *testing.T) {
	tests := []struct {
		name                string
		runs, files, haveDB bool
		want                resetTargets
	}{
		{"default with ledger", false, false, true, resetTargets{runs: true, files: true}},
		{"default without ledger clears files", false, false, false, resetTargets{files: true, skipRuns: true}},
		{"explicit runs without ledger", true, false, false, resetTargets{runs: true}},
		{"files only", false, true, false, resetTargets{files: true}},
		{"both explicit", true, true, true, resetTargets{runs: true, files: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveResetTargets(tt.runs, tt.files, tt.haveDB); got != tt.want {
				t.Errorf("resolveResetTargets(%v, %v, %v) = %+v, want %+v", tt.runs, tt.files, tt.haveDB, got, tt.want)
			}
		})
	}
}
