package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Server struct {
	Addr       string
	SamplesDir string
	UploadDir  string
	ResultsDir string

	WorkerCommand []string
	Engines       int
	FrameTimeout  time.Duration

	MaxImageBytes        int64
	MaxVideoBytes        int64
	MaxImageDimension    int
	VideoProcessingLimit time.Duration

	LogLevel  string
	ModelName string
}

func LoadServer() *Server {
	return &Server{
		Addr:       getEnv("SERVER_ADDR", ":8000"),
		SamplesDir: getEnv("SAMPLES_DIR", "."),
		UploadDir:  getEnv("UPLOAD_DIR", "uploads"),
		ResultsDir: getEnv("RESULTS_DIR", "results"),

		WorkerCommand: strings.Fields(getEnv("WORKER_CMD", "python3 -u python/pose_worker.py")),
		Engines:       getEnvInt("ENGINES", 2),
		FrameTimeout:  getEnvDuration("FRAME_TIMEOUT", 10*time.Second),

		MaxImageBytes:        int64(getEnvInt("MAX_IMAGE_BYTES", 10<<20)),
		MaxVideoBytes:        int64(getEnvInt("MAX_VIDEO_BYTES", 50<<20)),
		MaxImageDimension:    getEnvInt("MAX_IMAGE_DIMENSION", 1280),
		VideoProcessingLimit: getEnvDuration("VIDEO_PROCESSING_LIMIT", 60*time.Second),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		ModelName: getEnv("MODEL_NAME", "yolo11m-pose"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if s, err := strconv.Atoi(value); err == nil {
		return time.Duration(s) * time.Second
	}
	return defaultValue
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger returns a JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLogLevel(level),
	}))
}
