package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/mhdmirzan/pose-estimation/internal/client"
	"github.com/mhdmirzan/pose-estimation/internal/inference"
	"github.com/mhdmirzan/pose-estimation/internal/media"
	"github.com/mhdmirzan/pose-estimation/internal/metrics"
	"github.com/mhdmirzan/pose-estimation/internal/samples"
	"github.com/mhdmirzan/pose-estimation/internal/store"
	"github.com/mhdmirzan/pose-estimation/internal/types"
	"github.com/mhdmirzan/pose-estimation/internal/utils"
)

const (
	sourceUpload = "upload"
	sourceSample = "sample"

	headerFrames    = "X-Pose-Frames"
	headerTruncated = "X-Pose-Truncated"
)

// Engine produces annotated media. *inference.Engine is the production implementation.
type Engine interface {
	AnnotateImage(ctx context.Context, data []byte) ([]byte, error)
	AnnotateVideo(ctx context.Context, inPath, outPath string) (inference.VideoStats, error)
}

type Config struct {
	UploadDir     string
	ResultsDir    string
	MaxImageBytes int64
	MaxVideoBytes int64
	ModelName     string
}

type Handler struct {
	engine  Engine
	samples *samples.Catalog
	runs    store.Recorder
	metrics *metrics.Metrics
	cfg     Config
	logger  *slog.Logger
}

func NewHandler(engine Engine, catalog *samples.Catalog, runs store.Recorder, m *metrics.Metrics, cfg Config, logger *slog.Logger) *Handler {
	if runs == nil {
		runs = store.Nop{}
	}
	if m == nil {
		m = metrics.New()
	}
	return &Handler{
		engine:  engine,
		samples: catalog,
		runs:    runs,
		metrics: m,
		cfg:     cfg,
		logger:  logger.With("handler", "predict"),
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.GET("/metrics", echo.WrapHandler(h.metrics.Handler()))

	api := e.Group("/api")
	api.POST("/predict/image", h.PredictImage)
	api.POST("/predict/video", h.PredictVideo)
	api.GET("/samples/images", h.ListSamples(media.Image))
	api.GET("/samples/videos", h.ListSamples(media.Video))
	api.GET("/predict/sample/image/:filename", h.PredictSampleImage)
	api.POST("/predict/sample/image/:filename", h.PredictSampleImage)
	api.POST("/predict/sample/video/:filename", h.PredictSampleVideo)

	e.Static("/samples/images", h.samples.Dir(media.Image))
	e.Static("/samples/videos", h.samples.Dir(media.Video))
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
		"model":  h.cfg.ModelName,
	})
}

func (h *Handler) ListSamples(kind media.Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		files, err := h.samples.List(kind)
		if err != nil {
			h.logger.Error("failed to list samples", "kind", kind, "error", err)
			return InternalError("samples_unavailable", "failed to list samples")
		}
		return c.JSON(http.StatusOK, map[string][]string{"files": files})
	}
}

func (h *Handler) PredictImage(c echo.Context) error {
	started := time.Now()
	fh, err := h.upload(c, media.Image, h.cfg.MaxImageBytes)
	if err != nil {
		return err
	}

	data, err := readPart(fh)
	if err != nil {
		return BadRequest("unreadable_upload", "failed to read uploaded file")
	}

	out, err := h.engine.AnnotateImage(c.Request().Context(), data)
	h.finish(c, store.Run{Kind: media.Image.String(), Source: sourceUpload, Name: fh.Filename, Fingerprint: utils.Fingerprint(data), BytesIn: int64(len(data)), BytesOut: int64(len(out))}, started, err)
	if err != nil {
		return h.predictionError(media.Image, err)
	}
	return c.Blob(http.StatusOK, media.Classify(media.Image).ResultContentType, out)
}

func (h *Handler) PredictSampleImage(c echo.Context) error {
	started := time.Now()
	name, err := sampleParam(c)
	if err != nil {
		return err
	}

	data, err := h.samples.Read(media.Image, name)
	if err != nil {
		if !errors.Is(err, samples.ErrSampleNotFound) {
			h.logger.Error("failed to read sample", "name", name, "error", err)
		}
		return h.predictionError(media.Image, err)
	}

	out, err := h.engine.AnnotateImage(c.Request().Context(), data)
	h.finish(c, store.Run{Kind: media.Image.String(), Source: sourceSample, Name: name, Fingerprint: utils.Fingerprint(data), BytesIn: int64(len(data)), BytesOut: int64(len(out))}, started, err)
	if err != nil {
		return h.predictionError(media.Image, err)
	}
	return c.Blob(http.StatusOK, media.Classify(media.Image).ResultContentType, out)
}

func (h *Handler) PredictVideo(c echo.Context) error {
	started := time.Now()
	fh, err := h.upload(c, media.Video, h.cfg.MaxVideoBytes)
	if err != nil {
		return err
	}

	inPath, fingerprint, err := h.saveUpload(fh)
	if err != nil {
		h.logger.Error("failed to store upload", "name", fh.Filename, "error", err)
		return InternalError("upload_failed", "failed to store uploaded file")
	}
	defer h.remove(inPath)

	return h.serveVideo(c, inPath, store.Run{Kind: media.Video.String(), Source: sourceUpload, Name: fh.Filename, Fingerprint: fingerprint, BytesIn: fh.Size}, started)
}

func (h *Handler) PredictSampleVideo(c echo.Context) error {
	started := time.Now()
	name, err := sampleParam(c)
	if err != nil {
		return err
	}

	path, err := h.samples.Path(media.Video, name)
	if err != nil {
		return h.predictionError(media.Video, err)
	}
	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	// Samples are large and stable on disk, so the cheap stat-based id is enough.
	fingerprint, _ := utils.FingerprintFile(path)

	return h.serveVideo(c, path, store.Run{Kind: media.Video.String(), Source: sourceSample, Name: name, Fingerprint: fingerprint, BytesIn: size}, started)
}

// serveVideo annotates inPath into a temporary result, streams it back and
// removes it once the response is written.
func (h *Handler) serveVideo(c echo.Context, inPath string, run store.Run, started time.Time) error {
	if err := os.MkdirAll(h.cfg.ResultsDir, 0755); err != nil {
		return InternalError("results_unavailable", "failed to prepare results directory")
	}
	outPath := filepath.Join(h.cfg.ResultsDir, uuid.NewString()+"_pose"+media.Classify(media.Video).ResultExtension)
	defer h.remove(outPath)

	stats, err := h.engine.AnnotateVideo(c.Request().Context(), inPath, outPath)
	run.Frames = stats.Frames
	if err == nil {
		if info, statErr := os.Stat(outPath); statErr == nil {
			run.BytesOut = info.Size()
		}
	}
	if stats.Truncated {
		run.Status = types.RunTruncated
	}
	h.metrics.VideoFrames.Add(float64(stats.Frames))
	h.finish(c, run, started, err)
	if err != nil {
		return h.predictionError(media.Video, err)
	}

	if stats.Truncated {
		h.metrics.Truncated.Inc()
		c.Response().Header().Set(headerTruncated, "true")
	}
	c.Response().Header().Set(headerFrames, strconv.Itoa(stats.Frames))
	c.Response().Header().Set(echo.HeaderContentType, media.Classify(media.Video).ResultContentType)
	return c.File(outPath)
}

// upload pulls the multipart file and checks its size and extension.
func (h *Handler) upload(c echo.Context, kind media.Kind, limit int64) (*multipart.FileHeader, error) {
	fh, err := c.FormFile(client.UploadField)
	if err != nil {
		if isBodyTooLarge(err) {
			return nil, PayloadTooLarge("file_too_large", fmt.Sprintf("%s exceeds the size limit", kind))
		}
		return nil, BadRequest("missing_file", "multipart field \"file\" is required")
	}
	if limit > 0 && fh.Size > limit {
		return nil, PayloadTooLarge("file_too_large", fmt.Sprintf("%s exceeds %d bytes", kind, limit))
	}
	if err := media.ValidateFile(kind, fh.Filename); err != nil {
		return nil, BadRequest("unsupported_file", err.Error())
	}
	return fh, nil
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	var he *echo.HTTPError
	return errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge
}

// saveUpload stores the upload under a fresh name and returns its path and a
// content fingerprint computed while copying.
func (h *Handler) saveUpload(fh *multipart.FileHeader) (string, string, error) {
	if err := os.MkdirAll(h.cfg.UploadDir, 0755); err != nil {
		return "", "", err
	}
	src, err := fh.Open()
	if err != nil {
		return "", "", err
	}
	defer src.Close()

	path := filepath.Join(h.cfg.UploadDir, uuid.NewString()+strings.ToLower(filepath.Ext(fh.Filename)))
	dst, err := os.Create(path)
	if err != nil {
		return "", "", err
	}
	fingerprint, err := utils.CopyFingerprint(dst, src)
	if err != nil {
		dst.Close()
		os.Remove(path)
		return "", "", err
	}
	return path, fingerprint, dst.Close()
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func sampleParam(c echo.Context) (string, error) {
	name, err := url.PathUnescape(c.Param("filename"))
	if err != nil {
		return "", BadRequest("invalid_sample", "malformed sample name")
	}
	if err := media.ValidateSampleName(name); err != nil {
		return "", BadRequest("invalid_sample", err.Error())
	}
	return name, nil
}

func (h *Handler) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		h.logger.Warn("failed to clean up", "path", path, "error", err)
	}
}

// finish records metrics and the ledger entry for a run. The ledger write
// outlives a disconnected client.
func (h *Handler) finish(c echo.Context, run store.Run, started time.Time, err error) {
	run.Duration = time.Since(started)
	switch {
	case err != nil:
		run.Status = types.RunFailed
		run.Error = err.Error()
	case run.Status == "":
		run.Status = types.RunSucceeded
	}

	h.metrics.Observe(run.Kind, run.Source, string(run.Status), run.Duration)

	ctx := context.WithoutCancel(c.Request().Context())
	if recErr := h.runs.RecordRun(ctx, run); recErr != nil {
		h.logger.Error("failed to record run", "error", recErr)
	}

	attrs := []any{"kind", run.Kind, "source", run.Source, "name", run.Name, "status", run.Status, "duration", run.Duration}
	if err != nil {
		h.logger.Error("prediction failed", append(attrs, "error", err)...)
		return
	}
	h.logger.Info("prediction complete", attrs...)
}

func (h *Handler) predictionError(kind media.Kind, err error) error {
	switch {
	case errors.Is(err, media.ErrInvalidSampleName), errors.Is(err, media.ErrUnsupportedExtension):
		return BadRequest("invalid_sample", err.Error())
	case errors.Is(err, samples.ErrSampleNotFound):
		return NotFound("sample_not_found", err.Error())
	case errors.Is(err, inference.ErrInvalidMedia), errors.Is(err, inference.ErrNoFrames):
		return BadRequest("invalid_media", fmt.Sprintf("%s could not be decoded", kind))
	default:
		return InternalError("prediction_failed", fmt.Sprintf("error processing %s", kind))
	}
}
