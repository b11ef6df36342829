// Package inference turns uploaded media into pose-annotated media using a
// frame annotator (normally the worker pool).
package inference

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/mhdmirzan/pose-estimation/internal/types"
	"github.com/mhdmirzan/pose-estimation/internal/utils"
)

const megabyte = 1024 * 1024

var (
	ErrInvalidMedia = errors.New("media could not be decoded")
	ErrNoFrames     = errors.New("video contains no decodable frames")
)

// Annotator draws the pose skeleton on one JPEG frame.
type Annotator interface {
	Annotate(ctx context.Context, frame []byte) ([]byte, error)
}

type Config struct {
	// MaxDimension bounds the longer image side before annotation. 0 disables resizing.
	MaxDimension int
	// ProcessingLimit stops reading new video frames once exceeded. 0 disables it.
	ProcessingLimit time.Duration
	// Concurrency is the number of frames in flight, usually the pool size.
	Concurrency int
	JPEGQuality int
}

type Engine struct {
	annotator Annotator
	cfg       Config
	logger    *slog.Logger
}

func NewEngine(a Annotator, cfg Config, logger *slog.Logger) *Engine {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 90
	}
	return &Engine{annotator: a, cfg: cfg, logger: logger.With("component", "inference")}
}

// AnnotateImage normalises a JPEG or PNG to a bounded JPEG and annotates it.
func (e *Engine) AnnotateImage(ctx context.Context, data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMedia, err)
	}

	if side := e.cfg.MaxDimension; side > 0 {
		b := img.Bounds()
		if b.Dx() > side || b.Dy() > side {
			img = imaging.Fit(img, side, side, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(e.cfg.JPEGQuality)); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	out, err := e.annotator.Annotate(ctx, buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("annotate image: %w", err)
	}
	return out, nil
}

type VideoStats struct {
	FPS         float64
	TotalFrames int // from container metadata, 0 when unknown
	Frames      int // frames written to the result
	Truncated   bool
	Elapsed     time.Duration
}

// AnnotateVideo decodes inPath with ffmpeg, annotates every frame in order and
// encodes the result to outPath as H.264. When the processing limit is hit the
// video written so far is kept and Truncated is set.
func (e *Engine) AnnotateVideo(ctx context.Context, inPath, outPath string) (VideoStats, error) {
	fps, err := utils.GetVideoFPS(ctx, inPath)
	if err != nil {
		return VideoStats{}, fmt.Errorf("%w: %v", ErrInvalidMedia, err)
	}
	total := utils.GetTotalFrames(ctx, inPath)

	decCtx, stopDecoder := context.WithCancel(ctx)
	defer stopDecoder()

	decoder := utils.NewFFmpegDecoder(decCtx, inPath)
	var decLogs bytes.Buffer
	decoder.Stderr = &decLogs
	src, err := decoder.StdoutPipe()
	if err != nil {
		return VideoStats{}, fmt.Errorf("decoder stdout: %w", err)
	}

	encoder := utils.NewFFmpegEncoder(ctx, outPath, fps)
	var encLogs bytes.Buffer
	encoder.Stderr = &encLogs
	sink, err := encoder.StdinPipe()
	if err != nil {
		return VideoStats{}, fmt.Errorf("encoder stdin: %w", err)
	}

	if err := decoder.Start(); err != nil {
		return VideoStats{}, fmt.Errorf("start decoder: %w", err)
	}
	if err := encoder.Start(); err != nil {
		stopDecoder()
		decoder.Wait()
		return VideoStats{}, fmt.Errorf("start encoder: %w", err)
	}

	stats, streamErr := e.annotateStream(ctx, src, sink, total)
	stats.FPS = fps
	stats.TotalFrames = total
	sink.Close()

	if stats.Truncated || streamErr != nil {
		stopDecoder()
		decoder.Wait()
	} else if err := decoder.Wait(); err != nil {
		streamErr = fmt.Errorf("decoder: %w: %s", err, decLogs.String())
	}

	if err := encoder.Wait(); err != nil && streamErr == nil {
		streamErr = fmt.Errorf("encoder: %w: %s", err, encLogs.String())
	}
	if streamErr != nil {
		return stats, streamErr
	}
	if stats.Frames == 0 {
		return stats, ErrNoFrames
	}
	return stats, nil
}

var frameBufferPool = sync.Pool{
	New: func() interface{} { return make([]byte, 0, megabyte) },
}

// annotateStream reads concatenated JPEG frames from src, annotates them
// concurrently and writes the results to dst in source order.
func (e *Engine) annotateStream(ctx context.Context, src io.Reader, dst io.Writer, total int) (VideoStats, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	n := e.cfg.Concurrency
	tasks := make(chan types.FrameTask, n)
	results := make(chan types.FrameResult, n*2)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range tasks {
				out, err := e.annotator.Annotate(ctx, task.Data)
				frameBufferPool.Put(task.Data[:0])
				select {
				case results <- types.FrameResult{Index: task.Index, Data: out, Err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	type writeOutcome struct {
		frames int
		err    error
	}
	writerDone := make(chan writeOutcome, 1)
	go func() {
		frames, err := e.writeOrdered(results, dst, total, cancel)
		writerDone <- writeOutcome{frames, err}
	}()

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	var stats VideoStats
	read := 0
produce:
	for scanner.Scan() {
		if limit := e.cfg.ProcessingLimit; limit > 0 && time.Since(start) >= limit {
			stats.Truncated = true
			e.logger.Warn("processing limit reached, keeping partial video", "frames_read", read, "limit", limit)
			break
		}

		buf := frameBufferPool.Get().([]byte)
		if cap(buf) < len(scanner.Bytes()) {
			buf = make([]byte, len(scanner.Bytes()))
		}
		buf = buf[:len(scanner.Bytes())]
		copy(buf, scanner.Bytes())

		select {
		case tasks <- types.FrameTask{Index: read, Data: buf}:
			read++
		case <-ctx.Done():
			break produce
		}
	}
	scanErr := scanner.Err()

	close(tasks)
	wg.Wait()
	close(results)
	out := <-writerDone

	stats.Frames = out.frames
	stats.Elapsed = time.Since(start)

	switch {
	case out.err != nil:
		return stats, out.err
	case ctx.Err() != nil:
		return stats, ctx.Err()
	case scanErr != nil && !stats.Truncated:
		return stats, fmt.Errorf("frame scanner: %w", scanErr)
	}

	e.logger.Info("video annotated", "frames", stats.Frames, "truncated", stats.Truncated, "elapsed", stats.Elapsed)
	return stats, nil
}

// writeOrdered reassembles results by index. The first failure cancels the
// run; later results are drained and dropped.
func (e *Engine) writeOrdered(results <-chan types.FrameResult, dst io.Writer, total int, cancel context.CancelFunc) (int, error) {
	buffer := make(map[int]types.FrameResult)
	next := 0
	var firstErr error

	for res := range results {
		if firstErr != nil {
			continue
		}
		if res.Err != nil {
			firstErr = fmt.Errorf("frame %d: %w", res.Index, res.Err)
			cancel()
			continue
		}
		buffer[res.Index] = res

		for {
			frame, ok := buffer[next]
			if !ok {
				break
			}
			delete(buffer, next)

			if _, err := dst.Write(frame.Data); err != nil {
				firstErr = fmt.Errorf("write frame %d: %w", next, err)
				cancel()
				break
			}
			next++
			if next%10 == 0 {
				e.logger.Info("video progress", "frames", next, "total", total)
			}
		}
	}
	return next, firstErr
}
