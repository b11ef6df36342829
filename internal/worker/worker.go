// Package worker drives Python pose-estimation processes.
//
// Protocol, all integers big-endian uint32:
//
//	request  (stdin): [len][jpeg frame]
//	response (FD 3):  [len][payload]
//	payload:          [status:0][annotated jpeg...] | [status:1][msglen][message]
package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mhdmirzan/pose-estimation/internal/utils"
)

const (
	statusOK    byte = 0
	statusError byte = 1

	// maxResponse guards against a corrupted length header allocating gigabytes.
	maxResponse = 64 * 1024 * 1024
)

var ErrEmptyResponse = errors.New("python worker returned an empty payload")

type Config struct {
	// Command is the executable and its arguments, e.g. python3 -u python/pose_worker.py
	Command []string
	// ReadTimeout bounds a single frame round trip when the context has no deadline.
	ReadTimeout time.Duration
}

type PythonWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration
}

// NewPythonWorker starts one model process. The process is killed when ctx is done.
func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("worker %d: no command configured", id)
	}

	// stderr is captured so a crashed engine can be diagnosed.
	py := utils.NewSafeCommand(ctx, cfg.Command[0], cfg.Command[1:]...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: cfg.ReadTimeout,
	}, nil
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Annotate sends one JPEG frame and returns the annotated JPEG.
func (w *PythonWorker) Annotate(ctx context.Context, frame []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if d, ok := w.DataPipe.(deadliner); ok {
		deadline, has := ctx.Deadline()
		if !has && w.ReadTimeout > 0 {
			deadline, has = time.Now().Add(w.ReadTimeout), true
		}
		if has {
			_ = d.SetReadDeadline(deadline)
			defer d.SetReadDeadline(time.Time{})
		}
	}

	resp, err := w.communicate(frame)
	if err != nil {
		return nil, err
	}
	return decodeResponse(resp)
}

func (w *PythonWorker) communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // EOF here means the process died before answering
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponse {
		return nil, fmt.Errorf("python worker response too large: %d bytes", respLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

func decodeResponse(resp []byte) ([]byte, error) {
	if len(resp) == 0 {
		return nil, ErrEmptyResponse
	}

	switch resp[0] {
	case statusOK:
		if len(resp) == 1 {
			return nil, ErrEmptyResponse
		}
		return resp[1:], nil
	case statusError:
		r := bytes.NewReader(resp[1:])
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("python worker error: malformed error payload")
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("python worker error: truncated message")
		}
		return nil, fmt.Errorf("python worker error: %s", msg)
	default:
		return nil, fmt.Errorf("python worker returned unknown status %d", resp[0])
	}
}

// Close shuts the pipes and waits for the process to exit.
func (w *PythonWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}

// Logs returns whatever the process wrote to stderr.
func (w *PythonWorker) Logs() string {
	if w.Cmd == nil {
		return ""
	}
	return w.Cmd.Stderr.String()
}
