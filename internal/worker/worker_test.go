package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

func writeFrame(buf *bytes.Buffer, payload []byte) {
	binary.Write(buf, binary.BigEndian, uint32(len(payload)))
	buf.Write(payload)
}

func TestAnnotate(t *testing.T) {
	// 1. Setup Mocks
	// stdinMock simulates the pipe TO Python (we write to it)
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	// dataPipeMock simulates the pipe FROM Python (we read from it)
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	// 2. Pre-fill dataPipeMock with a fake response from "Python"
	// Protocol: [Status:0] [Annotated JPEG]
	annotated := []byte{0xFF, 0xD8, 0xCA, 0xFE, 0xFF, 0xD9}
	writeFrame(dataPipeMock.Buffer, append([]byte{statusOK}, annotated...))

	// 3. Create Worker with mocks injected
	w := &PythonWorker{
		ID:       1,
		Stdin:    stdinMock,
		DataPipe: dataPipeMock,
		// Cmd is nil because we aren't testing process management, just the protocol
	}

	// 4. Execute the function under test
	inputFrame := []byte{0xDE, 0xAD, 0xBE, 0xEF} // Fake image bytes
	resp, err := w.Annotate(context.Background(), inputFrame)
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}

	// 5. Assertions

	// Verify Go sent the correct data TO Python
	sentData := stdinMock.Bytes()
	if len(sentData) != 4+len(inputFrame) {
		t.Errorf("Expected %d bytes sent, got %d", 4+len(inputFrame), len(sentData))
	}
	if binary.BigEndian.Uint32(sentData[:4]) != uint32(len(inputFrame)) {
		t.Errorf("Length header mismatch: %X", sentData[:4])
	}

	// Verify Go read the correct data FROM Python
	if !bytes.Equal(resp, annotated) {
		t.Errorf("Expected %X, got %X", annotated, resp)
	}
}

func TestAnnotate_Error(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	// Protocol: [Status:1] [MsgLen] [Msg]
	payload := new(bytes.Buffer)
	payload.WriteByte(statusError)
	errMsg := "Python Exception: Import Error"
	binary.Write(payload, binary.BigEndian, uint32(len(errMsg)))
	payload.WriteString(errMsg)
	writeFrame(dataPipeMock.Buffer, payload.Bytes())

	w := &PythonWorker{ID: 1, Stdin: stdinMock, DataPipe: dataPipeMock}

	_, err := w.Annotate(context.Background(), []byte("frame"))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}
}

func TestAnnotate_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty payload", []byte{}},
		{"status only", []byte{statusOK}},
		{"unknown status", []byte{7, 1, 2}},
		{"truncated error", []byte{statusError, 0, 0, 0, 9, 'x'}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pipe := &MockCloser{Buffer: new(bytes.Buffer)}
			writeFrame(pipe.Buffer, tt.payload)
			w := &PythonWorker{Stdin: &MockCloser{Buffer: new(bytes.Buffer)}, DataPipe: pipe}
			if _, err := w.Annotate(context.Background(), []byte("f")); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestAnnotate_CrashedWorker(t *testing.T) {
	// An empty pipe means Python died before answering.
	w := &PythonWorker{
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: &MockCloser{Buffer: new(bytes.Buffer)},
	}
	_, err := w.Annotate(context.Background(), []byte("f"))
	if !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestAnnotate_CancelledContext(t *testing.T) {
	stdin := &MockCloser{Buffer: new(bytes.Buffer)}
	w := &PythonWorker{Stdin: stdin, DataPipe: &MockCloser{Buffer: new(bytes.Buffer)}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := w.Annotate(ctx, []byte("f")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if stdin.Len() != 0 {
		t.Error("nothing should be written once the context is done")
	}
}

func TestNewPythonWorker_NoCommand(t *testing.T) {
	if _, err := NewPythonWorker(context.Background(), 0, Config{}); err == nil {
		t.Error("expected error without a command")
	}
}

// --- Pool ---

type fakeWorker struct {
	id     int
	fail   bool
	closed atomic.Bool
}

func (f *fakeWorker) Annotate(ctx context.Context, frame []byte) ([]byte, error) {
	if f.fail {
		return nil, errors.New("segfault")
	}
	return append([]byte("pose:"), frame...), nil
}

func (f *fakeWorker) Close() error {
	f.closed.Store(true)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPool_Annotate(t *testing.T) {
	var spawned atomic.Int32
	pool, err := NewPool(context.Background(), 2, func(ctx context.Context, id int) (FrameWorker, error) {
		spawned.Add(1)
		return &fakeWorker{id: id}, nil
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	defer pool.Close()

	if pool.Size() != 2 || spawned.Load() != 2 {
		t.Errorf("expected 2 engines, size=%d spawned=%d", pool.Size(), spawned.Load())
	}

	out, err := pool.Annotate(context.Background(), []byte("frame"))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "pose:frame" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestPool_ReplacesFailedEngine(t *testing.T) {
	var spawned atomic.Int32
	var first *fakeWorker
	pool, err := NewPool(context.Background(), 1, func(ctx context.Context, id int) (FrameWorker, error) {
		n := spawned.Add(1)
		w := &fakeWorker{id: id, fail: n == 1}
		if n == 1 {
			first = w
		}
		return w, nil
	}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	if _, err := pool.Annotate(context.Background(), []byte("a")); err == nil {
		t.Fatal("expected first engine to fail")
	}
	if !first.closed.Load() {
		t.Error("failed engine should be closed")
	}
	if spawned.Load() != 2 {
		t.Errorf("expected a replacement engine, spawned=%d", spawned.Load())
	}

	out, err := pool.Annotate(context.Background(), []byte("b"))
	if err != nil || string(out) != "pose:b" {
		t.Errorf("replacement engine should work: %q %v", out, err)
	}
}

func TestPool_StartupFailure(t *testing.T) {
	var made []*fakeWorker
	_, err := NewPool(context.Background(), 3, func(ctx context.Context, id int) (FrameWorker, error) {
		if id == 2 {
			return nil, errors.New("no GPU")
		}
		w := &fakeWorker{id: id}
		made = append(made, w)
		return w, nil
	}, discardLogger())
	if err == nil {
		t.Fatal("expected startup error")
	}
	for _, w := range made {
		if !w.closed.Load() {
			t.Errorf("engine %d leaked after startup failure", w.id)
		}
	}
}

func TestPool_ClosedAndBusy(t *testing.T) {
	pool, err := NewPool(context.Background(), 1, func(ctx context.Context, id int) (FrameWorker, error) {
		return &fakeWorker{id: id}, nil
	}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	pool.Close()
	if _, err := pool.Annotate(context.Background(), []byte("x")); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed, got %v", err)
	}
}

func TestPool_WaitHonoursContext(t *testing.T) {
	block := make(chan struct{})
	pool, err := NewPool(context.Background(), 1, func(ctx context.Context, id int) (FrameWorker, error) {
		return &blockingWorker{release: block}, nil
	}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	go pool.Annotate(context.Background(), []byte("hog"))
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := pool.Annotate(ctx, []byte("x")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded while all engines busy, got %v", err)
	}
	close(block)
}

type blockingWorker struct {
	release chan struct{}
}

func (b *blockingWorker) Annotate(ctx context.Context, frame []byte) ([]byte, error) {
	<-b.release
	return frame, nil
}

func (b *blockingWorker) Close() error { return nil }
