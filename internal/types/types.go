package types

// FrameTask represents a single encoded JPEG frame sent to a worker for annotation
type FrameTask struct {
	Index int
	Data  []byte
}

// FrameResult is the annotated JPEG coming back from a worker for the frame at Index
type FrameResult struct {
	Index int
	Data  []byte
	Err   error
}

// RunStatus is the terminal state recorded for a server-side processing run
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunTruncated RunStatus = "truncated" // video hit the processing ceiling, partial output returned
)
