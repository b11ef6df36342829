package session

import (
	"net/http"

	"github.com/mhdmirzan/pose-estimation/internal/media"
)

// Source is the user-chosen input of a cycle: an UploadedFile or a SampleReference.
type Source interface {
	isSource()
	DisplayName() string
}

// UploadedFile carries the raw bytes selected by the user.
type UploadedFile struct {
	Name     string
	Data     []byte
	MimeType string
}

// SampleReference names a server-hosted sample.
type SampleReference struct {
	Filename string
}

func (UploadedFile) isSource()    {}
func (SampleReference) isSource() {}

func (f UploadedFile) DisplayName() string    { return f.Name }
func (s SampleReference) DisplayName() string { return s.Filename }

// ContentType returns the declared MIME type, sniffing the bytes when absent.
func (f UploadedFile) ContentType() string {
	if f.MimeType != "" {
		return f.MimeType
	}
	return http.DetectContentType(f.Data)
}

// Outcome is the single terminal result of a cycle: Success, TimedOut or Failed.
type Outcome interface {
	isOutcome()
}

type Success struct {
	Result []byte
}

type TimedOut struct {
	Message string
}

type Failed struct {
	Message string
	Err     error
}

func (Success) isOutcome()  {}
func (TimedOut) isOutcome() {}
func (Failed) isOutcome()   {}

// Reference is a handle the presentation layer can render or download.
// Path is a server retrieval path; Data holds bytes already in memory.
type Reference struct {
	Path        string
	Data        []byte
	ContentType string
	Filename    string
}

// Empty reports whether the reference points at nothing.
func (r Reference) Empty() bool {
	return r.Path == "" && len(r.Data) == 0
}

// State is the session aggregate. Processing implies Outcome == nil.
type State struct {
	Kind       media.Kind
	Source     Source
	Preview    Reference
	Outcome    Outcome
	Processing bool
}

func initialState(kind media.Kind) State {
	return State{Kind: kind}
}

func (s State) empty() bool {
	return s.Source == nil && s.Preview.Empty() && s.Outcome == nil && !s.Processing
}

// View is the derived presentation state.
type View struct {
	Kind         media.Kind
	Source       string
	Preview      Reference
	Result       Reference
	ErrorMessage string
	Loading      bool
}

// Project derives the presentation view from a state snapshot.
func Project(s State) View {
	v := View{
		Kind:    s.Kind,
		Preview: s.Preview,
		Loading: s.Processing,
	}
	if s.Source != nil {
		v.Source = s.Source.DisplayName()
	}

	switch o := s.Outcome.(type) {
	case Success:
		p := media.Classify(s.Kind)
		v.Result = Reference{
			Data:        o.Result,
			ContentType: p.ResultContentType,
			Filename:    p.ResultFilename,
		}
	case TimedOut:
		v.ErrorMessage = o.Message
	case Failed:
		v.ErrorMessage = o.Message
	}
	return v
}
