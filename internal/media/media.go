// Package media maps a media kind to the extensions, endpoints and result
// naming used by both the API server and the client.
package media

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Kind is the media mode selected by the user. It is never inferred from content.
type Kind string

const (
	Image Kind = "image"
	Video Kind = "video"
)

var (
	ErrUnknownKind          = errors.New("unknown media kind")
	ErrInvalidSampleName    = errors.New("invalid sample name")
	ErrUnsupportedExtension = errors.New("unsupported file extension")
)

// ParseKind accepts the CLI/route spellings of a kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "image", "images", "img":
		return Image, nil
	case "video", "videos", "vid":
		return Video, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func (k Kind) String() string { return string(k) }

// Plural is the collection name used in sample routes and directories.
func (k Kind) Plural() string { return string(k) + "s" }

// Profile describes everything that depends on the media kind.
type Profile struct {
	Kind               Kind
	AcceptedExtensions []string
	InferenceEndpoint  string
	SampleListEndpoint string
	ResultExtension    string
	ResultFilename     string
	ResultContentType  string

	sampleProcessPath string
	samplePreviewPath string
}

var profiles = map[Kind]Profile{
	Image: {
		Kind:               Image,
		AcceptedExtensions: []string{".jpg", ".jpeg", ".png"},
		InferenceEndpoint:  "/api/predict/image",
		SampleListEndpoint: "/api/samples/images",
		ResultExtension:    ".jpg",
		ResultFilename:     "pose_result.jpg",
		ResultContentType:  "image/jpeg",
		sampleProcessPath:  "/api/predict/sample/image/",
		samplePreviewPath:  "/samples/images/",
	},
	Video: {
		Kind:               Video,
		AcceptedExtensions: []string{".mp4", ".mov", ".avi"},
		InferenceEndpoint:  "/api/predict/video",
		SampleListEndpoint: "/api/samples/videos",
		ResultExtension:    ".mp4",
		ResultFilename:     "pose_result.mp4",
		ResultContentType:  "video/mp4",
		sampleProcessPath:  "/api/predict/sample/video/",
		samplePreviewPath:  "/samples/videos/",
	},
}

// Classify returns the profile for kind. Unknown kinds fall back to Image so
// the function has no failure mode; callers obtain kinds through ParseKind.
func Classify(kind Kind) Profile {
	if p, ok := profiles[kind]; ok {
		return p
	}
	return profiles[Image]
}

// Accepts reports whether filename carries one of the profile's extensions.
func (p Profile) Accepts(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, e := range p.AcceptedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// SampleEndpoint is the processing path for a sample. Both kinds go through
// inference; name must already have passed ValidateSampleName.
func (p Profile) SampleEndpoint(name string) string {
	return p.sampleProcessPath + url.PathEscape(name)
}

// SamplePreviewPath is the static retrieval path for the unannotated sample.
func (p Profile) SamplePreviewPath(name string) string {
	return p.samplePreviewPath + url.PathEscape(name)
}

// ValidateSampleName rejects anything that could escape the sample directory.
// With separators refused, ".." is only dangerous as the whole name.
func ValidateSampleName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidSampleName, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidSampleName, name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q contains a NUL byte", ErrInvalidSampleName, name)
	}
	return nil
}

// ValidateFile checks a user-selected file against the kind's extensions.
func ValidateFile(kind Kind, filename string) error {
	p := Classify(kind)
	if !p.Accepts(filename) {
		return fmt.Errorf("%w: %q (accepted: %s)", ErrUnsupportedExtension, filename, strings.Join(p.AcceptedExtensions, ", "))
	}
	return nil
}
