// Package artifact persists diagnostic evidence captured from failing units.
package artifact

import "time"

// Kind identifies the type of a captured artifact.
type Kind string

const (
	KindScreenshot Kind = "screenshot"
	KindTrace      Kind = "trace"
	KindVideo      Kind = "video"
	KindA11yReport Kind = "a11y"
)

// Kinds lists every artifact kind with its own directory.
func Kinds() []Kind {
	return []Kind{KindScreenshot, KindVideo, KindTrace, KindA11yReport}
}

func (k Kind) dir() string {
	switch k {
	case KindScreenshot:
		return "screenshots"
	case KindVideo:
		return "videos"
	case KindTrace:
		return "traces"
	case KindA11yReport:
		return "a11y"
	default:
		return "misc"
	}
}

// Ext returns the file extension, including the dot.
func (k Kind) Ext() string {
	switch k {
	case KindScreenshot:
		return ".png"
	case KindVideo:
		return ".webm"
	case KindTrace:
		return ".zip"
	case KindA11yReport:
		return ".json"
	default:
		return ".bin"
	}
}

// MediaType returns the MIME type used when attaching the artifact to a report.
func (k Kind) MediaType() string {
	switch k {
	case KindScreenshot:
		return "image/png"
	case KindVideo:
		return "video/webm"
	case KindTrace:
		return "application/zip"
	case KindA11yReport:
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// Artifact is a persisted, write-once diagnostic file.
type Artifact struct {
	Kind      Kind
	Unit      string
	Timestamp time.Time
	Path      string
	Size      int64
}
