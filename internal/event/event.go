package event

import "time"

// Type identifies the kind of event.
type Type int

const (
	ScanStarted Type = iota + 1
	ScanComplete
	FileCompleted
	FileFailed
	FileSkipped
	DirCreated
	SymlinkCreated
	VerifyStarted
	VerifyOK
	VerifyFailed
	ClipboardPublished
)

var typeNames = [...]string{
	ScanStarted:        "ScanStarted",
	ScanComplete:       "ScanComplete",
	FileCompleted:      "FileCompleted",
	FileFailed:         "FileFailed",
	FileSkipped:        "FileSkipped",
	DirCreated:         "DirCreated",
	SymlinkCreated:     "SymlinkCreated",
	VerifyStarted:      "VerifyStarted",
	VerifyOK:           "VerifyOK",
	VerifyFailed:       "VerifyFailed",
	ClipboardPublished: "ClipboardPublished",
}

func (t Type) String() string {
	if t > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Event represents a single progress event from the engine.
type Event struct {
	Timestamp time.Time
	Error     error
	Path      string // relative to the source root
	Size      int64  // entry size, or payload size for ClipboardPublished
	Total     int64  // total entries (ScanComplete)
	TotalSize int64  // total bytes (ScanComplete)
	WorkerID  int
	Type      Type
}
