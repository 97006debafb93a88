package workflow

import (
	"context"
	"errors"

	"appshot/internal/media"
	"appshot/internal/mockup"
	"appshot/internal/upload"
)

var (
	ErrNoSources         = errors.New("no source images uploaded")
	ErrGenerationPending = errors.New("generation already in progress")
	ErrNotUploadView     = errors.New("sources can only change in the upload view")
	ErrNotPreviewView    = errors.New("no generated previews")
	ErrInvalidSlot       = errors.New("slot index out of range")
	ErrNoImage           = errors.New("slot has no generated image")
	ErrUnknownDevice     = errors.New("unknown device type")

	ErrGenerationFailed = errors.New("failed to generate screenshots")
	ErrUpdateFailed     = errors.New("failed to update screenshot")

	errEmptyResult = errors.New("backend returned no image")
)

// Backend is the generative image capability. Each call is independent and
// may fail.
type Backend interface {
	Generate(ctx context.Context, img media.Image, device mockup.Device) (media.Image, error)
	Update(ctx context.Context, img media.Image, instruction string) (media.Image, error)
}

type ViewMode int

const (
	ViewUpload ViewMode = iota
	ViewPreview
)

func (v ViewMode) String() string {
	if v == ViewPreview {
		return "preview"
	}
	return "upload"
}

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseGenerating
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseGenerating:
		return "generating"
	case PhaseReady:
		return "ready"
	default:
		return "idle"
	}
}

// Slot is the result state for the source image at the same index.
type Slot struct {
	Image   media.Image
	Pending bool
}

func (s Slot) HasImage() bool {
	return !s.Image.IsZero()
}

type EventKind int

const (
	EventGenerated EventKind = iota
	EventGenerationFailed
	EventUpdated
	EventUpdateFailed
)

func (k EventKind) String() string {
	switch k {
	case EventGenerated:
		return "generated"
	case EventGenerationFailed:
		return "generation_failed"
	case EventUpdated:
		return "updated"
	case EventUpdateFailed:
		return "update_failed"
	default:
		return "unknown"
	}
}

// Event reports a settled backend call. Slot is -1 for batch events.
type Event struct {
	Kind  EventKind
	Slot  int
	Epoch uint64
	Err   error
}

// State is a point-in-time copy of a workflow for rendering.
type State struct {
	View      ViewMode
	Phase     Phase
	Device    mockup.Device
	Sources   []upload.SourceImage
	Remaining int
	Slots     []Slot
	Selected  int
	Draft     string
	Epoch     uint64
}

func (s State) CanGenerate() bool {
	return len(s.Sources) > 0 && s.Phase != PhaseGenerating
}

// SelectedSlot returns the selected slot, if any.
func (s State) SelectedSlot() (Slot, bool) {
	if s.Selected < 0 || s.Selected >= len(s.Slots) {
		return Slot{}, false
	}
	return s.Slots[s.Selected], true
}
