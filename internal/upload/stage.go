package upload

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"appshot/internal/media"
)

const (
	MaxFiles     = 3
	MaxFileBytes = 25 << 20
)

var ErrIndexOutOfRange = errors.New("upload index out of range")

// File is a candidate handed in by a front end (form upload, chat photo, path
// on disk).
type File struct {
	Name     string
	MIMEType string
	Data     []byte
}

type SourceImage struct {
	Name  string
	Image media.Image
}

type Options struct {
	Logger *slog.Logger
}

// Stage holds the ordered list of accepted source images.
type Stage struct {
	mu     sync.Mutex
	files  []SourceImage
	logger *slog.Logger
}

func NewStage(opts Options) *Stage {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Stage{logger: logger}
}

// AddFiles appends acceptable candidates in arrival order until the stage
// holds MaxFiles. Rejected candidates are dropped silently.
func (s *Stage) AddFiles(candidates []File) []SourceImage {
	s.mu.Lock()
	defer s.mu.Unlock()

	var accepted []SourceImage
	for _, f := range candidates {
		if len(s.files) >= MaxFiles {
			s.logger.Debug("upload rejected", "name", f.Name, "reason", "limit")
			continue
		}

		src, ok := s.accept(f)
		if !ok {
			continue
		}
		s.files = append(s.files, src)
		accepted = append(accepted, src)
	}
	return accepted
}

func (s *Stage) accept(f File) (SourceImage, bool) {
	if !media.IsImageMIME(media.Sniff(f.MIMEType, f.Data)) {
		s.logger.Debug("upload rejected", "name", f.Name, "reason", "type", "mime", f.MIMEType)
		return SourceImage{}, false
	}
	if len(f.Data) > MaxFileBytes {
		s.logger.Debug("upload rejected", "name", f.Name, "reason", "size", "bytes", len(f.Data))
		return SourceImage{}, false
	}

	img, err := media.Encode(f.Name, f.MIMEType, f.Data)
	if err != nil {
		s.logger.Debug("upload rejected", "name", f.Name, "reason", "encode", "err", err)
		return SourceImage{}, false
	}
	return SourceImage{Name: f.Name, Image: img}, true
}

func (s *Stage) Remove(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.files) {
		return ErrIndexOutOfRange
	}
	s.files = append(s.files[:index:index], s.files[index+1:]...)
	return nil
}

func (s *Stage) Files() []SourceImage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SourceImage, len(s.files))
	copy(out, s.files)
	return out
}

func (s *Stage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

func (s *Stage) Remaining() int {
	return MaxFiles - s.Len()
}

func (s *Stage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = nil
}
