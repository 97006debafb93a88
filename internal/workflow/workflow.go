package workflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"appshot/internal/media"
	"appshot/internal/mockup"
	"appshot/internal/upload"
)

type Options struct {
	Backend Backend
	Logger  *slog.Logger
	// OnEvent is called from the goroutine that settled a call, never with
	// the workflow lock held.
	OnEvent func(Event)
	// CallTimeout bounds each backend call. Zero means no limit.
	CallTimeout time.Duration
	Device      mockup.Device
}

// Workflow owns one user's upload stage, generated slots and selection.
// Every outstanding backend call captures the epoch it was issued in; results
// from an older epoch are dropped.
type Workflow struct {
	backend     Backend
	logger      *slog.Logger
	onEvent     func(Event)
	callTimeout time.Duration

	stage *upload.Stage

	mu         sync.Mutex
	device     mockup.Device
	view       ViewMode
	generating bool
	slots      [upload.MaxFiles]Slot
	slotCount  int
	selected   int
	draft      string
	epoch      uint64
	cycleCtx   context.Context
	cancel     context.CancelFunc

	inflight sync.WaitGroup
}

func New(opts Options) *Workflow {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	device := opts.Device
	if !device.Valid() {
		device = mockup.DefaultDevice
	}

	return &Workflow{
		backend:     opts.Backend,
		logger:      logger,
		onEvent:     opts.OnEvent,
		callTimeout: opts.CallTimeout,
		stage:       upload.NewStage(upload.Options{Logger: logger}),
		device:      device,
		selected:    -1,
	}
}

func (w *Workflow) AddFiles(files []upload.File) ([]upload.SourceImage, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.view != ViewUpload {
		return nil, ErrNotUploadView
	}
	return w.stage.AddFiles(files), nil
}

func (w *Workflow) RemoveFile(index int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.view != ViewUpload {
		return ErrNotUploadView
	}
	return w.stage.Remove(index)
}

// SelectDeviceType changes the store used by the next Generate. Calls that are
// already in flight keep the device they were issued with.
func (w *Workflow) SelectDeviceType(device mockup.Device) error {
	if !device.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, device)
	}

	w.mu.Lock()
	w.device = device
	w.mu.Unlock()
	return nil
}

func (w *Workflow) CanGenerate() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.generating && w.stage.Len() > 0
}

// Generate starts a batch: one backend call per source image, in parallel.
// It returns once the batch is issued. If any call fails the whole batch is
// discarded and the workflow returns to the upload view with its sources
// intact.
func (w *Workflow) Generate(ctx context.Context) error {
	w.mu.Lock()

	if w.generating {
		w.mu.Unlock()
		return ErrGenerationPending
	}
	sources := w.stage.Files()
	if len(sources) == 0 {
		w.mu.Unlock()
		return ErrNoSources
	}

	w.epoch++
	epoch := w.epoch
	if w.cancel != nil {
		w.cancel()
	}
	w.cycleCtx, w.cancel = context.WithCancel(context.WithoutCancel(ctx))
	cycleCtx := w.cycleCtx

	w.view = ViewPreview
	w.generating = true
	w.slots = [upload.MaxFiles]Slot{}
	w.slotCount = len(sources)
	for i := 0; i < w.slotCount; i++ {
		w.slots[i].Pending = true
	}
	w.selected = 0
	device := w.device

	w.inflight.Add(1)
	w.mu.Unlock()

	w.logger.Info("generation started", "epoch", epoch, "sources", len(sources), "device", string(device))
	go w.runBatch(cycleCtx, epoch, device, sources)
	return nil
}

func (w *Workflow) runBatch(ctx context.Context, epoch uint64, device mockup.Device, sources []upload.SourceImage) {
	defer w.inflight.Done()
	start := time.Now()
	remaining := len(sources)

	var eg errgroup.Group
	for i, src := range sources {
		i, src := i, src
		eg.Go(func() error {
			img, err := w.call(ctx, func(ctx context.Context) (media.Image, error) {
				return w.backend.Generate(ctx, src.Image, device)
			})
			if err != nil {
				err = fmt.Errorf("generate slot %d: %w", i, err)
				w.failBatch(epoch, err)
				return err
			}

			w.mu.Lock()
			if w.epoch != epoch {
				w.mu.Unlock()
				return nil
			}
			w.slots[i] = Slot{Image: img}
			remaining--
			done := remaining == 0
			if done {
				w.generating = false
			}
			w.mu.Unlock()

			if done {
				w.logger.Info("generation complete", "epoch", epoch, "slots", len(sources), "dur_ms", time.Since(start).Milliseconds())
				w.emit(Event{Kind: EventGenerated, Slot: -1, Epoch: epoch})
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		w.logger.Debug("batch settled", "epoch", epoch, "dur_ms", time.Since(start).Milliseconds(), "err", err)
	}
}

// failBatch ends the cycle on the first failed call of a batch. Sibling calls
// keep running and their results are dropped by the epoch check.
func (w *Workflow) failBatch(epoch uint64, err error) {
	w.mu.Lock()
	if w.epoch != epoch {
		w.mu.Unlock()
		w.logger.Debug("stale generation discarded", "epoch", epoch)
		return
	}

	w.epoch++
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
		w.cycleCtx = nil
	}
	w.generating = false
	w.clearCycleLocked()
	w.mu.Unlock()

	w.logger.Error("generation failed", "epoch", epoch, "err", err)
	w.emit(Event{Kind: EventGenerationFailed, Slot: -1, Epoch: epoch, Err: fmt.Errorf("%w: %w", ErrGenerationFailed, err)})
}

func (w *Workflow) Select(index int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.view != ViewPreview {
		return ErrNotPreviewView
	}
	if index < 0 || index >= w.slotCount {
		return ErrInvalidSlot
	}
	w.selected = index
	return nil
}

func (w *Workflow) SetDraft(text string) {
	w.mu.Lock()
	w.draft = text
	w.mu.Unlock()
}

func (w *Workflow) Draft() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.draft
}

// Update submits instruction against the selected slot and reports whether a
// backend call was issued. Nothing changes when the instruction is blank, no
// slot is selected, or the slot is pending or has no image yet.
//
// The slot index is bound here, so switching selection while the call is
// outstanding does not redirect its result.
func (w *Workflow) Update(instruction string) bool {
	w.mu.Lock()

	idx := w.selected
	if w.view != ViewPreview || w.generating || strings.TrimSpace(instruction) == "" {
		w.mu.Unlock()
		return false
	}
	if idx < 0 || idx >= w.slotCount {
		w.mu.Unlock()
		return false
	}
	slot := w.slots[idx]
	if slot.Pending || !slot.HasImage() {
		w.mu.Unlock()
		return false
	}

	w.slots[idx].Pending = true
	w.draft = instruction
	epoch := w.epoch
	ctx := w.cycleCtx
	w.inflight.Add(1)
	w.mu.Unlock()

	w.logger.Info("update started", "epoch", epoch, "slot", idx)
	go w.runUpdate(ctx, epoch, idx, slot.Image, instruction)
	return true
}

func (w *Workflow) runUpdate(ctx context.Context, epoch uint64, idx int, current media.Image, instruction string) {
	defer w.inflight.Done()

	img, err := w.call(ctx, func(ctx context.Context) (media.Image, error) {
		return w.backend.Update(ctx, current, instruction)
	})

	w.mu.Lock()
	if w.epoch != epoch {
		w.mu.Unlock()
		w.logger.Debug("stale update discarded", "epoch", epoch, "slot", idx)
		return
	}

	w.slots[idx].Pending = false
	ev := Event{Kind: EventUpdated, Slot: idx, Epoch: epoch}
	if err != nil {
		ev = Event{Kind: EventUpdateFailed, Slot: idx, Epoch: epoch, Err: fmt.Errorf("%w: slot %d: %w", ErrUpdateFailed, idx, err)}
	} else {
		w.slots[idx].Image = img
		if w.draft == instruction {
			w.draft = ""
		}
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Warn("update failed", "epoch", epoch, "slot", idx, "err", err)
	}
	w.emit(ev)
}

// Reset drops sources and results and returns to the upload view. Results of
// calls still in flight are ignored by the epoch check; cancelling the cycle
// context only frees their resources early.
func (w *Workflow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.epoch++
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
		w.cycleCtx = nil
	}
	w.generating = false
	w.stage.Clear()
	w.clearCycleLocked()
}

func (w *Workflow) clearCycleLocked() {
	w.slots = [upload.MaxFiles]Slot{}
	w.slotCount = 0
	w.selected = -1
	w.draft = ""
	w.view = ViewUpload
}

// Export returns the image in slot index with its suggested download name.
func (w *Workflow) Export(index int) (media.Image, string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.view != ViewPreview {
		return media.Image{}, "", ErrNotPreviewView
	}
	if index < 0 || index >= w.slotCount {
		return media.Image{}, "", ErrInvalidSlot
	}
	img := w.slots[index].Image
	if img.IsZero() {
		return media.Image{}, "", ErrNoImage
	}
	return img, mockup.DownloadName(index, img), nil
}

func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()

	phase := PhaseIdle
	switch {
	case w.generating:
		phase = PhaseGenerating
	case w.view == ViewPreview:
		phase = PhaseReady
	}

	slots := make([]Slot, w.slotCount)
	copy(slots, w.slots[:w.slotCount])

	return State{
		View:      w.view,
		Phase:     phase,
		Device:    w.device,
		Sources:   w.stage.Files(),
		Remaining: w.stage.Remaining(),
		Slots:     slots,
		Selected:  w.selected,
		Draft:     w.draft,
		Epoch:     w.epoch,
	}
}

// Wait blocks until every backend call issued so far has settled.
func (w *Workflow) Wait() {
	w.inflight.Wait()
}

func (w *Workflow) call(ctx context.Context, fn func(context.Context) (media.Image, error)) (media.Image, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if w.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.callTimeout)
		defer cancel()
	}

	img, err := fn(ctx)
	if err == nil && img.IsZero() {
		err = errEmptyResult
	}
	return img, err
}

func (w *Workflow) emit(ev Event) {
	if w.onEvent != nil {
		w.onEvent(ev)
	}
}
