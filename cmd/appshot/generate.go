package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"appshot/internal/mockup"
	"appshot/internal/upload"
	"appshot/internal/workflow"
)

type generateOptions struct {
	Files       []string
	Store       string
	OutDir      string
	Edits       []string
	CallTimeout time.Duration
}

type edit struct {
	index       int
	instruction string
}

// parseEdits reads "N=instruction" pairs with 1-based N.
func parseEdits(values []string) ([]edit, error) {
	edits := make([]edit, 0, len(values))
	for _, v := range values {
		n, instruction, ok := strings.Cut(v, "=")
		if !ok {
			return nil, fmt.Errorf("edit %q: want N=instruction", v)
		}
		idx, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil || idx < 1 || idx > upload.MaxFiles {
			return nil, fmt.Errorf("edit %q: screenshot number must be 1-%d", v, upload.MaxFiles)
		}
		instruction = strings.TrimSpace(instruction)
		if instruction == "" {
			return nil, fmt.Errorf("edit %q: instruction is empty", v)
		}
		edits = append(edits, edit{index: idx - 1, instruction: instruction})
	}
	return edits, nil
}

func readFiles(paths []string) ([]upload.File, error) {
	files := make([]upload.File, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		files = append(files, upload.File{Name: filepath.Base(p), Data: data})
	}
	return files, nil
}

// runGenerate drives one full cycle: upload, generate, edits in order, then
// writes every slot to opts.OutDir. It returns the written paths.
func runGenerate(ctx context.Context, backend workflow.Backend, logger *slog.Logger, opts generateOptions, out io.Writer) ([]string, error) {
	device, ok := mockup.ParseDevice(opts.Store)
	if !ok {
		return nil, fmt.Errorf("%w: %q", workflow.ErrUnknownDevice, opts.Store)
	}
	edits, err := parseEdits(opts.Edits)
	if err != nil {
		return nil, err
	}
	files, err := readFiles(opts.Files)
	if err != nil {
		return nil, err
	}

	events := make(chan workflow.Event, 2*upload.MaxFiles+len(edits))
	wf := workflow.New(workflow.Options{
		Backend:     backend,
		Logger:      logger,
		CallTimeout: opts.CallTimeout,
		Device:      device,
		OnEvent: func(ev workflow.Event) {
			select {
			case events <- ev:
			default:
			}
		},
	})

	stop := context.AfterFunc(ctx, wf.Reset)
	defer stop()

	accepted, err := wf.AddFiles(files)
	if err != nil {
		return nil, err
	}
	if skipped := len(files) - len(accepted); skipped > 0 {
		fmt.Fprintf(out, "skipped %d file(s): only images under 25 MB, at most %d\n", skipped, upload.MaxFiles)
	}
	for _, e := range edits {
		if e.index >= len(accepted) {
			return nil, fmt.Errorf("edit for screenshot %d: only %d uploaded", e.index+1, len(accepted))
		}
	}

	fmt.Fprintf(out, "generating %d %s screenshot(s)\n", len(accepted), device)
	if err := wf.Generate(ctx); err != nil {
		return nil, err
	}
	wf.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ev := lastEvent(events); ev.Kind == workflow.EventGenerationFailed {
		return nil, ev.Err
	}

	for _, e := range edits {
		if err := wf.Select(e.index); err != nil {
			return nil, err
		}
		if !wf.Update(e.instruction) {
			return nil, fmt.Errorf("edit for screenshot %d was not submitted", e.index+1)
		}
		fmt.Fprintf(out, "editing screenshot %d: %s\n", e.index+1, e.instruction)
		wf.Wait()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if ev := lastEvent(events); ev.Kind == workflow.EventUpdateFailed {
			fmt.Fprintf(out, "edit failed, keeping previous version: %v\n", ev.Err)
		}
	}

	return writeSlots(wf, opts.OutDir, out)
}

func lastEvent(events <-chan workflow.Event) workflow.Event {
	var last workflow.Event
	for {
		select {
		case ev := <-events:
			last = ev
		default:
			return last
		}
	}
}

func writeSlots(wf *workflow.Workflow, dir string, out io.Writer) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	st := wf.State()
	paths := make([]string, 0, len(st.Slots))
	for i := range st.Slots {
		img, name, err := wf.Export(i)
		if err != nil {
			return paths, fmt.Errorf("export screenshot %d: %w", i+1, err)
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, img.Data, 0o644); err != nil {
			return paths, err
		}
		fmt.Fprintln(out, path)
		paths = append(paths, path)
	}
	return paths, nil
}
