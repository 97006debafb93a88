package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"appshot/internal/media"
	"appshot/internal/mockup"
	"appshot/internal/workflow"
)

type scriptedBackend struct {
	failGenerate bool
	failUpdate   bool
}

func (b *scriptedBackend) Generate(ctx context.Context, img media.Image, device mockup.Device) (media.Image, error) {
	if b.failGenerate {
		return media.Image{}, errors.New("backend down")
	}
	return media.Image{MIMEType: "image/png", Data: []byte(string(device))}, nil
}

func (b *scriptedBackend) Update(ctx context.Context, img media.Image, instruction string) (media.Image, error) {
	if b.failUpdate {
		return media.Image{}, errors.New("refused")
	}
	return media.Image{MIMEType: "image/png", Data: append(append([]byte{}, img.Data...), "|"+instruction...)}, nil
}

func writePNG(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewGray(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunGenerateWritesEditedSlots(t *testing.T) {
	in := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "shots")
	files := []string{writePNG(t, in, "home.png"), writePNG(t, in, "detail.png")}

	var out bytes.Buffer
	paths, err := runGenerate(context.Background(), &scriptedBackend{}, nil, generateOptions{
		Files:  files,
		Store:  "android",
		OutDir: outDir,
		Edits:  []string{"2=dark mode", "2=bigger title"},
	}, &out)
	if err != nil {
		t.Fatalf("runGenerate() error = %v", err)
	}

	want := []string{filepath.Join(outDir, "appshot-1.png"), filepath.Join(outDir, "appshot-2.png")}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, paths[i], want[i])
		}
	}

	first, _ := os.ReadFile(want[0])
	if string(first) != "google_play" {
		t.Errorf("appshot-1 = %q, want untouched", first)
	}
	second, _ := os.ReadFile(want[1])
	if string(second) != "google_play|dark mode|bigger title" {
		t.Errorf("appshot-2 = %q, want edits applied in order", second)
	}
}

func TestRunGenerateFailure(t *testing.T) {
	in := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "shots")

	_, err := runGenerate(context.Background(), &scriptedBackend{failGenerate: true}, nil, generateOptions{
		Files:  []string{writePNG(t, in, "home.png")},
		Store:  "app_store",
		OutDir: outDir,
	}, &bytes.Buffer{})
	if !errors.Is(err, workflow.ErrGenerationFailed) {
		t.Fatalf("runGenerate() error = %v, want ErrGenerationFailed", err)
	}
	if _, statErr := os.Stat(outDir); !os.IsNotExist(statErr) {
		t.Error("output directory created after a failed batch")
	}
}

func TestRunGenerateEditFailureKeepsImage(t *testing.T) {
	in := t.TempDir()
	outDir := t.TempDir()

	var out bytes.Buffer
	paths, err := runGenerate(context.Background(), &scriptedBackend{failUpdate: true}, nil, generateOptions{
		Files:  []string{writePNG(t, in, "home.png")},
		Store:  "app_store",
		OutDir: outDir,
		Edits:  []string{"1=add confetti"},
	}, &out)
	if err != nil {
		t.Fatalf("runGenerate() error = %v", err)
	}
	if !strings.Contains(out.String(), "keeping previous version") {
		t.Errorf("output = %q", out.String())
	}
	data, _ := os.ReadFile(paths[0])
	if string(data) != "app_store" {
		t.Errorf("appshot-1 = %q, want generated image", data)
	}
}

func TestRunGenerateRejectsBadInput(t *testing.T) {
	in := t.TempDir()
	file := writePNG(t, in, "home.png")

	tests := []struct {
		name string
		opts generateOptions
	}{
		{name: "unknown store", opts: generateOptions{Files: []string{file}, Store: "symbian"}},
		{name: "edit beyond uploads", opts: generateOptions{Files: []string{file}, Store: "app_store", Edits: []string{"2=x"}}},
		{name: "missing file", opts: generateOptions{Files: []string{filepath.Join(in, "nope.png")}, Store: "app_store"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.OutDir = t.TempDir()
			if _, err := runGenerate(context.Background(), &scriptedBackend{}, nil, tt.opts, &bytes.Buffer{}); err == nil {
				t.Error("runGenerate() error = nil")
			}
		})
	}
}

func TestParseEdits(t *testing.T) {
	tests := []struct {
		in      string
		want    edit
		wantErr bool
	}{
		{in: "1=dark mode", want: edit{index: 0, instruction: "dark mode"}},
		{in: " 3 = a=b ", want: edit{index: 2, instruction: "a=b"}},
		{in: "dark mode", wantErr: true},
		{in: "0=x", wantErr: true},
		{in: "4=x", wantErr: true},
		{in: "1=  ", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseEdits([]string{tt.in})
		if (err != nil) != tt.wantErr {
			t.Errorf("parseEdits(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got[0] != tt.want {
			t.Errorf("parseEdits(%q) = %+v, want %+v", tt.in, got[0], tt.want)
		}
	}
}

func TestRunGenerateSkipsFilesPastLimit(t *testing.T) {
	in := t.TempDir()
	outDir := t.TempDir()
	var files []string
	for _, name := range []string{"a.png", "b.png", "c.png", "d.png"} {
		files = append(files, writePNG(t, in, name))
	}

	if err := generateCmd.Args(generateCmd, files); err != nil {
		t.Fatalf("Args(%d files) error = %v", len(files), err)
	}

	var out bytes.Buffer
	paths, err := runGenerate(context.Background(), &scriptedBackend{}, nil, generateOptions{
		Files:  files,
		Store:  "app_store",
		OutDir: outDir,
	}, &out)
	if err != nil {
		t.Fatalf("runGenerate() error = %v", err)
	}
	if len(paths) != 3 {
		t.Errorf("paths = %v, want 3", paths)
	}
	if !strings.Contains(out.String(), "skipped 1 file(s)") {
		t.Errorf("output = %q, want skip notice", out.String())
	}
	if _, err := os.Stat(filepath.Join(outDir, "appshot-4.png")); !os.IsNotExist(err) {
		t.Error("appshot-4.png written for a skipped file")
	}
}

func TestGenerateRequiresAFile(t *testing.T) {
	if err := generateCmd.Args(generateCmd, nil); err == nil {
		t.Error("Args(no files) error = nil")
	}
}
