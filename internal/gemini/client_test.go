package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"appshot/internal/media"
	"appshot/internal/mockup"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Options{
		APIKey:     "test-key",
		BaseURL:    srv.URL + "/",
		HTTPClient: srv.Client(),
		Model:      "image-model",
	})
}

func imageResponse(w http.ResponseWriter, data []byte) {
	resp := generateContentResponse{
		Candidates: []candidate{{
			Content: content{Parts: []part{
				{Text: "here you go"},
				{InlineData: &blob{MimeType: "image/png", Data: base64.StdEncoding.EncodeToString(data)}},
			}},
		}},
	}
	w.Header().Set("content-type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func TestGenerateSendsImageAndPreset(t *testing.T) {
	var got generateContentRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/image-model:generateContent" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Errorf("api key header = %q", r.Header.Get("x-goog-api-key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		imageResponse(w, []byte("mockup"))
	})

	src := media.Image{MIMEType: "image/jpeg", Data: []byte("screenshot")}
	out, err := client.Generate(context.Background(), src, mockup.DeviceGooglePlay)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if string(out.Data) != "mockup" || out.MIMEType != "image/png" {
		t.Errorf("Generate() = %q %q, want mockup image/png", out.Data, out.MIMEType)
	}

	if got.GenerationConfig.ImageConfig == nil || got.GenerationConfig.ImageConfig.AspectRatio != "9:16" {
		t.Errorf("imageConfig = %+v, want 9:16", got.GenerationConfig.ImageConfig)
	}
	parts := got.Contents[0].Parts
	if len(parts) != 2 {
		t.Fatalf("len(parts) = %d, want 2", len(parts))
	}
	if !strings.Contains(parts[0].Text, "Google Play") {
		t.Errorf("prompt does not mention the store: %q", parts[0].Text)
	}
	if parts[1].InlineData == nil || parts[1].InlineData.MimeType != "image/jpeg" {
		t.Errorf("inline data = %+v, want image/jpeg", parts[1].InlineData)
	}
}

func TestUpdateEmbedsInstruction(t *testing.T) {
	var got generateContentRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		imageResponse(w, []byte("edited"))
	})

	out, err := client.Update(context.Background(), media.Image{MIMEType: "image/png", Data: []byte("mockup")}, "make background blue")
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if string(out.Data) != "edited" {
		t.Errorf("Update() = %q, want edited", out.Data)
	}
	if !strings.Contains(got.Contents[0].Parts[0].Text, "make background blue") {
		t.Errorf("prompt missing instruction: %q", got.Contents[0].Parts[0].Text)
	}
	if got.GenerationConfig.ImageConfig != nil {
		t.Errorf("update sent imageConfig %+v", got.GenerationConfig.ImageConfig)
	}

	if _, err := client.Update(context.Background(), out, "  "); err == nil {
		t.Error("Update(blank) succeeded")
	}
}

func TestRequestAlwaysAsksForImages(t *testing.T) {
	var raw map[string]json.RawMessage
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&raw)
		imageResponse(w, []byte("edited"))
	})

	if _, err := client.Update(context.Background(), media.Image{MIMEType: "image/png", Data: []byte("mockup")}, "crop tighter"); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got := string(raw["generationConfig"]); got != `{"responseModalities":["IMAGE"]}` {
		t.Errorf("generationConfig = %s", got)
	}
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "http status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":{"code":429}}`, http.StatusTooManyRequests)
			},
		},
		{
			name: "text only",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"I cannot do that"}]}}]}`))
			},
			wantErr: ErrNoImage,
		},
		{
			name: "error body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"error":{"code":400,"message":"bad image"}}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.handler)
			_, err := client.Generate(context.Background(), media.Image{Data: []byte("x")}, mockup.DeviceAppStore)
			if err == nil {
				t.Fatal("Generate() succeeded")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Generate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateRejectsEmptyInput(t *testing.T) {
	client := New(Options{})
	if _, err := client.Generate(context.Background(), media.Image{}, mockup.DeviceAppStore); !errors.Is(err, media.ErrEmpty) {
		t.Errorf("Generate(empty) error = %v, want media.ErrEmpty", err)
	}
}
