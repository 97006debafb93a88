package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"appshot/internal/media"
	"appshot/internal/mockup"
)

const defaultModel = "gemini-2.5-flash-image"

const systemInstruction = `You are AppShot, a designer of app store listing screenshots.
You receive app screenshots and return polished, store-ready marketing images.
Always answer with an image.`

var ErrNoImage = errors.New("gemini returned no image")

type Options struct {
	APIKey     string
	BaseURL    string
	APIVersion string
	Model      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is the generate/update backend for the workflow.
type Client struct {
	apiKey     string
	baseURL    string
	apiVersion string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}

	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "v1beta"
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		apiVersion: apiVersion,
		model:      model,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Generate turns a raw app screenshot into a store mockup for device.
func (c *Client) Generate(ctx context.Context, img media.Image, device mockup.Device) (media.Image, error) {
	preset := device.Preset()
	return c.editImage(ctx, "generate", img, mockup.BuildGeneratePrompt(device), preset.AspectRatio)
}

// Update applies a natural-language change to a generated mockup.
func (c *Client) Update(ctx context.Context, img media.Image, instruction string) (media.Image, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return media.Image{}, errors.New("instruction is empty")
	}
	return c.editImage(ctx, "update", img, mockup.BuildUpdatePrompt(instruction), "")
}

func (c *Client) editImage(ctx context.Context, op string, img media.Image, prompt, aspectRatio string) (media.Image, error) {
	if img.IsZero() {
		return media.Image{}, media.ErrEmpty
	}

	mimeType := img.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}

	req := generateContentRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{Text: prompt},
				{InlineData: &blob{Data: img.Base64(), MimeType: mimeType}},
			},
		}},
		SystemInstruction: &content{Role: "user", Parts: []part{{Text: systemInstruction}}},
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"IMAGE"},
		},
	}
	if aspectRatio != "" {
		req.GenerationConfig.ImageConfig = &imageConfig{AspectRatio: aspectRatio}
	}

	start := time.Now()
	resp, err := c.generateContent(ctx, req)
	if err != nil {
		return media.Image{}, err
	}
	if len(resp.Images) == 0 {
		return media.Image{}, fmt.Errorf("%w (text: %s)", ErrNoImage, truncate(resp.Text, 200))
	}

	c.logger.Info("gemini image ready", "op", op, "model", c.model, "in_bytes", len(img.Data), "out_bytes", len(resp.Images[0].Data), "dur_ms", time.Since(start).Milliseconds())
	return resp.Images[0], nil
}

func (c *Client) generateContent(ctx context.Context, payload generateContentRequest) (Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/models/%s:generateContent", c.baseURL, c.apiVersion, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("request: %w", err)
	}
	defer httpResp.Body.Close()

	rawBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		c.logger.Error("gemini API error", "status", httpResp.StatusCode, "body", truncate(string(rawBody), 500))
		return Response{}, fmt.Errorf("gemini API %s: %s", httpResp.Status, truncate(strings.TrimSpace(string(rawBody)), 200))
	}

	var decoded generateContentResponse
	if err := json.Unmarshal(rawBody, &decoded); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if decoded.Error != nil {
		return Response{}, fmt.Errorf("gemini API error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}

	return extractParts(decoded)
}

func extractParts(resp generateContentResponse) (Response, error) {
	var out Response
	if len(resp.Candidates) == 0 {
		return out, nil
	}

	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.Text != "" {
			text.WriteString(p.Text)
		}
		if p.InlineData == nil || p.InlineData.Data == "" {
			continue
		}
		img, err := media.FromDataURL(p.InlineData.Data, p.InlineData.MimeType)
		if err != nil {
			return Response{}, fmt.Errorf("decode inline image: %w", err)
		}
		out.Images = append(out.Images, img)
	}
	out.Text = text.String()
	return out, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

type generateContentRequest struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"responseModalities,omitempty"`
	ImageConfig        *imageConfig `json:"imageConfig,omitempty"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type blob struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

type generateContentResponse struct {
	Candidates []candidate `json:"candidates"`
	Error      *apiError   `json:"error,omitempty"`
}

type candidate struct {
	Content content `json:"content"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
