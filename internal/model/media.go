package model

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Captioner describes an image as text.
type Captioner interface {
	Caption(ctx context.Context, path string) (string, error)
}

// Transcriber converts speech audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

const (
	DefaultVisionModel = "llava"

	// maxImageBytes caps files sent for captioning; larger images are
	// rejected rather than shipped base64 over localhost.
	maxImageBytes = 20 << 20

	captionSystem = `You describe images for a document index. Reply with a ` +
		`detailed plain-text description of the image content, no preamble.`
)

// VisionCaptioner captions images through an Ollama vision model.
type VisionCaptioner struct {
	client *Client
	model  string
}

var _ Captioner = (*VisionCaptioner)(nil)

// NewVisionCaptioner creates a captioner. An empty model uses
// DefaultVisionModel.
func NewVisionCaptioner(client *Client, model string) *VisionCaptioner {
	if model == "" {
		model = DefaultVisionModel
	}
	return &VisionCaptioner{client: client, model: model}
}

// Caption reads the image at path and asks the vision model to describe it.
func (v *VisionCaptioner) Caption(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Size() > maxImageBytes {
		return "", fmt.Errorf("image %s is %d bytes, over the %d byte caption limit",
			filepath.Base(path), info.Size(), maxImageBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	out, err := v.client.Generate(ctx, GenerateOptions{
		Model:  v.model,
		System: captionSystem,
		Prompt: "Describe this image.",
		Images: []string{base64.StdEncoding.EncodeToString(data)},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

const (
	DefaultWhisperHost  = "http://localhost:8090"
	DefaultWhisperModel = "whisper-1"

	// transcribeTimeout is generous: transcription runs near real time on
	// CPU-only hosts.
	transcribeTimeout = 10 * time.Minute
)

// WhisperTranscriber talks to an OpenAI-compatible transcription endpoint
// (whisper.cpp server, LocalAI, or the hosted API).
type WhisperTranscriber struct {
	host   string
	model  string
	client *http.Client
}

var _ Transcriber = (*WhisperTranscriber)(nil)

// NewWhisperTranscriber creates a transcriber with defaults applied.
func NewWhisperTranscriber(host, model string) *WhisperTranscriber {
	if host == "" {
		host = DefaultWhisperHost
	}
	if model == "" {
		model = DefaultWhisperModel
	}
	return &WhisperTranscriber{host: host, model: model, client: &http.Client{}}
}

// Transcribe uploads the audio file and returns the transcript text.
func (w *WhisperTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("failed to read audio: %w", err)
	}
	if err := mw.WriteField("model", w.model); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	reqCtx, cancel := context.WithTimeout(ctx, transcribeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost,
		w.host+"/v1/audio/transcriptions", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("transcription returned %d: %s", resp.StatusCode, string(data))
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode transcript: %w", err)
	}

	return strings.TrimSpace(parsed.Text), nil
}
