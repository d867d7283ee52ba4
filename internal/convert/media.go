package convert

import (
	"context"
	"fmt"
	"path/filepath"
)

// Captioner describes an image as text. Satisfied by model.VisionCaptioner.
type Captioner interface {
	Caption(ctx context.Context, path string) (string, error)
}

// Transcriber converts speech audio to text. Satisfied by
// model.WhisperTranscriber; video files go through the same path because
// the transcription server demuxes the audio track itself.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// imageConverter turns an image into its caption, prefixed with the
// filename so lexical search can still find the file by name.
type imageConverter struct {
	captioner Captioner
}

func (c *imageConverter) Convert(ctx context.Context, path string) (string, error) {
	caption, err := c.captioner.Caption(ctx, path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Image: %s\n\n%s", filepath.Base(path), caption), nil
}

// mediaConverter turns audio (or a video's audio track) into a transcript.
type mediaConverter struct {
	transcriber Transcriber
}

func (c *mediaConverter) Convert(ctx context.Context, path string) (string, error) {
	transcript, err := c.transcriber.Transcribe(ctx, path)
	if err != nil {
		return "", err
	}
	return transcript, nil
}
