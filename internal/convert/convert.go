// Package convert turns source files into canonical text for indexing.
// A registry maps document types to converters; conversion failures
// degrade to a filename/size description so ingest never hard-fails on
// a single unreadable file.
package convert

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/corpora/internal/errors"
)

// Document types understood by the registry.
const (
	TypeText     = "text"
	TypeMarkdown = "markdown"
	TypeCode     = "code"
	TypeHTML     = "html"
	TypePDF      = "pdf"
	TypeCSV      = "csv"
	TypeXLSX     = "xlsx"
	TypeJSON     = "json"
	TypeYAML     = "yaml"
	TypeXML      = "xml"
	TypeImage    = "image"
	TypeAudio    = "audio"
	TypeVideo    = "video"
)

// Converter extracts canonical text from one file format.
type Converter interface {
	Convert(ctx context.Context, path string) (string, error)
}

// ConverterFunc adapts a function to the Converter interface.
type ConverterFunc func(ctx context.Context, path string) (string, error)

func (f ConverterFunc) Convert(ctx context.Context, path string) (string, error) {
	return f(ctx, path)
}

// Result is a completed conversion. Method records how the text was
// produced and lands in document metadata.
type Result struct {
	Text   string
	Method string
	// Degraded is set when conversion failed and Text is only a
	// filename/size description.
	Degraded bool
}

// Registry dispatches files to type-specific converters.
type Registry struct {
	converters map[string]Converter
	methods    map[string]string
	log        *slog.Logger
}

// NewRegistry builds the full converter set. captioner and transcriber
// may be nil, in which case media files degrade to descriptions.
func NewRegistry(captioner Captioner, transcriber Transcriber) *Registry {
	r := &Registry{
		converters: make(map[string]Converter),
		methods:    make(map[string]string),
		log:        slog.Default().With(slog.String("component", "convert")),
	}

	r.Register(TypeText, "passthrough", ConverterFunc(readFile))
	r.Register(TypeMarkdown, "passthrough", ConverterFunc(readFile))
	r.Register(TypeCode, "passthrough", ConverterFunc(readFile))
	r.Register(TypeJSON, "passthrough", ConverterFunc(readFile))
	r.Register(TypeYAML, "passthrough", ConverterFunc(readFile))
	r.Register(TypeXML, "passthrough", ConverterFunc(readFile))
	r.Register(TypeHTML, "html-extraction", ConverterFunc(convertHTML))
	r.Register(TypePDF, "pdf-extraction", ConverterFunc(convertPDF))
	r.Register(TypeCSV, "csv-table", ConverterFunc(convertCSV))
	r.Register(TypeXLSX, "xlsx-table", ConverterFunc(convertXLSX))

	if captioner != nil {
		r.Register(TypeImage, "image-caption", &imageConverter{captioner: captioner})
	}
	if transcriber != nil {
		media := &mediaConverter{transcriber: transcriber}
		r.Register(TypeAudio, "audio-transcription", media)
		// Video goes through the same speech-to-text path: the server
		// demuxes the audio track itself.
		r.Register(TypeVideo, "video-audio-transcription", media)
	}

	return r
}

// Register installs a converter for a document type.
func (r *Registry) Register(docType, method string, c Converter) {
	r.converters[docType] = c
	r.methods[docType] = method
}

// Supported reports whether docType has a registered converter.
func (r *Registry) Supported(docType string) bool {
	_, ok := r.converters[docType]
	return ok
}

// ToText converts the file at path. On failure it returns a degraded
// Result describing the file instead of an error; ingest records the
// degradation but proceeds.
func (r *Registry) ToText(ctx context.Context, path, docType string) Result {
	conv, ok := r.converters[docType]
	if !ok {
		r.log.Warn("no converter for type",
			slog.String("type", docType), slog.String("path", path))
		return r.describe(path)
	}

	text, err := conv.Convert(ctx, path)
	if err != nil {
		convErr := errors.ConversionError(
			fmt.Sprintf("conversion of %s failed", filepath.Base(path)), err)
		r.log.Warn("conversion degraded to description",
			slog.String("path", path),
			slog.String("type", docType),
			slog.String("error", convErr.Error()))
		return r.describe(path)
	}

	return Result{Text: text, Method: r.methods[docType]}
}

// describe builds the best-effort fallback text for an unconvertible file.
func (r *Registry) describe(path string) Result {
	name := filepath.Base(path)
	text := fmt.Sprintf("File: %s", name)
	if info, err := os.Stat(path); err == nil {
		text = fmt.Sprintf("File: %s (%d bytes)", name, info.Size())
	}
	return Result{Text: text, Method: "description", Degraded: true}
}

// extensionTypes maps lowercase file extensions to document types.
var extensionTypes = map[string]string{
	".txt": TypeText, ".text": TypeText, ".log": TypeText, ".rst": TypeText,
	".md": TypeMarkdown, ".markdown": TypeMarkdown, ".mdx": TypeMarkdown,
	".go": TypeCode, ".py": TypeCode, ".js": TypeCode, ".ts": TypeCode,
	".rs": TypeCode, ".java": TypeCode, ".c": TypeCode, ".h": TypeCode,
	".cpp": TypeCode, ".rb": TypeCode, ".sh": TypeCode, ".sql": TypeCode,
	".html": TypeHTML, ".htm": TypeHTML,
	".pdf":  TypePDF,
	".csv":  TypeCSV, ".tsv": TypeCSV,
	".xlsx": TypeXLSX, ".xlsm": TypeXLSX,
	".json": TypeJSON, ".jsonl": TypeJSON,
	".yaml": TypeYAML, ".yml": TypeYAML,
	".xml": TypeXML,
	".png": TypeImage, ".jpg": TypeImage, ".jpeg": TypeImage,
	".gif": TypeImage, ".webp": TypeImage, ".bmp": TypeImage,
	".mp3": TypeAudio, ".wav": TypeAudio, ".m4a": TypeAudio,
	".flac": TypeAudio, ".ogg": TypeAudio,
	".mp4": TypeVideo, ".mov": TypeVideo, ".mkv": TypeVideo, ".webm": TypeVideo,
}

// DetectType infers the document type from the file extension, defaulting
// to plain text.
func DetectType(path string) string {
	if t, ok := extensionTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return t
	}
	return TypeText
}

func readFile(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
