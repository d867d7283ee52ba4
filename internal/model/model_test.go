package model

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// generateStub answers /api/generate with a fixed response and records
// the last request body.
func generateStub(t *testing.T, response string) (*httptest.Server, *generateRequest) {
	t.Helper()
	var last generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&last))
		_, _ = w.Write([]byte(`{"response": ` + jsonString(response) + `, "done": true}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &last
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestExtractors_Summarize(t *testing.T) {
	srv, last := generateStub(t, "  A short summary of the document.  ")
	e := NewExtractors(NewClient(Config{Host: srv.URL, Model: "test"}))

	got, err := e.Summarize(context.Background(), "long document text")
	require.NoError(t, err)
	assert.Equal(t, "A short summary of the document.", got)
	assert.Equal(t, "test", last.Model)
	assert.False(t, last.Stream)
}

func TestExtractors_KeywordsJSON(t *testing.T) {
	srv, last := generateStub(t, `["PostgreSQL", "jsonb", "indexing", "jsonb"]`)
	e := NewExtractors(NewClient(Config{Host: srv.URL}))

	got, err := e.Keywords(context.Background(), "doc")
	require.NoError(t, err)
	assert.Equal(t, []string{"postgresql", "jsonb", "indexing"}, got)
	assert.Equal(t, "json", last.Format)
}

func TestExtractors_KeywordsFallbackParsing(t *testing.T) {
	srv, _ := generateStub(t, "- postgres\n- jsonb indexing\n- gin")
	e := NewExtractors(NewClient(Config{Host: srv.URL}))

	got, err := e.Keywords(context.Background(), "doc")
	require.NoError(t, err)
	assert.Equal(t, []string{"postgres", "jsonb indexing", "gin"}, got)
}

func TestExtractors_TagsIncludeOntology(t *testing.T) {
	srv, last := generateStub(t, `["database:postgresql"]`)
	e := NewExtractors(NewClient(Config{Host: srv.URL}))

	got, err := e.Tags(context.Background(), "doc", []string{"database:postgresql", "ai:llm"})
	require.NoError(t, err)
	assert.Equal(t, []string{"database:postgresql"}, got)
	assert.Contains(t, last.Prompt, "Known tags:")
	assert.Contains(t, last.Prompt, "ai:llm")
}

func TestExtractors_PropositionsFiltered(t *testing.T) {
	srv, _ := generateStub(t,
		"Please provide the text you want analyzed.\n"+
			"The planner chooses GIN indexes for JSONB containment queries.")
	e := NewExtractors(NewClient(Config{Host: srv.URL}))

	got, err := e.Propositions(context.Background(), "doc")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"The planner chooses GIN indexes for JSONB containment queries.",
	}, got)
}

func TestClient_RetriesThenFails(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{Host: srv.URL, MaxRetries: 2})
	_, err := c.Generate(context.Background(), GenerateOptions{Prompt: "p"})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestVisionCaptioner_SendsImage(t *testing.T) {
	srv, last := generateStub(t, "A diagram of a B-tree index.")
	c := NewVisionCaptioner(NewClient(Config{Host: srv.URL}), "")

	path := filepath.Join(t.TempDir(), "diagram.png")
	require.NoError(t, os.WriteFile(path, []byte("not-really-a-png"), 0o644))

	got, err := c.Caption(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "A diagram of a B-tree index.", got)
	assert.Equal(t, DefaultVisionModel, last.Model)
	require.Len(t, last.Images, 1)
}

func TestWhisperTranscriber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		_, _ = w.Write([]byte(`{"text": " hello from the meeting "}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "meeting.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFFdata"), 0o644))

	tr := NewWhisperTranscriber(srv.URL, "")
	got, err := tr.Transcribe(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "hello from the meeting", got)
}
