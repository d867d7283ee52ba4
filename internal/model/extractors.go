package model

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/Aman-CERP/corpora/internal/proposition"
)

// Summarizer produces a short abstract of a document.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// KeywordExtractor produces search keywords for a document.
type KeywordExtractor interface {
	Keywords(ctx context.Context, text string) ([]string, error)
}

// TagExtractor produces raw hierarchical tags. The ontology is the set of
// tags already known to the store, offered to the model for reuse. Output
// is unnormalized; callers run it through the tag normalizer.
type TagExtractor interface {
	Tags(ctx context.Context, text string, ontology []string) ([]string, error)
}

// PropositionExtractor produces standalone factual statements.
type PropositionExtractor interface {
	Propositions(ctx context.Context, text string) ([]string, error)
}

const (
	// maxPromptChars truncates document text fed into a prompt so a large
	// document cannot blow the model's context window.
	maxPromptChars = 12000

	maxKeywords = 10
	maxTags     = 8
)

const (
	summarySystem = `You summarize documents. Reply with only the summary, ` +
		`2-4 sentences, no preamble.`

	keywordsSystem = `You extract search keywords from documents. Reply with a ` +
		`JSON array of at most 10 lowercase keywords or short phrases. No prose.`

	tagsSystem = `You assign hierarchical topic tags to documents. Tags use ` +
		`colon-separated levels, lowercase, like "database:postgresql:jsonb". ` +
		`Prefer tags from the known list when they fit. Reply with a JSON array ` +
		`of at most 8 tags. No prose.`

	propositionsSystem = `You extract standalone factual statements from documents. ` +
		`Each statement must be a complete sentence understandable without the ` +
		`document. Reply with one statement per line, no numbering, no preamble.`
)

// Extractors implements all four text collaborators over one client.
type Extractors struct {
	client *Client
}

var (
	_ Summarizer           = (*Extractors)(nil)
	_ KeywordExtractor     = (*Extractors)(nil)
	_ TagExtractor         = (*Extractors)(nil)
	_ PropositionExtractor = (*Extractors)(nil)
)

// NewExtractors creates the collaborator set backed by client.
func NewExtractors(client *Client) *Extractors {
	return &Extractors{client: client}
}

// Summarize returns a short abstract of text.
func (e *Extractors) Summarize(ctx context.Context, text string) (string, error) {
	out, err := e.client.Generate(ctx, GenerateOptions{
		System: summarySystem,
		Prompt: truncate(text),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Keywords returns up to maxKeywords lowercase keywords.
func (e *Extractors) Keywords(ctx context.Context, text string) ([]string, error) {
	out, err := e.client.Generate(ctx, GenerateOptions{
		System: keywordsSystem,
		Prompt: truncate(text),
		Format: "json",
	})
	if err != nil {
		return nil, err
	}
	return parseStringList(out, maxKeywords), nil
}

// Tags returns up to maxTags raw tags, unnormalized.
func (e *Extractors) Tags(ctx context.Context, text string, ontology []string) ([]string, error) {
	prompt := truncate(text)
	if len(ontology) > 0 {
		prompt = fmt.Sprintf("Known tags:\n%s\n\nDocument:\n%s",
			strings.Join(ontology, "\n"), prompt)
	}

	out, err := e.client.Generate(ctx, GenerateOptions{
		System: tagsSystem,
		Prompt: prompt,
		Format: "json",
	})
	if err != nil {
		return nil, err
	}
	return parseStringList(out, maxTags), nil
}

// Propositions returns validated standalone statements.
func (e *Extractors) Propositions(ctx context.Context, text string) ([]string, error) {
	out, err := e.client.Generate(ctx, GenerateOptions{
		System: propositionsSystem,
		Prompt: truncate(text),
	})
	if err != nil {
		return nil, err
	}
	return proposition.Parse(out), nil
}

func truncate(text string) string {
	if len(text) > maxPromptChars {
		return text[:maxPromptChars]
	}
	return text
}

var listSplit = regexp.MustCompile(`[,\n]`)

// parseStringList reads a JSON string array, falling back to splitting on
// commas and newlines when the model ignored the format instruction.
// Entries are trimmed, lowercased, de-duplicated, and capped at limit.
func parseStringList(raw string, limit int) []string {
	raw = strings.TrimSpace(raw)

	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		for _, part := range listSplit.Split(raw, -1) {
			part = strings.Trim(part, ` "'-*[]`+"\t")
			if part != "" {
				items = append(items, part)
			}
		}
	}

	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
		if len(out) == limit {
			break
		}
	}
	return out
}
