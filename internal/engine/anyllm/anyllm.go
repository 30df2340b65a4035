// Package anyllm implements [engine.Translator] over
// github.com/mozilla-ai/any-llm-go, the same multi-backend LLM client the
// teacher wraps in pkg/provider/llm/anyllm for conversational completion.
// dubforge needs only one call shape — "translate this batch of strings,
// get the same number back in order" — so this adapter keeps the teacher's
// createBackend provider-name switch and its non-streaming Completion call
// path, and drops the streaming/tool-calling/token-counting machinery the
// conversational engine needed but a batch translator has no use for.
package anyllm

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrWong99/dubforge/internal/dubterr"
	"github.com/MrWong99/dubforge/internal/engine"
	"github.com/MrWong99/dubforge/pkg/types"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"
)

// Compile-time interface assertion.
var _ engine.Translator = (*Translator)(nil)

// lineMarker prefixes each segment in the prompt and is required verbatim
// at the start of each output line, so the response can be split back into
// exactly len(sourceTexts) pieces even when a translation itself spans
// multiple sentences.
const lineMarker = "§"

// Translator is an any-llm-go-backed [engine.Translator].
type Translator struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a Translator backed by the given any-llm-go provider name —
// one of "openai", "anthropic", "gemini", "ollama", "deepseek", "mistral",
// "groq", "llamacpp", "llamafile" — using model for completions.
func New(providerName, model string, opts ...anyllmlib.Option) (*Translator, error) {
	if providerName == "" {
		return nil, dubterr.New(dubterr.KindInvalidRequest, "anyllm.New", "providerName must not be empty")
	}
	if model == "" {
		return nil, dubterr.New(dubterr.KindInvalidRequest, "anyllm.New", "model must not be empty")
	}
	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, dubterr.Wrap(dubterr.KindInvalidRequest, "anyllm.New", fmt.Sprintf("create %q backend", providerName), err)
	}
	return &Translator{backend: backend, model: model}, nil
}

func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// Translate implements [engine.Translator] with a single completion call
// per batch: every source text is sent as one numbered, marker-prefixed
// line, and the model is instructed to return exactly as many
// marker-prefixed lines in the same order. Translate fails closed — if the
// response doesn't parse back into exactly len(sourceTexts) lines, it
// returns an error rather than guessing at a partial mapping.
func (t *Translator) Translate(ctx context.Context, sourceTexts []string, sourceLang, targetLang types.LanguageCode) ([]string, error) {
	if len(sourceTexts) == 0 {
		return nil, nil
	}

	prompt := buildPrompt(sourceTexts, sourceLang, targetLang)
	params := anyllmlib.CompletionParams{
		Model: t.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: systemPrompt(sourceLang, targetLang)},
			{Role: anyllmlib.RoleUser, Content: prompt},
		},
	}
	temp := 0.2
	params.Temperature = &temp

	resp, err := t.backend.Completion(ctx, params)
	if err != nil {
		return nil, dubterr.Wrap(dubterr.KindEngineFailure, "anyllm.Translate", "completion request failed", err)
	}
	if len(resp.Choices) == 0 {
		return nil, dubterr.New(dubterr.KindEngineFailure, "anyllm.Translate", "empty choices in completion response")
	}

	out, err := parseResponse(resp.Choices[0].Message.ContentString(), len(sourceTexts))
	if err != nil {
		return nil, dubterr.Wrap(dubterr.KindEngineFailure, "anyllm.Translate", "parse translation response", err)
	}
	return out, nil
}

func systemPrompt(sourceLang, targetLang types.LanguageCode) string {
	return fmt.Sprintf(
		"You are a professional subtitle and dub-script translator. Translate each "+
			"numbered line from %s to %s, preserving tone, register, and approximate "+
			"spoken length so the translation fits a similar speaking duration as the "+
			"original. Respond with exactly one line per input, each starting with %q "+
			"followed by the line number, a colon, and the translation, in the same "+
			"order as the input. Do not add commentary, explanations, or extra lines.",
		sourceLang, targetLang, lineMarker,
	)
}

func buildPrompt(sourceTexts []string, sourceLang, targetLang types.LanguageCode) string {
	var b strings.Builder
	for i, s := range sourceTexts {
		fmt.Fprintf(&b, "%s%d: %s\n", lineMarker, i+1, s)
	}
	return b.String()
}

// parseResponse splits the model's reply into expected lines ordered by
// their line number prefix, tolerating blank lines and surrounding
// whitespace the model may add around the requested format.
func parseResponse(content string, expected int) ([]string, error) {
	out := make([]string, expected)
	found := make([]bool, expected)

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, lineMarker) {
			continue
		}
		rest := strings.TrimPrefix(line, lineMarker)
		idx := strings.IndexByte(rest, ':')
		if idx < 0 {
			continue
		}
		numStr := strings.TrimSpace(rest[:idx])
		n, err := strconv.Atoi(numStr)
		if err != nil || n < 1 || n > expected {
			continue
		}
		out[n-1] = strings.TrimSpace(rest[idx+1:])
		found[n-1] = true
	}

	for i, ok := range found {
		if !ok {
			return nil, fmt.Errorf("missing translation for line %d in response", i+1)
		}
	}
	return out, nil
}
