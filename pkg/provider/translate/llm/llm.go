// Package llm provides a Translator that prompts a chat model through
// github.com/mozilla-ai/any-llm-go, so any backend it supports (OpenAI,
// Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, llama.cpp, llamafile)
// can serve as a translation engine.
//
// Usage:
//
//	t, err := llm.New("ollama", "llama3.1", anyllmlib.WithBaseURL("http://localhost:11434"))
//	out, err := t.Translate(ctx, "en", "ja", "Good morning")
package llm

import (
	"context"
	"fmt"
	"strings"

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

	"github.com/MrWong99/lingolens/pkg/lang"
	"github.com/MrWong99/lingolens/pkg/provider/translate"
)

// Compile-time assertion that Provider implements translate.Translator.
var _ translate.Translator = (*Provider)(nil)

// defaultTemperature keeps translations close to literal.
const defaultTemperature = 0.1

// Provider implements translate.Translator on top of an any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a Provider backed by the named LLM provider.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama", "deepseek",
// "mistral", "groq", "llamacpp", "llamafile".
//
// opts are any-llm-go configuration options (e.g., anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). Without an API key option the backend falls back to
// its environment variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, ...).
func New(providerName string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("llm translate: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("llm translate: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("llm translate: create %q backend: %w", providerName, err)
	}
	return &Provider{backend: backend, model: model}, nil
}

// createBackend creates the underlying any-llm-go provider for the given provider name.
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

// Translate implements translate.Translator.
func (p *Provider) Translate(ctx context.Context, sourceLang, targetLang, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	temp := defaultTemperature
	params := anyllmlib.CompletionParams{
		Model: p.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: systemPrompt(sourceLang, targetLang)},
			{Role: anyllmlib.RoleUser, Content: text},
		},
		Temperature: &temp,
	}

	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return "", fmt.Errorf("llm translate: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm translate: empty choices in response")
	}
	return cleanReply(resp.Choices[0].Message.ContentString()), nil
}

// systemPrompt instructs the model to act as a pure translation function.
func systemPrompt(sourceLang, targetLang string) string {
	from := "the language it is written in"
	if sourceLang != lang.Auto {
		from = lang.Name(sourceLang)
	}
	return fmt.Sprintf(
		"You are a translation engine. Translate the user's message from %s into %s. "+
			"Reply with the translation only: no quotes, notes, transliterations, or explanations. "+
			"Keep line breaks, numbers, and proper nouns as they are.",
		from, lang.Name(targetLang),
	)
}

// cleanReply strips whitespace and a single pair of wrapping quotes, which
// chat models add despite being told not to.
func cleanReply(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range [][2]string{{`"`, `"`}, {"“", "”"}, {"「", "」"}} {
		if len(s) >= len(q[0])+len(q[1]) && strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) {
			return strings.TrimSpace(s[len(q[0]) : len(s)-len(q[1])])
		}
	}
	return s
}
