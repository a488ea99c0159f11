// Package summarizer turns article HTML into a short synopsis using an
// Anthropic model.
package summarizer

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/types"
	"go.uber.org/zap"

	"github.com/JakeFAU/minigist/internal/gist"
)

const (
	defaultModel          = "claude-3-5-haiku-latest"
	defaultMaxTokens      = 1024
	defaultMaxInputTokens = 12000
	charsPerToken         = 4
)

// DefaultSystemPrompt is used when no prompt is configured.
const DefaultSystemPrompt = `You summarize articles for a feed reader.
Write a concise summary in Markdown: one short paragraph followed by at most five bullet points with the key facts.
Do not add a title, preamble or closing remarks. Reply in the language of the article.`

// boilerplate lists elements that never carry article text.
var boilerplate = []string{
	"script", "style", "noscript", "iframe", "svg", "form",
	"nav", "header", "footer", "aside",
}

// PromptFunc sends a prompt to the model and returns the text reply.
type PromptFunc func(systemPrompt, userPrompt string, settings types.RequestSettings) (string, error)

// Config controls model selection and input limits.
type Config struct {
	APIKey         string
	Model          string
	MaxTokens      int
	Temperature    float64
	MaxInputTokens int
	SystemPrompt   string
}

// Summarizer implements gist.Summarizer.
type Summarizer struct {
	cfg       Config
	converter *md.Converter
	prompt    PromptFunc
	logger    *zap.Logger
}

// New builds a Summarizer that calls the Anthropic Messages API.
func New(cfg Config, logger *zap.Logger) (*Summarizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm.api_key is required")
	}
	apiKey := cfg.APIKey
	prompt := func(systemPrompt, userPrompt string, settings types.RequestSettings) (string, error) {
		response, err := anthropic.PromptWithSettings(systemPrompt, userPrompt, "", apiKey, settings)
		if err != nil {
			return "", err
		}
		if len(response.Content) == 0 {
			return "", nil
		}
		return response.Content[0].Text, nil
	}
	return NewWithPrompt(cfg, prompt, logger), nil
}

// NewWithPrompt builds a Summarizer around an arbitrary prompt function.
func NewWithPrompt(cfg Config, prompt PromptFunc, logger *zap.Logger) *Summarizer {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.MaxInputTokens <= 0 {
		cfg.MaxInputTokens = defaultMaxInputTokens
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summarizer{
		cfg:       cfg,
		converter: md.NewConverter("", true, nil),
		prompt:    prompt,
		logger:    logger,
	}
}

// Summarize extracts the readable part of articleText, converts it to
// Markdown and asks the model for a synopsis.
func (s *Summarizer) Summarize(ctx context.Context, articleText string) (string, error) {
	text, err := s.Markdown(articleText)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("article has no readable text: %w", gist.ErrCollaborator)
	}
	text = limitTokens(text, s.cfg.MaxInputTokens)

	settings := types.RequestSettings{
		Model:       s.cfg.Model,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	}
	userPrompt := "Summarize the following article.\n\nArticle:\n" + text

	s.logger.Debug("requesting summary",
		zap.String("model", settings.Model),
		zap.Int("input_chars", len(text)),
	)

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		out, err := s.prompt(s.cfg.SystemPrompt, userPrompt, settings)
		done <- result{text: out, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("summarize canceled: %w", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("llm request failed: %w", r.err)
		}
		summary := strings.TrimSpace(r.text)
		if summary == "" {
			return "", fmt.Errorf("llm returned an empty summary: %w", gist.ErrCollaborator)
		}
		return summary, nil
	}
}

// Markdown converts the main content of an HTML document to Markdown. The
// first <article>, then <main>, then <body> is used, with navigation and
// script elements removed.
func (s *Summarizer) Markdown(html string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse article html: %w", err)
	}
	doc.Find(strings.Join(boilerplate, ",")).Remove()

	selection := doc.Find("article").First()
	if selection.Length() == 0 || strings.TrimSpace(selection.Text()) == "" {
		selection = doc.Find("main").First()
	}
	if selection.Length() == 0 || strings.TrimSpace(selection.Text()) == "" {
		selection = doc.Find("body").First()
	}

	markdown := s.converter.Convert(selection)
	return strings.TrimSpace(markdown), nil
}

// limitTokens truncates content to roughly maxTokens tokens.
func limitTokens(content string, maxTokens int) string {
	maxChars := maxTokens * charsPerToken
	if len(content) <= maxChars {
		return content
	}
	cut := content[:maxChars]
	for !utf8.ValidString(cut) && len(cut) > 0 {
		cut = cut[:len(cut)-1]
	}
	return cut + "..."
}
