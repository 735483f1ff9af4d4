// Package rag composes retrieved knowledge and conversation history into a
// single prompt and asks the language model for an answer.
package rag

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-rag-backend/internal/domain"
	"github.com/tbourn/go-rag-backend/internal/search"
)

// Retriever is satisfied by *search.Retriever.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]search.Result, error)
}

// Answer is a generated reply and the distinct sources it was grounded on,
// in retrieval order.
type Answer struct {
	Text    string
	Sources []string
}

// Generator answers questions with one model call per question. Model
// failures are returned as-is; nothing is retried.
type Generator struct {
	Model       llms.Model
	Retriever   Retriever
	TopK        int
	Temperature float64

	instructions string
	template     prompts.PromptTemplate
}

// NewGenerator builds a Generator using prompt p.
func NewGenerator(model llms.Model, r Retriever, p Prompt, topK int, temperature float64) *Generator {
	return &Generator{
		Model:        model,
		Retriever:    r,
		TopK:         topK,
		Temperature:  temperature,
		instructions: p.Instructions,
		template: prompts.NewPromptTemplate(p.Template,
			[]string{"instructions", "chat_history", "context", "question"}),
	}
}

// Generate returns only the answer text.
func (g *Generator) Generate(ctx context.Context, query string, history []domain.Message) (string, error) {
	a, err := g.Answer(ctx, query, history)
	return a.Text, err
}

// Answer retrieves context for query (history does not influence
// retrieval), renders the prompt and calls the model.
func (g *Generator) Answer(ctx context.Context, query string, history []domain.Message) (Answer, error) {
	ctx, span := otel.Tracer("rag").Start(ctx, "Answer",
		trace.WithAttributes(attribute.Int("history.len", len(history))))
	defer span.End()

	results, err := g.Retriever.Retrieve(ctx, query, g.TopK)
	if err != nil {
		span.RecordError(err)
		return Answer{}, fmt.Errorf("retrieve: %w", err)
	}
	span.SetAttributes(attribute.Int("context.chunks", len(results)))

	prompt, err := g.Prompt(query, history, results)
	if err != nil {
		return Answer{}, err
	}

	text, err := llms.GenerateFromSinglePrompt(ctx, g.Model, prompt, llms.WithTemperature(g.Temperature))
	if err != nil {
		span.RecordError(err)
		return Answer{}, fmt.Errorf("generate: %w", err)
	}
	return Answer{Text: text, Sources: sources(results)}, nil
}

// Prompt renders the full prompt for query.
func (g *Generator) Prompt(query string, history []domain.Message, results []search.Result) (string, error) {
	out, err := g.template.Format(map[string]any{
		"instructions": g.instructions,
		"chat_history": FormatHistory(history),
		"context":      FormatContext(results),
		"question":     query,
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return out, nil
}

func sources(results []search.Result) []string {
	seen := make(map[string]bool, len(results))
	out := make([]string, 0, len(results))
	for _, r := range results {
		if !seen[r.Source] {
			seen[r.Source] = true
			out = append(out, r.Source)
		}
	}
	return out
}
