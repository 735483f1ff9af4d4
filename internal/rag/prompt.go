package rag

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tbourn/go-rag-backend/internal/domain"
	"github.com/tbourn/go-rag-backend/internal/search"
)

// DefaultInstructions is the system part of the answer prompt.
const DefaultInstructions = `You are a helpful assistant specializing in providing information about skripsi (thesis) guidelines and processes.

Your task is to answer the user's question based on the provided context. If the answer is not in the context or you're unsure, say that you don't know rather than making up information.

When providing responses:
- Keep your answers concise and focused on the user's question
- Format your response in a clear, readable way
- Maintain a helpful and supportive tone`

// DefaultTemplate lays out the prompt. It is a Go text/template over the
// keys instructions, chat_history, context and question.
const DefaultTemplate = `{{.instructions}}

Chat History:
{{.chat_history}}
Context:
{{.context}}
User Question: {{.question}}

Assistant:`

// Prompt is the answer prompt, optionally loaded from YAML:
//
//	instructions: |
//	  You answer questions about the faculty handbook.
//	template: |
//	  {{.instructions}}
//	  ...
type Prompt struct {
	Instructions string `yaml:"instructions"`
	Template     string `yaml:"template"`
}

// DefaultPrompt returns the built-in prompt.
func DefaultPrompt() Prompt {
	return Prompt{Instructions: DefaultInstructions, Template: DefaultTemplate}
}

// LoadPrompt reads a YAML override from path. An empty path, or a field left
// blank in the file, keeps the default.
func LoadPrompt(path string) (Prompt, error) {
	p := DefaultPrompt()
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read prompt file: %w", err)
	}
	var override Prompt
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return p, fmt.Errorf("parse prompt file: %w", err)
	}
	if strings.TrimSpace(override.Instructions) != "" {
		p.Instructions = strings.TrimSpace(override.Instructions)
	}
	if strings.TrimSpace(override.Template) != "" {
		p.Template = override.Template
	}
	return p, nil
}

// FormatHistory renders prior turns as "User: ..." / "Assistant: ..."
// blocks. A trailing user turn is the question being asked and is left out.
func FormatHistory(history []domain.Message) string {
	if n := len(history); n > 0 && history[n-1].Role == domain.RoleUser {
		history = history[:n-1]
	}
	var b strings.Builder
	for _, m := range history {
		if m.Role == domain.RoleUser {
			b.WriteString("User: ")
		} else {
			b.WriteString("Assistant: ")
		}
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}

// FormatContext numbers the retrieved chunks from 1 and labels each with
// its source.
func FormatContext(results []search.Result) string {
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "Document %d (source: %s):\n%s\n\n", i+1, r.Source, r.Content)
	}
	return b.String()
}
