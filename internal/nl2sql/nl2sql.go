// Package nl2sql turns questions into SQL text with an LLM, pulls the
// statement out of the reply, and rephrases results as prose.
package nl2sql

import (
	"context"
	"errors"
)

var (
	ErrGenerationFailed = errors.New("sql generation failed")
	ErrExtractionFailed = errors.New("sql extraction failed")
	ErrRephrasingFailed = errors.New("answer rephrasing failed")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Prompt struct {
	System   string
	Messages []Message
}

// Completer sends one prompt to a chat model and returns its text reply.
type Completer interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
	Provider() string
	Model() string
}

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type TableContext struct {
	Schema     string   `json:"schema,omitempty"`
	TableName  string   `json:"table_name"`
	Columns    []Column `json:"columns"`
	SampleRows [][]any  `json:"sample_rows,omitempty"`
}

// QualifiedName is schema.table, or just the table when no schema is known.
func (t TableContext) QualifiedName() string {
	if t.Schema == "" {
		return t.TableName
	}
	return t.Schema + "." + t.TableName
}

// NormalizeRole maps chat client roles onto the two roles models accept.
// Unknown roles are treated as user turns.
func NormalizeRole(role string) Role {
	switch role {
	case "assistant", "model", "ai", "bot":
		return RoleAssistant
	default:
		return RoleUser
	}
}
