package nl2sql

import (
	"context"
	"fmt"
	"strings"
)

const answerTemplate = `Given the following user question, corresponding SQL query, and SQL result, answer the user question.

Question: %s
SQL Query: %s
SQL Result: %s
Answer: `

type Rephraser struct {
	completer Completer
}

func NewRephraser(completer Completer) (*Rephraser, error) {
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	return &Rephraser{completer: completer}, nil
}

// Rephrase turns a question, its SQL and the rendered result into prose.
func (r *Rephraser) Rephrase(ctx context.Context, question, statement, result string) (string, error) {
	prompt := Prompt{
		Messages: []Message{{
			Role:    RoleUser,
			Content: fmt.Sprintf(answerTemplate, strings.TrimSpace(question), strings.TrimSpace(statement), result),
		}},
	}
	text, err := r.completer.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRephrasingFailed, err)
	}
	answer := strings.TrimSpace(text)
	if answer == "" {
		return "", fmt.Errorf("%w: model returned empty text", ErrRephrasingFailed)
	}
	return answer, nil
}
