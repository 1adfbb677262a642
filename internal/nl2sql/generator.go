package nl2sql

import (
	"context"
	"fmt"
	"strings"

	"github.com/querychat/querychat/internal/query"
)

const defaultTopK = 5

type GenerateRequest struct {
	Question string
	// Dialect is the engine name shown to the model, e.g. "sqlserver".
	Dialect string
	Tables  []TableContext
	History []Message
}

// Generator asks a chat model for SQL answering a question.
type Generator struct {
	completer    Completer
	historyTurns int
	topK         int
}

func NewGenerator(completer Completer, historyTurns int) (*Generator, error) {
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if historyTurns < 0 {
		historyTurns = 0
	}
	return &Generator{completer: completer, historyTurns: historyTurns, topK: defaultTopK}, nil
}

// Generate returns the raw model text; the statement still has to be
// pulled out with ExtractStatement.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return "", fmt.Errorf("%w: question is required", ErrGenerationFailed)
	}
	prompt := Prompt{
		System:   buildSystemPrompt(req.Dialect, g.topK, req.Tables),
		Messages: append(trimHistory(req.History, g.historyTurns), Message{Role: RoleUser, Content: "Question: " + question}),
	}
	text, err := g.completer.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %s %s: %w", ErrGenerationFailed, g.completer.Provider(), g.completer.Model(), err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: model returned empty text", ErrGenerationFailed)
	}
	return text, nil
}

func buildSystemPrompt(dialect string, topK int, tables []TableContext) string {
	if dialect == "" {
		dialect = "SQL"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s expert. Given an input question, write one syntactically correct %s query that answers it.\n", dialect, dialect)
	fmt.Fprintf(&b, "Unless the user asks for a specific number of rows, return at most %d rows using the row limiting syntax of %s.\n", topK, dialect)
	b.WriteString("Never select all columns from a table; only query the columns needed to answer the question.\n")
	b.WriteString("Only use the tables and columns listed below and qualify tables with their schema.\n")
	b.WriteString("Reply in exactly this format:\n\nSQL Query:\n```sql\n<one statement>\n```\nExplanation: <one sentence>\n")

	if len(tables) == 0 {
		return b.String()
	}
	b.WriteString("\nOnly use the following tables:\n")
	for _, table := range tables {
		b.WriteString("\n")
		b.WriteString(describeTable(table))
	}
	return b.String()
}

func describeTable(table TableContext) string {
	var b strings.Builder
	columns := make([]string, 0, len(table.Columns))
	names := make([]string, 0, len(table.Columns))
	for _, column := range table.Columns {
		names = append(names, column.Name)
		if column.Type == "" {
			columns = append(columns, column.Name)
			continue
		}
		columns = append(columns, column.Name+" "+column.Type)
	}
	fmt.Fprintf(&b, "Table %s (%s)\n", table.QualifiedName(), strings.Join(columns, ", "))
	if len(table.SampleRows) == 0 {
		return b.String()
	}
	fmt.Fprintf(&b, "%d sample rows:\n", len(table.SampleRows))
	b.WriteString(strings.Join(names, " | "))
	b.WriteByte('\n')
	for _, row := range table.SampleRows {
		values := make([]string, 0, len(row))
		for _, value := range row {
			values = append(values, truncate(query.FormatValue(value), 80))
		}
		b.WriteString(strings.Join(values, " | "))
		b.WriteByte('\n')
	}
	return b.String()
}

// trimHistory keeps the last turns, dropping empty messages.
func trimHistory(history []Message, turns int) []Message {
	kept := make([]Message, 0, len(history))
	for _, msg := range history {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		kept = append(kept, Message{Role: NormalizeRole(string(msg.Role)), Content: msg.Content})
	}
	if turns >= 0 && len(kept) > turns {
		kept = kept[len(kept)-turns:]
	}
	return kept
}
