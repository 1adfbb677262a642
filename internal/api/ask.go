package api

import (
	"net/http"
	"strings"

	"github.com/querychat/querychat/internal/nl2sql"
	"github.com/querychat/querychat/internal/pipeline"
)

type askRequest struct {
	Query    string           `json:"query"`
	Database string           `json:"database"`
	History  []nl2sql.Message `json:"history"`
}

type executionResult struct {
	Columns      []string `json:"columns"`
	Rows         [][]any  `json:"rows"`
	RowsAffected int64    `json:"rows_affected"`
	IsWrite      bool     `json:"is_write"`
	Truncated    bool     `json:"truncated"`
	Text         string   `json:"text"`
}

type askResponse struct {
	Answer string `json:"answer"`
	// Response duplicates Answer for chat clients that read "response".
	Response        string          `json:"response"`
	SQLQuery        string          `json:"sql_query"`
	ExecutionResult executionResult `json:"execution_result"`
	RephraseError   string          `json:"rephrase_error,omitempty"`
	DurationMs      int64           `json:"duration_ms"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return
	}

	var req askRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_REQUIRED", "query is required", false, nil)
		return
	}
	if strings.TrimSpace(req.Database) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "DATABASE_REQUIRED", "Database name is required.", false, nil)
		return
	}

	history := req.History
	if len(history) > maxChatHistory {
		history = history[len(history)-maxChatHistory:]
	}

	res, err := deps.Pipeline.Answer(r.Context(), pipeline.QueryRequest{
		Question: req.Query,
		Database: req.Database,
		History:  history,
	})
	if err != nil {
		writeFailure(r.Context(), w, err)
		return
	}

	columns := res.Result.Columns
	if columns == nil {
		columns = []string{}
	}
	rows := res.Result.Rows
	if rows == nil {
		rows = [][]any{}
	}
	writeJSON(w, http.StatusOK, askResponse{
		Answer:   res.Answer,
		Response: res.Answer,
		SQLQuery: res.SQL,
		ExecutionResult: executionResult{
			Columns:      columns,
			Rows:         rows,
			RowsAffected: res.Result.RowsAffected,
			IsWrite:      res.Result.IsWrite,
			Truncated:    res.Result.Truncated,
			Text:         res.ResultText,
		},
		RephraseError: res.RephraseError,
		DurationMs:    res.Duration.Milliseconds(),
	})
}
