package querychatctl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/querychat/querychat/internal/nl2sql"
	"github.com/querychat/querychat/internal/settings"
)

const (
	defaultBaseURL = "http://localhost:8000"
	maxChatHistory = 20
	thinkingText   = "Assistant is thinking..."
)

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
	Stdin      io.Reader

	// Interactive enables the terminal spinner while a question is in flight.
	Interactive bool
}

// exitError carries the process exit code for failures that are not usage errors.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func requestFailed(format string, args ...any) error {
	return &exitError{code: 1, err: fmt.Errorf(format, args...)}
}

// Run executes one querychatctl invocation and returns its exit code.
func Run(ctx context.Context, args []string, defaults Options) int {
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	root := NewRootCommand(defaults)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		return 2
	}
	return 0
}

type client struct {
	baseURL     string
	http        *http.Client
	stdout      io.Writer
	stderr      io.Writer
	stdin       io.Reader
	interactive bool
}

// NewRootCommand builds the command tree. Flags default to the values in defaults.
func NewRootCommand(defaults Options) *cobra.Command {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	stdin := defaults.Stdin
	if stdin == nil {
		stdin = strings.NewReader("")
	}

	var (
		baseURL string
		timeout time.Duration
	)
	c := &client{stdout: stdout, stderr: stderr, stdin: stdin, interactive: defaults.Interactive}

	root := &cobra.Command{
		Use:   "querychatctl",
		Short: "Chat with your database through the querychat API",
		Long: `querychatctl talks to a running querychat API.
Ask one-off questions, open a chat session, manage the saved
database and model settings, and inspect cached connections.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c.baseURL = strings.TrimRight(firstNonEmpty(baseURL, defaultBaseURL), "/")
			c.http = defaults.HTTPClient
			if c.http == nil {
				c.http = &http.Client{Timeout: durationOr(timeout, 3*time.Minute)}
			}
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetIn(stdin)
	root.PersistentFlags().StringVar(&baseURL, "base-url", firstNonEmpty(defaults.BaseURL, defaultBaseURL), "querychat API base URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", durationOr(defaults.Timeout, 3*time.Minute), "HTTP timeout (e.g. 90s)")

	root.AddCommand(
		c.simpleCommand("health", "Check API liveness", http.MethodGet, "/v1/health"),
		c.simpleCommand("ready", "Check API readiness", http.MethodGet, "/v1/ready"),
		c.simpleCommand("config", "Show the saved settings with secrets masked", http.MethodGet, "/config-details"),
		c.simpleCommand("list-databases", "List databases on the configured server", http.MethodGet, "/list-databases"),
		c.simpleCommand("connections", "List cached database connections", http.MethodGet, "/connections"),
		c.askCommand(),
		c.chatCommand(),
		c.saveConfigCommand(),
		c.listTablesCommand(),
		c.invalidateCommand(),
	)
	return root
}

func (c *client) simpleCommand(use, short, method, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := c.call(cmd.Context(), method, path, nil)
			if err != nil {
				return err
			}
			c.printJSON(body)
			return nil
		},
	}
}

func (c *client) listTablesCommand() *cobra.Command {
	var database string
	cmd := &cobra.Command{
		Use:   "list-tables",
		Short: "List base tables in a database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/list-tables?" + url.Values{"database": {database}}.Encode()
			body, err := c.call(cmd.Context(), http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			c.printJSON(body)
			return nil
		},
	}
	cmd.Flags().StringVarP(&database, "database", "d", "", "database to list")
	_ = cmd.MarkFlagRequired("database")
	return cmd
}

func (c *client) invalidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate [database]",
		Short: "Drop cached connections (all of them when no database is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/connections"
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				path += "/" + url.PathEscape(strings.TrimSpace(args[0]))
			}
			body, err := c.call(cmd.Context(), http.MethodDelete, path, nil)
			if err != nil {
				return err
			}
			c.printJSON(body)
			return nil
		},
	}
}

func (c *client) saveConfigCommand() *cobra.Command {
	var (
		cfg  settings.Configuration
		port string
	)
	cmd := &cobra.Command{
		Use:   "save-config",
		Short: "Save database credentials and model settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg.Database.Port = settings.Port(port)
			body, err := c.call(cmd.Context(), http.MethodPost, "/save-config-details", cfg)
			if err != nil {
				return err
			}
			var resp struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(body, &resp); err == nil && resp.Message != "" {
				pterm.Fprintln(c.stdout, resp.Message)
				return nil
			}
			c.printJSON(body)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&cfg.Database.Host, "host", "", "database host")
	flags.StringVar(&port, "port", "", "database port")
	flags.StringVar(&cfg.Database.User, "user", "", "database user")
	flags.StringVar(&cfg.Database.Password, "password", "", "database password")
	flags.StringVar(&cfg.GPT.APIKey, "api-key", "", "model provider API key")
	flags.Float64Var(&cfg.GPT.Temperature, "temperature", 0.04, "sampling temperature")
	flags.StringVar(&cfg.GPT.Model, "model", "", "model identifier")
	return cmd
}

type askRequest struct {
	Query    string           `json:"query"`
	Database string           `json:"database"`
	History  []nl2sql.Message `json:"history,omitempty"`
}

type askResponse struct {
	Answer          string `json:"answer"`
	SQLQuery        string `json:"sql_query"`
	RephraseError   string `json:"rephrase_error"`
	ExecutionResult struct {
		Text      string `json:"text"`
		Truncated bool   `json:"truncated"`
	} `json:"execution_result"`
}

func (c *client) askCommand() *cobra.Command {
	var (
		database string
		rawJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question about a database",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			body, err := c.ask(cmd.Context(), askRequest{Query: question, Database: database})
			if err != nil {
				return err
			}
			if rawJSON {
				c.printJSON(body)
				return nil
			}
			var resp askResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				c.printJSON(body)
				return nil
			}
			c.printAnswer(resp)
			return nil
		},
	}
	cmd.Flags().StringVarP(&database, "database", "d", "", "database to query")
	cmd.Flags().BoolVar(&rawJSON, "json", false, "print the raw JSON response")
	_ = cmd.MarkFlagRequired("database")
	return cmd
}

func (c *client) chatCommand() *cobra.Command {
	var database string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session against a database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.chat(cmd.Context(), database)
		},
	}
	cmd.Flags().StringVarP(&database, "database", "d", "", "database to query")
	_ = cmd.MarkFlagRequired("database")
	return cmd
}

// chat reads questions line by line until EOF or "exit". Failed turns are
// reported and left out of the history sent with later questions.
func (c *client) chat(ctx context.Context, database string) error {
	pterm.Fprintln(c.stdout, "Chatting with "+database+". Type \"exit\" to quit.")
	scanner := bufio.NewScanner(c.stdin)
	var history []nl2sql.Message
	for {
		_, _ = fmt.Fprint(c.stdout, "You: ")
		if !scanner.Scan() {
			_, _ = fmt.Fprintln(c.stdout)
			return scanner.Err()
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if question == "exit" || question == "quit" {
			return nil
		}

		body, err := c.ask(ctx, askRequest{Query: question, Database: database, History: history})
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			pterm.Fprintln(c.stderr, "Error: "+err.Error())
			continue
		}
		var resp askResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			pterm.Fprintln(c.stderr, "Error: unexpected response: "+err.Error())
			continue
		}
		c.printAnswer(resp)

		history = append(history,
			nl2sql.Message{Role: nl2sql.RoleUser, Content: question},
			nl2sql.Message{Role: nl2sql.RoleAssistant, Content: resp.Answer},
		)
		if len(history) > maxChatHistory {
			history = history[len(history)-maxChatHistory:]
		}
	}
}

func (c *client) ask(ctx context.Context, req askRequest) ([]byte, error) {
	var spinner *pterm.SpinnerPrinter
	if c.interactive {
		spinner, _ = pterm.DefaultSpinner.WithRemoveWhenDone(true).Start(thinkingText)
	}
	body, err := c.call(ctx, http.MethodPost, "/ask", req)
	if spinner != nil {
		_ = spinner.Stop()
	}
	return body, err
}

func (c *client) printAnswer(resp askResponse) {
	pterm.Fprintln(c.stdout, "Assistant: "+resp.Answer)
	if strings.TrimSpace(resp.SQLQuery) != "" {
		pterm.Fprintln(c.stdout, "SQL: "+resp.SQLQuery)
	}
	if resp.ExecutionResult.Truncated {
		pterm.Fprintln(c.stdout, "(result truncated)")
	}
	if resp.RephraseError != "" {
		pterm.Fprintln(c.stderr, "Warning: answer shows the raw result: "+resp.RephraseError)
	}
}

// call sends one request and returns the body of a 2xx response. Any other
// status becomes an exit code 1 error carrying the API's message.
func (c *client) call(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, requestFailed("request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, requestFailed("read response: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, requestFailed("http %d: %s", resp.StatusCode, errorMessage(body))
	}
	return body, nil
}

// errorMessage prefers the envelope's message over the raw body.
func errorMessage(body []byte) string {
	var envelope struct {
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
		Detail    string `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		message := firstNonEmpty(envelope.Message, envelope.Detail)
		if message != "" && envelope.ErrorCode != "" {
			return envelope.ErrorCode + ": " + message
		}
		if message != "" {
			return message
		}
	}
	return strings.TrimSpace(string(body))
}

func (c *client) printJSON(body []byte) {
	if pretty, ok := prettyJSON(body); ok {
		_, _ = fmt.Fprintln(c.stdout, pretty)
		return
	}
	if len(body) > 0 {
		_, _ = fmt.Fprintln(c.stdout, string(body))
	}
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
