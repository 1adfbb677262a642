package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrConfigurationMissing is returned when database credentials have not
// been saved yet.
var ErrConfigurationMissing = errors.New("configuration missing: save database and gpt details first")

// Store persists the operator configuration document.
type Store interface {
	// Load returns false when nothing has been saved yet.
	Load(ctx context.Context) (Configuration, bool, error)
	Save(ctx context.Context, cfg Configuration) error
}

type Configuration struct {
	Database Database `json:"database"`
	GPT      GPT      `json:"gpt"`
}

type Database struct {
	Host     string `json:"host"`
	Port     Port   `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type GPT struct {
	APIKey      string  `json:"gpt_api_key"`
	Temperature float64 `json:"temperature"`
	Model       string  `json:"model"`
}

// Port is a TCP port that decodes from either a JSON number or a numeric
// string. Admin forms tend to post it as a string.
type Port string

func (p *Port) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*p = Port(strings.TrimSpace(raw))
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("port must be a number or numeric string")
	}
	*p = Port(number.String())
	return nil
}

func (p Port) MarshalJSON() ([]byte, error) {
	if n, err := strconv.Atoi(string(p)); err == nil {
		return []byte(strconv.Itoa(n)), nil
	}
	return json.Marshal(string(p))
}

func (p Port) String() string { return string(p) }

// ValidationError reports a malformed configuration payload.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Complete reports whether every database credential is present.
func (c Configuration) Complete() bool {
	return strings.TrimSpace(c.Database.Host) != "" &&
		strings.TrimSpace(string(c.Database.Port)) != "" &&
		strings.TrimSpace(c.Database.User) != "" &&
		c.Database.Password != ""
}

// Normalize trims surrounding whitespace from every text field except the
// secrets, which are kept byte for byte.
func (c Configuration) Normalize() Configuration {
	c.Database.Host = strings.TrimSpace(c.Database.Host)
	c.Database.Port = Port(strings.TrimSpace(string(c.Database.Port)))
	c.Database.User = strings.TrimSpace(c.Database.User)
	c.GPT.Model = strings.TrimSpace(c.GPT.Model)
	return c
}

func (c Configuration) Validate() error {
	if strings.TrimSpace(c.Database.Host) == "" {
		return &ValidationError{Field: "database.host", Message: "is required"}
	}
	port := strings.TrimSpace(string(c.Database.Port))
	if port == "" {
		return &ValidationError{Field: "database.port", Message: "is required"}
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return &ValidationError{Field: "database.port", Message: fmt.Sprintf("%q is not a valid port", port)}
	}
	if strings.TrimSpace(c.Database.User) == "" {
		return &ValidationError{Field: "database.user", Message: "is required"}
	}
	if c.Database.Password == "" {
		return &ValidationError{Field: "database.password", Message: "is required"}
	}
	if c.GPT.Temperature < 0 || c.GPT.Temperature > 2 {
		return &ValidationError{Field: "gpt.temperature", Message: "must be between 0 and 2"}
	}
	return nil
}

// Redacted masks secrets so the value can be logged or echoed back.
func (c Configuration) Redacted() Configuration {
	if c.Database.Password != "" {
		c.Database.Password = "********"
	}
	if c.GPT.APIKey != "" {
		c.GPT.APIKey = "********"
	}
	return c
}

// Encode renders the persisted document with four-space indentation.
func Encode(cfg Configuration) ([]byte, error) {
	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("encode configuration: %w", err)
	}
	return append(data, '\n'), nil
}

func Decode(data []byte) (Configuration, error) {
	var cfg Configuration
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Configuration{}, fmt.Errorf("decode configuration: %w", err)
	}
	return cfg.Normalize(), nil
}
