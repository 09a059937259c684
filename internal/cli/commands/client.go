// Package commands implements the pipeline-cli subcommands.
package commands

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/darkace1998/video-pipeline/internal/cli/formatter"
)

// EnvAdminToken supplies --token when the flag is not set
const EnvAdminToken = "PIPELINE_ADMIN_TOKEN"

const defaultMasterURL = "http://localhost:8080"

// common holds the flags every remote command shares
type common struct {
	masterURL string
	token     string
	format    string
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.masterURL, "master-url", defaultMasterURL, "Master server URL")
	fs.StringVar(&c.token, "token", os.Getenv(EnvAdminToken), "Admin bearer token")
	fs.StringVar(&c.format, "format", "table", "Output format: table, json, csv")
}

func (c *common) output(w io.Writer) *formatter.Output {
	return formatter.New(w, formatter.ParseFormat(c.format))
}

func (c *common) client() *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(c.masterURL, "/"),
		token:   c.token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// apiClient calls the master's admin API
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// call sends body as JSON and decodes a JSON object response. Non-2xx
// responses become errors carrying the server's error message.
func (c *apiClient) call(method, path string, body any) (map[string]any, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error connecting to master server at %s: %w", c.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	result := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("error parsing response: %w", err)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := getString(result, "error")
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return nil, fmt.Errorf("master returned %d: %s", resp.StatusCode, msg)
	}
	return result, nil
}

func getString(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func getInt(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func getBool(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func getList(m map[string]any, key string) []map[string]any {
	items, _ := m[key].([]any)
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		if obj, ok := it.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

// shortTime renders an RFC 3339 timestamp as MM-DD HH:MM
func shortTime(s string) string {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.Local().Format("01-02 15:04")
	}
	return s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
