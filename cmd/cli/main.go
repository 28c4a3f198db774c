// SPDX-License-Identifier: Apache-2.0

// Command cli is a small admin client for a running keyrouter instance:
// create and list credentials, fetch per-key status, and try intent matches
// without hand-writing curl invocations. The server address comes from
// KEYROUTER_URL (default http://localhost:8080), the admin token from
// ADMIN_TOKEN.
package main

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
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(2)
	}

	client := &apiClient{
		baseURL:    strings.TrimRight(envOr("KEYROUTER_URL", "http://localhost:8080"), "/"),
		adminToken: os.Getenv("ADMIN_TOKEN"),
		http:       &http.Client{Timeout: 30 * time.Second},
	}

	var err error
	switch os.Args[1] {
	case "create":
		err = runCreate(client, os.Args[2:])
	case "list":
		err = client.call(http.MethodGet, "/keys", nil, true)
	case "status":
		err = runStatus(client, os.Args[2:])
	case "templates":
		err = client.call(http.MethodGet, "/templates", nil, true)
	case "match":
		err = runMatch(client, os.Args[2:])
	case "activity":
		err = runActivity(client, os.Args[2:])
	default:
		printUsage(os.Stderr)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runCreate(client *apiClient, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	name := fs.String("name", "", "credential name (required)")
	provider := fs.String("provider", "", "provider identifier")
	secretRef := fs.String("secret-ref", "", "secret store reference (required)")
	template := fs.String("template", "", "scope template preset")
	tags := fs.String("tags", "", "comma-separated scope tags")
	dayLimit := fs.Int("max-requests-per-day", 0, "daily request limit, 0 = unlimited")
	weekLimit := fs.Int("max-requests-per-week", 0, "weekly request limit, 0 = unlimited")
	tokenLimit := fs.Int("max-tokens-per-day", 0, "daily token limit, 0 = unlimited")
	payloadCap := fs.Int("max-payload-kb", 0, "per-request payload cap in KB, 0 = unlimited")
	expiresAt := fs.String("expires-at", "", "expiry (RFC 3339)")
	origins := fs.String("origins", "", "comma-separated allowed origins")
	if err := fs.Parse(args); err != nil {
		return err
	}

	body := map[string]any{
		"name":       *name,
		"provider":   *provider,
		"secret_ref": *secretRef,
	}
	if *template != "" {
		body["template"] = *template
	}
	if *tags != "" {
		body["scope_tags"] = splitList(*tags)
	}
	if *dayLimit > 0 {
		body["max_requests_per_day"] = *dayLimit
	}
	if *weekLimit > 0 {
		body["max_requests_per_week"] = *weekLimit
	}
	if *tokenLimit > 0 {
		body["max_tokens_per_day"] = *tokenLimit
	}
	if *payloadCap > 0 {
		body["max_payload_kb"] = *payloadCap
	}
	if *expiresAt != "" {
		body["expires_at"] = *expiresAt
	}
	if *origins != "" {
		body["allowed_origins"] = splitList(*origins)
	}

	return client.call(http.MethodPost, "/keys", body, true)
}

func runStatus(client *apiClient, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	id := fs.String("id", "", "credential id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("-id is required")
	}
	return client.call(http.MethodGet, "/keys/"+*id+"/status", nil, true)
}

func runMatch(client *apiClient, args []string) error {
	fs := flag.NewFlagSet("match", flag.ExitOnError)
	text := fs.String("text", "", "intent text (required)")
	origin := fs.String("origin", "", "declared caller origin")
	estimatedTokens := fs.Int64("estimated-tokens", 0, "estimated token usage")
	payloadKB := fs.Int("payload-kb", 0, "request payload size in KB")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*text) == "" {
		return fmt.Errorf("-text is required")
	}

	body := map[string]any{"text": *text}
	if *origin != "" {
		body["origin"] = *origin
	}
	if *estimatedTokens > 0 {
		body["estimatedTokens"] = *estimatedTokens
	}
	if *payloadKB > 0 {
		body["payloadKb"] = *payloadKB
	}

	return client.call(http.MethodPost, "/intent/match", body, false)
}

func runActivity(client *apiClient, args []string) error {
	fs := flag.NewFlagSet("activity", flag.ExitOnError)
	limit := fs.Int("limit", 20, "number of decisions to fetch")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return client.call(http.MethodGet, fmt.Sprintf("/activity?limit=%d", *limit), nil, true)
}

type apiClient struct {
	baseURL    string
	adminToken string
	http       *http.Client
}

func (c *apiClient) call(method, path string, body any, admin bool) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		if c.adminToken == "" {
			return fmt.Errorf("ADMIN_TOKEN is required for %s %s", method, path)
		}
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(payload)))
	}

	return printJSON(os.Stdout, payload)
}

// printJSON re-indents the server response so terminal output stays readable.
func printJSON(w io.Writer, payload []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(payload), "", "  "); err != nil {
		_, writeErr := w.Write(payload)
		return writeErr
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func printUsage(w *os.File) {
	fmt.Fprintln(w, `usage: cli <command> [flags]

commands:
  create     register a credential (admin)
  list       list credentials (admin)
  status     show one credential's derived status and live usage (admin)
  templates  list scope template presets (admin)
  activity   show recent match decisions (admin)
  match      submit an intent and print the decision`)
}
