// Package tablechatctl is the command dispatcher behind the tablechatctl
// binary: thin HTTP calls against a running tablechat API.
package tablechatctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	OwnerID    string
	Project    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("tablechatctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "TableChat API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	ownerID := fs.String("owner-id", defaults.OwnerID, "Owner ID header (used when auth is disabled)")
	project := fs.String("project", defaults.Project, "Project name the command targets")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 30s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	method := ""
	path := ""
	var body []byte
	switch command {
	case "health":
		method, path = http.MethodGet, "/v1/health"
	case "ready":
		method, path = http.MethodGet, "/v1/ready"
	case "ask":
		question := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))
		if question == "" {
			_, _ = fmt.Fprintln(stderr, "ask requires a question argument")
			return 2
		}
		if *project == "" {
			_, _ = fmt.Fprintln(stderr, "ask requires -project")
			return 2
		}
		method, path = http.MethodPost, "/v1/ask"
		body = mustJSON(map[string]string{"project": *project, "input": question})
	case "schema":
		if *project == "" {
			_, _ = fmt.Fprintln(stderr, "schema requires -project")
			return 2
		}
		method, path = http.MethodGet, "/v1/schema?project="+url.QueryEscape(*project)
	case "history":
		if *project == "" {
			_, _ = fmt.Fprintln(stderr, "history requires -project")
			return 2
		}
		method, path = http.MethodGet, "/v1/history?project="+url.QueryEscape(*project)
		if fs.NArg() > 1 {
			limit, err := strconv.Atoi(fs.Arg(1))
			if err != nil || limit < 0 {
				_, _ = fmt.Fprintf(stderr, "invalid history limit %q\n", fs.Arg(1))
				return 2
			}
			path += "&limit=" + strconv.Itoa(limit)
		}
	case "workspaces":
		method, path = http.MethodGet, "/v1/workspaces"
	case "workspace-create":
		target := firstNonEmpty(argAt(fs, 1), *project)
		if target == "" {
			_, _ = fmt.Fprintln(stderr, "workspace-create requires a project argument or -project")
			return 2
		}
		method, path = http.MethodPost, "/v1/workspaces"
		body = mustJSON(map[string]string{"project": target})
	case "workspace-delete":
		target := firstNonEmpty(argAt(fs, 1), *project)
		if target == "" {
			_, _ = fmt.Fprintln(stderr, "workspace-delete requires a project argument or -project")
			return 2
		}
		method, path = http.MethodDelete, "/v1/workspaces/"+url.PathEscape(target)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + path
	code, responseBody, err := doRequest(ctx, client, method, endpoint, *apiKey, *ownerID, body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func doRequest(ctx context.Context, client *http.Client, method, url, apiKey, ownerID string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}
	if strings.TrimSpace(ownerID) != "" {
		req.Header.Set("X-Owner-ID", strings.TrimSpace(ownerID))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
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

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: tablechatctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                      GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                       GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  ask <question>              POST /v1/ask (requires -project)")
	_, _ = fmt.Fprintln(w, "  schema                      GET /v1/schema (requires -project)")
	_, _ = fmt.Fprintln(w, "  history [limit]             GET /v1/history (requires -project)")
	_, _ = fmt.Fprintln(w, "  workspaces                  GET /v1/workspaces")
	_, _ = fmt.Fprintln(w, "  workspace-create [project]  POST /v1/workspaces")
	_, _ = fmt.Fprintln(w, "  workspace-delete [project]  DELETE /v1/workspaces/{project}")
}

func mustJSON(payload any) []byte {
	encoded, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return encoded
}

func argAt(fs *flag.FlagSet, index int) string {
	if fs.NArg() > index {
		return strings.TrimSpace(fs.Arg(index))
	}
	return ""
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
