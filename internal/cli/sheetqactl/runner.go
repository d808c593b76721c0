// Package sheetqactl implements the sheetqa command line client.
package sheetqactl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	UserID     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// request is one HTTP call built from a command line.
type request struct {
	method      string
	path        string
	body        io.Reader
	contentType string
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

	fs := flag.NewFlagSet("sheetqactl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "sheetqa API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key or bearer token for authenticated requests")
	userID := fs.String("user-id", defaults.UserID, "User ID header (used when auth is disabled)")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 60s)")

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
	req, err := buildRequest(command, fs.Args()[1:], stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + req.path
	code, responseBody, err := doRequest(ctx, client, req, endpoint, *apiKey, *userID)
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

func buildRequest(command string, args []string, stderr io.Writer) (request, error) {
	switch command {
	case "health":
		return request{method: http.MethodGet, path: "/v1/health"}, nil
	case "ready":
		return request{method: http.MethodGet, path: "/v1/ready"}, nil
	case "datasets":
		return request{method: http.MethodGet, path: "/v1/datasets"}, nil
	case "schema":
		path := "/v1/datasets/schema"
		if len(args) > 0 {
			path += "?" + url.Values{"table": []string{args[0]}}.Encode()
		}
		return request{method: http.MethodGet, path: path}, nil
	case "delete":
		if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
			return request{}, fmt.Errorf("delete requires exactly one dataset id")
		}
		return request{method: http.MethodDelete, path: "/v1/datasets/" + url.PathEscape(strings.TrimSpace(args[0]))}, nil
	case "upload":
		return uploadRequest(args, stderr)
	case "query", "translate":
		return queryRequest(command, args, stderr)
	default:
		return request{}, fmt.Errorf("unknown command %q", command)
	}
}

func uploadRequest(args []string, stderr io.Writer) (request, error) {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	fs.SetOutput(stderr)
	format := fs.String("format", "", "header layout: plain or challan (default auto-detect)")
	if err := fs.Parse(args); err != nil {
		return request{}, err
	}
	if fs.NArg() != 1 {
		return request{}, fmt.Errorf("upload requires exactly one file path")
	}
	filePath := fs.Arg(0)
	content, err := os.ReadFile(filePath)
	if err != nil {
		return request{}, fmt.Errorf("read upload: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return request{}, err
	}
	if _, err := part.Write(content); err != nil {
		return request{}, err
	}
	if strings.TrimSpace(*format) != "" {
		if err := writer.WriteField("format", strings.TrimSpace(*format)); err != nil {
			return request{}, err
		}
	}
	if err := writer.Close(); err != nil {
		return request{}, err
	}
	return request{
		method:      http.MethodPost,
		path:        "/v1/datasets",
		body:        &body,
		contentType: writer.FormDataContentType(),
	}, nil
}

func queryRequest(command string, args []string, stderr io.Writer) (request, error) {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.SetOutput(stderr)
	mode := fs.String("mode", "text", "answer mode: text, graph or table")
	table := fs.String("table", "", "dataset table name (default most recent upload)")
	topK := fs.Int("top-k", 0, "maximum rows returned (default server setting)")
	if err := fs.Parse(args); err != nil {
		return request{}, err
	}
	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		return request{}, fmt.Errorf("%s requires a question", command)
	}

	payload := map[string]any{"query": question}
	if strings.TrimSpace(*table) != "" {
		payload["tableName"] = strings.TrimSpace(*table)
	}
	path := "/v1/query/translate"
	if command == "query" {
		path = "/v1/query"
		payload["mode"] = *mode
		if *topK > 0 {
			payload["topK"] = *topK
		}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return request{}, err
	}
	return request{
		method:      http.MethodPost,
		path:        path,
		body:        bytes.NewReader(encoded),
		contentType: "application/json",
	}, nil
}

func doRequest(ctx context.Context, client *http.Client, in request, endpoint, apiKey, userID string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, in.method, endpoint, in.body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if in.contentType != "" {
		req.Header.Set("Content-Type", in.contentType)
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}
	if strings.TrimSpace(userID) != "" {
		req.Header.Set("X-User-ID", strings.TrimSpace(userID))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
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
	_, _ = fmt.Fprintln(w, "usage: sheetqactl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                                   GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                                    GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  datasets                                 GET /v1/datasets")
	_, _ = fmt.Fprintln(w, "  upload [-format plain|challan] <file>    POST /v1/datasets")
	_, _ = fmt.Fprintln(w, "  delete <dataset-id>                      DELETE /v1/datasets/{id}")
	_, _ = fmt.Fprintln(w, "  schema [table]                           GET /v1/datasets/schema")
	_, _ = fmt.Fprintln(w, "  query [-mode] [-table] [-top-k] <text>   POST /v1/query")
	_, _ = fmt.Fprintln(w, "  translate [-table] <text>                POST /v1/query/translate")
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
