package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sheetqa/sheetqa/internal/agent"
	"github.com/sheetqa/sheetqa/internal/auth"
	"github.com/sheetqa/sheetqa/internal/observability"
)

const userHeader = "X-User-ID"

var errUserRequired = errors.New("user authentication required")

// userFromRequest returns the authenticated user, or the X-User-ID header
// when authentication is disabled.
func userFromRequest(r *http.Request) (string, error) {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		if strings.TrimSpace(identity.UserID) != "" {
			return identity.UserID, nil
		}
	}
	userID := strings.TrimSpace(r.Header.Get(userHeader))
	if userID == "" {
		return "", errUserRequired
	}
	observability.SetUserID(r.Context(), userID)
	return userID, nil
}

type errorMapping struct {
	target  error
	status  int
	code    string
	message func(err error, table string) string
}

func fixed(message string) func(error, string) string {
	return func(error, string) string { return message }
}

func described(err error, _ string) string {
	return capitalize(err.Error())
}

var agentErrors = []errorMapping{
	{agent.ErrEmptyQuery, http.StatusBadRequest, "QUERY_REQUIRED", fixed("Query cannot be empty")},
	{agent.ErrUnsupportedFormat, http.StatusBadRequest, "UNSUPPORTED_FORMAT", described},
	{agent.ErrEmptyContent, http.StatusBadRequest, "EMPTY_FILE", fixed("File is empty after processing")},
	{agent.ErrNoColumns, http.StatusBadRequest, "NO_COLUMNS", fixed("File has no columns after processing")},
	{agent.ErrUnreadableFile, http.StatusBadRequest, "UNREADABLE_FILE", described},
	{agent.ErrNoDatasets, http.StatusNotFound, "NO_DATASETS", fixed("No Excel file has been uploaded yet. Please upload an Excel file first.")},
	{agent.ErrTableNotFound, http.StatusNotFound, "TABLE_NOT_FOUND", func(_ error, table string) string {
		return fmt.Sprintf("Table '%s' not found or you don't have permission to access it. Please upload a file first or select a valid file.", table)
	}},
	{agent.ErrForbidden, http.StatusForbidden, "FORBIDDEN", fixed("You don't have permission to access this dataset")},
	{agent.ErrDatasetNotFound, http.StatusNotFound, "DATASET_NOT_FOUND", fixed("File not found")},
	{agent.ErrModelNotConfigured, http.StatusServiceUnavailable, "MODEL_NOT_CONFIGURED", fixed("Language model API key is not configured. Set SHEETQA_AI_API_KEY.")},
	{agent.ErrTranslationFailed, http.StatusBadGateway, "TRANSLATION_FAILED", described},
}

// writeAgentError maps orchestration errors onto the envelope. fallback
// prefixes the message of unexpected failures.
func writeAgentError(deps Dependencies, w http.ResponseWriter, r *http.Request, err error, fallback, table string) {
	for _, mapping := range agentErrors {
		if errors.Is(err, mapping.target) {
			writeError(r.Context(), w, mapping.status, mapping.code, mapping.message(err, table))
			return
		}
	}
	observability.LoggerWithTrace(r.Context(), deps.Logger).ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	writeError(r.Context(), w, http.StatusInternalServerError, "INTERNAL", fallback+": "+err.Error())
}

func capitalize(message string) string {
	if message == "" {
		return message
	}
	return strings.ToUpper(message[:1]) + message[1:]
}
