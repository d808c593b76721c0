package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sheetqa/sheetqa/internal/agent"
	"github.com/sheetqa/sheetqa/internal/sheet"
)

const defaultMaxUploadBytes = 32 << 20

func handleUpload(deps Dependencies, maxBytes int64, w http.ResponseWriter, r *http.Request) {
	owner, ok := requireAgent(deps, w, r)
	if !ok {
		return
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", fmt.Sprintf("File exceeds the %d byte upload limit", maxBytes))
			return
		}
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_UPLOAD", "request must be multipart/form-data with a file field")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "FILE_REQUIRED", "file field is required")
		return
	}
	defer file.Close()

	if !sheet.SupportedExtension(header.Filename) {
		writeError(r.Context(), w, http.StatusBadRequest, "UNSUPPORTED_FORMAT", "File must be an Excel file (.xlsx or .xls) or CSV file (.csv)")
		return
	}
	layout, err := sheet.ParseLayout(r.FormValue("format"))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_FORMAT", err.Error())
		return
	}
	content, err := io.ReadAll(file)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_UPLOAD", "failed to read uploaded file")
		return
	}

	result, err := deps.Agent.Ingest(r.Context(), owner, agent.Upload{
		Filename: header.Filename,
		Content:  content,
		Layout:   layout,
	})
	if err != nil {
		writeAgentError(deps, w, r, err, "Error processing file", "")
		return
	}
	writeOK(w, fmt.Sprintf("Successfully uploaded and stored %d rows", result.RowsStored), result)
}

func handleListDatasets(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	owner, ok := requireAgent(deps, w, r)
	if !ok {
		return
	}
	datasets, err := deps.Agent.List(r.Context(), owner)
	if err != nil {
		writeAgentError(deps, w, r, err, "Error listing files", "")
		return
	}
	writeOK(w, fmt.Sprintf("Found %d uploaded file(s)", len(datasets)), map[string]any{
		"files": datasets,
		"count": len(datasets),
	})
}

func handleDeleteDataset(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	owner, ok := requireAgent(deps, w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "DATASET_ID_REQUIRED", "dataset id is required")
		return
	}
	result, err := deps.Agent.Delete(r.Context(), owner, id)
	if err != nil {
		writeAgentError(deps, w, r, err, "Error deleting file", "")
		return
	}
	message := fmt.Sprintf("Successfully deleted file and its database table %s", result.TableName)
	if !result.TableDropped {
		message = fmt.Sprintf("Deleted file; dropping table %s failed and will be retried", result.TableName)
	}
	writeOK(w, message, result)
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	owner, ok := requireAgent(deps, w, r)
	if !ok {
		return
	}
	table := strings.TrimSpace(r.URL.Query().Get("table"))
	result, err := deps.Agent.Schema(r.Context(), owner, table)
	if err != nil {
		writeAgentError(deps, w, r, err, "Error loading schema", table)
		return
	}
	writeOK(w, "Schema retrieved successfully", result)
}

// requireAgent resolves the caller and checks the service is wired.
func requireAgent(deps Dependencies, w http.ResponseWriter, r *http.Request) (string, bool) {
	if deps.Agent == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AGENT_NOT_CONFIGURED", "dataset service is not configured")
		return "", false
	}
	owner, err := userFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "USER_REQUIRED", "User authentication required")
		return "", false
	}
	return owner, true
}
