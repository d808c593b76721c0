package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sheetqa/sheetqa/internal/agent"
)

// queryRequest accepts both camelCase and snake_case field names.
type queryRequest struct {
	Query          string `json:"query"`
	TopK           int    `json:"topK"`
	TopKSnake      int    `json:"top_k"`
	Mode           string `json:"mode"`
	TableName      string `json:"tableName"`
	TableNameSnake string `json:"table_name"`
}

func (q queryRequest) topK() int {
	if q.TopK != 0 {
		return q.TopK
	}
	return q.TopKSnake
}

func (q queryRequest) table() string {
	if strings.TrimSpace(q.TableName) != "" {
		return q.TableName
	}
	return q.TableNameSnake
}

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	owner, ok := requireAgent(deps, w, r)
	if !ok {
		return
	}

	var request queryRequest
	if !decodeJSON(w, r, &request) {
		return
	}
	if strings.TrimSpace(request.Query) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_REQUIRED", "Query cannot be empty")
		return
	}

	result, err := deps.Agent.Query(r.Context(), owner, agent.QueryRequest{
		Query:     request.Query,
		TopK:      request.topK(),
		Mode:      request.Mode,
		TableName: request.table(),
	})
	if err != nil {
		writeAgentError(deps, w, r, err, "Error processing query", request.table())
		return
	}
	writeOK(w, "Query processed successfully", result)
}

func handleTranslateQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	owner, ok := requireAgent(deps, w, r)
	if !ok {
		return
	}

	var request queryRequest
	if !decodeJSON(w, r, &request) {
		return
	}
	if strings.TrimSpace(request.Query) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_REQUIRED", "Query cannot be empty")
		return
	}

	result, err := deps.Agent.Translate(r.Context(), owner, request.Query, request.table())
	if err != nil {
		writeAgentError(deps, w, r, err, "Error translating query", request.table())
		return
	}
	writeOK(w, "Query translated successfully", result)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid request body: "+err.Error())
		return false
	}
	return true
}
