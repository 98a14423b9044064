package broker

import (
	"encoding/json"

	"github.com/datapulse/datapulse/internal/domain"
)

// Wire message types. Clients send the first three, the server the rest.
const (
	msgDataSubscribe   = "data:subscribe"
	msgDataUnsubscribe = "data:unsubscribe"
	msgQueryExecute    = "query:execute"

	msgDataUpdate   = "data:update"
	msgQueryResult  = "query:result"
	msgSystemStatus = "system:status"
	msgError        = "error"
)

// ClientMessage is the union of everything a client may send, discriminated
// by Type. Fields not belonging to the given type are left at their zero
// value and ignored.
type ClientMessage struct {
	Type     string          `json:"type"`
	SourceID string          `json:"sourceId,omitempty"`
	Filters  json.RawMessage `json:"filters,omitempty"`
	SQL      string          `json:"sql,omitempty"`
	Params   []any           `json:"params,omitempty"`
}

type dataUpdateMessage struct {
	Type     string `json:"type"`
	SourceID string `json:"sourceId"`
	Data     []any  `json:"data"`
}

type queryResultMessage struct {
	Type    string           `json:"type"`
	QueryID string           `json:"queryId"`
	Data    []map[string]any `json:"data"`
	Error   *string          `json:"error"`
}

type systemStatusMessage struct {
	Type        string `json:"type"`
	Memory      uint64 `json:"memory"`
	Connections int    `json:"connections"`
	Dropped     int64  `json:"dropped"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func newDataUpdate(sourceID string, data []any) dataUpdateMessage {
	return dataUpdateMessage{Type: msgDataUpdate, SourceID: sourceID, Data: data}
}

func newQueryResult(queryID string, data []map[string]any) queryResultMessage {
	return queryResultMessage{Type: msgQueryResult, QueryID: queryID, Data: data}
}

func newQueryError(queryID, message string) queryResultMessage {
	return queryResultMessage{Type: msgQueryResult, QueryID: queryID, Data: []map[string]any{}, Error: &message}
}

func newError(message, code string) errorMessage {
	return errorMessage{Type: msgError, Message: message, Code: code}
}

// rowObjects renders a column-oriented result as one JSON object per row,
// which is what dashboard clients bind widgets to.
func rowObjects(result domain.QueryResult) []map[string]any {
	rows := make([]map[string]any, 0, len(result.Data))
	for _, row := range result.Data {
		obj := make(map[string]any, len(result.Columns))
		for i, column := range result.Columns {
			if i < len(row) {
				obj[column] = row[i]
			}
		}
		rows = append(rows, obj)
	}
	return rows
}
