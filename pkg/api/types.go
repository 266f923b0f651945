package api

import "time"

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	LatestBlock *BlockResponse `json:"latest_block,omitempty"`
}

// BlockResponse identifies a block.
type BlockResponse struct {
	Number uint64 `json:"number"`
	Hash   string `json:"hash"`
}

// EntityResponse is one entity as seen from the latest block.
type EntityResponse struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Value any    `json:"value"`
}

// IndexedEntity is one result of an index query.
type IndexedEntity struct {
	ID       string `json:"id"`
	IndexKey string `json:"index_key"`
	Value    any    `json:"value"`
}

// IndexQueryResponse is one page of an index query. NextStartingKey, when
// set, is the starting_key of the next page. It is only returned for range
// queries; exact-key queries report HasMore instead.
type IndexQueryResponse struct {
	Items           []IndexedEntity `json:"items"`
	NextStartingKey *string         `json:"next_starting_key,omitempty"`
	HasMore         bool            `json:"has_more"`
	Block           BlockResponse   `json:"block"`
}
