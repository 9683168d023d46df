package http

// Envelope is the body of every JSON response. Status mirrors the HTTP status.
type Envelope[T any] struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data,omitempty"`
}

// APIResponse is the untyped envelope written by the response helpers.
type APIResponse = Envelope[any]

// FieldError describes one request field that failed binding or validation.
type FieldError struct {
	Code    string                 `json:"code"`
	Field   string                 `json:"field,omitempty"`
	Message string                 `json:"message"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Page is a window over an ordered listing such as the kill ledger history.
// Total counts the whole listing, not the window.
type Page[T any] struct {
	Rows   []T   `json:"rows"`
	Total  int64 `json:"total"`
	Offset int   `json:"offset"`
	Limit  int   `json:"limit,omitempty"`
}

// Paginate cuts rows[offset:offset+limit]. A non-positive limit keeps
// everything after offset; an offset past the end yields an empty window.
func Paginate[T any](rows []T, offset, limit int) Page[T] {
	total := len(rows)
	offset = min(max(offset, 0), total)
	end := total
	if limit > 0 {
		end = min(offset+limit, total)
	} else {
		limit = 0
	}
	window := rows[offset:end]
	if window == nil {
		window = []T{}
	}
	return Page[T]{Rows: window, Total: int64(total), Offset: offset, Limit: limit}
}

// Tail is the last limit rows, the usual view of an append-only log.
func Tail[T any](rows []T, limit int) Page[T] {
	if limit <= 0 || limit >= len(rows) {
		return Paginate(rows, 0, limit)
	}
	return Paginate(rows, len(rows)-limit, limit)
}
