package shared

// Pagination contains metadata for limit/offset listings.
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
	Pages  int `json:"pages"`
}

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// ClampPage normalises limit and offset supplied by callers.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// NewPagination computes pagination metadata.
func NewPagination(limit, offset, total int) Pagination {
	limit, offset = ClampPage(limit, offset)
	pages := (total + limit - 1) / limit
	return Pagination{Limit: limit, Offset: offset, Total: total, Pages: pages}
}
