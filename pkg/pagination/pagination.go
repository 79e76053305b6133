package pagination

import (
	"fmt"
	"strconv"

	"emphealth-backend/pkg/constants"
)

// PaginationParams represents pagination query parameters
type PaginationParams struct {
	Page   int
	Limit  int
	Offset int
}

// PaginationResponse represents paginated response
type PaginationResponse struct {
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	Total      int64       `json:"total"`
	TotalPages int         `json:"total_pages"`
	Data       interface{} `json:"data"`
}

// DefaultPage is the page served when none is requested
const DefaultPage = 1

// ParsePaginationParams parses page and limit query parameters.
// Out-of-range values are clamped; non-numeric values are rejected.
func ParsePaginationParams(pageStr, limitStr string) (*PaginationParams, error) {
	page := DefaultPage
	limit := constants.DefaultPageSize

	if pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil {
			return nil, fmt.Errorf("invalid page parameter: %w", err)
		}
		if p > 1 {
			page = p
		}
	}

	if limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, fmt.Errorf("invalid limit parameter: %w", err)
		}
		switch {
		case l < constants.MinPageSize:
			limit = constants.MinPageSize
		case l > constants.MaxPageSize:
			limit = constants.MaxPageSize
		default:
			limit = l
		}
	}

	return &PaginationParams{
		Page:   page,
		Limit:  limit,
		Offset: CalculateOffset(page, limit),
	}, nil
}

// CalculateOffset calculates offset from page and limit
func CalculateOffset(page, limit int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit
}

// CalculateTotalPages calculates total pages from total count and limit
func CalculateTotalPages(total int64, limit int) int {
	if limit <= 0 {
		return 0
	}
	totalPages := int(total) / limit
	if int(total)%limit > 0 {
		totalPages++
	}
	return totalPages
}

// BuildPaginationResponse creates a standardized pagination response
func BuildPaginationResponse(params *PaginationParams, total int64, data interface{}) *PaginationResponse {
	return &PaginationResponse{
		Page:       params.Page,
		Limit:      params.Limit,
		Total:      total,
		TotalPages: CalculateTotalPages(total, params.Limit),
		Data:       data,
	}
}
