package pagination

import (
	"fmt"
	"strconv"
)

// Constants
const (
	DefaultLimit = 20
	MaxLimit     = 100
	MinLimit     = 1
)

// Params is a validated limit/offset pair
type Params struct {
	Limit  int
	Offset int
}

// Clamp applies the default and bounds to limit and offset. A non-positive
// limit becomes DefaultLimit; a negative offset becomes 0.
func Clamp(limit, offset int) Params {
	switch {
	case limit < MinLimit:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return Params{Limit: limit, Offset: offset}
}

// ParseLimitOffset parses limit and offset query parameters. Empty values
// take their defaults; out of range values are clamped.
func ParseLimitOffset(limitStr, offsetStr string) (Params, error) {
	limit, offset := 0, 0

	if limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil {
			return Params{}, fmt.Errorf("invalid limit parameter: %w", err)
		}
		limit = l
	}

	if offsetStr != "" {
		o, err := strconv.Atoi(offsetStr)
		if err != nil {
			return Params{}, fmt.Errorf("invalid offset parameter: %w", err)
		}
		offset = o
	}

	return Clamp(limit, offset), nil
}

// TotalPages returns the number of pages of size limit needed for total items
func TotalPages(total int64, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(limit) - 1) / int64(limit))
}
