// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import "strconv"

// AtoiDefault converts a string to an int using strconv.Atoi.
// If the string is empty or cannot be parsed as an integer,
// it returns the provided default value instead.
//
// Example:
//
//	n := utils.AtoiDefault("42", 0) // returns 42
//	n = utils.AtoiDefault("", 10)   // returns 10
//	n = utils.AtoiDefault("x", 5)   // returns 5
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// SkipLimit parses offset-style paging parameters. A missing or negative skip
// becomes 0; limit falls back to def when missing or < 1 and is capped at max.
func SkipLimit(skipRaw, limitRaw string, def, max int) (skip, limit int) {
	skip = AtoiDefault(skipRaw, 0)
	if skip < 0 {
		skip = 0
	}
	limit = AtoiDefault(limitRaw, def)
	if limit < 1 {
		limit = def
	}
	if max > 0 && limit > max {
		limit = max
	}
	return skip, limit
}
