package search

import "strings"

// SortKey is the reserved "_sort" query parameter name.
const SortKey = "_sort"

// Sort is one parsed sort argument: the search-parameter name it
// refers to and whether it reverses the default ascending order.
//
// Grounded on original_source's SortArgument (leading '-' reverses
// direction, defaulting to increasing).
type Sort struct {
	NameURL    string
	NameDB     string
	Descending bool
}

func parseSortArguments(raw string) []Sort {
	var sorts []Sort
	for _, part := range strings.Split(raw, ",") {
		if part == "" {
			continue
		}
		s := Sort{NameURL: part}
		if strings.HasPrefix(part, "-") {
			s.Descending = true
			s.NameURL = part[1:]
		}
		sorts = append(sorts, s)
	}
	return sorts
}

func (s Sort) linkString() string {
	if s.Descending {
		return "-" + s.NameURL
	}
	return s.NameURL
}

// OrderBySQL renders the ORDER BY clause (without the "ORDER BY"
// keyword) for the parsed sort arguments, or "" if none were given.
func (ua *UrlArguments) OrderBySQL() string {
	if len(ua.sortArguments) == 0 {
		return ""
	}
	parts := make([]string, 0, len(ua.sortArguments))
	for _, s := range ua.sortArguments {
		dir := "ASC"
		if s.Descending {
			dir = "DESC"
		}
		parts = append(parts, s.NameDB+" "+dir)
	}
	return strings.Join(parts, ", ")
}
