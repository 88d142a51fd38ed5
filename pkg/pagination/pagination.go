// Package pagination resolves ?page= parameters against a result count.
package pagination

import "strconv"

// Page describes one resolved page of a listing.
type Page struct {
	Number   int `json:"page"`
	NumPages int `json:"num_pages"`
	Total    int `json:"total"`
	Size     int `json:"page_size"`
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// Resolve maps the raw page parameter onto an existing page.
// A missing or non-integer parameter selects page 1; an out-of-range number selects the last page.
// An empty listing still has one (empty) page.
func Resolve(raw string, total, size int) Page {
	if size <= 0 {
		size = 1
	}
	numPages := (total + size - 1) / size
	if numPages < 1 {
		numPages = 1
	}
	n, err := strconv.Atoi(raw)
	switch {
	case err != nil:
		n = 1
	case n < 1 || n > numPages:
		n = numPages
	}
	return Page{Number: n, NumPages: numPages, Total: total, Size: size}
}
