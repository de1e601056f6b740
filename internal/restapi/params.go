package restapi

import (
	"net/url"
	"slices"
	"strings"
)

// Params is the query string of a request. It is one of NoParams, Single,
// Mapping or List.
type Params interface {
	// Encode returns the query without the leading '?'.
	Encode() string
	isParams()
}

// NoParams sends no query string.
type NoParams struct{}

// Single is a query string passed through as-is.
type Single string

// Mapping is a set of key/value pairs, encoded in key order.
type Mapping map[string]string

// List is an ordered list of pre-formatted "k=v" fragments joined with '&'.
type List []string

func (NoParams) isParams() {}
func (Single) isParams()   {}
func (Mapping) isParams()  {}
func (List) isParams()     {}

// Encode returns "".
func (NoParams) Encode() string { return "" }

// Encode returns the string without a leading '?'.
func (s Single) Encode() string {
	return strings.TrimPrefix(strings.TrimSpace(string(s)), "?")
}

// Encode URL-escapes keys and values.
func (m Mapping) Encode() string {
	if len(m) == 0 {
		return ""
	}
	values := make(url.Values, len(m))
	for k, v := range m {
		values.Set(k, v)
	}
	return values.Encode()
}

// Encode joins the non-empty fragments in order.
func (l List) Encode() string {
	parts := slices.DeleteFunc(slices.Clone(l), func(s string) bool { return strings.TrimSpace(s) == "" })
	return strings.Join(parts, "&")
}

// withQuery appends the encoded params to rawURL.
func withQuery(rawURL string, params Params) string {
	if params == nil {
		return rawURL
	}
	query := params.Encode()
	if query == "" {
		return rawURL
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + query
}
