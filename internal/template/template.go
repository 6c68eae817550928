// Package template builds concrete HTTP requests from configured
// method/path/body templates and named substitution parameters.
package template

import (
	"net/http"
	"sort"
	"strings"
	"time"
)

// Params holds substitution values keyed by token. Keys without a leading
// '$' are treated as if they had one.
type Params map[string]string

// Set stores value under token.
func (p Params) Set(token, value string) {
	p[normalize(token)] = value
}

// Merge returns a new Params with later sets overriding earlier ones.
func Merge(sets ...Params) Params {
	out := Params{}
	for _, set := range sets {
		for k, v := range set {
			out[normalize(k)] = v
		}
	}
	return out
}

func normalize(token string) string {
	if strings.HasPrefix(token, "$") {
		return token
	}
	return "$" + token
}

// Substitute replaces every literal occurrence of each token in s. Longer
// tokens go first so "$symbol" never eats the prefix of "$symbols".
// Unknown tokens are left untouched.
func Substitute(s string, params Params) string {
	if len(params) == 0 || !strings.Contains(s, "$") {
		return s
	}
	tokens := make([]string, 0, len(params))
	for k := range params {
		tokens = append(tokens, normalize(k))
	}
	sort.Slice(tokens, func(i, j int) bool {
		if len(tokens[i]) != len(tokens[j]) {
			return len(tokens[i]) > len(tokens[j])
		}
		return tokens[i] < tokens[j]
	})
	values := make(map[string]string, len(params))
	for k, v := range params {
		values[normalize(k)] = v
	}
	// one pass: substituted values are never scanned again
	pairs := make([]string, 0, 2*len(tokens))
	for _, tok := range tokens {
		pairs = append(pairs, tok, values[tok])
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

// Template describes one endpoint call before substitution.
type Template struct {
	Method string
	Path   string
	Body   string
}

// Request is a fully substituted call ready to be sent.
type Request struct {
	Method  string
	URL     string
	Payload string
	// Override is set for verbs other than GET and POST.
	Override bool
}

// Build substitutes params into the template. GET bodies become the query
// string; every other method carries the body as payload.
func (t Template) Build(host string, params Params) Request {
	method := strings.ToUpper(strings.TrimSpace(t.Method))
	if method == "" {
		method = http.MethodGet
	}
	req := Request{
		Method: method,
		URL:    host + Substitute(t.Path, params),
	}
	body := Substitute(t.Body, params)
	switch method {
	case http.MethodGet:
		if body != "" {
			req.URL += "?" + body
		}
	case http.MethodPost:
		req.Payload = body
	default:
		req.Payload = body
		req.Override = true
	}
	return req
}

const (
	layoutRFC3339 = "2006-01-02T15:04:05"
	layoutSpace   = "2006-01-02 15:04:05"
)

// FormatTime renders t for a request parameter. format "RFC3339" selects the
// T separated layout; colons are percent-encoded.
func FormatTime(t time.Time, format string) string {
	layout := layoutSpace
	if strings.EqualFold(format, "RFC3339") {
		layout = layoutRFC3339
	}
	return strings.ReplaceAll(t.UTC().Format(layout), ":", "%3A")
}
