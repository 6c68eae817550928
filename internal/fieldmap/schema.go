package fieldmap

import (
	"strings"
	"time"
)

// Schema maps canonical field names onto source paths for one endpoint.
// It is parsed from the response grammar "Target:Canon-path,Canon-path".
type Schema struct {
	Target string
	Fields map[string]string
}

// ParseSchema parses a response mapping. A missing ':' means the payload is
// the envelope itself. Malformed pairs are skipped.
func ParseSchema(text string) Schema {
	s := Schema{Fields: map[string]string{}}
	rest := text
	if i := strings.Index(text, ":"); i >= 0 {
		s.Target = strings.TrimSpace(text[:i])
		rest = text[i+1:]
	}
	for _, pair := range strings.Split(rest, ",") {
		i := strings.Index(pair, "-")
		if i < 0 {
			continue
		}
		canon := strings.TrimSpace(pair[:i])
		path := strings.TrimSpace(pair[i+1:])
		if canon == "" || path == "" {
			continue
		}
		s.Fields[canon] = path
	}
	return s
}

// Path returns the source path mapped to a canonical field, or "".
func (s Schema) Path(canonical string) string {
	return s.Fields[canonical]
}

// Record reads canonical fields from one JSON object through a Schema.
type Record struct {
	Object map[string]any
	Schema Schema
}

// Get resolves a canonical field.
func (r Record) Get(canonical string) Value {
	return Resolve(r.Object, r.Schema.Path(canonical))
}

func (r Record) Str(canonical string) string {
	s, _ := r.Get(canonical).String()
	return s
}

func (r Record) Dbl(canonical string) float64 {
	f, _ := r.Get(canonical).Double()
	return f
}

func (r Record) Int(canonical string) int {
	n, _ := r.Get(canonical).Int()
	return n
}

func (r Record) Long(canonical string) int64 {
	n, _ := r.Get(canonical).Long()
	return n
}

func (r Record) Bool(canonical string) bool {
	b, _ := r.Get(canonical).Bool()
	return b
}

func (r Record) Time(canonical string) time.Time {
	t, _ := r.Get(canonical).Timestamp()
	return t
}

// DblOr returns the field or fallback when the field is absent.
func (r Record) DblOr(canonical string, fallback float64) float64 {
	if f, ok := r.Get(canonical).Double(); ok {
		return f
	}
	return fallback
}
