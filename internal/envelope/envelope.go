// Package envelope decodes broker response bodies and classifies failures
// before any field mapping happens.
package envelope

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"restbridge/internal/fieldmap"
	"restbridge/internal/httpclient"
)

const excerptLen = 256

// ParseError means the body was not a JSON object or lacked the payload.
type ParseError struct {
	Reason  string
	Excerpt string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error: %s: %v (body: %q)", e.Reason, e.Err, e.Excerpt)
	}
	return fmt.Sprintf("parse error: %s (body: %q)", e.Reason, e.Excerpt)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ApplicationError carries the broker's own error message.
type ApplicationError struct {
	Status  int
	Message string
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("broker error (status %d): %s", e.Status, e.Message)
}

// StatusError is a non-2xx response without a broker error message.
type StatusError struct {
	Status  int
	Excerpt string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s: %q", e.Status, http.StatusText(e.Status), e.Excerpt)
}

func excerpt(b []byte) string {
	if len(b) > excerptLen {
		return string(b[:excerptLen])
	}
	return string(b)
}

// Decode parses a response body into its top-level object. An empty body
// yields (nil, nil). errorPath locates the broker's error message.
func Decode(resp *httpclient.Response, errorPath string) (map[string]any, error) {
	if resp == nil || len(strings.TrimSpace(string(resp.Body))) == 0 {
		if resp != nil && resp.Status >= http.StatusMultipleChoices {
			return nil, &StatusError{Status: resp.Status}
		}
		return nil, nil
	}

	raw, err := decodeBody(resp.Body)
	if err != nil {
		return nil, &ParseError{Reason: "malformed body", Excerpt: excerpt(resp.Body), Err: err}
	}
	env, ok := raw.(map[string]any)
	if !ok {
		return nil, &ParseError{Reason: "top level is not an object", Excerpt: excerpt(resp.Body)}
	}

	if msg, ok := fieldmap.Resolve(env, errorPath).String(); ok && msg != "" {
		return env, &ApplicationError{Status: resp.Status, Message: msg}
	}
	if resp.Status >= http.StatusMultipleChoices {
		return env, &StatusError{Status: resp.Status, Excerpt: excerpt(resp.Body)}
	}
	return env, nil
}

// decodeBody keeps numbers as literals so large ids survive field mapping.
func decodeBody(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		return nil, errors.New("trailing data after top-level value")
	}
	return raw, nil
}

// Object returns the payload object under target; an empty target is the
// envelope itself.
func Object(env map[string]any, target string) (map[string]any, error) {
	if target == "" {
		return env, nil
	}
	v := fieldmap.Resolve(env, target)
	if !v.Present() {
		return nil, &ParseError{Reason: fmt.Sprintf("target %q missing", target)}
	}
	obj, ok := v.Raw().(map[string]any)
	if !ok {
		return nil, &ParseError{Reason: fmt.Sprintf("target %q is not an object", target)}
	}
	return obj, nil
}

// Array returns the objects of the array under target. Non-object elements
// are skipped.
func Array(env map[string]any, target string) ([]map[string]any, error) {
	v := fieldmap.Resolve(env, target)
	if !v.Present() {
		return nil, &ParseError{Reason: fmt.Sprintf("target %q missing", target)}
	}
	arr, ok := v.Raw().([]any)
	if !ok {
		return nil, &ParseError{Reason: fmt.Sprintf("target %q is not an array", target)}
	}
	out := make([]map[string]any, 0, len(arr))
	for _, el := range arr {
		if obj, ok := el.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out, nil
}

func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

func IsApplicationError(err error) bool {
	var ae *ApplicationError
	var se *StatusError
	return errors.As(err, &ae) || errors.As(err, &se)
}

// IsBenign reports whether err's message contains any of substrings,
// compared without case.
func IsBenign(err error, substrings []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range substrings {
		if s != "" && strings.Contains(msg, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

// Message extracts the broker message from an application error, or the
// error text otherwise.
func Message(err error) string {
	var ae *ApplicationError
	if errors.As(err, &ae) {
		return ae.Message
	}
	return err.Error()
}
