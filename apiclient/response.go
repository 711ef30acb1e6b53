package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Response is a fully read backend response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	JSON       bool // Content-Type declared a JSON body
}

// Decode unmarshals a JSON body into v.
func (r *Response) Decode(v any) error {
	if !r.JSON {
		return fmt.Errorf("response is %q, not JSON", r.Header.Get("Content-Type"))
	}
	if len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

// Text returns the body as a string whatever its content type.
func (r *Response) Text() string {
	return string(r.Body)
}

func isJSON(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "json")
}
