package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"

	autherrors "github.com/jrsteele09/go-auth-console/internal/errors"
	"github.com/jrsteele09/go-auth-console/internal/utils"
)

const defaultErrorMessage = "Request failed"

// ErrorKind classifies the account-state codes the login endpoint reports.
type ErrorKind int

const (
	KindGeneric ErrorKind = iota
	KindEmailNotVerified
	KindAccountBlocked
	KindAccountLocked
	KindPolicyNotAccepted
)

var kindCodes = map[string]ErrorKind{
	"EMAIL_NOT_VERIFIED":  KindEmailNotVerified,
	"ACCOUNT_BLOCKED":     KindAccountBlocked,
	"ACCOUNT_LOCKED":      KindAccountLocked,
	"POLICY_NOT_ACCEPTED": KindPolicyNotAccepted,
}

var kindSentinels = map[ErrorKind]error{
	KindEmailNotVerified:  autherrors.ErrEmailNotVerified,
	KindAccountBlocked:    autherrors.ErrAccountBlocked,
	KindAccountLocked:     autherrors.ErrAccountLocked,
	KindPolicyNotAccepted: autherrors.ErrPolicyNotAccepted,
}

func (k ErrorKind) String() string {
	switch k {
	case KindEmailNotVerified:
		return "email_not_verified"
	case KindAccountBlocked:
		return "account_blocked"
	case KindAccountLocked:
		return "account_locked"
	case KindPolicyNotAccepted:
		return "policy_not_accepted"
	default:
		return "generic"
	}
}

// KindFromCode maps a backend error code to its kind. Unknown codes are KindGeneric.
func KindFromCode(code string) ErrorKind {
	return kindCodes[code]
}

// APIError is returned for every response outside the 2xx range.
type APIError struct {
	Message string          // Human readable, never empty
	Status  int             // HTTP status code
	Code    string          // The body's "error" field as sent by the backend
	Kind    ErrorKind       // Code decoded into a closed set
	Data    json.RawMessage // Full response body when it was JSON
}

var _ error = (*APIError)(nil)

func (e *APIError) Error() string {
	return e.Message
}

// Is lets errors.Is match the account-state sentinels and ErrUnauthorized.
func (e *APIError) Is(target error) bool {
	if e.Status == http.StatusUnauthorized && target == autherrors.ErrUnauthorized {
		return true
	}
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// DecodeData unmarshals the response body into v.
func (e *APIError) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("error response for status %d carried no JSON body", e.Status)
	}
	return json.Unmarshal(e.Data, v)
}

func newAPIError(resp *Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}

	var message string
	if resp.JSON && json.Valid(resp.Body) {
		apiErr.Data = json.RawMessage(resp.Body)

		var fields map[string]json.RawMessage
		if json.Unmarshal(resp.Body, &fields) == nil {
			message = stringField(fields, "message")
			apiErr.Code = stringField(fields, "error")
		}
	}

	apiErr.Kind = KindFromCode(apiErr.Code)
	apiErr.Message = utils.Coalesce(message, apiErr.Code, defaultErrorMessage)
	return apiErr
}

// stringField returns fields[name] when it is a JSON string.
func stringField(fields map[string]json.RawMessage, name string) string {
	var value string
	if raw, ok := fields[name]; ok {
		_ = json.Unmarshal(raw, &value)
	}
	return value
}
