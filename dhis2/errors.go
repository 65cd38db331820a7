package dhis2

import (
	"fmt"
	"regexp"

	"github.com/tidwall/gjson"
)

// AuthError is a 401/403 from DHIS2
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	if e.Status == 403 {
		return fmt.Sprintf("forbidden: %s", e.Message)
	}
	return fmt.Sprintf("unauthorized: %s", e.Message)
}

// ConflictError is a 409 or an E5003-style import error. ExistingID carries
// the id of the already existing object when the import report revealed it.
type ConflictError struct {
	ExistingID string
	Message    string
}

func (e *ConflictError) Error() string {
	if len(e.ExistingID) > 0 {
		return fmt.Sprintf("conflict (existing object %s): %s", e.ExistingID, e.Message)
	}
	return fmt.Sprintf("conflict: %s", e.Message)
}

// ValidationError is a 400 with per-property errors
type ValidationError struct {
	Fields  map[string]string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NetworkError wraps transport level failures (DNS, CORS, timeout, refused)
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is any other non-2xx response
type ServerError struct {
	Status int
	Report string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Report)
}

var uidInMessagePattern = regexp.MustCompile(`[` + "`" + `'\[\(]([a-zA-Z0-9]{11})[` + "`" + `'\]\)]`)

// errorCodeExists is the DHIS2 import error code raised when an object with
// the same unique property already exists
const errorCodeExists = "E5003"

// decodeConflict digs through a DHIS2 import report body for an E5003 error
// and pulls out the id of the conflicting existing object when present.
// DHIS2 nests these differently across versions, so the probe walks every
// errorReports entry it can find rather than relying on one shape.
func decodeConflict(body []byte) *ConflictError {
	conflict := &ConflictError{}
	root := gjson.ParseBytes(body)

	// newer servers wrap the report under "response"
	report := root.Get("response")
	if !report.Exists() {
		report = root
	}

	report.Get("typeReports").ForEach(func(_, tr gjson.Result) bool {
		tr.Get("objectReports").ForEach(func(_, or gjson.Result) bool {
			or.Get("errorReports").ForEach(func(_, er gjson.Result) bool {
				if er.Get("errorCode").String() != errorCodeExists {
					return true
				}
				conflict.Message = er.Get("message").String()
				if mainID := er.Get("mainId").String(); len(mainID) == 11 {
					conflict.ExistingID = mainID
					return false
				}
				if m := uidInMessagePattern.FindStringSubmatch(conflict.Message); m != nil {
					conflict.ExistingID = m[1]
					return false
				}
				return true
			})
			return conflict.ExistingID == ""
		})
		return conflict.ExistingID == ""
	})

	if len(conflict.Message) == 0 {
		conflict.Message = root.Get("message").String()
	}
	return conflict
}

// decodeError maps a non-2xx DHIS2 response to a tagged error kind
func decodeError(status int, body []byte) error {
	switch {
	case status == 401:
		return &AuthError{Status: status, Message: gjson.GetBytes(body, "message").String()}
	case status == 403:
		return &AuthError{Status: status, Message: gjson.GetBytes(body, "message").String()}
	case status == 409:
		return decodeConflict(body)
	case status == 400:
		fields := make(map[string]string)
		gjson.GetBytes(body, "response.errorReports").ForEach(func(_, er gjson.Result) bool {
			fields[er.Get("errorProperty").String()] = er.Get("message").String()
			return true
		})
		return &ValidationError{Fields: fields, Message: gjson.GetBytes(body, "message").String()}
	default:
		return &ServerError{Status: status, Report: string(body)}
	}
}
