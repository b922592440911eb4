package soap

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// Fault represents a SOAP 1.1 fault returned by EWS.
type Fault struct {
	// Code is the fault code (e.g. "soap:Client", "a:ErrorInvalidRequest").
	Code string

	// String is the human-readable fault string.
	String string

	// ResponseCode is the EWS error code from the fault detail
	// (e.g. "ErrorSchemaValidation").
	ResponseCode string

	// Message is the detail message.
	Message string

	// Detail is the decoded detail element.
	Detail Tree
}

// Error implements the error interface.
func (f *Fault) Error() string {
	var parts []string
	if f.Code != "" {
		parts = append(parts, f.Code)
	}
	if f.ResponseCode != "" {
		parts = append(parts, f.ResponseCode)
	}
	if f.String != "" {
		parts = append(parts, f.String)
	}
	return "soap fault: " + strings.Join(parts, ": ")
}

// IsSchemaValidation returns true if the server rejected the request against its schema.
func (f *Fault) IsSchemaValidation() bool {
	return f.ResponseCode == "ErrorSchemaValidation"
}

// IsThrottled returns true if the fault reports that the caller was throttled.
func (f *Fault) IsThrottled() bool {
	return f.ResponseCode == "ErrorServerBusy" ||
		strings.Contains(f.ResponseCode, "Throttl")
}

// BackOff returns the BackOffMilliseconds hint of a throttling fault, or
// zero if the server sent none.
func (f *Fault) BackOff() time.Duration {
	mx, ok := f.Detail["MessageXml"].(Tree)
	if !ok {
		return 0
	}
	values, ok := mx["Value"].([]any)
	if !ok {
		values = []any{mx["Value"]}
	}
	for _, v := range values {
		t, ok := v.(Tree)
		if !ok {
			continue
		}
		attrs, _ := t[AttributesKey].(map[string]any)
		if attrs["Name"] != "BackOffMilliseconds" {
			continue
		}
		if ms, err := strconv.Atoi(text(t)); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return 0
}

// IsFault returns true if the error is a SOAP Fault.
func IsFault(err error) bool {
	var f *Fault
	return errors.As(err, &f)
}

func faultFromTree(t Tree) *Fault {
	f := &Fault{
		Code:   text(t["faultcode"]),
		String: text(t["faultstring"]),
	}
	if detail, ok := t["detail"].(Tree); ok {
		f.Detail = detail
		f.ResponseCode = text(detail["ResponseCode"])
		f.Message = text(detail["Message"])
	}
	return f
}

// text returns the text of a decoded element.
func text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case Tree:
		s, _ := t[ValueKey].(string)
		return s
	default:
		return ""
	}
}
