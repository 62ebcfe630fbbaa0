package parser

import "fmt"

// ErrorKind classifies the recoverable problems found while parsing a response
type ErrorKind int

const (
	// KindMalformedTrailerJSON means the sentinel was found but the trailer is not valid JSON
	KindMalformedTrailerJSON ErrorKind = iota
	// KindInvalidTraceShape means the trailer decoded but "trace" has the wrong shape
	KindInvalidTraceShape
	// KindInvalidSourcesShape means the trailer decoded but "sources" is not an array
	KindInvalidSourcesShape
	// KindUnrecognizedFormat means neither protocol found any structure
	KindUnrecognizedFormat
)

// String returns the string representation of the ErrorKind
func (k ErrorKind) String() string {
	switch k {
	case KindMalformedTrailerJSON:
		return "malformed_trailer_json"
	case KindInvalidTraceShape:
		return "invalid_trace_shape"
	case KindInvalidSourcesShape:
		return "invalid_sources_shape"
	case KindUnrecognizedFormat:
		return "unrecognized_format"
	default:
		return "unknown"
	}
}

// ParseError is a locally recovered parsing problem. It never aborts a parse;
// it is reported alongside the best-effort result.
type ParseError struct {
	Kind     ErrorKind
	Message  string
	Position int
	Err      error
}

// Error implements the error interface
func (e *ParseError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Position >= 0 {
		return fmt.Sprintf("response parse error (%s) at position %d: %s", e.Kind, e.Position, msg)
	}
	return fmt.Sprintf("response parse error (%s): %s", e.Kind, msg)
}

// Unwrap exposes the underlying decode error, if any
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is matches another *ParseError of the same kind, so callers can test
// errors.Is(err, &ParseError{Kind: KindInvalidTraceShape})
func (e *ParseError) Is(target error) bool {
	t, ok := target.(*ParseError)
	return ok && t.Kind == e.Kind
}

func newParseError(kind ErrorKind, position int, message string, err error) *ParseError {
	return &ParseError{Kind: kind, Message: message, Position: position, Err: err}
}
