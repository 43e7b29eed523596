// Package framer implements the length-prefixed JSON-RPC framing used on the
// backend's standard streams. It holds no session state; malformed input is
// surfaced as a FramingError and treated by callers as a fatal transport fault.
package framer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/symposium-dev/rabridge/src/rabridge/internal/errors"
)

const (
	_headerContentLength = "Content-Length"
	_headerSeparator     = "\r\n"
	_jsonRPCVersion      = "2.0"

	// Frames larger than this indicate a corrupt length header rather than a
	// legitimate payload.
	_maxFrameBytes = 128 << 20
)

// Kind discriminates the message variants.
type Kind int

const (
	// KindRequest is a message carrying both an id and a method.
	KindRequest Kind = iota
	// KindResponse is a message carrying an id and either a result or an error.
	KindResponse
	// KindNotification is a message carrying a method but no id.
	KindNotification
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	}
	return "unknown"
}

// Message is one JSON-RPC message in either direction.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// Kind reports which variant this message is.
func (m Message) Kind() Kind {
	switch {
	case m.ID != nil && m.Method != "":
		return KindRequest
	case m.ID != nil:
		return KindResponse
	default:
		return KindNotification
	}
}

// ResponseError is the error member of a response message.
type ResponseError struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error is an implementation of the error interface.
func (e *ResponseError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewRequest builds a request message, marshaling params.
func NewRequest(id int64, method string, params interface{}) (Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return Message{}, fmt.Errorf("marshaling %q params: %w", method, err)
	}
	return Message{JSONRPC: _jsonRPCVersion, ID: &id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification message, marshaling params.
func NewNotification(method string, params interface{}) (Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return Message{}, fmt.Errorf("marshaling %q params: %w", method, err)
	}
	return Message{JSONRPC: _jsonRPCVersion, Method: method, Params: raw}, nil
}

// NewResponse builds a response message carrying a result.
func NewResponse(id int64, result interface{}) (Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Message{}, fmt.Errorf("marshaling response result: %w", err)
	}
	return Message{JSONRPC: _jsonRPCVersion, ID: &id, Result: raw}, nil
}

func marshalParams(params interface{}) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(params)
}

// Writer frames and writes messages to a single underlying stream. Writes are
// serialized so frames are never interleaved.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter returns a Writer framing onto w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write encodes one message as a length-prefixed frame.
func (w *Writer) Write(m Message) error {
	if m.JSONRPC == "" {
		m.JSONRPC = _jsonRPCVersion
	}
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding message body: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + 32)
	fmt.Fprintf(&buf, "%s: %d%s%s", _headerContentLength, len(body), _headerSeparator, _headerSeparator)
	buf.Write(body)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Reader decodes a stream of frames, buffering partial frames across reads.
type Reader struct {
	r *bufio.Reader
}

// NewReader returns a Reader decoding from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Read consumes exactly one complete frame and decodes its message. A clean
// EOF at a frame boundary returns io.EOF; anything else that prevents a full
// frame from being read is a FramingError.
func (r *Reader) Read() (Message, error) {
	length := -1
	first := true
	for {
		line, err := r.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && first && line == "" {
				return Message{}, io.EOF
			}
			return Message{}, &errors.FramingError{Reason: "reading header", Err: err}
		}
		first = false

		line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
		if line == "" {
			break
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return Message{}, &errors.FramingError{Reason: fmt.Sprintf("malformed header line %q", line)}
		}
		if !strings.EqualFold(strings.TrimSpace(name), _headerContentLength) {
			// Content-Type and any future headers are tolerated.
			continue
		}
		length, err = strconv.Atoi(strings.TrimSpace(value))
		if err != nil || length < 0 || length > _maxFrameBytes {
			return Message{}, &errors.FramingError{Reason: fmt.Sprintf("bad Content-Length %q", strings.TrimSpace(value))}
		}
	}

	if length < 0 {
		return Message{}, &errors.FramingError{Reason: "missing Content-Length header"}
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r.r, body); err != nil {
		return Message{}, &errors.FramingError{Reason: "reading frame body", Err: err}
	}

	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, &errors.FramingError{Reason: "decoding message body", Err: err}
	}
	return m, nil
}
