package framer

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bridgeerrors "github.com/symposium-dev/rabridge/src/rabridge/internal/errors"
	"go.uber.org/goleak"
)

func TestMessageKind(t *testing.T) {
	id := int64(3)
	tests := []struct {
		name string
		msg  Message
		want Kind
	}{
		{
			name: "request has id and method",
			msg:  Message{ID: &id, Method: "textDocument/hover"},
			want: KindRequest,
		},
		{
			name: "response has id only",
			msg:  Message{ID: &id},
			want: KindResponse,
		},
		{
			name: "notification has method only",
			msg:  Message{Method: "textDocument/publishDiagnostics"},
			want: KindNotification,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.msg.Kind())
		})
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	req, err := NewRequest(1, "initialize", map[string]string{"rootUri": "file:///tmp/proj"})
	require.NoError(t, err)
	require.NoError(t, w.Write(req))

	note, err := NewNotification("initialized", struct{}{})
	require.NoError(t, err)
	require.NoError(t, w.Write(note))

	r := NewReader(&buf)

	got, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, KindRequest, got.Kind())
	assert.Equal(t, int64(1), *got.ID)
	assert.Equal(t, "initialize", got.Method)
	assert.JSONEq(t, `{"rootUri":"file:///tmp/proj"}`, string(got.Params))

	got, err = r.Read()
	require.NoError(t, err)
	assert.Equal(t, KindNotification, got.Kind())
	assert.Equal(t, "initialized", got.Method)

	_, err = r.Read()
	assert.Equal(t, io.EOF, err)
}

func TestWriterContentLength(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	msg, err := NewNotification("exit", nil)
	require.NoError(t, err)
	require.NoError(t, w.Write(msg))

	out := buf.String()
	require.True(t, strings.HasPrefix(out, "Content-Length: "))

	parts := strings.SplitN(out, "\r\n\r\n", 2)
	require.Len(t, parts, 2)
	assert.Equal(t, fmt.Sprintf("Content-Length: %d", len(parts[1])), parts[0])
}

func TestWriterSerializesConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			msg, err := NewRequest(int64(n), "textDocument/hover", nil)
			assert.NoError(t, err)
			assert.NoError(t, w.Write(msg))
		}(i)
	}
	wg.Wait()

	// Every frame must come back intact despite interleaved writers.
	r := NewReader(&buf)
	seen := map[int64]bool{}
	for i := 0; i < 20; i++ {
		msg, err := r.Read()
		require.NoError(t, err)
		seen[*msg.ID] = true
	}
	assert.Len(t, seen, 20)
}

func TestReaderToleratesUnknownHeaders(t *testing.T) {
	body := `{"jsonrpc":"2.0","method":"ping"}`
	raw := fmt.Sprintf("Content-Type: application/vscode-jsonrpc\r\nContent-Length: %d\r\n\r\n%s", len(body), body)

	r := NewReader(strings.NewReader(raw))
	msg, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, "ping", msg.Method)
}

func TestReaderMissingContentLength(t *testing.T) {
	raw := "Content-Type: application/vscode-jsonrpc\r\n\r\n{}"

	r := NewReader(strings.NewReader(raw))
	_, err := r.Read()
	require.Error(t, err)
	var framingErr *bridgeerrors.FramingError
	assert.ErrorAs(t, err, &framingErr)
}

func TestReaderMalformedContentLength(t *testing.T) {
	raw := "Content-Length: banana\r\n\r\n{}"

	r := NewReader(strings.NewReader(raw))
	_, err := r.Read()
	var framingErr *bridgeerrors.FramingError
	assert.ErrorAs(t, err, &framingErr)
}

func TestReaderTruncatedBody(t *testing.T) {
	body := `{"jsonrpc":"2.0","method":"ping"}`
	raw := fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body)+10, body)

	r := NewReader(strings.NewReader(raw))
	_, err := r.Read()
	var framingErr *bridgeerrors.FramingError
	assert.ErrorAs(t, err, &framingErr)
}

func TestReaderTruncatedHeader(t *testing.T) {
	r := NewReader(strings.NewReader("Content-Len"))
	_, err := r.Read()
	var framingErr *bridgeerrors.FramingError
	assert.ErrorAs(t, err, &framingErr)
}

func TestNewResponseNullResult(t *testing.T) {
	msg, err := NewResponse(7, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), *msg.ID)
	assert.Equal(t, KindResponse, msg.Kind())
}

func TestResponseErrorMessage(t *testing.T) {
	rerr := &ResponseError{Code: -32601, Message: "method not found"}
	assert.Contains(t, rerr.Error(), "method not found")
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
