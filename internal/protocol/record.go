package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxMessageSize bounds a single record read off a connection.
const DefaultMaxMessageSize = 8192

// ReadRecord reads one JSON value from r, reading at most limit bytes.
// A record ends at the closing brace, so newline framing and
// connection-close framing both work.
//
// It returns io.EOF if the peer closed before sending anything, a
// *DecodeError if the bytes are not a complete JSON value, and any other
// read error (deadline, reset) wrapped.
func ReadRecord(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxMessageSize
	}
	lr := &io.LimitedReader{R: r, N: limit}
	dec := json.NewDecoder(lr)

	var raw json.RawMessage
	err := dec.Decode(&raw)
	if err == nil {
		return raw, nil
	}

	var syntaxErr *json.SyntaxError
	switch {
	case errors.Is(err, io.EOF):
		return nil, io.EOF
	case errors.As(err, &syntaxErr):
		return nil, malformed(err.Error(), err)
	case errors.Is(err, io.ErrUnexpectedEOF):
		if lr.N <= 0 {
			return nil, malformed(fmt.Sprintf("message exceeds %d bytes", limit), err)
		}
		return nil, malformed("incomplete message", err)
	}
	return nil, fmt.Errorf("protocol: read record: %w", err)
}
