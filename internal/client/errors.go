package client

import "errors"

var (
	// ErrNoReply means the server closed the connection without answering
	ErrNoReply = errors.New("client: connection closed without a reply")
	// ErrUnexpectedReply means the reply decoded but was the wrong variant
	ErrUnexpectedReply = errors.New("client: unexpected reply")
	// ErrRemote wraps the message of an error reply
	ErrRemote = errors.New("client: server returned an error")
)
