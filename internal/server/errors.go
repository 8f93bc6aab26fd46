package server

import "errors"

var (
	// ErrServerClosed is returned by Serve after Stop
	ErrServerClosed = errors.New("server: closed")
	// ErrNotListening is returned by Serve before Listen
	ErrNotListening = errors.New("server: not listening")
)
