package hub

import "errors"

var (
	ErrHubAlreadyRunning   = errors.New("hub is already running")
	ErrHubNotRunning       = errors.New("hub is not running")
	ErrDisconnectQueueFull = errors.New("disconnect queue is full")
)
