package hub

import "errors"

var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrRelayQueueFull    = errors.New("relay queue is full")
)
