package taskrouter

import "errors"

var (
	ErrInvalidArgument = errors.New("one or more arguments passed were invalid")
	ErrUnknownActivity = errors.New("activity is not in the workspace catalog")
	ErrNotReady        = errors.New("worker has not finished initializing")
	ErrInvalidPayload  = errors.New("payload could not be decoded")
)
