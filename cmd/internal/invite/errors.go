package invite

import "errors"

// Public, stable errors. The HTTP and WebSocket boundaries map these to
// response codes; nothing else about a failed token is ever disclosed.
var (
	ErrTokenNotFound    = errors.New("invite token not found")
	ErrTokenExpired     = errors.New("invite token expired")
	ErrTokenAlreadyUsed = errors.New("invite token already used")
	ErrRoomNotFound     = errors.New("room not found")
)
