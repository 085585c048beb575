package cache

import "errors"

var (
	ErrCacheMiss      = errors.New("cache miss")
	ErrInvalidValue   = errors.New("invalid cache value")
	ErrConnectionLost = errors.New("cache connection lost")
)
