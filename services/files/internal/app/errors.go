package app

import "errors"

var (
	ErrFileNotFound   = errors.New("file not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrPublishFailed  = errors.New("event publish failed")
)
