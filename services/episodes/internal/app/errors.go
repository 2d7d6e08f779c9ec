package app

import "errors"

var (
	ErrEpisodeNotFound = errors.New("episode not found")
	ErrEpisodeExists   = errors.New("episode already exists")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrPublishFailed   = errors.New("event publish failed")
)
