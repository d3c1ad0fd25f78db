package campaign

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrValidation    = errors.New("invalid")
	ErrPersistence   = errors.New("persistence failed")
)
