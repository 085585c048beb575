package database

import "errors"

var (
	ErrNotFound    = errors.New("document not found")
	ErrDuplicate   = errors.New("duplicate document")
	ErrTransaction = errors.New("transaction error")
	ErrConnection  = errors.New("database connection error")
)
