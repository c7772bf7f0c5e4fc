package model

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("revision conflict")
	ErrInsufficientBalance = errors.New("insufficient balance")
)
