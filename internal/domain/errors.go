package domain

import "errors"

var (
	ErrQuestionNotFound = errors.New("question not found")
	ErrAnswerNotFound   = errors.New("answer not found")
	ErrTargetNotFound   = errors.New("vote target not found")
	ErrInvalidDirection = errors.New("invalid vote direction")
	ErrNotConnected     = errors.New("not connected to real-time service")
	ErrBusStopped       = errors.New("event bus stopped")
	ErrCommandTimeout   = errors.New("event bus command timed out")
	ErrCommandFailed    = errors.New("event bus command failed")
	ErrInvalidCommand   = errors.New("invalid command")
)
