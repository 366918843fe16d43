package store

import "errors"

var (
	ErrRecordNotFound     = errors.New("record not found")
	ErrJobInProgress      = errors.New("a job is already in progress for this session")
	ErrJobTerminal        = errors.New("job already reached a terminal status")
	ErrProgressRegression = errors.New("job progress cannot decrease")
)
