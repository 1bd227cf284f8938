package spacebot

import (
	"time"

	"github.com/google/uuid"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewWorkerID generates a fresh worker id.
func NewWorkerID() WorkerID {
	return uuid.Must(uuid.NewV7())
}

// NewBranchID generates a fresh branch id.
func NewBranchID() BranchID {
	return uuid.Must(uuid.NewV7())
}

// NowUnix returns current time as Unix seconds.
func NowUnix() int64 {
	return time.Now().Unix()
}
