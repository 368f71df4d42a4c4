package inventory

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Runtime carries the clock, id source and logger shared by the services.
// The zero value uses time.Now, random UUIDs and a no-op logger.
type Runtime struct {
	Now    func() time.Time
	NewID  func() string
	Logger *zap.Logger
}

func (r Runtime) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r Runtime) id() string {
	if r.NewID != nil {
		return r.NewID()
	}
	return uuid.NewString()
}

func (r Runtime) log() *zap.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return zap.NewNop()
}
