package services

import (
	"time"

	"github.com/File-Sharing-BondBridg/Link-Service/internal/models"
)

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

func SystemClock() time.Time { return time.Now() }

func (c Clock) now() time.Time {
	if c == nil {
		return models.Timestamp(time.Now())
	}
	return models.Timestamp(c())
}

// Now is the exported form of now for callers outside the services.
func (c Clock) Now() time.Time {
	return c.now()
}
