package sessionclient

import "time"

// Clock abstracts time for freshness checks and issuance timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
