package core

import "time"

// Worker is a unit of scheduled background work. Schedule returns a cron
// expression; Ready lets a worker decline a tick, e.g. while a previous
// run is still in flight.
type Worker interface {
	Schedule() string
	Ready(now time.Time) bool
	Execute()
}
