package pipeline

import "github.com/macfound/configaudit/pkg/flatten"

// Decision says what a run does with its diff.
type Decision struct {
	ShouldPersist bool
	ShouldNotify  bool
}

// Decide couples persisting and notifying to whether anything changed. A run without a
// previous snapshot persists a baseline and stays silent.
func Decide(changes []flatten.Record, previousExisted bool) Decision {
	changed := len(changes) > 0
	return Decision{
		ShouldPersist: changed || !previousExisted,
		ShouldNotify:  changed,
	}
}
