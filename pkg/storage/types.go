package storage

import (
	"time"

	"github.com/macfound/configaudit/pkg/snapshot"
)

// Change is one changed configuration record as logged next to a persisted snapshot.
type Change struct {
	OccurredAt time.Time
	Identifier snapshot.Identifier

	Parent string
	Key    string
	Value  string
	Author string
}

// Revision summarizes one stored snapshot.
type Revision struct {
	ID          int64
	CommittedAt time.Time
	Author      string
	Message     string
	ChangeCount int
}
