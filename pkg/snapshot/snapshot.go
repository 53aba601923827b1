// Package snapshot defines the persisted form of an observed configuration and the
// versioned store it is kept in.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/macfound/configaudit/pkg/flatten"
)

var (
	// ErrStoreUnavailable is returned when the versioned store cannot be read.
	ErrStoreUnavailable = errors.New("snapshot store unavailable")
	// ErrStoreWriteFailed is returned when a snapshot could not be persisted. The
	// store's visible state is unchanged when it is returned.
	ErrStoreWriteFailed = errors.New("snapshot store write failed")
)

// User identifies who last changed the configuration in the remote system.
type User struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// FullName returns "First Last".
func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

type Metadata struct {
	UpdatedAt string `json:"updated_at"`
	UpdatedBy User   `json:"updated_by"`
}

// Snapshot is a configuration document as observed in one run. Raw is the document
// text exactly as the remote system returned it and is what gets stored.
type Snapshot struct {
	Raw      string
	Metadata Metadata
}

// Identifier names one audited configuration inside a versioned store.
type Identifier struct {
	Repository string
	Folder     string
	FileID     string
}

// Key returns the object key of the snapshot inside its repository.
func (id Identifier) Key() string {
	return path.Join(id.Folder, id.FileID+".json")
}

func (id Identifier) String() string {
	return id.Repository + "/" + id.Key()
}

// Commit describes a snapshot write for the store's history.
type Commit struct {
	Author    User
	Message   string
	Timestamp time.Time
	Changes   []flatten.Record
}

// CommitMessage builds the history message recorded with a new snapshot.
func CommitMessage(u User) string {
	return fmt.Sprintf("Configuration Changed by %s %s", u.FirstName, u.LastName)
}

// Store is a versioned key to blob store holding the last observed snapshot.
type Store interface {
	// GetPrevious returns the latest persisted snapshot, or nil without error when none
	// was ever persisted for id.
	GetPrevious(ctx context.Context, id Identifier) (*Snapshot, error)
	// PutCurrent atomically makes snap the latest snapshot for id.
	PutCurrent(ctx context.Context, id Identifier, snap Snapshot, commit Commit) error
}
