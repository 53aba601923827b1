// Package pipeline runs one configuration audit: fetch the current document, compare it
// with the last persisted snapshot, notify about changes and persist the new snapshot.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/macfound/configaudit/pkg/diff"
	"github.com/macfound/configaudit/pkg/flatten"
	"github.com/macfound/configaudit/pkg/metrics"
	"github.com/macfound/configaudit/pkg/notify"
	"github.com/macfound/configaudit/pkg/snapshot"
)

// Logger abstracts logging so callers can use logrus, stdlib log, or any
// other logger that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// nopLogger silently discards all messages.
type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Fetcher returns the remote system's current configuration.
type Fetcher interface {
	FetchCurrent(ctx context.Context) (*snapshot.Snapshot, error)
}

// Notifier delivers a change notification.
type Notifier interface {
	Notify(ctx context.Context, p notify.Payload) (notify.Receipt, error)
}

// Stage names a step of a run.
type Stage string

const (
	StageFetch   Stage = "fetch_current"
	StageLoad    Stage = "load_previous"
	StageFlatten Stage = "flatten"
	StageNotify  Stage = "notify"
	StagePersist Stage = "persist"
)

// StageError is the terminal error of a failed run.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Config is the per-run configuration of a Pipeline.
type Config struct {
	Identifier snapshot.Identifier
	Routing    notify.Routing
}

type Pipeline struct {
	Fetcher  Fetcher
	Store    snapshot.Store
	Notifier Notifier
	Config   Config

	Log     Logger           // optional
	Metrics *metrics.Metrics // optional
	Now     func() time.Time // optional, defaults to time.Now
}

// Result describes what a run observed and did.
type Result struct {
	Current         *snapshot.Snapshot
	PreviousExisted bool
	Changes         []flatten.Record
	Decision        Decision
	Notified        bool
	Persisted       bool
	Receipt         notify.Receipt
}

// Run performs one audit. Notification happens before persistence so that a failed
// notification leaves the change undetected in the store and the next run retries it.
func (p *Pipeline) Run(ctx context.Context) (res *Result, err error) {
	log := p.Log
	if log == nil {
		log = nopLogger{}
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	id := p.Config.Identifier

	start := now()
	defer func() {
		var stage string
		var se *StageError
		if errors.As(err, &se) {
			stage = string(se.Stage)
		}
		p.Metrics.ObserveRun(stage, err, now().Sub(start))
	}()

	log.Infof("*** Getting GMS Configuration")
	current, err := p.Fetcher.FetchCurrent(ctx)
	if err == nil && current == nil {
		err = errors.New("fetcher returned no document")
	}
	if err != nil {
		return nil, &StageError{Stage: StageFetch, Err: err}
	}
	res = &Result{Current: current}

	log.Infof("*** Getting Previous GMS Configuration")
	previous, err := p.Store.GetPrevious(ctx, id)
	if err != nil {
		return res, &StageError{Stage: StageLoad, Err: err}
	}
	if previous == nil {
		log.Infof("No Previous Version Exists For: %s", id)
	} else {
		log.Infof("Previous Version Exists For: %s", id)
	}

	log.Infof("*** Get Changes")
	currentRecords, err := flatten.Flatten(current.Raw)
	if err != nil {
		return res, &StageError{Stage: StageFlatten, Err: fmt.Errorf("current configuration: %w", err)}
	}
	var previousRecords []flatten.Record
	res.PreviousExisted = previous != nil && !flatten.IsEmptyObject(previous.Raw)
	if res.PreviousExisted {
		previousRecords, err = flatten.Flatten(previous.Raw)
		if err != nil {
			return res, &StageError{Stage: StageFlatten, Err: fmt.Errorf("previous snapshot %s: %w", id, err)}
		}
	}
	res.Changes = diff.Diff(currentRecords, previousRecords)
	res.Decision = Decide(res.Changes, res.PreviousExisted)
	p.Metrics.AddChanges(len(res.Changes))
	log.Debugf("Compared %d current records against %d previous records", len(currentRecords), len(previousRecords))

	if res.Decision.ShouldNotify {
		log.Infof("*** Send Notification (%d changes)", len(res.Changes))
		payload := notify.BuildPayload(res.Changes, current.Metadata, p.Config.Routing)
		res.Receipt, err = p.Notifier.Notify(ctx, payload)
		p.Metrics.AddNotifyAttempts(res.Receipt.Attempts)
		if err != nil {
			return res, &StageError{Stage: StageNotify, Err: err}
		}
		res.Notified = true
	} else {
		log.Infof("No Changes Found - No Notification Sent")
	}

	if res.Decision.ShouldPersist {
		log.Infof("*** Commit and Push Changed Configuration")
		author := current.Metadata.UpdatedBy
		err = p.Store.PutCurrent(ctx, id, *current, snapshot.Commit{
			Author:    author,
			Message:   snapshot.CommitMessage(author),
			Timestamp: now(),
			Changes:   res.Changes,
		})
		if err != nil {
			return res, &StageError{Stage: StagePersist, Err: err}
		}
		res.Persisted = true
	}

	return res, nil
}
