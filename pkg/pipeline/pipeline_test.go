package pipeline

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/macfound/configaudit/pkg/flatten"
	"github.com/macfound/configaudit/pkg/metrics"
	"github.com/macfound/configaudit/pkg/notify"
	"github.com/macfound/configaudit/pkg/snapshot"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

var testID = snapshot.Identifier{Repository: "fluxx-audit", Folder: "configuration_audit", FileID: "47"}

var errFetch = errors.New("gateway down")

type fakeFetcher struct {
	snap *snapshot.Snapshot
	err  error
}

func (f fakeFetcher) FetchCurrent(context.Context) (*snapshot.Snapshot, error) {
	return f.snap, f.err
}

type recordingNotifier struct {
	payloads []notify.Payload
	err      error
}

func (n *recordingNotifier) Notify(_ context.Context, p notify.Payload) (notify.Receipt, error) {
	n.payloads = append(n.payloads, p)
	if n.err != nil {
		return notify.Receipt{Attempts: 1}, n.err
	}
	return notify.Receipt{StatusCode: http.StatusOK, Attempts: 1}, nil
}

func current(raw string) *snapshot.Snapshot {
	return &snapshot.Snapshot{
		Raw: raw,
		Metadata: snapshot.Metadata{
			UpdatedAt: "2024-03-01T10:00:00-06:00",
			UpdatedBy: snapshot.User{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.org"},
		},
	}
}

func newPipeline(store snapshot.Store, fetcher Fetcher, n Notifier) *Pipeline {
	return &Pipeline{
		Fetcher:  fetcher,
		Store:    store,
		Notifier: n,
		Config: Config{
			Identifier: testID,
			Routing:    notify.Routing{Environment: "PRD", To: []string{"gms-admins@example.org"}},
		},
		Now: func() time.Time { return time.Date(2024, 3, 1, 16, 0, 0, 0, time.UTC) },
	}
}

func TestRun_Baseline(t *testing.T) {
	raw := `{"a": {"x": 1, "y": 2}}`
	store := snapshot.NewMemoryStore()
	n := &recordingNotifier{}

	res, err := newPipeline(store, fakeFetcher{snap: current(raw)}, n).Run(context.Background())
	require.NoError(t, err)

	require.False(t, res.PreviousExisted)
	require.Empty(t, res.Changes)
	require.Equal(t, Decision{ShouldPersist: true, ShouldNotify: false}, res.Decision)
	require.True(t, res.Persisted)
	require.False(t, res.Notified)
	require.Empty(t, n.payloads)

	history := store.History(testID)
	require.Len(t, history, 1)
	require.Equal(t, raw, history[0].Snapshot.Raw)
	require.Equal(t, "Configuration Changed by Ada Lovelace", history[0].Commit.Message)
}

func TestRun_ChangeDetected(t *testing.T) {
	store := snapshot.NewMemoryStore()
	store.Seed(testID, snapshot.Snapshot{Raw: `{"a": {"x": 1}}`})
	n := &recordingNotifier{}

	res, err := newPipeline(store, fakeFetcher{snap: current(`{"a": {"x": 2}}`)}, n).Run(context.Background())
	require.NoError(t, err)

	want := []flatten.Record{{Parent: "a", Key: "x", Value: "2"}}
	require.Equal(t, want, res.Changes)
	require.Equal(t, Decision{ShouldPersist: true, ShouldNotify: true}, res.Decision)
	require.True(t, res.Notified)
	require.True(t, res.Persisted)

	require.Len(t, n.payloads, 1)
	require.Contains(t, n.payloads[0].Body, "a x")
	require.Equal(t, []string{"gms-admins@example.org"}, n.payloads[0].RecipientList)

	history := store.History(testID)
	require.Len(t, history, 2)
	require.Equal(t, want, history[1].Commit.Changes)
}

func TestRun_UnchangedIsNoop(t *testing.T) {
	store := snapshot.NewMemoryStore()
	store.Seed(testID, snapshot.Snapshot{Raw: `{"b": true, "a": {"x": 1}}`})
	n := &recordingNotifier{}

	res, err := newPipeline(store, fakeFetcher{snap: current(`{"a": {"x": 1.0}, "b": true}`)}, n).Run(context.Background())
	require.NoError(t, err)

	require.Empty(t, res.Changes)
	require.Equal(t, Decision{}, res.Decision)
	require.False(t, res.Persisted)
	require.Empty(t, n.payloads)
	require.Len(t, store.History(testID), 1)
}

func TestRun_EmptyPreviousIsBaseline(t *testing.T) {
	store := snapshot.NewMemoryStore()
	store.Seed(testID, snapshot.Snapshot{Raw: `{}`})
	n := &recordingNotifier{}

	res, err := newPipeline(store, fakeFetcher{snap: current(`{"a": 1}`)}, n).Run(context.Background())
	require.NoError(t, err)
	require.False(t, res.PreviousExisted)
	require.True(t, res.Persisted)
	require.Empty(t, n.payloads)
}

func TestRun_NotifyFailureSkipsPersist(t *testing.T) {
	store := snapshot.NewMemoryStore()
	store.Seed(testID, snapshot.Snapshot{Raw: `{"a": {"x": 1}}`})
	n := &recordingNotifier{err: notify.ErrDeliveryFailed}

	res, err := newPipeline(store, fakeFetcher{snap: current(`{"a": {"x": 2}}`)}, n).Run(context.Background())
	require.ErrorIs(t, err, notify.ErrDeliveryFailed)

	var se *StageError
	require.True(t, errors.As(err, &se))
	require.Equal(t, StageNotify, se.Stage)
	require.False(t, res.Persisted)
	require.Len(t, store.History(testID), 1)

	// The next run sees the same change again once mail works.
	n.err = nil
	res, err = newPipeline(store, fakeFetcher{snap: current(`{"a": {"x": 2}}`)}, n).Run(context.Background())
	require.NoError(t, err)
	require.True(t, res.Notified)
	require.Len(t, n.payloads, 2)
}

func TestRun_WithRetryingNotifier(t *testing.T) {
	store := snapshot.NewMemoryStore()
	store.Seed(testID, snapshot.Snapshot{Raw: `{"a": {"x": 1}}`})
	ch := &flakyChannel{failures: 2}
	n := &notify.RetryingNotifier{Channel: ch, MaxRetries: 3, RetryDelay: time.Millisecond}

	reg := prometheus.NewRegistry()
	p := newPipeline(store, fakeFetcher{snap: current(`{"a": {"x": 3}}`)}, n)
	p.Metrics = metrics.New(reg)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, res.Receipt.Attempts)
	require.Equal(t, 3, ch.attempts)
}

type flakyChannel struct {
	failures, attempts int
}

func (c *flakyChannel) Deliver(context.Context, notify.Payload) (notify.Receipt, error) {
	c.attempts++
	if c.attempts <= c.failures {
		return notify.Receipt{StatusCode: http.StatusServiceUnavailable}, nil
	}
	return notify.Receipt{StatusCode: http.StatusOK}, nil
}

func TestRun_StageFailures(t *testing.T) {
	tests := []struct {
		name    string
		fetcher Fetcher
		prepare func(*snapshot.MemoryStore)
		stage   Stage
		target  error
	}{
		{
			name:    "fetch",
			fetcher: fakeFetcher{err: errFetch},
			stage:   StageFetch,
			target:  errFetch,
		},
		{
			name:    "store read",
			fetcher: fakeFetcher{snap: current(`{"a":1}`)},
			prepare: func(s *snapshot.MemoryStore) { s.FailReads = true },
			stage:   StageLoad,
			target:  snapshot.ErrStoreUnavailable,
		},
		{
			name:    "store write",
			fetcher: fakeFetcher{snap: current(`{"a":1}`)},
			prepare: func(s *snapshot.MemoryStore) { s.FailWrites = true },
			stage:   StagePersist,
			target:  snapshot.ErrStoreWriteFailed,
		},
		{
			name:    "current not an object",
			fetcher: fakeFetcher{snap: current(`[1,2]`)},
			stage:   StageFlatten,
			target:  flatten.ErrNotObject,
		},
		{
			name:    "corrupt previous",
			fetcher: fakeFetcher{snap: current(`{"a":1}`)},
			prepare: func(s *snapshot.MemoryStore) { s.Seed(testID, snapshot.Snapshot{Raw: `{"a":`}) },
			stage:   StageFlatten,
			target:  flatten.ErrNotObject,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := snapshot.NewMemoryStore()
			if tt.prepare != nil {
				tt.prepare(store)
			}
			n := &recordingNotifier{}

			_, err := newPipeline(store, tt.fetcher, n).Run(context.Background())
			require.ErrorIs(t, err, tt.target)

			var se *StageError
			require.True(t, errors.As(err, &se))
			require.Equal(t, tt.stage, se.Stage)
			require.Empty(t, n.payloads)
		})
	}
}
