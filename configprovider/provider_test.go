package configprovider

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/couchbase/gocbclientcore/eventbus"
)

var errLoaderUnreachable = errors.New("seed unreachable")

const singleNodeConfigJSON = `{
	"rev": 1,
	"bucketCapabilities": ["couchapi"],
	"vBucketServerMap": {
		"serverList": ["10.0.0.1:11210"],
		"vBucketMap": [[0],[0],[0],[0]]
	},
	"nodesExt": [
		{"hostname": "10.0.0.1", "services": {"kv": 11210, "mgmt": 8091}}
	]
}`

const revisionTwoConfigJSON = `{
	"rev": 2,
	"bucketCapabilities": ["couchapi"],
	"vBucketServerMap": {
		"serverList": ["10.0.0.1:11210"],
		"vBucketMap": [[0],[0],[0],[0]]
	},
	"nodesExt": [
		{"hostname": "10.0.0.1", "services": {"kv": 11210, "mgmt": 8091}}
	]
}`

type fakeLoader struct {
	raw   []byte
	err   error
	calls atomic.Int32
	delay time.Duration
}

func (f *fakeLoader) Load(ctx context.Context, host string, port int, bucket string) ([]byte, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.raw, f.err
}

func TestOpenBucketAppliesFirstWinningSeed(t *testing.T) {
	manager := &fakeLoader{raw: []byte(singleNodeConfigJSON)}
	p := New(Config{
		SeedNodes:     []string{"10.0.0.1"},
		ManagerLoader: manager,
		Bus:           eventbus.New(),
	})

	err := p.OpenBucket(context.Background(), "default")
	require.NoError(t, err)

	snap := p.Snapshot()
	cfg, ok := snap.Bucket("default")
	require.True(t, ok)
	require.EqualValues(t, 1, cfg.Revision)
}

func TestOpenBucketFailsWhenNoSeedYieldsConfig(t *testing.T) {
	manager := &fakeLoader{err: errLoaderUnreachable}
	p := New(Config{
		SeedNodes:     []string{"10.0.0.1", "10.0.0.2"},
		ManagerLoader: manager,
		Bus:           eventbus.New(),
	})

	err := p.OpenBucket(context.Background(), "default")
	require.Error(t, err)
}

func TestProposeBucketConfigIgnoresStaleRevision(t *testing.T) {
	manager := &fakeLoader{raw: []byte(revisionTwoConfigJSON)}
	p := New(Config{
		SeedNodes:     []string{"10.0.0.1"},
		ManagerLoader: manager,
		Bus:           eventbus.New(),
	})
	require.NoError(t, p.OpenBucket(context.Background(), "default"))

	err := p.ProposeBucketConfig("default", []byte(revisionTwoConfigJSON), "10.0.0.1")
	require.Error(t, err)

	snap := p.Snapshot()
	cfg, _ := snap.Bucket("default")
	require.EqualValues(t, 2, cfg.Revision)
}

func TestCloseBucketRemovesFromSnapshotAndPublishesEvent(t *testing.T) {
	manager := &fakeLoader{raw: []byte(singleNodeConfigJSON)}
	bus := eventbus.New()
	p := New(Config{
		SeedNodes:     []string{"10.0.0.1"},
		ManagerLoader: manager,
		Bus:           bus,
	})
	events, cancelSub := bus.Subscribe()
	defer cancelSub()

	require.NoError(t, p.OpenBucket(context.Background(), "default"))
	p.CloseBucket("default")

	snap := p.Snapshot()
	_, ok := snap.Bucket("default")
	require.False(t, ok)

	sawClosed := false
	for {
		select {
		case ev := <-events:
			if _, ok := ev.(BucketClosed); ok {
				sawClosed = true
			}
		case <-time.After(100 * time.Millisecond):
			require.True(t, sawClosed)
			return
		}
	}
}

func TestShutdownClosesAllBucketsAndRejectsFurtherOpens(t *testing.T) {
	manager := &fakeLoader{raw: []byte(singleNodeConfigJSON)}
	p := New(Config{
		SeedNodes:     []string{"10.0.0.1"},
		ManagerLoader: manager,
		Bus:           eventbus.New(),
	})
	require.NoError(t, p.OpenBucket(context.Background(), "default"))

	p.Shutdown()

	require.True(t, p.Snapshot().IsEmpty())
	err := p.OpenBucket(context.Background(), "default")
	require.Error(t, err)
}

func TestUpdatesReplaysCurrentSnapshotToNewWatcher(t *testing.T) {
	manager := &fakeLoader{raw: []byte(singleNodeConfigJSON)}
	p := New(Config{
		SeedNodes:     []string{"10.0.0.1"},
		ManagerLoader: manager,
		Bus:           eventbus.New(),
	})
	require.NoError(t, p.OpenBucket(context.Background(), "default"))

	ch, cancel := p.Updates()
	defer cancel()

	select {
	case snap := <-ch:
		_, ok := snap.Bucket("default")
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for replayed snapshot")
	}
}
