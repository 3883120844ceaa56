// Package configprovider implements the client runtime's configuration
// provider (C7): bootstrapping a bucket's first configuration from a
// set of seed nodes, accepting and gating subsequent proposals by
// revision, and publishing the merged cluster-wide view to the
// topology reconciler as an eventbus.ConfigStream.
package configprovider

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/couchbase/gocbclientcore/cbconfig"
	"github.com/couchbase/gocbclientcore/coreerrors"
	"github.com/couchbase/gocbclientcore/eventbus"
)

// ConfigIgnoredReason names why an inbound configuration document was
// not applied.
type ConfigIgnoredReason int

const (
	ConfigIgnoredUnknown ConfigIgnoredReason = iota
	ConfigIgnoredParseFailure
	ConfigIgnoredOldOrSameRevision
	ConfigIgnoredAlreadyShutdown
)

func (r ConfigIgnoredReason) String() string {
	switch r {
	case ConfigIgnoredParseFailure:
		return "PARSE_FAILURE"
	case ConfigIgnoredOldOrSameRevision:
		return "OLD_OR_SAME_REVISION"
	case ConfigIgnoredAlreadyShutdown:
		return "ALREADY_SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// ConfigIgnored is published whenever a proposed configuration is not
// applied.
type ConfigIgnored struct {
	Bucket string
	Reason ConfigIgnoredReason
}

// EventName implements eventbus.Event.
func (ConfigIgnored) EventName() string { return "ConfigIgnored" }

// ConfigUpdated is published when a bucket's applied configuration
// changed in a way that affects topology (not just revision number).
type ConfigUpdated struct{ Bucket string }

// EventName implements eventbus.Event.
func (ConfigUpdated) EventName() string { return "ConfigUpdated" }

// BucketOpened is published once a bucket's bootstrap configuration
// has been accepted and its refresher registered.
type BucketOpened struct{ Bucket string }

// EventName implements eventbus.Event.
func (BucketOpened) EventName() string { return "BucketOpened" }

// BucketClosed is published once a bucket has been fully torn down.
type BucketClosed struct{ Bucket string }

// EventName implements eventbus.Event.
func (BucketClosed) EventName() string { return "BucketClosed" }

// CollectionMapDecodingFailed is published when a fetched collections
// manifest could not be parsed.
type CollectionMapDecodingFailed struct {
	Bucket string
	Cause  error
}

// EventName implements eventbus.Event.
func (CollectionMapDecodingFailed) EventName() string { return "CollectionMapDecodingFailed" }

// Config configures a Provider.
type Config struct {
	// SeedNodes are host strings (no port) tried in parallel during
	// bootstrap, up to maxParallelLoaders at a time.
	SeedNodes []string
	TLS       bool

	ManagerLoader  Loader
	KeyValueLoader Loader // optional; CCCP path is skipped if nil
	ManifestLoader ManifestLoader

	Bus    *eventbus.Bus
	Logger *zap.Logger
}

// Provider is the configuration provider (C7).
type Provider struct {
	cfg          Config
	bus          *eventbus.Bus
	configStream *eventbus.ConfigStream[*ClusterConfig]
	collections  *collectionCache
	logger       *zap.Logger

	kvRefresher      Refresher
	managerRefresher Refresher

	mu        sync.Mutex
	current   *ClusterConfig
	revisions map[string]int64
	refresher map[string]Refresher // bucket -> which refresher owns it

	shutdown atomic.Bool
}

// New builds a Provider. Call Updates() immediately to obtain the
// config stream before opening any bucket, so the first publish is
// never missed.
func New(cfg Config) *Provider {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bus := cfg.Bus
	if bus == nil {
		bus = eventbus.New()
	}

	p := &Provider{
		cfg:          cfg,
		bus:          bus,
		configStream: eventbus.NewConfigStream[*ClusterConfig](),
		collections:  newCollectionCache(),
		logger:       logger,
		current:      newClusterConfig(),
		revisions:    make(map[string]int64),
		refresher:    make(map[string]Refresher),
	}

	if cfg.ManagerLoader != nil {
		p.managerRefresher = NewPollingRefresher(cfg.ManagerLoader, p.managerPort, p.onProposed, logger)
	}
	if cfg.KeyValueLoader != nil {
		p.kvRefresher = NewPollingRefresher(cfg.KeyValueLoader, p.kvPort, p.onProposed, logger)
	}

	return p
}

// Updates returns the stream of merged cluster configurations. A newly
// subscribed watcher immediately receives the current snapshot.
func (p *Provider) Updates() (<-chan *ClusterConfig, func()) {
	return p.configStream.Watch()
}

func (p *Provider) kvPort() int {
	if p.cfg.TLS {
		return DefaultKVTLSPort
	}
	return DefaultKVPort
}

func (p *Provider) managerPort() int {
	if p.cfg.TLS {
		return DefaultManagerTLSPort
	}
	return DefaultManagerPort
}

func (p *Provider) onProposed(bucket string, raw []byte, originHost string) {
	_ = p.ProposeBucketConfig(bucket, raw, originHost)
}

type loadAttempt struct {
	raw        []byte
	originHost string
	viaKV      bool
	err        error
}

// OpenBucket bootstraps bucket from whichever seed node answers first,
// preferring the key-value CCCP path per node and falling back to the
// manager REST path, then registers the appropriate refresher.
func (p *Provider) OpenBucket(ctx context.Context, bucket string) error {
	if p.shutdown.Load() {
		return coreerrors.ErrAlreadyShutdown
	}
	if len(p.cfg.SeedNodes) == 0 {
		return coreerrors.ErrNoSeedNodes
	}

	bootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan loadAttempt, len(p.cfg.SeedNodes))
	sem := make(chan struct{}, maxParallelLoaders)
	var wg sync.WaitGroup

	for _, host := range p.cfg.SeedNodes {
		wg.Add(1)
		go func(host string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			raw, viaKV, err := p.loadFromSeed(bootCtx, host, bucket)
			select {
			case results <- loadAttempt{raw: raw, originHost: host, viaKV: viaKV, err: err}:
			case <-bootCtx.Done():
			}
		}(host)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var winner *loadAttempt
	for attempt := range results {
		if attempt.err == nil {
			w := attempt
			winner = &w
			cancel()
			break
		}
	}
	if winner == nil {
		p.closeBucketIgnoreShutdown(bucket)
		return coreerrors.ErrConfigBootstrapFailed
	}

	if err := p.ProposeBucketConfig(bucket, winner.raw, winner.originHost); err != nil {
		p.closeBucketIgnoreShutdown(bucket)
		return err
	}

	cfg, ok := p.snapshotBucket(bucket)
	if !ok {
		p.closeBucketIgnoreShutdown(bucket)
		return coreerrors.ErrConfigBootstrapFailed
	}

	refresher := p.managerRefresher
	if winner.viaKV && p.kvRefresher != nil {
		refresher = p.kvRefresher
	}
	if refresher != nil {
		p.mu.Lock()
		p.refresher[bucket] = refresher
		p.mu.Unlock()
		refresher.Register(bucket, winner.originHost)
		if cfg.Tainted {
			refresher.MarkTainted(bucket)
		}
	}

	p.bus.Publish(BucketOpened{Bucket: bucket})
	return nil
}

func (p *Provider) loadFromSeed(ctx context.Context, host, bucket string) (raw []byte, viaKV bool, err error) {
	if p.cfg.KeyValueLoader != nil {
		raw, err = p.cfg.KeyValueLoader.Load(ctx, host, p.kvPort(), bucket)
		if err == nil {
			return raw, true, nil
		}
	}
	if p.cfg.ManagerLoader != nil {
		raw, err = p.cfg.ManagerLoader.Load(ctx, host, p.managerPort(), bucket)
		if err == nil {
			return raw, false, nil
		}
	}
	return nil, false, err
}

func (p *Provider) snapshotBucket(bucket string) (*cbconfig.BucketConfig, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.Bucket(bucket)
}

// ProposeBucketConfig parses raw and, if it's newer than whatever is
// currently held for bucket, applies it and republishes the merged
// cluster configuration. Refreshers call this via ProposedConfigFunc
// and intentionally ignore the returned error; it exists for the
// bootstrap path in OpenBucket, which does care whether its own
// proposal landed.
func (p *Provider) ProposeBucketConfig(bucket string, raw []byte, originHost string) error {
	if p.shutdown.Load() {
		p.bus.Publish(ConfigIgnored{Bucket: bucket, Reason: ConfigIgnoredAlreadyShutdown})
		return coreerrors.ErrAlreadyShutdown
	}

	parsed, err := cbconfig.Parse(raw, originHost, p.cfg.TLS, p.logger)
	if err != nil {
		p.bus.Publish(ConfigIgnored{Bucket: bucket, Reason: ConfigIgnoredParseFailure})
		return err
	}

	p.mu.Lock()
	currentRev, hasCurrent := p.revisions[bucket]
	if hasCurrent && parsed.Revision != 0 && parsed.Revision <= currentRev {
		p.mu.Unlock()
		p.bus.Publish(ConfigIgnored{Bucket: bucket, Reason: ConfigIgnoredOldOrSameRevision})
		return errConfigRevisionStale
	}

	oldCfg, hadOld := p.current.Bucket(bucket)
	changed := !hadOld || bucketConfigsDiffer(oldCfg, parsed)

	p.revisions[bucket] = parsed.Revision
	p.current.set(bucket, parsed)
	snapshot := p.current.clone()
	refresher := p.refresher[bucket]
	p.mu.Unlock()

	if refresher != nil {
		if parsed.Tainted {
			refresher.MarkTainted(bucket)
		} else {
			refresher.MarkUntainted(bucket)
		}
	}

	p.configStream.Publish(snapshot)
	if changed {
		p.bus.Publish(ConfigUpdated{Bucket: bucket})
	}
	return nil
}

// CloseBucket tears down bucket's refresher and removes it from the
// published configuration.
func (p *Provider) CloseBucket(bucket string) {
	p.closeBucketIgnoreShutdown(bucket)
}

func (p *Provider) closeBucketIgnoreShutdown(bucket string) {
	p.mu.Lock()
	refresher := p.refresher[bucket]
	delete(p.refresher, bucket)
	delete(p.revisions, bucket)
	p.current.remove(bucket)
	snapshot := p.current.clone()
	p.mu.Unlock()

	if refresher != nil {
		refresher.Deregister(bucket)
	}
	p.collections.remove(bucket)

	p.configStream.Publish(snapshot)
	p.bus.Publish(BucketClosed{Bucket: bucket})
}

// Snapshot returns the current merged configuration.
func (p *Provider) Snapshot() *ClusterConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.clone()
}

// Shutdown tears down every open bucket and stops both refreshers.
// Subsequent OpenBucket/ProposeBucketConfig calls fail with
// ErrAlreadyShutdown.
func (p *Provider) Shutdown() {
	if !p.shutdown.CompareAndSwap(false, true) {
		return
	}

	p.mu.Lock()
	buckets := p.current.Buckets()
	p.mu.Unlock()

	for _, bucket := range buckets {
		p.closeBucketIgnoreShutdown(bucket)
	}

	if p.kvRefresher != nil {
		p.kvRefresher.Shutdown()
	}
	if p.managerRefresher != nil {
		p.managerRefresher.Shutdown()
	}

	p.configStream.Publish(newClusterConfig())
}

// RefreshCollectionMap fetches and applies the collections manifest
// for bucket, unless a cached manifest with the same UID is already
// held and force is false.
func (p *Provider) RefreshCollectionMap(ctx context.Context, bucket string, host string, force bool) error {
	if p.cfg.ManifestLoader == nil {
		return coreerrors.ErrCollectionsNotAvailable
	}

	raw, err := p.cfg.ManifestLoader.LoadManifest(ctx, host, p.managerPort(), bucket)
	if err != nil {
		return err
	}

	manifest, err := cbconfig.ParseCollectionManifest(raw)
	if err != nil {
		p.bus.Publish(CollectionMapDecodingFailed{Bucket: bucket, Cause: err})
		return err
	}

	if !force {
		if uid, ok := p.collections.currentUID(bucket); ok && uid == manifest.UID {
			return nil
		}
	}

	p.collections.apply(bucket, manifest)
	return nil
}

// CollectionID returns the LEB128-encoded collection ID for
// scope.collection within bucket, if known from the most recently
// applied manifest.
func (p *Provider) CollectionID(bucket, scope, collection string) ([]byte, bool) {
	return p.collections.lookup(bucket, scope, collection)
}
