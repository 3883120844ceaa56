// Package corectl implements the topology reconciler (C8): the
// component that watches the configuration provider's merged cluster
// config, converges the managed node/service set to match it, and
// dispatches requests against whatever that current topology allows.
package corectl

import (
	"context"
	"crypto/tls"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/couchbase/gocbclientcore/breaker"
	"github.com/couchbase/gocbclientcore/cbconfig"
	"github.com/couchbase/gocbclientcore/clusternode"
	"github.com/couchbase/gocbclientcore/configprovider"
	"github.com/couchbase/gocbclientcore/coreerrors"
	"github.com/couchbase/gocbclientcore/endpoint"
	"github.com/couchbase/gocbclientcore/eventbus"
	"github.com/couchbase/gocbclientcore/locator"
	"github.com/couchbase/gocbclientcore/retry"
	"github.com/couchbase/gocbclientcore/svc"
	"github.com/couchbase/gocbclientcore/timer"
	"github.com/couchbase/gocbclientcore/transport"

	"github.com/couchbase/gocbclientcore/request"
)

// DefaultRequestTimeout is used when SendOptions.Timeout is zero.
const DefaultRequestTimeout = 2500 * time.Millisecond

var nextCoreID atomic.Uint64

// Config configures a Core.
type Config struct {
	Provider *configprovider.Provider
	Bus      *eventbus.Bus
	Timers   *timer.Registry
	Retrier  retry.Orchestrator
	Dialer   transport.Dialer

	TLSEnabled bool
	TLSConfig  *tls.Config

	// BootstrapNode is preferred by the manager locator for admin
	// request locality.
	BootstrapNode clusternode.Identifier

	// ServiceConfig overrides pool sizing per service-type; any
	// service-type not present here gets defaultServiceConfig's
	// shape.
	ServiceConfig map[request.ServiceType]svc.Config

	ConnectTimeout time.Duration
	Breaker        breaker.Config

	Logger *zap.Logger
}

// Core is the topology reconciler (C8): it owns every managed Node,
// subscribes to the configuration provider's merged config stream,
// and serves as the dispatch entry point for requests.
type Core struct {
	id uint64

	provider *configprovider.Provider
	bus      *eventbus.Bus
	timers   *timer.Registry
	retrier  retry.Orchestrator
	dialer   transport.Dialer
	logger   *zap.Logger

	tlsEnabled     bool
	tlsConfig      *tls.Config
	connectTimeout time.Duration
	breakerCfg     breaker.Config
	serviceConfig  map[request.ServiceType]svc.Config

	nodes    *nodeSet
	locators map[request.ServiceType]locator.Locator

	currentConfig atomic.Pointer[configprovider.ClusterConfig]
	reconfiguring atomic.Bool
	morePending   atomic.Bool

	shutdownFlag  atomic.Bool
	updatesCancel func()
}

// New constructs a Core and starts its config-watching goroutine. The
// caller retains ownership of cfg.Provider; Core.Shutdown shuts it
// down as part of teardown.
func New(cfg Config) *Core {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bus := cfg.Bus
	if bus == nil {
		bus = eventbus.New()
	}
	timers := cfg.Timers
	if timers == nil {
		timers = timer.New()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &transport.TCPDialer{}
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	breakerCfg := cfg.Breaker
	if breakerCfg == (breaker.Config{}) {
		breakerCfg = breaker.DefaultConfig()
	}

	c := &Core{
		id:             nextCoreID.Add(1),
		provider:       cfg.Provider,
		bus:            bus,
		timers:         timers,
		retrier:        cfg.Retrier,
		dialer:         dialer,
		logger:         logger,
		tlsEnabled:     cfg.TLSEnabled,
		tlsConfig:      cfg.TLSConfig,
		connectTimeout: connectTimeout,
		breakerCfg:     breakerCfg,
		serviceConfig:  cfg.ServiceConfig,
		nodes:          newNodeSet(),
		locators:       buildLocators(cfg.BootstrapNode),
	}

	if cfg.Provider != nil {
		ch, cancel := cfg.Provider.Updates()
		c.updatesCancel = cancel
		go c.watchConfigs(ch)
	}

	return c
}

// ID is this core's process-unique, monotone identifier.
func (c *Core) ID() uint64 { return c.id }

func buildLocators(bootstrap clusternode.Identifier) map[request.ServiceType]locator.Locator {
	return map[request.ServiceType]locator.Locator{
		request.ServiceTypeKeyValue: locator.KeyValueLocator{},
		request.ServiceTypeManager:  locator.ManagerLocator{BootstrapNode: bootstrap},
		request.ServiceTypeQuery:     &locator.RoundRobinLocator{SvcType: request.ServiceTypeQuery},
		request.ServiceTypeSearch:    &locator.RoundRobinLocator{SvcType: request.ServiceTypeSearch},
		request.ServiceTypeAnalytics: &locator.RoundRobinLocator{SvcType: request.ServiceTypeAnalytics},
		request.ServiceTypeViews:     &locator.RoundRobinLocator{SvcType: request.ServiceTypeViews},
	}
}

func (c *Core) watchConfigs(ch <-chan *configprovider.ClusterConfig) {
	for cfg := range ch {
		c.currentConfig.Store(cfg)
		c.scheduleReconfigure()
	}
}

func (c *Core) serviceConfigFor(svcType request.ServiceType) svc.Config {
	if cfg, ok := c.serviceConfig[svcType]; ok {
		return cfg
	}
	return c.defaultServiceConfig(svcType)
}

func (c *Core) defaultServiceConfig(svcType request.ServiceType) svc.Config {
	cfg := svc.Config{
		MinEndpoints: 1,
		MaxEndpoints: 1,
		IdleTime:     5 * time.Minute,
		EndpointConfig: endpoint.Config{
			ConnectTimeout: c.connectTimeout,
			Breaker:        c.breakerCfg,
		},
	}
	if c.tlsEnabled {
		cfg.EndpointConfig.TLSConfig = c.tlsConfig
	}
	switch svcType {
	case request.ServiceTypeKeyValue:
		cfg.MaxEndpoints = 1
		cfg.EndpointConfig.Pipelined = false
	default:
		cfg.MaxEndpoints = 1
		cfg.EndpointConfig.Pipelined = true
		cfg.Pipelined = true
	}
	return cfg
}

// SendOptions configures one Send call.
type SendOptions struct {
	// Timeout overrides DefaultRequestTimeout. Ignored if SkipTimer.
	Timeout time.Duration

	// SkipTimer opts the request out of automatic per-operation
	// timeout registration.
	SkipTimer bool
}

// Send dispatches req (carrying payload as its opaque body) through
// whichever Locator handles req.ServiceType(), against the current
// topology snapshot. If registered, the returned timer.Handle should
// be deregistered by the caller once the request completes by any
// other means; Send itself has no visibility into response arrival.
func (c *Core) Send(req request.Request, payload []byte, opts SendOptions) (timer.Handle, error) {
	if c.shutdownFlag.Load() {
		req.Cancel(coreerrors.CancelReasonShutdown)
		return 0, coreerrors.ErrAlreadyShutdown
	}

	var handle timer.Handle
	if !opts.SkipTimer {
		d := opts.Timeout
		if d <= 0 {
			d = DefaultRequestTimeout
		}
		handle = c.timers.Register(req, d)
	}

	loc, ok := c.locators[req.ServiceType()]
	if !ok {
		req.Cancel(coreerrors.CancelReasonNoEligibleNode)
		return handle, coreerrors.ErrNoEligibleNode
	}

	var bucketCfg *cbconfig.BucketConfig
	if snapshot := c.currentConfig.Load(); snapshot != nil {
		bucketCfg, _ = snapshot.Bucket(req.BucketName())
	}

	if err := loc.Dispatch(req.Context(), req, payload, c.nodes, bucketCfg, c.retrier); err != nil {
		return handle, err
	}
	return handle, nil
}

// ClusterConfig returns the most recently applied cluster
// configuration snapshot, or nil if none has arrived yet.
func (c *Core) ClusterConfig() *configprovider.ClusterConfig {
	return c.currentConfig.Load()
}

// ConfigurationProvider returns the provider this core was built
// with.
func (c *Core) ConfigurationProvider() *configprovider.Provider {
	return c.provider
}

// Context is a convenience accessor mirroring the collaborator shape
// consumers expect (logger, bus, timers) without exposing internal
// mutable state.
type Context struct {
	Bus    *eventbus.Bus
	Timers *timer.Registry
	Logger *zap.Logger
}

// RuntimeContext returns this core's shared collaborators.
func (c *Core) RuntimeContext() Context {
	return Context{Bus: c.bus, Timers: c.timers, Logger: c.logger}
}

// Shutdown CAS-guards a one-time teardown: every open bucket is
// closed, the provider is shut down, every managed node is
// disconnected, and ShutdownCompleted is published. Repeated calls are
// no-ops; requests arriving afterward are cancelled with reason
// SHUTDOWN by Send.
func (c *Core) Shutdown(ctx context.Context) {
	if !c.shutdownFlag.CompareAndSwap(false, true) {
		return
	}

	if c.updatesCancel != nil {
		c.updatesCancel()
	}
	if c.provider != nil {
		c.provider.Shutdown()
	}

	for _, n := range c.nodes.Nodes() {
		c.nodes.remove(n.Identifier())
		n.Disconnect()
	}

	c.bus.Publish(ShutdownCompleted{})
}
