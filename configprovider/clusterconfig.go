package configprovider

import "github.com/couchbase/gocbclientcore/cbconfig"

// ClusterConfig is the aggregate, point-in-time view of every bucket
// configuration the provider currently holds. It is published as a
// whole on every accepted per-bucket update so that subscribers never
// have to reconcile partial deltas themselves.
type ClusterConfig struct {
	buckets map[string]*cbconfig.BucketConfig
}

func newClusterConfig() *ClusterConfig {
	return &ClusterConfig{buckets: make(map[string]*cbconfig.BucketConfig)}
}

// clone returns a shallow copy safe to publish to subscribers while the
// provider keeps mutating its own map.
func (c *ClusterConfig) clone() *ClusterConfig {
	out := newClusterConfig()
	for k, v := range c.buckets {
		out.buckets[k] = v
	}
	return out
}

// Bucket returns the current configuration for the named bucket, if
// any bucket by that name is open.
func (c *ClusterConfig) Bucket(name string) (*cbconfig.BucketConfig, bool) {
	cfg, ok := c.buckets[name]
	return cfg, ok
}

// Buckets returns the names of every currently open bucket.
func (c *ClusterConfig) Buckets() []string {
	names := make([]string, 0, len(c.buckets))
	for name := range c.buckets {
		names = append(names, name)
	}
	return names
}

// IsEmpty reports whether no buckets are currently open.
func (c *ClusterConfig) IsEmpty() bool {
	return len(c.buckets) == 0
}

func (c *ClusterConfig) set(name string, cfg *cbconfig.BucketConfig) {
	c.buckets[name] = cfg
}

func (c *ClusterConfig) remove(name string) {
	delete(c.buckets, name)
}

// bucketConfigsDiffer reports whether two bucket configurations differ
// in any way a topology reconciler would care about: node set, service
// ports, or partition ownership. Revision alone is not compared since a
// server can bump the revision without changing anything observable.
func bucketConfigsDiffer(a, b *cbconfig.BucketConfig) bool {
	if a == nil || b == nil {
		return a != b
	}
	if len(a.Nodes) != len(b.Nodes) {
		return true
	}
	if a.NumberOfPartitions() != b.NumberOfPartitions() {
		return true
	}
	if a.HasFastForwardMap() != b.HasFastForwardMap() {
		return true
	}
	for i := range a.Nodes {
		an, bn := a.Nodes[i], b.Nodes[i]
		if an.Host != bn.Host || an.ManagerPort != bn.ManagerPort {
			return true
		}
		for _, svcType := range an.Services() {
			ap, _ := an.Port(svcType, false)
			bp, ok := bn.Port(svcType, false)
			if !ok || ap != bp {
				return true
			}
		}
	}
	return false
}
