package configprovider

import "context"

// Loader fetches a raw bucket configuration document from a single
// node. KeyValueLoader and ManagerLoader both implement this: the
// former speaks the memcached CCCP stat, the latter the management
// REST API, but proposeBucketConfig treats their output identically.
type Loader interface {
	Load(ctx context.Context, host string, port int, bucket string) ([]byte, error)
}

// ManifestLoader fetches a bucket's collections manifest document from
// a single node.
type ManifestLoader interface {
	LoadManifest(ctx context.Context, host string, port int, bucket string) ([]byte, error)
}

const (
	// DefaultKVPort is the plaintext memcached port CCCP config pulls
	// are issued against when a bucket has no explicit KV port yet.
	DefaultKVPort = 11210
	// DefaultKVTLSPort is the TLS memcached port.
	DefaultKVTLSPort = 11207
	// DefaultManagerPort is the plaintext management REST port used for
	// seed-node bootstrap before any bucket config names one explicitly.
	DefaultManagerPort = 8091
	// DefaultManagerTLSPort is the TLS management REST port.
	DefaultManagerTLSPort = 18091

	// maxParallelLoaders bounds how many seed nodes are probed
	// concurrently during bootstrap.
	maxParallelLoaders = 5
)
