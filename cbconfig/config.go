package cbconfig

import (
	"encoding/json"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"slices"

	"github.com/couchbase/gocbclientcore/request"
)

// PartitionNotExistent is returned by NodeIndexForMaster/Replica when
// the requested partition has no entry in the active map.
const PartitionNotExistent = -2

// BucketType distinguishes the three server-side bucket flavors this
// module's dispatch logic cares about.
type BucketType int

const (
	BucketTypePartitioned BucketType = iota
	BucketTypeEphemeral
	BucketTypeMemcache
)

// portPair is a service's plaintext and TLS port on one node.
type portPair struct {
	Plain int
	TLS   int
}

// AlternateAddress is a node's identity on one non-default network,
// used when the client connects from outside the cluster's own
// network (e.g. across a NAT or cloud VPC boundary).
type AlternateAddress struct {
	Hostname string
	Ports    map[request.ServiceType]portPair
}

// NodeDescriptor is one node's identity and the ports it offers per
// service, both on the default network and any alternate networks
// advertised for it.
type NodeDescriptor struct {
	Host         string
	ManagerPort  int
	services     map[request.ServiceType]portPair
	AltAddresses map[string]AlternateAddress
}

// Hostname returns this node's address on the given network name; an
// empty network (or one with no matching alternate address) returns
// the default host.
func (n NodeDescriptor) Hostname(network string) string {
	if network == "" || network == "default" {
		return n.Host
	}
	if alt, ok := n.AltAddresses[network]; ok && alt.Hostname != "" {
		return alt.Hostname
	}
	return n.Host
}

// Services lists the service-types enabled on this node (any network).
func (n NodeDescriptor) Services() []request.ServiceType {
	out := make([]request.ServiceType, 0, len(n.services))
	for t := range n.services {
		out = append(out, t)
	}
	return out
}

// Port returns the plaintext (or, if tls is true, the TLS) port for
// svcType on this node's default network, and whether that service is
// enabled at all.
func (n NodeDescriptor) Port(svcType request.ServiceType, tls bool) (int, bool) {
	pp, ok := n.services[svcType]
	if !ok {
		return 0, false
	}
	if tls {
		if pp.TLS == 0 {
			return 0, false
		}
		return pp.TLS, true
	}
	if pp.Plain == 0 {
		return 0, false
	}
	return pp.Plain, true
}

// Identifier is this node's (host, manager-port) identity, matching
// clusternode.Identifier.
func (n NodeDescriptor) Identifier() (string, int) { return n.Host, n.ManagerPort }

// BucketConfig is the parsed, typed form of one bucket's wire
// configuration document.
type BucketConfig struct {
	Revision int64
	RevEpoch int64
	UUID     string
	Name     string
	Type     BucketType
	Tainted  bool

	Nodes []NodeDescriptor

	bucketCapabilities  map[string]bool
	clusterCapabilities map[string][]string

	numPartitions              int
	partitionMap               [][]int
	fastForwardMap             [][]int
	partitionHosts             []string
	nodesWithPrimaryPartitions map[string]bool
}

// HasBucketCapability reports whether name is present in the
// config's bucketCapabilities set (case-sensitive, matching the wire
// values exactly, e.g. "collections", "durableWrite").
func (c *BucketConfig) HasBucketCapability(name string) bool {
	return c.bucketCapabilities[name]
}

// HasClusterCapability reports whether category (e.g. "n1ql") lists
// name (e.g. "enhancedPreparedStatements") among its capabilities.
func (c *BucketConfig) HasClusterCapability(category, name string) bool {
	return slices.Contains(c.clusterCapabilities[category], name)
}

// IsPartitioned reports whether this bucket has a partition map at
// all (false for memcache buckets).
func (c *BucketConfig) IsPartitioned() bool {
	return c.Type != BucketTypeMemcache
}

// NumberOfPartitions is P, the size of the partition map (typically
// 1024), or 0 for a non-partitioned bucket.
func (c *BucketConfig) NumberOfPartitions() int { return c.numPartitions }

// HasFastForwardMap reports whether a rebalance is in flight and
// advertising a target topology.
func (c *BucketConfig) HasFastForwardMap() bool { return c.fastForwardMap != nil }

// NodeIndexForMaster returns the index into Nodes mastering partition,
// or PartitionNotExistent if out of range. useFastForward consults the
// fast-forward map instead of the active one.
func (c *BucketConfig) NodeIndexForMaster(partition int, useFastForward bool) int {
	m := c.partitionMap
	if useFastForward {
		m = c.fastForwardMap
	}
	if m == nil || partition < 0 || partition >= len(m) || len(m[partition]) == 0 {
		return PartitionNotExistent
	}
	return m[partition][0]
}

// NodeIndexForReplica returns the index into Nodes holding the given
// replica (1-based: replica 1 is m[partition][1], etc.) of partition,
// or PartitionNotExistent if out of range.
func (c *BucketConfig) NodeIndexForReplica(partition, replicaIndex int, useFastForward bool) int {
	m := c.partitionMap
	if useFastForward {
		m = c.fastForwardMap
	}
	if m == nil || partition < 0 || partition >= len(m) || replicaIndex >= len(m[partition]) {
		return PartitionNotExistent
	}
	return m[partition][replicaIndex]
}

// NodeAtIndex returns the node descriptor at index, and whether index
// was in range.
func (c *BucketConfig) NodeAtIndex(index int) (NodeDescriptor, bool) {
	if index < 0 || index >= len(c.Nodes) {
		return NodeDescriptor{}, false
	}
	return c.Nodes[index], true
}

// HasPrimaryPartitionsOnNode reports whether host appears as the
// master of at least one partition.
func (c *BucketConfig) HasPrimaryPartitionsOnNode(host string) bool {
	return c.nodesWithPrimaryPartitions[host]
}

// Parse parses a raw bucket configuration document. originHost
// replaces any "$HOST" placeholder the server emits for the node the
// client bootstrapped through (ns_server's own convention for
// "myself" in a terse config fetched directly from that node).
func Parse(raw []byte, originHost string, useTLS bool, logger *zap.Logger) (*BucketConfig, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var doc terseConfigJSON
	if err := json.Unmarshal(substituteHost(raw, originHost), &doc); err != nil {
		return nil, errors.Wrap(err, "cbconfig: malformed json")
	}

	cfg := &BucketConfig{
		Revision:            doc.Rev,
		RevEpoch:            doc.RevEpoch,
		UUID:                doc.UUID,
		Name:                doc.Name,
		bucketCapabilities:  make(map[string]bool, len(doc.BucketCapabilities)),
		clusterCapabilities: doc.ClusterCapabilities,
	}
	for _, c := range doc.BucketCapabilities {
		cfg.bucketCapabilities[c] = true
	}

	cfg.Nodes = buildNodes(doc)

	if doc.VBucketServerMap == nil {
		cfg.Type = BucketTypeMemcache
		return cfg, nil
	}

	if cfg.bucketCapabilities["couchapi"] {
		cfg.Type = BucketTypePartitioned
	} else {
		cfg.Type = BucketTypeEphemeral
	}

	cfg.Tainted = doc.VBucketServerMap.VBucketMapForward != nil
	cfg.partitionMap = doc.VBucketServerMap.VBucketMap
	cfg.fastForwardMap = doc.VBucketServerMap.VBucketMapForward
	cfg.numPartitions = len(cfg.partitionMap)

	if err := buildPartitionHosts(cfg, doc.VBucketServerMap.ServerList, logger); err != nil {
		return nil, err
	}

	return cfg, nil
}

// buildNodes assembles NodeDescriptors preferring nodesExt (which
// carries per-service ports directly) over the legacy nodes list.
func buildNodes(doc terseConfigJSON) []NodeDescriptor {
	nodes := make([]NodeDescriptor, 0, len(doc.NodesExt))

	for i, ext := range doc.NodesExt {
		host := ext.Hostname
		if host == "" && i < len(doc.Nodes) {
			host = doc.Nodes[i].Hostname
		}

		nd := NodeDescriptor{
			Host:         host,
			services:     make(map[request.ServiceType]portPair),
			AltAddresses: make(map[string]AlternateAddress),
		}

		if ext.Services != nil {
			nd.ManagerPort = int(ext.Services.Mgmt)
			populateServices(nd.services, ext.Services)
		}

		for network, alt := range ext.AltAddresses {
			altAddr := AlternateAddress{Hostname: alt.Hostname, Ports: make(map[request.ServiceType]portPair)}
			if alt.Ports != nil {
				populateServices(altAddr.Ports, alt.Ports)
			}
			nd.AltAddresses[network] = altAddr
		}

		nodes = append(nodes, nd)
	}

	return nodes
}

func populateServices(m map[request.ServiceType]portPair, ports *terseExtNodePortsJSON) {
	m[request.ServiceTypeKeyValue] = portPair{Plain: int(ports.KV), TLS: int(ports.KVSsl)}
	m[request.ServiceTypeManager] = portPair{Plain: int(ports.Mgmt), TLS: int(ports.MgmtSsl)}
	m[request.ServiceTypeQuery] = portPair{Plain: int(ports.N1QL), TLS: int(ports.N1QLSsl)}
	m[request.ServiceTypeSearch] = portPair{Plain: int(ports.FTS), TLS: int(ports.FTSSsl)}
	m[request.ServiceTypeAnalytics] = portPair{Plain: int(ports.CBAS), TLS: int(ports.CBASSsl)}
	m[request.ServiceTypeViews] = portPair{Plain: int(ports.Capi), TLS: int(ports.CapiSsl)}

	for svcType, pp := range m {
		if pp.Plain == 0 && pp.TLS == 0 {
			delete(m, svcType)
		}
	}
}

// buildPartitionHosts derives the host (without port) for each
// serverList entry, cross-references the count against KV-enabled
// nodes, and precomputes which hosts master at least one partition.
func buildPartitionHosts(cfg *BucketConfig, serverList []string, logger *zap.Logger) error {
	hosts := make([]string, len(serverList))
	for i, entry := range serverList {
		host, _ := splitHostPort(entry, logger)
		hosts[i] = host
	}
	cfg.partitionHosts = hosts

	kvNodeCount := 0
	for _, n := range cfg.Nodes {
		if _, ok := n.services[request.ServiceTypeKeyValue]; ok {
			kvNodeCount++
		}
	}
	if kvNodeCount != len(hosts) {
		return errors.Errorf("cbconfig: partition host count %d does not match key-value node count %d", len(hosts), kvNodeCount)
	}

	cfg.nodesWithPrimaryPartitions = make(map[string]bool)
	for _, row := range cfg.partitionMap {
		if len(row) == 0 {
			continue
		}
		master := row[0]
		if master >= 0 && master < len(hosts) {
			cfg.nodesWithPrimaryPartitions[hosts[master]] = true
		}
	}

	return nil
}
