// Package cbconfig defines the wire JSON shape of a bucket/cluster
// configuration document and parses it into the typed BucketConfig
// model the rest of the runtime consumes.
package cbconfig

// vBucketServerMapJSON carries the partition map: serverList is the
// ordered list of "host:port" KV endpoints; vBucketMap[i] is
// [masterIndex, replicaIndex...] into serverList for partition i.
// vBucketMapForward, if present, is the same shape for an in-flight
// rebalance's target topology — its presence is what marks a config
// tainted.
type vBucketServerMapJSON struct {
	HashAlgorithm     string  `json:"hashAlgorithm"`
	NumReplicas       int     `json:"numReplicas"`
	ServerList        []string `json:"serverList"`
	VBucketMap        [][]int `json:"vBucketMap,omitempty"`
	VBucketMapForward [][]int `json:"vBucketMapForward,omitempty"`
}

// terseNodePortsJSON is the legacy (non-nodesExt) per-node port block.
type terseNodePortsJSON struct {
	Direct uint16 `json:"direct,omitempty"`
}

type terseNodeJSON struct {
	CouchAPIBase string              `json:"couchApiBase,omitempty"`
	Hostname     string              `json:"hostname,omitempty"`
	Ports        *terseNodePortsJSON `json:"ports,omitempty"`
}

// terseExtNodePortsJSON lists every service's plaintext and TLS port.
// Zero means the service is not enabled on that node/network.
type terseExtNodePortsJSON struct {
	KV          uint16 `json:"kv,omitempty"`
	Capi        uint16 `json:"capi,omitempty"`
	Mgmt        uint16 `json:"mgmt,omitempty"`
	N1QL        uint16 `json:"n1ql,omitempty"`
	FTS         uint16 `json:"fts,omitempty"`
	CBAS        uint16 `json:"cbas,omitempty"`
	KVSsl       uint16 `json:"kvSSL,omitempty"`
	CapiSsl     uint16 `json:"capiSSL,omitempty"`
	MgmtSsl     uint16 `json:"mgmtSSL,omitempty"`
	N1QLSsl     uint16 `json:"n1qlSSL,omitempty"`
	FTSSsl      uint16 `json:"ftsSSL,omitempty"`
	CBASSsl     uint16 `json:"cbasSSL,omitempty"`
}

type terseExtNodeAltAddressesJSON struct {
	Ports    *terseExtNodePortsJSON `json:"ports,omitempty"`
	Hostname string                 `json:"hostname,omitempty"`
}

type terseExtNodeJSON struct {
	Services     *terseExtNodePortsJSON                  `json:"services,omitempty"`
	ThisNode     bool                                     `json:"thisNode,omitempty"`
	Hostname     string                                   `json:"hostname,omitempty"`
	AltAddresses map[string]terseExtNodeAltAddressesJSON `json:"alternateAddresses,omitempty"`
}

// terseConfigJSON is the top-level document shape for both a
// single-bucket config and (with Nodes/BucketCapabilities empty) a
// cluster-level terse config.
type terseConfigJSON struct {
	Rev                    int64               `json:"rev"`
	RevEpoch               int64               `json:"revEpoch,omitempty"`
	Name                   string              `json:"name,omitempty"`
	UUID                   string              `json:"uuid,omitempty"`
	URI                    string              `json:"uri,omitempty"`
	StreamingURI           string              `json:"streamingUri,omitempty"`
	BucketCapabilities     []string            `json:"bucketCapabilities,omitempty"`
	CollectionsManifestUID string              `json:"collectionsManifestUid,omitempty"`
	VBucketServerMap       *vBucketServerMapJSON `json:"vBucketServerMap,omitempty"`
	Nodes                  []terseNodeJSON     `json:"nodes,omitempty"`
	NodesExt               []terseExtNodeJSON  `json:"nodesExt,omitempty"`
	ClusterCapabilitiesVer []int               `json:"clusterCapabilitiesVer,omitempty"`
	ClusterCapabilities    map[string][]string `json:"clusterCapabilities,omitempty"`
}

// collectionJSON/scopeJSON/manifestJSON mirror the collections
// manifest endpoint's response shape.
type collectionJSON struct {
	UID  string `json:"uid"`
	Name string `json:"name"`
}

type scopeJSON struct {
	UID         string            `json:"uid"`
	Name        string            `json:"name"`
	Collections []collectionJSON `json:"collections,omitempty"`
}

type manifestJSON struct {
	UID    string      `json:"uid"`
	Scopes []scopeJSON `json:"scopes,omitempty"`
}
