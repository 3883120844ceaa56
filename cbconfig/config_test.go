package cbconfig

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/couchbase/gocbclientcore/request"
)

const singleNodePartitionedConfig = `{
	"rev": 1,
	"uuid": "abc123",
	"name": "default",
	"bucketCapabilities": ["couchapi", "collections"],
	"vBucketServerMap": {
		"hashAlgorithm": "CRC",
		"numReplicas": 0,
		"serverList": ["10.0.0.1:11210"],
		"vBucketMap": [[0],[0]]
	},
	"nodesExt": [
		{
			"thisNode": true,
			"hostname": "10.0.0.1",
			"services": {"kv": 11210, "mgmt": 8091}
		}
	]
}`

const taintedConfig = `{
	"rev": 2,
	"uuid": "abc123",
	"bucketCapabilities": ["couchapi"],
	"vBucketServerMap": {
		"serverList": ["10.0.0.1:11210", "10.0.0.2:11210"],
		"vBucketMap": [[0,1],[1,0]],
		"vBucketMapForward": [[1,0],[0,1]]
	},
	"nodesExt": [
		{"hostname": "10.0.0.1", "services": {"kv": 11210, "mgmt": 8091}},
		{"hostname": "10.0.0.2", "services": {"kv": 11210, "mgmt": 8091}}
	]
}`

const memcacheConfig = `{
	"rev": 1,
	"uuid": "def456",
	"bucketCapabilities": [],
	"nodesExt": [
		{"hostname": "10.0.0.1", "services": {"kv": 11210, "mgmt": 8091}}
	]
}`

func TestParseSingleNodePartitionedConfig(t *testing.T) {
	cfg, err := Parse([]byte(singleNodePartitionedConfig), "", false, nil)
	require.NoError(t, err)

	require.Equal(t, BucketTypePartitioned, cfg.Type)
	require.Equal(t, int64(1), cfg.Revision)
	require.False(t, cfg.Tainted)
	require.Equal(t, 2, cfg.NumberOfPartitions())
	require.Len(t, cfg.Nodes, 1)

	node, ok := cfg.NodeAtIndex(0)
	require.True(t, ok)
	require.Equal(t, "10.0.0.1", node.Host)

	port, ok := node.Port(request.ServiceTypeKeyValue, false)
	require.True(t, ok)
	require.Equal(t, 11210, port)

	require.Equal(t, 0, cfg.NodeIndexForMaster(0, false))
	require.True(t, cfg.HasPrimaryPartitionsOnNode("10.0.0.1"))
	require.True(t, cfg.HasBucketCapability("collections"))
	require.False(t, cfg.HasFastForwardMap())
}

func TestParseTaintedConfigExposesFastForwardMap(t *testing.T) {
	cfg, err := Parse([]byte(taintedConfig), "", false, nil)
	require.NoError(t, err)

	require.True(t, cfg.Tainted)
	require.True(t, cfg.HasFastForwardMap())

	require.Equal(t, 0, cfg.NodeIndexForMaster(0, false))
	require.Equal(t, 1, cfg.NodeIndexForMaster(0, true))
}

func TestParseMemcacheConfigHasNoPartitionMap(t *testing.T) {
	cfg, err := Parse([]byte(memcacheConfig), "", false, nil)
	require.NoError(t, err)

	require.Equal(t, BucketTypeMemcache, cfg.Type)
	require.False(t, cfg.IsPartitioned())
	require.Equal(t, 0, cfg.NumberOfPartitions())
	require.Equal(t, PartitionNotExistent, cfg.NodeIndexForMaster(0, false))
}

func TestParseRejectsPartitionHostCountMismatch(t *testing.T) {
	const bad = `{
		"rev": 1,
		"bucketCapabilities": ["couchapi"],
		"vBucketServerMap": {
			"serverList": ["10.0.0.1:11210", "10.0.0.2:11210"],
			"vBucketMap": [[0]]
		},
		"nodesExt": [
			{"hostname": "10.0.0.1", "services": {"kv": 11210, "mgmt": 8091}}
		]
	}`

	_, err := Parse([]byte(bad), "", false, nil)
	require.Error(t, err)
}
