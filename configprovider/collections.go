package configprovider

import (
	"sync"

	"github.com/couchbase/gocbclientcore/cbconfig"
)

// encodeLEB128 encodes a collection or scope manifest UID as an
// unsigned LEB128 byte string, the form the key-value protocol embeds
// ahead of a document key for collection-aware requests.
func encodeLEB128(id uint32) []byte {
	var out []byte
	for {
		b := byte(id & 0x7f)
		id >>= 7
		if id != 0 {
			out = append(out, b|0x80)
		} else {
			out = append(out, b)
			break
		}
	}
	return out
}

type manifestEntry struct {
	collectionID []byte
}

// collectionCache resolves (scope, collection) names to their LEB128
// encoded collection ID for a single bucket's most recently seen
// manifest.
type collectionCache struct {
	mu        sync.RWMutex
	manifests map[string]map[string]manifestEntry // bucket -> "scope.collection" -> entry
	uids      map[string]string                   // bucket -> manifest uid last applied
}

func newCollectionCache() *collectionCache {
	return &collectionCache{
		manifests: make(map[string]map[string]manifestEntry),
		uids:      make(map[string]string),
	}
}

func (c *collectionCache) apply(bucket string, manifest *cbconfig.CollectionManifest) {
	entries := make(map[string]manifestEntry)
	for _, scope := range manifest.Scopes {
		for _, coll := range scope.Collections {
			id, err := parseManifestUID(coll.UID)
			if err != nil {
				continue
			}
			entries[scope.Name+"."+coll.Name] = manifestEntry{collectionID: encodeLEB128(id)}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.manifests[bucket] = entries
	c.uids[bucket] = manifest.UID
}

func (c *collectionCache) currentUID(bucket string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	uid, ok := c.uids[bucket]
	return uid, ok
}

// lookup returns the LEB128-encoded collection ID for scope.collection
// within bucket, if the cached manifest knows about it.
func (c *collectionCache) lookup(bucket, scope, collection string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byBucket, ok := c.manifests[bucket]
	if !ok {
		return nil, false
	}
	entry, ok := byBucket[scope+"."+collection]
	if !ok {
		return nil, false
	}
	return entry.collectionID, true
}

func (c *collectionCache) remove(bucket string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.manifests, bucket)
	delete(c.uids, bucket)
}

func parseManifestUID(hexUID string) (uint32, error) {
	var v uint32
	for _, r := range hexUID {
		var digit uint32
		switch {
		case r >= '0' && r <= '9':
			digit = uint32(r - '0')
		case r >= 'a' && r <= 'f':
			digit = uint32(r-'a') + 10
		case r >= 'A' && r <= 'F':
			digit = uint32(r-'A') + 10
		default:
			return 0, errInvalidManifestUID
		}
		v = v<<4 | digit
	}
	return v, nil
}
