package cbconfig

import "encoding/json"

// Collection is one collection within a scope, as named in a
// collections manifest.
type Collection struct {
	UID  string
	Name string
}

// Scope is one scope within a collections manifest.
type Scope struct {
	UID         string
	Name        string
	Collections []Collection
}

// CollectionManifest is the parsed form of a bucket's collections
// manifest document.
type CollectionManifest struct {
	UID    string
	Scopes []Scope
}

// ParseCollectionManifest parses a raw collections-manifest response.
func ParseCollectionManifest(raw []byte) (*CollectionManifest, error) {
	var doc manifestJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	m := &CollectionManifest{UID: doc.UID}
	for _, s := range doc.Scopes {
		scope := Scope{UID: s.UID, Name: s.Name}
		for _, c := range s.Collections {
			scope.Collections = append(scope.Collections, Collection{UID: c.UID, Name: c.Name})
		}
		m.Scopes = append(m.Scopes, scope)
	}
	return m, nil
}
