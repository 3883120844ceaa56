package cbconfig

import "bytes"

// substituteHost replaces the server's "$HOST" placeholder — emitted
// for the bootstrap node's own hostname in a terse config fetched
// directly from it — with the host the client actually dialed.
func substituteHost(raw []byte, host string) []byte {
	if host == "" {
		return raw
	}
	return bytes.ReplaceAll(raw, []byte("$HOST"), []byte(host))
}
