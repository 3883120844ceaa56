package cbconfig

import (
	"testing"

	"go.uber.org/zap"
)

func TestSplitHostPortPlain(t *testing.T) {
	host, port := splitHostPort("10.0.0.1:11210", zap.NewNop())
	if host != "10.0.0.1" || port != 11210 {
		t.Fatalf("got (%q, %d)", host, port)
	}
}

func TestSplitHostPortIPv6Brackets(t *testing.T) {
	host, port := splitHostPort("[::1]:11210", zap.NewNop())
	if host != "::1" || port != 11210 {
		t.Fatalf("got (%q, %d)", host, port)
	}
}

func TestSplitHostPortNonNumericPortDefaultsToZero(t *testing.T) {
	host, port := splitHostPort("10.0.0.1:abc", zap.NewNop())
	if host != "10.0.0.1" || port != 0 {
		t.Fatalf("got (%q, %d)", host, port)
	}
}
