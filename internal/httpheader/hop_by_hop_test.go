package httpheader

import "testing"

func TestIsHopByHop(t *testing.T) {
	for _, key := range []string{"Connection", "keep-alive", "transfer-encoding", "Proxy-Connection", "TE"} {
		if !IsHopByHop(key) {
			t.Fatalf("%s should be treated as hop-by-hop", key)
		}
	}
	for _, key := range []string{"etag", "Content-Type", "x-test-header"} {
		if IsHopByHop(key) {
			t.Fatalf("%s should be forwarded", key)
		}
	}
}
