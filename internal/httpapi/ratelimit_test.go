package httpapi

import "testing"

func TestCapabilityRateLimiter_AllowsBurstThenBlocks(t *testing.T) {
	l := newCapabilityRateLimiter(1, 2)

	if !l.allow("h1") {
		t.Fatal("first call should be allowed")
	}
	if !l.allow("h1") {
		t.Fatal("second call within burst should be allowed")
	}
	if l.allow("h1") {
		t.Fatal("third call should exceed burst")
	}
}

func TestCapabilityRateLimiter_TracksHashesIndependently(t *testing.T) {
	l := newCapabilityRateLimiter(1, 1)

	if !l.allow("h1") {
		t.Fatal("h1 first call should be allowed")
	}
	if !l.allow("h2") {
		t.Fatal("h2 has its own bucket and should be allowed")
	}
}

func TestCapabilityRateLimiter_DefaultsNonPositiveValues(t *testing.T) {
	l := newCapabilityRateLimiter(0, 0)
	if !l.allow("h1") {
		t.Fatal("zero-valued rps/burst should still allow at least one request")
	}
}
