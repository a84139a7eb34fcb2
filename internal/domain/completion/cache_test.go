package completion

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/monitoring"
)

func TestCacheLookupReturnsSuffix(t *testing.T) {
	c := NewCache(0)
	c.Insert("gi"+"t status", 1)

	suffix, ok := c.Lookup("git")
	assert.True(t, ok)
	assert.Equal(t, " status", suffix)
}

func TestCacheLookupRequiresStrictlyLongerKey(t *testing.T) {
	c := NewCache(0)
	c.Insert("ls", 1)

	_, ok := c.Lookup("ls")
	assert.False(t, ok)

	_, ok = c.Lookup("cd")
	assert.False(t, ok)
}

func TestCacheLookupPrefersScoreThenLength(t *testing.T) {
	c := NewCache(0)
	c.Insert("git status", 1)
	c.Insert("git stash pop", 1)
	c.Insert("git st", 0.5)

	suffix, ok := c.Lookup("git s")
	assert.True(t, ok)
	assert.Equal(t, "tash pop", suffix, "equal scores prefer the longest key")

	c.Insert("git show", 2)
	suffix, _ = c.Lookup("git s")
	assert.Equal(t, "how", suffix, "higher score wins")
}

func TestCacheLookupTieBreaksLexically(t *testing.T) {
	c := NewCache(0)
	c.Insert("make b", 1)
	c.Insert("make a", 1)

	suffix, ok := c.Lookup("make")
	assert.True(t, ok)
	assert.Equal(t, " a", suffix)
}

func TestCacheInsertOverwritesScore(t *testing.T) {
	c := NewCache(0)
	c.Insert("cargo build", 1)
	c.Insert("cargo test", 1)
	c.Insert("cargo build", 5)

	suffix, _ := c.Lookup("cargo ")
	assert.Equal(t, "build", suffix)
	assert.Equal(t, 2, c.Len())
}

func TestCacheBounded(t *testing.T) {
	c := NewCache(2)
	c.Insert("one", 1)
	c.Insert("two", 1)
	c.Insert("three", 1)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Lookup("thr")
	assert.False(t, ok)

	c.Insert("one", 3)
	assert.Equal(t, 2, c.Len(), "existing keys still update when full")
}

func TestCacheUnicodeKeys(t *testing.T) {
	c := NewCache(0)
	c.Insert("echo héllo wörld", 1)

	suffix, ok := c.Lookup("echo hé")
	assert.True(t, ok)
	assert.Equal(t, "llo wörld", suffix)
}

func TestCacheReportsEntries(t *testing.T) {
	m := monitoring.NewMetrics(prometheus.NewRegistry())
	c := NewCache(0).WithMetrics(m)
	c.Insert("a1", 1)
	c.Insert("a2", 1)
	c.Insert("a1", 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheEntries))
}

func TestCacheLookupIsExtensionOfBuffer(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := NewCache(0)
		keys := rapid.SliceOf(rapid.StringMatching(`[a-c ]{1,6}`)).Draw(t, "keys")
		for _, k := range keys {
			c.Insert(k, 1)
		}
		buffer := rapid.StringMatching(`[a-c ]{0,3}`).Draw(t, "buffer")

		suffix, ok := c.Lookup(buffer)
		wantHit := false
		for _, k := range keys {
			if len(k) > len(buffer) && strings.HasPrefix(k, buffer) {
				wantHit = true
			}
		}
		if ok != wantHit {
			t.Fatalf("Lookup(%q) hit=%v, want %v", buffer, ok, wantHit)
		}
		if !ok {
			return
		}
		full := buffer + suffix
		if suffix == "" {
			t.Fatalf("empty suffix for %q", buffer)
		}
		found := false
		for _, k := range keys {
			if k == full {
				found = true
			}
			if len(k) > len(full) && strings.HasPrefix(k, buffer) {
				t.Fatalf("Lookup(%q) = %q but longer key %q exists", buffer, full, k)
			}
		}
		if !found {
			t.Fatalf("Lookup(%q) = %q which was never inserted", buffer, full)
		}
	})
}
