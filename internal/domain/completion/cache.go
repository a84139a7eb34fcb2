package completion

import (
	"sync"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/monitoring"
)

type trieNode struct {
	children map[rune]*trieNode
	terminal bool
	score    float64
}

// Cache is a prefix trie of full command lines. A single lock guards it;
// lookups and inserts are cheap next to a network round trip.
type Cache struct {
	mu      sync.Mutex
	root    *trieNode
	entries int
	// maxEntries bounds the number of keys; zero means unbounded
	maxEntries int
	metrics    *monitoring.Metrics
}

// NewCache creates an empty cache. maxEntries of zero keeps every entry for
// the life of the process.
func NewCache(maxEntries int) *Cache {
	return &Cache{root: &trieNode{}, maxEntries: maxEntries}
}

// WithMetrics adds metrics tracking to the cache
func (c *Cache) WithMetrics(metrics *monitoring.Metrics) *Cache {
	c.metrics = metrics
	return c
}

// Insert stores key with score, overwriting the score of an existing key.
// When the cache is bounded and full, new keys are ignored.
func (c *Cache) Insert(key string, score float64) {
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxEntries > 0 && c.entries >= c.maxEntries && !c.contains(key) {
		return
	}

	node := c.root
	for _, r := range key {
		next, ok := node.children[r]
		if !ok {
			if node.children == nil {
				node.children = make(map[rune]*trieNode)
			}
			next = &trieNode{}
			node.children[r] = next
		}
		node = next
	}
	if !node.terminal {
		node.terminal = true
		c.entries++
		c.metrics.SetCacheEntries(c.entries)
	}
	node.score = score
}

// Lookup finds the best cached key strictly longer than buffer that starts
// with it and returns the part after buffer. The highest score wins; ties go
// to the longest key, then the lexically smallest.
func (c *Cache) Lookup(buffer string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node := c.root
	for _, r := range buffer {
		next, ok := node.children[r]
		if !ok {
			return "", false
		}
		node = next
	}

	var best bestKey
	walk(node, nil, &best)
	if !best.found {
		return "", false
	}
	return string(best.suffix), true
}

// Len returns the number of cached keys
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries
}

func (c *Cache) contains(key string) bool {
	node := c.root
	for _, r := range key {
		next, ok := node.children[r]
		if !ok {
			return false
		}
		node = next
	}
	return node.terminal
}

type bestKey struct {
	found  bool
	score  float64
	suffix []rune
}

func (b *bestKey) offer(suffix []rune, score float64) {
	switch {
	case !b.found, score > b.score:
	case score < b.score:
		return
	case len(suffix) > len(b.suffix):
	case len(suffix) < len(b.suffix):
		return
	case string(suffix) >= string(b.suffix):
		return
	}
	b.found = true
	b.score = score
	b.suffix = append(b.suffix[:0], suffix...)
}

// walk visits the strict descendants of node; path is the suffix so far
func walk(node *trieNode, path []rune, best *bestKey) {
	for r, child := range node.children {
		next := append(path, r)
		if child.terminal {
			best.offer(next, child.score)
		}
		walk(child, next, best)
	}
}
