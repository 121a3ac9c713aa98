package verification

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// TaggedCache はTTL付きLRUキャッシュにタグ単位の無効化を加えたもの。
//
// 取得開始時の世代をAddに渡すことで、取得中に無効化された結果を書き込まないようにする。
type TaggedCache[V any] struct {
	lru  *expirable.LRU[string, V]
	size int

	mu         sync.Mutex
	generation uint64
	tags       map[string]map[string]struct{}
}

// NewTaggedCache はTaggedCacheを生成する。
func NewTaggedCache[V any](size int, ttl time.Duration) *TaggedCache[V] {
	if size <= 0 {
		size = 256
	}
	return &TaggedCache[V]{
		lru:  expirable.NewLRU[string, V](size, nil, ttl),
		size: size,
		tags: make(map[string]map[string]struct{}),
	}
}

// Get はキーに対応する値を返す。期限切れの値は返さない。
func (c *TaggedCache[V]) Get(key string) (V, bool) {
	return c.lru.Get(key)
}

// Generation は現在の世代を返す。InvalidateTagのたびに増える。
func (c *TaggedCache[V]) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Add は値をタグ付きで保存する。generationが現在の世代と異なる場合は保存せずfalseを返す。
func (c *TaggedCache[V]) Add(key string, value V, generation uint64, tags ...string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		return false
	}

	c.lru.Add(key, value)
	for _, tag := range tags {
		keys, ok := c.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			c.tags[tag] = keys
		}
		keys[key] = struct{}{}
		if len(keys) > 2*c.size {
			c.pruneLocked(keys)
		}
	}
	return true
}

// pruneLocked はLRUから追い出されたキーをタグの索引から除く。
func (c *TaggedCache[V]) pruneLocked(keys map[string]struct{}) {
	for key := range keys {
		if !c.lru.Contains(key) {
			delete(keys, key)
		}
	}
}

// InvalidateTag はタグの付いたすべての値を削除し、削除件数を返す。
func (c *TaggedCache[V]) InvalidateTag(tag string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	removed := 0
	for key := range c.tags[tag] {
		if c.lru.Remove(key) {
			removed++
		}
	}
	delete(c.tags, tag)
	return removed
}

// Len はキャッシュ内の件数を返す。
func (c *TaggedCache[V]) Len() int {
	return c.lru.Len()
}
