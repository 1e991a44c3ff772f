package page

import (
	"container/list"
	"sync"

	"kae/render"
)

// cacheKey identifies rendered chapter. Everything affecting layout is part
// of the key so changed preferences never hit stale bitmaps.
type cacheKey struct {
	pkg        string
	entry      string
	start, end string
	prefs      render.Preferences
	canvas     render.Canvas
	full       bool
}

type cacheItem struct {
	key cacheKey
	bmp *render.Bitmap
}

// cache keeps limited number of recently rendered chapters. Nil cache is
// valid and stores nothing.
type cache struct {
	mu    sync.Mutex
	size  int
	order *list.List
	items map[cacheKey]*list.Element
}

func newCache(size int) *cache {
	if size <= 0 {
		return nil
	}
	return &cache{size: size, order: list.New(), items: make(map[cacheKey]*list.Element, size)}
}

func (c *cache) get(key cacheKey) (*render.Bitmap, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(e)
	return e.Value.(*cacheItem).bmp, true
}

func (c *cache) put(key cacheKey, bmp *render.Bitmap) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		e.Value.(*cacheItem).bmp = bmp
		c.order.MoveToFront(e)
		return
	}
	c.items[key] = c.order.PushFront(&cacheItem{key: key, bmp: bmp})
	for c.order.Len() > c.size {
		last := c.order.Back()
		c.order.Remove(last)
		delete(c.items, last.Value.(*cacheItem).key)
	}
}

func (c *cache) clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	clear(c.items)
}

func (c *cache) len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
