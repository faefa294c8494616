// Copyright (C) 2024 The Dysco Authors.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package dyscofile

import (
	"errors"
	"sync"
)

// ErrCacheClosed is returned by Put once the cache has begun draining
// for Close.
var ErrCacheClosed = errors.New("dyscofile: cache closed")

// WriteFunc writes a finished block's bytes to its place in the file.
// It is called by a cache worker goroutine, never concurrently for the
// same blockIndex, but possibly concurrently across distinct indices.
type WriteFunc func(blockIndex int64, buf []byte) error

// cacheItem is one pending block: either freshly queued, or claimed by
// a worker and in the middle of being written out.
type cacheItem struct {
	blockIndex   int64
	buffer       []byte
	beingWritten bool
}

// Cache is the threaded block cache of §4.E/§5: a bounded queue of
// not-yet-flushed, encoded blocks, drained by a fixed pool of worker
// goroutines that each pull the oldest block not already claimed by
// another worker, write it out via WriteFunc, and remove it from the
// queue. Put blocks the caller when the queue is full, giving simple
// backpressure against a writer that encodes blocks faster than they
// can be flushed to storage.
type Cache struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   map[int64]*cacheItem
	order   []int64
	maxSize int
	write   WriteFunc

	wg      sync.WaitGroup
	closing bool
	err     error
}

// NewCache starts a Cache with the given number of worker goroutines
// (at least 1) and the given write function. maxCacheSize is
// 1.2*workers+1, matching the headroom used by the original
// implementation to keep all workers fed without letting the queue
// grow unbounded.
func NewCache(workers int, write WriteFunc) *Cache {
	if workers < 1 {
		workers = 1
	}
	maxSize := (workers*12)/10 + 1
	c := &Cache{
		items:   make(map[int64]*cacheItem),
		maxSize: maxSize,
		write:   write,
	}
	c.cond = sync.NewCond(&c.mu)
	c.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go c.worker()
	}
	return c
}

// Err returns the first write error a worker has encountered, if any,
// without waiting for Close. §7's propagation policy requires a worker
// failure to be "re-raised on the next row put or on shutdown"; Put
// consults this before accepting another block, and a caller may also
// poll it directly.
func (c *Cache) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Put enqueues a finished, encoded block for asynchronous writing,
// blocking until the cache has room. It returns ErrCacheClosed if
// Close has already been called, or the first write error a worker
// has encountered, if one has occurred.
func (c *Cache) Put(blockIndex int64, buf []byte) error {
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	for len(c.items) >= c.maxSize && !c.closing && c.err == nil {
		c.cond.Wait()
	}
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	if c.closing {
		c.mu.Unlock()
		return ErrCacheClosed
	}
	c.items[blockIndex] = &cacheItem{blockIndex: blockIndex, buffer: buf}
	c.order = append(c.order, blockIndex)
	c.cond.Broadcast()
	c.mu.Unlock()
	return nil
}

// Close waits for every queued block to finish writing, then stops
// the worker pool and returns the first write error encountered, if
// any. Close does not abort a block mid-write; it only refuses new
// Put calls and waits out what remains.
func (c *Cache) Close() error {
	c.mu.Lock()
	c.closing = true
	c.cond.Broadcast()
	for len(c.items) > 0 {
		c.cond.Wait()
	}
	c.mu.Unlock()
	c.wg.Wait()
	return c.err
}

func (c *Cache) worker() {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		var item *cacheItem
		for {
			item = c.nextPendingLocked()
			if item != nil || c.closing {
				break
			}
			c.cond.Wait()
		}
		if item == nil {
			c.mu.Unlock()
			return
		}
		item.beingWritten = true
		idx, buf := item.blockIndex, item.buffer
		c.mu.Unlock()

		err := c.write(idx, buf)

		c.mu.Lock()
		if err != nil && c.err == nil {
			c.err = err
		}
		delete(c.items, idx)
		c.removeOrderLocked(idx)
		c.cond.Broadcast()
		c.mu.Unlock()
	}
}

func (c *Cache) nextPendingLocked() *cacheItem {
	for _, idx := range c.order {
		it := c.items[idx]
		if it != nil && !it.beingWritten {
			return it
		}
	}
	return nil
}

func (c *Cache) removeOrderLocked(idx int64) {
	for i, v := range c.order {
		if v == idx {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
