// Package pagecache implements the fixed-frame page cache shared by
// the GSPO B+tree: a memory-mapped backing file, clock-algorithm
// eviction, per-frame pin counts, and a dirty set that is only
// released once pages are fsynced. This mirrors the Pager found in
// embedded B+tree storage engines, generalised to mmap-backed frames
// with explicit pin/unpin instead of an LRU cache keyed purely by
// reference count.
package pagecache

import (
	"os"
	"sync"

	"github.com/cuemby/mercury/pkg/mercuryerr"
	"github.com/cuemby/mercury/pkg/metrics"
	mmap "github.com/edsrzf/mmap-go"
)

// PageID identifies a fixed-size page within the backing file.
type PageID uint64

const headerPageID PageID = 0

type frame struct {
	pageID  PageID
	data    []byte
	pinned  int
	dirty   bool
	refBit  bool
	inUse   bool
}

// Cache is a fixed-frame, mmap-backed page cache. It does not know
// about B+tree page layout; it hands back raw byte slices of PageSize
// length keyed by PageID.
type Cache struct {
	mu sync.Mutex

	file     *os.File
	region   mmap.MMap
	pageSize int
	numPages uint64

	frames    []frame
	pageToIdx map[PageID]int
	clockHand int
}

// Open mmaps (or creates) the backing file at path, sized to hold at
// least 1 page (the header page), and allocates numFrames page frames.
func Open(path string, pageSize, numFrames int) (*Cache, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, mercuryerr.Wrap(mercuryerr.KindIoError, "opening page file", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, mercuryerr.Wrap(mercuryerr.KindIoError, "stat page file", err)
	}
	if info.Size() == 0 {
		if err := f.Truncate(int64(pageSize)); err != nil {
			f.Close()
			return nil, mercuryerr.Wrap(mercuryerr.KindIoError, "sizing new page file", err)
		}
		info, _ = f.Stat()
	}

	region, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, mercuryerr.Wrap(mercuryerr.KindIoError, "mmap page file", err)
	}

	c := &Cache{
		file:      f,
		region:    region,
		pageSize:  pageSize,
		numPages:  uint64(info.Size()) / uint64(pageSize),
		frames:    make([]frame, numFrames),
		pageToIdx: make(map[PageID]int, numFrames),
	}
	metrics.BTreePages.Set(float64(c.numPages))
	return c, nil
}

// Get returns a shared, pinned view of page id. Callers must call
// Unpin when finished.
func (c *Cache) Get(id PageID) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pin(id)
}

// GetMut is identical to Get; the distinction between shared and
// exclusive access is enforced by the caller holding the store's
// reader/writer lock, not by the page cache itself — a page frame is
// pinned for the duration either way and never evicted while pinned.
func (c *Cache) GetMut(id PageID) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pin(id)
}

func (c *Cache) pin(id PageID) ([]byte, error) {
	if idx, ok := c.pageToIdx[id]; ok {
		metrics.PageCacheHits.Inc()
		c.frames[idx].pinned++
		c.frames[idx].refBit = true
		return c.frames[idx].data, nil
	}

	metrics.PageCacheMisses.Inc()
	idx, err := c.evictFrame()
	if err != nil {
		return nil, err
	}

	if err := c.growIfNeeded(id); err != nil {
		return nil, err
	}

	start := int(id) * c.pageSize
	data := c.region[start : start+c.pageSize]

	c.frames[idx] = frame{pageID: id, data: data, pinned: 1, refBit: true, inUse: true}
	c.pageToIdx[id] = idx
	return data, nil
}

// Unpin releases a previously pinned page. dirty marks the frame for
// later flush.
func (c *Cache) Unpin(id PageID, dirty bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.pageToIdx[id]
	if !ok {
		return
	}
	if c.frames[idx].pinned > 0 {
		c.frames[idx].pinned--
	}
	if dirty {
		c.frames[idx].dirty = true
		metrics.DirtyPages.Inc()
	}
}

// MarkDirty flags a resident page dirty without changing its pin count.
func (c *Cache) MarkDirty(id PageID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.pageToIdx[id]; ok && !c.frames[idx].dirty {
		c.frames[idx].dirty = true
		metrics.DirtyPages.Inc()
	}
}

// Allocate grows the backing file by one page and returns its id.
func (c *Cache) Allocate() (PageID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := PageID(c.numPages)
	if err := c.growIfNeeded(id); err != nil {
		return 0, err
	}
	return id, nil
}

func (c *Cache) growIfNeeded(id PageID) error {
	needed := uint64(id) + 1
	if needed <= c.numPages {
		return nil
	}

	if err := c.region.Unmap(); err != nil {
		return mercuryerr.Wrap(mercuryerr.KindIoError, "unmapping page file before growth", err)
	}
	newSize := int64(needed) * int64(c.pageSize)
	if err := c.file.Truncate(newSize); err != nil {
		return mercuryerr.Wrap(mercuryerr.KindIoError, "growing page file", err)
	}
	region, err := mmap.Map(c.file, mmap.RDWR, 0)
	if err != nil {
		return mercuryerr.Wrap(mercuryerr.KindIoError, "remapping page file after growth", err)
	}
	c.region = region
	c.numPages = needed

	// Remapping invalidates any previously handed-out slices; frames
	// must be re-sliced from the new region.
	for i := range c.frames {
		if c.frames[i].inUse {
			start := int(c.frames[i].pageID) * c.pageSize
			c.frames[i].data = c.region[start : start+c.pageSize]
		}
	}
	metrics.BTreePages.Set(float64(c.numPages))
	return nil
}

// evictFrame finds a free or clock-evictable frame and returns its
// index. Dirty frames are flushed before eviction since the page
// cache must not drop unflushed writes.
func (c *Cache) evictFrame() (int, error) {
	for i := range c.frames {
		if !c.frames[i].inUse {
			return i, nil
		}
	}

	for tries := 0; tries < 2*len(c.frames); tries++ {
		idx := c.clockHand
		c.clockHand = (c.clockHand + 1) % len(c.frames)

		fr := &c.frames[idx]
		if fr.pinned > 0 {
			continue
		}
		if fr.refBit {
			fr.refBit = false
			continue
		}
		if fr.dirty {
			// mmap writes are visible to the kernel immediately; the
			// frame can be reused once its region has been synced.
			if err := c.region.Flush(); err != nil {
				return 0, mercuryerr.Wrap(mercuryerr.KindIoError, "flushing dirty page before eviction", err)
			}
			fr.dirty = false
			metrics.DirtyPages.Dec()
		}
		delete(c.pageToIdx, fr.pageID)
		metrics.PageCacheEvictions.Inc()
		*fr = frame{}
		return idx, nil
	}
	return 0, mercuryerr.New(mercuryerr.KindConcurrencyError, "page cache exhausted: all frames pinned")
}

// FlushAll syncs all dirty frames and the header page, establishing a
// durability boundary that the cache will not reorder writes across.
func (c *Cache) FlushAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.region.Flush(); err != nil {
		return mercuryerr.Wrap(mercuryerr.KindIoError, "flushing page cache", err)
	}
	for i := range c.frames {
		if c.frames[i].inUse && c.frames[i].dirty {
			c.frames[i].dirty = false
			metrics.DirtyPages.Dec()
		}
	}
	return nil
}

// PageSize returns the configured page size in bytes.
func (c *Cache) PageSize() int { return c.pageSize }

// NumPages returns the number of pages currently allocated in the
// backing file, including the header page.
func (c *Cache) NumPages() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.numPages
}

// Close flushes and unmaps the backing file.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.region.Flush(); err != nil {
		return mercuryerr.Wrap(mercuryerr.KindIoError, "flushing page cache on close", err)
	}
	if err := c.region.Unmap(); err != nil {
		return mercuryerr.Wrap(mercuryerr.KindIoError, "unmapping page file", err)
	}
	return c.file.Close()
}
