// Package btree implements the GSPO index: a disk-backed B+tree keyed
// by types.TemporalKey, built on top of pkg/pagecache. Keys are never
// deleted in place — a logical delete is a normal insert carrying the
// tombstone flag, so the tree only needs insert, range scan,
// and stats, following the B+tree variant described for embedded
// storage engines: pre-sized fixed pages, leaf sibling chaining for
// ordered range scans, and median-key promotion on split.
package btree

import (
	"encoding/binary"

	"github.com/cuemby/mercury/pkg/mercuryerr"
	"github.com/cuemby/mercury/pkg/metrics"
	"github.com/cuemby/mercury/pkg/pagecache"
	"github.com/cuemby/mercury/pkg/types"
)

const (
	headerMagic   = 0x47535054 // "GSPT"
	headerVersion = 1

	pageTypeLeaf     = 1
	pageTypeInternal = 2

	leafHeaderSize     = 1 + 2 + 8 // type | numEntries | nextLeaf
	leafEntrySize      = types.TemporalKeySize + 1 + 8
	internalHeaderSize = 1 + 2 + 8 // type | numEntries | rightPtr
	internalCellSize   = types.TemporalKeySize + 8

	noPage = ^uint64(0)
)

// Stats reports the shape of the tree.
type Stats struct {
	Entries uint64
	Height  int
	Pages   uint64
}

// Tree is a disk-backed B+tree over TemporalKey, using cache for page
// storage.
type Tree struct {
	cache    *pagecache.Cache
	pageSize int

	rootID      pagecache.PageID
	pageCount   uint64
	checkpoint  uint64
	entryCount  uint64
}

// Open initializes or loads the tree header from page 0 of cache.
func Open(cache *pagecache.Cache) (*Tree, error) {
	t := &Tree{cache: cache, pageSize: cache.PageSize()}

	hdr, err := cache.Get(pagecache.PageID(0))
	if err != nil {
		return nil, err
	}
	magic := binary.LittleEndian.Uint32(hdr[0:4])
	if magic == 0 {
		// Fresh store: allocate a root leaf and write the header.
		rootID, err := cache.Allocate()
		if err != nil {
			cache.Unpin(0, false)
			return nil, err
		}
		root, err := cache.Get(rootID)
		if err != nil {
			cache.Unpin(0, false)
			return nil, err
		}
		initLeaf(root, noPage)
		cache.Unpin(rootID, true)

		t.rootID = pagecache.PageID(rootID)
		t.pageCount = uint64(rootID) + 1
		t.writeHeader(hdr)
		cache.Unpin(0, true)
		return t, nil
	}

	if magic != headerMagic {
		cache.Unpin(0, false)
		return nil, mercuryerr.New(mercuryerr.KindCorruptedData, "bad gspo.tdb header magic")
	}
	t.rootID = pagecache.PageID(binary.LittleEndian.Uint64(hdr[8:16]))
	t.pageCount = binary.LittleEndian.Uint64(hdr[16:24])
	t.checkpoint = binary.LittleEndian.Uint64(hdr[24:32])
	t.entryCount = binary.LittleEndian.Uint64(hdr[32:40])
	cache.Unpin(0, false)
	return t, nil
}

func (t *Tree) writeHeader(hdr []byte) {
	binary.LittleEndian.PutUint32(hdr[0:4], headerMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], headerVersion)
	binary.LittleEndian.PutUint64(hdr[8:16], uint64(t.rootID))
	binary.LittleEndian.PutUint64(hdr[16:24], t.pageCount)
	binary.LittleEndian.PutUint64(hdr[24:32], t.checkpoint)
	binary.LittleEndian.PutUint64(hdr[32:40], t.entryCount)
}

func (t *Tree) syncHeader() error {
	hdr, err := t.cache.Get(pagecache.PageID(0))
	if err != nil {
		return err
	}
	t.writeHeader(hdr)
	t.cache.Unpin(0, true)
	return nil
}

// SetCheckpoint records the last applied tx id in the header.
func (t *Tree) SetCheckpoint(txID uint64) error {
	t.checkpoint = txID
	return t.syncHeader()
}

func initLeaf(page []byte, next uint64) {
	page[0] = pageTypeLeaf
	binary.LittleEndian.PutUint16(page[1:3], 0)
	binary.LittleEndian.PutUint64(page[3:11], next)
}

func initInternal(page []byte, rightPtr uint64) {
	page[0] = pageTypeInternal
	binary.LittleEndian.PutUint16(page[1:3], 0)
	binary.LittleEndian.PutUint64(page[3:11], rightPtr)
}

func leafNumEntries(page []byte) int {
	return int(binary.LittleEndian.Uint16(page[1:3]))
}

func leafSetNumEntries(page []byte, n int) {
	binary.LittleEndian.PutUint16(page[1:3], uint16(n))
}

func leafNext(page []byte) uint64 { return binary.LittleEndian.Uint64(page[3:11]) }

func leafSetNext(page []byte, next uint64) {
	binary.LittleEndian.PutUint64(page[3:11], next)
}

func leafEntryAt(page []byte, i int) (types.TemporalKey, bool, uint64) {
	off := leafHeaderSize + i*leafEntrySize
	key := types.DecodeTemporalKey(page[off : off+types.TemporalKeySize])
	tomb := page[off+types.TemporalKeySize] != 0
	val := binary.LittleEndian.Uint64(page[off+types.TemporalKeySize+1:])
	return key, tomb, val
}

func leafSetEntryAt(page []byte, i int, key types.TemporalKey, tombstone bool, val uint64) {
	off := leafHeaderSize + i*leafEntrySize
	key.Encode(page[off : off+types.TemporalKeySize])
	if tombstone {
		page[off+types.TemporalKeySize] = 1
	} else {
		page[off+types.TemporalKeySize] = 0
	}
	binary.LittleEndian.PutUint64(page[off+types.TemporalKeySize+1:], val)
}

func leafCapacity(pageSize int) int {
	return (pageSize - leafHeaderSize) / leafEntrySize
}

func internalNumEntries(page []byte) int {
	return int(binary.LittleEndian.Uint16(page[1:3]))
}

func internalSetNumEntries(page []byte, n int) {
	binary.LittleEndian.PutUint16(page[1:3], uint16(n))
}

func internalRightPtr(page []byte) uint64 { return binary.LittleEndian.Uint64(page[3:11]) }

func internalSetRightPtr(page []byte, p uint64) {
	binary.LittleEndian.PutUint64(page[3:11], p)
}

func internalCellAt(page []byte, i int) (types.TemporalKey, uint64) {
	off := internalHeaderSize + i*internalCellSize
	key := types.DecodeTemporalKey(page[off : off+types.TemporalKeySize])
	child := binary.LittleEndian.Uint64(page[off+types.TemporalKeySize:])
	return key, child
}

func internalSetCellAt(page []byte, i int, key types.TemporalKey, child uint64) {
	off := internalHeaderSize + i*internalCellSize
	key.Encode(page[off : off+types.TemporalKeySize])
	binary.LittleEndian.PutUint64(page[off+types.TemporalKeySize:], child)
}

func internalCapacity(pageSize int) int {
	return (pageSize - internalHeaderSize) / internalCellSize
}

// findChild returns the child page id that may contain key, per "cell
// semantics": cell(K, P) means P holds keys >= K; rightPtr holds keys
// less than every separator.
func findChild(page []byte, key types.TemporalKey) uint64 {
	n := internalNumEntries(page)
	result := internalRightPtr(page)
	for i := 0; i < n; i++ {
		cellKey, child := internalCellAt(page, i)
		if key.Compare(cellKey) >= 0 {
			result = child
		} else {
			break
		}
	}
	return result
}

// Insert adds key with the given tombstone flag and opaque value. A
// duplicate key (equal on every GSPO and temporal field) is a no-op
// returning inserted=false.
func (t *Tree) Insert(key types.TemporalKey, tombstone bool, value uint64) (inserted bool, err error) {
	path, leafID, err := t.descendToLeaf(key)
	if err != nil {
		return false, err
	}

	leaf, err := t.cache.Get(leafID)
	if err != nil {
		return false, err
	}

	n := leafNumEntries(leaf)
	pos := 0
	for pos < n {
		k, _, _ := leafEntryAt(leaf, pos)
		c := key.Compare(k)
		if c == 0 {
			t.cache.Unpin(leafID, false)
			return false, nil
		}
		if c < 0 {
			break
		}
		pos++
	}

	if n < leafCapacity(t.pageSize) {
		for i := n; i > pos; i-- {
			k, tb, v := leafEntryAt(leaf, i-1)
			leafSetEntryAt(leaf, i, k, tb, v)
		}
		leafSetEntryAt(leaf, pos, key, tombstone, value)
		leafSetNumEntries(leaf, n+1)
		t.cache.Unpin(leafID, true)
		t.entryCount++
		return true, t.syncHeader()
	}

	// Leaf is full: split. Build the full logical entry list, then
	// divide it between the original leaf and a new right sibling.
	entries := make([]struct {
		key  types.TemporalKey
		tomb bool
		val  uint64
	}, 0, n+1)
	for i := 0; i < n; i++ {
		if i == pos {
			entries = append(entries, struct {
				key  types.TemporalKey
				tomb bool
				val  uint64
			}{key, tombstone, value})
		}
		k, tb, v := leafEntryAt(leaf, i)
		entries = append(entries, struct {
			key  types.TemporalKey
			tomb bool
			val  uint64
		}{k, tb, v})
	}
	if pos == n {
		entries = append(entries, struct {
			key  types.TemporalKey
			tomb bool
			val  uint64
		}{key, tombstone, value})
	}

	mid := len(entries) / 2
	leftEntries, rightEntries := entries[:mid], entries[mid:]

	newLeafID, err := t.cache.Allocate()
	if err != nil {
		t.cache.Unpin(leafID, false)
		return false, err
	}
	t.pageCount++
	newLeaf, err := t.cache.Get(newLeafID)
	if err != nil {
		t.cache.Unpin(leafID, false)
		return false, err
	}
	initLeaf(newLeaf, leafNext(leaf))
	for i, e := range rightEntries {
		leafSetEntryAt(newLeaf, i, e.key, e.tomb, e.val)
	}
	leafSetNumEntries(newLeaf, len(rightEntries))
	t.cache.Unpin(newLeafID, true)

	initLeaf(leaf, uint64(newLeafID))
	for i, e := range leftEntries {
		leafSetEntryAt(leaf, i, e.key, e.tomb, e.val)
	}
	leafSetNumEntries(leaf, len(leftEntries))
	t.cache.Unpin(leafID, true)

	metrics.BTreeSplitsTotal.Inc()
	separator := rightEntries[0].key

	if err := t.insertIntoParent(path, separator, uint64(newLeafID)); err != nil {
		return false, err
	}
	t.entryCount++
	metrics.BTreeHeight.Set(float64(len(path) + 1))
	return true, t.syncHeader()
}

// descendToLeaf walks from the root to the leaf that should hold key,
// returning the path of internal page ids visited (root first).
func (t *Tree) descendToLeaf(key types.TemporalKey) ([]pagecache.PageID, pagecache.PageID, error) {
	var path []pagecache.PageID
	id := t.rootID
	for {
		page, err := t.cache.Get(id)
		if err != nil {
			return nil, 0, err
		}
		if page[0] == pageTypeLeaf {
			t.cache.Unpin(id, false)
			return path, id, nil
		}
		next := findChild(page, key)
		t.cache.Unpin(id, false)
		path = append(path, id)
		id = pagecache.PageID(next)
	}
}

// insertIntoParent inserts (separator -> rightChild) into the deepest
// internal page on path, splitting internal pages upward as needed and
// creating a new root if the root itself splits.
func (t *Tree) insertIntoParent(path []pagecache.PageID, separator types.TemporalKey, rightChild uint64) error {
	if len(path) == 0 {
		// The leaf that split was the root: build a new internal root.
		newRootID, err := t.cache.Allocate()
		if err != nil {
			return err
		}
		t.pageCount++
		root, err := t.cache.Get(newRootID)
		if err != nil {
			return err
		}
		initInternal(root, uint64(t.rootID))
		internalSetCellAt(root, 0, separator, rightChild)
		internalSetNumEntries(root, 1)
		t.cache.Unpin(newRootID, true)
		t.rootID = newRootID
		return t.syncHeader()
	}

	parentID := path[len(path)-1]
	parent, err := t.cache.Get(parentID)
	if err != nil {
		return err
	}

	n := internalNumEntries(parent)
	pos := 0
	for pos < n {
		k, _ := internalCellAt(parent, pos)
		if separator.Compare(k) < 0 {
			break
		}
		pos++
	}

	if n < internalCapacity(t.pageSize) {
		for i := n; i > pos; i-- {
			k, c := internalCellAt(parent, i-1)
			internalSetCellAt(parent, i, k, c)
		}
		internalSetCellAt(parent, pos, separator, rightChild)
		internalSetNumEntries(parent, n+1)
		t.cache.Unpin(parentID, true)
		return nil
	}

	// Internal page is full: split it, promoting the median separator
	// to the grandparent.
	type cell struct {
		key   types.TemporalKey
		child uint64
	}
	cells := make([]cell, 0, n+1)
	for i := 0; i < n; i++ {
		if i == pos {
			cells = append(cells, cell{separator, rightChild})
		}
		k, c := internalCellAt(parent, i)
		cells = append(cells, cell{k, c})
	}
	if pos == n {
		cells = append(cells, cell{separator, rightChild})
	}

	mid := len(cells) / 2
	promoted := cells[mid]
	leftCells := cells[:mid]
	rightCells := cells[mid+1:]
	oldRight := internalRightPtr(parent)

	newParentID, err := t.cache.Allocate()
	if err != nil {
		t.cache.Unpin(parentID, false)
		return err
	}
	t.pageCount++
	newParent, err := t.cache.Get(newParentID)
	if err != nil {
		t.cache.Unpin(parentID, false)
		return err
	}
	initInternal(newParent, promoted.child)
	for i, c := range rightCells {
		internalSetCellAt(newParent, i, c.key, c.child)
	}
	internalSetNumEntries(newParent, len(rightCells))
	t.cache.Unpin(newParentID, true)

	initInternal(parent, oldRight)
	for i, c := range leftCells {
		internalSetCellAt(parent, i, c.key, c.child)
	}
	internalSetNumEntries(parent, len(leftCells))
	t.cache.Unpin(parentID, true)

	metrics.BTreeSplitsTotal.Inc()
	return t.insertIntoParent(path[:len(path)-1], promoted.key, uint64(newParentID))
}

// Cursor streams leaf entries in key order within [lower, upper].
type Cursor struct {
	tree     *Tree
	leafID   pagecache.PageID
	pos      int
	upper    types.TemporalKey
	hasUpper bool
	done     bool
	current  types.TemporalKey
	tomb     bool
	value    uint64
}

// RangeScan returns a cursor over all entries in [lower, upper]. A
// nil-ish upper (use types.InfiniteTime fields) scans to the end.
func (t *Tree) RangeScan(lower, upper types.TemporalKey) (*Cursor, error) {
	path, leafID, err := t.descendToLeaf(lower)
	if err != nil {
		return nil, err
	}
	_ = path
	return &Cursor{tree: t, leafID: leafID, pos: -1, upper: upper, hasUpper: true, current: lower}, nil
}

// Next advances the cursor, returning false when exhausted.
func (c *Cursor) Next() (bool, error) {
	if c.done {
		return false, nil
	}
	for {
		leaf, err := c.tree.cache.Get(c.leafID)
		if err != nil {
			return false, err
		}
		n := leafNumEntries(leaf)

		if c.pos == -1 {
			// First call: binary-search-free linear scan for the first
			// entry >= current lower bound (leaves are small; O(n) is fine).
			c.pos = 0
			for c.pos < n {
				k, _, _ := leafEntryAt(leaf, c.pos)
				if k.Compare(c.current) >= 0 {
					break
				}
				c.pos++
			}
		} else {
			c.pos++
		}

		if c.pos < n {
			k, tomb, val := leafEntryAt(leaf, c.pos)
			if c.hasUpper && k.Compare(c.upper) > 0 {
				c.tree.cache.Unpin(c.leafID, false)
				c.done = true
				return false, nil
			}
			c.current, c.tomb, c.value = k, tomb, val
			c.tree.cache.Unpin(c.leafID, false)
			return true, nil
		}

		next := leafNext(leaf)
		c.tree.cache.Unpin(c.leafID, false)
		if next == noPage {
			c.done = true
			return false, nil
		}
		c.leafID = pagecache.PageID(next)
		c.pos = -1
	}
}

// Key returns the key at the cursor's current position.
func (c *Cursor) Key() types.TemporalKey { return c.current }

// Tombstone reports whether the current entry is a tombstone.
func (c *Cursor) Tombstone() bool { return c.tomb }

// Value returns the opaque 8-byte payload of the current entry.
func (c *Cursor) Value() uint64 { return c.value }

// Stats returns the tree's current shape.
func (t *Tree) Stats() Stats {
	height := 1
	id := t.rootID
	for {
		page, err := t.cache.Get(id)
		if err != nil {
			break
		}
		isLeaf := page[0] == pageTypeLeaf
		var next uint64
		if !isLeaf {
			next = internalRightPtr(page)
		}
		t.cache.Unpin(id, false)
		if isLeaf {
			break
		}
		height++
		id = pagecache.PageID(next)
	}
	return Stats{Entries: t.entryCount, Height: height, Pages: t.pageCount}
}
