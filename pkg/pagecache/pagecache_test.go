package pagecache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateGrowsBackingFile(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "pages.db"), 4096, 4)
	require.NoError(t, err)
	defer c.Close()

	before := c.NumPages()
	id, err := c.Allocate()
	require.NoError(t, err)
	require.Equal(t, before, id, "the newly allocated page id should equal the prior page count")
	require.Equal(t, before+1, c.NumPages())
}

func TestGetPinsAndUnpinMarksDirty(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "pages.db"), 4096, 4)
	require.NoError(t, err)
	defer c.Close()

	id, err := c.Allocate()
	require.NoError(t, err)
	data, err := c.GetMut(id)
	require.NoError(t, err)
	require.Len(t, data, 4096)

	data[0] = 0xAB
	c.Unpin(id, true)

	require.NoError(t, c.FlushAll())

	data2, err := c.Get(id)
	require.NoError(t, err)
	require.Equal(t, byte(0xAB), data2[0], "a write made before Unpin(dirty=true) must survive a flush")
	c.Unpin(id, false)
}

func TestRepeatedGetOfSamePageIsACacheHitNotANewFrame(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "pages.db"), 4096, 4)
	require.NoError(t, err)
	defer c.Close()

	id, err := c.Allocate()
	require.NoError(t, err)
	d1, err := c.Get(id)
	require.NoError(t, err)
	c.Unpin(id, false)

	d2, err := c.Get(id)
	require.NoError(t, err)
	c.Unpin(id, false)

	require.Equal(t, &d1[0], &d2[0], "fetching the same resident page twice should return the same backing slice")
}

func TestEvictionSkipsPinnedFrames(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "pages.db"), 4096, 2)
	require.NoError(t, err)
	defer c.Close()

	p0, err := c.Allocate()
	require.NoError(t, err)
	p1, err := c.Allocate()
	require.NoError(t, err)
	p2, err := c.Allocate()
	require.NoError(t, err)

	_, err = c.Get(p0) // pinned, holds its frame
	require.NoError(t, err)
	_, err = c.Get(p1)
	require.NoError(t, err)
	c.Unpin(p1, false)

	_, err = c.Get(p2) // must evict p1's frame, not p0's (pinned)
	require.NoError(t, err)
	c.Unpin(p2, false)
	c.Unpin(p0, false)

	_, err = c.Get(p0)
	require.NoError(t, err, "p0 stayed pinned through the eviction and must still be resident")
	c.Unpin(p0, false)
}

func TestCloseThenReopenPreservesFlushedData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.db")
	c, err := Open(path, 4096, 4)
	require.NoError(t, err)
	id, err := c.Allocate()
	require.NoError(t, err)
	data, err := c.GetMut(id)
	require.NoError(t, err)
	data[10] = 0x42
	c.Unpin(id, true)
	require.NoError(t, c.Close())

	reopened, err := Open(path, 4096, 4)
	require.NoError(t, err)
	defer reopened.Close()

	data2, err := reopened.Get(id)
	require.NoError(t, err)
	require.Equal(t, byte(0x42), data2[10])
	reopened.Unpin(id, false)
}
