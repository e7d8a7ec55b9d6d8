package obsfs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirCacheNewAppendFind(t *testing.T) {
	c := NewDirCache(time.Minute)
	d := c.New("/source/foo")
	c.Append(d, "bar", true)
	c.Append(d, "baz.spec", false)

	found := c.Find("/source/foo")
	require.NotNil(t, found)
	assert.Len(t, found.Entries, 2)
	assert.Equal(t, DirEntry{Name: "bar", IsDir: true}, found.Entries[0])
}

func TestDirCacheFindMiss(t *testing.T) {
	c := NewDirCache(time.Minute)
	assert.Nil(t, c.Find("/nope"))
}

func TestDirCacheAdaptiveTTLExpires(t *testing.T) {
	c := NewDirCache(time.Millisecond)
	d := c.New("/source/foo")
	for i := 0; i < 3; i++ {
		c.Append(d, "entry", false)
	}
	time.Sleep(5 * time.Millisecond)
	assert.Nil(t, c.Find("/source/foo"))
}

func TestDirCacheModifiedNeverEvicted(t *testing.T) {
	c := NewDirCache(time.Millisecond)
	c.New("/source/foo")
	c.IncModified("/source/foo", 1)
	time.Sleep(5 * time.Millisecond)
	assert.NotNil(t, c.Find("/source/foo"))
}

func TestDirCacheIncModifiedFloorsAtZero(t *testing.T) {
	c := NewDirCache(time.Minute)
	c.New("/source/foo")
	c.IncModified("/source/foo", -5)
	assert.Equal(t, 0, c.Find("/source/foo").Modified)
}

func TestDirCacheRemoveTargetsParent(t *testing.T) {
	c := NewDirCache(time.Minute)
	d := c.New("/source/foo")
	c.Append(d, "bar.spec", false)
	c.Append(d, "baz.spec", false)

	c.Remove("/source/foo/bar.spec")

	found := c.Find("/source/foo")
	require.NotNil(t, found)
	require.Len(t, found.Entries, 1)
	assert.Equal(t, "baz.spec", found.Entries[0].Name)
}

func TestDirCacheAddName(t *testing.T) {
	c := NewDirCache(time.Minute)
	c.New("/source/foo")
	c.AddName("/source/foo", "new.spec", false)

	found := c.Find("/source/foo")
	require.NotNil(t, found)
	assert.Equal(t, "new.spec", found.Entries[0].Name)
}

func TestDirCacheFreeAll(t *testing.T) {
	c := NewDirCache(time.Minute)
	c.New("/a")
	c.New("/b")
	c.FreeAll()
	assert.Equal(t, 0, c.Len())
}
