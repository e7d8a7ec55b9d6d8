package obsfs

import (
	"path"
	"sync"
	"time"
)

// DirTTL is the base directory-listing TTL. The effective TTL grows with
// entry count (one extra second per ten entries) because large
// directories are expensive to refetch.
const DirTTL = 20 * time.Second

// DirEntry is one (name, is_dir) pair inside a Dir listing.
type DirEntry struct {
	Name  string
	IsDir bool
}

// Dir is one cached directory listing.
type Dir struct {
	Path string

	Entries []DirEntry

	// Rev is the source revision attribute recorded on the container
	// element, if any (source trees only).
	Rev string

	// Modified counts dirty children not yet flushed. A Dir with
	// Modified > 0 is never evicted by TTL.
	Modified int

	timestamp time.Time
}

// DirCache maps virtual path to Dir, with an adaptive TTL and per-name
// removal (removal targets the *parent* directory's entry list, per
// spec: unlinking a file must update the listing the kernel will see on
// the next readdir of its parent).
type DirCache struct {
	mu      sync.Mutex
	entries map[string]*Dir
	baseTTL time.Duration
}

func NewDirCache(baseTTL time.Duration) *DirCache {
	if baseTTL <= 0 {
		baseTTL = DirTTL
	}
	return &DirCache{entries: make(map[string]*Dir), baseTTL: baseTTL}
}

func (c *DirCache) effectiveTTL(numEntries int) time.Duration {
	return c.baseTTL + time.Duration(numEntries/10)*time.Second
}

// New starts a fresh (empty) Dir entry for path, replacing any existing
// one, and returns it for the caller to populate via Append. The Dir is
// registered before it is filled in and is built in place, so readers see
// it immediately, matching the original's dir_cache_new().
func (c *DirCache) New(path string) *Dir {
	d := &Dir{Path: path, timestamp: time.Now()}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = d
	return d
}

// Append adds one entry to dir's listing. dir must have been obtained
// from New (or Find) on this cache.
func (c *DirCache) Append(dir *Dir, name string, isDir bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dir.Entries = append(dir.Entries, DirEntry{Name: name, IsDir: isDir})
}

// SetRev records the container's rev attribute on dir.
func (c *DirCache) SetRev(dir *Dir, rev string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dir.Rev = rev
}

// Find returns the cached Dir for path, evicting it first if its
// adaptive TTL has elapsed and it has no dirty children.
func (c *DirCache) Find(path string) *Dir {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.entries[path]
	if !ok {
		return nil
	}
	if d.Modified == 0 && time.Since(d.timestamp) > c.effectiveTTL(len(d.Entries)) {
		delete(c.entries, path)
		return nil
	}
	return d
}

// IncModified bumps the dirty-child counter for the directory cached at
// path, if present.
func (c *DirCache) IncModified(dirPath string, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.entries[dirPath]; ok {
		d.Modified += delta
		if d.Modified < 0 {
			d.Modified = 0
		}
	}
}

// AddName appends a name to the directory cached at dirPath, if present,
// used by Create to make a newly created file show up in its parent's
// listing immediately.
func (c *DirCache) AddName(dirPath, name string, isDir bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.entries[dirPath]; ok {
		d.Entries = append(d.Entries, DirEntry{Name: name, IsDir: isDir})
	}
}

// Remove deletes the child named by basename(p) from p's parent
// directory's cached entry list, mirroring the original's
// dir_cache_remove(): it never removes the Dir entry keyed by p itself.
func (c *DirCache) Remove(p string) {
	dir := path.Dir(p)
	base := path.Base(p)
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.entries[dir]
	if !ok {
		return
	}
	for i, e := range d.Entries {
		if e.Name == base {
			d.Entries = append(d.Entries[:i], d.Entries[i+1:]...)
			return
		}
	}
}

// FreeAll drops every cached directory listing, used at unmount.
func (c *DirCache) FreeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Dir)
}

// Len reports the number of cached directories, for diagnostics.
func (c *DirCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
