package obsfs

import (
	"sync"
	"syscall"
	"time"
)

// AttrTTL is how long an unmodified Attr stays valid before a lookup
// evicts it. Attributes on the build service change rarely, so this is
// much longer than DirTTL.
const AttrTTL = 3600 * time.Second

// Attr is one virtual inode: its stat data, and the link information that
// lets FileEngine find the bytes it is made of.
type Attr struct {
	Path string

	Mode  uint32
	Size  int64
	Nlink uint32
	Mtime time.Time
	Uid   uint32
	Gid   uint32

	// Symlink, if non-empty, is the target of a symbolic link. Mode must
	// be S_IFLNK whenever this is set.
	Symlink string

	// Hardlink, if non-empty, is the virtual path whose *contents* back
	// this node (e.g. "_failed/<pkg>" aliasing "<pkg>/_log"). Mode must
	// be a regular file whenever this is set.
	Hardlink string

	// Rev is the source revision to attach as ?rev= on file GETs for
	// this node, so the bytes retrieved match the directory listing
	// that introduced the node.
	Rev string

	// Modified marks local changes not yet flushed to the server. A
	// modified Attr is never evicted by TTL.
	Modified bool

	timestamp time.Time
}

func (a *Attr) IsDir() bool     { return a.Mode&syscall.S_IFMT == syscall.S_IFDIR }
func (a *Attr) IsSymlink() bool { return a.Mode&syscall.S_IFMT == syscall.S_IFLNK }

// AttrCache maps virtual path to Attr, with TTL expiry and explicit
// removal. It owns its entries outright: links between nodes are plain
// path strings, never pointers, so the cache can free or evict any entry
// without having to chase down referents (see DESIGN.md on cyclic
// aliasing).
type AttrCache struct {
	mu      sync.Mutex
	entries map[string]*Attr
	ttl     time.Duration
}

func NewAttrCache(ttl time.Duration) *AttrCache {
	if ttl <= 0 {
		ttl = AttrTTL
	}
	return &AttrCache{entries: make(map[string]*Attr), ttl: ttl}
}

// Add inserts or overwrites the Attr at path. The caller's zero value for
// Path is ignored; Add always sets it to path.
func (c *AttrCache) Add(path string, a Attr) *Attr {
	a.Path = path
	a.timestamp = time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := a
	c.entries[path] = &stored
	return &stored
}

// Find returns a copy of the cached Attr for path, evicting it first if
// it has expired and is not modified. Returns nil on a miss.
func (c *AttrCache) Find(path string) *Attr {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.entries[path]
	if !ok {
		return nil
	}
	if !a.Modified && time.Since(a.timestamp) > c.ttl {
		delete(c.entries, path)
		return nil
	}
	cp := *a
	return &cp
}

// Remove evicts path unconditionally with a plain delete; no expiry check
// is made first. Calling Remove on an absent or already-expired entry is a
// harmless no-op, not an error.
func (c *AttrCache) Remove(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}

// SetModified flips the Modified flag on path's cached Attr, if present,
// and returns whether it was found.
func (c *AttrCache) SetModified(path string, modified bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.entries[path]
	if !ok {
		return false
	}
	a.Modified = modified
	return true
}

// GrowSize extends the cached size for path if newSize is larger than the
// current value, used by FileEngine.Write when a write extends the file.
func (c *AttrCache) GrowSize(path string, newSize int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.entries[path]; ok && newSize > a.Size {
		a.Size = newSize
	}
}

// IncNlink bumps the link count for the directory cached at path, used
// when a new child directory is inserted underneath it.
func (c *AttrCache) IncNlink(path string, delta int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.entries[path]; ok {
		n := int32(a.Nlink) + delta
		if n < 0 {
			n = 0
		}
		a.Nlink = uint32(n)
	}
}

// SetSize overwrites the cached size unconditionally, used after a file
// transfer completes and the real size is known.
func (c *AttrCache) SetSize(path string, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.entries[path]; ok {
		a.Size = size
	}
}

// FreeAll drops every cached entry, used at unmount.
func (c *AttrCache) FreeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Attr)
}

// Len reports the number of cached attributes, for diagnostics.
func (c *AttrCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
