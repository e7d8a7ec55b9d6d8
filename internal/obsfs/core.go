package obsfs

import (
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// FileCacheTTL bounds how long an unmodified file is kept in the local
// disk cache before a fresh open discards and re-fetches it. The
// original source references a FILE_CACHE_TIMEOUT constant whose
// definition wasn't present in the retrieved sources; 3600s (matching
// AttrTTL, the other "content rarely changes" timeout) is used here —
// see DESIGN.md.
const FileCacheTTL = 3600 * time.Second

// Core is the directory/attribute engine: everything the FUSE adapter
// needs to answer getattr, readdir, readlink, and file I/O, independent
// of go-fuse's own types. One Core instance serves one mount.
//
// A single coarse mutex serializes every operation, including the HTTP
// round trip underneath a cache miss — matching the original
// implementation's single-threaded-per-call structure. This is the
// conservative, easy-to-reason-about choice; per-path request
// coalescing (so two concurrent misses on the same directory only hit
// the network once) is left as a possible future refinement, not
// implemented here (see DESIGN.md Open Questions).
type Core struct {
	mu sync.Mutex

	attrs      *AttrCache
	dirs       *DirCache
	classifier *PathClassifier
	client     *Client
	parser     *XMLDirParser

	cacheDir string
	uid, gid uint32
	log      *logrus.Entry
	activity *ActivityLog
}

func NewCore(cacheDir string, client *Client, username string, log *logrus.Entry) *Core {
	return &Core{
		attrs:      NewAttrCache(AttrTTL),
		dirs:       NewDirCache(DirTTL),
		classifier: NewPathClassifier(username),
		client:     client,
		parser:     NewXMLDirParser(),
		cacheDir:   cacheDir,
		uid:        uint32(os.Getuid()),
		gid:        uint32(os.Getgid()),
		log:        log,
	}
}

// SetActivityLog attaches a rotating activity log that records cache
// hits and misses; nil disables logging (ActivityLog's methods are all
// nil-receiver safe).
func (c *Core) SetActivityLog(a *ActivityLog) {
	c.activity = a
}

func (c *Core) localPath(virtualPath string) string {
	return filepath.Join(c.cacheDir, filepath.FromSlash(virtualPath))
}

func isRootDir(p string) bool {
	for _, d := range RootDirs {
		if p == "/"+d {
			return true
		}
	}
	return false
}

func joinVirtual(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

// rootAttr is the hardcoded stat data for "/" and its five fixed
// children: the server has no endpoint for any of them, so there is
// nothing to cache or expire.
func (c *Core) rootAttr() Attr {
	return Attr{Mode: syscall.S_IFDIR | 0755, Nlink: 2, Uid: c.uid, Gid: c.gid}
}

// Getattr resolves the stat data for an arbitrary virtual path,
// including the "resolve parent in cache-only mode" fallback used when
// the path itself was never directly fetched.
func (c *Core) Getattr(p string) (*Attr, error) {
	if p == "/" || isRootDir(p) {
		a := c.rootAttr()
		a.Path = p
		return &a, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getattrLocked(p)
}

func (c *Core) getattrLocked(p string) (*Attr, error) {
	if a := c.attrs.Find(p); a != nil {
		c.activity.LogHit("attr", p)
		return a, nil
	}
	c.activity.LogMiss("attr", p, "")
	parent := path.Dir(p)
	if _, err := c.readdirLocked(parent); err != nil {
		return nil, err
	}
	if a := c.attrs.Find(p); a != nil {
		return a, nil
	}
	return nil, syscall.ENOENT
}

// Readlink resolves the symlink target for p, if any.
func (c *Core) Readlink(p string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, err := c.getattrLocked(p)
	if err != nil {
		return "", err
	}
	if a.Symlink == "" {
		return "", syscall.ENOENT
	}
	return a.Symlink, nil
}

// Readdir returns the (possibly cached) listing for a directory,
// fetching and parsing it from the API server if necessary.
func (c *Core) Readdir(p string) ([]DirEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readdirLocked(p)
}

func (c *Core) readdirLocked(p string) ([]DirEntry, error) {
	if p == "/" {
		if d := c.dirs.Find(p); d != nil {
			c.activity.LogHit("dir", p)
			return d.Entries, nil
		}
		plan := c.classifier.Classify(p)
		newDir := c.dirs.New(p)
		for _, se := range plan.Synthetic {
			c.addDirNode(p, newDir, se)
		}
		return newDir.Entries, nil
	}

	if d := c.dirs.Find(p); d != nil {
		c.activity.LogHit("dir", p)
		return d.Entries, nil
	}

	plan := c.classifier.Classify(p)
	c.activity.LogMiss("dir", p, plan.APIPath)
	newDir := c.dirs.New(p)

	if !plan.PureSynthetic {
		body, err := c.client.GetDir(plan.APIPath)
		if err != nil {
			// Matches original_source/obsfs.c's parse_dir(): a curl
			// failure only gets logged, it never aborts the listing.
			// newDir stays empty of real entries, so once its TTL
			// lapses the next Readdir tries the fetch again.
			c.log.Errorf("obsfs: fetching %s: %v", plan.APIPath, err)
			body = nil
		}
		if body != nil {
			parsed, err := c.parser.Parse(body, ParseRequest{
				FSPath:      p,
				APIPath:     plan.APIPath,
				MangledPath: plan.CanonicalPath,
				Filter:      plan.Filter,
			})
			body.Close()
			if err != nil {
				c.log.Errorf("obsfs: parsing %s: %v", plan.APIPath, err)
			} else {
				c.dirs.SetRev(newDir, parsed.Rev)
				for _, pe := range parsed.Entries {
					c.addParsedNode(p, newDir, pe, parsed.Rev)
				}
			}
		}
	}

	for _, se := range plan.Synthetic {
		c.addDirNode(p, newDir, se)
	}

	return newDir.Entries, nil
}

// addDirNode inserts a synthetic (no server-provided size/mtime) entry,
// mirroring original_source/obsfs.c's add_dir_node() for its
// NULL-stat-extras call sites.
func (c *Core) addDirNode(parentPath string, dir *Dir, se SyntheticEntry) {
	c.insertNode(parentPath, dir, se.Name, se.IsDir, "", se.Hardlink, 0, false, time.Time{}, "")
}

func (c *Core) addParsedNode(parentPath string, dir *Dir, pe ParsedEntry, rev string) {
	c.insertNode(parentPath, dir, pe.Name, pe.IsDir, pe.Symlink, pe.Hardlink, pe.Size, pe.HasSize, pe.Mtime, rev)
}

// insertNode is the Go analogue of add_dir_node(): it fills in the FUSE
// directory buffer (the caller does that via the returned Dir.Entries),
// the directory cache, and the attribute cache, working around the same
// "size after refetch" hazard the original documents — if we already
// have a local cached copy of this file, its on-disk size is more
// trustworthy than whatever size the listing reported (or didn't).
func (c *Core) insertNode(parentPath string, dir *Dir, name string, isDir bool, symlink, hardlink string, size int64, hasSize bool, mtime time.Time, rev string) {
	full := joinVirtual(parentPath, name)

	var mode uint32
	var nlink uint32 = 1
	switch {
	case symlink != "":
		mode = syscall.S_IFLNK | 0644
	case isDir:
		mode = syscall.S_IFDIR | 0755
		nlink = 2
	default:
		mode = syscall.S_IFREG | 0644
	}

	if !isDir && symlink == "" {
		if fi, err := os.Stat(c.localPath(full)); err == nil {
			size = fi.Size()
			hasSize = true
		}
	}
	if !hasSize {
		size = 0
	}

	c.attrs.Add(full, Attr{
		Mode:     mode,
		Size:     size,
		Nlink:    nlink,
		Mtime:    mtime,
		Uid:      c.uid,
		Gid:      c.gid,
		Symlink:  symlink,
		Hardlink: hardlink,
		Rev:      rev,
	})
	c.dirs.Append(dir, name, isDir)

	if isDir {
		c.attrs.IncNlink(parentPath, 1)
	}
}

// Open returns a handle onto the local disk-cached copy of p, fetching it
// from the API server first if the cache doesn't already hold a fresh
// copy.
func (c *Core) Open(p string) (*os.File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	local := c.localPath(p)
	at := c.attrs.Find(p)

	if fi, err := os.Stat(local); err == nil {
		if at != nil && !at.Modified && time.Since(fi.ModTime()) > FileCacheTTL {
			os.Remove(local)
		}
	}

	f, err := os.OpenFile(local, os.O_RDWR, 0644)
	if err != nil {
		if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
			return nil, err
		}
		f, err = os.OpenFile(local, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return nil, err
		}

		effectivePath := p
		rev := ""
		if at != nil {
			if at.Hardlink != "" {
				effectivePath = at.Hardlink
			}
			rev = at.Rev
		}

		// obsfs_open() in original_source/obsfs.c ignores curl's return
		// value here and proceeds to dup() whatever landed on disk, empty
		// or partial included. Reproduced as documented source behavior,
		// not corrected: the cache file is left in place either way.
		body, _, err := c.client.GetFile(effectivePath, rev)
		if err != nil {
			c.log.Errorf("obsfs: fetching %s: %v", effectivePath, err)
		} else {
			_, copyErr := io.Copy(f, body)
			body.Close()
			if copyErr != nil {
				c.log.Errorf("obsfs: copying %s: %v", effectivePath, copyErr)
			}
		}
	}

	// Now that we know the real size, correct the attribute cache: the
	// listing that introduced this node may not have known it (the
	// special _history/_reason/_status/_log nodes never do).
	if fi, err := f.Stat(); err == nil {
		c.attrs.SetSize(p, fi.Size())
	}

	return f, nil
}

// Write records a pwrite() into the local cache file and, on the first
// write since the file was last flushed (its Attr not yet Modified),
// marks the file and its parent directory dirty.
func (c *Core) Write(p string, f *os.File, data []byte, offset int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := f.WriteAt(data, offset)
	if err != nil {
		return n, err
	}

	at := c.attrs.Find(p)
	if at == nil {
		return n, syscall.EIO
	}
	if !at.Modified {
		c.attrs.SetModified(p, true)
		c.dirs.IncModified(path.Dir(p), 1)
	}
	c.attrs.GrowSize(p, offset+int64(len(data)))
	return n, nil
}

// Flush uploads a dirty file's contents and interprets the server's
// status response, matching original_source/obsfs.c's obsfs_flush(): an
// unmodified file is a no-op.
func (c *Core) Flush(p string, f *os.File) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	at := c.attrs.Find(p)
	if at == nil {
		return syscall.EIO
	}
	if !at.Modified {
		return nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if err := c.client.PutFile(p, f, fi.Size()); err != nil {
		return err
	}

	c.attrs.SetModified(p, false)
	c.dirs.IncModified(path.Dir(p), -1)
	return nil
}

// Create makes a new, empty local-cache-only file (it is not uploaded
// until Flush). The parent directory's cached listing is updated
// immediately so a subsequent readdir sees it without a round trip, at
// the cost of the same inconsistency window the original documents: the
// name won't exist upstream until flushed.
func (c *Core) Create(p string, mode uint32) (*os.File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	local := c.localPath(p)
	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(local, os.O_CREATE|os.O_RDWR|os.O_TRUNC, os.FileMode(mode))
	if err != nil {
		return nil, err
	}

	c.attrs.Add(p, Attr{Mode: syscall.S_IFREG | mode, Nlink: 1, Uid: c.uid, Gid: c.gid})

	c.dirs.AddName(path.Dir(p), path.Base(p), false)

	return f, nil
}

// Unlink removes a file both locally and upstream, succeeding if either
// side confirms the file is gone — matching the original's
// best-effort-of-both-removals semantics.
func (c *Core) Unlink(p string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.attrs.Remove(p)
	c.dirs.Remove(p)

	localErr := os.Remove(c.localPath(p))
	remoteErr := c.client.Delete(p)
	if remoteErr != nil && localErr != nil {
		return localErr
	}
	return nil
}

// Truncate resizes the local cache file in place; the next Flush will
// upload the new contents.
func (c *Core) Truncate(p string, size int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.Truncate(c.localPath(p), size); err != nil {
		return err
	}
	c.attrs.SetSize(p, size)
	if at := c.attrs.Find(p); at != nil && !at.Modified {
		c.attrs.SetModified(p, true)
		c.dirs.IncModified(path.Dir(p), 1)
	}
	return nil
}
