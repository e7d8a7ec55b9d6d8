package obsfs

import (
	"context"
	"hash/fnv"
	"os"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// vnode is the single go-fuse node type for the whole mount: every
// virtual path, whether a real directory, a synthetic one, a plain file,
// a symlink, or a hardlink, is represented by one of these, carrying
// only its own path and a reference to the shared Core. This mirrors the
// teacher's loopbackNode (one node type embedding fs.Inode, dispatching
// everything through a path derived on demand) generalized from a local
// directory tree to Core's virtual one.
type vnode struct {
	fs.Inode
	core  *Core
	vpath string
}

var _ fs.InodeEmbedder = (*vnode)(nil)

func newVnode(core *Core, vpath string) *vnode {
	return &vnode{core: core, vpath: vpath}
}

// NewRootNode builds the "/" node handed to fs.Mount.
func NewRootNode(core *Core) fs.InodeEmbedder {
	return newVnode(core, "/")
}

// ino derives a stable-enough inode number from the virtual path; obsfs
// has no numeric identity of its own to hand out (the build service
// addresses everything by path), so this is a pure function of vpath,
// the same choice the original C implementation makes implicitly by
// never populating st_ino at all.
func ino(vpath string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(vpath))
	return h.Sum64()
}

func attrToStat(a *Attr) syscall.Stat_t {
	var st syscall.Stat_t
	st.Mode = a.Mode
	st.Size = a.Size
	st.Nlink = uint64(a.Nlink)
	st.Uid = a.Uid
	st.Gid = a.Gid
	st.Ino = ino(a.Path)
	sec := a.Mtime.Unix()
	st.Mtim = syscall.Timespec{Sec: sec}
	st.Atim = st.Mtim
	st.Ctim = st.Mtim
	return st
}

func (n *vnode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	a, err := n.core.Getattr(n.vpath)
	if err != nil {
		return errnoOf(err)
	}
	st := attrToStat(a)
	out.FromStat(&st)
	out.SetTimeout(AttrTTL)
	return 0
}

func (n *vnode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child := joinVirtual(n.vpath, name)
	a, err := n.core.Getattr(child)
	if err != nil {
		return nil, errnoOf(err)
	}
	st := attrToStat(a)
	out.FromStat(&st)
	out.SetEntryTimeout(entryTimeoutFor(a))
	out.SetAttrTimeout(AttrTTL)

	node := newVnode(n.core, child)
	return n.NewInode(ctx, node, fs.StableAttr{Mode: a.Mode, Ino: st.Ino}), 0
}

// entryTimeoutFor mirrors the original's hardcoded attr_timeout=0 for
// mutable directory listings: a node whose stat data was just
// reconstructed from a live (or about-to-expire) Dir shouldn't let the
// kernel assume the entry itself is stable for as long as file
// attributes are.
func entryTimeoutFor(a *Attr) time.Duration {
	if a.IsDir() {
		return DirTTL
	}
	return AttrTTL
}

type dirStream struct {
	entries []DirEntry
	index   int
}

func (s *dirStream) HasNext() bool { return s.index < len(s.entries) }

func (s *dirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if !s.HasNext() {
		return fuse.DirEntry{}, syscall.ENOENT
	}
	e := s.entries[s.index]
	s.index++
	mode := uint32(syscall.S_IFREG)
	if e.IsDir {
		mode = syscall.S_IFDIR
	}
	return fuse.DirEntry{Name: e.Name, Mode: mode}, 0
}

func (s *dirStream) Close() {}

func (n *vnode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := n.core.Readdir(n.vpath)
	if err != nil {
		return nil, errnoOf(err)
	}
	return &dirStream{entries: entries}, 0
}

func (n *vnode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, err := n.core.Readlink(n.vpath)
	if err != nil {
		return nil, errnoOf(err)
	}
	return []byte(target), 0
}

type fileHandle struct {
	core  *Core
	vpath string
	f     *os.File
}

func (n *vnode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	f, err := n.core.Open(n.vpath)
	if err != nil {
		return nil, 0, errnoOf(err)
	}
	return &fileHandle{core: n.core, vpath: n.vpath, f: f}, 0, 0
}

func (n *vnode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	child := joinVirtual(n.vpath, name)
	f, err := n.core.Create(child, mode)
	if err != nil {
		return nil, nil, 0, errnoOf(err)
	}

	a, _ := n.core.Getattr(child)
	if a != nil {
		st := attrToStat(a)
		out.FromStat(&st)
	}
	out.SetEntryTimeout(AttrTTL)
	out.SetAttrTimeout(AttrTTL)

	node := newVnode(n.core, child)
	inode := n.NewInode(ctx, node, fs.StableAttr{Mode: syscall.S_IFREG, Ino: ino(child)})
	return inode, &fileHandle{core: n.core, vpath: child, f: f}, 0, 0
}

func (n *vnode) Unlink(ctx context.Context, name string) syscall.Errno {
	child := joinVirtual(n.vpath, name)
	if err := n.core.Unlink(child); err != nil {
		return errnoOf(err)
	}
	return 0
}

func (n *vnode) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		if err := n.core.Truncate(n.vpath, int64(size)); err != nil {
			return errnoOf(err)
		}
	}
	a, err := n.core.Getattr(n.vpath)
	if err != nil {
		return errnoOf(err)
	}
	st := attrToStat(a)
	out.FromStat(&st)
	return 0
}

func (fh *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := fh.f.ReadAt(dest, off)
	if err != nil && n == 0 {
		return nil, errnoOf(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (fh *fileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := fh.core.Write(fh.vpath, fh.f, data, off)
	if err != nil {
		return uint32(n), errnoOf(err)
	}
	return uint32(n), 0
}

func (fh *fileHandle) Flush(ctx context.Context) syscall.Errno {
	if err := fh.core.Flush(fh.vpath, fh.f); err != nil {
		return errnoOf(err)
	}
	return 0
}

func (fh *fileHandle) Release(ctx context.Context) syscall.Errno {
	return errnoOf(fh.f.Close())
}

// errnoOf extracts a syscall.Errno from err, defaulting to EIO for
// anything it doesn't otherwise recognize (network failures, XML
// decode errors, and the like), matching the original's blanket
// "curl error -> EIO" fallback.
func errnoOf(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if asErrno(err, &errno) {
		return errno
	}
	if os.IsNotExist(err) {
		return syscall.ENOENT
	}
	return syscall.EIO
}

func asErrno(err error, target *syscall.Errno) bool {
	type unwrapper interface{ Unwrap() error }
	for e := err; e != nil; {
		if errno, ok := e.(syscall.Errno); ok {
			*target = errno
			return true
		}
		u, ok := e.(unwrapper)
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}
