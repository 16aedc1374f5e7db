// Package mount bridges edfs's path-based core to the inode-ID kernel
// protocol github.com/jacobsa/fuse speaks.
package mount

import (
	"context"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"golang.org/x/xerrors"

	"github.com/leiden-edu/edfs/edfs"
)

const rootInode = fuseops.InodeID(fuseops.RootInodeID)

// never is the FUSE attribute/entry expiration for cache entries that
// should not expire.
var never = time.Now().Add(365 * 24 * time.Hour)

// fuseFS implements fuseutil.FileSystem over a single edfs.FS. It
// maintains a path cache keyed by inode ID because the core is
// strictly path-based while the kernel protocol is strictly
// inode-ID-based; edfs's on-disk Inumber is reused directly as the
// FUSE InodeID, so root (FUSE's fixed InodeID 1) must line up with
// edfs's configured root inumber.
type fuseFS struct {
	fuseutil.NotImplementedFileSystem

	fs *edfs.FS

	// mu serializes every call into fs. jacobsa/fuse dispatches each op
	// on its own goroutine (see fuseutil.FileSystem's doc comment); the
	// core itself assumes a single-threaded cooperative caller, so this
	// mutex is the adapter's resource-model translation, not a core
	// concern.
	mu sync.Mutex

	// paths maps an inode ID (== edfs.Inumber) to one absolute path that
	// currently names it. Multiple paths can alias one inumber only via
	// hard links, which edfs does not support, so one path per inode
	// suffices.
	paths map[fuseops.InodeID]string
}

// New constructs the adapter around fs and registers the root path.
func New(fs *edfs.FS) fuseutil.FileSystem {
	return &fuseFS{
		fs: fs,
		paths: map[fuseops.InodeID]string{
			rootInode: "/",
		},
	}
}

func (fs *fuseFS) pathOf(id fuseops.InodeID) (string, bool) {
	p, ok := fs.paths[id]
	return p, ok
}

func childPath(parent string, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

func attrsFromAttr(a edfs.Attr) fuseops.InodeAttributes {
	mode := os.FileMode(0644)
	if a.IsDir {
		mode = os.ModeDir | 0755
	}
	now := time.Now()
	return fuseops.InodeAttributes{
		Size:  a.Size,
		Nlink: a.Nlink,
		Mode:  mode,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
}

func translateErr(err error) error {
	switch err {
	case nil:
		return nil
	case edfs.ErrNotFound:
		return fuse.ENOENT
	case edfs.ErrNotDir:
		return syscall.ENOTDIR
	case edfs.ErrIsDir:
		return syscall.EISDIR
	case edfs.ErrNotEmpty:
		return syscall.ENOTEMPTY
	case edfs.ErrExist:
		return syscall.EEXIST
	case edfs.ErrNoSpace:
		return syscall.ENOSPC
	case edfs.ErrTooBig:
		return syscall.EFBIG
	case edfs.ErrInvalid:
		return syscall.EINVAL
	case edfs.ErrIO:
		return fuse.EIO
	case edfs.ErrNoMem:
		return syscall.ENOMEM
	default:
		return fuse.EIO
	}
}

func (fs *fuseFS) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	return nil
}

func (fs *fuseFS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parentPath, ok := fs.pathOf(op.Parent)
	if !ok {
		return fuse.EIO
	}
	path := childPath(parentPath, op.Name)

	attr, err := fs.fs.GetAttr(path)
	if err != nil {
		return translateErr(err)
	}

	id := fuseops.InodeID(attr.Inumber)
	fs.paths[id] = path

	op.Entry.Child = id
	op.Entry.Attributes = attrsFromAttr(attr)
	op.Entry.AttributesExpiration = never
	op.Entry.EntryExpiration = never
	return nil
}

func (fs *fuseFS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path, ok := fs.pathOf(op.Inode)
	if !ok {
		return fuse.ENOENT
	}

	attr, err := fs.fs.GetAttr(path)
	if err != nil {
		return translateErr(err)
	}

	op.Attributes = attrsFromAttr(attr)
	op.AttributesExpiration = never
	return nil
}

func (fs *fuseFS) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path, ok := fs.pathOf(op.Inode)
	if !ok {
		return fuse.ENOENT
	}

	if op.Mode != nil {
		if err := fs.fs.Chmod(path, uint32(*op.Mode)); err != nil {
			return translateErr(err)
		}
	}
	if op.Size != nil {
		if err := fs.fs.Truncate(path, int64(*op.Size)); err != nil {
			return translateErr(err)
		}
	}
	if op.Mtime != nil {
		if err := fs.fs.Utime(path, 0, op.Mtime.Unix()); err != nil {
			return translateErr(err)
		}
	}

	attr, err := fs.fs.GetAttr(path)
	if err != nil {
		return translateErr(err)
	}
	op.Attributes = attrsFromAttr(attr)
	op.AttributesExpiration = never
	return nil
}

func (fs *fuseFS) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if op.Inode != rootInode {
		delete(fs.paths, op.Inode)
	}
	return nil
}

func (fs *fuseFS) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parentPath, ok := fs.pathOf(op.Parent)
	if !ok {
		return fuse.EIO
	}
	path := childPath(parentPath, op.Name)

	if err := fs.fs.Mkdir(path); err != nil {
		return translateErr(err)
	}

	attr, err := fs.fs.GetAttr(path)
	if err != nil {
		return translateErr(err)
	}
	id := fuseops.InodeID(attr.Inumber)
	fs.paths[id] = path

	op.Entry.Child = id
	op.Entry.Attributes = attrsFromAttr(attr)
	op.Entry.AttributesExpiration = never
	op.Entry.EntryExpiration = never
	return nil
}

func (fs *fuseFS) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parentPath, ok := fs.pathOf(op.Parent)
	if !ok {
		return fuse.EIO
	}
	path := childPath(parentPath, op.Name)

	if err := fs.fs.Create(path); err != nil {
		return translateErr(err)
	}

	attr, err := fs.fs.GetAttr(path)
	if err != nil {
		return translateErr(err)
	}
	id := fuseops.InodeID(attr.Inumber)
	fs.paths[id] = path

	op.Entry.Child = id
	op.Entry.Attributes = attrsFromAttr(attr)
	op.Entry.AttributesExpiration = never
	op.Entry.EntryExpiration = never
	return nil
}

func (fs *fuseFS) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parentPath, ok := fs.pathOf(op.Parent)
	if !ok {
		return fuse.EIO
	}
	return translateErr(fs.fs.Rmdir(childPath(parentPath, op.Name)))
}

func (fs *fuseFS) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parentPath, ok := fs.pathOf(op.Parent)
	if !ok {
		return fuse.EIO
	}
	return translateErr(fs.fs.Unlink(childPath(parentPath, op.Name)))
}

func (fs *fuseFS) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path, ok := fs.pathOf(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	if _, err := fs.fs.ReadDir(path); err != nil {
		return translateErr(err)
	}
	return nil
}

func (fs *fuseFS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path, ok := fs.pathOf(op.Inode)
	if !ok {
		return fuse.ENOENT
	}

	names, err := fs.fs.ReadDir(path)
	if err != nil {
		return translateErr(err)
	}

	var entries []fuseutil.Dirent
	for _, name := range names {
		childID := op.Inode
		typ := fuseutil.DT_Directory
		switch name {
		case ".":
		case "..":
		default:
			cp := childPath(path, name)
			attr, err := fs.fs.GetAttr(cp)
			if err != nil {
				continue
			}
			childID = fuseops.InodeID(attr.Inumber)
			fs.paths[childID] = cp
			if !attr.IsDir {
				typ = fuseutil.DT_File
			}
		}
		entries = append(entries, fuseutil.Dirent{
			Offset: fuseops.DirOffset(len(entries) + 1),
			Inode:  childID,
			Name:   name,
			Type:   typ,
		})
	}

	if op.Offset > fuseops.DirOffset(len(entries)) {
		return fuse.EIO
	}
	for _, e := range entries[op.Offset:] {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], e)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (fs *fuseFS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path, ok := fs.pathOf(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	return translateErr(fs.fs.Open(path))
}

func (fs *fuseFS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path, ok := fs.pathOf(op.Inode)
	if !ok {
		return fuse.ENOENT
	}

	n, err := fs.fs.Read(path, op.Dst, op.Offset)
	op.BytesRead = n
	return translateErr(err)
}

func (fs *fuseFS) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path, ok := fs.pathOf(op.Inode)
	if !ok {
		return fuse.ENOENT
	}

	_, err := fs.fs.Write(path, op.Data, op.Offset)
	return translateErr(err)
}

func (fs *fuseFS) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	return nil
}

func (fs *fuseFS) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	return nil
}

func (fs *fuseFS) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	return nil
}

func (fs *fuseFS) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	return nil
}

// Config controls the mount call below.
type Config struct {
	Debug bool
}

// Mount opens the image at imagePath and mounts it at mountpoint. It
// returns a join function that blocks until the filesystem is
// unmounted.
func Mount(ctx context.Context, imagePath, mountpoint string, cfg Config) (join func(context.Context) error, err error) {
	img, err := edfs.Open(imagePath, true)
	if err != nil {
		return nil, err
	}

	// Inumbers double as FUSE inode IDs, so the image's root must sit
	// at the kernel's fixed root ID.
	if img.Super.RootInumber != uint32(fuseops.RootInodeID) {
		img.Close()
		return nil, xerrors.Errorf("image root inumber %d does not match FUSE root inode %d",
			img.Super.RootInumber, fuseops.RootInodeID)
	}

	core := &edfs.FS{Img: img}
	server := fuseutil.NewFileSystemServer(New(core))

	mountCfg := &fuse.MountConfig{
		FSName: "edfs",
	}
	if cfg.Debug {
		mountCfg.DebugLogger = newDebugLogger()
	}

	mfs, err := fuse.Mount(mountpoint, server, mountCfg)
	if err != nil {
		img.Close()
		return nil, err
	}

	join = func(ctx context.Context) error {
		defer img.Close()
		return mfs.Join(ctx)
	}
	return join, nil
}
