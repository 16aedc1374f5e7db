package edfs

// FS composes the layers below into the externally visible operation
// handlers. It holds the single open Image and assumes a
// single-threaded cooperative caller, so it carries no lock;
// serializing concurrent callers is the mount layer's job.
type FS struct {
	Img *Image
}

// Attr is the result of GetAttr.
type Attr struct {
	IsDir   bool
	Nlink   uint32
	Size    uint64
	Inumber Inumber
}

// GetAttr returns the type, link count, size and inumber of path.
// Root is special-cased to a directory without a lookup.
func (fs *FS) GetAttr(path string) (Attr, error) {
	if path == "/" {
		root, err := fs.Img.ReadRootInode()
		if err != nil {
			return Attr{}, err
		}
		return Attr{IsDir: true, Nlink: 2, Inumber: root.Inumber}, nil
	}

	in, err := fs.Img.FindInode(path)
	if err != nil {
		return Attr{}, err
	}

	if in.Disk.Type.IsDirectory() {
		return Attr{IsDir: true, Nlink: 2, Inumber: in.Inumber}, nil
	}
	return Attr{IsDir: false, Nlink: 1, Size: uint64(in.Disk.Size), Inumber: in.Inumber}, nil
}

// ReadDir requires a directory inode and always emits "." and ".."
// synthetically ahead of every non-empty entry's filename.
func (fs *FS) ReadDir(path string) ([]string, error) {
	in, err := fs.Img.FindInode(path)
	if err != nil {
		return nil, err
	}
	if !in.Disk.Type.IsDirectory() {
		return nil, ErrNotDir
	}

	names := []string{".", ".."}
	for _, de := range fs.Img.ScanDir(in) {
		names = append(names, nameOf(de))
	}
	return names, nil
}

func nameOf(de DirEntry) string { return de.name() }

// Open verifies path exists and names a file. No per-open state is
// kept.
func (fs *FS) Open(path string) error {
	in, err := fs.Img.FindInode(path)
	if err != nil {
		return err
	}
	if in.Disk.Type.IsDirectory() {
		return ErrIsDir
	}
	return nil
}

// Create resolves path's parent, rejects a non-directory parent or an
// existing basename, then allocates and inserts a zero-length file.
func (fs *FS) Create(path string) error {
	parent, base, err := fs.Img.GetParentAndBasename(path)
	if err != nil {
		return err
	}
	if !parent.Disk.Type.IsDirectory() {
		return ErrNotDir
	}
	if len(base) >= FilenameSize {
		return ErrInvalid
	}

	existing, err := fs.Img.LookupDir(parent, base)
	if err != nil {
		return err
	}
	if existing != 0 {
		return ErrExist
	}

	child, err := fs.Img.NewInode(TypeFile)
	if err != nil {
		return err
	}
	if err := fs.Img.WriteInode(child); err != nil {
		return err
	}

	return fs.Img.InsertDir(parent, base, child.Inumber)
}

// Mkdir is identical in shape to Create except the new inode is a
// directory; "." and ".." are never stored, only synthesised by
// ReadDir.
func (fs *FS) Mkdir(path string) error {
	parent, base, err := fs.Img.GetParentAndBasename(path)
	if err != nil {
		return err
	}
	if !parent.Disk.Type.IsDirectory() {
		return ErrNotDir
	}
	if len(base) >= FilenameSize {
		return ErrInvalid
	}

	existing, err := fs.Img.LookupDir(parent, base)
	if err != nil {
		return err
	}
	if existing != 0 {
		return ErrExist
	}

	child, err := fs.Img.NewInode(TypeDirectory)
	if err != nil {
		return err
	}
	if err := fs.Img.WriteInode(child); err != nil {
		return err
	}

	return fs.Img.InsertDir(parent, base, child.Inumber)
}

// Unlink requires a file. It frees every allocated data block (and,
// in indirect mode, the indirect blocks themselves), then removes the
// directory entry, then clears the inode. The inode is cleared only
// after the entry is removed, so it cannot be reused while a name
// still points at it.
func (fs *FS) Unlink(path string) error {
	in, err := fs.Img.FindInode(path)
	if err != nil {
		return err
	}
	if in.Disk.Type.IsDirectory() {
		return ErrIsDir
	}

	if err := fs.freeInodeBlocks(in); err != nil {
		return err
	}

	parent, _, err := fs.Img.GetParentAndBasename(path)
	if err != nil {
		return err
	}
	if err := fs.Img.RemoveDirEntry(parent, in.Inumber); err != nil {
		return err
	}

	return fs.Img.ClearInode(in)
}

// freeInodeBlocks releases every block owned by in: for indirect
// inodes, every live entry of each indirect block followed by the
// indirect block itself; for direct inodes, each live direct block.
func (fs *FS) freeInodeBlocks(in *Inode) error {
	if in.Disk.Type.HasIndirect() {
		for slot := 0; slot < NBlocks; slot++ {
			indBlk := in.Disk.block(slot)
			if indBlk == InvalidBlock {
				continue
			}
			array, err := fs.Img.readIndirect(indBlk)
			if err != nil {
				return err
			}
			for _, b := range array {
				if b != InvalidBlock {
					if err := fs.Img.FreeBlock(b); err != nil {
						return err
					}
				}
			}
			if err := fs.Img.FreeBlock(indBlk); err != nil {
				return err
			}
		}
		return nil
	}

	for slot := 0; slot < NBlocks; slot++ {
		blk := in.Disk.block(slot)
		if blk != InvalidBlock {
			if err := fs.Img.FreeBlock(blk); err != nil {
				return err
			}
		}
	}
	return nil
}

// Rmdir requires an empty directory. It removes the entry from the
// parent, frees the directory blocks it still owns (removing an entry
// only zeroes it, so a directory keeps every block it grew even once
// empty) and clears the inode.
func (fs *FS) Rmdir(path string) error {
	target, err := fs.Img.FindInode(path)
	if err != nil {
		return err
	}
	if !target.Disk.Type.IsDirectory() {
		return ErrNotDir
	}

	for range fs.Img.ScanDir(target) {
		return ErrNotEmpty
	}

	parent, _, err := fs.Img.GetParentAndBasename(path)
	if err != nil {
		return err
	}
	if err := fs.Img.RemoveDirEntry(parent, target.Inumber); err != nil {
		return err
	}

	if err := fs.freeInodeBlocks(target); err != nil {
		return err
	}

	return fs.Img.ClearInode(target)
}

// Read requires a file. Reads past end-of-file return 0 bytes; the
// request is otherwise clamped to size-off before being serviced
// block by block.
func (fs *FS) Read(path string, buf []byte, off int64) (int, error) {
	in, err := fs.Img.FindInode(path)
	if err != nil {
		return 0, err
	}
	if in.Disk.Type.IsDirectory() {
		return 0, ErrIsDir
	}

	size := int64(in.Disk.Size)
	if off >= size {
		return 0, nil
	}
	if want := size - off; int64(len(buf)) > want {
		buf = buf[:want]
	}

	bs := int64(fs.Img.Super.BlockSize)
	total := 0
	for total < len(buf) {
		blk, inBlockOff, err := fs.Img.BlockForOffset(in, off+int64(total))
		if err != nil {
			if total > 0 {
				return total, nil
			}
			return 0, err
		}

		chunk := bs - inBlockOff
		remaining := int64(len(buf) - total)
		if chunk > remaining {
			chunk = remaining
		}

		n, err := fs.Img.ReadAt(buf[total:int64(total)+chunk], fs.Img.Super.BlockOffset(blk)+inBlockOff)
		if err != nil || int64(n) != chunk {
			if total > 0 {
				return total, nil
			}
			return 0, ErrIO
		}
		total += n
	}

	return total, nil
}

// Write requires a file. Each touched block is ensured via
// EnsureBlock before the positioned write; on completion, if the
// write extended the file, size is updated and the inode flushed.
func (fs *FS) Write(path string, buf []byte, off int64) (int, error) {
	in, err := fs.Img.FindInode(path)
	if err != nil {
		return 0, err
	}
	if in.Disk.Type.IsDirectory() {
		return 0, ErrIsDir
	}

	bs := int64(fs.Img.Super.BlockSize)
	total := 0
	for total < len(buf) {
		pos := off + int64(total)
		idx := uint32(pos / bs)
		inBlockOff := pos % bs

		blk, err := fs.Img.EnsureBlock(in, idx)
		if err != nil {
			if total > 0 {
				return total, nil
			}
			return 0, err
		}

		chunk := bs - inBlockOff
		remaining := int64(len(buf) - total)
		if chunk > remaining {
			chunk = remaining
		}

		n, err := fs.Img.WriteAt(buf[total:int64(total)+chunk], fs.Img.Super.BlockOffset(blk)+inBlockOff)
		if err != nil || int64(n) != chunk {
			if total > 0 {
				return total, nil
			}
			return 0, ErrIO
		}
		total += n
	}

	if off+int64(total) > int64(in.Disk.Size) {
		in.Disk.Size = uint32(off + int64(total))
		if err := fs.Img.WriteInode(in); err != nil {
			return total, err
		}
	}

	return total, nil
}

// Truncate requires a file. Growing ensures the tail block exists
// (the newly exposed span's contents are unspecified); shrinking
// frees each whole block beyond the new size. Indirect blocks that
// become empty are not released.
func (fs *FS) Truncate(path string, newSize int64) error {
	if newSize < 0 {
		return ErrInvalid
	}

	in, err := fs.Img.FindInode(path)
	if err != nil {
		return err
	}
	if in.Disk.Type.IsDirectory() {
		return ErrIsDir
	}

	bs := int64(fs.Img.Super.BlockSize)
	oldSize := int64(in.Disk.Size)

	if newSize > oldSize {
		if newSize != 0 {
			lastIdx := uint32((newSize - 1) / bs)
			if _, err := fs.Img.EnsureBlock(in, lastIdx); err != nil {
				return err
			}
		}
	} else {
		oldLast := (oldSize + bs - 1) / bs
		newLast := (newSize + bs - 1) / bs
		for i := newLast; i < oldLast; i++ {
			blk, _, err := fs.Img.BlockForOffset(in, i*bs)
			if err == nil {
				if err := fs.Img.FreeBlock(blk); err != nil {
					return err
				}
				if !in.Disk.Type.HasIndirect() {
					in.Disk.setBlock(int(i), InvalidBlock)
					continue
				}
				per := int64(fs.Img.Super.BlocksPerIndirect())
				indBlk := in.Disk.block(int(i / per))
				array, err := fs.Img.readIndirect(indBlk)
				if err != nil {
					return err
				}
				array[i%per] = InvalidBlock
				if err := fs.Img.writeIndirect(indBlk, array); err != nil {
					return err
				}
			}
		}
	}

	in.Disk.Size = uint32(newSize)
	return fs.Img.WriteInode(in)
}

// Chmod, Chown and Utime accept and discard their inputs.
func (fs *FS) Chmod(path string, mode uint32) error        { return nil }
func (fs *FS) Chown(path string, uid, gid uint32) error    { return nil }
func (fs *FS) Utime(path string, atime, mtime int64) error { return nil }
