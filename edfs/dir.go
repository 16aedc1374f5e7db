package edfs

import (
	"bytes"
	"encoding/binary"
	"iter"
)

// DirEntry is a fixed-size directory record. Inumber 0 marks an empty
// slot; Filename is NUL-terminated within its fixed field.
type DirEntry struct {
	Inumber  uint32
	Filename [FilenameSize]byte
}

// DirEntrySize is the fixed on-disk size of a DirEntry record.
const DirEntrySize = 4 + FilenameSize

func (de *DirEntry) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(DirEntrySize)
	if err := binary.Write(buf, binary.LittleEndian, de); err != nil {
		return nil, ErrIO
	}
	return buf.Bytes(), nil
}

func (de *DirEntry) UnmarshalBinary(data []byte) error {
	if len(data) < DirEntrySize {
		return ErrIO
	}
	return binary.Read(bytes.NewReader(data), binary.LittleEndian, de)
}

func (de *DirEntry) isEmpty() bool { return de.Inumber == 0 }

func (de *DirEntry) name() string {
	n := bytes.IndexByte(de.Filename[:], 0)
	if n < 0 {
		n = len(de.Filename)
	}
	return string(de.Filename[:n])
}

func (de *DirEntry) setName(name string) {
	for i := range de.Filename {
		de.Filename[i] = 0
	}
	copy(de.Filename[:], name)
}

// DirPos identifies one directory-entry slot by its block slot (index
// into the owning inode's Blocks[]) and its entry index within that
// block, so a caller that found an entry via ScanDir can write it back
// without rescanning.
type DirPos struct {
	Slot  int
	Index int
}

// ScanDir iterates the directory's allocated blocks, yielding every
// non-empty entry together with its position. Callers stop the scan
// early by breaking out of the range loop.
func (img *Image) ScanDir(dir *Inode) iter.Seq2[DirPos, DirEntry] {
	return func(yield func(DirPos, DirEntry) bool) {
		if !dir.Disk.Type.IsDirectory() {
			return
		}

		entsPerBlock := img.Super.DirEntriesPerBlock()
		buf := make([]byte, img.Super.BlockSize)

		for slot := 0; slot < NBlocks; slot++ {
			blk := dir.Disk.block(slot)
			if blk == InvalidBlock {
				continue
			}
			if err := img.readFull(buf, img.Super.BlockOffset(blk)); err != nil {
				return
			}
			for i := 0; i < entsPerBlock; i++ {
				var de DirEntry
				if de.UnmarshalBinary(buf[i*DirEntrySize:]) != nil {
					return
				}
				if de.isEmpty() {
					continue
				}
				if !yield(DirPos{Slot: slot, Index: i}, de) {
					return
				}
			}
		}
	}
}

// LookupDir returns the inumber of the entry named name in dir, or 0
// if no such entry exists.
func (img *Image) LookupDir(dir *Inode, name string) (Inumber, error) {
	if !dir.Disk.Type.IsDirectory() {
		return 0, ErrNotDir
	}
	for _, de := range img.ScanDir(dir) {
		if de.name() == name {
			return Inumber(de.Inumber), nil
		}
	}
	return 0, nil
}

// InsertDir adds a (name, inumber) entry to dir, growing it by one
// data block if no existing block has a free slot. Insertion does NOT
// check for a duplicate name; callers (Create, Mkdir) must perform an
// explicit LookupDir uniqueness check first.
func (img *Image) InsertDir(dir *Inode, name string, n Inumber) error {
	if len(name) >= FilenameSize {
		return ErrInvalid
	}

	entsPerBlock := img.Super.DirEntriesPerBlock()
	buf := make([]byte, img.Super.BlockSize)

	for slot := 0; slot < NBlocks; slot++ {
		blk := dir.Disk.block(slot)
		if blk == InvalidBlock {
			continue
		}
		off := img.Super.BlockOffset(blk)
		if err := img.readFull(buf, off); err != nil {
			return err
		}
		for i := 0; i < entsPerBlock; i++ {
			var de DirEntry
			if err := de.UnmarshalBinary(buf[i*DirEntrySize:]); err != nil {
				return err
			}
			if !de.isEmpty() {
				continue
			}
			de.Inumber = uint32(n)
			de.setName(name)
			enc, err := de.MarshalBinary()
			if err != nil {
				return err
			}
			copy(buf[i*DirEntrySize:], enc)
			return img.writeFull(buf, off)
		}
	}

	freeSlot := -1
	for slot := 0; slot < NBlocks; slot++ {
		if dir.Disk.block(slot) == InvalidBlock {
			freeSlot = slot
			break
		}
	}
	if freeSlot < 0 {
		return ErrNoSpace
	}

	newBlk, err := img.AllocBlock()
	if err != nil {
		return err
	}

	for i := range buf {
		buf[i] = 0
	}
	de := DirEntry{Inumber: uint32(n)}
	de.setName(name)
	enc, err := de.MarshalBinary()
	if err != nil {
		return err
	}
	copy(buf, enc)
	if err := img.writeFull(buf, img.Super.BlockOffset(newBlk)); err != nil {
		return err
	}

	dir.Disk.setBlock(freeSlot, newBlk)
	return img.WriteInode(dir)
}

// RemoveDirEntry zeroes the entry naming inumber n within dir. It
// reports ErrIO if no such entry is found, which indicates a
// filesystem inconsistency (the caller already resolved n through
// this same directory).
func (img *Image) RemoveDirEntry(dir *Inode, n Inumber) error {
	entsPerBlock := img.Super.DirEntriesPerBlock()
	buf := make([]byte, img.Super.BlockSize)

	for slot := 0; slot < NBlocks; slot++ {
		blk := dir.Disk.block(slot)
		if blk == InvalidBlock {
			continue
		}
		off := img.Super.BlockOffset(blk)
		if err := img.readFull(buf, off); err != nil {
			return err
		}
		for i := 0; i < entsPerBlock; i++ {
			var de DirEntry
			if err := de.UnmarshalBinary(buf[i*DirEntrySize:]); err != nil {
				return err
			}
			if de.isEmpty() || Inumber(de.Inumber) != n {
				continue
			}
			zero := make([]byte, DirEntrySize)
			copy(buf[i*DirEntrySize:], zero)
			return img.writeFull(buf, off)
		}
	}
	return ErrIO
}
