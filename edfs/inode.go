package edfs

import (
	"bytes"
	"encoding/binary"
)

// DiskInode is the fixed on-disk record for one inumber. blocks[]
// means direct data-block ids when Type has no FlagIndirect, or
// indirect-block ids (each naming a block whose contents are
// BlocksPerIndirect further data-block ids) when it does.
type DiskInode struct {
	Type   InodeType
	_      [3]byte // padding, always zero
	Size   uint32
	Blocks [NBlocks]uint32
}

// DiskInodeSize is the fixed on-disk size of a DiskInode record.
const DiskInodeSize = 1 + 3 + 4 + NBlocks*4

func (di *DiskInode) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(DiskInodeSize)
	if err := binary.Write(buf, binary.LittleEndian, di); err != nil {
		return nil, ErrIO
	}
	return buf.Bytes(), nil
}

func (di *DiskInode) UnmarshalBinary(data []byte) error {
	if len(data) < DiskInodeSize {
		return ErrIO
	}
	return binary.Read(bytes.NewReader(data), binary.LittleEndian, di)
}

func (di *DiskInode) block(i int) BlockID       { return BlockID(di.Blocks[i]) }
func (di *DiskInode) setBlock(i int, b BlockID) { di.Blocks[i] = uint32(b) }

// Inode pairs an inumber with the disk record read from (or to be
// written to) that slot.
type Inode struct {
	Inumber Inumber
	Disk    DiskInode
}

// ReadInode loads the disk record for inumber n.
func (img *Image) ReadInode(n Inumber) (*Inode, error) {
	if uint32(n) >= img.Super.InodeTableNInodes {
		return nil, ErrNotFound
	}

	buf := make([]byte, DiskInodeSize)
	if err := img.readFull(buf, img.Super.InodeOffset(n)); err != nil {
		return nil, err
	}

	in := &Inode{Inumber: n}
	if err := in.Disk.UnmarshalBinary(buf); err != nil {
		return nil, err
	}
	return in, nil
}

// ReadRootInode loads the inode designated as the filesystem root.
func (img *Image) ReadRootInode() (*Inode, error) {
	return img.ReadInode(Inumber(img.Super.RootInumber))
}

// WriteInode flushes in.Disk to in.Inumber's slot.
func (img *Image) WriteInode(in *Inode) error {
	if uint32(in.Inumber) >= img.Super.InodeTableNInodes {
		return ErrNotFound
	}
	buf, err := in.Disk.MarshalBinary()
	if err != nil {
		return err
	}
	return img.writeFull(buf, img.Super.InodeOffset(in.Inumber))
}

// ClearInode zero-fills in.Inumber's on-disk record, returning it to
// the FREE state.
func (img *Image) ClearInode(in *Inode) error {
	if uint32(in.Inumber) >= img.Super.InodeTableNInodes {
		return ErrNotFound
	}
	buf := make([]byte, DiskInodeSize)
	return img.writeFull(buf, img.Super.InodeOffset(in.Inumber))
}

// FindFreeInode returns the first inumber (scanning from 1 upward)
// whose on-disk record has type FREE, or 0 if none exists. Inumber 0
// is never returned since it is the reserved empty-slot marker.
func (img *Image) FindFreeInode() (Inumber, error) {
	for n := Inumber(1); uint32(n) < img.Super.InodeTableNInodes; n++ {
		in, err := img.ReadInode(n)
		if err != nil {
			return 0, err
		}
		if in.Disk.Type.IsFree() {
			return n, nil
		}
	}
	return 0, nil
}

// NewInode finds a free inode slot and returns an in-memory Inode
// initialised with the given type, every blocks[] slot set to
// InvalidBlock, and size 0. It
// does NOT write the record: the inode only becomes allocated once
// the caller writes it with a non-FREE type.
func (img *Image) NewInode(t InodeType) (*Inode, error) {
	n, err := img.FindFreeInode()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNoSpace
	}

	in := &Inode{Inumber: n}
	in.Disk.Type = t
	for i := range in.Disk.Blocks {
		in.Disk.setBlock(i, InvalidBlock)
	}
	return in, nil
}
