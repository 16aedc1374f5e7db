package edfs

import (
	"bytes"
	"encoding/binary"
)

// SuperBlockOffset is the fixed absolute offset of the super block.
const SuperBlockOffset = 0

// SuperBlock is the fixed on-disk record describing the layout of the
// rest of the image. All fields are fixed-width little-endian.
type SuperBlock struct {
	Magic             uint32
	BlockSize         uint32
	InodeTableStart   uint32
	InodeTableNInodes uint32
	BitmapStart       uint32
	BitmapSize        uint32
	DataBlockStart    uint32
	RootInumber       uint32
}

// SuperBlockSize is the fixed on-disk size of a SuperBlock record.
const SuperBlockSize = 8 * 4

func (sb *SuperBlock) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(SuperBlockSize)
	if err := binary.Write(buf, binary.LittleEndian, sb); err != nil {
		return nil, Error("edfs: marshal super block: " + err.Error())
	}
	return buf.Bytes(), nil
}

func (sb *SuperBlock) UnmarshalBinary(data []byte) error {
	if len(data) < SuperBlockSize {
		return ErrIO
	}
	return binary.Read(bytes.NewReader(data), binary.LittleEndian, sb)
}

// InodeOffset returns the absolute byte offset of inode n's record.
func (sb *SuperBlock) InodeOffset(n Inumber) int64 {
	return int64(sb.InodeTableStart) + int64(n)*DiskInodeSize
}

// BlockOffset returns the absolute byte offset of data block b.
func (sb *SuperBlock) BlockOffset(b BlockID) int64 {
	return int64(sb.DataBlockStart) + int64(b)*int64(sb.BlockSize)
}

// DirEntriesPerBlock is the number of fixed-size directory entries
// that fit in one data block.
func (sb *SuperBlock) DirEntriesPerBlock() int {
	return int(sb.BlockSize) / DirEntrySize
}

// BlocksPerIndirect is the number of block ids packed into one
// indirect block.
func (sb *SuperBlock) BlocksPerIndirect() int {
	return int(sb.BlockSize) / 4
}
