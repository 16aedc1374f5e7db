package edfs

import "encoding/binary"

// BlockForOffset translates a logical byte offset within a file to
// the data block that holds it and the offset within that block.
// offset must lie in [0, inode.Disk.Size); an INVALID block
// encountered within that live range is reported as ErrIO ("hole"),
// since only EnsureBlock is permitted to create blocks.
func (img *Image) BlockForOffset(in *Inode, offset int64) (BlockID, int64, error) {
	if offset < 0 || offset >= int64(in.Disk.Size) {
		return 0, 0, ErrInvalid
	}

	bs := int64(img.Super.BlockSize)
	idx := uint32(offset / bs)
	inBlockOff := offset % bs

	if !in.Disk.Type.HasIndirect() {
		if idx >= NBlocks {
			return 0, 0, ErrIO
		}
		blk := in.Disk.block(int(idx))
		if blk == InvalidBlock {
			return 0, 0, ErrIO
		}
		return blk, inBlockOff, nil
	}

	perIndirect := uint32(img.Super.BlocksPerIndirect())
	slot := idx / perIndirect
	inner := idx % perIndirect

	if slot >= NBlocks {
		return 0, 0, ErrIO
	}
	indBlk := in.Disk.block(int(slot))
	if indBlk == InvalidBlock {
		return 0, 0, ErrIO
	}

	array, err := img.readIndirect(indBlk)
	if err != nil {
		return 0, 0, err
	}
	dataBlk := array[inner]
	if dataBlk == InvalidBlock {
		return 0, 0, ErrIO
	}

	return dataBlk, inBlockOff, nil
}

// readIndirect loads the array of block ids packed in indirect block
// blk with no header.
func (img *Image) readIndirect(blk BlockID) ([]BlockID, error) {
	buf := make([]byte, img.Super.BlockSize)
	if err := img.readFull(buf, img.Super.BlockOffset(blk)); err != nil {
		return nil, err
	}
	n := img.Super.BlocksPerIndirect()
	array := make([]BlockID, n)
	for i := 0; i < n; i++ {
		array[i] = BlockID(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return array, nil
}

func (img *Image) writeIndirect(blk BlockID, array []BlockID) error {
	buf := make([]byte, img.Super.BlockSize)
	for i, b := range array {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(b))
	}
	return img.writeFull(buf, img.Super.BlockOffset(blk))
}

// EnsureBlock makes sure logical data block idx exists for in,
// allocating data blocks (and, on promotion, an indirect block) as
// needed, flushing the inode whenever it changes. Each branch
// allocates via the bitmap first, writes the new block's contents
// second, and updates the owning inode last, so an interrupted
// operation can leak bitmap bits but never leaves an inode pointing
// at an unmarked block.
func (img *Image) EnsureBlock(in *Inode, idx uint32) (BlockID, error) {
	if !in.Disk.Type.HasIndirect() {
		if idx >= NBlocks {
			return img.promoteToIndirect(in, idx)
		}

		if in.Disk.block(int(idx)) == InvalidBlock {
			blk, err := img.AllocBlock()
			if err != nil {
				return 0, err
			}
			in.Disk.setBlock(int(idx), blk)
			if err := img.WriteInode(in); err != nil {
				return 0, err
			}
		}
		return in.Disk.block(int(idx)), nil
	}

	perIndirect := uint32(img.Super.BlocksPerIndirect())
	slot := idx / perIndirect
	inner := idx % perIndirect
	if slot >= NBlocks {
		return 0, ErrTooBig
	}

	if in.Disk.block(int(slot)) == InvalidBlock {
		indBlk, err := img.AllocBlock()
		if err != nil {
			return 0, err
		}
		zero := make([]BlockID, perIndirect)
		for i := range zero {
			zero[i] = InvalidBlock
		}
		if err := img.writeIndirect(indBlk, zero); err != nil {
			return 0, err
		}
		in.Disk.setBlock(int(slot), indBlk)
		if err := img.WriteInode(in); err != nil {
			return 0, err
		}
	}

	array, err := img.readIndirect(in.Disk.block(int(slot)))
	if err != nil {
		return 0, err
	}

	if array[inner] == InvalidBlock {
		blk, err := img.AllocBlock()
		if err != nil {
			return 0, err
		}
		array[inner] = blk
		if err := img.writeIndirect(in.Disk.block(int(slot)), array); err != nil {
			return 0, err
		}
	}

	return array[inner], nil
}

// promoteToIndirect converts in from direct to indirect addressing:
// it allocates one new block to serve as the first indirect block,
// copies the existing direct block ids verbatim into its first
// NBlocks entries (filling the remainder with InvalidBlock), resets in.Disk.Blocks
// to all-INVALID with slot 0 pointing at the new indirect block, sets
// FlagIndirect, flushes the inode, then falls through into the
// indirect path for idx.
func (img *Image) promoteToIndirect(in *Inode, idx uint32) (BlockID, error) {
	indBlk, err := img.AllocBlock()
	if err != nil {
		return 0, err
	}

	perIndirect := img.Super.BlocksPerIndirect()
	array := make([]BlockID, perIndirect)
	for i := range array {
		array[i] = InvalidBlock
	}
	for i := 0; i < NBlocks; i++ {
		array[i] = in.Disk.block(i)
	}
	if err := img.writeIndirect(indBlk, array); err != nil {
		return 0, err
	}

	for i := range in.Disk.Blocks {
		in.Disk.setBlock(i, InvalidBlock)
	}
	in.Disk.setBlock(0, indBlk)
	in.Disk.Type |= FlagIndirect
	if err := img.WriteInode(in); err != nil {
		return 0, err
	}

	return img.EnsureBlock(in, idx)
}
