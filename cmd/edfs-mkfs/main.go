// Command edfs-mkfs writes a fresh EdFS image: super block, a zeroed
// inode table and bitmap, and a root directory inode. The edfs
// package assumes such an image already exists, so this tool supplies
// it, replacing the target file atomically via
// github.com/google/renameio.
package main

import (
	"flag"
	"fmt"
	"os"

	"golang.org/x/xerrors"

	"github.com/google/renameio"
	"github.com/leiden-edu/edfs/edfs"
)

const help = `edfs-mkfs [flags] <image-file>

Create a fresh EdFS image file.
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fset := flag.NewFlagSet("edfs-mkfs", flag.ExitOnError)
	blockSize := fset.Uint("block-size", 1024, "bytes per data/directory/indirect block")
	nBlocks := fset.Uint("blocks", 4096, "number of data blocks in the image (rounded up to a multiple of 8)")
	nInodes := fset.Uint("inodes", 256, "number of inode table slots")
	fset.Usage = func() {
		fmt.Fprintln(os.Stderr, help)
		fset.PrintDefaults()
	}
	if err := fset.Parse(args); err != nil {
		return err
	}
	if fset.NArg() != 1 {
		fset.Usage()
		return xerrors.Errorf("syntax: edfs-mkfs [flags] <image-file>")
	}

	return build(fset.Arg(0), uint32(*blockSize), uint32(*nBlocks), uint32(*nInodes))
}

func build(path string, blockSize, nBlocks, nInodes uint32) error {
	const rootInumber = 1

	inodeTableStart := uint32(edfs.SuperBlockSize)
	// Round the inode table start up to a 512-byte boundary so the
	// super block sector is never shared with inode data.
	if inodeTableStart < 512 {
		inodeTableStart = 512
	}

	inodeTableBytes := nInodes * edfs.DiskInodeSize
	bitmapStart := inodeTableStart + inodeTableBytes
	bitmapSize := (nBlocks + 7) / 8
	// The bitmap allocates bit-for-bit, so the data area must cover
	// every block it can address.
	nBlocks = bitmapSize * 8
	dataBlockStart := bitmapStart + bitmapSize
	// Align the data area to a block boundary.
	if rem := dataBlockStart % blockSize; rem != 0 {
		dataBlockStart += blockSize - rem
	}

	totalSize := int64(dataBlockStart) + int64(nBlocks)*int64(blockSize)

	f, err := renameio.TempFile("", path)
	if err != nil {
		return xerrors.Errorf("renameio.TempFile: %w", err)
	}
	defer f.Cleanup()

	if err := f.Truncate(totalSize); err != nil {
		return xerrors.Errorf("truncate: %w", err)
	}

	sb := edfs.SuperBlock{
		Magic:             edfs.Magic,
		BlockSize:         blockSize,
		InodeTableStart:   inodeTableStart,
		InodeTableNInodes: nInodes,
		BitmapStart:       bitmapStart,
		BitmapSize:        bitmapSize,
		DataBlockStart:    dataBlockStart,
		RootInumber:       rootInumber,
	}
	sbBytes, err := sb.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(sbBytes, edfs.SuperBlockOffset); err != nil {
		return xerrors.Errorf("write super block: %w", err)
	}

	root := edfs.DiskInode{Type: edfs.TypeDirectory}
	for i := range root.Blocks {
		root.Blocks[i] = uint32(edfs.InvalidBlock)
	}
	rootBytes, err := root.MarshalBinary()
	if err != nil {
		return err
	}
	rootOffset := int64(inodeTableStart) + int64(rootInumber)*edfs.DiskInodeSize
	if _, err := f.WriteAt(rootBytes, rootOffset); err != nil {
		return xerrors.Errorf("write root inode: %w", err)
	}

	if err := f.Chmod(0644); err != nil {
		return xerrors.Errorf("chmod: %w", err)
	}
	if err := f.CloseAtomicallyReplace(); err != nil {
		return xerrors.Errorf("CloseAtomicallyReplace: %w", err)
	}

	fmt.Printf("wrote %s: %d blocks of %d bytes, %d inodes, %d bytes total\n",
		path, nBlocks, blockSize, nInodes, totalSize)
	return nil
}
