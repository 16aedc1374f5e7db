package edfs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leiden-edu/edfs/edfs"
)

func createSized(path string, size int64) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// newFixture builds a fresh, valid image in a t.TempDir() file and
// opens it, mirroring what cmd/edfs-mkfs writes for a real image:
// super block, zeroed inode table/bitmap, root directory inode at
// inumber 1.
func newFixture(t *testing.T, blockSize, nBlocks, nInodes uint32) *edfs.Image {
	t.Helper()

	const rootInumber = 1

	inodeTableStart := uint32(edfs.SuperBlockSize)
	if inodeTableStart < 512 {
		inodeTableStart = 512
	}
	inodeTableBytes := nInodes * edfs.DiskInodeSize
	bitmapStart := inodeTableStart + inodeTableBytes
	bitmapSize := (nBlocks + 7) / 8
	// Match cmd/edfs-mkfs: the data area covers every block the
	// bitmap can address.
	nBlocks = bitmapSize * 8
	dataBlockStart := bitmapStart + bitmapSize
	if rem := dataBlockStart % blockSize; rem != 0 {
		dataBlockStart += blockSize - rem
	}
	totalSize := int64(dataBlockStart) + int64(nBlocks)*int64(blockSize)

	path := filepath.Join(t.TempDir(), "edfs.img")
	f, err := createSized(path, totalSize)
	if err != nil {
		t.Fatalf("createSized: %v", err)
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
		t.Fatalf("MarshalBinary: %v", err)
	}
	if _, err := f.WriteAt(sbBytes, edfs.SuperBlockOffset); err != nil {
		t.Fatalf("write super block: %v", err)
	}

	root := edfs.DiskInode{Type: edfs.TypeDirectory}
	for i := range root.Blocks {
		root.Blocks[i] = uint32(edfs.InvalidBlock)
	}
	rootBytes, err := root.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary root: %v", err)
	}
	rootOffset := int64(inodeTableStart) + int64(rootInumber)*edfs.DiskInodeSize
	if _, err := f.WriteAt(rootBytes, rootOffset); err != nil {
		t.Fatalf("write root inode: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	img, err := edfs.Open(path, true)
	if err != nil {
		t.Fatalf("edfs.Open: %v", err)
	}
	t.Cleanup(func() { img.Close() })
	return img
}
