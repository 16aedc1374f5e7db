package edfs

import (
	"os"

	"golang.org/x/exp/mmap"
)

// Image is a handle to an opened backing file. Positioned reads go
// through a shared read-only mmap of the image; positioned writes go
// through the file descriptor and are coherent with the mapping.
// There is no seek cursor anywhere in this package, and the handle
// owns the single descriptor/mapping pair.
type Image struct {
	f     *os.File
	r     *mmap.ReaderAt
	Path  string
	Super SuperBlock
}

// Open opens the backing file read-write. When verifySuper is true it
// additionally reads and validates the super block (magic match, file
// size at least covering the declared filesystem extent).
func Open(path string, verifySuper bool) (*Image, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, ErrIO
	}

	img := &Image{f: f, Path: path}

	if verifySuper {
		if err := img.readSuper(); err != nil {
			f.Close()
			return nil, err
		}
	}

	r, err := mmap.Open(path)
	if err != nil {
		f.Close()
		return nil, ErrIO
	}
	img.r = r

	return img, nil
}

func (img *Image) readSuper() error {
	buf := make([]byte, SuperBlockSize)
	if _, err := img.f.ReadAt(buf, SuperBlockOffset); err != nil {
		return ErrIO
	}

	var sb SuperBlock
	if err := sb.UnmarshalBinary(buf); err != nil {
		return err
	}
	if sb.Magic != Magic {
		return ErrInvalid
	}

	fi, err := img.f.Stat()
	if err != nil {
		return ErrIO
	}
	// The data area must cover every block the bitmap can address.
	if fi.Size() < sb.BlockOffset(BlockID(sb.BitmapSize*8)) {
		return ErrInvalid
	}

	img.Super = sb
	return nil
}

// Close releases the mapping and the underlying file descriptor.
func (img *Image) Close() error {
	if img.r != nil {
		img.r.Close()
	}
	return img.f.Close()
}

// ReadAt performs a positioned read, satisfying io.ReaderAt.
func (img *Image) ReadAt(p []byte, off int64) (int, error) {
	return img.r.ReadAt(p, off)
}

// WriteAt performs a positioned write, satisfying io.WriterAt.
func (img *Image) WriteAt(p []byte, off int64) (int, error) {
	return img.f.WriteAt(p, off)
}

// readFull reads exactly len(buf) bytes at off, translating any short
// read or I/O failure into ErrIO.
func (img *Image) readFull(buf []byte, off int64) error {
	n, err := img.ReadAt(buf, off)
	if err != nil || n != len(buf) {
		return ErrIO
	}
	return nil
}

// writeFull writes exactly len(buf) bytes at off, translating any
// short write or I/O failure into ErrIO.
func (img *Image) writeFull(buf []byte, off int64) error {
	n, err := img.WriteAt(buf, off)
	if err != nil || n != len(buf) {
		return ErrIO
	}
	return nil
}
