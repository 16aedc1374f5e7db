package edfs_test

import (
	"bytes"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/leiden-edu/edfs/edfs"
)

func newFS(t *testing.T) *edfs.FS {
	t.Helper()
	img := newFixture(t, 1024, 64, 32)
	return &edfs.FS{Img: img}
}

func TestMkdirAndReaddir(t *testing.T) {
	fs := newFS(t)

	if err := fs.Mkdir("/a"); err != nil {
		t.Fatalf("mkdir /a: %v", err)
	}
	if err := fs.Mkdir("/a/b"); err != nil {
		t.Fatalf("mkdir /a/b: %v", err)
	}

	names, err := fs.ReadDir("/a")
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	sort.Strings(names)
	want := []string{".", "..", "b"}
	sort.Strings(want)
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("readdir mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	fs := newFS(t)

	if err := fs.Create("/f"); err != nil {
		t.Fatalf("create: %v", err)
	}
	n, err := fs.Write("/f", []byte("hello"), 0)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 5 {
		t.Fatalf("write returned %d, want 5", n)
	}

	buf := make([]byte, 5)
	n, err = fs.Read("/f", buf, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 5 || string(buf) != "hello" {
		t.Fatalf("read = %q (%d), want %q", buf, n, "hello")
	}

	attr, err := fs.GetAttr("/f")
	if err != nil {
		t.Fatalf("getattr: %v", err)
	}
	if attr.Size != 5 {
		t.Fatalf("size = %d, want 5", attr.Size)
	}
}

func TestPromotionToIndirect(t *testing.T) {
	fs := newFS(t)
	const blockSize = 1024

	if err := fs.Create("/big"); err != nil {
		t.Fatalf("create: %v", err)
	}

	x := bytes.Repeat([]byte{'X'}, 6*blockSize)
	if _, err := fs.Write("/big", x, 0); err != nil {
		t.Fatalf("write direct span: %v", err)
	}

	attr, err := fs.GetAttr("/big")
	if err != nil {
		t.Fatalf("getattr: %v", err)
	}
	if attr.Size != uint64(len(x)) {
		t.Fatalf("size = %d, want %d (still direct mode)", attr.Size, len(x))
	}

	if _, err := fs.Write("/big", []byte("!"), int64(len(x))); err != nil {
		t.Fatalf("write promoting byte: %v", err)
	}

	want := append(append([]byte{}, x...), '!')
	got := make([]byte, len(want))
	n, err := fs.Read("/big", got, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != len(want) {
		t.Fatalf("read %d bytes, want %d", n, len(want))
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("content mismatch after indirect promotion")
	}
}

func TestTruncateShrinkThenRead(t *testing.T) {
	fs := newFS(t)

	if err := fs.Create("/f"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := fs.Write("/f", []byte("abcdef"), 0); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := fs.Truncate("/f", 3); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	buf := make([]byte, 6)
	n, err := fs.Read("/f", buf, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 3 || string(buf[:n]) != "abc" {
		t.Fatalf("read = %q (%d), want %q", buf[:n], n, "abc")
	}
}

func TestTruncateShrinkIdempotent(t *testing.T) {
	fs := newFS(t)

	if err := fs.Create("/f"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := fs.Write("/f", bytes.Repeat([]byte{'a'}, 2048), 0); err != nil {
		t.Fatalf("write: %v", err)
	}
	before, err := bitmapPopcount(fs.Img)
	if err != nil {
		t.Fatalf("popcount: %v", err)
	}
	if err := fs.Truncate("/f", 500); err != nil {
		t.Fatalf("truncate 1: %v", err)
	}
	after1, err := bitmapPopcount(fs.Img)
	if err != nil {
		t.Fatalf("popcount: %v", err)
	}
	if err := fs.Truncate("/f", 500); err != nil {
		t.Fatalf("truncate 2: %v", err)
	}
	after2, err := bitmapPopcount(fs.Img)
	if err != nil {
		t.Fatalf("popcount: %v", err)
	}
	if after1 != after2 {
		t.Fatalf("second truncate to the same size changed block count: %d vs %d", after1, after2)
	}
	if after1 >= before {
		t.Fatalf("truncate did not free any blocks: before=%d after=%d", before, after1)
	}
}

func TestUnlinkFreesAllBlocks(t *testing.T) {
	fs := newFS(t)
	const blockSize = 1024

	before, err := bitmapPopcount(fs.Img)
	if err != nil {
		t.Fatalf("popcount: %v", err)
	}

	if err := fs.Create("/f"); err != nil {
		t.Fatalf("create: %v", err)
	}
	data := bytes.Repeat([]byte{'A'}, blockSize+10)
	if _, err := fs.Write("/f", data, 0); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := fs.Unlink("/f"); err != nil {
		t.Fatalf("unlink: %v", err)
	}

	after, err := bitmapPopcount(fs.Img)
	if err != nil {
		t.Fatalf("popcount: %v", err)
	}
	if after != before {
		t.Fatalf("bitmap popcount after create+write+unlink = %d, want %d", after, before)
	}
}

func TestRmdirRequiresEmpty(t *testing.T) {
	fs := newFS(t)

	if err := fs.Mkdir("/d"); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := fs.Create("/d/x"); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := fs.Rmdir("/d"); err != edfs.ErrNotEmpty {
		t.Fatalf("rmdir on non-empty dir = %v, want ErrNotEmpty", err)
	}

	if err := fs.Unlink("/d/x"); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if err := fs.Rmdir("/d"); err != nil {
		t.Fatalf("rmdir: %v", err)
	}

	if _, err := fs.GetAttr("/d"); err != edfs.ErrNotFound {
		t.Fatalf("getattr on removed dir = %v, want ErrNotFound", err)
	}
}

func TestMkdirDuplicateNameFails(t *testing.T) {
	fs := newFS(t)

	if err := fs.Mkdir("/dup"); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := fs.Mkdir("/dup"); err != edfs.ErrExist {
		t.Fatalf("mkdir over existing name = %v, want ErrExist", err)
	}
}

// bitmapPopcount counts set bits in the image's bitmap, used to
// verify block-accounting invariants across create/write/unlink and
// truncate sequences.
func bitmapPopcount(img *edfs.Image) (int, error) {
	buf := make([]byte, img.Super.BitmapSize)
	if _, err := img.ReadAt(buf, int64(img.Super.BitmapStart)); err != nil {
		return 0, err
	}
	n := 0
	for _, b := range buf {
		for b != 0 {
			n += int(b & 1)
			b >>= 1
		}
	}
	return n, nil
}
