package edfs

// Magic identifies a valid EdFS image. Stored little-endian, it reads
// back as the bytes 'E', 'd', 'F', 'S'.
const Magic uint32 = 0x53466445

// NBlocks is the number of block slots (direct or indirect) carried in
// every disk inode.
const NBlocks = 6

// FilenameSize is the size in bytes of the fixed filename field in a
// directory entry, including the terminating NUL.
const FilenameSize = 60

// InvalidBlock is the sentinel marking an unallocated block slot. It is
// the maximum representable block id and is never a legal data-block
// reference.
const InvalidBlock BlockID = 0xFFFFFFFF

// BlockID indexes a block in the data area.
type BlockID uint32

// Inumber indexes a record in the inode table. Inumber 0 is reserved:
// it doubles as the empty-slot marker in directory entries and is
// never assigned to a live inode.
type Inumber uint32

// InodeType classifies a disk inode's payload. It is stored packed
// with FlagIndirect in the same on-disk byte.
type InodeType uint8

const (
	TypeFree      InodeType = 0
	TypeFile      InodeType = 1
	TypeDirectory InodeType = 2

	typeMask = 0x0F

	// FlagIndirect marks an inode's blocks[] array as holding indirect
	// block ids rather than direct data-block ids. Only ever set on
	// files; directories are always directly addressed.
	FlagIndirect InodeType = 0x80
)

// baseType strips FlagIndirect, yielding one of TypeFree/TypeFile/TypeDirectory.
func (t InodeType) baseType() InodeType { return t & typeMask }

func (t InodeType) IsFree() bool      { return t.baseType() == TypeFree }
func (t InodeType) IsFile() bool      { return t.baseType() == TypeFile }
func (t InodeType) IsDirectory() bool { return t.baseType() == TypeDirectory }
func (t InodeType) HasIndirect() bool { return t&FlagIndirect != 0 }
