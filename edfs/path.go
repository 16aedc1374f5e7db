package edfs

import "strings"

// FindInode walks path from the root, resolving each non-empty
// component through the directory engine. Consecutive slashes and a
// trailing slash are no-ops. Returns ErrNotFound if any component is
// missing, and ErrNotDir if an intermediate component is not a
// directory.
func (img *Image) FindInode(path string) (*Inode, error) {
	if len(path) == 0 || path[0] != '/' {
		return nil, ErrInvalid
	}

	cur, err := img.ReadRootInode()
	if err != nil {
		return nil, err
	}

	for _, comp := range strings.Split(path, "/") {
		if comp == "" {
			continue
		}
		if len(comp) >= FilenameSize {
			return nil, ErrInvalid
		}
		if !cur.Disk.Type.IsDirectory() {
			return nil, ErrNotDir
		}

		n, err := img.LookupDir(cur, comp)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, ErrNotFound
		}

		cur, err = img.ReadInode(n)
		if err != nil {
			return nil, err
		}
	}

	return cur, nil
}

// GetParentAndBasename splits path into the inode of its containing
// directory and its final path component. path must be non-empty and
// contain a separator once trailing slashes are stripped.
func (img *Image) GetParentAndBasename(path string) (*Inode, string, error) {
	trimmed := strings.TrimRight(path, "/")
	if trimmed == "" {
		return nil, "", ErrInvalid
	}

	sep := strings.LastIndexByte(trimmed, '/')
	if sep < 0 {
		return nil, "", ErrInvalid
	}

	basename := trimmed[sep+1:]
	if sep == 0 {
		parent, err := img.ReadRootInode()
		if err != nil {
			return nil, "", err
		}
		return parent, basename, nil
	}

	parent, err := img.FindInode(trimmed[:sep])
	if err != nil {
		if err == ErrNotFound {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}
	return parent, basename, nil
}
