package xkfs

import (
	"fmt"
)

// DirEntry is one live entry of a directory listing
type DirEntry struct {
	Name string
	Stat Stat
}

// skipElem splits the first element off path, ignoring repeated slashes.
// ok is false when no element remains.
//
//	skipElem("a/bb/c") = "bb/c", "a", true
//	skipElem("///a//bb") = "bb", "a", true
//	skipElem("a") = "", "a", true
//	skipElem("") = skipElem("////") = "", "", false
func skipElem(path string) (rest, name string, ok bool) {
	i := 0
	for i < len(path) && path[i] == '/' {
		i++
	}
	if i == len(path) {
		return "", "", false
	}
	j := i
	for j < len(path) && path[j] != '/' {
		j++
	}
	name = path[i:j]
	if len(name) > DirNameSize {
		name = name[:DirNameSize]
	}
	for j < len(path) && path[j] == '/' {
		j++
	}
	return path[j:], name, true
}

// namex walks path from the root. With parent set it stops one element early
// and returns the parent directory along with the final element's name.
// There is no working directory, so relative paths also start at the root.
func (o *op) namex(path string, parent bool) (*Inode, string, error) {
	ip := o.fs.cache.get(RootDev, RootIno)
	var name string
	for {
		var ok bool
		path, name, ok = skipElem(path)
		if !ok {
			break
		}
		o.lock(ip)
		if ip.typ != TypeDir {
			o.unlock(ip)
			o.fs.cache.release(ip)
			return nil, "", fmt.Errorf("%w: %q", ErrNotDir, name)
		}
		if parent && path == "" {
			o.unlock(ip)
			return ip, name, nil
		}
		next, _ := o.dirLookup(ip, name)
		o.unlock(ip)
		o.fs.cache.release(ip)
		if next == nil {
			return nil, "", fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		ip = next
	}
	if parent {
		o.fs.cache.release(ip)
		return nil, "", fmt.Errorf("%w: path has no final element", ErrNotFound)
	}
	return ip, "", nil
}

// Resolve returns a new reference to the inode named by path
func (fs *FileSystem) Resolve(path string) (*Inode, error) {
	ip, _, err := fs.newOp().namex(path, false)
	return ip, err
}

// ResolveParent returns a new reference to the directory containing path's
// final element, and that element's name
func (fs *FileSystem) ResolveParent(path string) (*Inode, string, error) {
	return fs.newOp().namex(path, true)
}

// Lookup finds name in the directory dir and returns a new reference to it
func (fs *FileSystem) Lookup(dir *Inode, name string) (*Inode, error) {
	o := fs.newOp()
	o.lock(dir)
	defer o.unlock(dir)
	if dir.typ != TypeDir {
		return nil, fmt.Errorf("%w: inode %d", ErrNotDir, dir.inum)
	}
	ip, _ := o.dirLookup(dir, name)
	if ip == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return ip, nil
}

// ReadDir lists the live entries of the directory at path
func (fs *FileSystem) ReadDir(path string) ([]DirEntry, error) {
	dp, err := fs.Resolve(path)
	if err != nil {
		return nil, err
	}
	defer fs.cache.release(dp)

	o := fs.newOp()
	o.lock(dp)
	if dp.typ != TypeDir {
		o.unlock(dp)
		return nil, fmt.Errorf("%w: %q", ErrNotDir, path)
	}
	d := o.readDirectory(dp)
	o.unlock(dp)

	// stat children only after dropping the directory lock; "." is the directory itself
	var list []DirEntry
	for _, e := range d.entries {
		if e.free() {
			continue
		}
		ip := fs.cache.get(dp.dev, uint32(e.inum))
		list = append(list, DirEntry{Name: e.filename, Stat: fs.Stat(ip)})
		fs.cache.release(ip)
	}
	return list, nil
}
