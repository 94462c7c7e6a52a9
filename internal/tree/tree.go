// Package tree builds and walks the branching directory hierarchies used
// by the metadata phases. A tree is identified by a numeric id: directory
// 0 is the root, and the children of directory d are
// d*branch+1 .. d*branch+branch. Items (files or directories) are placed
// inside tree directories by item number, items-per-dir at a time.
package tree

import (
	"fmt"
	"math"
	"path"

	"github.com/parabench/parabench/internal/backend"
)

// BaseName is the prefix of every tree directory ("<BaseName>.<id>").
const BaseName = "ptree"

const dirMode = 0o755

// Layout describes the shape of a directory tree.
type Layout struct {
	BranchFactor int   // children per directory, >= 1
	Depth        int   // levels below the root, 0 = flat
	ItemsPerDir  int64 // items placed per directory
	LeafOnly     bool  // place items only at the deepest level
}

// NumDirs returns the total number of directories in the tree,
// sum of branch^i for i in [0, depth].
func (l Layout) NumDirs() int64 {
	n := int64(0)
	w := int64(1)
	for i := 0; i <= l.Depth; i++ {
		n += w
		w *= int64(l.BranchFactor)
	}
	return n
}

// LeafOffset returns the item-number offset of the first leaf-level item.
// Items are numbered contiguously across directories, so with leaf-only
// placement, item numbers start after every non-leaf directory's quota.
func (l Layout) LeafOffset() int64 {
	leaves := int64(math.Pow(float64(l.BranchFactor), float64(l.Depth)))
	return (l.NumDirs() - leaves) * l.ItemsPerDir
}

// DirName returns the directory name for tree id d.
func DirName(d int64) string {
	return fmt.Sprintf("%s.%d", BaseName, d)
}

// ItemPath returns the full path of the item with the given name and
// number. The parent directory is itemNum / itemsPerDir; the path is
// built by walking from that directory up to the tree root.
func (l Layout) ItemPath(base, itemName string, itemNum int64) string {
	if l.ItemsPerDir == 0 {
		return path.Join(base, itemName)
	}
	dir := itemNum / l.ItemsPerDir
	if dir == 0 {
		return path.Join(base, itemName)
	}
	p := itemName
	p = path.Join(DirName(dir), p)
	for dir > int64(l.BranchFactor) {
		dir = (dir - 1) / int64(l.BranchFactor)
		p = path.Join(DirName(dir), p)
	}
	return path.Join(base, p)
}

// RandOrder returns a deterministic shuffle of the item numbers
// [0, items). The Fisher-Yates pass is driven by a 64-bit LCG so every
// rank derives the same order from the same seed.
func RandOrder(items int64, seed int64) []int64 {
	order := make([]int64, items)
	for i := range order {
		order[i] = int64(i)
	}
	state := uint64(seed)
	for i := len(order) - 1; i > 0; i-- {
		state = state*6364136223846793005 + 1442695040888963407
		j := int((state >> 33) % uint64(i+1))
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// Create builds the full directory tree under base, root first.
func (l Layout) Create(b backend.Backend, base string) error {
	root := path.Join(base, DirName(0))
	if err := b.Mkdir(root, dirMode); err != nil {
		return err
	}
	return l.walk(b, root, 1, 1, true)
}

// Remove tears the tree down, deepest directories first.
func (l Layout) Remove(b backend.Backend, base string) error {
	root := path.Join(base, DirName(0))
	if err := l.walk(b, root, 1, 1, false); err != nil {
		return err
	}
	return b.Rmdir(root)
}

// walk visits the subtrees rooted at ids dirNum..dirNum+branch-1 under
// parent, creating parents before children or removing children before
// parents.
func (l Layout) walk(b backend.Backend, parent string, depth int, dirNum int64, create bool) error {
	if depth > l.Depth {
		return nil
	}
	cur := dirNum
	for i := 0; i < l.BranchFactor; i++ {
		p := path.Join(parent, DirName(cur))
		if create {
			if err := b.Mkdir(p, dirMode); err != nil {
				return err
			}
		}
		if err := l.walk(b, p, depth+1, cur*int64(l.BranchFactor)+1, create); err != nil {
			return err
		}
		if !create {
			if err := b.Rmdir(p); err != nil {
				return err
			}
		}
		cur++
	}
	return nil
}

// EachDir calls fn with the tree id and full path of every directory that
// holds items: every directory when LeafOnly is false, only the deepest
// level otherwise. Paths are visited in id order.
func (l Layout) EachDir(base string, fn func(id int64, dir string) error) error {
	root := path.Join(base, DirName(0))
	if !l.LeafOnly || l.Depth == 0 {
		if err := fn(0, root); err != nil {
			return err
		}
	}
	return l.eachDir(root, 1, 1, fn)
}

func (l Layout) eachDir(parent string, depth int, dirNum int64, fn func(int64, string) error) error {
	if depth > l.Depth {
		return nil
	}
	cur := dirNum
	for i := 0; i < l.BranchFactor; i++ {
		p := path.Join(parent, DirName(cur))
		if !l.LeafOnly || depth == l.Depth {
			if err := fn(cur, p); err != nil {
				return err
			}
		}
		if err := l.eachDir(p, depth+1, cur*int64(l.BranchFactor)+1, fn); err != nil {
			return err
		}
		cur++
	}
	return nil
}
