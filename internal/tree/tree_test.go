package tree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parabench/parabench/internal/backend/posix"
)

func TestNumDirs(t *testing.T) {
	tests := []struct {
		name   string
		layout Layout
		want   int64
	}{
		{"flat", Layout{BranchFactor: 1, Depth: 0}, 1},
		{"binary depth 2", Layout{BranchFactor: 2, Depth: 2}, 7},
		{"ternary depth 1", Layout{BranchFactor: 3, Depth: 1}, 4},
		{"unary depth 3", Layout{BranchFactor: 1, Depth: 3}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.layout.NumDirs())
		})
	}
}

func TestLeafOffset(t *testing.T) {
	l := Layout{BranchFactor: 2, Depth: 2, ItemsPerDir: 10, LeafOnly: true}
	// 7 dirs total, 4 leaves, 3 interior dirs worth of item numbers skipped.
	assert.Equal(t, int64(30), l.LeafOffset())
}

func TestItemPath(t *testing.T) {
	l := Layout{BranchFactor: 2, Depth: 2, ItemsPerDir: 10}

	tests := []struct {
		name    string
		itemNum int64
		want    string
	}{
		{"root dir", 5, "base/file.5"},
		{"first child", 12, "base/ptree.1/file.12"},
		{"second child", 25, "base/ptree.2/file.25"},
		{"grandchild", 31, "base/ptree.1/ptree.3/file.31"},
		{"last grandchild", 65, "base/ptree.2/ptree.6/file.65"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := l.ItemPath("base", filepath.Base(tt.want), tt.itemNum)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestItemPathNoItemsPerDir(t *testing.T) {
	l := Layout{BranchFactor: 2, Depth: 1}
	assert.Equal(t, "base/x", l.ItemPath("base", "x", 99))
}

func TestRandOrderIsPermutation(t *testing.T) {
	order := RandOrder(100, 7)
	require.Len(t, order, 100)

	seen := make(map[int64]bool, 100)
	for _, n := range order {
		assert.GreaterOrEqual(t, n, int64(0))
		assert.Less(t, n, int64(100))
		assert.False(t, seen[n], "item %d visited twice", n)
		seen[n] = true
	}
}

func TestRandOrderDeterministic(t *testing.T) {
	assert.Equal(t, RandOrder(64, 7), RandOrder(64, 7))
	assert.NotEqual(t, RandOrder(64, 7), RandOrder(64, 8))
}

func TestCreateRemoveRoundTrip(t *testing.T) {
	b, err := posix.New(1)
	require.NoError(t, err)

	base := t.TempDir()
	l := Layout{BranchFactor: 2, Depth: 2, ItemsPerDir: 1}

	require.NoError(t, l.Create(b, base))

	// Every directory the layout names must exist.
	n := 0
	err = l.EachDir(base, func(id int64, dir string) error {
		n++
		st, err := os.Stat(dir)
		if err != nil {
			return err
		}
		assert.True(t, st.IsDir())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	require.NoError(t, l.Remove(b, base))

	_, err = os.Stat(filepath.Join(base, DirName(0)))
	assert.True(t, os.IsNotExist(err))
}

func TestEachDirLeafOnly(t *testing.T) {
	l := Layout{BranchFactor: 2, Depth: 2, ItemsPerDir: 1, LeafOnly: true}

	var ids []int64
	err := l.EachDir("base", func(id int64, dir string) error {
		ids = append(ids, id)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4, 5, 6}, ids)
}
