package xkfs

import (
	"testing"
)

// usedBlocks is where mkfs stopped allocating, given an empty root
func usedBlocks(fs *FileSystem) uint32 {
	return fs.sb.size - fs.FreeBlocks()
}

func TestAllocFirstFit(t *testing.T) {
	fs, _ := testCreateFS(t, testBlocks, nil)
	next := usedBlocks(fs)

	fs.log.begin()
	a := fs.alloc.alloc(3)
	b := fs.alloc.alloc(2)
	fs.alloc.free(a, 3)
	c := fs.alloc.alloc(1)
	d := fs.alloc.alloc(4)
	fs.log.commit()

	if a != next || b != next+3 {
		t.Errorf("alloc returned %d and %d, expected %d and %d", a, b, next, next+3)
	}
	if c != a {
		t.Errorf("freed block %d not reused, got %d", a, c)
	}
	if d != b+2 {
		t.Errorf("run of 4 at %d, expected %d past the 2 block hole", d, b+2)
	}
	if free := fs.FreeBlocks(); free != fs.sb.size-next-7 {
		t.Errorf("free blocks %d, expected %d", free, fs.sb.size-next-7)
	}
}

func TestAllocStaysInOneBitmapBlock(t *testing.T) {
	fs, _ := testCreateFS(t, 2*BitsPerBlock, nil)
	next := usedBlocks(fs)

	fs.log.begin()
	first := fs.alloc.alloc(BitsPerBlock - next - 5)
	second := fs.alloc.alloc(10)
	fs.log.commit()

	if first != next {
		t.Errorf("first run at %d, expected %d", first, next)
	}
	if second != BitsPerBlock {
		t.Errorf("run that does not fit the first bitmap block at %d, expected %d", second, BitsPerBlock)
	}
}

func TestAllocPersists(t *testing.T) {
	fs, disk := testCreateFS(t, testBlocks, nil)
	fs.log.begin()
	a := fs.alloc.alloc(8)
	fs.log.commit()

	fs = testRemount(t, disk)
	fs.log.begin()
	b := fs.alloc.alloc(1)
	fs.log.commit()
	if b != a+8 {
		t.Errorf("allocation after remount at %d, expected %d", b, a+8)
	}
}

func TestAllocFatal(t *testing.T) {
	tests := []struct {
		name string
		f    func(fs *FileSystem)
	}{
		{"zero blocks", func(fs *FileSystem) { fs.alloc.alloc(0) }},
		{"no room", func(fs *FileSystem) { fs.alloc.alloc(fs.sb.size) }},
		{"free zero", func(fs *FileSystem) { fs.alloc.free(fs.sb.size-1, 0) }},
		{"double free", func(fs *FileSystem) { fs.alloc.free(fs.sb.size-1, 1) }},
		{"past the end", func(fs *FileSystem) { fs.alloc.free(fs.sb.size-1, 2) }},
		{"cross bitmap blocks", func(fs *FileSystem) { fs.alloc.free(BitsPerBlock-1, 2) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, _ := testCreateFS(t, 2*BitsPerBlock, nil)
			fs.log.begin()
			expectPanic(t, func() { tt.f(fs) })
		})
	}
}
