package xkfs

import (
	"testing"

	"github.com/go-test/deep"
)

func TestDinodeFromBytes(t *testing.T) {
	d := &dinode{typ: TypeFile, devid: 0, size: 1234, used: dinodeUsed, numExtents: 2}
	d.extents[0] = extent{start: 60, nblocks: 2}
	d.extents[1] = extent{start: 90, nblocks: 1}
	b := d.toBytes()
	if len(b) != int(DinodeSize) {
		t.Fatalf("record is %d bytes, expected %d", len(b), DinodeSize)
	}
	got, err := dinodeFromBytes(b)
	if err != nil {
		t.Fatal(err)
	}
	deep.CompareUnexportedFields = true
	if diff := deep.Equal(d, got); diff != nil {
		t.Errorf("dinodeFromBytes() = %v", diff)
	}

	bad := (&dinode{numExtents: int16(MaxExtents + 1)}).toBytes()
	if _, err := dinodeFromBytes(bad); err == nil {
		t.Errorf("accepted %d extents", MaxExtents+1)
	}
}

func TestExtentsFindBlock(t *testing.T) {
	e := extents{{start: 100, nblocks: 2}, {start: 50, nblocks: 3}}
	tests := []struct {
		fileBlock uint32
		disk      uint32
		ok        bool
	}{
		{0, 100, true},
		{1, 101, true},
		{2, 50, true},
		{4, 52, true},
		{5, 0, false},
	}
	for _, tt := range tests {
		disk, ok := e.findBlock(tt.fileBlock)
		if disk != tt.disk || ok != tt.ok {
			t.Errorf("findBlock(%d) = %d, %v; expected %d, %v", tt.fileBlock, disk, ok, tt.disk, tt.ok)
		}
	}
	if n := e.blockCount(); n != 5 {
		t.Errorf("blockCount() = %d, expected 5", n)
	}
}

func TestInodeCacheRefs(t *testing.T) {
	fs, _ := testCreateFS(t, testBlocks, nil)
	a := fs.Root()
	b := fs.Root()
	if a != b {
		t.Errorf("two references to the root are different slots")
	}
	if n := fs.Refs(a); n != 2 {
		t.Errorf("refs %d, expected 2", n)
	}
	c := fs.Dup(a)
	if n := fs.InUse(); n != 1 {
		t.Errorf("%d slots in use, expected 1", n)
	}
	if st := fs.Stat(c); st.Type != TypeDir || st.Ino != RootIno {
		t.Errorf("root stat %+v", st)
	}
	fs.Release(a)
	fs.Release(b)
	if !a.valid {
		t.Errorf("inode invalidated while still referenced")
	}
	fs.Release(c)
	if a.valid || a.typ != TypeNone {
		t.Errorf("last release left the inode loaded")
	}
	checkBalanced(t, fs)
	expectPanic(t, func() { fs.Release(a) })
}

func TestInodeCacheExhaustion(t *testing.T) {
	fs, _ := testCreateFS(t, testBlocks, nil, WithCacheSize(3))
	for i := uint32(1); i <= 3; i++ {
		fs.cache.get(RootDev, i)
	}
	// a fourth distinct inode has nowhere to go, a repeat still does
	fs.cache.get(RootDev, 2)
	expectPanic(t, func() { fs.cache.get(RootDev, 4) })
}

func TestInodeLocking(t *testing.T) {
	fs, _ := testCreateFS(t, testBlocks, nil)
	root := fs.Root()
	defer fs.Release(root)

	o := fs.newOp()
	o.lock(root)
	expectPanic(t, func() { o.lock(root) })
	o.unlock(root)
	expectPanic(t, func() { o.unlock(root) })

	// the inode file may be taken while loading another inode
	ip, err := fs.Create("f")
	if err != nil {
		t.Fatal(err)
	}
	defer fs.Release(ip)
	ip.valid = false
	o.lock(&fs.cache.inodeFile)
	o.lock(ip)
	if ip.typ != TypeFile {
		t.Errorf("reloaded type %v, expected file", ip.typ)
	}
	o.unlock(ip)
	o.unlock(&fs.cache.inodeFile)
}

func TestLoadFreeInode(t *testing.T) {
	fs, _ := testCreateFS(t, testBlocks, nil)
	ip, err := fs.Create("gone")
	if err != nil {
		t.Fatal(err)
	}
	inum := ip.Inum()
	if err := fs.Delete(ip); err != nil {
		t.Fatal(err)
	}
	stale := fs.cache.get(RootDev, inum)
	expectPanic(t, func() { fs.newOp().lock(stale) })
}
