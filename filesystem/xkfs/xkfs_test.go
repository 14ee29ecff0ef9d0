package xkfs

import (
	"bytes"
	"errors"
	"testing"

	"github.com/diskfs/go-xkfs/backend"
	"github.com/google/go-cmp/cmp"
)

const testBlocks = 2048

func testCreateFS(t *testing.T, blocks uint32, p *Params, opts ...MountOpt) (*FileSystem, *backend.RAMDisk) {
	t.Helper()
	disk := backend.NewRAMDisk(blocks)
	fs, err := Create(disk, p, opts...)
	if err != nil {
		t.Fatalf("unable to create file system: %v", err)
	}
	return fs, disk
}

func testRemount(t *testing.T, disk *backend.RAMDisk, opts ...MountOpt) *FileSystem {
	t.Helper()
	fs, err := Mount(disk, opts...)
	if err != nil {
		t.Fatalf("unable to mount: %v", err)
	}
	return fs
}

// expectPanic runs f and fails the test unless it panics
func expectPanic(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("expected a panic")
		}
	}()
	f()
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7) + seed
	}
	return b
}

func checkBalanced(t *testing.T, fs *FileSystem) {
	t.Helper()
	if n := fs.InUse(); n != 0 {
		t.Errorf("%d inode cache slots still referenced", n)
	}
}

type fakeDevice struct {
	in  bytes.Buffer
	out bytes.Buffer
}

func (d *fakeDevice) Read(dst []byte) (int, error)  { return d.in.Read(dst) }
func (d *fakeDevice) Write(src []byte) (int, error) { return d.out.Write(src) }

func TestCreateAndMount(t *testing.T) {
	fs, disk := testCreateFS(t, testBlocks, &Params{
		Files: []InitialFile{
			{Name: "hello", Type: TypeFile, Data: []byte("hello world\n")},
			{Name: "console", Type: TypeDev, Devid: 1},
		},
	})
	uuid := fs.UUID()
	free := fs.FreeBlocks()

	fs = testRemount(t, disk)
	if fs.UUID() != uuid {
		t.Errorf("uuid changed across mount: %s then %s", uuid, fs.UUID())
	}
	if got := fs.FreeBlocks(); got != free {
		t.Errorf("free blocks %d, expected %d", got, free)
	}
	ip, err := fs.Resolve("/hello")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	b := make([]byte, 64)
	n, err := fs.ReadAt(ip, b, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if diff := cmp.Diff("hello world\n", string(b[:n])); diff != "" {
		t.Errorf("content mismatch (-want +got):\n%s", diff)
	}
	fs.Release(ip)
	checkBalanced(t, fs)
}

func TestCreateParams(t *testing.T) {
	tests := []struct {
		name   string
		blocks uint32
		p      *Params
		err    error
	}{
		{"bad name", testBlocks, &Params{Files: []InitialFile{{Name: "a/b", Type: TypeFile}}}, ErrInvalidName},
		{"duplicate", testBlocks, &Params{Files: []InitialFile{{Name: "a", Type: TypeFile}, {Name: "a", Type: TypeFile}}}, ErrExists},
		{"directory", testBlocks, &Params{Files: []InitialFile{{Name: "d", Type: TypeDir}}}, nil},
		{"too small", 40, &Params{}, nil},
		{"log too large", testBlocks, &Params{LogCapacity: 500}, nil},
		{"too many inodes", testBlocks, &Params{InodeBlocks: 1, Files: []InitialFile{{Name: "a", Type: TypeFile}}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			disk := backend.NewRAMDisk(tt.blocks)
			_, err := Create(disk, tt.p)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if tt.err != nil && !errors.Is(err, tt.err) {
				t.Errorf("error %v, expected %v", err, tt.err)
			}
		})
	}
}

func TestMountGarbage(t *testing.T) {
	disk := backend.NewRAMDisk(testBlocks)
	if _, err := Mount(disk); err == nil {
		t.Errorf("mounting a blank disk succeeded")
	}
}

func TestSuperblockRoundTrip(t *testing.T) {
	fs, _ := testCreateFS(t, testBlocks, nil)
	sb, err := superblockFromBytes(fs.sb.toBytes())
	if err != nil {
		t.Fatal(err)
	}
	if !sb.equal(fs.sb) {
		t.Errorf("superblock mismatch: %+v vs %+v", sb, fs.sb)
	}
	if sb.logCapacity() != DefaultLogCapacity {
		t.Errorf("log capacity %d, expected %d", sb.logCapacity(), DefaultLogCapacity)
	}
}
