package xkfs

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testCreateFile(t *testing.T, fs *FileSystem, name string) *Inode {
	t.Helper()
	ip, err := fs.Create(name)
	if err != nil {
		t.Fatalf("create %q: %v", name, err)
	}
	return ip
}

func readAll(t *testing.T, fs *FileSystem, ip *Inode) []byte {
	t.Helper()
	b := make([]byte, fs.Stat(ip).Size)
	n, err := fs.ReadAt(ip, b, 0)
	if err != nil {
		t.Fatal(err)
	}
	return b[:n]
}

func TestWriteReadRoundTrip(t *testing.T) {
	sizes := []int{1, 511, 512, 513, 10000, 40000}
	for _, size := range sizes {
		fs, disk := testCreateFS(t, testBlocks, nil)
		ip := testCreateFile(t, fs, "data")
		data := pattern(size, byte(size))
		n, err := fs.WriteAt(ip, data, 0)
		if err != nil || n != size {
			t.Fatalf("size %d: wrote %d, %v", size, n, err)
		}
		if got := fs.Stat(ip).Size; got != uint32(size) {
			t.Errorf("size %d: stat size %d", size, got)
		}
		if !bytes.Equal(readAll(t, fs, ip), data) {
			t.Errorf("size %d: read back different data", size)
		}
		fs.Release(ip)
		checkBalanced(t, fs)

		fs = testRemount(t, disk)
		ip, err = fs.Resolve("data")
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(readAll(t, fs, ip), data) {
			t.Errorf("size %d: data lost across mount", size)
		}
		fs.Release(ip)
	}
}

func TestLargeWriteIsOneExtent(t *testing.T) {
	fs, _ := testCreateFS(t, testBlocks, nil)
	ip := testCreateFile(t, fs, "big")
	defer fs.Release(ip)

	// several transactions, one allocation sized for the whole write
	size := 40000
	if _, err := fs.WriteAt(ip, pattern(size, 1), 0); err != nil {
		t.Fatal(err)
	}
	if ip.numExtents != 1 {
		t.Fatalf("%d extents, expected 1", ip.numExtents)
	}
	if want := uint32((size + 511) / 512); ip.extents[0].nblocks != want {
		t.Errorf("extent of %d blocks, expected %d", ip.extents[0].nblocks, want)
	}
	if fs.log.commits < 3 {
		t.Errorf("only %d transactions for a write larger than the log", fs.log.commits)
	}
}

func TestReadBounds(t *testing.T) {
	fs, _ := testCreateFS(t, testBlocks, nil)
	ip := testCreateFile(t, fs, "f")
	defer fs.Release(ip)
	if _, err := fs.WriteAt(ip, []byte("0123456789"), 0); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		off  uint32
		n    int
		want string
	}{
		{0, 4, "0123"},
		{8, 10, "89"},
		{10, 4, ""},
		{100, 4, ""},
	}
	for _, tt := range tests {
		b := make([]byte, tt.n)
		n, err := fs.ReadAt(ip, b, tt.off)
		if err != nil {
			t.Fatalf("read at %d: %v", tt.off, err)
		}
		if diff := cmp.Diff(tt.want, string(b[:n])); diff != "" {
			t.Errorf("read at %d (-want +got):\n%s", tt.off, diff)
		}
	}
}

func TestOverwriteAndAppend(t *testing.T) {
	fs, _ := testCreateFS(t, testBlocks, nil)
	ip := testCreateFile(t, fs, "f")
	defer fs.Release(ip)

	want := pattern(2000, 0)
	if _, err := fs.WriteAt(ip, want, 0); err != nil {
		t.Fatal(err)
	}
	patch := bytes.Repeat([]byte{'x'}, 700)
	if _, err := fs.WriteAt(ip, patch, 600); err != nil {
		t.Fatal(err)
	}
	copy(want[600:], patch)
	tail := pattern(300, 77)
	if _, err := fs.WriteAt(ip, tail, 2000); err != nil {
		t.Fatal(err)
	}
	want = append(want, tail...)

	if !bytes.Equal(readAll(t, fs, ip), want) {
		t.Errorf("content differs after overwrite and append")
	}
	// 2000 bytes fill 4 blocks, so the append only needs one more extent
	if ip.numExtents != 2 {
		t.Errorf("%d extents, expected 2", ip.numExtents)
	}
}

func TestWritePastEnd(t *testing.T) {
	fs, _ := testCreateFS(t, testBlocks, nil)
	ip := testCreateFile(t, fs, "sparse")
	defer fs.Release(ip)

	if _, err := fs.WriteAt(ip, []byte("head"), 0); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.WriteAt(ip, []byte("tail"), 3000); err != nil {
		t.Fatal(err)
	}
	if size := fs.Stat(ip).Size; size != 3004 {
		t.Errorf("size %d, expected 3004", size)
	}
	b := make([]byte, 4)
	if n, _ := fs.ReadAt(ip, b, 3000); string(b[:n]) != "tail" {
		t.Errorf("read %q at 3000", b[:n])
	}
	if ip.owned().blockCount() != 6 {
		t.Errorf("%d blocks allocated, expected 6", ip.owned().blockCount())
	}
}

func TestExtentLimit(t *testing.T) {
	fs, _ := testCreateFS(t, testBlocks, nil)
	ip := testCreateFile(t, fs, "frag")
	block := pattern(int(BlockSize), 2)
	for i := 0; i < MaxExtents; i++ {
		if _, err := fs.WriteAt(ip, block, uint32(i)*BlockSize); err != nil {
			t.Fatal(err)
		}
	}
	if ip.numExtents != MaxExtents {
		t.Fatalf("%d extents, expected %d", ip.numExtents, MaxExtents)
	}
	expectPanic(t, func() {
		_, _ = fs.WriteAt(ip, block, uint32(MaxExtents)*BlockSize)
	})
}

func TestWriteRange(t *testing.T) {
	fs, _ := testCreateFS(t, testBlocks, nil)
	ip := testCreateFile(t, fs, "f")
	defer fs.Release(ip)
	if _, err := fs.WriteAt(ip, []byte("ab"), 0xffffffff); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("write past 4GiB: %v", err)
	}
}

func TestWriteCrash(t *testing.T) {
	tests := []struct {
		name      string
		committed bool
	}{
		{"after commit point", true},
		{"before commit point", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, disk := testCreateFS(t, testBlocks, &Params{
				Files: []InitialFile{{Name: "f", Type: TypeFile, Data: []byte("old")}},
			})
			free := fs.FreeBlocks()
			ip, err := fs.Resolve("f")
			if err != nil {
				t.Fatal(err)
			}
			data := pattern(1500, 4)

			fs.log.begin()
			o := fs.newOp()
			o.lock(ip)
			o.writei(ip, data, 0, uint32(len(data)))
			if tt.committed {
				fs.log.markValid()
			}

			fs = testRemount(t, disk)
			ip, err = fs.Resolve("f")
			if err != nil {
				t.Fatal(err)
			}
			defer fs.Release(ip)
			want, wantFree := []byte("old"), free
			if tt.committed {
				want, wantFree = data, free-2
			}
			if !bytes.Equal(readAll(t, fs, ip), want) {
				t.Errorf("wrong content after recovery")
			}
			if got := fs.FreeBlocks(); got != wantFree {
				t.Errorf("free blocks %d, expected %d", got, wantFree)
			}
		})
	}
}

func TestDeviceInode(t *testing.T) {
	dev := &fakeDevice{}
	dev.in.WriteString("typed")
	devices := NewDevices()
	if err := devices.Register(1, dev); err != nil {
		t.Fatal(err)
	}
	fs, _ := testCreateFS(t, testBlocks, &Params{
		Files: []InitialFile{{Name: "console", Type: TypeDev, Devid: 1}, {Name: "null", Type: TypeDev, Devid: 5}},
	}, WithDevices(devices))

	ip, err := fs.Resolve("/console")
	if err != nil {
		t.Fatal(err)
	}
	defer fs.Release(ip)
	if _, err := fs.WriteAt(ip, []byte("printed"), 99); err != nil {
		t.Fatal(err)
	}
	if got := dev.out.String(); got != "printed" {
		t.Errorf("device received %q", got)
	}
	b := make([]byte, 16)
	n, err := fs.ReadAt(ip, b, 0)
	if err != nil || string(b[:n]) != "typed" {
		t.Errorf("device read %q, %v", b[:n], err)
	}
	if st := fs.Stat(ip); st.Type != TypeDev || st.Size != 0 {
		t.Errorf("device stat %+v", st)
	}

	null, err := fs.Resolve("/null")
	if err != nil {
		t.Fatal(err)
	}
	defer fs.Release(null)
	if _, err := fs.ReadAt(null, b, 0); !errors.Is(err, ErrNoDevice) {
		t.Errorf("read from unregistered device: %v", err)
	}
	if err := devices.Register(MaxDevices, dev); !errors.Is(err, ErrNoDevice) {
		t.Errorf("registered an out of range device: %v", err)
	}
}

func TestConcurrentWriters(t *testing.T) {
	fs, _ := testCreateFS(t, 4096, nil)
	const workers = 8
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			name := fmt.Sprintf("w%d", w)
			ip, err := fs.Create(name)
			if err != nil {
				t.Errorf("create %s: %v", name, err)
				return
			}
			defer fs.Release(ip)
			data := pattern(5000+w*100, byte(w))
			for off := 0; off < len(data); off += 1000 {
				end := min(off+1000, len(data))
				if _, err := fs.WriteAt(ip, data[off:end], uint32(off)); err != nil {
					t.Errorf("write %s: %v", name, err)
					return
				}
			}
			got := make([]byte, len(data))
			if n, err := fs.ReadAt(ip, got, 0); err != nil || n != len(data) || !bytes.Equal(got, data) {
				t.Errorf("%s: read %d bytes, %v", name, n, err)
			}
		}(w)
	}
	wg.Wait()
	list, err := fs.ReadDir("/")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != workers+2 {
		t.Errorf("%d entries, expected %d", len(list), workers+2)
	}
	checkBalanced(t, fs)
}
