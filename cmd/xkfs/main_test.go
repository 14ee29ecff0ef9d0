package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/diskfs/go-xkfs/backend"
	"github.com/diskfs/go-xkfs/filesystem/xkfs"
	"github.com/diskfs/go-xkfs/internal/config"
)

func testImage(t *testing.T) string {
	t.Helper()
	for _, k := range []string{"XKFS_IMAGE", "XKFS_BLOCKS", "XKFS_LOG_LEVEL", "XKFS_SYNC", "XKFS_CODEC"} {
		t.Setenv(k, "")
	}
	path := filepath.Join(t.TempDir(), "fs.img")
	disk, err := backend.CreateFile(path, 2048)
	if err != nil {
		t.Fatal(err)
	}
	disk.SetSync(false)
	fs, err := xkfs.Create(disk, &xkfs.Params{Files: []xkfs.InitialFile{
		{Name: "hello", Type: xkfs.TypeFile, Data: []byte("hello, world\n")},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func xk(t *testing.T, img string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	if err := run(append([]string{"-image", img, "-log-level", "error"}, args...), &out); err != nil {
		t.Fatalf("xkfs %v: %v", args, err)
	}
	return out.String()
}

func TestCommands(t *testing.T) {
	img := testImage(t)
	if got := xk(t, img, "cat", "hello"); got != "hello, world\n" {
		t.Errorf("cat hello = %q", got)
	}

	host := filepath.Join(t.TempDir(), "notes.txt")
	data := bytes.Repeat([]byte("xkfs "), 400)
	if err := os.WriteFile(host, data, 0o644); err != nil {
		t.Fatal(err)
	}
	xk(t, img, "put", host)
	if got := xk(t, img, "cat", "/notes.txt"); got != string(data) {
		t.Errorf("cat notes.txt returned %d bytes, want %d", len(got), len(data))
	}
	listing := xk(t, img, "ls")
	for _, name := range []string{"hello", "notes.txt"} {
		if !strings.Contains(listing, name) {
			t.Errorf("ls missing %s:\n%s", name, listing)
		}
	}

	xk(t, img, "rm", "hello")
	if strings.Contains(xk(t, img, "ls", "/"), "hello") {
		t.Errorf("hello still listed after rm")
	}

	info := xk(t, img, "info")
	for _, field := range []string{"uuid", "free blocks", "modified"} {
		if !strings.Contains(info, field) {
			t.Errorf("info missing %q:\n%s", field, info)
		}
	}
}

func TestDumpRestore(t *testing.T) {
	img := testImage(t)
	snap := filepath.Join(t.TempDir(), "fs.snap")
	xk(t, img, "-codec", "gzip", "dump", snap)

	restored := filepath.Join(t.TempDir(), "restored.img")
	xk(t, restored, "restore", snap)
	if got := xk(t, restored, "cat", "hello"); got != "hello, world\n" {
		t.Errorf("cat after restore = %q", got)
	}
}

func TestUsage(t *testing.T) {
	img := testImage(t)
	var out bytes.Buffer
	for _, args := range [][]string{
		{},
		{"frobnicate"},
		{"cat"},
		{"rm", "a", "b"},
	} {
		if err := run(append([]string{"-image", img}, args...), &out); err == nil {
			t.Errorf("xkfs %v succeeded", args)
		}
	}
	if err := run([]string{"-image", img, "cat", "missing"}, &out); err == nil {
		t.Errorf("cat of a missing file succeeded")
	}
}

func TestOpenImageFlushesWrites(t *testing.T) {
	img := testImage(t)
	cfg := config.Load()
	cfg.Image = img
	disk, err := openImage(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !disk.Synced() {
		t.Errorf("image opened without flushing writes by default")
	}
	disk.Close()

	t.Setenv("XKFS_SYNC", "false")
	cfg = config.Load()
	cfg.Image = img
	if disk, err = openImage(cfg); err != nil {
		t.Fatal(err)
	}
	if disk.Synced() {
		t.Errorf("XKFS_SYNC=false still flushes every write")
	}
	disk.Close()
}
