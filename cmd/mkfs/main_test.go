package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/diskfs/go-xkfs/backend"
	"github.com/diskfs/go-xkfs/filesystem/xkfs"
	"github.com/go-test/deep"
)

func TestMkfs(t *testing.T) {
	for _, k := range []string{"XKFS_IMAGE", "XKFS_BLOCKS", "XKFS_LOG_LEVEL", "XKFS_SYNC"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	host := filepath.Join(dir, "init")
	if err := os.WriteFile(host, []byte("#!init\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	img := filepath.Join(dir, "fs.img")
	if err := run([]string{"-image", img, "-size", "1024", "-log-level", "error", host}); err != nil {
		t.Fatal(err)
	}

	disk, err := backend.OpenFile(img)
	if err != nil {
		t.Fatal(err)
	}
	fs, err := xkfs.Mount(disk)
	if err != nil {
		t.Fatal(err)
	}
	defer fs.Close()
	if disk.Blocks() != 1024 {
		t.Errorf("image has %d blocks", disk.Blocks())
	}
	entries, err := fs.ReadDir("/")
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	if diff := deep.Equal(names, []string{".", "..", "init", "console"}); diff != nil {
		t.Error(diff)
	}
}

func TestMkfsMissingFile(t *testing.T) {
	img := filepath.Join(t.TempDir(), "fs.img")
	if err := run([]string{"-image", img, "-log-level", "error", "/nonexistent/file"}); err == nil {
		t.Error("mkfs with a missing host file succeeded")
	}
}

func TestMkfsSizeRange(t *testing.T) {
	img := filepath.Join(t.TempDir(), "fs.img")
	for _, size := range []string{"0", "4294967296", "8589934592"} {
		if err := run([]string{"-image", img, "-size", size, "-log-level", "error"}); err == nil {
			t.Errorf("mkfs -size %s succeeded", size)
		}
	}
	if _, err := os.Stat(img); err == nil {
		t.Errorf("rejected size still created %s", img)
	}
}
