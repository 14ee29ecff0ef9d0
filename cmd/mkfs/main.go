// mkfs builds an xkfs image holding the given host files in its root directory.
//
//	mkfs [-image fs.img] [-size blocks] [-log blocks] [-inodes blocks] [-console] file...
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/diskfs/go-xkfs/backend"
	"github.com/diskfs/go-xkfs/filesystem/xkfs"
	"github.com/diskfs/go-xkfs/internal/config"
	log "github.com/sirupsen/logrus"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	cfg := config.Load()
	fl := flag.NewFlagSet("mkfs", flag.ContinueOnError)
	cfg.RegisterFlags(fl)
	size := fl.Uint64("size", uint64(cfg.Blocks), "image size in blocks (XKFS_BLOCKS)")
	logCap := fl.Uint("log", uint(xkfs.DefaultLogCapacity), "log capacity in blocks")
	inodes := fl.Uint("inodes", uint(xkfs.DefaultInodeBlocks), "blocks reserved for the inode file")
	console := fl.Bool("console", true, "add a console device file")
	if err := fl.Parse(args); err != nil {
		return err
	}
	if err := cfg.SetupLogging(); err != nil {
		return err
	}
	if *size == 0 || *size > math.MaxUint32 {
		return fmt.Errorf("image size %d blocks is out of range 1..%d", *size, uint64(math.MaxUint32))
	}
	if *logCap > math.MaxUint32 || *inodes > math.MaxUint32 {
		return fmt.Errorf("log %d or inode file %d blocks out of range", *logCap, *inodes)
	}

	p := &xkfs.Params{
		LogCapacity: uint32(*logCap),
		InodeBlocks: uint32(*inodes),
	}
	for _, name := range fl.Args() {
		data, err := os.ReadFile(name)
		if err != nil {
			return fmt.Errorf("could not read %s: %w", name, err)
		}
		p.Files = append(p.Files, xkfs.InitialFile{
			Name: filepath.Base(name),
			Type: xkfs.TypeFile,
			Data: data,
		})
	}
	if *console {
		p.Files = append(p.Files, xkfs.InitialFile{
			Name:  "console",
			Type:  xkfs.TypeDev,
			Devid: xkfs.ConsoleDev,
		})
	}

	disk, err := backend.CreateFile(cfg.Image, uint32(*size))
	if err != nil {
		return err
	}
	// formatting writes raw blocks outside the log; with -sync=false the
	// single sync below is the only flush
	disk.SetSync(cfg.Sync)
	fs, err := xkfs.Create(disk, p)
	if err != nil {
		_ = disk.Close()
		return err
	}
	log.Infof("%s: %d blocks, %d files, %d blocks free", cfg.Image, *size, len(p.Files), fs.FreeBlocks())
	if err := disk.Sync(); err != nil {
		_ = fs.Close()
		return err
	}
	return fs.Close()
}
