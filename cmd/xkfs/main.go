// xkfs inspects and edits xkfs disk images.
//
//	xkfs [-image fs.img] info
//	xkfs ls [path]
//	xkfs cat path
//	xkfs put hostfile [name]
//	xkfs rm name
//	xkfs dump [-codec zstd] snapshot
//	xkfs restore snapshot
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/diskfs/go-xkfs/backend"
	"github.com/diskfs/go-xkfs/filesystem/xkfs"
	"github.com/diskfs/go-xkfs/image"
	"github.com/diskfs/go-xkfs/internal/config"
	"github.com/djherbis/times"
	log "github.com/sirupsen/logrus"
)

var errUsage = errors.New("usage: xkfs [flags] info|ls|cat|put|rm|dump|restore [args]")

type command func(cfg *config.Config, args []string, out io.Writer) error

var commands = map[string]command{
	"info":    info,
	"ls":      ls,
	"cat":     cat,
	"put":     put,
	"rm":      rm,
	"dump":    dump,
	"restore": restore,
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, out io.Writer) error {
	cfg := config.Load()
	fl := flag.NewFlagSet("xkfs", flag.ContinueOnError)
	cfg.RegisterFlags(fl)
	fl.StringVar(&cfg.Codec, "codec", cfg.Codec, "snapshot codec for dump (XKFS_CODEC)")
	if err := fl.Parse(args); err != nil {
		return err
	}
	if err := cfg.SetupLogging(); err != nil {
		return err
	}
	if fl.NArg() == 0 {
		return errUsage
	}
	cmd, ok := commands[fl.Arg(0)]
	if !ok {
		return fmt.Errorf("unknown command %q: %w", fl.Arg(0), errUsage)
	}
	return cmd(cfg, fl.Args()[1:], out)
}

// openImage opens the configured image, flushing every write unless -sync=false
func openImage(cfg *config.Config) (*backend.FileDisk, error) {
	disk, err := backend.OpenFile(cfg.Image)
	if err != nil {
		return nil, err
	}
	disk.SetSync(cfg.Sync)
	if !cfg.Sync {
		log.Warnf("%s: writes are not flushed, a crash can corrupt the log", cfg.Image)
	}
	return disk, nil
}

// mount opens the configured image and replays its log
func mount(cfg *config.Config) (*xkfs.FileSystem, error) {
	disk, err := openImage(cfg)
	if err != nil {
		return nil, err
	}
	fs, err := xkfs.Mount(disk)
	if err != nil {
		_ = disk.Close()
		return nil, err
	}
	return fs, nil
}

func info(cfg *config.Config, _ []string, out io.Writer) error {
	fs, err := mount(cfg)
	if err != nil {
		return err
	}
	defer fs.Close()
	g := fs.Geometry()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "uuid\t%s\n", fs.UUID())
	fmt.Fprintf(w, "size\t%d blocks\n", g.Size)
	fmt.Fprintf(w, "data blocks\t%d\n", g.DataBlocks)
	fmt.Fprintf(w, "free blocks\t%d\n", fs.FreeBlocks())
	fmt.Fprintf(w, "bitmap\t%d\n", g.BitmapStart)
	fmt.Fprintf(w, "log\t%d (%d blocks)\n", g.LogStart, g.LogCapacity)
	fmt.Fprintf(w, "inodes\t%d\n", g.InodeStart)

	t, err := times.Stat(cfg.Image)
	if err != nil {
		log.Warnf("could not stat %s: %v", cfg.Image, err)
	} else {
		fmt.Fprintf(w, "modified\t%s\n", t.ModTime())
		fmt.Fprintf(w, "accessed\t%s\n", t.AccessTime())
		if t.HasChangeTime() {
			fmt.Fprintf(w, "changed\t%s\n", t.ChangeTime())
		}
		if t.HasBirthTime() {
			fmt.Fprintf(w, "created\t%s\n", t.BirthTime())
		}
	}
	return w.Flush()
}

func ls(cfg *config.Config, args []string, out io.Writer) error {
	path := "/"
	if len(args) > 0 {
		path = args[0]
	}
	fs, err := mount(cfg)
	if err != nil {
		return err
	}
	defer fs.Close()
	entries, err := fs.ReadDir(path)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", e.Stat.Ino, e.Stat.Type, e.Stat.Size, e.Name)
	}
	return w.Flush()
}

func cat(cfg *config.Config, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errUsage
	}
	fs, err := mount(cfg)
	if err != nil {
		return err
	}
	defer fs.Close()
	ip, err := fs.Resolve(args[0])
	if err != nil {
		return err
	}
	defer fs.Release(ip)
	st := fs.Stat(ip)
	if st.Type != xkfs.TypeFile {
		return fmt.Errorf("%s is a %s", args[0], st.Type)
	}
	buf := make([]byte, xkfs.BlockSize*8)
	for off := uint32(0); ; {
		n, err := fs.ReadAt(ip, buf, off)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if _, err := out.Write(buf[:n]); err != nil {
			return err
		}
		off += uint32(n)
	}
}

func put(cfg *config.Config, args []string, out io.Writer) error {
	if len(args) < 1 || len(args) > 2 {
		return errUsage
	}
	name := filepath.Base(args[0])
	if len(args) == 2 {
		name = args[1]
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	fs, err := mount(cfg)
	if err != nil {
		return err
	}
	defer fs.Close()
	ip, err := fs.Create(name)
	if err != nil {
		return err
	}
	defer fs.Release(ip)
	n, err := fs.WriteAt(ip, data, 0)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: inode %d, %d bytes\n", name, ip.Inum(), n)
	return nil
}

func rm(cfg *config.Config, args []string, _ io.Writer) error {
	if len(args) != 1 {
		return errUsage
	}
	fs, err := mount(cfg)
	if err != nil {
		return err
	}
	defer fs.Close()
	ip, err := fs.Resolve(args[0])
	if err != nil {
		return err
	}
	if refs := fs.Refs(ip); refs > 1 {
		fs.Release(ip)
		return fmt.Errorf("%s is busy (%d references)", args[0], refs)
	}
	return fs.Delete(ip)
}

func dump(cfg *config.Config, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errUsage
	}
	// mount first so the snapshot never carries an unreplayed log
	fs, err := mount(cfg)
	if err != nil {
		return err
	}
	defer fs.Close()
	disk, err := openImage(cfg)
	if err != nil {
		return err
	}
	defer disk.Close()
	return image.Snapshot(disk, args[0], image.Codec(cfg.Codec))
}

func restore(cfg *config.Config, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errUsage
	}
	ram, err := image.Restore(args[0])
	if err != nil {
		return err
	}
	disk, err := backend.CreateFile(cfg.Image, ram.Blocks())
	if err != nil {
		return err
	}
	disk.SetSync(false)
	buf := make([]byte, backend.BlockSize)
	for n := uint32(0); n < ram.Blocks(); n++ {
		if err := ram.ReadBlock(n, buf); err != nil {
			_ = disk.Close()
			return err
		}
		if err := disk.WriteBlock(n, buf); err != nil {
			_ = disk.Close()
			return err
		}
	}
	if err := disk.Sync(); err != nil {
		_ = disk.Close()
		return err
	}
	fmt.Fprintf(out, "restored %d blocks to %s\n", ram.Blocks(), cfg.Image)
	return disk.Close()
}
