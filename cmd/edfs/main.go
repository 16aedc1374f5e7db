// Command edfs mounts an EdFS image as a FUSE filesystem.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/xerrors"

	"github.com/leiden-edu/edfs/internal/mount"
)

const help = `edfs [flags] <image-file> <mountpoint>

Mount an EdFS image as a FUSE file system.

Example:
  % edfs disk.img /mnt/edfs
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	fset := flag.NewFlagSet("edfs", flag.ExitOnError)
	debug := fset.Bool("debug", false, "log every FUSE op to stderr")
	fset.Usage = func() {
		fmt.Fprintln(os.Stderr, help)
		fset.PrintDefaults()
	}
	if err := fset.Parse(args); err != nil {
		return err
	}

	if fset.NArg() < 2 {
		fset.Usage()
		return xerrors.Errorf("syntax: edfs [flags] <image-file> <mountpoint>")
	}

	rest := fset.Args()
	image := rest[len(rest)-2]
	mountpoint := rest[len(rest)-1]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	join, err := mount.Mount(ctx, image, mountpoint, mount.Config{Debug: *debug})
	if err != nil {
		return xerrors.Errorf("mount: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fuseUnmount(mountpoint)
	}()

	if err := join(ctx); err != nil {
		return xerrors.Errorf("join: %w", err)
	}
	return nil
}

// fuseUnmount requests the kernel unmount the filesystem so Join can
// return.
func fuseUnmount(mountpoint string) {
	if err := syscall.Unmount(mountpoint, 0); err != nil {
		log.Printf("unmounting %s failed: %v", mountpoint, err)
	}
}
