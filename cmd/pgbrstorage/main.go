// Command pgbrstorage is a thin harness proving the storage, WAL-finder,
// and spool packages wire together; it is not the real pgBackRest CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pgbackrest/pgbackrest-sub008/exitcode"
	"github.com/pgbackrest/pgbackrest-sub008/log"
	"github.com/pgbackrest/pgbackrest-sub008/spool"
	"github.com/pgbackrest/pgbackrest-sub008/storage"
	"github.com/pgbackrest/pgbackrest-sub008/storage/posix"
	"github.com/pgbackrest/pgbackrest-sub008/walfind"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	logger := log.New()
	ctx := context.Background()

	switch os.Args[1] {
	case "list":
		runList(ctx, os.Args[2:])
	case "archive-find":
		runArchiveFind(ctx, os.Args[2:])
	case "archive-check":
		runArchiveCheck(ctx, os.Args[2:], logger)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: pgbrstorage <list|archive-find|archive-check> [flags]")
}

func runList(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	root := fs.String("root", ".", "posix storage root")
	path := fs.String("path", "", "path to list, relative to root")
	_ = fs.Parse(args)

	store := posix.New(*root, nil)
	entries, err := store.List(ctx, *path, storage.LevelBasic, time.Time{})
	if err != nil {
		fail(err)
	}
	for _, e := range entries {
		fmt.Printf("%s\t%d\t%v\n", e.Name, e.Info.Size, e.Info.Exists)
	}
}

func runArchiveFind(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("archive-find", flag.ExitOnError)
	root := fs.String("root", ".", "posix storage root")
	archiveID := fs.String("archive-id", "", "archive id, e.g. main-1")
	segment := fs.String("segment", "", "WAL segment name")
	timeout := fs.Duration("timeout", 0, "how long to wait for the segment to appear")
	single := fs.Bool("single", true, "single-segment lookup (vs. multi-segment sequential scan)")
	compressExt := fs.String("compress-ext", "", "archived segment compression suffix, e.g. gz")
	_ = fs.Parse(args)

	store := posix.New(*root, nil)
	finder := walfind.New(store, *archiveID, *single, *timeout, *compressExt)

	found, err := finder.Find(ctx, *segment)
	if err != nil {
		fail(err)
	}
	if found == "" {
		fmt.Println("not found")
		os.Exit(1)
	}
	fmt.Println(found)
}

func runArchiveCheck(ctx context.Context, args []string, logger log.Logger) {
	fs := flag.NewFlagSet("archive-check", flag.ExitOnError)
	root := fs.String("root", ".", "spool storage root")
	segment := fs.String("segment", "", "WAL segment name")
	confess := fs.Bool("confess", true, "raise an error when the segment's status file is an .error")
	_ = fs.Parse(args)

	store := posix.New(*root, nil)
	ok, err := spool.Check(ctx, store, *segment, *confess, logger)
	if err != nil {
		fail(err)
	}
	fmt.Println(ok)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "pgbrstorage:", err)
	os.Exit(exitcode.ForError(err))
}
