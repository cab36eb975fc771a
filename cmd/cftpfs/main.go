// Command cftpfs mounts a remote FTP server as a local filesystem.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse/nodefs"
	"github.com/hanwen/go-fuse/v2/fuse/pathfs"
	"github.com/spf13/pflag"

	"github.com/cftpfs/cftpfs/internal/cftpfs"
	"github.com/cftpfs/cftpfs/internal/cftpfslog"
)

func main() {
	opts := cftpfs.DefaultOptions()

	var (
		cacheTimeout time.Duration
		vscode       bool
		foreground   bool
		help         bool
	)

	flags := pflag.NewFlagSet("cftpfs", pflag.ContinueOnError)
	flags.IntVarP(&opts.Port, "port", "p", opts.Port, "FTP server port")
	flags.StringVarP(&opts.User, "user", "u", opts.User, "FTP username")
	flags.StringVarP(&opts.Password, "password", "P", opts.Password, "FTP password")
	flags.StringVarP(&opts.Encoding, "encoding", "e", opts.Encoding, "remote filename encoding")
	flags.DurationVarP(&cacheTimeout, "cache-timeout", "c", opts.CacheTimeout, "directory listing cache timeout (5s-300s)")
	flags.BoolVar(&vscode, "vscode", false, "shortcut for --cache-timeout=60s, tuned for editors that poll directories")
	flags.BoolVarP(&opts.Debug, "debug", "d", false, "verbose logging")
	flags.BoolVarP(&foreground, "foreground", "f", false, "do not daemonize")
	flags.BoolVar(&opts.LegacyPrefixInvalidate, "legacy-prefix-invalidate", false, "reproduce the over-broad raw-prefix cache invalidation instead of the corrected component-aware one")
	flags.BoolVarP(&help, "help", "h", false, "show usage")

	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}
	if help || flags.NArg() != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <host> <mountpoint>\n", os.Args[0])
		flags.PrintDefaults()
		if help {
			os.Exit(0)
		}
		os.Exit(1)
	}
	opts.Host = flags.Arg(0)
	mountpoint := flags.Arg(1)

	if vscode {
		cacheTimeout = 60 * time.Second
	}
	opts.CacheTimeout = cftpfs.ClampCacheTimeout(cacheTimeout)

	cftpfslog.Configure(opts.Debug)

	if !foreground {
		if daemonized, err := daemonize(); err != nil {
			fmt.Fprintf(os.Stderr, "cftpfs: daemonize: %v\n", err)
			os.Exit(1)
		} else if daemonized {
			return
		}
	}

	if err := run(opts, mountpoint); err != nil {
		fmt.Fprintf(os.Stderr, "cftpfs: %v\n", err)
		os.Exit(1)
	}
}

func run(opts cftpfs.Options, mountpoint string) error {
	ctx, err := cftpfs.NewContext(opts)
	if err != nil {
		return err
	}
	defer ctx.Close()

	nfs := pathfs.NewPathNodeFs(cftpfs.NewFileSystem(ctx), nil)
	server, _, err := nodefs.MountRoot(mountpoint, nfs.Root(), &nodefs.Options{
		EntryTimeout:    opts.CacheTimeout,
		AttrTimeout:     opts.CacheTimeout,
		NegativeTimeout: opts.CacheTimeout,
		Debug:           opts.Debug,
	})
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		server.Unmount()
	}()

	cftpfslog.Logf(opts.Host, "mounted on %s", mountpoint)
	server.Serve()
	return nil
}
