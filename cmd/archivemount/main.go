// Copyright 2026 The Archivemount Authors
// SPDX-License-Identifier: Apache-2.0

// archivemount mounts the contents of a single archive file (tar,
// zip, rar, 7z, or a raw single-stream compressed file) as a
// read-only FUSE filesystem. The whole directory tree is discovered
// once, up front, by a single forward scan of the archive; after
// that the mount serves reads from a bounded pool of decompression
// streams without ever re-scanning headers it has already seen.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/archivemount/archivemount/lib/archivefmt"
	"github.com/archivemount/archivemount/lib/clock"
	"github.com/archivemount/archivemount/lib/cliexit"
	"github.com/archivemount/archivemount/lib/engine"
	"github.com/archivemount/archivemount/lib/mountfs"
	"github.com/archivemount/archivemount/lib/passphrase"
	"github.com/archivemount/archivemount/lib/redactlog"
	"github.com/archivemount/archivemount/lib/sidebuffer"
	"github.com/archivemount/archivemount/lib/tree"
	"github.com/archivemount/archivemount/lib/version"
)

// discardedOptions are legacy -o suboptions accepted for
// command-line compatibility with older archivemount releases and
// silently ignored (spec §6.5).
var discardedOptions = map[string]bool{
	"passphrase": true,
	"formatraw":  true,
	"nobackup":   true,
	"nosave":     true,
	"readonly":   true,
}

func main() {
	if err := run(); err != nil {
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			fmt.Fprintf(os.Stderr, "archivemount: %v\n", err)
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "archivemount: %v\n", err)
		os.Exit(int(cliexit.CodeGeneric))
	}
}

func run() error {
	var (
		quiet       bool
		verbose     bool
		redact      bool
		showVersion bool
		mountOpts   string
	)

	flagSet := pflag.NewFlagSet("archivemount", pflag.ContinueOnError)
	flagSet.BoolVarP(&quiet, "quiet", "q", false, "suppress progress and informational output")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")
	flagSet.BoolVar(&redact, "redact", false, "replace archive/entry pathnames with \"(redacted)\" in log output")
	flagSet.BoolVarP(&showVersion, "version", "V", false, "print version information and exit")
	flagSet.StringVarP(&mountOpts, "options", "o", "", "comma-separated FUSE mount options, passed through to the kernel")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return cliexit.New(cliexit.CodeGeneric, err.Error())
	}

	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if showVersion {
		version.Print("archivemount")
		return nil
	}

	args := flagSet.Args()
	if len(args) < 1 {
		printHelp(flagSet)
		return cliexit.New(cliexit.CodeGeneric, "missing required argument: archive_file")
	}
	archivePath := args[0]

	mountPoint := ""
	if len(args) >= 2 {
		mountPoint = args[1]
	}

	logger := newLogger(quiet, verbose, redact)

	if mountPoint == "" {
		derived, err := defaultMountPoint(archivePath)
		if err != nil {
			return cliexit.Wrap(cliexit.CodeGeneric, "deriving default mount point", err)
		}
		mountPoint = derived
	}
	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		return cliexit.Wrap(cliexit.CodeGeneric, "creating mount point", err)
	}

	isTTY := isTerminal(os.Stderr)
	pool := sidebuffer.New(sidebuffer.DefaultCount, sidebuffer.DefaultLength)
	progress := tree.NewProgressReporter(clock.Real(), logger, os.Stderr, isTTY, quiet)

	result, err := tree.Run(tree.Bootstrap{
		ArchivePath: archivePath,
		Logger:      logger,
		Pool:        pool,
		Progress:    progress,
		Prompter:    passphrase.NewPrompter(),
	})
	if err != nil {
		return err
	}

	uid, gid := engine.DefaultUIDGID()
	eng := engine.New(result, pool, archivePath, defaultReaderCacheSize, engine.Config{
		UID:    uid,
		GID:    gid,
		Redact: redact,
	}, logger)

	allowOther, debug := parseMountOptions(mountOpts)

	server, err := mountfs.Mount(mountfs.Options{
		Mountpoint: mountPoint,
		Engine:     eng,
		AllowOther: allowOther,
		Debug:      debug || verbose,
	})
	if err != nil {
		return cliexit.Wrap(cliexit.CodeCannotOpenArchive, "mounting filesystem", err)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		server.Unmount()
	}()

	server.Wait()
	eng.ReaderCache.CloseAll()
	return nil
}

const defaultReaderCacheSize = 8

// maxMountPointAttempts bounds defaultMountPoint's collision-avoidance
// loop so a directory that is somehow never free (or a filesystem that
// never returns ENOENT) fails with a clear error instead of spinning
// forever.
const maxMountPointAttempts = 1000

// defaultMountPoint derives spec §6.5's default mount point: the
// archive's stem, with " (1)", " (2)", ... appended until a directory
// that does not already exist is found.
func defaultMountPoint(archivePath string) (string, error) {
	stem := archivefmt.StripArchiveExtension(filepath.Base(archivePath))
	candidate := stem
	for attempt := 0; attempt < maxMountPointAttempts; attempt++ {
		if attempt > 0 {
			candidate = fmt.Sprintf("%s (%d)", stem, attempt)
		}
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		} else if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("no free mount point found near %q after %d attempts", stem, maxMountPointAttempts)
}

// parseMountOptions splits a comma-separated -o value into the two
// pass-through flags this engine actually honors (allow_other,
// debug), silently dropping every legacy compatibility suboption
// (spec §6.5) and any option the kernel driver handles on its own
// (e.g. ro, which this engine always forces regardless).
func parseMountOptions(raw string) (allowOther, debug bool) {
	for _, opt := range strings.Split(raw, ",") {
		opt = strings.TrimSpace(opt)
		switch {
		case opt == "":
		case discardedOptions[opt]:
		case opt == "allow_other":
			allowOther = true
		case opt == "debug":
			debug = true
		}
	}
	return allowOther, debug
}

func newLogger(quiet, verbose, redact bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if quiet {
		level = slog.LevelWarn
	}

	var handler slog.Handler
	options := &slog.HandlerOptions{Level: level}
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(redactlog.Wrap(handler, redact))
}

// isTerminal reports whether f is attached to an interactive terminal,
// the basis for choosing a human-readable vs. structured log encoding
// and for the progress reporter's overwrite-in-place behavior.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `archivemount — mount an archive file as a read-only filesystem.

Usage:
  archivemount [flags] <archive_file> [mount_point]

If mount_point is omitted, it defaults to the archive filename's
stem in the current directory; a numbered suffix is appended if that
directory already exists.

Flags:
%s`, flagSet.FlagUsages())
}
