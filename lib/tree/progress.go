package tree

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/archivemount/archivemount/lib/clock"
)

// ProgressReporter emits spec §4.1's "Loading P%" line at most once
// per second, during bootstrap only. If out is a terminal, each
// emission overwrites the previous line with an ANSI cursor-up +
// clear-line prefix; otherwise it logs at info severity, since a
// redirected stream has no concept of "the previous line".
type ProgressReporter struct {
	clock   clock.Clock
	logger  *slog.Logger
	out     io.Writer
	isTTY   bool
	quiet   bool
	lastAt  int64 // unix seconds of the last emission, 0 before the first
	emitted bool
}

// NewProgressReporter builds a reporter. out/isTTY describe where the
// terminal-style overwrite goes (archivemount's original writes
// directly to stderr); logger receives the equivalent info-level
// record when out is not a terminal.
func NewProgressReporter(c clock.Clock, logger *slog.Logger, out io.Writer, isTTY, quiet bool) *ProgressReporter {
	return &ProgressReporter{clock: c, logger: logger, out: out, isTTY: isTTY, quiet: quiet}
}

// Report is called after every header advance with the current
// high-water mark and the archive's total size (or entry count — see
// archivefmt.ProgressReporter). It is a no-op in quiet mode, and a
// no-op while the clock's whole-second Unix time is still the one of
// the last emission.
func (r *ProgressReporter) Report(consumed, total int64) {
	if r.quiet || total <= 0 {
		return
	}

	now := r.clock.Now().Unix()
	if r.emitted && now == r.lastAt {
		return
	}
	r.lastAt = now
	r.emitted = true

	percent := consumed * 100 / total
	if percent > 100 {
		percent = 100
	}

	if r.isTTY {
		fmt.Fprintf(r.out, "\x1b[1A\x1b[2K\rLoading %d%%\n", percent)
		return
	}
	r.logger.Info("loading", "percent", percent)
}

// Done clears the progress line (terminal mode only) once bootstrap
// finishes, so the final "Loading 100%" does not linger above the
// next output.
func (r *ProgressReporter) Done() {
	if r.quiet || !r.isTTY || !r.emitted {
		return
	}
	fmt.Fprint(r.out, "\x1b[1A\x1b[2K\r")
}
