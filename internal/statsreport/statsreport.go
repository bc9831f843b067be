// Package statsreport reports pipeline progress and final run counters.
// Grounded on pmtiles/progress.go's ProgressWriter/Progress interfaces
// and schollz/progressbar/v3-backed implementation, but per spec.md §9's
// "Global stats sink" design note, the package-level global+mutex
// (progress.go's progressWriter/progressWriterMu) is replaced with a
// single explicitly-passed Reporter handle — no package state.
package statsreport

import (
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"github.com/tileforge-dev/tileforge/internal/tferrors"
)

// ProgressWriter creates Progress trackers for count- or byte-based
// operations. Pass a *QuietWriter to suppress output entirely.
type ProgressWriter interface {
	NewCountProgress(total int64, description string) Progress
	NewBytesProgress(total int64, description string) Progress
}

// Progress is one active progress tracker.
type Progress interface {
	io.Writer
	Add(num int)
	Close() error
}

// DefaultWriter renders progress bars via schollz/progressbar/v3.
type DefaultWriter struct{}

func (DefaultWriter) NewCountProgress(total int64, description string) Progress {
	return &barProgress{bar: progressbar.Default(total, description)}
}

func (DefaultWriter) NewBytesProgress(total int64, description string) Progress {
	return &barProgress{bar: progressbar.DefaultBytes(total, description)}
}

type barProgress struct {
	bar *progressbar.ProgressBar
}

func (p *barProgress) Write(data []byte) (int, error) { return p.bar.Write(data) }
func (p *barProgress) Add(num int)                    { p.bar.Add(num) }
func (p *barProgress) Close() error                   { return p.bar.Close() }

// QuietWriter discards all progress output, for batch/CI runs and tests.
type QuietWriter struct{}

func (QuietWriter) NewCountProgress(int64, string) Progress { return quietProgress{} }
func (QuietWriter) NewBytesProgress(int64, string) Progress { return quietProgress{} }

type quietProgress struct{}

func (quietProgress) Write(data []byte) (int, error) { return len(data), nil }
func (quietProgress) Add(int)                        {}
func (quietProgress) Close() error                   { return nil }

// Counters holds the run-wide counters spec.md §7/§8 names (e.g.
// `missing_node_ref`), incremented concurrently by any pipeline stage.
// Replaces the module-global-counter style with a handle callers pass
// explicitly (spec.md §9's design note again).
type Counters struct {
	missingNodeRef   int64
	geometryInvalid  int64
	profileRejected  int64
	featuresRendered int64
	tilesWritten     int64
	bytesWritten     int64
}

func (c *Counters) IncMissingNodeRef()      { atomic.AddInt64(&c.missingNodeRef, 1) }
func (c *Counters) IncGeometryInvalid()     { atomic.AddInt64(&c.geometryInvalid, 1) }
func (c *Counters) IncProfileRejected()     { atomic.AddInt64(&c.profileRejected, 1) }
func (c *Counters) IncFeaturesRendered()    { atomic.AddInt64(&c.featuresRendered, 1) }
func (c *Counters) IncTilesWritten()        { atomic.AddInt64(&c.tilesWritten, 1) }
func (c *Counters) AddBytesWritten(n int64) { atomic.AddInt64(&c.bytesWritten, n) }

func (c *Counters) MissingNodeRef() int64   { return atomic.LoadInt64(&c.missingNodeRef) }
func (c *Counters) GeometryInvalid() int64  { return atomic.LoadInt64(&c.geometryInvalid) }
func (c *Counters) ProfileRejected() int64  { return atomic.LoadInt64(&c.profileRejected) }
func (c *Counters) FeaturesRendered() int64 { return atomic.LoadInt64(&c.featuresRendered) }
func (c *Counters) TilesWritten() int64     { return atomic.LoadInt64(&c.tilesWritten) }
func (c *Counters) BytesWritten() int64     { return atomic.LoadInt64(&c.bytesWritten) }

// Span is a scoped stage marker: start it with Reporter.StartSpan, and
// closing it records one completion of the named span exactly once, on
// whichever exit path actually runs. Only completions are counted; the
// elapsed time is not measured.
type Span struct {
	name     string
	reporter *Reporter
	done     bool
	mu       sync.Mutex
}

// Close records one completion of the span's name; no duration is
// recorded. Safe to call more than once or via defer alongside an
// explicit call; only the first call records.
func (s *Span) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.reporter.recordSpan(s.name)
}

// Reporter is the single handle a pipeline run threads through every
// stage for progress bars, counters, and stage spans.
type Reporter struct {
	Writer   ProgressWriter
	Counters *Counters

	// Logger receives rate-limited per-feature warnings (spec.md §7:
	// GeometryInvalid/ProfileRejected are "logged with rate-limit"). Nil
	// disables logging entirely.
	Logger *log.Logger
	// LogInterval bounds how often RateLimitedLog emits a line for a
	// given kind; zero means log every occurrence.
	LogInterval time.Duration

	mu        sync.Mutex
	spans     map[string]int
	lastLogAt map[tferrors.Kind]time.Time
}

// New builds a Reporter. Pass writer as nil for DefaultWriter{}.
func New(writer ProgressWriter) *Reporter {
	if writer == nil {
		writer = DefaultWriter{}
	}
	return &Reporter{
		Writer:    writer,
		Counters:  &Counters{},
		spans:     map[string]int{},
		lastLogAt: map[tferrors.Kind]time.Time{},
	}
}

// RateLimitedLog writes one log line for kind, at most once per
// LogInterval, implementing spec.md §7's "logged with rate-limit" policy
// for per-feature, non-fatal error kinds. A no-op when Logger is nil.
func (r *Reporter) RateLimitedLog(kind tferrors.Kind, msg string) {
	if r.Logger == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if last, ok := r.lastLogAt[kind]; ok && time.Since(last) < r.LogInterval {
		return
	}
	r.lastLogAt[kind] = time.Now()
	r.Logger.Printf("%s: %s", kind, msg)
}

// StartSpan begins a named timing span; call Close (directly or via
// defer) on the returned Span when the span ends.
func (r *Reporter) StartSpan(name string) *Span {
	return &Span{name: name, reporter: r}
}

func (r *Reporter) recordSpan(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans[name]++
}

// SpanCount returns how many times a named span has been closed, for
// tests and summary reporting.
func (r *Reporter) SpanCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spans[name]
}

// Summary formats a final run-stats line in the teacher's
// `humanize.Bytes`-backed style (pmtiles/show.go's "total size: %s").
func (r *Reporter) Summary() string {
	return fmt.Sprintf(
		"features rendered: %d, tiles written: %d, size: %s, missing node refs: %d, geometry invalid: %d, profile rejected: %d",
		r.Counters.FeaturesRendered(), r.Counters.TilesWritten(),
		humanize.Bytes(uint64(r.Counters.BytesWritten())), r.Counters.MissingNodeRef(),
		r.Counters.GeometryInvalid(), r.Counters.ProfileRejected(),
	)
}
