// Package pipeline implements PipelineEngine (spec.md §4.8, C8): it
// stages NodeLocationStore population, feature rendering, the external
// sort, tile grouping, and MBTiles emission behind bounded channels and
// a worker pool, per spec.md §5's "bounded queues, not work-stealing"
// rule. Grounded on pmtiles/sync.go's `errgroup.WithContext` + task
// channel worker-pool idiom.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tileforge-dev/tileforge/internal/config"
	"github.com/tileforge-dev/tileforge/internal/featuregroup"
	"github.com/tileforge-dev/tileforge/internal/featuresort"
	"github.com/tileforge-dev/tileforge/internal/layerstats"
	"github.com/tileforge-dev/tileforge/internal/mbtilesdb"
	"github.com/tileforge-dev/tileforge/internal/model"
	"github.com/tileforge-dev/tileforge/internal/mvtenc"
	"github.com/tileforge-dev/tileforge/internal/nodedb"
	"github.com/tileforge-dev/tileforge/internal/render"
	"github.com/tileforge-dev/tileforge/internal/source"
	"github.com/tileforge-dev/tileforge/internal/statsreport"
	"github.com/tileforge-dev/tileforge/internal/tferrors"
	"github.com/tileforge-dev/tileforge/internal/tiling"
)

// State is one node of spec.md §4.8's per-run state machine.
type State string

const (
	StateInit       State = "init"
	StatePass1      State = "pass1"
	StateAuxReaders State = "aux_readers"
	StatePass2      State = "pass2"
	StateDropNodeDB State = "drop_node_db"
	StateSort       State = "sort"
	StateEmit       State = "emit"
	StateFinalize   State = "finalize"
	StateDone       State = "done"
	StateAborted    State = "aborted"
)

// Sources groups every input reader the engine stages across pass-1,
// aux-reader, and pass-2. Reading PBF/shapefile/SQLite bytes is an
// external collaborator (spec.md §2); the engine only ever sees the
// source.Reader interface.
type Sources struct {
	// Main is the primary OSM PBF reader: restartable, yielding nodes,
	// ways, and relations in file order (spec.md §4.2).
	Main source.Reader
	// NaturalEarth, WaterPolygons, Centerline are optional single-pass
	// auxiliary readers processed in the AuxReaders stage, before Pass2.
	NaturalEarth  source.Reader
	WaterPolygons source.Reader
	Centerline    source.Reader
}

// Engine runs one end-to-end pipeline execution for a single Config.
type Engine struct {
	Config   config.Config
	Profile  render.Profile
	Sources  Sources
	Reporter *statsreport.Reporter

	mu    sync.Mutex
	state State
}

// New builds an Engine ready to Run.
func New(cfg config.Config, profile render.Profile, sources Sources, reporter *statsreport.Reporter) *Engine {
	if reporter == nil {
		reporter = statsreport.New(nil)
	}
	return &Engine{Config: cfg, Profile: profile, Sources: sources, Reporter: reporter, state: StateInit}
}

// State returns the engine's current stage, safe for concurrent reads
// (e.g. from a status-reporting goroutine).
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Run executes spec.md §4.8's state machine: Init -> Pass1 ->
// AuxReaders -> Pass2 -> DropNodeDb -> Sort -> Emit -> Finalize -> Done,
// transitioning to Aborted (and removing every partial output, per
// spec.md §8 invariant 6) on the first fatal error or context
// cancellation.
func (e *Engine) Run(ctx context.Context) error {
	if e.Reporter.LogInterval == 0 {
		e.Reporter.LogInterval = e.Config.LogInterval
	}

	nodeDBPath := filepath.Join(e.Config.Tmpdir, "node.db")
	sortDir := filepath.Join(e.Config.Tmpdir, "sort")

	if err := os.MkdirAll(e.Config.Tmpdir, 0o755); err != nil {
		return e.abort(tferrors.New(tferrors.IoFailure, err), nodeDBPath, sortDir)
	}
	if err := os.MkdirAll(sortDir, 0o755); err != nil {
		return e.abort(tferrors.New(tferrors.IoFailure, err), nodeDBPath, sortDir)
	}

	nodeStore, err := nodedb.Create(nodeDBPath)
	if err != nil {
		return e.abort(err, nodeDBPath, sortDir)
	}

	e.setState(StatePass1)
	if err := e.runPass1(ctx, nodeStore); err != nil {
		return e.abort(err, nodeDBPath, sortDir)
	}
	if err := nodeStore.FinishWriting(); err != nil {
		return e.abort(err, nodeDBPath, sortDir)
	}

	sortWriters := newSortWriterPool(sortDir, e.Config.Threads)

	e.setState(StateAuxReaders)
	if err := e.runAuxReaders(ctx, sortWriters); err != nil {
		return e.abort(err, nodeDBPath, sortDir)
	}

	e.setState(StatePass2)
	if err := e.runPass2(ctx, sortWriters); err != nil {
		return e.abort(err, nodeDBPath, sortDir)
	}
	e.Profile.Release()
	chunkPaths, err := sortWriters.flushAll()
	if err != nil {
		return e.abort(err, nodeDBPath, sortDir)
	}

	e.setState(StateDropNodeDB)
	if err := nodeStore.Remove(); err != nil {
		return e.abort(err, nodeDBPath, sortDir)
	}

	e.setState(StateSort)
	stats := &layerstats.Stats{}
	writer, err := mbtilesdb.Create(e.Config.Output, mbtilesdb.Options{
		DeferIndex: e.Config.DeferIndex,
		OptimizeDB: e.Config.OptimizeDB,
	})
	if err != nil {
		return e.abort(err, nodeDBPath, sortDir)
	}

	e.setState(StateEmit)
	if err := e.sortAndEmit(ctx, chunkPaths, stats, writer); err != nil {
		_ = writer.Abort()
		_ = os.Remove(e.Config.Output)
		return e.abort(err, nodeDBPath, sortDir)
	}

	e.setState(StateFinalize)
	if err := writer.WriteMetadata(e.buildMetadata(stats)); err != nil {
		_ = writer.Abort()
		_ = os.Remove(e.Config.Output)
		return e.abort(err, nodeDBPath, sortDir)
	}
	if err := writer.Finalize(); err != nil {
		_ = os.Remove(e.Config.Output)
		return e.abort(err, nodeDBPath, sortDir)
	}
	_ = os.RemoveAll(sortDir)

	e.setState(StateDone)
	return nil
}

func (e *Engine) abort(err error, nodeDBPath, sortDir string) error {
	e.setState(StateAborted)
	_ = os.Remove(nodeDBPath)
	_ = os.RemoveAll(sortDir)
	return err
}

// runPass1 streams the Main reader restricted to nodes, populating
// NodeLocationStore (spec.md §4.2: "pass-1 consumes only nodes and
// relations"). Relation-member bookkeeping is left to the Main reader's
// own internal state (an external-collaborator concern per spec.md §2);
// the engine's pass-1 contract is exactly the node-location table.
func (e *Engine) runPass1(ctx context.Context, store *nodedb.Store) error {
	if e.Sources.Main == nil {
		return nil
	}
	span := e.Reporter.StartSpan("pass1")
	defer span.Close()

	reader := source.Filter(e.Sources.Main, model.KindNode)
	it, err := reader.Open(ctx)
	if err != nil {
		return tferrors.New(tferrors.IoFailure, err)
	}
	defer it.Close()

	for it.Next() {
		select {
		case <-ctx.Done():
			return tferrors.New(tferrors.Cancelled, ctx.Err())
		default:
		}
		f := it.Feature()
		geom, err := f.ResolveGeometry()
		if err != nil {
			return tferrors.NewForFeature(tferrors.SourceParseError, f.ID, err)
		}
		if geom.Kind != model.GeomPoint || len(geom.Points) == 0 {
			continue
		}
		p := geom.Points[0]
		if err := store.Put(f.ID, p.Lon, p.Lat); err != nil {
			return err
		}
	}
	if err := it.Err(); err != nil {
		return tferrors.New(tferrors.SourceParseError, err)
	}
	return nil
}

// runAuxReaders processes the optional Natural Earth / water polygon /
// centerline single-pass readers through the same render pipeline as
// pass-2, ahead of the main OSM scan.
func (e *Engine) runAuxReaders(ctx context.Context, pool *sortWriterPool) error {
	aux := []source.Reader{e.Sources.NaturalEarth, e.Sources.WaterPolygons, e.Sources.Centerline}
	for _, r := range aux {
		if r == nil {
			continue
		}
		if err := e.renderReader(ctx, r, pool); err != nil {
			return err
		}
	}
	return nil
}

// runPass2 streams the Main reader in full (nodes, ways, relations) and
// renders every feature the Profile accepts.
func (e *Engine) runPass2(ctx context.Context, pool *sortWriterPool) error {
	if e.Sources.Main == nil {
		return nil
	}
	return e.renderReader(ctx, e.Sources.Main, pool)
}

// renderReader fans a single Reader's Iterator out across
// Config.Threads render workers via a bounded channel, per spec.md §5's
// "bounded queues, not work-stealing" worker model. Each worker owns one
// featuresort.Writer (spec.md §4.4: "each writer thread owns a private
// append-only chunk file").
func (e *Engine) renderReader(ctx context.Context, r source.Reader, pool *sortWriterPool) error {
	span := e.Reporter.StartSpan("render")
	defer span.Close()

	it, err := r.Open(ctx)
	if err != nil {
		return tferrors.New(tferrors.IoFailure, err)
	}
	defer it.Close()

	features := make(chan model.SourceFeature, pool.threads*4)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(features)
		for it.Next() {
			select {
			case <-gctx.Done():
				return tferrors.New(tferrors.Cancelled, gctx.Err())
			case features <- it.Feature():
			}
		}
		return it.Err()
	})

	for i := 0; i < pool.threads; i++ {
		w := pool.writers[i]
		g.Go(func() error {
			renderer := &render.Renderer{Sink: func(rf model.RenderedFeature) error {
				e.Reporter.Counters.IncFeaturesRendered()
				return w.Put(rf)
			}}
			for {
				select {
				case <-gctx.Done():
					return tferrors.New(tferrors.Cancelled, gctx.Err())
				case f, ok := <-features:
					if !ok {
						return nil
					}
					if err := e.renderOne(renderer, &f); err != nil {
						return err
					}
				}
			}
		})
	}

	return g.Wait()
}

// renderOne runs the Profile against one feature, applying spec.md §7's
// per-feature error policy: MissingNodeReference, GeometryInvalid, and
// ProfileRejected are all counted and the feature is skipped rather than
// failing the whole run; GeometryInvalid/ProfileRejected are additionally
// logged at a rate limit, since a bad source extract can produce a flood
// of them. Any other non-fatal kind is still skipped (best-effort); fatal
// kinds abort the run.
func (e *Engine) renderOne(renderer *render.Renderer, f *model.SourceFeature) error {
	collector := renderer.NewCollector(f)
	err := e.Profile.ProcessFeature(f, collector)
	if err == nil {
		return nil
	}
	kind := tferrors.KindOf(err)
	switch kind {
	case tferrors.MissingNodeReference:
		e.Reporter.Counters.IncMissingNodeRef()
		return nil
	case tferrors.GeometryInvalid:
		e.Reporter.Counters.IncGeometryInvalid()
		e.Reporter.RateLimitedLog(kind, fmt.Sprintf("feature %d: %v", f.ID, err))
		return nil
	case tferrors.ProfileRejected:
		e.Reporter.Counters.IncProfileRejected()
		e.Reporter.RateLimitedLog(kind, fmt.Sprintf("feature %d: %v", f.ID, err))
		return nil
	}
	if kind.Fatal() {
		return err
	}
	return nil
}

// sortAndEmit drives spec.md §4.4-4.7's merge-sort -> group -> encode ->
// write chain: Merge streams RenderedFeatures in tileId order; each is
// fed to LayerStats and to a Grouper, whose per-tile flush callback
// hands the batch to a small pool of parallel MVT encoders, with a
// reorder buffer restoring ascending-tileId order before the single
// MBTiles writer sees them (spec.md §4.8: "MVT encoding is parallel, the
// sink serializes completed per-tile blobs ... via a reorder buffer").
func (e *Engine) sortAndEmit(ctx context.Context, chunkPaths []string, stats *layerstats.Stats, writer *mbtilesdb.Writer) error {
	span := e.Reporter.StartSpan("sort_emit")
	defer span.Close()

	encoder := newReorderEncoder(e.Config.Threads, writer, e.Reporter)

	mergeAttrs := true
	if m, ok := e.Profile.(render.AttrMergingProfile); ok {
		mergeAttrs = m.MergeAttrs()
	}
	grouper := &featuregroup.Grouper{MergeAttrs: mergeAttrs}
	emitBatch := func(b featuregroup.Batch) error {
		return encoder.submit(b)
	}

	mergeErr := featuresort.Merge(chunkPaths, func(f model.RenderedFeature) error {
		select {
		case <-ctx.Done():
			return tferrors.New(tferrors.Cancelled, ctx.Err())
		default:
		}
		zoom := tiling.FromID(f.TileID).Z
		stats.Accept(f, zoom)
		return grouper.Accept(f, emitBatch)
	})
	if mergeErr == nil {
		mergeErr = grouper.Close(emitBatch)
	}
	// wait() always runs so the encoder pool's goroutines drain even when
	// the merge/group stage failed partway through submitting batches.
	if waitErr := encoder.wait(); mergeErr == nil {
		mergeErr = waitErr
	}
	return mergeErr
}

func (e *Engine) buildMetadata(stats *layerstats.Stats) mbtilesdb.Metadata {
	b := e.Config.Bounds
	centerLon, centerLat := 0.0, 0.0
	if !b.IsWorld && !b.Inferred {
		centerLon = (b.MinLon + b.MaxLon) / 2
		centerLat = (b.MinLat + b.MaxLat) / 2
	}
	return mbtilesdb.Metadata{
		Name:         e.Config.Profile,
		Format:       "pbf",
		Bounds:       b,
		CenterLon:    centerLon,
		CenterLat:    centerLat,
		CenterZoom:   e.Config.MinZoom,
		MinZoom:      e.Config.MinZoom,
		MaxZoom:      e.Config.MaxZoom,
		VectorLayers: stats.Freeze(),
	}
}

// sortWriterPool owns one featuresort.Writer per render worker thread.
type sortWriterPool struct {
	threads int
	writers []*featuresort.Writer
}

func newSortWriterPool(dir string, threads int) *sortWriterPool {
	if threads <= 0 {
		threads = 1
	}
	p := &sortWriterPool{threads: threads}
	for i := 0; i < threads; i++ {
		p.writers = append(p.writers, &featuresort.Writer{Dir: dir, ChunkBytes: featuresort.DefaultChunkBytes / threads})
	}
	return p
}

func (p *sortWriterPool) flushAll() ([]string, error) {
	var paths []string
	for _, w := range p.writers {
		if err := w.Flush(); err != nil {
			return nil, err
		}
		paths = append(paths, w.ChunkPaths...)
	}
	return paths, nil
}

// reorderEncoder runs tile encoding across a worker pool while
// preserving the ascending-tileId order Grouper feeds it, per spec.md
// §4.8 and §5's "encoders hand off finished blobs via the reorder
// buffer" rule.
type reorderEncoder struct {
	writer   *mbtilesdb.Writer
	reporter *statsreport.Reporter

	jobs    chan encodeJob
	results chan encodeResult
	wg      sync.WaitGroup

	drainDone chan error
	nextSeq   int
}

type encodeJob struct {
	seq   int
	batch featuregroup.Batch
}

type encodeResult struct {
	seq    int
	tileID uint64
	data   []byte
	err    error
}

func newReorderEncoder(workers int, writer *mbtilesdb.Writer, reporter *statsreport.Reporter) *reorderEncoder {
	if workers <= 0 {
		workers = 1
	}
	e := &reorderEncoder{
		writer:    writer,
		reporter:  reporter,
		jobs:      make(chan encodeJob, workers*2),
		results:   make(chan encodeResult, workers*2),
		drainDone: make(chan error, 1),
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.encodeWorker()
	}
	go e.drain()
	return e
}

func (e *reorderEncoder) encodeWorker() {
	defer e.wg.Done()
	for job := range e.jobs {
		layers := make([]mvtenc.Layer, len(job.batch.Layers))
		for i, l := range job.batch.Layers {
			layers[i] = mvtenc.Layer{Name: l.Name, Features: l.Features}
		}
		data, err := mvtenc.EncodeTileGzipped(layers, mbtilesdb.DefaultGzipLevel)
		e.results <- encodeResult{seq: job.seq, tileID: job.batch.TileID, data: data, err: err}
	}
}

func (e *reorderEncoder) drain() {
	pending := map[int]encodeResult{}
	next := 0
	var firstErr error
	for res := range e.results {
		pending[res.seq] = res
		for {
			r, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			if firstErr != nil {
				continue
			}
			if r.err != nil {
				firstErr = r.err
				continue
			}
			if err := e.writer.WriteTile(r.tileID, r.data); err != nil {
				firstErr = err
				continue
			}
			e.reporter.Counters.IncTilesWritten()
			e.reporter.Counters.AddBytesWritten(int64(len(r.data)))
		}
	}
	e.drainDone <- firstErr
}

func (e *reorderEncoder) submit(b featuregroup.Batch) error {
	seq := e.nextSeq
	e.nextSeq++
	e.jobs <- encodeJob{seq: seq, batch: b}
	return nil
}

func (e *reorderEncoder) wait() error {
	close(e.jobs)
	e.wg.Wait()
	close(e.results)
	return <-e.drainDone
}

