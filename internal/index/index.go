// Package index is the inverted-index engine: it turns documents into
// postings, dictionary, back-index and stored-field rows on an ordered
// key-value store, and serves consistent reads through snapshots.
//
// All writes go through a single serialized commit path; every commit is one
// atomic store batch that also advances the index generation. Readers open a
// Snapshot, which pins one generation for its whole lifetime and never blocks
// on the writer.
package index

import (
	"log/slog"
	"net/http"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/analysis"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/textsearch/pkg/errors"
)

// Options configure an Index. Zero values take the defaults below.
type Options struct {
	Analyzers       *analysis.Registry
	DefaultAnalyzer string
	// FieldAnalyzers names the analyzer of text fields that do not carry
	// one themselves. Queries use the same mapping.
	FieldAnalyzers map[string]string
	// AnalysisWorkers bounds how many documents of a batch are analyzed
	// concurrently.
	AnalysisWorkers int
	// PositionGap separates the positions of consecutive values of a
	// multi-valued field so phrases never match across values.
	PositionGap int
	Norm        NormFunc
	// DocCacheSize is the number of back-index rows kept in memory.
	DocCacheSize int
	Logger       *slog.Logger
}

const (
	DefaultPositionGap     = 100
	defaultAnalysisWorkers = 4
	defaultDocCacheSize    = 4096
)

func (o *Options) withDefaults() {
	if o.Analyzers == nil {
		o.Analyzers = analysis.NewRegistry()
	}
	if o.DefaultAnalyzer == "" {
		o.DefaultAnalyzer = analysis.Standard
	}
	if o.AnalysisWorkers <= 0 {
		o.AnalysisWorkers = defaultAnalysisWorkers
	}
	if o.PositionGap < 0 {
		o.PositionGap = 0
	} else if o.PositionGap == 0 {
		o.PositionGap = DefaultPositionGap
	}
	if o.Norm == nil {
		o.Norm = DefaultNorm
	}
	if o.DocCacheSize <= 0 {
		o.DocCacheSize = defaultDocCacheSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default().With("component", "index")
	}
}

// Index owns a store and mediates every read and write to it.
type Index struct {
	store  store.KVStore
	opts   Options
	logger *slog.Logger

	// writeMu serializes commits: each one reads and rewrites dictionary
	// counts and stats.
	writeMu sync.Mutex

	mu     sync.Mutex
	refs   int
	closed bool

	docCache *lru.Cache
}

// Open wraps a store. The index takes ownership of the store and closes it
// once the index and every snapshot are closed.
func Open(kv store.KVStore, opts Options) (*Index, error) {
	opts.withDefaults()
	if _, err := opts.Analyzers.Get(opts.DefaultAnalyzer); err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "default analyzer: %v", err)
	}
	for field, name := range opts.FieldAnalyzers {
		if _, err := opts.Analyzers.Get(name); err != nil {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "field %q: %v", field, err)
		}
	}
	cache, err := lru.New(opts.DocCacheSize)
	if err != nil {
		return nil, err
	}
	idx := &Index{
		store:    kv,
		opts:     opts,
		logger:   opts.Logger,
		docCache: cache,
	}
	idx.logger.Info("index opened",
		"default_analyzer", opts.DefaultAnalyzer,
		"analysis_workers", opts.AnalysisWorkers,
		"position_gap", opts.PositionGap,
	)
	return idx, nil
}

// Snapshot opens a read-only view of the latest committed generation.
func (i *Index) Snapshot() (*Snapshot, error) {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil, apperrors.ErrIndexClosed
	}
	i.refs++
	i.mu.Unlock()

	kvSnap, err := i.store.Snapshot()
	if err != nil {
		i.release()
		return nil, apperrors.Snapshot(err)
	}
	snap := &Snapshot{index: i, kv: kvSnap}
	if err := snap.loadStats(); err != nil {
		kvSnap.Close()
		i.release()
		return nil, apperrors.Snapshot(err)
	}
	return snap, nil
}

// Stats reads the statistics of the latest committed generation.
func (i *Index) Stats() (Stats, error) {
	snap, err := i.Snapshot()
	if err != nil {
		return Stats{}, err
	}
	defer snap.Close()
	return snap.Stats(), nil
}

// DocCount returns the number of live documents.
func (i *Index) DocCount() (uint64, error) {
	st, err := i.Stats()
	return st.DocCount, err
}

// Generation returns the generation of the last commit.
func (i *Index) Generation() (uint64, error) {
	st, err := i.Stats()
	return st.Generation, err
}

// OpenSnapshots returns the number of snapshots not yet closed.
func (i *Index) OpenSnapshots() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.refs
}

func (i *Index) release() {
	i.mu.Lock()
	i.refs--
	last := i.closed && i.refs == 0
	i.mu.Unlock()
	if last {
		i.writeMu.Lock()
		defer i.writeMu.Unlock()
		i.closeStore()
	}
}

// Close stops the index accepting new work. The store is closed now if no
// snapshot is open, otherwise when the last one is released.
func (i *Index) Close() error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	idle := i.refs == 0
	i.mu.Unlock()

	// wait for an in-flight commit
	i.writeMu.Lock()
	defer i.writeMu.Unlock()
	if idle {
		return i.closeStore()
	}
	i.logger.Info("index closed, store release deferred to open snapshots", "open_snapshots", i.OpenSnapshots())
	return nil
}

func (i *Index) closeStore() error {
	if err := i.store.Close(); err != nil {
		i.logger.Error("closing store", "error", err)
		return err
	}
	i.logger.Info("index store closed")
	return nil
}

func (i *Index) isClosed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closed
}

// Norm applies the configured length normalization.
func (i *Index) Norm(length int) float32 {
	return i.opts.Norm(length)
}

// Analyzers exposes the analyzer registry so query compilation analyzes text
// the same way the writer does.
func (i *Index) Analyzers() *analysis.Registry {
	return i.opts.Analyzers
}

// AnalyzerName resolves the analyzer for a field without an explicit one.
func (i *Index) AnalyzerName(field string) string {
	if name, ok := i.opts.FieldAnalyzers[field]; ok && name != "" {
		return name
	}
	return i.opts.DefaultAnalyzer
}

// AnalyzerFor returns the analyzer used for a field at index time.
func (i *Index) AnalyzerFor(field string) (analysis.Analyzer, error) {
	return i.opts.Analyzers.Get(i.AnalyzerName(field))
}
