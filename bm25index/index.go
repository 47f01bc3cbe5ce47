// Package bm25index is the access-method facade tying every lower layer
// together: metapage's catalog, segment's growing/sealed segments,
// sidecar's global side segments, and wand's retrieval algorithms. Its
// Index type carries the host-facing callbacks (build/buildempty/insert/
// bulkdelete/vacuumcleanup/beginscan/rescan/gettuple/endscan) as one
// long-lived, mutable object a host program opens once and drives through
// many operations.
package bm25index

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"bm25idx/blockcodec"
	"bm25idx/bmerr"
	"bm25idx/metapage"
	"bm25idx/pagestore"
	"bm25idx/segment"
	"bm25idx/sidecar"
	"bm25idx/tokenizer"
)

// RowLocator stands in for the host's row id, opaque to the index
// itself -- it is only ever stored and handed back.
type RowLocator uint64

// Config names the per-index options, validated at open.
type Config struct {
	// Partition selects the block-boundary strategy: "fixed" (128-doc
	// blocks) or "variable" (Mallia et al. DP, tuned by Lambda).
	Partition string
	// Lambda is the variable partitioner's block-size/score tradeoff
	// parameter, consulted only when Partition == "variable". A Lambda of
	// 0 yields fixed 128-doc blocks even under "variable".
	Lambda float32
	// Codec selects the block compression scheme: "delta_bitpack" or
	// "elias_fano".
	Codec string
	// BM25Limit is the query top-K bound; -1 means brute force (no
	// block-max pruning, every matching doc scored and returned).
	BM25Limit int
	// GrowingMaxPageSize is the seal trigger: Insert seals the growing
	// segment once it holds GrowingMaxPageSize*32 unsealed documents, an
	// estimate of that many pages rather than a count of its page chain.
	GrowingMaxPageSize int
	// Tokenizer names a tokenizer registered in the tokenizer package.
	Tokenizer string
}

// DefaultConfig returns the reference configuration: fixed-128
// partitioning, delta-bitpack blocks, top-10 scoring, a modest seal
// trigger, and the bundled whitespace tokenizer.
func DefaultConfig() Config {
	return Config{
		Partition:          "fixed",
		Codec:              "delta_bitpack",
		BM25Limit:          10,
		GrowingMaxPageSize: 64,
		Tokenizer:          "whitespace",
	}
}

// Validate rejects a malformed configuration at the boundary, before any
// page is touched.
func (c Config) Validate() error {
	switch c.Partition {
	case "fixed", "variable":
	default:
		return fmt.Errorf("bm25index: unknown partition mode %q: %w", c.Partition, bmerr.ErrInvalidInput)
	}
	if c.Partition == "variable" && c.Lambda < 0 {
		return fmt.Errorf("bm25index: variable partition lambda must be >= 0, got %v: %w", c.Lambda, bmerr.ErrInvalidInput)
	}
	switch c.Codec {
	case "delta_bitpack", "elias_fano":
	default:
		return fmt.Errorf("bm25index: unknown codec %q: %w", c.Codec, bmerr.ErrInvalidInput)
	}
	if c.BM25Limit < -1 {
		return fmt.Errorf("bm25index: bm25_limit must be >= -1, got %d: %w", c.BM25Limit, bmerr.ErrInvalidInput)
	}
	if c.GrowingMaxPageSize < 1 {
		return fmt.Errorf("bm25index: segment_growing_max_page_size must be >= 1, got %d: %w", c.GrowingMaxPageSize, bmerr.ErrInvalidInput)
	}
	if _, ok := tokenizer.Lookup(c.Tokenizer); !ok {
		return fmt.Errorf("bm25index: tokenizer %q is not registered: %w", c.Tokenizer, bmerr.ErrInvalidInput)
	}
	return nil
}

func (c Config) codec() blockcodec.Codec {
	if c.Codec == "elias_fano" {
		return blockcodec.EliasFano{}
	}
	return blockcodec.DeltaBitpack{}
}

func (c Config) buildConfig() segment.BuildConfig {
	cfg := segment.BuildConfig{Codec: c.codec()}
	if c.Partition == "variable" {
		cfg.PartitionLambda = c.Lambda
	}
	return cfg
}

// HeapDoc is one row of the host's heap, as handed to Build.
type HeapDoc struct {
	RowLocator RowLocator
	Text       string
}

// Index is the open, mutable access-method object: one per on-disk
// relation file. Insert (and so Build), BulkDelete, VacuumCleanup,
// Scan.Rescan and Close take idx.mu to serialize the compound
// growing-segment and catalog updates; BuildEmpty and BeginScan take no
// lock. Sealing itself briefly re-acquires the catalog's own lock only
// to publish (see seal.go).
type Index struct {
	log *zap.Logger
	cfg Config

	pager *pagestore.Pager
	cat   *metapage.Catalog
	vocab *tokenizer.Vocabulary
	tok   tokenizer.Tokenizer

	mu        sync.Mutex
	growing   *segment.Growing
	payload   *sidecar.PayloadSegment
	fieldnorm *sidecar.FieldnormSegment
	termStat  *sidecar.TermStatSegment
	deletes   *sidecar.DeleteBitmap
	sealed    []*segment.Sealed // parallel to cat.Sealed()
}

// Open reopens an existing index file, restoring every side segment and
// sealed-segment reader from the catalog.
func Open(path string, cfg Config, vocabTerms []string, log *zap.Logger) (*Index, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	pager, err := pagestore.Open(path)
	if err != nil {
		return nil, err
	}
	cat, err := metapage.Open(pager)
	if err != nil {
		pager.Close()
		return nil, err
	}
	tok, _ := tokenizer.Lookup(cfg.Tokenizer)

	idx := &Index{log: log, cfg: cfg, pager: pager, cat: cat, vocab: tokenizer.Restore(vocabTerms), tok: tok}
	if err := idx.reopenSideSegments(); err != nil {
		pager.Close()
		return nil, err
	}
	if err := idx.reopenSealedReaders(); err != nil {
		pager.Close()
		return nil, err
	}
	if g := cat.Growing(); !g.IsEmpty() {
		idx.growing = segment.OpenGrowing(pager, cat.FreeList(), cat.FreeListHead(), g)
	}
	log.Info("index opened", zap.String("path", path), zap.Uint32("doc_count", cat.DocCount()), zap.Int("sealed_segments", len(idx.sealed)))
	return idx, nil
}

func (idx *Index) reopenSideSegments() error {
	pager, fl, head := idx.pager, idx.cat.FreeList(), idx.cat.FreeListHead()
	var err error
	if idx.payload, err = sidecar.OpenPayload(pager, fl, head, idx.cat.PayloadHead()); err != nil {
		return err
	}
	if idx.fieldnorm, err = sidecar.OpenFieldnorm(pager, fl, head, idx.cat.FieldnormHead()); err != nil {
		return err
	}
	if idx.termStat, err = sidecar.OpenTermStat(pager, fl, head, idx.cat.TermStatHead()); err != nil {
		return err
	}
	if idx.deletes, err = sidecar.OpenDeleteBitmap(pager, fl, head, idx.cat.DeleteBitmapHead()); err != nil {
		return err
	}
	return nil
}

func (idx *Index) reopenSealedReaders() error {
	idx.sealed = nil
	for _, data := range idx.cat.Sealed() {
		r, err := segment.OpenSealed(idx.pager, idx.cat.FreeList(), idx.cat.FreeListHead(), data, idx.cfg.codec())
		if err != nil {
			return err
		}
		idx.sealed = append(idx.sealed, r)
	}
	return nil
}

// BuildEmpty creates a brand-new, empty index file at path -- the
// access-method's buildempty callback.
func BuildEmpty(path string, cfg Config, log *zap.Logger) (*Index, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	pager, err := pagestore.Create(path)
	if err != nil {
		return nil, err
	}
	cat, err := metapage.Create(pager)
	if err != nil {
		pager.Close()
		return nil, err
	}
	tok, _ := tokenizer.Lookup(cfg.Tokenizer)
	idx := &Index{log: log, cfg: cfg, pager: pager, cat: cat, vocab: tokenizer.NewVocabulary(), tok: tok}

	fl, head := cat.FreeList(), cat.FreeListHead()
	if idx.payload, err = sidecar.CreatePayload(pager, fl, head); err != nil {
		return nil, err
	}
	if idx.fieldnorm, err = sidecar.CreateFieldnorm(pager, fl, head); err != nil {
		return nil, err
	}
	if idx.termStat, err = sidecar.CreateTermStat(pager, fl, head); err != nil {
		return nil, err
	}
	if idx.deletes, err = sidecar.CreateDeleteBitmap(pager, fl, head); err != nil {
		return nil, err
	}
	if err := cat.WithLock(func(c *metapage.Catalog) error {
		c.SetPayloadHead(idx.payload.HeaderBlkno())
		c.SetFieldnormHead(idx.fieldnorm.HeaderBlkno())
		c.SetTermStatHead(idx.termStat.HeaderBlkno())
		c.SetDeleteBitmapHead(idx.deletes.RootBlkno())
		return c.Save()
	}); err != nil {
		return nil, err
	}
	log.Info("index created", zap.String("path", path))
	return idx, nil
}

// Build performs a bulk build over every document in docs -- the
// access-method's build(heap) callback: one call that tokenizes, inserts,
// and seals in a single pass.
func Build(path string, cfg Config, docs []HeapDoc, log *zap.Logger) (*Index, error) {
	idx, err := BuildEmpty(path, cfg, log)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		if err := idx.Insert(d.Text, d.RowLocator); err != nil {
			return nil, err
		}
	}
	if idx.growing != nil {
		if err := idx.seal(); err != nil {
			return nil, err
		}
	}
	idx.log.Info("bulk build complete", zap.Int("docs", len(docs)))
	return idx, nil
}

// Close flushes the catalog and releases the underlying file.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.cat.WithLock(func(c *metapage.Catalog) error { return c.Save() }); err != nil {
		return err
	}
	return idx.pager.Close()
}

// VocabSnapshot returns the interned term list, for a caller to persist
// alongside the index file and pass back into Open.
func (idx *Index) VocabSnapshot() []string { return idx.vocab.Snapshot() }

// Stats is a point-in-time snapshot of the catalog counters a host's
// monitoring surface would want, cmd/bm25-stats's reason for existing.
type Stats struct {
	DocCount           uint32
	DocTermCount       uint64
	SealedSegmentCount int
	HasGrowingSegment  bool
	VocabSize          int
}

// Stats reads the current catalog counters without taking idx.mu, so a
// concurrent insert may interleave between fields. DocCount and
// DocTermCount are atomic loads, the sealed-segment count takes the
// catalog's read lock, the growing descriptor is read without a lock, and
// VocabSize takes the vocabulary's own lock.
func (idx *Index) Stats() Stats {
	return Stats{
		DocCount:           idx.cat.DocCount(),
		DocTermCount:       idx.cat.DocTermCount(),
		SealedSegmentCount: len(idx.cat.Sealed()),
		HasGrowingSegment:  !idx.cat.Growing().IsEmpty(),
		VocabSize:          idx.vocab.Len(),
	}
}
