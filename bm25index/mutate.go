package bm25index

import (
	"go.uber.org/zap"

	"bm25idx/bm25score"
	"bm25idx/bmerr"
	"bm25idx/metapage"
	"bm25idx/segment"
	"bm25idx/tokenizer"
)

// Insert tokenizes text, records its length and row locator, and appends
// its sparse term vector to the growing segment -- the access-method's
// insert(datum, row_id) callback. Sealing is attempted after the append
// once the growing segment has grown past its configured budget.
func (idx *Index) Insert(text string, row RowLocator) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	docID := idx.cat.CurrentDocID()
	if docID == ^uint32(0) {
		return bmerr.ErrOverflow
	}
	doc := tokenizer.ToDocVector(idx.tok, idx.vocab, docID, text)

	if idx.growing == nil {
		g, err := segment.CreateGrowing(idx.pager, idx.cat.FreeList(), idx.cat.FreeListHead())
		if err != nil {
			return err
		}
		idx.growing = g
	}

	length := docLength(doc)
	if err := idx.fieldnorm.Append(bm25score.FieldnormToID(length)); err != nil {
		return err
	}
	if err := idx.payload.Append(uint64(row)); err != nil {
		return err
	}
	for _, t := range doc.Terms {
		if err := idx.termStat.AddDocFreq(t.TermID, 1); err != nil {
			return err
		}
	}
	if err := idx.growing.Append(doc); err != nil {
		return err
	}

	if err := idx.cat.WithLock(func(c *metapage.Catalog) error {
		c.SetGrowing(idx.growing.Descriptor())
		c.IncrDocCounts(1, int64(length), 1)
		return c.Save()
	}); err != nil {
		return err
	}

	idx.log.Debug("document inserted", zap.Uint32("doc_id", docID), zap.Int("terms", len(doc.Terms)))

	if idx.shouldSeal() {
		if err := idx.seal(); err != nil {
			return err
		}
	}
	return nil
}

func docLength(doc segment.DocVector) uint32 {
	var n uint32
	for _, t := range doc.Terms {
		n += t.TF
	}
	return n
}

// shouldSeal reports whether the growing segment has accumulated enough
// documents to estimate it has crossed its configured page budget. The
// trigger only has to fire eventually past the configured size, not at an
// exact page boundary, so this estimates pages from document count rather
// than walking the page chain on every insert.
func (idx *Index) shouldSeal() bool {
	const estDocsPerPage = 32
	budget := uint32(idx.cfg.GrowingMaxPageSize) * estDocsPerPage
	return idx.cat.CurrentDocID()-idx.cat.SealedDocID() >= budget
}

// BulkDelete invokes callback for every live document's row locator,
// soft-deleting (via the roaring delete bitmap) every docid for which it
// returns true -- the access-method's bulkdelete(callback) -> row_id
// callback.
func (idx *Index) BulkDelete(callback func(row RowLocator) bool) (deleted uint64, err error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n := idx.cat.CurrentDocID()
	for docID := uint32(0); docID < n; docID++ {
		if idx.deletes.IsDeleted(docID) {
			continue
		}
		row, err := idx.payload.Get(docID)
		if err != nil {
			return deleted, err
		}
		if !callback(RowLocator(row)) {
			continue
		}
		idx.deletes.Delete(docID)
		deleted++
	}
	if deleted == 0 {
		return 0, nil
	}
	if err := idx.deletes.Save(); err != nil {
		return deleted, err
	}
	if err := idx.cat.WithLock(func(c *metapage.Catalog) error {
		c.IncrDocCounts(-int64(deleted), 0, 0)
		return c.Save()
	}); err != nil {
		return deleted, err
	}
	idx.log.Info("bulk delete complete", zap.Uint64("deleted", deleted))
	return deleted, nil
}

// VacuumCleanup recomputes every term's live document frequency from the
// current delete bitmap -- the access-method's vacuumcleanup callback.
// Sealed segments never rewrite their postings on delete; term-stat
// drifts out of date as documents are soft-deleted, and VacuumCleanup is
// the explicit, batch-scheduled operation a host invokes periodically to
// correct it, by rescanning every posting list once and writing the true
// live counts back.
func (idx *Index) VacuumCleanup() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	counts := make(map[uint32]uint32)

	for _, seg := range idx.sealed {
		vocabSize := seg.VocabSize()
		for termID := uint32(0); uint64(termID) < vocabSize; termID++ {
			cursor, ok, err := seg.GetPostings(termID)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			live, err := countLivePostings(cursor, idx.deletes.IsDeleted)
			if err != nil {
				return err
			}
			counts[termID] += live
		}
	}

	if g := idx.cat.Growing(); !g.IsEmpty() {
		it := segment.NewIterator(idx.pager, g.HeadBlkno)
		for {
			doc, ok, err := it.Next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if idx.deletes.IsDeleted(doc.DocID) {
				continue
			}
			for _, t := range doc.Terms {
				counts[t.TermID]++
			}
		}
	}

	// Every term_id with an existing term-stat slot gets rewritten, so
	// stats for terms whose last live posting was deleted drop to zero
	// rather than lingering at their pre-delete counts.
	rewritten := 0
	for termID := uint64(0); termID < idx.termStat.Count(); termID++ {
		cur, err := idx.termStat.DocFreq(uint32(termID))
		if err != nil {
			return err
		}
		want := counts[uint32(termID)]
		if cur == want {
			continue
		}
		if err := idx.termStat.AddDocFreq(uint32(termID), int32(want)-int32(cur)); err != nil {
			return err
		}
		rewritten++
	}
	idx.log.Info("vacuum cleanup complete", zap.Int("terms_rewritten", rewritten))
	return nil
}
