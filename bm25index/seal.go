package bm25index

import (
	"go.uber.org/zap"

	"bm25idx/metapage"
	"bm25idx/segment"
)

// seal compacts the current growing segment into the sealed tier and
// publishes the result into the catalog, clearing the growing-segment
// descriptor so the next Insert starts a fresh one. The first seal builds
// a brand-new sealed segment from scratch (partitioner + serializer);
// every later seal extends the existing segment's posting lists through
// the append path instead, folding each term's inline unfulled block
// back, merging the new docs, and re-cutting on fixed block boundaries.
// Callers must already hold idx.mu, which this process already serializes
// sealing against; the catalog's own lock (taken inside WithLock for the
// publish step) only ever blocks here, it never reports contention as
// failure, so unlike a multi-process host's opportunistic seal this path
// has no bmerr.ErrLockBusy case to surface.
func (idx *Index) seal() error {
	g := idx.cat.Growing()
	if g.IsEmpty() {
		return nil
	}

	fl, head := idx.cat.FreeList(), idx.cat.FreeListHead()

	appending := len(idx.sealed) > 0
	var data metapage.SealedSegmentData
	var err error
	if appending {
		prior := idx.cat.Sealed()
		data, err = segment.AppendToSealed(idx.pager, fl, head, prior[len(prior)-1], idx.cfg.buildConfig(), g.HeadBlkno, idx.fieldnormOf)
	} else {
		data, err = segment.BuildSealed(idx.pager, fl, head, g.HeadBlkno, idx.cfg.buildConfig(), idx.fieldnormOf)
	}
	if err != nil {
		return err
	}

	reader, err := segment.OpenSealed(idx.pager, fl, head, data, idx.cfg.codec())
	if err != nil {
		return err
	}

	if err := idx.cat.WithLock(func(c *metapage.Catalog) error {
		if appending {
			c.UpdateLastSealed(data)
		} else {
			c.AppendSealed(data)
		}
		c.SetSealedDocID(c.CurrentDocID())
		if err := segment.FreeChain(idx.pager, c.FreeList(), c.FreeListHead(), g.HeadBlkno); err != nil {
			return err
		}
		return c.Save()
	}); err != nil {
		return err
	}

	if appending {
		idx.sealed[len(idx.sealed)-1] = reader
	} else {
		idx.sealed = append(idx.sealed, reader)
	}
	idx.growing = nil
	idx.log.Info("growing segment sealed",
		zap.Bool("appended", appending),
		zap.Uint32("segment_doc_count", data.DocCount),
		zap.Int("sealed_segments", len(idx.sealed)))
	return nil
}

func (idx *Index) fieldnormOf(docID uint32) uint8 {
	v, err := idx.fieldnorm.Get(docID)
	if err != nil {
		idx.log.Error("fieldnorm lookup failed during seal", zap.Uint32("doc_id", docID), zap.Error(err))
		return 0
	}
	return v
}
