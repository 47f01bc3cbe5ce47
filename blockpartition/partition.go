// Package blockpartition chooses block boundaries for a term's posting
// list so that each block's (tf, fieldnorm) upper bound stays close to the
// actual scores inside it, which is what makes block-max WAND's pruning
// effective. Two strategies share one interface: Fixed always cuts every
// 128 entries; Variable runs the Mallia et al. (SIGIR'17) DP to pick
// near-optimal boundaries under a block-count-vs-tightness cost model.
package blockpartition

// Partitioner accumulates one score per document (in posting order) and,
// once MakePartitions is called, reports the block boundaries and the
// per-block argmax document.
type Partitioner interface {
	AddDoc(score float32)
	Reset()
	MakePartitions()

	// Partitions returns the inclusive end-index (0-based, into the
	// sequence of AddDoc calls) of every block, in order. Fixed emits
	// only full blocks, leaving the trailing remainder for the caller
	// (posting.Serializer) to hold back as the inline unfulled block;
	// Variable's cost model already accounts for small blocks, so its
	// boundaries cover every document.
	Partitions() []uint32

	// MaxDoc returns, per partition in the same order, the index of the
	// document with the highest score within that partition -- the
	// source of the block's blockwand_tf/blockwand_fieldnorm_id bound.
	MaxDoc() []uint32
}
