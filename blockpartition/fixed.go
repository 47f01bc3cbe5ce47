package blockpartition

// FixedBlockSize is the default and only block size Fixed ever emits.
const FixedBlockSize = 128

// Fixed partitions every blockSize consecutive documents into one block,
// dropping any trailing remainder below blockSize (the caller is
// responsible for storing that remainder as the term's inline unfulled
// block instead of a full one).
type Fixed struct {
	blockSize  int
	scores     []float32
	partitions []uint32
	maxDoc     []uint32
}

var _ Partitioner = (*Fixed)(nil)

func NewFixed(blockSize int) *Fixed {
	return &Fixed{blockSize: blockSize}
}

func (f *Fixed) AddDoc(score float32) { f.scores = append(f.scores, score) }

func (f *Fixed) Reset() {
	f.scores = f.scores[:0]
	f.partitions = f.partitions[:0]
	f.maxDoc = f.maxDoc[:0]
}

func (f *Fixed) Partitions() []uint32 { return f.partitions }
func (f *Fixed) MaxDoc() []uint32     { return f.maxDoc }

func (f *Fixed) MakePartitions() {
	fullBlocks := len(f.scores) / f.blockSize
	for i := 0; i < fullBlocks; i++ {
		start := i * f.blockSize
		end := start + f.blockSize - 1
		f.partitions = append(f.partitions, uint32(end))
		f.maxDoc = append(f.maxDoc, uint32(start+argmax(f.scores[start:start+f.blockSize])))
	}
}

func argmax(scores []float32) int {
	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return best
}
