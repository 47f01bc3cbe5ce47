package blockpartition

// Variable implements the Mallia, Ottaviano, Porciani, Tonellotto &
// Venturini SIGIR'17 variable-sized block partitioning DP: minimize
// sum_b (end_b-start_b)*max(scores[start_b:end_b]) - sum(scores[start_b:end_b]) + lambda
// over all partitions of the score sequence. A naive DP is O(n^2); this
// bounds it to near-linear by only ever considering windows whose cost
// stays under one of a small set of geometrically increasing budgets
// (cost_bound, cost_bound*(1+eps2), ...), each maintained as a monotone
// deque giving O(1) amortized window-max.
type Variable struct {
	lambda, eps1, eps2 float32
	scores             []float32
	partitions         []uint32
	maxDoc             []uint32
}

var _ Partitioner = (*Variable)(nil)

// NewVariable constructs a partitioner with the reference eps1/eps2
// schedule (0.01, 0.4) from the SIGIR'17 paper's recommended defaults.
func NewVariable(lambda float32) *Variable {
	return &Variable{lambda: lambda, eps1: 0.01, eps2: 0.4}
}

func (v *Variable) AddDoc(score float32) { v.scores = append(v.scores, score) }

func (v *Variable) Reset() {
	v.scores = v.scores[:0]
	v.partitions = v.partitions[:0]
	v.maxDoc = v.maxDoc[:0]
}

func (v *Variable) Partitions() []uint32 { return v.partitions }
func (v *Variable) MaxDoc() []uint32     { return v.maxDoc }

// window tracks one sliding [start, end) range with a fixed cost budget;
// maxQueue is a monotone decreasing deque over scores[start:end] so its
// front is always the window max.
type window struct {
	start, end     uint32
	costUpperBound float32
	sum            float32
	maxQueue       []float32
}

func (w *window) advanceStart(scores []float32) {
	score := scores[w.start]
	w.sum -= score
	if len(w.maxQueue) > 0 && w.maxQueue[0] == score {
		w.maxQueue = w.maxQueue[1:]
	}
	w.start++
}

func (w *window) advanceEnd(scores []float32) {
	score := scores[w.end]
	w.sum += score
	for len(w.maxQueue) > 0 && w.maxQueue[len(w.maxQueue)-1] < score {
		w.maxQueue = w.maxQueue[:len(w.maxQueue)-1]
	}
	w.maxQueue = append(w.maxQueue, score)
	w.end++
}

func (w *window) cost(fixedCost float32) float32 {
	return float32(w.end-w.start)*w.maxQueue[0] - w.sum + fixedCost
}

func (v *Variable) MakePartitions() {
	docCnt := len(v.scores)
	if docCnt == 0 {
		return
	}

	maxScore := v.scores[0]
	var sumScore float32
	for _, s := range v.scores {
		if s > maxScore {
			maxScore = s
		}
		sumScore += s
	}
	maxBlockCost := float32(docCnt)*maxScore - sumScore

	minCost := make([]float32, docCnt+1)
	for i := range minCost {
		minCost[i] = maxBlockCost
	}
	minCost[0] = 0

	// Build the schedule of windows, one per geometrically growing cost
	// budget, from lambda up to lambda/eps1 (or unboundedly, if eps1==0,
	// until a budget alone already exceeds every possible block's cost).
	var windows []*window
	costBound := v.lambda
	for v.eps1 == 0 || costBound < v.lambda/v.eps1 {
		windows = append(windows, &window{costUpperBound: costBound})
		if costBound >= maxBlockCost {
			break
		}
		costBound *= 1 + v.eps2
	}

	path := make([]uint32, docCnt+1)
	for i := 0; i < docCnt; i++ {
		lastEnd := uint32(i) + 1
		for _, w := range windows {
			for w.end < lastEnd {
				w.advanceEnd(v.scores)
			}

			for {
				windowCost := w.cost(v.lambda)
				if minCost[i]+windowCost < minCost[w.end] {
					minCost[w.end] = minCost[i] + windowCost
					path[w.end] = w.start
				}
				lastEnd = w.end
				if w.end == uint32(docCnt) {
					break
				}
				if windowCost >= w.costUpperBound {
					break
				}
				w.advanceEnd(v.scores)
			}

			w.advanceStart(v.scores)
		}
	}

	var boundaries []uint32
	for pos := uint32(docCnt); pos != 0; pos = path[pos] {
		boundaries = append(boundaries, pos-1)
	}
	for l, r := 0, len(boundaries)-1; l < r; l, r = l+1, r-1 {
		boundaries[l], boundaries[r] = boundaries[r], boundaries[l]
	}
	v.partitions = boundaries

	start := uint32(0)
	for _, end := range boundaries {
		best := start + uint32(argmax(v.scores[start:end+1]))
		v.maxDoc = append(v.maxDoc, best)
		start = end + 1
	}
}
