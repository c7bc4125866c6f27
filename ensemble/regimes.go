package ensemble

import "github.com/nvr-ai/go-treebench/internal/workerpool"

// Tunables holds the knobs regime selection exposes: the tree-parallel
// threshold, the row-parallel threshold, and the batch-chunk size.
// Constructed via functional options, since the evaluator otherwise takes
// no runtime configuration.
type Tunables struct {
	TreeParallelThreshold int
	RowParallelThreshold  int
	BatchChunkSize        int
}

// DefaultTunables returns the default tree-parallel threshold (80),
// row-parallel threshold (50), and batch-chunk size (128).
func DefaultTunables() Tunables {
	return Tunables{TreeParallelThreshold: 80, RowParallelThreshold: 50, BatchChunkSize: 128}
}

// TunablesOption configures a Tunables value built by NewTunables.
type TunablesOption func(*Tunables)

func NewTunables(opts ...TunablesOption) Tunables {
	t := DefaultTunables()
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

func WithTreeParallelThreshold(n int) TunablesOption {
	return func(t *Tunables) { t.TreeParallelThreshold = n }
}

func WithRowParallelThreshold(n int) TunablesOption {
	return func(t *Tunables) { t.RowParallelThreshold = n }
}

func WithBatchChunkSize(n int) TunablesOption {
	return func(t *Tunables) { t.BatchChunkSize = n }
}

// regimeKind is one of the five parallel-execution shapes an evaluation
// can take, selected by batch size and tree count at the start of a call.
type regimeKind uint8

const (
	regimeA regimeKind = iota
	regimeB
	regimeC
	regimeD
	regimeE
)

func (k regimeKind) String() string {
	switch k {
	case regimeA:
		return "A-single-row-serial"
	case regimeB:
		return "B-single-row-tree-parallel"
	case regimeC:
		return "C-serial-chunked"
	case regimeD:
		return "D-tree-partition-batched"
	default:
		return "E-row-parallel-full-walk"
	}
}

// selectRegime checks conditions in priority order: the single-row cases
// (A/B) are checked first, then the batched cases fall through
// serial chunked (C), tree-partition (D), and row-parallel-over-full-walks
// (E) in turn.
func selectRegime(n, t, p int, tun Tunables) regimeKind {
	if n == 1 {
		if t <= tun.TreeParallelThreshold || p == 1 {
			return regimeA
		}
		return regimeB
	}
	if n <= tun.RowParallelThreshold || p == 1 {
		return regimeC
	}
	if t >= p {
		return regimeD
	}
	return regimeE
}

func (k regimeKind) run(f *Forest, read RowReader, rows int, y []float64, opts EvalOptions) error {
	n := int(f.NTargets)
	switch k {
	case regimeA:
		acc := opts.Scratch.Float64(n)
		defer opts.Scratch.ReleaseFloat64(acc)
		hasScore := make([]bool, n)
		for _, root := range f.Trees {
			leaf := walkTree(f, root, read, 0)
			accumulate(f, leaf, acc, hasScore)
		}
		finalizeRow(f, acc)
		copy(y, acc)
		return nil

	case regimeB:
		return runTreeParallelRow(f, read, 0, y[:n], opts)

	case regimeC:
		chunk := opts.Tunables.BatchChunkSize
		if chunk < 1 {
			chunk = 1
		}
		for start := 0; start < rows; start += chunk {
			end := min(start+chunk, rows)
			accs := make([][]float64, end-start)
			hasScores := make([][]bool, end-start)
			for i := range accs {
				accs[i] = opts.Scratch.Float64(n)
				hasScores[i] = make([]bool, n)
			}
			// Tree-major inner loop: the row slab for this chunk plus its
			// per-row accumulators stay resident while every tree walks
			// across all rows in the chunk once.
			for _, root := range f.Trees {
				for r := start; r < end; r++ {
					leaf := walkTree(f, root, read, r)
					accumulate(f, leaf, accs[r-start], hasScores[r-start])
				}
			}
			for r := start; r < end; r++ {
				finalizeRow(f, accs[r-start])
				copy(y[r*n:(r+1)*n], accs[r-start])
				opts.Scratch.ReleaseFloat64(accs[r-start])
			}
		}
		return nil

	case regimeD:
		return runTreePartitionBatched(f, read, rows, y, opts)

	default: // regimeE
		return opts.Pool.ParallelFor(rows, func(r int) error {
			acc := opts.Scratch.Float64(n)
			defer opts.Scratch.ReleaseFloat64(acc)
			hasScore := make([]bool, n)
			for _, root := range f.Trees {
				leaf := walkTree(f, root, read, r)
				accumulate(f, leaf, acc, hasScore)
			}
			finalizeRow(f, acc)
			copy(y[r*n:(r+1)*n], acc)
			return nil
		})
	}
}

// runTreeParallelRow implements regime B: trees for a single row are
// partitioned across workers into per-worker accumulators, merged
// sequentially once every worker has finished (the thread-pool barrier
// implicit at the end of ParallelFor).
func runTreeParallelRow(f *Forest, read RowReader, row int, out []float64, opts EvalOptions) error {
	n := int(f.NTargets)
	p := opts.Pool.Workers()
	if p < 1 {
		p = 1
	}
	values := make([][]float64, p)
	hasScores := make([][]bool, p)

	err := opts.Pool.ParallelFor(p, func(w int) error {
		start, end := workerpool.PartitionWork(w, p, f.NTrees())
		v := opts.Scratch.Float64(n)
		hs := make([]bool, n)
		for ti := start; ti < end; ti++ {
			leaf := walkTree(f, f.Trees[ti], read, row)
			accumulate(f, leaf, v, hs)
		}
		values[w] = v
		hasScores[w] = hs
		return nil
	})
	if err != nil {
		return err
	}

	acc := opts.Scratch.Float64(n)
	hasScore := make([]bool, n)
	for w := 0; w < p; w++ {
		mergeInto(f.Aggregate, acc, hasScore, values[w], hasScores[w])
		opts.Scratch.ReleaseFloat64(values[w])
	}
	finalizeRow(f, acc)
	copy(out, acc)
	opts.Scratch.ReleaseFloat64(acc)
	return nil
}

// runTreePartitionBatched implements regime D: within each Bᵦ-sized row
// chunk, trees are partitioned across workers into per-worker, per-row
// accumulators; the merge-and-finalize pass then runs per row in
// parallel, itself only reading data written before the preceding
// ParallelFor returned.
func runTreePartitionBatched(f *Forest, read RowReader, rows int, y []float64, opts EvalOptions) error {
	n := int(f.NTargets)
	p := opts.Pool.Workers()
	if p < 1 {
		p = 1
	}
	chunk := opts.Tunables.BatchChunkSize
	if chunk < 1 {
		chunk = 1
	}

	for start := 0; start < rows; start += chunk {
		end := min(start+chunk, rows)
		size := end - start

		values := make([][][]float64, p)
		hasScores := make([][][]bool, p)

		err := opts.Pool.ParallelFor(p, func(w int) error {
			tStart, tEnd := workerpool.PartitionWork(w, p, f.NTrees())
			v := make([][]float64, size)
			hs := make([][]bool, size)
			for i := range v {
				v[i] = opts.Scratch.Float64(n)
				hs[i] = make([]bool, n)
			}
			for ti := tStart; ti < tEnd; ti++ {
				root := f.Trees[ti]
				for r := start; r < end; r++ {
					leaf := walkTree(f, root, read, r)
					accumulate(f, leaf, v[r-start], hs[r-start])
				}
			}
			values[w] = v
			hasScores[w] = hs
			return nil
		})
		if err != nil {
			return err
		}

		err = opts.Pool.ParallelFor(size, func(ri int) error {
			acc := opts.Scratch.Float64(n)
			hasScore := make([]bool, n)
			for w := 0; w < p; w++ {
				mergeInto(f.Aggregate, acc, hasScore, values[w][ri], hasScores[w][ri])
				opts.Scratch.ReleaseFloat64(values[w][ri])
			}
			finalizeRow(f, acc)
			copy(y[(start+ri)*n:(start+ri+1)*n], acc)
			opts.Scratch.ReleaseFloat64(acc)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// mergeInto folds a worker's partial accumulator src into dst according to
// the forest's aggregate rule. SUM/AVG partials are simply additive; for
// MIN/MAX a partial only participates in a target if it ever received a
// contribution (hasScoreSrc[t]).
func mergeInto(agg Aggregate, dst []float64, hasDst []bool, src []float64, hasSrc []bool) {
	for t := range dst {
		if !hasSrc[t] {
			continue
		}
		switch agg {
		case AggregateSum, AggregateAvg:
			dst[t] += src[t]
		case AggregateMin:
			if !hasDst[t] || src[t] < dst[t] {
				dst[t] = src[t]
			}
		case AggregateMax:
			if !hasDst[t] || src[t] > dst[t] {
				dst[t] = src[t]
			}
		}
		hasDst[t] = true
	}
}
