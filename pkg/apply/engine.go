package apply

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"voxelfit/internal/models"
	"voxelfit/pkg/pool"
)

// Float is the element type of the engine's output volumes
type Float interface {
	~float32 | ~float64
}

// Engine applies one Algorithm to every voxel of its attached inputs.
//
// Inputs, constants and the mask are read-only for the duration of Run.
// An Engine may be run repeatedly; each Run allocates fresh outputs and a
// fresh worker pool.
type Engine[T Float] struct {
	alg Algorithm

	// cached arities
	numInputs  int
	numConsts  int
	numOutputs int
	dataSize   int
	defaults   []float64

	cfg engineConfig

	inputs []models.Sampler
	consts []models.Sampler
	mask   models.Sampler
}

// New creates an engine for alg.
func New[T Float](alg Algorithm, opts ...Option) (*Engine[T], error) {
	if alg == nil {
		return nil, ErrNoAlgorithm
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	e := &Engine[T]{
		alg:        alg,
		numInputs:  alg.NumInputs(),
		numConsts:  alg.NumConsts(),
		numOutputs: alg.NumOutputs(),
		dataSize:   alg.DataSize(),
		cfg:        cfg,
	}
	if e.numInputs < 0 || e.numConsts < 0 || e.numOutputs < 0 || e.dataSize < 0 {
		return nil, fmt.Errorf("algorithm declares negative arity (inputs=%d consts=%d outputs=%d data=%d)",
			e.numInputs, e.numConsts, e.numOutputs, e.dataSize)
	}
	defaults := alg.DefaultConsts()
	if len(defaults) != e.numConsts {
		return nil, fmt.Errorf("algorithm has %d default constants for %d constants: %w",
			len(defaults), e.numConsts, ErrSizeMismatch)
	}
	e.defaults = append([]float64(nil), defaults...)
	e.inputs = make([]models.Sampler, e.numInputs)
	e.consts = make([]models.Sampler, e.numConsts)

	cfg.logger.Debug().
		Int("inputs", e.numInputs).
		Int("consts", e.numConsts).
		Int("outputs", e.numOutputs).
		Int("data_size", e.dataSize).
		Int("pool_size", cfg.poolSize).
		Bool("scale_to_mean", cfg.scaleToMean).
		Msg("Engine configured")

	return e, nil
}

// Algorithm returns the configured algorithm
func (e *Engine[T]) Algorithm() Algorithm { return e.alg }

// ScaleToMean reports whether input vectors are divided by their mean
func (e *Engine[T]) ScaleToMean() bool { return e.cfg.scaleToMean }

// SetScaleToMean toggles mean scaling for subsequent runs
func (e *Engine[T]) SetScaleToMean(enabled bool) { e.cfg.scaleToMean = enabled }

// PoolSize returns the configured worker count, 0 meaning every CPU
func (e *Engine[T]) PoolSize() int { return e.cfg.poolSize }

// SetInput attaches data input i.
func (e *Engine[T]) SetInput(i int, s models.Sampler) error {
	if i < 0 || i >= e.numInputs {
		return fmt.Errorf("data input %d (algorithm has %d): %w", i, e.numInputs, ErrIndexRange)
	}
	e.inputs[i] = s
	return nil
}

// Input returns data input i, which may be nil if not yet attached.
func (e *Engine[T]) Input(i int) (models.Sampler, error) {
	if i < 0 || i >= e.numInputs {
		return nil, fmt.Errorf("data input %d (algorithm has %d): %w", i, e.numInputs, ErrIndexRange)
	}
	return e.inputs[i], nil
}

// SetConst attaches the volume for constant i. Passing nil detaches it so
// the algorithm default is used again.
func (e *Engine[T]) SetConst(i int, s models.Sampler) error {
	if i < 0 || i >= e.numConsts {
		return fmt.Errorf("constant %d (algorithm has %d): %w", i, e.numConsts, ErrIndexRange)
	}
	e.consts[i] = s
	return nil
}

// Const returns the volume attached for constant i, or nil.
func (e *Engine[T]) Const(i int) (models.Sampler, error) {
	if i < 0 || i >= e.numConsts {
		return nil, fmt.Errorf("constant %d (algorithm has %d): %w", i, e.numConsts, ErrIndexRange)
	}
	return e.consts[i], nil
}

// SetMask attaches a mask. Voxels where the mask is zero are not fitted.
// Passing nil processes every voxel.
func (e *Engine[T]) SetMask(s models.Sampler) { e.mask = s }

// Mask returns the attached mask, or nil
func (e *Engine[T]) Mask() models.Sampler { return e.mask }

// validate checks the attached volumes against the algorithm and returns
// the grid every output will be stamped with.
func (e *Engine[T]) validate() (models.Grid, error) {
	if e.numInputs == 0 {
		return models.Grid{}, fmt.Errorf("algorithm declares no data inputs: %w", ErrZeroSize)
	}
	for i, in := range e.inputs {
		if in == nil {
			return models.Grid{}, fmt.Errorf("data input %d: %w", i, ErrMissingInput)
		}
	}

	grid := e.inputs[0].Grid()
	if err := grid.Validate(); err != nil {
		return models.Grid{}, fmt.Errorf("data input 0: %v: %w", err, ErrGridMismatch)
	}
	for i, in := range e.inputs[1:] {
		if !in.Grid().Equal(grid) {
			return models.Grid{}, fmt.Errorf("data input %d %v vs %v: %w", i+1, in.Grid(), grid, ErrGridMismatch)
		}
	}
	for i, c := range e.consts {
		if c == nil {
			continue
		}
		if !c.Grid().Equal(grid) {
			return models.Grid{}, fmt.Errorf("constant %d %v vs %v: %w", i, c.Grid(), grid, ErrGridMismatch)
		}
		if c.Channels() != 1 {
			return models.Grid{}, fmt.Errorf("constant %d has %d channels: %w", i, c.Channels(), ErrChannels)
		}
	}
	if e.mask != nil {
		if !e.mask.Grid().Equal(grid) {
			return models.Grid{}, fmt.Errorf("mask %v vs %v: %w", e.mask.Grid(), grid, ErrGridMismatch)
		}
		if e.mask.Channels() != 1 {
			return models.Grid{}, fmt.Errorf("mask has %d channels: %w", e.mask.Channels(), ErrChannels)
		}
	}

	size := 0
	for _, in := range e.inputs {
		size += in.Channels()
	}
	if size != e.dataSize {
		return models.Grid{}, fmt.Errorf("sequence size (%d) does not match input size (%d): %w",
			e.dataSize, size, ErrSizeMismatch)
	}
	if size == 0 {
		return models.Grid{}, ErrZeroSize
	}
	return grid, nil
}

func (e *Engine[T]) allocate(grid models.Grid) (*Result[T], error) {
	res := &Result[T]{
		outputs: make([]*models.Volume[T], e.numOutputs),
		names:   OutputNames(e.alg),
	}
	for i := range res.outputs {
		v, err := models.NewVolume[T](grid, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate output %d: %v", i, err)
		}
		res.outputs[i] = v
	}
	var err error
	if res.residuals, err = models.NewVolume[T](grid, e.dataSize); err != nil {
		return nil, fmt.Errorf("failed to allocate residuals: %v", err)
	}
	if res.iterations, err = models.NewVolume[int32](grid, 1); err != nil {
		return nil, fmt.Errorf("failed to allocate iterations: %v", err)
	}
	return res, nil
}

// passState is shared by all tasks of one pass. Every field is either
// atomic or written only by the task owning a voxel index.
type passState[T Float] struct {
	res         *Result[T]
	total       int
	completed   atomic.Int64
	evaluations atomic.Int64
	failures    atomic.Int64
	panics      atomic.Int64
	evalNanos   atomic.Int64
}

// Run performs one full pass over the grid and blocks until every voxel
// has been written. Configuration problems are returned before any voxel
// is touched; per-voxel fit failures are only reflected in Stats.
func (e *Engine[T]) Run() (*Result[T], error) {
	start := time.Now()
	grid, err := e.validate()
	if err != nil {
		return nil, err
	}
	res, err := e.allocate(grid)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := e.cfg.logger.With().Str("run_id", runID).Logger()
	st := &passState[T]{res: res, total: grid.Len()}

	p := pool.New(e.cfg.poolSize)
	log.Debug().Int("voxels", st.total).Int("workers", p.Size()).Msg("Starting pass")

	maskBuf := make([]float64, 1)
	masked := 0
	for idx := 0; idx < st.total; idx++ {
		if e.mask != nil {
			e.mask.Sample(idx, maskBuf)
			if maskBuf[0] == 0 {
				e.zeroFill(res, idx)
				masked++
				e.cfg.metrics.observeMasked()
				e.reportProgress(st)
				continue
			}
		}

		consts := e.gatherConsts(idx)
		data := e.gatherData(idx)
		voxel := idx
		e.cfg.metrics.observeQueued()
		if err := p.Enqueue(func() { e.fit(st, voxel, data, consts) }); err != nil {
			// The pool is only drained below, so this cannot happen.
			p.Drain()
			return nil, fmt.Errorf("failed to enqueue voxel %d: %v", voxel, err)
		}
	}
	p.Drain()

	elapsed := time.Since(start)
	evals := st.evaluations.Load()
	res.Stats = Stats{
		RunID:       runID,
		Voxels:      st.total,
		Masked:      masked,
		Evaluations: int(evals),
		Failures:    int(st.failures.Load()),
		Panics:      int(st.panics.Load()),
		Elapsed:     elapsed,
	}
	if evals > 0 {
		res.Stats.MeanEvalTime = time.Duration(st.evalNanos.Load() / evals)
	}
	e.cfg.metrics.observePass(elapsed)

	log.Info().
		Int("voxels", res.Stats.Voxels).
		Int("masked", res.Stats.Masked).
		Int("failures", res.Stats.Failures).
		Dur("mean_eval", res.Stats.MeanEvalTime).
		Dur("elapsed", elapsed).
		Msg("Pass complete")
	if res.Stats.Panics > 0 {
		log.Warn().Int("panics", res.Stats.Panics).Msg("Algorithm panicked on some voxels; they were zero-filled")
	}

	return res, nil
}

// gatherConsts snapshots the voxel's constants, using the algorithm
// defaults for any constant without a volume.
func (e *Engine[T]) gatherConsts(idx int) []float64 {
	consts := make([]float64, e.numConsts)
	copy(consts, e.defaults)
	for i, c := range e.consts {
		if c != nil {
			c.Sample(idx, consts[i:i+1])
		}
	}
	return consts
}

// gatherData concatenates the voxel vectors of every data input in
// declaration order, mean-scaling each one first if enabled.
func (e *Engine[T]) gatherData(idx int) []float64 {
	data := make([]float64, e.dataSize)
	offset := 0
	for _, in := range e.inputs {
		n := in.Channels()
		seg := data[offset : offset+n]
		in.Sample(idx, seg)
		if e.cfg.scaleToMean {
			mean := stat.Mean(seg, nil)
			for j := range seg {
				seg[j] /= mean
			}
		}
		offset += n
	}
	return data
}

// fit runs the algorithm for one voxel and writes the voxel's output cells.
func (e *Engine[T]) fit(st *passState[T], idx int, data, consts []float64) {
	start := time.Now()
	fit, ok := e.safeApply(data, consts)
	d := time.Since(start)

	st.evaluations.Add(1)
	st.evalNanos.Add(int64(d))

	if !ok {
		st.panics.Add(1)
		st.failures.Add(1)
		e.zeroFill(st.res, idx)
	} else if len(fit.Outputs) != e.numOutputs || len(fit.Residuals) != e.dataSize {
		st.failures.Add(1)
		e.zeroFill(st.res, idx)
		ok = false
	} else {
		e.write(st.res, idx, fit)
		if !fit.Success {
			st.failures.Add(1)
			ok = false
		}
	}

	e.cfg.metrics.observeApply(d, ok)
	e.reportProgress(st)
}

// safeApply calls the algorithm, converting a panic into a failed voxel.
func (e *Engine[T]) safeApply(data, consts []float64) (fit Fit, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.cfg.logger.Debug().Interface("panic", r).Msg("Algorithm panicked")
			fit, ok = Fit{}, false
		}
	}()
	return e.alg.Apply(data, consts), true
}

func (e *Engine[T]) write(res *Result[T], idx int, fit Fit) {
	for i, v := range fit.Outputs {
		res.outputs[i].SetScalar(idx, T(v))
	}
	resid := res.residuals.Data()[idx*e.dataSize : (idx+1)*e.dataSize]
	for j, r := range fit.Residuals {
		resid[j] = T(r)
	}
	res.iterations.SetScalar(idx, clampIterations(fit.Iterations))
}

// clampIterations saturates at math.MaxInt32; negative counts are stored as 0.
func clampIterations(n int) int32 {
	if n < 0 {
		return 0
	}
	return int32(min(n, math.MaxInt32))
}

func (e *Engine[T]) zeroFill(res *Result[T], idx int) {
	for _, out := range res.outputs {
		out.SetScalar(idx, 0)
	}
	resid := res.residuals.Data()[idx*e.dataSize : (idx+1)*e.dataSize]
	clear(resid)
	res.iterations.SetScalar(idx, 0)
}

func (e *Engine[T]) reportProgress(st *passState[T]) {
	done := st.completed.Add(1)
	if e.cfg.progress != nil {
		e.cfg.progress(int(done), st.total)
	}
}
