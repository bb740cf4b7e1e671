// Package engine computes every defined score category for the commune layer. Categories
// are independent and run in parallel; a category that cannot be resolved is skipped and
// excluded from global scores instead of failing the run.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/vivabilite/internal/climate"
	"github.com/sells-group/vivabilite/internal/failure"
	"github.com/sells-group/vivabilite/internal/layer"
	"github.com/sells-group/vivabilite/internal/processor"
	"github.com/sells-group/vivabilite/internal/score"
	"github.com/sells-group/vivabilite/internal/spatial"
	"github.com/sells-group/vivabilite/internal/values"
)

// DefaultConcurrency is the number of categories computed at once.
const DefaultConcurrency = 4

// Engine resolves score definitions against the layer registry.
type Engine struct {
	layers      *layer.Registry
	defs        *score.Definitions
	projector   *spatial.Projector
	concurrency int
	segmentMax  float64
	climate     *climate.Pipeline
}

// Option configures an Engine.
type Option func(*Engine)

// WithConcurrency sets how many categories are computed at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithSegmentMaxLength sets the maximum reference segment length of the distance processor.
func WithSegmentMaxLength(m float64) Option {
	return func(e *Engine) {
		if m > 0 {
			e.segmentMax = m
		}
	}
}

// WithClimate replaces the climate pipeline used by climate recipes.
func WithClimate(p *climate.Pipeline) Option {
	return func(e *Engine) {
		if p != nil {
			e.climate = p
		}
	}
}

// New creates an Engine. A nil projector gets a fresh one.
func New(layers *layer.Registry, defs *score.Definitions, projector *spatial.Projector, opts ...Option) *Engine {
	if projector == nil {
		projector = spatial.NewProjector()
	}
	e := &Engine{
		layers:      layers,
		defs:        defs,
		projector:   projector,
		concurrency: DefaultConcurrency,
		segmentMax:  processor.DefaultSegmentMaxLength,
	}
	for _, o := range opts {
		o(e)
	}
	if e.climate == nil {
		e.climate = climate.New(projector)
	}
	return e
}

// Projector returns the shared projector.
func (e *Engine) Projector() *spatial.Projector {
	return e.projector
}

// Climate returns the climate pipeline.
func (e *Engine) Climate() *climate.Pipeline {
	return e.climate
}

// Communes loads the registered commune layer and prepares it for processing.
func (e *Engine) Communes(ctx context.Context) (*processor.Communes, error) {
	l := e.layers.Communes()
	if l == nil {
		return nil, failure.New(failure.DataUnavailable, eris.New("engine: no commune layer registered"))
	}
	fc, err := l.Load(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "engine: load communes")
	}
	c, err := processor.Prepare(fc, l.IDField, e.projector)
	if err != nil {
		return nil, eris.Wrap(err, "engine: prepare communes")
	}
	return c, nil
}

// Result holds the output of one ComputeAll run.
type Result struct {
	RunID      uuid.UUID
	IDs        []string                 // commune ids in layer order
	Categories []string                 // computed categories, sorted
	Raw        map[string]values.Column // processor output per category
	Scores     map[string]values.Column // 0–100 per category
	Skipped    map[string]string        // category → reason
	Elapsed    time.Duration
}

// Row returns the category scores of one commune.
func (r *Result) Row(id string) map[string]values.Float {
	row := make(map[string]values.Float, len(r.Scores))
	for cat, col := range r.Scores {
		row[cat] = col.Get(id)
	}
	return row
}

// Global computes the weighted global score of every commune.
func (r *Result) Global(weights map[string]float64) values.Column {
	out := make(values.Column, len(r.IDs))
	for _, id := range r.IDs {
		out[id] = values.Of(score.WeightedGlobal(r.Row(id), weights))
	}
	return out
}

// ComputeAll computes every defined category for communes. Definitions that cannot be
// resolved are recorded in Result.Skipped and logged. The only error is context
// cancellation.
func (e *Engine) ComputeAll(ctx context.Context, communes *processor.Communes) (*Result, error) {
	log := zap.L().With(zap.String("component", "engine"))
	start := time.Now()

	res := &Result{
		RunID:   uuid.New(),
		IDs:     communes.IDs(),
		Raw:     make(map[string]values.Column),
		Scores:  make(map[string]values.Column),
		Skipped: make(map[string]string),
	}
	log = log.With(zap.String("run_id", res.RunID.String()))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, def := range e.defs.All() {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			cLog := log.With(
				zap.String("category", def.Category),
				zap.String("layer", def.Layer),
				zap.String("method", string(def.Method())),
			)
			t := time.Now()
			raw, err := e.compute(gctx, def, communes)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				cLog.Warn("engine: category skipped", zap.Error(err))
				res.Skipped[def.Category] = err.Error()
				return nil
			}
			res.Raw[def.Category] = raw
			res.Scores[def.Category] = def.Recipe.Score(raw)
			cLog.Debug("engine: category computed",
				zap.Int("present", raw.Present()),
				zap.Duration("elapsed", time.Since(t)),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "engine: compute")
	}

	for cat := range res.Scores {
		res.Categories = append(res.Categories, cat)
	}
	sort.Strings(res.Categories)
	res.Elapsed = time.Since(start)

	log.Info("engine: run complete",
		zap.Int("communes", len(res.IDs)),
		zap.Int("computed", len(res.Categories)),
		zap.Int("skipped", len(res.Skipped)),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// compute dispatches a definition to its processor and returns the raw column.
func (e *Engine) compute(ctx context.Context, def score.Definition, c *processor.Communes) (values.Column, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	kind, ok := e.layers.KindOf(def.Layer)
	if !ok {
		return nil, failure.New(failure.Configuration, eris.Errorf("engine: %s references unknown layer %q", def.Category, def.Layer))
	}

	switch r := def.Recipe.(type) {
	case score.Distance:
		fc, err := e.vector(ctx, def, kind)
		if err != nil {
			return nil, err
		}
		return processor.Distance(c, fc, e.projector, e.segmentMax)

	case score.PointSample:
		grid, err := e.raster(ctx, def, kind)
		if err != nil {
			return nil, err
		}
		return processor.SamplePoint(c, grid, r.Band, e.projector)

	case score.Zonal:
		grid, err := e.raster(ctx, def, kind)
		if err != nil {
			return nil, err
		}
		return processor.Zonal(c, grid, r.Band, r.Stat, e.projector)

	case score.Normalized:
		switch kind {
		case layer.KindTable:
			t, err := e.layers.Table(def.Layer).Load(ctx)
			if err != nil {
				return nil, err
			}
			return processor.TableColumn(c, t, r.Column)
		case layer.KindVector:
			if !e.layers.IsCommunes(def.Layer) {
				return nil, failure.New(failure.Configuration,
					eris.Errorf("engine: %s normalizes vector layer %q which is not the commune layer", def.Category, def.Layer))
			}
			fc, err := e.layers.Vector(def.Layer).Load(ctx)
			if err != nil {
				return nil, err
			}
			if !fc.HasField(r.Column) {
				return nil, failure.New(failure.Configuration, eris.Errorf("engine: column %q not in %s", r.Column, def.Layer))
			}
			return processor.FeatureColumn(c, r.Column), nil
		default:
			return nil, kindMismatch(def, kind, layer.KindTable)
		}

	case score.Aggregate:
		fc, err := e.vector(ctx, def, kind)
		if err != nil {
			return nil, err
		}
		cols, err := processor.AggregatePoints(c, fc, []string{r.Column}, r.Agg, e.projector)
		if err != nil {
			return nil, err
		}
		return cols[r.Column], nil

	case score.Climate:
		fc, err := e.vector(ctx, def, kind)
		if err != nil {
			return nil, err
		}
		p := *e.climate
		if r.Aggregation != "" {
			p.Aggregation = r.Aggregation
		}
		grid, err := p.FromFeatures(fc)
		if err != nil {
			return nil, err
		}
		out, err := p.Run(grid, c, r.Weights)
		if err != nil {
			return nil, err
		}
		return out.Category(), nil
	}

	return nil, failure.New(failure.Configuration, eris.Errorf("engine: %s has unsupported method %q", def.Category, def.Method()))
}

func (e *Engine) vector(ctx context.Context, def score.Definition, kind layer.Kind) (*spatial.FeatureCollection, error) {
	if kind != layer.KindVector {
		return nil, kindMismatch(def, kind, layer.KindVector)
	}
	return e.layers.Vector(def.Layer).Load(ctx)
}

func (e *Engine) raster(ctx context.Context, def score.Definition, kind layer.Kind) (*spatial.Grid, error) {
	if kind != layer.KindRaster {
		return nil, kindMismatch(def, kind, layer.KindRaster)
	}
	return e.layers.Raster(def.Layer).Load(ctx)
}

func kindMismatch(def score.Definition, got, want layer.Kind) error {
	return failure.New(failure.Configuration,
		eris.Errorf("engine: %s method %s needs a %s layer, %q is a %s", def.Category, def.Method(), want, def.Layer, got))
}
