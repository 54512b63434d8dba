package retrieval

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/zen-systems/querygate/pkg/dataset"
)

// Index defaults.
const (
	DefaultBatchSize = 64
	DefaultWorkers   = 4
)

// Index builds and caches vector collections for dataset profiles.
type Index struct {
	store    *Store
	embedder Embedder
	splitter *Splitter
	batch    int
	workers  int
	limiter  *rate.Limiter
	builds   singleflight.Group
	logger   *zap.Logger
}

// IndexOption configures an Index.
type IndexOption func(*Index)

// WithBatchSize sets how many chunks go into one embedding request.
func WithBatchSize(n int) IndexOption {
	return func(x *Index) {
		if n > 0 {
			x.batch = n
		}
	}
}

// WithWorkers bounds concurrent embedding requests.
func WithWorkers(n int) IndexOption {
	return func(x *Index) {
		if n > 0 {
			x.workers = n
		}
	}
}

// WithEmbedRate caps embedding requests per second.
func WithEmbedRate(perSecond float64, burst int) IndexOption {
	return func(x *Index) {
		if perSecond > 0 {
			x.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

// WithSplitter overrides the chunker.
func WithSplitter(s *Splitter) IndexOption {
	return func(x *Index) {
		if s != nil {
			x.splitter = s
		}
	}
}

// WithIndexLogger sets the logger.
func WithIndexLogger(l *zap.Logger) IndexOption {
	return func(x *Index) {
		if l != nil {
			x.logger = l
		}
	}
}

// NewIndex creates an index over store.
func NewIndex(store *Store, embedder Embedder, opts ...IndexOption) *Index {
	x := &Index{
		store:    store,
		embedder: embedder,
		splitter: NewSplitter(DefaultChunkSize, DefaultChunkOverlap),
		batch:    DefaultBatchSize,
		workers:  DefaultWorkers,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Embedder returns the index's embedder.
func (x *Index) Embedder() Embedder {
	return x.embedder
}

// Store returns the backing store.
func (x *Index) Store() *Store {
	return x.store
}

// Ensure returns the profile's collection, building it when it is missing or
// was built with a different embedder.
func (x *Index) Ensure(ctx context.Context, l *dataset.Loaded) (*Collection, error) {
	c, err := x.store.Collection(ctx, l.Profile.Collection())
	if err != nil {
		return nil, err
	}
	if c != nil && c.Embedder == x.embedder.Model() {
		return c, nil
	}
	return x.Build(ctx, l, true)
}

// Build embeds the profile's documents into its collection. Without force an
// existing compatible collection is kept. Concurrent builds of the same
// collection share one run.
func (x *Index) Build(ctx context.Context, l *dataset.Loaded, force bool) (*Collection, error) {
	name := l.Profile.Collection()
	v, err, _ := x.builds.Do(name, func() (any, error) {
		if !force {
			c, err := x.store.Collection(ctx, name)
			if err != nil {
				return nil, err
			}
			if c != nil && c.Embedder == x.embedder.Model() {
				return c, nil
			}
		}
		return x.build(ctx, l)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Collection), nil
}

func (x *Index) build(ctx context.Context, l *dataset.Loaded) (*Collection, error) {
	start := time.Now()
	name := l.Profile.Collection()
	docs := BuildDocuments(l.Table, l.Profile)
	chunks := x.splitter.Chunks(docs)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("profile %s has no text to index", l.Profile.ID)
	}

	vectors, err := x.embedAll(ctx, chunks)
	if err != nil {
		return nil, err
	}

	c := Collection{
		Name:      name,
		Embedder:  x.embedder.Model(),
		Dims:      len(vectors[0]),
		Documents: len(docs),
	}
	if err := x.store.Replace(ctx, c, chunks, vectors); err != nil {
		return nil, err
	}
	built, err := x.store.Collection(ctx, name)
	if err != nil {
		return nil, err
	}

	x.logger.Info("collection built",
		zap.String("collection", name),
		zap.String("embedder", c.Embedder),
		zap.Int("documents", len(docs)),
		zap.Int("chunks", len(chunks)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return built, nil
}

func (x *Index) embedAll(ctx context.Context, chunks []Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.workers)

	for start := 0; start < len(chunks); start += x.batch {
		end := min(start+x.batch, len(chunks))
		g.Go(func() error {
			if x.limiter != nil {
				if err := x.limiter.Wait(gctx); err != nil {
					return err
				}
			}
			texts := make([]string, end-start)
			for i := range texts {
				texts[i] = chunks[start+i].Content
			}
			out, err := x.embedder.EmbedDocuments(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed chunks %d-%d: %w", start, end, err)
			}
			if len(out) != len(texts) {
				return fmt.Errorf("embedder returned %d vectors for %d chunks", len(out), len(texts))
			}
			copy(vectors[start:end], out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}
