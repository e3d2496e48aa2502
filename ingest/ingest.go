// Package ingest is the Content Ingestion Pipeline (C6): parse -> batch
// embed -> materialize resource + fragment Points and linking Segments via
// hybridstore.Store. The concurrency-limiting shape of Config
// (a buffered channel as a semaphore, sized from MaxConcurrency) is
// grounded on ai/memory/simple/generator.go's Generator/Config pair.
package ingest

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/xlab2016/space-db-public/embedding"
	"github.com/xlab2016/space-db-public/hybridstore"
	"github.com/xlab2016/space-db-public/internal/apperr"
	"github.com/xlab2016/space-db-public/internal/logging"
	"github.com/xlab2016/space-db-public/internal/metrics"
	"github.com/xlab2016/space-db-public/parser"
)

// Config tunes the ingestion pipeline. MaxConcurrency bounds how many
// fragment AddPoint calls run in parallel during step 5; the default of 1
// keeps the "fragments stored in parse order" guarantee trivially true.
type Config struct {
	MaxConcurrency int
}

// DefaultConfig returns sequential (non-concurrent) ingestion.
func DefaultConfig() Config {
	return Config{MaxConcurrency: 1}
}

// Request is the conceptual ingestion request of spec §6.
type Request struct {
	Metadata      map[string]any
	Payload       []byte
	ResourceID    string
	ContentType   string
	SingularityID *int64
	UserID        *int64
}

// Result is the conceptual ingestion response of spec §6.
type Result struct {
	ParserType       string
	ResourcePointID  int64
	FragmentPointIDs []int64
	SegmentIDs       []int64
	TotalFragments   int
}

// Pipeline wires a parser.Registry, an embedding.Provider, and a
// *hybridstore.Store into the six-step ingestion algorithm.
type Pipeline struct {
	parsers *parser.Registry
	embed   embedding.Provider
	store   *hybridstore.Store
	log     *logging.Logger
	sem     chan struct{}
	metrics *metrics.Registry
}

// New builds a Pipeline. If cfg.MaxConcurrency <= 0, it defaults to 1
// (sequential).
func New(parsers *parser.Registry, embed embedding.Provider, store *hybridstore.Store, cfg Config) *Pipeline {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	return &Pipeline{
		parsers: parsers,
		embed:   embed,
		store:   store,
		log:     logging.Default().WithComponent("ingest"),
		sem:     make(chan struct{}, cfg.MaxConcurrency),
	}
}

// WithMetrics attaches a metrics.Registry that Ingest and
// materializeFragments report to. Optional; a nil Pipeline.metrics
// (the zero value) disables recording entirely.
func (p *Pipeline) WithMetrics(m *metrics.Registry) *Pipeline {
	p.metrics = m
	return p
}

// Ingest runs the six-step algorithm of spec §4.5.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*Result, error) {
	if len(req.Payload) == 0 {
		return nil, apperr.New(apperr.InvalidInput, "payload is empty")
	}
	if req.ResourceID == "" {
		return nil, apperr.New(apperr.InvalidInput, "resourceId is required")
	}

	// Step 1: parser selection.
	selected, err := p.parsers.Resolve(req.ContentType, req.Payload)
	if err != nil {
		return nil, err
	}

	// Step 2: parsing.
	parsed, err := selected.Parse(req.Payload, req.ResourceID, req.Metadata)
	if err != nil {
		return nil, err
	}
	if len(parsed.Fragments) == 0 {
		return nil, apperr.New(apperr.InvalidInput, "parser produced no fragments")
	}

	// Step 3: batch embedding.
	contents := make([]string, len(parsed.Fragments))
	for i, f := range parsed.Fragments {
		contents[i] = f.Content
	}
	vectors, err := p.embed.EmbedBatch(ctx, contents)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(parsed.Fragments) {
		return nil, apperr.New(apperr.EmbeddingMismatch, "embedding count does not match fragment count")
	}

	// Step 4: resource materialization. A failure here aborts the request
	// with no writes having happened beyond this single Point.
	summary := "Resource: " + parsed.ResourceID + " (" + parsed.ResourceType + ") with " + strconv.Itoa(len(parsed.Fragments)) + " fragments"
	resourceID, _, err := p.store.AddPoint(ctx, nil, hybridstore.Point{
		Dimension:     hybridstore.DimensionResource,
		Layer:         0,
		Weight:        1.0,
		Payload:       summary,
		SingularityID: req.SingularityID,
		UserID:        req.UserID,
	}, nil)
	if p.metrics != nil {
		p.metrics.RecordResourceIngested(err == nil)
	}
	if err != nil {
		return nil, err
	}

	// Step 5: fragment materialization, tolerant of per-fragment failure.
	fragmentPointIDs := p.materializeFragments(ctx, resourceID, req, parsed.ResourceType, parsed.Fragments, vectors)

	sort.Slice(fragmentPointIDs, func(i, j int) bool {
		return fragmentPointIDs[i].order < fragmentPointIDs[j].order
	})

	ids := make([]int64, len(fragmentPointIDs))
	segmentIDs := make([]int64, len(fragmentPointIDs))
	for i, f := range fragmentPointIDs {
		ids[i] = f.pointID
		segmentIDs[i] = f.segmentID
	}

	return &Result{
		ResourcePointID:  resourceID,
		FragmentPointIDs: ids,
		SegmentIDs:       segmentIDs,
		ParserType:       parsed.ResourceType,
		TotalFragments:   len(ids),
	}, nil
}

type orderedID struct {
	order     int
	pointID   int64
	segmentID int64
}

func (p *Pipeline) materializeFragments(ctx context.Context, resourceID int64, req Request, parserType string, fragments []parser.ContentFragment, vectors [][]float32) []orderedID {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []orderedID
	)

	for i, fragment := range fragments {
		i, fragment := i, fragment
		wg.Add(1)
		p.sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-p.sem }()

			id, segmentID, err := p.store.AddPoint(ctx, &resourceID, hybridstore.Point{
				Dimension:     hybridstore.DimensionFragment,
				Layer:         0,
				Weight:        1.0 / float64(fragment.Order+1),
				Payload:       fragment.Content,
				SingularityID: req.SingularityID,
				UserID:        req.UserID,
			}, vectors[i])
			if err != nil {
				p.log.Warn("failed to materialize fragment", "resourceId", resourceID, "order", fragment.Order, "error", err.Error())
				if p.metrics != nil {
					p.metrics.RecordFragmentMaterialized(parserType, false)
				}
				return
			}
			if p.metrics != nil {
				p.metrics.RecordFragmentMaterialized(parserType, true)
			}

			mu.Lock()
			results = append(results, orderedID{order: fragment.Order, pointID: id, segmentID: segmentID})
			mu.Unlock()
		}()
	}
	wg.Wait()

	return results
}
