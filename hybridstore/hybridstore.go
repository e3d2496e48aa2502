// Package hybridstore is the Hybrid Point/Segment Store (C4): Point and
// Segment CRUD with coordinated writes across a kvstore.Store (C1), a
// vectorindex.Index (C2), and an embedding.Provider (C3), id-allocated via
// idalloc.Allocator (C8). Cross-store reconciliation on partial failure
// follows the same at-least-once-metadata/best-effort-vector split that
// store/db/sqlite logs its BM25/vec0 fallback decisions with.
package hybridstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/xlab2016/space-db-public/embedding"
	"github.com/xlab2016/space-db-public/idalloc"
	"github.com/xlab2016/space-db-public/internal/apperr"
	"github.com/xlab2016/space-db-public/internal/logging"
	"github.com/xlab2016/space-db-public/kvstore"
	"github.com/xlab2016/space-db-public/vectorindex"
)

// DimensionResource and DimensionFragment are the two reserved dimension
// tags this system assigns meaning to; all other values are opaque to the
// core.
const (
	DimensionResource = 0
	DimensionFragment = 1
)

// Point is a knowledge node: identity plus small metadata and an optional
// vector. Payload is carried only alongside the vector in C2 — it is never
// written to the C1 metadata record (§9 Open Question 2, preserved here as
// documented behavior, not a defect).
type Point struct {
	SingularityID *int64
	UserID        *int64
	Payload       string
	ID            int64
	Layer         int
	Dimension     int
	Weight        float64
}

// Segment is a directed edge between two Points, always indexed under both
// an inbound and an outbound key.
type Segment struct {
	ID            int64
	FromID        int64
	ToID          int64
	Weight        float64
	Layer         int
	Dimension     int
	SingularityID *int64
}

// SearchRequest mirrors §6's conceptual search request. Exactly one of
// Query or QueryVector must be set.
type SearchRequest struct {
	Query          string
	QueryVector    []float32
	SingularityID  *int64
	Dimension      *int
	Layer          *int
	Limit          int
	ScoreThreshold float32
}

// Stats is the supplemental observability surface the CLI's status
// subcommand reads; it is not required by any invariant.
type Stats struct {
	PointsByDimension map[int]int
	PointCount        int
	SegmentCount      int
}

// Config fixes the vector collection a Store operates against.
type Config struct {
	Collection string
	VectorSize int
	Distance   vectorindex.Distance
}

// Store is the C4 implementation.
type Store struct {
	kv         kvstore.Store
	vec        vectorindex.Index
	embed      embedding.Provider
	ids        *idalloc.Allocator
	log        *logging.Logger
	collection string
}

type pointRecord struct {
	SingularityID *int64  `json:"singularityId,omitempty"`
	UserID        *int64  `json:"userId,omitempty"`
	ID            int64   `json:"id"`
	Layer         int     `json:"layer"`
	Dimension     int     `json:"dimension"`
	Weight        float64 `json:"weight"`
}

type segmentRecord struct {
	SingularityID *int64  `json:"singularityId,omitempty"`
	ID            int64   `json:"id"`
	FromID        int64   `json:"fromId"`
	ToID          int64   `json:"toId"`
	Weight        float64 `json:"weight"`
	Layer         int     `json:"layer"`
	Dimension     int     `json:"dimension"`
}

func pointKey(id int64) string        { return fmt.Sprintf("point:%d", id) }
func segInKey(from, to int64) string  { return fmt.Sprintf("seg:in:%d:%d", from, to) }
func segOutKey(to, from int64) string { return fmt.Sprintf("seg:out:%d:%d", to, from) }

// New constructs a Store, creating the backing vector collection (and its
// payload indexes, per §6's binding field list) if it does not already
// exist, and seeding the id allocator from the highest point/segment id
// found in the KV store — the §9 Open Question 1 resolution documented in
// DESIGN.md.
func New(ctx context.Context, kv kvstore.Store, vec vectorindex.Index, embed embedding.Provider, cfg Config) (*Store, error) {
	collection := cfg.Collection
	if collection == "" {
		collection = "points"
	}
	distance := cfg.Distance
	if distance == "" {
		distance = vectorindex.Cosine
	}

	exists, err := vec.CollectionExists(ctx, collection)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamFailure, err, "check vector collection existence")
	}
	if !exists {
		if err := vec.CreateCollection(ctx, collection, cfg.VectorSize, distance); err != nil {
			return nil, apperr.Wrap(apperr.UpstreamFailure, err, "create vector collection")
		}
		for field, schema := range map[string]vectorindex.SchemaType{
			"layer":         vectorindex.SchemaInteger,
			"dimension":     vectorindex.SchemaInteger,
			"weight":        vectorindex.SchemaFloat,
			"singularityId": vectorindex.SchemaInteger,
			"userId":        vectorindex.SchemaInteger,
			"fromId":        vectorindex.SchemaInteger,
		} {
			if err := vec.CreatePayloadIndex(ctx, collection, field, schema); err != nil {
				return nil, apperr.Wrap(apperr.UpstreamFailure, err, "create payload index "+field)
			}
		}
	}

	pointHigh, segmentHigh, err := highWaterMarks(ctx, kv)
	if err != nil {
		return nil, err
	}

	return &Store{
		kv:         kv,
		vec:        vec,
		embed:      embed,
		ids:        idalloc.New(pointHigh, segmentHigh),
		log:        logging.Default().WithComponent("hybridstore"),
		collection: collection,
	}, nil
}

func highWaterMarks(ctx context.Context, kv kvstore.Store) (pointHigh, segmentHigh int64, err error) {
	points, err := kv.RangeScan(ctx, "point:", "point:~")
	if err != nil {
		return 0, 0, apperr.Wrap(apperr.UpstreamFailure, err, "scan point high-water mark")
	}
	for _, p := range points {
		idStr := strings.TrimPrefix(p.Key, "point:")
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err == nil && id > pointHigh {
			pointHigh = id
		}
	}

	segments, err := kv.RangeScan(ctx, "seg:in:", "seg:in:~")
	if err != nil {
		return 0, 0, apperr.Wrap(apperr.UpstreamFailure, err, "scan segment high-water mark")
	}
	for _, s := range segments {
		var rec segmentRecord
		if err := json.Unmarshal(s.Value, &rec); err == nil && rec.ID > segmentHigh {
			segmentHigh = rec.ID
		}
	}

	return pointHigh, segmentHigh, nil
}

// AddPoint assigns an id (if point.ID == 0), writes metadata to C1,
// resolves a vector (supplied, embedded from Payload, or none), upserts it
// into C2, and links fromID -> id as a Segment if fromID is non-nil. The
// returned segmentID is 0 when fromID is nil or the link could not be
// created.
//
// Failure policy: a C1 write failure aborts the call (no id is considered
// created). Every subsequent step — embedding, C2 upsert, segment
// creation — is logged and swallowed on failure; the point id is still
// returned.
func (s *Store) AddPoint(ctx context.Context, fromID *int64, point Point, vector []float32) (pointID int64, segmentID int64, err error) {
	if point.ID == 0 {
		point.ID = s.ids.NextPointID()
	}

	rec := pointRecord{
		ID:            point.ID,
		Layer:         point.Layer,
		Dimension:     point.Dimension,
		Weight:        point.Weight,
		SingularityID: point.SingularityID,
		UserID:        point.UserID,
	}
	if err := kvstore.PutJSON(ctx, s.kv, pointKey(point.ID), rec); err != nil {
		return 0, 0, apperr.Wrap(apperr.UpstreamFailure, err, "write point metadata").WithKey(pointKey(point.ID))
	}

	s.upsertVectorBestEffort(ctx, point, fromID, vector)

	if fromID != nil {
		id, err := s.AddSegment(ctx, *fromID, point.ID)
		if err != nil {
			s.log.Warn("failed to link point to parent", "fromId", *fromID, "toId", point.ID, "error", err.Error())
		} else {
			segmentID = id
		}
	}

	return point.ID, segmentID, nil
}

// upsertVectorBestEffort resolves vector (embedding the payload if needed)
// and upserts it into C2, unless point.Dimension == 0 (invariant P2: a
// dimension=0 Point never has a vector entry). All failures are logged and
// swallowed.
func (s *Store) upsertVectorBestEffort(ctx context.Context, point Point, fromID *int64, vector []float32) {
	if point.Dimension == DimensionResource {
		return
	}

	if vector == nil && point.Payload != "" {
		v, err := s.embed.Embed(ctx, point.Payload)
		if err != nil {
			s.log.Warn("failed to embed point payload", "id", point.ID, "error", err.Error())
			return
		}
		vector = v
	}
	if vector == nil {
		return
	}

	if err := s.vec.UpsertPoints(ctx, s.collection, []vectorindex.Point{
		{ID: uint64(point.ID), Vector: vector, Payload: vectorPayload(point, fromID)},
	}); err != nil {
		s.log.Warn("failed to upsert point vector", "id", point.ID, "error", err.Error())
	}
}

func vectorPayload(point Point, fromID *int64) map[string]any {
	payload := map[string]any{
		"layer":     point.Layer,
		"dimension": point.Dimension,
		"weight":    point.Weight,
	}
	if point.SingularityID != nil {
		payload["singularityId"] = *point.SingularityID
	}
	if point.UserID != nil {
		payload["userId"] = *point.UserID
	}
	if fromID != nil {
		payload["fromId"] = *fromID
	}
	return payload
}

// UpdatePoint rewrites C1 metadata and, depending on Payload, refreshes or
// removes the vector. A non-empty Payload (with no supplied vector)
// re-embeds; an empty Payload deletes any existing vector.
func (s *Store) UpdatePoint(ctx context.Context, point Point, vector []float32) error {
	rec := pointRecord{
		ID:            point.ID,
		Layer:         point.Layer,
		Dimension:     point.Dimension,
		Weight:        point.Weight,
		SingularityID: point.SingularityID,
		UserID:        point.UserID,
	}
	if err := kvstore.PutJSON(ctx, s.kv, pointKey(point.ID), rec); err != nil {
		return apperr.Wrap(apperr.UpstreamFailure, err, "rewrite point metadata").WithKey(pointKey(point.ID))
	}

	if point.Payload == "" {
		if err := s.vec.DeletePoints(ctx, s.collection, []uint64{uint64(point.ID)}); err != nil {
			s.log.Warn("failed to delete stale point vector", "id", point.ID, "error", err.Error())
		}
		return nil
	}

	s.upsertVectorBestEffort(ctx, point, nil, vector)
	return nil
}

// DeletePoint removes point:<id> from C1 and its vector from C2. Segments
// referencing id are left dangling (§9 Open Question 3, deliberate).
func (s *Store) DeletePoint(ctx context.Context, id int64) error {
	if err := s.kv.Delete(ctx, pointKey(id)); err != nil {
		return apperr.Wrap(apperr.UpstreamFailure, err, "delete point metadata").WithKey(pointKey(id))
	}
	if err := s.vec.DeletePoints(ctx, s.collection, []uint64{uint64(id)}); err != nil {
		s.log.Warn("failed to delete point vector", "id", id, "error", err.Error())
	}
	return nil
}

// AddSegment allocates a segment id and writes both the inbound and
// outbound index records. If only one write succeeds, it attempts to undo
// the other and reports an Inconsistency error rather than leaving a
// half-edge (invariant P1).
func (s *Store) AddSegment(ctx context.Context, fromID, toID int64) (int64, error) {
	if fromID == 0 || toID == 0 {
		return 0, apperr.New(apperr.InvalidInput, "fromId and toId are both required")
	}

	id := s.ids.NextSegmentID()
	rec := segmentRecord{ID: id, FromID: fromID, ToID: toID, Weight: 1.0}

	inKey := segInKey(fromID, toID)
	outKey := segOutKey(toID, fromID)

	if err := kvstore.PutJSON(ctx, s.kv, inKey, rec); err != nil {
		return 0, apperr.Wrap(apperr.UpstreamFailure, err, "write inbound segment").WithKey(inKey)
	}
	if err := kvstore.PutJSON(ctx, s.kv, outKey, rec); err != nil {
		if undoErr := s.kv.Delete(ctx, inKey); undoErr != nil {
			s.log.Error("failed to undo half-written segment", "key", inKey, "error", undoErr.Error())
		}
		return 0, apperr.Wrap(apperr.Inconsistency, err, "write outbound segment").WithKey(outKey)
	}

	return id, nil
}

// DeleteSegment removes both index records for the fromID -> toID edge.
// It fails with NotFound unless both records are present beforehand.
func (s *Store) DeleteSegment(ctx context.Context, fromID, toID int64) error {
	inKey := segInKey(fromID, toID)
	outKey := segOutKey(toID, fromID)

	inExists, err := s.kv.Exists(ctx, inKey)
	if err != nil {
		return apperr.Wrap(apperr.UpstreamFailure, err, "check inbound segment")
	}
	outExists, err := s.kv.Exists(ctx, outKey)
	if err != nil {
		return apperr.Wrap(apperr.UpstreamFailure, err, "check outbound segment")
	}
	if !inExists || !outExists {
		return apperr.New(apperr.NotFound, "segment not found")
	}

	if err := s.kv.Delete(ctx, inKey); err != nil {
		return apperr.Wrap(apperr.UpstreamFailure, err, "delete inbound segment").WithKey(inKey)
	}
	if err := s.kv.Delete(ctx, outKey); err != nil {
		return apperr.Wrap(apperr.Inconsistency, err, "delete outbound segment after inbound succeeded").WithKey(outKey)
	}
	return nil
}

// Search embeds req.Query (unless req.QueryVector is supplied), builds a
// metadata equality filter from SingularityID/Dimension/Layer, and returns
// C2's hits verbatim (no re-sorting).
func (s *Store) Search(ctx context.Context, req SearchRequest) ([]vectorindex.SearchResult, error) {
	if (req.Query == "") == (req.QueryVector == nil) {
		return nil, apperr.New(apperr.InvalidInput, "exactly one of query or queryVector must be set")
	}

	vector := req.QueryVector
	if vector == nil {
		v, err := s.embed.Embed(ctx, req.Query)
		if err != nil {
			return nil, apperr.Wrap(apperr.UpstreamFailure, err, "embed search query")
		}
		vector = v
	}

	filter := vectorindex.Filter{}
	if req.SingularityID != nil {
		filter["singularityId"] = *req.SingularityID
	}
	if req.Dimension != nil {
		filter["dimension"] = *req.Dimension
	}
	if req.Layer != nil {
		filter["layer"] = *req.Layer
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	results, err := s.vec.Search(ctx, s.collection, vector, filter, limit, req.ScoreThreshold)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamFailure, err, "vector search")
	}
	return results, nil
}

// Stats scans C1's point: and seg:in: ranges to report counts. It is an
// ambient observability feature, not required by any invariant.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	points, err := s.kv.RangeScan(ctx, "point:", "point:~")
	if err != nil {
		return Stats{}, apperr.Wrap(apperr.UpstreamFailure, err, "scan points for stats")
	}
	segments, err := s.kv.RangeScan(ctx, "seg:in:", "seg:in:~")
	if err != nil {
		return Stats{}, apperr.Wrap(apperr.UpstreamFailure, err, "scan segments for stats")
	}

	stats := Stats{PointCount: len(points), SegmentCount: len(segments), PointsByDimension: map[int]int{}}
	for _, p := range points {
		var rec pointRecord
		if err := json.Unmarshal(p.Value, &rec); err == nil {
			stats.PointsByDimension[rec.Dimension]++
		}
	}
	return stats, nil
}

// Close releases the underlying KV and vector backends.
func (s *Store) Close() error {
	var firstErr error
	if err := s.kv.Close(); err != nil {
		firstErr = err
	}
	if err := s.vec.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
