package storage

import (
	"context"
	"fmt"
	"time"

	"atlas-consolidation/internal/config"
	"atlas-consolidation/internal/logging"
	"atlas-consolidation/pkg/types"

	"github.com/qdrant/go-client/qdrant"
)

const (
	defaultVectorSize    = 1536
	fieldConsolidationLv = "consolidation_level"
	fieldDeletionElig    = "deletion_eligible"
	fieldOriginalText    = "original_text"
	fieldQNTMKeys        = "qntm_keys"
	fieldFilePath        = "file_path"
	fieldChunkIndex      = "chunk_index"
	fieldCreatedAt       = "created_at"
	fieldOccurrences     = "occurrences"
	fieldParents         = "parents"
	fieldConsolType      = "consolidation_type"
	fieldConsolDirection = "consolidation_direction"
	fieldConsolReasoning = "consolidation_reasoning"
	fieldSupersededBy    = "superseded_by"
	fieldDeletionMarked  = "deletion_marked_at"
	fieldAccessCount     = "access_count"
	fieldLastAccessed    = "last_accessed_at"
	fieldStabilityScore  = "stability_score"
)

// QdrantChunkStore implements ChunkStore against a Qdrant collection.
type QdrantChunkStore struct {
	client         *qdrant.Client
	config         *config.QdrantConfig
	collectionName string
	log            logging.Logger
}

// NewQdrantChunkStore builds an uninitialized store; call Initialize
// before use.
func NewQdrantChunkStore(cfg *config.QdrantConfig) *QdrantChunkStore {
	collectionName := cfg.Collection
	if collectionName == "" {
		collectionName = "atlas_chunks"
	}
	return &QdrantChunkStore{
		config:         cfg,
		collectionName: collectionName,
		log:            logging.WithComponent("storage.qdrant"),
	}
}

// Initialize creates the Qdrant client and the collection if it is missing.
func (qs *QdrantChunkStore) Initialize(ctx context.Context) error {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:                   qs.config.Host,
		Port:                   qs.config.Port,
		APIKey:                 qs.config.APIKey,
		UseTLS:                 qs.config.UseTLS,
		SkipCompatibilityCheck: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create Qdrant client: %w", err)
	}
	qs.client = client

	collections, err := qs.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	exists := false
	for _, name := range collections {
		if name == qs.collectionName {
			exists = true
			break
		}
	}

	if !exists {
		err = qs.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: qs.collectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     defaultVectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}

	return nil
}

// Upsert writes chunks from the ingest path.
func (qs *QdrantChunkStore) Upsert(ctx context.Context, chunks []types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, len(chunks))
	for i := range chunks {
		points[i] = chunkToPoint(&chunks[i])
	}

	_, err := qs.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: qs.collectionName,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert failed: %w", err)
	}
	return nil
}

func (qs *QdrantChunkStore) buildFilter(f Filter) *qdrant.Filter {
	must := make([]*qdrant.Condition, 0, 2)
	mustNot := make([]*qdrant.Condition, 0, 2)

	if f.ConsolidationLevel != nil {
		must = append(must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   fieldConsolidationLv,
					Range: &qdrant.Range{Gte: qdrant.PtrOf(float64(*f.ConsolidationLevel)), Lte: qdrant.PtrOf(float64(*f.ConsolidationLevel))},
				},
			},
		})
	}
	if f.ExcludeDeletionEligible {
		must = append(must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   fieldDeletionElig,
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Boolean{Boolean: false}},
				},
			},
		})
	}
	if f.ExcludeID != "" {
		mustNot = append(mustNot, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_HasId{
				HasId: &qdrant.HasIdCondition{HasId: []*qdrant.PointId{stringToPointID(f.ExcludeID)}},
			},
		})
	}

	if len(must) == 0 && len(mustNot) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must, MustNot: mustNot}
}

// Scroll pages through chunks matching req.Filter, per spec.md §4.2's
// "filtered scroll including vectors" requirement.
func (qs *QdrantChunkStore) Scroll(ctx context.Context, req ScrollRequest) (ScrollPage, error) {
	limit := uint32(req.Limit)
	// Qdrant's scroll offset is inclusive, so one extra point is fetched and
	// its id becomes the next page's offset.
	fetch := limit
	if limit > 0 {
		fetch = limit + 1
	}
	scrollReq := &qdrant.ScrollPoints{
		CollectionName: qs.collectionName,
		Limit:          &fetch,
		Filter:         qs.buildFilter(req.Filter),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if req.WithVectors {
		scrollReq.WithVectors = qdrant.NewWithVectors(true)
	}
	if req.Offset != nil {
		scrollReq.Offset = stringToPointID(*req.Offset)
	}

	points, err := qs.client.Scroll(ctx, scrollReq)
	if err != nil {
		return ScrollPage{}, fmt.Errorf("qdrant scroll failed: %w", err)
	}

	var next *string
	if limit > 0 && len(points) > int(limit) {
		nextID := pointIDToString(points[limit].Id)
		next = &nextID
		points = points[:limit]
	}

	chunks := make([]types.Chunk, 0, len(points))
	for _, p := range points {
		chunk, convErr := pointToChunk(p)
		if convErr != nil {
			qs.log.Warn("skipping point with unparseable payload", "id", pointIDToString(p.Id), "error", convErr)
			continue
		}
		chunks = append(chunks, chunk)
	}

	return ScrollPage{Chunks: chunks, NextOffset: next}, nil
}

// Search runs a vector similarity query with a server-side filter,
// matching spec.md §4.2's neighbor-finding step.
func (qs *QdrantChunkStore) Search(ctx context.Context, req SearchRequest) ([]ScoredChunk, error) {
	limit := uint64(req.Limit)
	threshold := req.ScoreThreshold
	result, err := qs.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: qs.collectionName,
		Query:          qdrant.NewQuery(req.Vector...),
		Filter:         qs.buildFilter(req.Filter),
		Limit:          &limit,
		ScoreThreshold: &threshold,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query failed: %w", err)
	}

	hits := make([]ScoredChunk, 0, len(result))
	for _, scored := range result {
		chunk, convErr := scoredPointToChunk(scored)
		if convErr != nil {
			qs.log.Warn("skipping scored point with unparseable payload", "error", convErr)
			continue
		}
		hits = append(hits, ScoredChunk{Chunk: chunk, Score: scored.Score})
	}
	return hits, nil
}

// Retrieve fetches points by id; a shorter result than requested means
// some ids were not found, per spec.md §6's "possibly fewer than
// requested" contract.
func (qs *QdrantChunkStore) Retrieve(ctx context.Context, ids []string) ([]types.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = stringToPointID(id)
	}

	points, err := qs.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: qs.collectionName,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant get failed: %w", err)
	}

	chunks := make([]types.Chunk, 0, len(points))
	for _, p := range points {
		chunk, convErr := retrievedPointToChunk(p)
		if convErr != nil {
			qs.log.Warn("skipping retrieved point with unparseable payload", "error", convErr)
			continue
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// SetPayload shallow-merges patch into the chunk's stored payload.
func (qs *QdrantChunkStore) SetPayload(ctx context.Context, id string, patch PayloadPatch) error {
	payload := patchToPayload(patch)
	if len(payload) == 0 {
		return nil
	}

	_, err := qs.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: qs.collectionName,
		Payload:        payload,
		PointsSelector: qdrant.NewPointsSelectorIDs([]*qdrant.PointId{stringToPointID(id)}),
	})
	if err != nil {
		return fmt.Errorf("qdrant set_payload failed: %w", err)
	}
	return nil
}

// Delete hard-deletes points by id.
func (qs *QdrantChunkStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = stringToPointID(id)
	}

	_, err := qs.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: qs.collectionName,
		Points:         qdrant.NewPointsSelectorIDs(pointIDs),
	})
	if err != nil {
		return fmt.Errorf("qdrant delete failed: %w", err)
	}
	return nil
}

// GetCollectionInfo reports the collection's point count, consulted by the
// watchdog's dynamic-threshold calculation.
func (qs *QdrantChunkStore) GetCollectionInfo(ctx context.Context) (CollectionInfo, error) {
	info, err := qs.client.GetCollectionInfo(ctx, qs.collectionName)
	if err != nil {
		return CollectionInfo{}, fmt.Errorf("qdrant collection info failed: %w", err)
	}
	return CollectionInfo{PointsCount: int64(info.GetPointsCount())}, nil
}

// WithHNSWDisabled toggles the collection's HNSW index off for fn's
// duration, per spec.md §9's guidance to wrap only the driver call.
func (qs *QdrantChunkStore) WithHNSWDisabled(ctx context.Context, fn func(context.Context) error) error {
	info, err := qs.client.GetCollectionInfo(ctx, qs.collectionName)
	if err != nil {
		qs.log.Warn("failed to read hnsw config, proceeding without toggle", "error", err)
		return fn(ctx)
	}
	originalM := info.GetConfig().GetHnswConfig().GetM()

	_, err = qs.client.UpdateCollection(ctx, &qdrant.UpdateCollection{
		CollectionName: qs.collectionName,
		HnswConfig:     &qdrant.HnswConfigDiff{M: qdrant.PtrOf(uint64(0))},
	})
	if err != nil {
		qs.log.Warn("failed to disable hnsw, proceeding without toggle", "error", err)
		return fn(ctx)
	}

	defer func() {
		_, restoreErr := qs.client.UpdateCollection(ctx, &qdrant.UpdateCollection{
			CollectionName: qs.collectionName,
			HnswConfig:     &qdrant.HnswConfigDiff{M: &originalM},
		})
		if restoreErr != nil {
			qs.log.Error("failed to restore hnsw config", "error", restoreErr)
		}
	}()

	return fn(ctx)
}

// Close releases the underlying client connection.
func (qs *QdrantChunkStore) Close() error {
	if qs.client == nil {
		return nil
	}
	return qs.client.Close()
}

func stringToPointID(s string) *qdrant.PointId {
	return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: s}}
}

func pointIDToString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	}
	return ""
}

func chunkToPoint(chunk *types.Chunk) *qdrant.PointStruct {
	return &qdrant.PointStruct{
		Id:      stringToPointID(chunk.ID),
		Vectors: qdrant.NewVectors(chunk.Vector...),
		Payload: chunkToPayload(chunk),
	}
}

func chunkToPayload(chunk *types.Chunk) map[string]*qdrant.Value {
	payload := map[string]*qdrant.Value{
		fieldOriginalText:    qdrant.NewValueString(chunk.OriginalText),
		fieldFilePath:        qdrant.NewValueString(chunk.FilePath),
		fieldChunkIndex:      qdrant.NewValueInt(int64(chunk.ChunkIndex)),
		fieldCreatedAt:       qdrant.NewValueString(chunk.CreatedAt.UTC().Format(time.RFC3339Nano)),
		fieldConsolidationLv: qdrant.NewValueInt(int64(chunk.ConsolidationLevel)),
		fieldDeletionElig:    qdrant.NewValueBool(chunk.DeletionEligible),
		fieldAccessCount:     qdrant.NewValueInt(int64(chunk.AccessCount)),
		fieldStabilityScore:  qdrant.NewValueDouble(chunk.StabilityScore),
		fieldQNTMKeys:        stringListValue(chunk.QNTMKeys),
		fieldParents:         stringListValue(chunk.Parents),
		fieldOccurrences:     timeListValue(chunk.Occurrences),
	}
	if chunk.ConsolidationType != "" {
		payload[fieldConsolType] = qdrant.NewValueString(string(chunk.ConsolidationType))
	}
	if chunk.ConsolidationDirection != "" {
		payload[fieldConsolDirection] = qdrant.NewValueString(string(chunk.ConsolidationDirection))
	}
	if chunk.ConsolidationReasoning != "" {
		payload[fieldConsolReasoning] = qdrant.NewValueString(chunk.ConsolidationReasoning)
	}
	if chunk.SupersededBy != "" {
		payload[fieldSupersededBy] = qdrant.NewValueString(chunk.SupersededBy)
	}
	if chunk.DeletionMarkedAt != nil {
		payload[fieldDeletionMarked] = qdrant.NewValueString(chunk.DeletionMarkedAt.UTC().Format(time.RFC3339Nano))
	}
	if chunk.LastAccessedAt != nil {
		payload[fieldLastAccessed] = qdrant.NewValueString(chunk.LastAccessedAt.UTC().Format(time.RFC3339Nano))
	}
	return payload
}

func patchToPayload(patch PayloadPatch) map[string]*qdrant.Value {
	payload := map[string]*qdrant.Value{}
	if patch.QNTMKeys != nil {
		payload[fieldQNTMKeys] = stringListValue(patch.QNTMKeys)
	}
	if patch.Occurrences != nil {
		payload[fieldOccurrences] = timeListValue(patch.Occurrences)
	}
	if patch.Parents != nil {
		payload[fieldParents] = stringListValue(patch.Parents)
	}
	if patch.ConsolidationLevel != nil {
		payload[fieldConsolidationLv] = qdrant.NewValueInt(int64(*patch.ConsolidationLevel))
	}
	if patch.ConsolidationType != nil {
		payload[fieldConsolType] = qdrant.NewValueString(string(*patch.ConsolidationType))
	}
	if patch.ConsolidationDirection != nil {
		payload[fieldConsolDirection] = qdrant.NewValueString(string(*patch.ConsolidationDirection))
	}
	if patch.ConsolidationReasoning != nil {
		payload[fieldConsolReasoning] = qdrant.NewValueString(*patch.ConsolidationReasoning)
	}
	if patch.SupersededBy != nil {
		payload[fieldSupersededBy] = qdrant.NewValueString(*patch.SupersededBy)
	}
	if patch.DeletionEligible != nil {
		payload[fieldDeletionElig] = qdrant.NewValueBool(*patch.DeletionEligible)
	}
	if patch.DeletionMarkedAt != nil {
		payload[fieldDeletionMarked] = qdrant.NewValueString(patch.DeletionMarkedAt.UTC().Format(time.RFC3339Nano))
	}
	if patch.AccessCount != nil {
		payload[fieldAccessCount] = qdrant.NewValueInt(int64(*patch.AccessCount))
	}
	if patch.LastAccessedAt != nil {
		payload[fieldLastAccessed] = qdrant.NewValueString(patch.LastAccessedAt.UTC().Format(time.RFC3339Nano))
	}
	if patch.StabilityScore != nil {
		payload[fieldStabilityScore] = qdrant.NewValueDouble(*patch.StabilityScore)
	}
	return payload
}

func stringListValue(vals []string) *qdrant.Value {
	values := make([]*qdrant.Value, len(vals))
	for i, v := range vals {
		values[i] = qdrant.NewValueString(v)
	}
	return qdrant.NewValueList(values)
}

func timeListValue(vals []time.Time) *qdrant.Value {
	values := make([]*qdrant.Value, len(vals))
	for i, v := range vals {
		values[i] = qdrant.NewValueString(v.UTC().Format(time.RFC3339Nano))
	}
	return qdrant.NewValueList(values)
}

func pointToChunk(p *qdrant.RetrievedPoint) (types.Chunk, error) {
	return payloadToChunk(pointIDToString(p.Id), p.Payload, vectorsToFloat32(p.Vectors))
}

func retrievedPointToChunk(p *qdrant.RetrievedPoint) (types.Chunk, error) {
	return payloadToChunk(pointIDToString(p.Id), p.Payload, vectorsToFloat32(p.Vectors))
}

func scoredPointToChunk(p *qdrant.ScoredPoint) (types.Chunk, error) {
	return payloadToChunk(pointIDToString(p.Id), p.Payload, vectorsToFloat32(p.Vectors))
}

func vectorsToFloat32(v *qdrant.VectorsOutput) []float32 {
	if v == nil {
		return nil
	}
	if dense := v.GetVector(); dense != nil {
		return dense.GetData()
	}
	return nil
}

func payloadToChunk(id string, payload map[string]*qdrant.Value, vector []float32) (types.Chunk, error) {
	chunk := types.Chunk{
		ID:                 id,
		Vector:             vector,
		OriginalText:       getString(payload, fieldOriginalText),
		FilePath:           getString(payload, fieldFilePath),
		ChunkIndex:         int(getInt(payload, fieldChunkIndex)),
		QNTMKeys:           getStringList(payload, fieldQNTMKeys),
		Parents:            getStringList(payload, fieldParents),
		ConsolidationLevel: int(getInt(payload, fieldConsolidationLv)),
		DeletionEligible:   getBool(payload, fieldDeletionElig),
		AccessCount:        int(getInt(payload, fieldAccessCount)),
		StabilityScore:     getDouble(payload, fieldStabilityScore),
	}

	if createdAt, ok := getTime(payload, fieldCreatedAt); ok {
		chunk.CreatedAt = createdAt
	}
	chunk.Occurrences = getTimeList(payload, fieldOccurrences)

	if t := getString(payload, fieldConsolType); t != "" {
		chunk.ConsolidationType = types.ConsolidationType(t)
	}
	if d := getString(payload, fieldConsolDirection); d != "" {
		chunk.ConsolidationDirection = types.ConsolidationDirection(d)
	}
	chunk.ConsolidationReasoning = getString(payload, fieldConsolReasoning)
	chunk.SupersededBy = getString(payload, fieldSupersededBy)

	if markedAt, ok := getTime(payload, fieldDeletionMarked); ok {
		chunk.DeletionMarkedAt = &markedAt
	}
	if lastAccessed, ok := getTime(payload, fieldLastAccessed); ok {
		chunk.LastAccessedAt = &lastAccessed
	}

	return chunk, nil
}

func getString(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func getInt(payload map[string]*qdrant.Value, key string) int64 {
	if v, ok := payload[key]; ok {
		return v.GetIntegerValue()
	}
	return 0
}

func getDouble(payload map[string]*qdrant.Value, key string) float64 {
	if v, ok := payload[key]; ok {
		return v.GetDoubleValue()
	}
	return 0
}

func getBool(payload map[string]*qdrant.Value, key string) bool {
	if v, ok := payload[key]; ok {
		return v.GetBoolValue()
	}
	return false
}

func getStringList(payload map[string]*qdrant.Value, key string) []string {
	v, ok := payload[key]
	if !ok {
		return nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil
	}
	out := make([]string, 0, len(list.Values))
	for _, item := range list.Values {
		out = append(out, item.GetStringValue())
	}
	return out
}

func getTimeList(payload map[string]*qdrant.Value, key string) []time.Time {
	v, ok := payload[key]
	if !ok {
		return nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil
	}
	out := make([]time.Time, 0, len(list.Values))
	for _, item := range list.Values {
		if t, err := time.Parse(time.RFC3339Nano, item.GetStringValue()); err == nil {
			out = append(out, t)
		}
	}
	return out
}

func getTime(payload map[string]*qdrant.Value, key string) (time.Time, bool) {
	s := getString(payload, key)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
