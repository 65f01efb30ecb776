package store

import (
	"context"
	"database/sql"
	"fmt"
)

// AddPipelineArtifact persists an artifact produced by a pipeline stage.
func (db *DB) AddPipelineArtifact(ctx context.Context, a PipelineArtifact) (int64, error) {
	res, err := db.Execute(ctx, `
		INSERT INTO pipeline_artifacts (pipeline_id, stage_index, artifact_type, artifact_path, artifact_content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.PipelineID, a.StageIndex, a.ArtifactType, NullString(a.ArtifactPath), NullString(a.ArtifactContent), a.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("add pipeline artifact: %w", err)
	}
	return res.LastInsertId()
}

// ArtifactsBefore returns all artifacts with stage_index < stageIndex,
// ordered by (stage_index, created_at) per spec.md §4.5.b.
func (db *DB) ArtifactsBefore(ctx context.Context, pipelineID string, stageIndex int) ([]PipelineArtifact, error) {
	rows, err := db.Query(ctx, `
		SELECT id, pipeline_id, stage_index, artifact_type, artifact_path, artifact_content, created_at
		FROM pipeline_artifacts WHERE pipeline_id = ? AND stage_index < ?
		ORDER BY stage_index ASC, created_at ASC
	`, pipelineID, stageIndex)
	if err != nil {
		return nil, fmt.Errorf("artifacts before stage: %w", err)
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

// ArtifactsAtStage returns all artifacts emitted for exactly one stage.
func (db *DB) ArtifactsAtStage(ctx context.Context, pipelineID string, stageIndex int) ([]PipelineArtifact, error) {
	rows, err := db.Query(ctx, `
		SELECT id, pipeline_id, stage_index, artifact_type, artifact_path, artifact_content, created_at
		FROM pipeline_artifacts WHERE pipeline_id = ? AND stage_index = ?
		ORDER BY created_at ASC
	`, pipelineID, stageIndex)
	if err != nil {
		return nil, fmt.Errorf("artifacts at stage: %w", err)
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

// MissingStages returns which stage indexes in [0, upTo) have produced no
// artifact at all, used by the pipeline pattern to explain a block.
func (db *DB) MissingStages(ctx context.Context, pipelineID string, upTo int) ([]int, error) {
	present := map[int]bool{}
	rows, err := db.Query(ctx, `
		SELECT DISTINCT stage_index FROM pipeline_artifacts WHERE pipeline_id = ? AND stage_index < ?
	`, pipelineID, upTo)
	if err != nil {
		return nil, fmt.Errorf("missing stages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, fmt.Errorf("scan stage index: %w", err)
		}
		present[idx] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var missing []int
	for i := 0; i < upTo; i++ {
		if !present[i] {
			missing = append(missing, i)
		}
	}
	return missing, nil
}

// AllArtifacts returns every artifact recorded for a pipeline, ordered
// by (stage_index, created_at). Used by the read-only introspection
// surface to render a pipeline's full progress, independent of any
// particular stage boundary.
func (db *DB) AllArtifacts(ctx context.Context, pipelineID string) ([]PipelineArtifact, error) {
	rows, err := db.Query(ctx, `
		SELECT id, pipeline_id, stage_index, artifact_type, artifact_path, artifact_content, created_at
		FROM pipeline_artifacts WHERE pipeline_id = ?
		ORDER BY stage_index ASC, created_at ASC
	`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("all artifacts: %w", err)
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

func scanArtifacts(rows *sql.Rows) ([]PipelineArtifact, error) {
	var out []PipelineArtifact
	for rows.Next() {
		var a PipelineArtifact
		var path, content sql.NullString
		if err := rows.Scan(&a.ID, &a.PipelineID, &a.StageIndex, &a.ArtifactType, &path, &content, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pipeline artifact: %w", err)
		}
		a.ArtifactPath = path.String
		a.ArtifactContent = content.String
		out = append(out, a)
	}
	return out, rows.Err()
}
