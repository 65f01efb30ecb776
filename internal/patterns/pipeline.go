package patterns

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/agentcoord/runtime/internal/store"
)

// Pipeline implements the staged hand-off pattern of spec.md §4.5.b:
// PIPELINE_ID groups a run, STAGE_INDEX identifies the current stage,
// and each stage's output becomes the next stage's input via
// PipelineArtifact rows.
type Pipeline struct {
	BasePatternEngine
	db *store.DB

	// mandatoryStages marks which stage indices require an emitted
	// artifact; a stage not listed is optional (spec.md §4.5.b).
	mandatoryStages map[int]bool
}

// NewPipeline constructs a Pipeline pattern over db. mandatory lists the
// stage indices that must produce an artifact before the next stage may
// proceed.
func NewPipeline(db *store.DB, mandatory []int) *Pipeline {
	set := make(map[int]bool, len(mandatory))
	for _, idx := range mandatory {
		set[idx] = true
	}
	return &Pipeline{db: db, mandatoryStages: set}
}

func (p *Pipeline) Name() string { return "pipeline" }

func (p *Pipeline) OnSubagentStart(ctx context.Context, e Event) Decision {
	artifacts, err := p.db.ArtifactsBefore(ctx, e.PipelineID, e.StageIndex)
	if err != nil {
		return NoOp
	}

	missing, err := p.db.MissingStages(ctx, e.PipelineID, e.StageIndex)
	if err != nil {
		return NoOp
	}

	if len(missing) > 0 && p.anyMandatory(missing) {
		return Block(fmt.Sprintf("Missing mandatory upstream stage(s): %v", missing))
	}

	if len(artifacts) == 0 {
		return ContinueWithOutput(fmt.Sprintf("No upstream artifacts for stage %d.", e.StageIndex), nil)
	}

	sort.Slice(artifacts, func(i, j int) bool {
		if artifacts[i].StageIndex != artifacts[j].StageIndex {
			return artifacts[i].StageIndex < artifacts[j].StageIndex
		}
		return artifacts[i].CreatedAt.Before(artifacts[j].CreatedAt)
	})

	msg := fmt.Sprintf("Upstream artifacts for stage %d:\n", e.StageIndex)
	for _, a := range artifacts {
		msg += fmt.Sprintf("- stage %d (%s): %s\n", a.StageIndex, a.ArtifactType, artifactSummary(a))
	}
	return ContinueWithOutput(msg, map[string]interface{}{"artifacts": artifacts})
}

func artifactSummary(a store.PipelineArtifact) string {
	if a.ArtifactPath != "" {
		return a.ArtifactPath
	}
	return a.ArtifactContent
}

func (p *Pipeline) anyMandatory(stages []int) bool {
	for _, s := range stages {
		if p.mandatoryStages[s] {
			return true
		}
	}
	return false
}

func (p *Pipeline) OnSubagentStop(ctx context.Context, e Event) Decision {
	artifactType, path, content, produced := extractArtifact(e.ToolResponse)
	if !produced {
		if p.mandatoryStages[e.StageIndex] {
			return Block(fmt.Sprintf("Stage %d is mandatory but produced no artifact.", e.StageIndex))
		}
		return NoOp
	}

	if _, err := p.db.AddPipelineArtifact(ctx, store.PipelineArtifact{
		PipelineID:      e.PipelineID,
		StageIndex:      e.StageIndex,
		ArtifactType:    artifactType,
		ArtifactPath:    path,
		ArtifactContent: content,
		CreatedAt:       time.Now(),
	}); err != nil {
		return NoOp
	}
	return NoOp
}

func extractArtifact(toolResponse map[string]interface{}) (artifactType, path, content string, ok bool) {
	if toolResponse == nil {
		return "", "", "", false
	}
	artifactType, _ = toolResponse["artifact_type"].(string)
	path, _ = toolResponse["artifact_path"].(string)
	content, _ = toolResponse["artifact_content"].(string)
	if path == "" && content == "" {
		return "", "", "", false
	}
	if artifactType == "" {
		artifactType = "output"
	}
	return artifactType, path, content, true
}
