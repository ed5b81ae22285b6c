package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vampirenirmal/novelforge/internal/domain/novel"
)

// CheckpointManager persists run checkpoints under the project namespace.
type CheckpointManager struct {
	storage Storage
	project string
}

func NewCheckpointManager(storage Storage, project string) *CheckpointManager {
	return &CheckpointManager{
		storage: storage,
		project: project,
	}
}

func (cm *CheckpointManager) path(runID string) string {
	return fmt.Sprintf("projects/%s/checkpoints/%s.json", cm.project, runID)
}

// Save records the last durably completed position for a run.
func (cm *CheckpointManager) Save(ctx context.Context, cp *Checkpoint) error {
	cp.Project = cm.project
	cp.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}

	return cm.storage.Save(ctx, cm.path(cp.RunID), data)
}

// Advance updates the stage/chapter position and saves in one step.
func (cm *CheckpointManager) Advance(ctx context.Context, cp *Checkpoint, stage novel.StageKind, chapter int) error {
	cp.Stage = stage
	cp.Chapter = chapter
	return cm.Save(ctx, cp)
}

func (cm *CheckpointManager) Load(ctx context.Context, runID string) (*Checkpoint, error) {
	data, err := cm.storage.Load(ctx, cm.path(runID))
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint %s: %w", runID, err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("unmarshaling checkpoint %s: %w", runID, err)
	}

	return &cp, nil
}

// List returns all checkpoints recorded for the project, skipping any that
// fail to parse.
func (cm *CheckpointManager) List(ctx context.Context) ([]*Checkpoint, error) {
	pattern := fmt.Sprintf("projects/%s/checkpoints/*.json", cm.project)
	files, err := cm.storage.List(ctx, pattern)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}

	var checkpoints []*Checkpoint
	for _, file := range files {
		data, err := cm.storage.Load(ctx, file)
		if err != nil {
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			continue
		}
		checkpoints = append(checkpoints, &cp)
	}

	return checkpoints, nil
}

func (cm *CheckpointManager) Delete(ctx context.Context, runID string) error {
	return cm.storage.Delete(ctx, cm.path(runID))
}
