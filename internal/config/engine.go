// Package config loads and validates the engine configuration.
//
// The JSON schema uses pointer-optional fields: anything omitted from
// the file falls back to a built-in default through the Get* accessors,
// so partial configs are safe. Constructors receive the loaded config
// explicitly; there is no ambient global.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/quality"
)

// SceneThresholds is the per-scene-type decision configuration block.
type SceneThresholds struct {
	Tiers   *quality.ThresholdTable `json:"tiers,omitempty"`
	Reject  *quality.MetricValues   `json:"reject,omitempty"`
	Problem *quality.MetricValues   `json:"problem,omitempty"`
}

// EngineConfig is the root configuration for the assessment engine.
type EngineConfig struct {
	SceneType *string `json:"scene_type,omitempty"`

	// Sampling budgets
	TargetDetectionFrames    *int `json:"target_detection_frames,omitempty"`
	TargetSegmentationFrames *int `json:"target_segmentation_frames,omitempty"`
	MaxWorkers               *int `json:"max_workers,omitempty"`

	// Frame source
	MaxDimension *int `json:"max_dimension,omitempty"`

	// Resource policy
	MemoryBudgetBytes *int64 `json:"memory_budget_bytes,omitempty"`

	// Early termination kill switch
	EarlyTermination *bool `json:"early_termination,omitempty"`

	// Per-scene threshold overrides, keyed by scene type
	// (indoor/outdoor/default). Scenes omitted here use built-ins.
	Scenes map[string]SceneThresholds `json:"scenes,omitempty"`
}

// EmptyEngineConfig returns a config with all fields unset, i.e. all
// defaults.
func EmptyEngineConfig() *EngineConfig {
	return &EngineConfig{}
}

// LoadEngineConfig loads an EngineConfig from a JSON file. The file must
// have a .json extension and stay under 1MB.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyEngineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that configured values are internally consistent.
func (c *EngineConfig) Validate() error {
	if c.TargetDetectionFrames != nil && *c.TargetDetectionFrames <= 0 {
		return fmt.Errorf("target_detection_frames must be positive, got %d", *c.TargetDetectionFrames)
	}
	if c.TargetSegmentationFrames != nil && *c.TargetSegmentationFrames <= 0 {
		return fmt.Errorf("target_segmentation_frames must be positive, got %d", *c.TargetSegmentationFrames)
	}
	if c.MaxWorkers != nil && (*c.MaxWorkers < 1 || *c.MaxWorkers > 64) {
		return fmt.Errorf("max_workers must be in [1, 64], got %d", *c.MaxWorkers)
	}
	if c.MemoryBudgetBytes != nil && *c.MemoryBudgetBytes <= 0 {
		return fmt.Errorf("memory_budget_bytes must be positive, got %d", *c.MemoryBudgetBytes)
	}
	for scene, st := range c.Scenes {
		switch quality.SceneType(scene) {
		case quality.SceneIndoor, quality.SceneOutdoor, quality.SceneDefault:
		default:
			return fmt.Errorf("unknown scene type %q in scenes", scene)
		}
		if st.Tiers != nil {
			for name, b := range map[string]quality.TierBounds{
				"wdd": st.Tiers.WDD, "wpo": st.Tiers.WPO, "sai": st.Tiers.SAI,
			} {
				if !b.Valid() {
					return fmt.Errorf("scene %s: %s tier bounds must ascend", scene, name)
				}
			}
		}
		if st.Reject != nil && st.Problem != nil {
			d := quality.DecisionThresholds{Reject: *st.Reject, Problem: *st.Problem}
			if !d.Valid() {
				return fmt.Errorf("scene %s: problem thresholds must not exceed reject thresholds", scene)
			}
		}
		if (st.Reject == nil) != (st.Problem == nil) {
			return fmt.Errorf("scene %s: reject and problem thresholds must be set together", scene)
		}
	}
	return nil
}

// GetSceneType returns the configured scene type or the default.
func (c *EngineConfig) GetSceneType() quality.SceneType {
	if c.SceneType == nil {
		return quality.SceneDefault
	}
	return quality.NormalizeSceneType(*c.SceneType)
}

// GetTargetDetectionFrames returns the detection frame budget.
func (c *EngineConfig) GetTargetDetectionFrames() int {
	if c.TargetDetectionFrames == nil {
		return quality.DefaultTargetDetectionFrames
	}
	return *c.TargetDetectionFrames
}

// GetTargetSegmentationFrames returns the segmentation frame budget.
func (c *EngineConfig) GetTargetSegmentationFrames() int {
	if c.TargetSegmentationFrames == nil {
		return quality.DefaultTargetSegmentationFrames
	}
	return *c.TargetSegmentationFrames
}

// GetMaxWorkers returns the worker override, or 0 when the sampling
// strategy should decide.
func (c *EngineConfig) GetMaxWorkers() int {
	if c.MaxWorkers == nil {
		return 0
	}
	return *c.MaxWorkers
}

// GetMaxDimension returns the frame downscale bound (0 = no scaling).
func (c *EngineConfig) GetMaxDimension() int {
	if c.MaxDimension == nil {
		return 0
	}
	return *c.MaxDimension
}

// GetMemoryBudgetBytes returns the advisory memory budget.
func (c *EngineConfig) GetMemoryBudgetBytes() int64 {
	if c.MemoryBudgetBytes == nil {
		return quality.DefaultMemoryBudgetBytes
	}
	return *c.MemoryBudgetBytes
}

// GetEarlyTermination reports whether early termination is enabled.
func (c *EngineConfig) GetEarlyTermination() bool {
	if c.EarlyTermination == nil {
		return true
	}
	return *c.EarlyTermination
}

// TierTables converts the scene overrides into the threshold-manager
// input map.
func (c *EngineConfig) TierTables() map[quality.SceneType]quality.ThresholdTable {
	tables := make(map[quality.SceneType]quality.ThresholdTable)
	for scene, st := range c.Scenes {
		if st.Tiers != nil {
			tables[quality.SceneType(scene)] = *st.Tiers
		}
	}
	return tables
}

// DecisionCutoffs converts the scene overrides into the decision-engine
// input map.
func (c *EngineConfig) DecisionCutoffs() map[quality.SceneType]quality.DecisionThresholds {
	cutoffs := make(map[quality.SceneType]quality.DecisionThresholds)
	for scene, st := range c.Scenes {
		if st.Reject != nil && st.Problem != nil {
			cutoffs[quality.SceneType(scene)] = quality.DecisionThresholds{
				Reject:  *st.Reject,
				Problem: *st.Problem,
			}
		}
	}
	return cutoffs
}

// BuildDecisionEngine assembles the threshold manager and decision
// engine from this config.
func (c *EngineConfig) BuildDecisionEngine() (*quality.DecisionEngine, error) {
	tm, err := quality.NewThresholdManager(c.TierTables())
	if err != nil {
		return nil, err
	}
	return quality.NewDecisionEngine(tm, c.DecisionCutoffs())
}
