// Package maintenance runs periodic history pruning and model
// retraining.
package maintenance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// TrainResult is the outcome reported by the trainer.
type TrainResult struct {
	Version   string  `json:"version"`
	OutDir    string  `json:"out_dir"`
	Accuracy  float64 `json:"accuracy,omitempty"`
	RowsUsed  int     `json:"rows_used,omitempty"`
	Succeeded bool    `json:"succeeded"`
}

// Trainer produces a fresh set of model artifacts from accumulated
// history and feedback.
type Trainer interface {
	Train(ctx context.Context, dbPath, outDir, currentVersion string) (*TrainResult, error)
}

// resultMarker prefixes the single line of machine-readable output the
// training script emits on success.
const resultMarker = "RESULT_JSON:"

// ScriptTrainer shells out to an external training script. The script
// is invoked as `python3 <script> <db> <out_dir> <current_version>` and
// reports its result on a RESULT_JSON: line.
type ScriptTrainer struct {
	Script string
}

// NewScriptTrainer creates a trainer for the given script path.
func NewScriptTrainer(script string) *ScriptTrainer {
	return &ScriptTrainer{Script: script}
}

// Train runs the training script and parses its result line.
func (t *ScriptTrainer) Train(ctx context.Context, dbPath, outDir, currentVersion string) (*TrainResult, error) {
	if t.Script == "" {
		return nil, fmt.Errorf("%w: trainer script not configured", domain.ErrInit)
	}

	cmd := exec.CommandContext(ctx, "python3", t.Script, dbPath, outDir, currentVersion)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: trainer failed: %v: %s", domain.ErrModel, err, strings.TrimSpace(stderr.String()))
	}

	result, err := parseTrainOutput(stdout.String())
	if err != nil {
		return nil, err
	}
	if result.OutDir == "" {
		result.OutDir = outDir
	}
	return result, nil
}

// parseTrainOutput finds the last RESULT_JSON: line in trainer output.
// Diagnostic lines before it are ignored.
func parseTrainOutput(out string) (*TrainResult, error) {
	var line string
	for _, l := range strings.Split(out, "\n") {
		l = strings.TrimSpace(l)
		if strings.HasPrefix(l, resultMarker) {
			line = strings.TrimPrefix(l, resultMarker)
		}
	}
	if line == "" {
		return nil, fmt.Errorf("%w: trainer produced no result line", domain.ErrModel)
	}

	var result TrainResult
	if err := json.Unmarshal([]byte(line), &result); err != nil {
		return nil, fmt.Errorf("%w: bad trainer result: %v", domain.ErrModel, err)
	}
	return &result, nil
}
