package anomaly

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/klauspost/compress/zstd"

	"github.com/MikeSquared-Agency/Cover/internal/features"
)

// Save writes the model as zstd-compressed JSON.
func (m *IsolationForest) Save(w io.Writer) error {
	if m == nil || len(m.Forest) == 0 {
		return ErrNotFitted
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	if err := json.NewEncoder(enc).Encode(m); err != nil {
		enc.Close()
		return fmt.Errorf("encoding model: %w", err)
	}
	return enc.Close()
}

// Load reads a model written by Save. Models trained on a different feature
// layout are rejected.
func Load(r io.Reader) (*IsolationForest, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer dec.Close()

	var m IsolationForest
	if err := json.NewDecoder(dec).Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding model: %w", err)
	}
	if len(m.Forest) == 0 {
		return nil, ErrNotFitted
	}
	if !slices.Equal(m.FeatureNames, features.Names) {
		return nil, fmt.Errorf("model features %v do not match %v", m.FeatureNames, features.Names)
	}
	return &m, nil
}

func SaveFile(path string, m *IsolationForest) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating model file: %w", err)
	}
	if err := m.Save(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func LoadFile(path string) (*IsolationForest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening model file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Open resolves the scorer for a service process. A nil Scorer means the
// abnormality term is switched off. When required is set, a load failure is
// returned instead of degrading.
func Open(path string, enabled, required bool, logger *slog.Logger) (Scorer, error) {
	if !enabled {
		logger.Warn("abnormality scoring disabled, objective term omitted")
		return nil, nil
	}
	m, err := LoadFile(path)
	if err != nil {
		if required {
			return nil, fmt.Errorf("loading abnormality model: %w", err)
		}
		logger.Warn("abnormality model unavailable, objective term omitted", "path", path, "error", err)
		return nil, nil
	}
	logger.Info("abnormality model loaded", "path", path, "trees", len(m.Forest), "sample_size", m.SampleSize)
	return m, nil
}
