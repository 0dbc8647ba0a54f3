package calibration

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/referwell/matcher/internal/config"
	"github.com/referwell/matcher/internal/models"
)

// ErrArtifactNotFound is returned when no fitted artifact exists at the configured path.
var ErrArtifactNotFound = errors.New("calibration artifact not found")

// Artifact is the on-disk form of a fitted model. JSON artifacts parse as YAML.
type Artifact struct {
	Method   string          `yaml:"method" json:"method"`
	Version  string          `yaml:"version" json:"version"`
	Isotonic *IsotonicParams `yaml:"isotonic,omitempty" json:"isotonic,omitempty"`
	Platt    *PlattParams    `yaml:"platt,omitempty" json:"platt,omitempty"`
}

// IsotonicParams are the breakpoints of an isotonic fit.
type IsotonicParams struct {
	X []float64 `yaml:"x" json:"x"`
	Y []float64 `yaml:"y" json:"y"`
}

// PlattParams are the logistic parameters of a Platt fit.
type PlattParams struct {
	A float64 `yaml:"a" json:"a"`
	B float64 `yaml:"b" json:"b"`
}

// LoadArtifact reads the artifact at path and builds its model. A missing
// file returns ErrArtifactNotFound; anything unreadable or inconsistent with
// the configured method is a ConfigurationError.
func LoadArtifact(path, method string) (Model, error) {
	if path == "" {
		return nil, ErrArtifactNotFound
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, path)
		}
		return nil, models.NewConfigurationError("calibration.artifact_path", err.Error())
	}
	var a Artifact
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, models.NewConfigurationError("calibration.artifact_path", fmt.Sprintf("parse %s: %v", path, err))
	}
	if a.Method != method {
		return nil, models.NewConfigurationError("calibration.method",
			fmt.Sprintf("artifact %s is %q, configured %q", path, a.Method, method))
	}
	return a.Model()
}

// Model builds the model described by the artifact.
func (a *Artifact) Model() (Model, error) {
	switch a.Method {
	case config.CalibrationIsotonic:
		if a.Isotonic == nil {
			return nil, models.NewConfigurationError("calibration.isotonic", "missing breakpoints")
		}
		return NewIsotonic(a.Version, a.Isotonic.X, a.Isotonic.Y)
	case config.CalibrationPlatt:
		if a.Platt == nil {
			return nil, models.NewConfigurationError("calibration.platt", "missing parameters")
		}
		return NewPlatt(a.Version, a.Platt.A, a.Platt.B)
	case config.CalibrationIdentity:
		return Identity{}, nil
	default:
		return nil, models.NewConfigurationError("calibration.method", fmt.Sprintf("unknown method %q", a.Method))
	}
}
