package calibration

import (
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/referwell/matcher/internal/config"
)

// Snapshot is the model a run uses from start to finish.
type Snapshot struct {
	Model Model
	// Degraded is set when the configured model could not be loaded and
	// Identity is used instead.
	Degraded string
}

// Registry holds the current calibration model. Reloads swap the whole
// snapshot, so a run never observes a half-loaded model.
type Registry struct {
	method  string
	path    string
	current atomic.Pointer[Snapshot]
	logger  *zap.Logger
}

// NewRegistry loads the configured model. A missing artifact falls back to
// Identity in degraded mode; a malformed artifact is a ConfigurationError.
func NewRegistry(cfg config.CalibrationConfig, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{method: cfg.Method, path: cfg.ArtifactPath, logger: logger}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewStaticRegistry returns a registry that always serves m.
func NewStaticRegistry(m Model) *Registry {
	r := &Registry{method: m.Method(), logger: zap.NewNop()}
	r.current.Store(&Snapshot{Model: m})
	return r
}

// Method returns the configured calibration method. It does not change when
// a missing artifact degrades the served model to Identity.
func (r *Registry) Method() string {
	return r.method
}

// Path returns the artifact path, empty for identity or static registries.
func (r *Registry) Path() string {
	return r.path
}

// Current returns the snapshot to use for one run.
func (r *Registry) Current() Snapshot {
	return *r.current.Load()
}

// Reload re-reads the artifact. On a ConfigurationError the previous model,
// if any, stays in place.
func (r *Registry) Reload() error {
	if r.method == config.CalibrationIdentity {
		r.current.Store(&Snapshot{Model: Identity{}})
		return nil
	}
	m, err := LoadArtifact(r.path, r.method)
	switch {
	case errors.Is(err, ErrArtifactNotFound):
		r.logger.Warn("calibration artifact unavailable, using identity calibration",
			zap.String("method", r.method), zap.String("path", r.path))
		r.current.Store(&Snapshot{Model: Identity{}, Degraded: err.Error()})
		return nil
	case err != nil:
		r.logger.Error("calibration artifact rejected", zap.String("path", r.path), zap.Error(err))
		return err
	}
	r.logger.Info("calibration model loaded",
		zap.String("method", m.Method()), zap.String("version", m.Version()))
	r.current.Store(&Snapshot{Model: m})
	return nil
}
