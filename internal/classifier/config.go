package classifier

import (
	"errors"

	"casewatch/internal/config"
)

// ErrNotConfigured is returned by FromConfig when no backend is set.
var ErrNotConfigured = errors.New("no classifier configured: set classifier.service_url or classifier.command")

// FromConfig builds the configured backend. The HTTP service wins when both
// are set.
func FromConfig(cfg *config.Config) (Classifier, error) {
	switch {
	case cfg.Classifier.ServiceURL != "":
		return NewHTTPClient(cfg.Classifier.ServiceURL, WithTopK(cfg.Classifier.TopK)), nil
	case len(cfg.Classifier.Command) > 0:
		return NewCommandClassifier(cfg.Classifier.Command, cfg.Classifier.TopK, cfg.ClassifierTimeout())
	default:
		return nil, ErrNotConfigured
	}
}
