package endpoint

import (
	"context"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
)

// Source loads the ordered list of endpoint policies. Order is significant:
// the resolver returns the first match.
type Source interface {
	// Load returns every policy, inactive ones included.
	Load(ctx context.Context) ([]models.EndpointConfig, error)
	// Name identifies the source in logs.
	Name() string
}

// StaticSource serves a fixed list. It backs tests and deployments that
// compile their policies in.
type StaticSource struct {
	entries []models.EndpointConfig
}

// NewStaticSource creates a source that always returns a copy of entries.
func NewStaticSource(entries ...models.EndpointConfig) *StaticSource {
	return &StaticSource{entries: append([]models.EndpointConfig(nil), entries...)}
}

// Load returns a copy of the configured entries.
func (s *StaticSource) Load(ctx context.Context) ([]models.EndpointConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]models.EndpointConfig(nil), s.entries...), nil
}

// Name returns "static".
func (s *StaticSource) Name() string {
	return "static"
}
