package endpoint

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
)

// FileSource reads policies from a YAML (or JSON/TOML) file with a top-level
// "endpoints" list. The file is re-read on every Load so edits are picked up
// by the refresher.
//
//	endpoints:
//	  - id: 1
//	    path_pattern: /api/orders/**
//	    http_method: ALL
//	    security_type: TOKEN_PROTECTED
//	    rate_limit_capacity: 50
//	    rate_limit_window_seconds: 60
type FileSource struct {
	path string
}

// fileEntry mirrors models.EndpointConfig with is_active optional (default true).
type fileEntry struct {
	ID                     int64  `mapstructure:"id"`
	PathPattern            string `mapstructure:"path_pattern"`
	HTTPMethod             string `mapstructure:"http_method"`
	SecurityType           string `mapstructure:"security_type"`
	RateLimitCapacity      *int   `mapstructure:"rate_limit_capacity"`
	RateLimitWindowSeconds *int   `mapstructure:"rate_limit_window_seconds"`
	IsActive               *bool  `mapstructure:"is_active"`
	Description            string `mapstructure:"description"`
}

// NewFileSource creates a source for the policy file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Load parses the file. An unreadable file or malformed entry fails the whole
// load so the previous snapshot stays active.
func (s *FileSource) Load(ctx context.Context) ([]models.EndpointConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(s.path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read endpoint file %s: %w", s.path, err)
	}

	var raw []fileEntry
	if err := v.UnmarshalKey("endpoints", &raw); err != nil {
		return nil, fmt.Errorf("failed to decode endpoints in %s: %w", s.path, err)
	}

	entries := make([]models.EndpointConfig, 0, len(raw))
	for _, e := range raw {
		active := true
		if e.IsActive != nil {
			active = *e.IsActive
		}
		entries = append(entries, models.EndpointConfig{
			ID:                     e.ID,
			PathPattern:            e.PathPattern,
			HTTPMethod:             e.HTTPMethod,
			SecurityType:           models.SecurityType(e.SecurityType),
			RateLimitCapacity:      e.RateLimitCapacity,
			RateLimitWindowSeconds: e.RateLimitWindowSeconds,
			IsActive:               active,
			Description:            e.Description,
		})
	}
	return entries, nil
}

// Name returns "file:<path>".
func (s *FileSource) Name() string {
	return "file:" + s.path
}
