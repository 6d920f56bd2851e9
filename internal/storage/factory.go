package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/instantpreview/instantpreview/internal/storage/local"
	s3backend "github.com/instantpreview/instantpreview/internal/storage/s3"
	"github.com/instantpreview/instantpreview/internal/storage/sqlite"
)

// NewBackendFromConfig creates an instrumented Backend from a backend type
// string and JSON config.
func NewBackendFromConfig(ctx context.Context, backendType string, config json.RawMessage) (Backend, error) {
	var (
		b   Backend
		err error
	)
	switch backendType {
	case "local":
		b, err = local.NewFromJSON(config)
	case "sqlite":
		b, err = sqlite.NewFromJSON(ctx, config)
	case "s3":
		b, err = s3backend.NewBackendFromJSON(ctx, config)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", backendType)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(b), nil
}
