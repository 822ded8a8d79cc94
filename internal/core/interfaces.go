// Package core defines the interfaces shared by the voice-service transport
// and pipeline layers.
package core

import (
	"context"

	"github.com/book-expert/voice-service/internal/pipeline"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Runner executes one voice pipeline request. The result is never nil; a
// failed run is reported through Result.Success and Result.Error.
type Runner interface {
	Process(ctx context.Context, req pipeline.Request) *pipeline.Result
}
