package api

import (
	"context"

	"github.com/jmigdelacruz/dlcmeals/board"
	"github.com/jmigdelacruz/dlcmeals/storage"
)

// Boards hands out per-user board view models.
type Boards interface {
	Acquire(ctx context.Context, userID string) (*board.Board, func(), error)
}

// Images abstracts the blob store behind the image endpoints.
type Images interface {
	Upload(ctx context.Context, data []byte, suggestedName, contentType string) (storage.StoredImage, error)
	Delete(ctx context.Context, ref string) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}
