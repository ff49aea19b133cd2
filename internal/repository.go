package internal

import (
	"context"
	"io"
)

// Repository is a destination for run artifacts such as reports and
// exports. Implementations exist for the local filesystem and S3.
type Repository interface {
	Write(ctx context.Context, path string, reader io.Reader) error
}
