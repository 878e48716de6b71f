package recorder

import "context"

// Source supplies the media bytes being archived. Read blocks until data
// is available or ctx is done; an io.EOF-style terminal error ends the
// capture loop.
type Source interface {
	Read(ctx context.Context) ([]byte, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) ([]byte, error)

// Read calls f.
func (f SourceFunc) Read(ctx context.Context) ([]byte, error) {
	return f(ctx)
}
