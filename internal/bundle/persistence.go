package bundle

import "context"

// Persistence loads and saves the bundle store. An absent store loads as
// empty, not as an error. Save must leave the previous contents intact if
// it fails partway.
type Persistence interface {
	Load(ctx context.Context) (*Store, error)
	Save(ctx context.Context, s *Store) error
}
