package bundle

import "context"

// MemoryStore is an in-process Persistence for tests and ephemeral use.
// Load returns a copy so callers cannot mutate the saved state in place.
type MemoryStore struct {
	saved []byte
}

var _ Persistence = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory persistence.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(_ context.Context) (*Store, error) {
	if m.saved == nil {
		return NewStore(), nil
	}
	return Unmarshal(m.saved)
}

func (m *MemoryStore) Save(_ context.Context, s *Store) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}
	m.saved = data
	return nil
}
