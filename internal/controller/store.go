package controller

import "context"

// Store defines the interface for durable controller state.
// This abstraction allows for different implementations (file, SQLite, none)
// and enables unit testing without touching disk.
type Store interface {
	// Load returns every persisted controller. A store that has never been
	// written returns an empty map and no error.
	Load(ctx context.Context) (map[string]State, error)

	// Save replaces the persisted state with snap.
	Save(ctx context.Context, snap Snapshot) error
}

// NopStore is a Store that keeps nothing. It backs the "none" persistence
// backend.
type NopStore struct{}

// Load always returns an empty map.
func (NopStore) Load(context.Context) (map[string]State, error) {
	return map[string]State{}, nil
}

// Save discards snap.
func (NopStore) Save(context.Context, Snapshot) error {
	return nil
}

// validateLoaded rejects persisted state the registry could not hold.
func validateLoaded(states map[string]State) error {
	for name := range states {
		if name == "" {
			return ErrInvalidName
		}
	}
	return nil
}
