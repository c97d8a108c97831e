package store

// Store is a minimal durable key-value interface. It exists so the cached
// location reading can persist without tying the engine to a concrete
// storage layer; tests run against the in-memory implementation.
//
// No locking across Store instances is provided. Writers racing on the same
// key resolve last-writer-wins.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool)

	// Set stores value under key.
	Set(key, value string) error
}
