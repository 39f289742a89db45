package storage

// Interface defines the contract for artifact persistence.
//
// Artifacts are flat files addressed by base name. Every Write replaces the
// whole artifact; there is no incremental merge with a previous run.
//
// Implementations must be safe for concurrent use. The provided FileStore
// uses sync.RWMutex so the artifact server can read while a run is writing.
type Interface interface {
	// Write replaces the artifact name with data.
	Write(name string, data []byte) error
	// Read returns the artifact name, or an error wrapping ErrNotFound.
	Read(name string) ([]byte, error)
	// Glob lists artifact names matching pattern, sorted.
	Glob(pattern string) ([]string, error)
}

// NewStorage creates a new storage implementation (currently file-based)
func NewStorage(dir string) (Interface, error) {
	return NewFileStore(dir)
}

// Ensure FileStore implements Interface
var _ Interface = (*FileStore)(nil)
