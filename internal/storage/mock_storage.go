package storage

import (
	"fmt"
	"path"
	"sort"
	"sync"
)

// MockStorage implements Interface in memory for testing
type MockStorage struct {
	mu             sync.Mutex
	files          map[string][]byte
	writeErrors    map[string]error
	readError      error
	writeCallCount int
}

// NewMockStorage creates a new mock storage for testing
func NewMockStorage() *MockStorage {
	return &MockStorage{
		files:       make(map[string][]byte),
		writeErrors: make(map[string]error),
	}
}

func (m *MockStorage) Write(name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeCallCount++
	if err := m.writeErrors[name]; err != nil {
		return err
	}
	if err := m.writeErrors["*"]; err != nil {
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.files[name] = cp
	return nil
}

func (m *MockStorage) Read(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.readError != nil {
		return nil, m.readError
	}
	data, ok := m.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return data, nil
}

func (m *MockStorage) Glob(pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var names []string
	for name := range m.files {
		ok, err := path.Match(pattern, name)
		if err != nil {
			return nil, err
		}
		if ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Mock control methods for testing

// SetWriteError makes writes of name fail with err. Use "*" for every name.
func (m *MockStorage) SetWriteError(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.writeErrors, name)
		return
	}
	m.writeErrors[name] = err
}

func (m *MockStorage) SetReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readError = err
}

func (m *MockStorage) GetWriteCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeCallCount
}

// Files returns the names currently stored.
func (m *MockStorage) Files() []string {
	names, _ := m.Glob("*")
	return names
}

var _ Interface = (*MockStorage)(nil)
