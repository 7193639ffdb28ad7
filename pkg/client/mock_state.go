package client

import (
	"sync"
	"time"
)

// MockState is an in-memory test implementation of StateInterface
type MockState struct {
	mu sync.RWMutex

	config    map[string]string
	readState map[string]time.Time
	dir       string

	// Error injection
	getConfigErr       error
	setConfigErr       error
	updateReadStateErr error
}

// NewMockState creates a new mock state
func NewMockState() *MockState {
	return &MockState{
		config:    make(map[string]string),
		readState: make(map[string]time.Time),
		dir:       "/tmp/mock-state",
	}
}

func (s *MockState) GetConfig(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.getConfigErr != nil {
		return "", s.getConfigErr
	}
	return s.config[key], nil
}

func (s *MockState) SetConfig(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.setConfigErr != nil {
		return s.setConfigErr
	}
	s.config[key] = value
	return nil
}

func (s *MockState) GetLastUsername() string {
	v, _ := s.GetConfig("last_username")
	return v
}

func (s *MockState) SetLastUsername(username string) error {
	return s.SetConfig("last_username", username)
}

func (s *MockState) GetReadState(serverAddress string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readState[serverAddress], nil
}

func (s *MockState) UpdateReadState(serverAddress string, lastReadAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.updateReadStateErr != nil {
		return s.updateReadStateErr
	}
	if lastReadAt.After(s.readState[serverAddress]) {
		s.readState[serverAddress] = lastReadAt
	}
	return nil
}

func (s *MockState) GetFirstRun() bool {
	v, _ := s.GetConfig("first_run_complete")
	return v != "true"
}

func (s *MockState) SetFirstRunComplete() error {
	return s.SetConfig("first_run_complete", "true")
}

func (s *MockState) GetStateDir() string {
	return s.dir
}

func (s *MockState) Close() error {
	return nil
}

// SetGetConfigError makes GetConfig fail with err
func (s *MockState) SetGetConfigError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getConfigErr = err
}

// SetSetConfigError makes SetConfig fail with err
func (s *MockState) SetSetConfigError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setConfigErr = err
}

// SetUpdateReadStateError makes UpdateReadState fail with err
func (s *MockState) SetUpdateReadStateError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateReadStateErr = err
}
