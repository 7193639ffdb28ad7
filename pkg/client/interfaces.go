package client

import (
	"time"

	"github.com/aeolun/wschat/pkg/protocol"
)

// ConnectionInterface defines the interface for client connections
// This allows for mocking in tests while the real Connection implements all these methods
type ConnectionInterface interface {
	// Connection management
	Connect() error
	Disconnect()
	Close()
	IsConnected() bool
	GetAddress() string

	// Chat protocol
	Join(username string) error
	Send(body string) error

	// Channels for receiving data
	Incoming() <-chan *protocol.ServerEvent
	Errors() <-chan error
	StateChanges() <-chan ConnectionStateUpdate
}

// StateInterface defines the interface for client state persistence
type StateInterface interface {
	GetConfig(key string) (string, error)
	SetConfig(key, value string) error

	GetLastUsername() string
	SetLastUsername(username string) error

	GetReadState(serverAddress string) (time.Time, error)
	UpdateReadState(serverAddress string, lastReadAt time.Time) error

	GetFirstRun() bool
	SetFirstRunComplete() error

	GetStateDir() string
	Close() error
}

var (
	_ ConnectionInterface = (*Connection)(nil)
	_ StateInterface      = (*State)(nil)
	_ StateInterface      = (*MockState)(nil)
)
