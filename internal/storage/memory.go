package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store used in tests and when the gateway
// runs without a database path.
type Memory struct {
	mu       sync.RWMutex
	commands []Command
	messages []ChatMessage
	jobsites map[string]Jobsite
	alerts   []WeatherAlert
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{jobsites: make(map[string]Jobsite)}
}

func (m *Memory) CreateCommand(_ context.Context, cmd Command) (Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now()
	}
	m.commands = append(m.commands, cmd)
	return cmd, nil
}

func (m *Memory) CreateChatMessage(_ context.Context, msg ChatMessage) (ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.messages = append(m.messages, msg)
	return msg, nil
}

func (m *Memory) Jobsites(_ context.Context) ([]Jobsite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Jobsite, 0, len(m.jobsites))
	for _, j := range m.jobsites {
		out = append(out, j)
	}
	return out, nil
}

func (m *Memory) WeatherAlerts(_ context.Context) ([]WeatherAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]WeatherAlert, len(m.alerts))
	copy(out, m.alerts)
	return out, nil
}

func (m *Memory) UpdateJobsiteStatus(_ context.Context, jobsiteID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobsites[jobsiteID]
	if !ok {
		return fmt.Errorf("jobsite %s not found", jobsiteID)
	}
	j.Status = status
	m.jobsites[jobsiteID] = j
	return nil
}

func (m *Memory) Close() error { return nil }

// SeedJobsite inserts a jobsite; test and bootstrap helper.
func (m *Memory) SeedJobsite(j Jobsite) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobsites[j.ID] = j
}

// SeedAlert inserts a weather alert; test and bootstrap helper.
func (m *Memory) SeedAlert(a WeatherAlert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
}

// Commands returns a snapshot of persisted commands in append order.
func (m *Memory) Commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Command, len(m.commands))
	copy(out, m.commands)
	return out
}

// Messages returns a snapshot of persisted chat messages in append order.
func (m *Memory) Messages() []ChatMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ChatMessage, len(m.messages))
	copy(out, m.messages)
	return out
}
