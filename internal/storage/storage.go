// Package storage is the relay's narrow persistence contract. The
// surrounding product owns the real entity CRUD; the relay only needs
// to append commands and chat messages, read jobsites and weather
// alerts, and patch a jobsite status when a command implies a delay.
package storage

import (
	"context"
	"time"
)

// Command is a persisted structured command.
type Command struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Intent    string    `json:"intent,omitempty"`
	Priority  string    `json:"priority,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	JobsiteID string    `json:"jobsiteId,omitempty"`
}

// ChatMessage is a persisted chat message with its translation.
type ChatMessage struct {
	ID             string    `json:"id"`
	Original       string    `json:"original"`
	Translated     string    `json:"translated"`
	Role           string    `json:"role"`
	Language       string    `json:"language"`
	SourceLanguage string    `json:"sourceLanguage,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	JobsiteID      string    `json:"jobsiteId,omitempty"`
}

// Jobsite is a read-only view of a jobsite record.
type Jobsite struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Address string `json:"address,omitempty"`
}

// WeatherAlert is a read-only view of an active weather alert.
type WeatherAlert struct {
	ID        string    `json:"id"`
	JobsiteID string    `json:"jobsiteId,omitempty"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the collaborator contract. Implementations must be safe for
// concurrent use by all connection goroutines.
type Store interface {
	CreateCommand(ctx context.Context, cmd Command) (Command, error)
	CreateChatMessage(ctx context.Context, msg ChatMessage) (ChatMessage, error)
	Jobsites(ctx context.Context) ([]Jobsite, error)
	WeatherAlerts(ctx context.Context) ([]WeatherAlert, error)
	UpdateJobsiteStatus(ctx context.Context, jobsiteID, status string) error
	Close() error
}
