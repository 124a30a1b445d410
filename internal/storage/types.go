package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Trigger tells what caused a publication.
type Trigger string

const (
	TriggerStartup  Trigger = "startup"
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// Publication records one publication attempt.
// Keep it compact and schema-stable.
type Publication struct {
	At      time.Time `json:"at"`
	Source  string    `json:"source"`
	Dest    string    `json:"dest,omitempty"`
	Trigger Trigger   `json:"trigger"`
	// Due is the instant the post was scheduled for (zero for manual runs).
	Due   time.Time `json:"due"`
	Error string    `json:"error,omitempty"`
}

func (p Publication) OK() bool { return p.Error == "" }
