package models

import (
	"fmt"
	"strings"
)

// EventStatus represents the lifecycle state of a webhook event
type EventStatus string

const (
	StatusPending    EventStatus = "pending"
	StatusProcessing EventStatus = "processing"
	StatusRetrying   EventStatus = "retrying"
	StatusCompleted  EventStatus = "completed"
	StatusDeadLetter EventStatus = "dead_letter"
)

// ParseEventStatus parses a string into an EventStatus
// Returns an error if the status is unknown
func ParseEventStatus(name string) (EventStatus, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	validStatuses := []EventStatus{
		StatusPending,
		StatusProcessing,
		StatusRetrying,
		StatusCompleted,
		StatusDeadLetter,
	}

	for _, status := range validStatuses {
		if string(status) == name {
			return status, nil
		}
	}

	return "", fmt.Errorf("unknown event status: %s", name)
}

// IsTerminal reports whether the status is terminal (no further processing
// without an explicit replay)
func (s EventStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusDeadLetter
}

// Claimable reports whether a dispatcher may claim an event in this status
func (s EventStatus) Claimable() bool {
	return s == StatusPending || s == StatusRetrying
}
