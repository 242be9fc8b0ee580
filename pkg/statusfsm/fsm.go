// Package statusfsm defines the lifecycle of a purchased service order.
package statusfsm

import (
	"errors"
	"strings"
)

const (
	Pending    = "pending"
	InProgress = "in-progress"
	Completed  = "completed"
	Cancelled  = "cancelled"
)

var (
	ErrUnknownStatus     = errors.New("unknown order status")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Valid reports whether s is one of the known order statuses.
func Valid(s string) bool {
	switch s {
	case Pending, InProgress, Completed, Cancelled:
		return true
	default:
		return false
	}
}

// Normalize lowercases and trims a client-supplied status string.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func CanTransition(from, to string) bool {
	switch from {
	case Pending:
		return to == InProgress || to == Completed || to == Cancelled
	case InProgress:
		return to == Completed || to == Cancelled
	default:
		return false
	}
}

func Transition(from, to string) (string, error) {
	if !Valid(to) {
		return from, ErrUnknownStatus
	}
	if !Valid(from) {
		return from, ErrUnknownStatus
	}
	if !CanTransition(from, to) {
		return from, ErrInvalidTransition
	}
	return to, nil
}

func IsTerminal(status string) bool {
	switch status {
	case Completed, Cancelled:
		return true
	default:
		return false
	}
}
