package model

import (
	"fmt"
	"strings"
	"time"
)

// EventType is a bit set of filesystem change classes. A raw event carries
// exactly one bit, a watch filter may carry several (All carries every bit).
type EventType uint32

const (
	Create EventType = 1 << iota
	Modify
	Delete

	All = Create | Modify | Delete
)

func (t EventType) String() string {
	if t == All {
		return "All"
	}
	var b strings.Builder
	if t.Has(Create) {
		b.WriteString("|Create")
	}
	if t.Has(Modify) {
		b.WriteString("|Modify")
	}
	if t.Has(Delete) {
		b.WriteString("|Delete")
	}
	if b.Len() == 0 {
		return "[no events]"
	}
	return b.String()[1:]
}

func (t EventType) Has(h EventType) bool { return h != 0 && t&h == h }

// Valid reports whether t is one of the four event types a client may ask for.
func (t EventType) Valid() bool {
	switch t {
	case Create, Modify, Delete, All:
		return true
	}
	return false
}

func (t EventType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid event type %d", uint32(t))
	}
	return []byte(t.String()), nil
}

func (t *EventType) UnmarshalText(b []byte) error {
	v, err := ParseEventType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func ParseEventType(s string) (EventType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "create":
		return Create, nil
	case "modify":
		return Modify, nil
	case "delete":
		return Delete, nil
	case "all", "":
		return All, nil
	}
	return 0, fmt.Errorf("unknown event type %q", s)
}

// PathMode is the breadth of subtree observation of a watch.
type PathMode int

const (
	Flat PathMode = iota + 1
	Recurse
	Follow
)

func (m PathMode) String() string {
	switch m {
	case Flat:
		return "Flat"
	case Recurse:
		return "Recurse"
	case Follow:
		return "Follow"
	}
	return fmt.Sprintf("PathMode(%d)", int(m))
}

func (m PathMode) Valid() bool { return m >= Flat && m <= Follow }

func (m PathMode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid path mode %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *PathMode) UnmarshalText(b []byte) error {
	v, err := ParsePathMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

func ParsePathMode(s string) (PathMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "flat", "":
		return Flat, nil
	case "recurse":
		return Recurse, nil
	case "follow":
		return Follow, nil
	}
	return 0, fmt.Errorf("unknown path mode %q", s)
}

// State of a watch.
type State int

const (
	Stopped State = iota
	Started
)

func (s State) String() string {
	if s == Started {
		return "Started"
	}
	return "Stopped"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "started":
		*s = Started
	case "stopped":
		*s = Stopped
	default:
		return fmt.Errorf("unknown state %q", string(b))
	}
	return nil
}

// WatchID is the external handle of a watch.
type WatchID string

// RawEvent is an unfiltered change as reported by a watcher backend.
type RawEvent struct {
	Path       string
	Kind       EventType
	ObservedAt time.Time
}

func (e RawEvent) String() string {
	return fmt.Sprintf("%-7s %q", e.Kind.String(), e.Path)
}

// NotificationEvent is a filtered event queued for delivery to a client.
type NotificationEvent struct {
	FileID    FileID    `json:"file_id"`
	EventType EventType `json:"event_type"`
}
