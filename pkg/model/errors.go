package model

import (
	"errors"
	"strings"
)

var (
	ErrUnknownID      = errors.New("unknown watch id")
	ErrInvalidRequest = errors.New("invalid request")
	ErrPath           = errors.New("path error")
	ErrHash           = errors.New("hash computation failed")
	ErrDelivery       = errors.New("notification delivery failed")
	ErrCatchAll       = errors.New("request failed")
)

// Kind classifies an error into the service taxonomy.
type Kind int

const (
	KindCatchAll Kind = iota
	KindUnknownID
	KindInvalidRequest
	KindPath
	KindHash
	KindDelivery
)

func (k Kind) String() string {
	switch k {
	case KindUnknownID:
		return "UnknownId"
	case KindInvalidRequest:
		return "InvalidRequest"
	case KindPath:
		return "PathError"
	case KindHash:
		return "HashComputationError"
	case KindDelivery:
		return "DeliveryFailure"
	}
	return "CatchAllError"
}

// KindOf returns the first taxonomy sentinel found in err's tree.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindCatchAll
	case errors.Is(err, ErrUnknownID):
		return KindUnknownID
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrHash):
		return KindHash
	case errors.Is(err, ErrPath):
		return KindPath
	case errors.Is(err, ErrDelivery):
		return KindDelivery
	}
	return KindCatchAll
}

// Reason flattens err into the single line carried by the catch-all error at
// the service boundary.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	parts := strings.Split(err.Error(), "\n")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ": ")
}

// Err returns the sentinel of k.
func (k Kind) Err() error {
	switch k {
	case KindUnknownID:
		return ErrUnknownID
	case KindInvalidRequest:
		return ErrInvalidRequest
	case KindPath:
		return ErrPath
	case KindHash:
		return ErrHash
	case KindDelivery:
		return ErrDelivery
	}
	return ErrCatchAll
}

// ParseKind is the inverse of Kind.String; unknown names are KindCatchAll.
func ParseKind(s string) Kind {
	for k := KindUnknownID; k <= KindDelivery; k++ {
		if k.String() == s {
			return k
		}
	}
	return KindCatchAll
}
