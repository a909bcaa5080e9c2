// Package domain contains pure business logic and types.
// No external dependencies allowed - this is the innermost ring of Clean Architecture.
package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// AppID is a value object representing a unique application identifier.
// Always valid in memory - use NewAppID to construct.
type AppID struct {
	value string
}

// NewAppID creates an AppID from a raw string, validating it is a valid UUID.
func NewAppID(raw string) (AppID, error) {
	if raw == "" {
		return AppID{}, ErrEmptyID
	}
	if _, err := uuid.Parse(raw); err != nil {
		return AppID{}, fmt.Errorf("invalid app ID %q: %w", raw, ErrInvalidID)
	}
	return AppID{value: raw}, nil
}

// MustAppID creates an AppID, panicking on invalid input. Use only in tests.
func MustAppID(raw string) AppID {
	id, err := NewAppID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// GenerateAppID creates a new random AppID.
func GenerateAppID() AppID {
	return AppID{value: uuid.NewString()}
}

func (id AppID) String() string { return id.value }
func (id AppID) IsZero() bool   { return id.value == "" }

// DeployID is a value object representing a unique deployment identifier.
type DeployID struct {
	value string
}

// NewDeployID creates a DeployID from a raw string, validating it is a valid UUID.
func NewDeployID(raw string) (DeployID, error) {
	if raw == "" {
		return DeployID{}, ErrEmptyID
	}
	if _, err := uuid.Parse(raw); err != nil {
		return DeployID{}, fmt.Errorf("invalid deploy ID %q: %w", raw, ErrInvalidID)
	}
	return DeployID{value: raw}, nil
}

// MustDeployID creates a DeployID, panicking on invalid input. Use only in tests.
func MustDeployID(raw string) DeployID {
	id, err := NewDeployID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// GenerateDeployID creates a new random DeployID.
func GenerateDeployID() DeployID {
	return DeployID{value: uuid.NewString()}
}

func (id DeployID) String() string { return id.value }
func (id DeployID) IsZero() bool   { return id.value == "" }

// Short returns the first 12 characters of the deploy ID. Used for image tags
// and log lines where the full UUID is noise.
func (id DeployID) Short() string {
	if len(id.value) < 12 {
		return id.value
	}
	return id.value[:12]
}

// TokenID is a value object representing a unique API token identifier (jti).
type TokenID struct {
	value string
}

// NewTokenID creates a TokenID from a raw string, validating it is a valid UUID.
func NewTokenID(raw string) (TokenID, error) {
	if raw == "" {
		return TokenID{}, ErrEmptyID
	}
	if _, err := uuid.Parse(raw); err != nil {
		return TokenID{}, fmt.Errorf("invalid token ID %q: %w", raw, ErrInvalidID)
	}
	return TokenID{value: raw}, nil
}

// MustTokenID creates a TokenID, panicking on invalid input. Use only in tests.
func MustTokenID(raw string) TokenID {
	id, err := NewTokenID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// GenerateTokenID creates a new random TokenID.
func GenerateTokenID() TokenID {
	return TokenID{value: uuid.NewString()}
}

func (id TokenID) String() string { return id.value }
func (id TokenID) IsZero() bool   { return id.value == "" }

// ContainerID is a value object wrapping a Docker container identifier.
// Container IDs are engine-assigned hex strings, not UUIDs; the only
// invariant enforced here is non-emptiness.
type ContainerID struct {
	value string
}

// NewContainerID creates a ContainerID from a raw engine-assigned string.
func NewContainerID(raw string) (ContainerID, error) {
	if raw == "" {
		return ContainerID{}, ErrEmptyID
	}
	return ContainerID{value: raw}, nil
}

// MustContainerID creates a ContainerID, panicking on invalid input. Use only in tests.
func MustContainerID(raw string) ContainerID {
	id, err := NewContainerID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ContainerID) String() string { return id.value }
func (id ContainerID) IsZero() bool   { return id.value == "" }

// Short returns the first 12 characters of the container ID, matching the
// abbreviated form the Docker CLI prints.
func (id ContainerID) Short() string {
	if len(id.value) < 12 {
		return id.value
	}
	return id.value[:12]
}
