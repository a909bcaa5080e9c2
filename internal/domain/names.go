package domain

import (
	"fmt"
	"regexp"
)

// dnsLabelPattern matches RFC 1123 DNS labels: lowercase alphanumerics and
// hyphens, no leading or trailing hyphen, max 63 characters.
var dnsLabelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// AppName is a value object representing an application name.
// App names double as container names, image repository components, and
// routing hostnames, so they must be valid DNS labels.
// Always valid in memory — use NewAppName to construct.
type AppName struct {
	value string
}

// NewAppName creates an AppName from a raw string, validating DNS label format.
func NewAppName(raw string) (AppName, error) {
	if raw == "" {
		return AppName{}, fmt.Errorf("app name cannot be empty: %w", ErrInvalidAppName)
	}
	if !dnsLabelPattern.MatchString(raw) {
		return AppName{}, fmt.Errorf("app name %q is not a valid DNS label: %w", raw, ErrInvalidAppName)
	}
	return AppName{value: raw}, nil
}

// MustAppName creates an AppName, panicking on invalid input. Use only in tests.
func MustAppName(raw string) AppName {
	n, err := NewAppName(raw)
	if err != nil {
		panic(err)
	}
	return n
}

func (n AppName) String() string { return n.value }
func (n AppName) IsZero() bool   { return n.value == "" }

// imageRefPattern matches <repo>[:<tag>] references: lowercase repository
// path components separated by slashes, optional tag of up to 128 characters.
// Digest references are not accepted; every build is addressed by tag.
var imageRefPattern = regexp.MustCompile(`^[a-z0-9]+(?:[._-][a-z0-9]+)*(?:/[a-z0-9]+(?:[._-][a-z0-9]+)*)*(?::[a-zA-Z0-9_][a-zA-Z0-9._-]{0,127})?$`)

// ImageRef is a value object representing a Docker image reference.
type ImageRef struct {
	value string
}

// NewImageRef creates an ImageRef from a raw string, validating reference grammar.
func NewImageRef(raw string) (ImageRef, error) {
	if raw == "" {
		return ImageRef{}, fmt.Errorf("image reference cannot be empty: %w", ErrInvalidInput)
	}
	if !imageRefPattern.MatchString(raw) {
		return ImageRef{}, fmt.Errorf("invalid image reference %q: %w", raw, ErrInvalidInput)
	}
	return ImageRef{value: raw}, nil
}

// MustImageRef creates an ImageRef, panicking on invalid input. Use only in tests.
func MustImageRef(raw string) ImageRef {
	r, err := NewImageRef(raw)
	if err != nil {
		panic(err)
	}
	return r
}

func (r ImageRef) String() string { return r.value }
func (r ImageRef) IsZero() bool   { return r.value == "" }

// Port is a value object representing a TCP port number.
type Port struct {
	value int
}

// NewPort creates a Port from a raw int, validating the 1-65535 range.
func NewPort(raw int) (Port, error) {
	if raw < 1 || raw > 65535 {
		return Port{}, fmt.Errorf("port %d out of range 1-65535: %w", raw, ErrInvalidInput)
	}
	return Port{value: raw}, nil
}

// MustPort creates a Port, panicking on invalid input. Use only in tests.
func MustPort(raw int) Port {
	p, err := NewPort(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Port) Int() int       { return p.value }
func (p Port) IsZero() bool   { return p.value == 0 }
func (p Port) String() string { return fmt.Sprintf("%d", p.value) }
