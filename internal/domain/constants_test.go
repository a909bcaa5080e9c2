package domain_test

import (
	"testing"

	"github.com/gantryhq/gantry/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestIsValidDeployStatus(t *testing.T) {
	tests := []struct {
		name   string
		status domain.DeployStatus
		want   bool
	}{
		{name: "pending is valid", status: "pending", want: true},
		{name: "building is valid", status: "building", want: true},
		{name: "verifying is valid", status: "verifying", want: true},
		{name: "starting is valid", status: "starting", want: true},
		{name: "running is valid", status: "running", want: true},
		{name: "failed is valid", status: "failed", want: true},
		{name: "stopped is valid", status: "stopped", want: true},
		{name: "expired is valid", status: "expired", want: true},
		{name: "empty is invalid", status: "", want: false},
		{name: "deployed is invalid", status: "deployed", want: false},
		{name: "Running is invalid (case-sensitive)", status: "Running", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := domain.IsValidDeployStatus(tt.status)

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeployStatusIsTerminal(t *testing.T) {
	tests := []struct {
		name   string
		status domain.DeployStatus
		want   bool
	}{
		{name: "failed is terminal", status: domain.DeployStatusFailed, want: true},
		{name: "stopped is terminal", status: domain.DeployStatusStopped, want: true},
		{name: "expired is terminal", status: domain.DeployStatusExpired, want: true},
		{name: "running is not terminal", status: domain.DeployStatusRunning, want: false},
		{name: "pending is not terminal", status: domain.DeployStatusPending, want: false},
		{name: "building is not terminal", status: domain.DeployStatusBuilding, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.status.IsTerminal()

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsValidSourceKind(t *testing.T) {
	tests := []struct {
		name string
		kind domain.SourceKind
		want bool
	}{
		{name: "upload is valid", kind: "upload", want: true},
		{name: "git is valid", kind: "git", want: true},
		{name: "empty is invalid", kind: "", want: false},
		{name: "svn is invalid", kind: "svn", want: false},
		{name: "Git is invalid (case-sensitive)", kind: "Git", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := domain.IsValidSourceKind(tt.kind)

			assert.Equal(t, tt.want, got)
		})
	}
}
