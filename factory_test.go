//go:build !windows

package scm

import (
	"context"
	"errors"
	"testing"
)

func TestBackendString(t *testing.T) {
	tests := []struct {
		backend Backend
		want    string
	}{
		{BackendLocal, "local"},
		{BackendSystem, "system"},
		{Backend(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.backend.String(); got != tt.want {
			t.Errorf("Backend(%d).String() = %q, want %q", int(tt.backend), got, tt.want)
		}
	}
}

func TestNewSupervisorLocal(t *testing.T) {
	sup, err := NewSupervisor(BackendLocal, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if sup == nil {
		t.Fatal("nil supervisor")
	}
}

func TestNewSupervisorSystemUnavailable(t *testing.T) {
	_, err := NewSupervisor(BackendSystem, "")
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}

func TestNewSupervisorUnknownBackend(t *testing.T) {
	_, err := NewSupervisor(Backend(99), "")
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}

func TestNewRegistryLocal(t *testing.T) {
	reg, err := NewRegistry(BackendLocal, t.TempDir(), ManagerConnect|ManagerCreate)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = reg.Close() }()

	h, err := reg.CreateService(context.Background(), testConfig("alpha"), AccessQueryConfig)
	if err != nil {
		t.Fatal(err)
	}
	_ = h.Close()
}

func TestNewRegistrySystemUnavailable(t *testing.T) {
	_, err := NewRegistry(BackendSystem, "", ManagerConnect)
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}

func TestGetVersion(t *testing.T) {
	info := GetVersion()
	if info.Version != Version {
		t.Errorf("Version = %q, want %q", info.Version, Version)
	}
	if info.Protocol != "scm" {
		t.Errorf("Protocol = %q", info.Protocol)
	}
	if len(info.Backends) != 1 || info.Backends[0] != BackendLocal {
		t.Errorf("Backends = %v, want [local]", info.Backends)
	}
}
