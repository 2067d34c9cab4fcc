package supervisor

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"deskwarden/internal/domain"
)

// occupy binds listeners on ports [start, start+n) and returns a release func.
func occupy(t *testing.T, start, n int) func() {
	t.Helper()
	var listeners []net.Listener
	for port := start; port < start+n; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			t.Fatalf("occupy port %d: %v", port, err)
		}
		listeners = append(listeners, ln)
	}
	return func() {
		for _, ln := range listeners {
			ln.Close()
		}
	}
}

// freeBasePort finds a base with a run of free ports for deterministic tests.
func freeBasePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestFindAvailablePortReturnsStartWhenFree(t *testing.T) {
	base := freeBasePort(t)

	port, err := FindAvailablePort(base, 5)
	if err != nil {
		t.Fatalf("FindAvailablePort: %v", err)
	}
	if port != base {
		t.Errorf("port = %d, want %d", port, base)
	}
}

func TestFindAvailablePortSkipsOccupied(t *testing.T) {
	base := freeBasePort(t)
	release := occupy(t, base, 3)
	defer release()

	port, err := FindAvailablePort(base, 10)
	if err != nil {
		t.Fatalf("FindAvailablePort: %v", err)
	}
	if port != base+3 {
		t.Errorf("port = %d, want %d", port, base+3)
	}
}

func TestFindAvailablePortExhaustsRange(t *testing.T) {
	base := freeBasePort(t)
	release := occupy(t, base, 4)
	defer release()

	_, err := FindAvailablePort(base, 4)
	if err == nil {
		t.Fatal("expected error when every port in range is occupied")
	}
	if !errors.Is(err, domain.ErrNoPortAvailable) {
		t.Errorf("error = %v, want ErrNoPortAvailable", err)
	}
}
