package supervisor

import (
	"fmt"
	"net"

	"deskwarden/internal/domain"
)

// FindAvailablePort probes TCP ports sequentially from startPort and returns the
// first one that can be bound on loopback. The listener is released immediately;
// a single bind attempt per port is authoritative. Binding loopback specifically
// (not the wildcard address) matches what the health check later dials.
func FindAvailablePort(startPort, maxAttempts int) (int, error) {
	for port := startPort; port < startPort+maxAttempts; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			continue
		}
		ln.Close()
		return port, nil
	}
	return 0, domain.NewSubSystemError("supervisor", "FindAvailablePort",
		domain.ErrNoPortAvailable,
		fmt.Sprintf("probed %d..%d", startPort, startPort+maxAttempts-1))
}
