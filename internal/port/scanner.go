package port

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"

	"github.com/shinji-kodama/svcboot/internal/model"
)

// Ephemeral range used when a free host port has to be picked for
// `svcboot run --host-port 0`.
const (
	EphemeralStart = 49152
	EphemeralEnd   = 65535
)

// Scanner checks whether ports are free on one host address.
//
// It uses the operating system's network stack (net.Listen) rather than
// parsing /proc/net/* or calling `lsof`/`ss`, which may need elevated
// permissions.
type Scanner struct {
	host string
}

// NewScanner creates a Scanner probing host. An empty host probes all
// interfaces, which is where the launched service binds.
func NewScanner(host string) *Scanner {
	if host == "" {
		host = model.DefaultHost
	}
	return &Scanner{host: host}
}

// IsPortAvailable reports whether a TCP port can be bound on the host.
// The probe listener is closed immediately.
func (s *Scanner) IsPortAvailable(port int) bool {
	return s.Check(port) == nil
}

// Check returns nil when port is valid and free. Otherwise it returns a
// model.CLIError with ExitPortUnavailable describing why.
func (s *Scanner) Check(port int) error {
	ln, err := Bind(s.host, port)
	if err != nil {
		return err
	}
	_ = ln.Close()
	return nil
}

// FindAvailablePort returns the first free port in [startPort, endPort].
// The search is sequential so results are reproducible.
func (s *Scanner) FindAvailablePort(startPort, endPort int) (int, error) {
	for port := startPort; port <= endPort; port++ {
		if s.IsPortAvailable(port) {
			return port, nil
		}
	}
	return 0, model.NewCLIError(model.ExitPortUnavailable,
		fmt.Sprintf("no available tcp port found in range %d-%d", startPort, endPort))
}

// Bind claims host:port with a TCP listener. It is called exactly once
// per launch. An out-of-range port or a bind failure is returned as a
// model.CLIError with ExitPortUnavailable; there is no retry.
func Bind(host string, port int) (net.Listener, error) {
	if err := model.ValidatePort(port); err != nil {
		return nil, model.WrapCLIError(model.ExitPortUnavailable, "invalid port", err)
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		msg := fmt.Sprintf("cannot bind %s", addr)
		if errors.Is(err, syscall.EADDRINUSE) {
			msg = fmt.Sprintf("port %d is already in use", port)
		}
		return nil, model.WrapCLIError(model.ExitPortUnavailable, msg, err)
	}
	return ln, nil
}
