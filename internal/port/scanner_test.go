package port

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/svcboot/internal/model"
)

// occupy binds an OS-assigned port and returns it. The listener is
// closed when the test ends.
func occupy(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err, "failed to start test listener")
	t.Cleanup(func() { _ = ln.Close() })

	tcpAddr, ok := ln.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return tcpAddr.Port
}

// TestIsPortAvailable_FreePort checks a port found free by the scanner
// itself, rather than a hardcoded number that might be taken on CI.
func TestIsPortAvailable_FreePort(t *testing.T) {
	scanner := NewScanner("")

	freePort, err := scanner.FindAvailablePort(50000, 50100)
	require.NoError(t, err, "should find at least one free port in 50000-50100")

	assert.True(t, scanner.IsPortAvailable(freePort), "port %d should be available", freePort)
}

// TestIsPortAvailable_UsedPort checks a port held by another listener.
func TestIsPortAvailable_UsedPort(t *testing.T) {
	port := occupy(t)

	scanner := NewScanner("")
	assert.False(t, scanner.IsPortAvailable(port), "port %d should be in use", port)
}

func TestNewScanner_DefaultHost(t *testing.T) {
	assert.Equal(t, &Scanner{host: "0.0.0.0"}, NewScanner(""))
	assert.Equal(t, &Scanner{host: "127.0.0.1"}, NewScanner("127.0.0.1"))
}

// TestCheck_ExitCode verifies the launch failure mapping.
func TestCheck_ExitCode(t *testing.T) {
	port := occupy(t)

	err := NewScanner("").Check(port)
	require.Error(t, err)

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitPortUnavailable, cliErr.Code)
	assert.Contains(t, err.Error(), fmt.Sprintf("%d", port))
}

func TestCheck_InvalidPort(t *testing.T) {
	for _, port := range []int{0, -1, 65536} {
		err := NewScanner("").Check(port)
		var cliErr *model.CLIError
		require.True(t, errors.As(err, &cliErr), "port %d", port)
		assert.Equal(t, model.ExitPortUnavailable, cliErr.Code)
	}
}

// TestBind_Once claims a port and verifies a second bind fails.
func TestBind_Once(t *testing.T) {
	scanner := NewScanner("127.0.0.1")
	free, err := scanner.FindAvailablePort(52000, 52100)
	require.NoError(t, err)

	ln, err := Bind("127.0.0.1", free)
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	assert.Equal(t, free, ln.Addr().(*net.TCPAddr).Port)

	_, err = Bind("127.0.0.1", free)
	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitPortUnavailable, cliErr.Code)
}

// TestFindAvailablePort_NoneAvailable occupies a small range and checks
// that the search reports failure.
func TestFindAvailablePort_NoneAvailable(t *testing.T) {
	scanner := NewScanner("")

	basePort, err := scanner.FindAvailablePort(51000, 51100)
	require.NoError(t, err)

	rangeSize := 3
	actualEnd := basePort
	for i := 0; i < rangeSize; i++ {
		ln, listenErr := net.Listen("tcp", fmt.Sprintf(":%d", basePort+i))
		if listenErr != nil {
			if i == 0 {
				t.Skip("could not bind base port, skipping")
			}
			break
		}
		t.Cleanup(func() { _ = ln.Close() })
		actualEnd = basePort + i
	}

	_, err = scanner.FindAvailablePort(basePort, actualEnd)
	assert.Error(t, err, "should fail when all ports in range are occupied")
	assert.Contains(t, err.Error(), "no available")
}
