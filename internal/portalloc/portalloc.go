// Package portalloc finds a free TCP port for a debug session and announces it.
package portalloc

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"syscall"

	"github.com/acolita/sdb/internal/ports"
)

// NotifyPort is the UDP port discovery datagrams are sent to.
const NotifyPort = 6899

// MaxPort is the highest TCP port number.
const MaxPort = 65535

// ErrPortUnavailable is matched by errors.Is for every NoAvailablePortError.
var ErrPortUnavailable = errors.New("no available port")

// NoAvailablePortError is returned when every candidate port in the range is taken.
type NoAvailablePortError struct {
	Base  int
	Limit int
}

func (e *NoAvailablePortError) Error() string {
	return "Couldn't find an available port.\n\nPlease specify one using the SDB_PORT environment variable."
}

// Is reports ErrPortUnavailable as the error's kind.
func (e *NoAvailablePortError) Is(target error) bool {
	return target == ErrPortUnavailable
}

// Allocator binds session listeners.
type Allocator struct {
	listener ports.NetworkListener
	dialer   ports.NetworkDialer
	logger   *slog.Logger
}

// New creates an Allocator. dialer may be nil when announcements are not wanted.
func New(listener ports.NetworkListener, dialer ports.NetworkDialer, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{listener: listener, dialer: dialer, logger: logger}
}

// Acquire binds the first free port in [base+skew, base+skew+limit).
// Ports that are in use (EADDRINUSE) or rejected by the kernel (EINVAL) are
// skipped; any other bind error is returned immediately. The search stops at
// MaxPort.
func (a *Allocator) Acquire(host string, base, limit, skew int) (net.Listener, int, error) {
	start := base + skew
	for i := 0; i < limit && start+i <= MaxPort; i++ {
		port := start + i
		ln, err := a.listener.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			a.logger.Debug("port acquired", slog.String("host", host), slog.Int("port", port))
			return ln, port, nil
		}
		if skippable(err) {
			a.logger.Debug("port busy", slog.Int("port", port), slog.String("error", err.Error()))
			continue
		}
		return nil, 0, fmt.Errorf("bind %s:%d: %w", host, port, err)
	}
	return nil, 0, &NoAvailablePortError{Base: start, Limit: limit}
}

func skippable(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE) || errors.Is(err, syscall.EINVAL)
}

// Announce sends the port number, as decimal text, to notifyHost:6899.
// Failures are logged and otherwise ignored.
func (a *Allocator) Announce(notifyHost string, port int) {
	if a.dialer == nil || notifyHost == "" {
		return
	}

	addr := net.JoinHostPort(notifyHost, strconv.Itoa(NotifyPort))
	conn, err := a.dialer.Dial("udp", addr)
	if err != nil {
		a.logger.Debug("announce failed", slog.String("addr", addr), slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(strconv.Itoa(port))); err != nil {
		a.logger.Debug("announce failed", slog.String("addr", addr), slog.String("error", err.Error()))
	}
}

// SkewFromWorker derives a port offset from a worker identity such as "gw3"
// or "worker-3". Identities without a trailing number give 0.
func SkewFromWorker(id string) int {
	id = strings.TrimSpace(id)
	end := len(id)
	start := end
	for start > 0 && id[start-1] >= '0' && id[start-1] <= '9' {
		start--
	}
	if start == end {
		return 0
	}
	n, err := strconv.Atoi(id[start:end])
	if err != nil {
		return 0
	}
	return n
}
