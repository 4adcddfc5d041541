package delve

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/acolita/sdb/internal/adapters/realnet"
	"github.com/acolita/sdb/internal/engine/dap"
	"github.com/acolita/sdb/internal/ports"
)

const (
	listenPrefix      = "DAP server listening at:"
	startTimeout      = 30 * time.Second
	dialTimeout       = 5 * time.Second
	disconnectTimeout = 5 * time.Second
)

// ErrNoListenAddress is returned when dlv exits without announcing its address.
var ErrNoListenAddress = errors.New("dlv did not report a listen address")

// Start spawns "dlv dap" and attaches to it. A nil dialer uses the real network.
func Start(ctx context.Context, cfg Config, dialer ports.NetworkDialer, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dialer == nil {
		dialer = realnet.NewDialer()
	}
	output := cfg.Output
	if output == nil {
		output = io.Discard
	}

	dlv := cfg.DlvPath
	if dlv == "" {
		dlv = "dlv"
	}
	cmd := exec.Command(dlv, "dap", "--listen", "127.0.0.1:0")
	cmd.Dir = cfg.Cwd
	cmd.Stderr = output
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("dlv stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", dlv, err)
	}
	stopProcess := func() error {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil
	}

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()

	addr, err := listenAddress(startCtx, stdout, output)
	if err != nil {
		_ = stopProcess()
		return nil, err
	}
	logger.Debug("dlv listening", "addr", addr, "pid", cmd.Process.Pid)

	conn, err := dialer.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		_ = stopProcess()
		return nil, fmt.Errorf("connect to dlv at %s: %w", addr, err)
	}

	e, err := Attach(ctx, dap.NewStreamTransport(conn), cfg, logger)
	if err != nil {
		_ = stopProcess()
		return nil, err
	}
	e.closeFn = func() error {
		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()
		select {
		case <-done:
		case <-time.After(disconnectTimeout):
			_ = cmd.Process.Kill()
			<-done
		}
		return nil
	}
	return e, nil
}

// listenAddress scans r for Delve's listen line. Everything after it, and any
// other line before it, is copied to rest.
func listenAddress(ctx context.Context, r io.Reader, rest io.Writer) (string, error) {
	type result struct {
		addr string
		err  error
	}
	found := make(chan result, 1)

	go func() {
		br := bufio.NewReader(r)
		for {
			line, err := br.ReadString('\n')
			if addr, ok := parseListenLine(line); ok {
				found <- result{addr: addr}
				_, _ = io.Copy(rest, br)
				return
			}
			if line != "" {
				_, _ = io.WriteString(rest, line)
			}
			if err != nil {
				found <- result{err: ErrNoListenAddress}
				return
			}
		}
	}()

	select {
	case res := <-found:
		return res.addr, res.err
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for dlv: %w", ctx.Err())
	}
}

func parseListenLine(line string) (string, bool) {
	_, addr, ok := strings.Cut(line, listenPrefix)
	if !ok {
		return "", false
	}
	addr = strings.TrimSpace(addr)
	return addr, addr != ""
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
