package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// NailgunMainClass is the Java entry point of the nailgun server.
const NailgunMainClass = "com.martiansoftware.nailgun.NGServer"

// Nailgun addresses a running nailgun server through the ng client.
type Nailgun struct {
	Client string // path of the ng client, "ng" when empty
	Host   string
	Port   int
}

// Command builds an ng invocation running a Java class on the server.
// Empty arguments are dropped.
func (n Nailgun) Command(args ...string) Command {
	client := n.Client
	if client == "" {
		client = "ng"
	}
	full := []string{"--nailgun-server", n.Host, "--nailgun-port", strconv.Itoa(n.Port)}
	for _, a := range args {
		if a != "" {
			full = append(full, a)
		}
	}
	return Command{Path: client, Args: full}
}

// NailgunServer is a JVM nailgun server owned by one worker process.
type NailgunServer struct {
	Nailgun

	cmd      *exec.Cmd
	done     chan struct{}
	stopOnce sync.Once
	log      *slog.Logger
}

// ServerOptions configures StartNailgun.
type ServerOptions struct {
	Java        string // "java" when empty
	Host        string
	HeapGB      int
	ReadyWithin time.Duration
}

// FreePort asks the kernel for an unused TCP port.
func FreePort() (int, error) {
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, fmt.Errorf("find free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// StartNailgun launches a nailgun server on a free port and waits until it
// accepts connections. The caller must Stop the returned server.
func StartNailgun(ctx context.Context, opts ServerOptions, logger *slog.Logger) (*NailgunServer, error) {
	java := opts.Java
	if java == "" {
		java = "java"
	}
	heap := opts.HeapGB
	if heap <= 0 {
		heap = 1
	}
	ready := opts.ReadyWithin
	if ready <= 0 {
		ready = 30 * time.Second
	}

	port, err := FreePort()
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(opts.Host, strconv.Itoa(port))
	cmd := exec.Command(java, fmt.Sprintf("-Xmx%dG", heap), NailgunMainClass, fmt.Sprintf("%s:%d", opts.Host, port))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start nailgun server: %w", err)
	}

	s := &NailgunServer{
		Nailgun: Nailgun{Host: opts.Host, Port: port},
		cmd:     cmd,
		done:    make(chan struct{}),
		log:     logger.With("component", "nailgun", "addr", addr),
	}
	go func() {
		cmd.Wait()
		close(s.done)
	}()

	s.log.Info("nailgun server starting", "heap_gb", heap)
	if err := waitForListener(ctx, addr, ready, s.done); err != nil {
		s.Stop()
		return nil, err
	}
	s.log.Info("nailgun server ready")
	return s, nil
}

func waitForListener(ctx context.Context, addr string, within time.Duration, exited <-chan struct{}) error {
	deadline := time.Now().Add(within)
	for {
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("nailgun server at %s not ready after %s: %w", addr, within, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-exited:
			return fmt.Errorf("nailgun server at %s exited during startup", addr)
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// Stop kills the server process. It is safe to call more than once.
func (s *NailgunServer) Stop() {
	s.stopOnce.Do(func() {
		if s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
		<-s.done
		s.log.Info("nailgun stopped")
	})
}
