// Package adbserver supervises a private adb server so a run does not share
// (or restart) the user's default server.
package adbserver

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

type Server struct {
	Port    int
	cmd     *exec.Cmd
	logFile *os.File
}

type StartOpts struct {
	// ADB is the adb binary; defaults to "adb" on PATH.
	ADB string
	// Port to listen on; zero picks a free port.
	Port   int
	LogDir string
	// Ready bounds how long to wait for the server to accept connections.
	Ready time.Duration
}

func FindFreePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port, nil
}

// Env returns the environment entry that points adb clients at this server.
func (s *Server) Env() string {
	return "ANDROID_ADB_SERVER_PORT=" + strconv.Itoa(s.Port)
}

func Start(ctx context.Context, opts *StartOpts) (*Server, error) {
	port := opts.Port
	if port == 0 {
		p, err := FindFreePort()
		if err != nil {
			return nil, err
		}
		port = p
	}
	adb := opts.ADB
	if adb == "" {
		adb = "adb"
	}
	ready := opts.Ready
	if ready == 0 {
		ready = 30 * time.Second
	}

	if err := os.MkdirAll(opts.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	logFile, err := os.Create(filepath.Join(opts.LogDir, fmt.Sprintf("adb-server-%d.log", port)))
	if err != nil {
		return nil, fmt.Errorf("creating log file: %w", err)
	}

	cmd := exec.CommandContext(ctx, adb, "-P", strconv.Itoa(port), "server", "nodaemon")
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("starting adb server: %w", err)
	}

	if err := waitForPort(port, ready); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		logFile.Close()
		return nil, fmt.Errorf("adb server did not start: %w", err)
	}

	return &Server{Port: port, cmd: cmd, logFile: logFile}, nil
}

func (s *Server) Stop() error {
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
	}
	if s.logFile != nil {
		s.logFile.Close()
	}
	return nil
}

func waitForPort(port int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(250 * time.Millisecond)
	}
	return fmt.Errorf("port %d not ready after %s", port, timeout)
}
