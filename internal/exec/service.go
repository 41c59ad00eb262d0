package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Service is a long-running process started by StartService.
type Service struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	output bytes.Buffer
	err    error
}

// StartService launches command through "sh -c" in workDir and returns
// without waiting for it to exit. The process runs in its own process group
// so Stop also terminates any children it spawned.
func StartService(ctx context.Context, workDir, command string) (*Service, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	s := &Service{cmd: cmd, cancel: cancel, done: make(chan struct{})}
	cmd.Stdout = &lockedWriter{s: s}
	cmd.Stderr = &lockedWriter{s: s}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start service: %w", err)
	}

	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	}()
	return s, nil
}

// Exited reports whether the process has exited.
func (s *Service) Exited() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Output returns everything the process has written so far.
func (s *Service) Output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output.String()
}

// Stop terminates the process group and waits for the process to exit.
func (s *Service) Stop() error {
	s.cancel()
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	var exitErr *exec.ExitError
	if s.err != nil && !errors.As(s.err, &exitErr) && !errors.Is(s.err, context.Canceled) {
		return s.err
	}
	return nil
}

type lockedWriter struct {
	s *Service
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	return w.s.output.Write(p)
}

// WaitReady polls url until it answers with a non-5xx status, ctx is done,
// or svc (if non-nil) exits.
func WaitReady(ctx context.Context, url string, svc *Service) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("readiness request: %w", err)
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 500 {
				return nil
			}
		}

		if svc != nil && svc.Exited() {
			return fmt.Errorf("service exited before becoming ready: %s", lastLines(svc.Output(), 5))
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for %s: %w", url, ctx.Err())
		case <-ticker.C:
		}
	}
}

func lastLines(s string, n int) string {
	lines := bytes.Split(bytes.TrimSpace([]byte(s)), []byte("\n"))
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return string(bytes.Join(lines, []byte("\n")))
}
