package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/use-agent/browserbridge/apperrors"
)

// WorkerState is a Chrome worker process's lifecycle stage.
type WorkerState string

const (
	WorkerIdle     WorkerState = "idle"
	WorkerStarting WorkerState = "starting"
	WorkerRunning  WorkerState = "running"
	WorkerStopping WorkerState = "stopping"
	WorkerStopped  WorkerState = "stopped"
	WorkerCrashed  WorkerState = "crashed"
)

// defaultChromeFlags are the headless/remote-debugging flags a worker is
// launched with, on top of --remote-debugging-port and --user-data-dir.
var defaultChromeFlags = []string{
	"--headless=new",
	"--no-sandbox",
	"--disable-gpu",
	"--disable-dev-shm-usage",
	"--disable-extensions",
	"--no-first-run",
}

// ExitEvent is emitted when a worker's process ends, whether cleanly
// (via Stop/Kill) or unexpectedly (crashed).
type ExitEvent struct {
	WorkerID string
	Code     int
	Signal   string
	Crashed  bool
}

// Worker is one Chromium child process bound to a single debug port.
type Worker struct {
	mu sync.Mutex

	id         string
	port       int
	profileDir string
	chromeBin  string
	state      WorkerState

	cmd  *exec.Cmd
	done chan struct{}

	startListeners listeners[string]
	exitListeners  listeners[ExitEvent]
}

// NewWorker builds a worker bound to port, rooted at profileDirRoot/id for
// its user-data-dir. chromeBin overrides the default lookup path when
// non-empty.
func NewWorker(id string, port int, profileDirRoot, chromeBin string) *Worker {
	return &Worker{
		id:         id,
		port:       port,
		profileDir: filepath.Join(profileDirRoot, id),
		chromeBin:  chromeBin,
		state:      WorkerIdle,
	}
}

// ID returns the worker's stable identifier.
func (w *Worker) ID() string { return w.id }

// Port returns the worker's remote-debugging port.
func (w *Worker) Port() int { return w.port }

// State reports the current lifecycle stage.
func (w *Worker) State() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start spawns the Chromium process and polls /json/version until the
// debug endpoint answers or startTimeout elapses. Start refuses to run
// unless the worker is idle, stopped, or crashed.
func (w *Worker) Start(ctx context.Context, startTimeout time.Duration) error {
	w.mu.Lock()
	if w.state != WorkerIdle && w.state != WorkerStopped && w.state != WorkerCrashed {
		state := w.state
		w.mu.Unlock()
		return apperrors.InvalidState(string(state), "start")
	}
	w.state = WorkerStarting
	w.mu.Unlock()

	if err := os.MkdirAll(w.profileDir, 0755); err != nil {
		w.setState(WorkerCrashed)
		return apperrors.Wrap(apperrors.CodeWorkerStartFailed, "failed to create profile dir", err).
			WithDetail("worker_id", w.id)
	}

	bin := w.chromeBin
	if bin == "" {
		bin = lookupChromeBinary()
	}

	args := append([]string{}, defaultChromeFlags...)
	args = append(args,
		fmt.Sprintf("--remote-debugging-port=%d", w.port),
		"--user-data-dir="+w.profileDir,
		"about:blank",
	)

	cmd := exec.Command(bin, args...)
	if err := cmd.Start(); err != nil {
		w.setState(WorkerCrashed)
		return apperrors.Wrap(apperrors.CodeWorkerStartFailed, "failed to start chrome process", err).
			WithDetail("worker_id", w.id).WithDetail("bin", bin)
	}

	w.mu.Lock()
	w.cmd = cmd
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.monitor(cmd, w.done)

	if err := waitUntilReady(ctx, w.port, startTimeout); err != nil {
		w.Kill()
		w.setState(WorkerCrashed)
		return apperrors.Wrap(apperrors.CodeWorkerStartFailed, "worker did not become ready in time", err).
			WithDetail("worker_id", w.id).WithDetail("port", w.port)
	}

	w.setState(WorkerRunning)
	w.startListeners.emit(w.id)
	return nil
}

// monitor waits for the child process to exit and classifies the exit as
// a clean stop or a crash, depending on whether the worker was already
// transitioning to stopped when the process ended.
func (w *Worker) monitor(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	close(done)

	w.mu.Lock()
	wasStopping := w.state == WorkerStopping
	code, signal := exitDetails(err)
	if wasStopping {
		w.state = WorkerStopped
	} else {
		w.state = WorkerCrashed
	}
	w.mu.Unlock()

	w.exitListeners.emit(ExitEvent{WorkerID: w.id, Code: code, Signal: signal, Crashed: !wasStopping})
}

// Stop sends SIGTERM and waits up to grace for the process to exit,
// escalating to SIGKILL if it does not. Stop on an already-stopped
// worker is a no-op.
func (w *Worker) Stop(grace time.Duration) error {
	w.mu.Lock()
	if w.state != WorkerRunning {
		state := w.state
		w.mu.Unlock()
		if state == WorkerStopped || state == WorkerIdle {
			return nil
		}
		return apperrors.InvalidState(string(state), "stop")
	}
	cmd := w.cmd
	done := w.done
	w.state = WorkerStopping
	w.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-done:
		return nil
	case <-time.After(grace):
		_ = cmd.Process.Kill()
		<-done
		return nil
	}
}

// Kill sends SIGKILL immediately and waits for the process to exit.
func (w *Worker) Kill() error {
	w.mu.Lock()
	cmd := w.cmd
	done := w.done
	if w.state == WorkerRunning || w.state == WorkerStarting {
		w.state = WorkerStopping
	}
	w.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	_ = cmd.Process.Kill()
	if done != nil {
		<-done
	}
	return nil
}

func (w *Worker) setState(s WorkerState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// OnStart registers a listener fired once the worker's debug endpoint is
// confirmed ready.
func (w *Worker) OnStart(fn func(workerID string)) (cancel func()) {
	return w.startListeners.add(fn)
}

// OnExit registers a listener fired when the underlying process ends,
// whether via Stop/Kill or unexpectedly.
func (w *Worker) OnExit(fn func(ExitEvent)) (cancel func()) {
	return w.exitListeners.add(fn)
}

func exitDetails(err error) (code int, signal string) {
	if err == nil {
		return 0, ""
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return -1, status.Signal().String()
			}
			return status.ExitStatus(), ""
		}
		return exitErr.ExitCode(), ""
	}
	return -1, ""
}

// waitUntilReady polls the worker's /json/version endpoint until it
// responds successfully or timeout elapses.
func waitUntilReady(ctx context.Context, port int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	url := fmt.Sprintf("http://127.0.0.1:%d/json/version", port)
	client := &http.Client{Timeout: 500 * time.Millisecond}

	for {
		if probeOnce(client, url) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for %s", url)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func probeOnce(client *http.Client, url string) bool {
	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	var payload map[string]any
	return json.NewDecoder(resp.Body).Decode(&payload) == nil
}

func lookupChromeBinary() string {
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return "google-chrome"
}
