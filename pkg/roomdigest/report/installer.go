package report

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

// InstallStatus is the process-wide browser install state. Reset at process
// start; mutated only by the install goroutine under the installer mutex.
type InstallStatus struct {
	InProgress bool
	Completed  bool
	Failed     bool
	Err        string
}

// DefaultInstallCommand fetches a headless Chromium when none is on PATH.
const DefaultInstallCommand = "npx --yes playwright install chromium"

// Installer downloads the headless browser needed for image/PDF rendering.
// Installs are single-flight: a second Install call while one is running is
// rejected rather than queued.
type Installer struct {
	command string
	logger  *slog.Logger

	mu     sync.Mutex
	status InstallStatus
}

// NewInstaller creates an installer running the given shell command
// (DefaultInstallCommand when empty).
func NewInstaller(command string, logger *slog.Logger) *Installer {
	if command == "" {
		command = DefaultInstallCommand
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{
		command: command,
		logger:  logger.With("component", "installer"),
	}
}

// Status returns a snapshot of the install state.
func (i *Installer) Status() InstallStatus {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// Install starts the browser install in the background. Returns an error
// immediately if an install is already in progress; completion is reported
// through Status and the logs, never by blocking the caller.
func (i *Installer) Install(ctx context.Context) error {
	i.mu.Lock()
	if i.status.InProgress {
		i.mu.Unlock()
		return fmt.Errorf("install already in progress")
	}
	i.status = InstallStatus{InProgress: true}
	i.mu.Unlock()

	i.logger.Info("starting browser install", "command", i.command)
	go i.runInstall(ctx)
	return nil
}

func (i *Installer) runInstall(ctx context.Context) {
	parts := strings.Fields(i.command)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	out, err := cmd.CombinedOutput()

	i.mu.Lock()
	defer i.mu.Unlock()
	i.status.InProgress = false
	if err != nil {
		i.status.Failed = true
		i.status.Err = fmt.Sprintf("%v: %s", err, truncateOutput(string(out)))
		i.logger.Error("browser install failed", "error", err)
		return
	}
	i.status.Completed = true
	i.logger.Info("browser install completed")
}

func truncateOutput(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 300 {
		return s[len(s)-300:]
	}
	return s
}
