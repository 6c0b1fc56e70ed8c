package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/kardianos/service"
)

const stopTimeout = 30 * time.Second

// program implements service.Interface
type program struct {
	configPath string
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	err        error
	svcLogger  service.Logger
}

func (p *program) Start(s service.Service) error {
	p.svcLogger, _ = s.Logger(nil)
	p.info("PrintWatch agent service starting")

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.done = make(chan struct{})

	go p.run()
	return nil
}

func (p *program) run() {
	defer close(p.done)

	p.err = run(p.ctx, p.configPath, true)
	if p.err != nil && p.svcLogger != nil {
		p.svcLogger.Error(fmt.Sprintf("PrintWatch agent exited: %v", p.err))
	}
}

func (p *program) Stop(s service.Service) error {
	p.info("PrintWatch agent service stop requested")
	if p.cancel != nil {
		p.cancel()
	}

	select {
	case <-p.done:
		p.info("PrintWatch agent service stopped gracefully")
	case <-time.After(stopTimeout):
		if p.svcLogger != nil {
			p.svcLogger.Warning("PrintWatch agent service stopped with timeout")
		}
	}
	return nil
}

func (p *program) info(msg string) {
	if p.svcLogger != nil {
		p.svcLogger.Info(msg)
	}
}

// serviceWorkingDir is the platform data root used in service mode.
func serviceWorkingDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "PrintWatch")
	case "darwin":
		return "/Library/Application Support/PrintWatch"
	default:
		return "/var/lib/printwatch"
	}
}

// getServiceConfig returns the service configuration for the current platform
func getServiceConfig(configPath string) *service.Config {
	args := []string{"-service", "run"}
	if configPath != "" {
		if abs, err := filepath.Abs(configPath); err == nil {
			configPath = abs
		}
		args = append(args, "-config", configPath)
	}

	return &service.Config{
		Name:             "PrintWatchAgent",
		DisplayName:      "PrintWatch Agent",
		Description:      "Polls network printers over SNMP, tracks supply levels and page counts, and sends low-toner and offline alerts.",
		WorkingDirectory: serviceWorkingDir(),
		Arguments:        args,
		Option: service.KeyValue{
			// Windows
			"StartType":              "automatic",
			"DelayedAutoStart":       true,
			"OnFailure":              "restart",
			"OnFailureDelayDuration": "5s",
			"OnFailureResetPeriod":   30,

			// systemd
			"Restart":           "on-failure",
			"RestartSec":        5,
			"SuccessExitStatus": "0 SIGTERM",
			"KillSignal":        "SIGTERM",

			// launchd
			"RunAtLoad": true,
			"KeepAlive": true,
		},
	}
}

// setupServiceDirectories creates the directories the service expects.
func setupServiceDirectories() error {
	base := serviceWorkingDir()
	dirs := []string{base, filepath.Join(base, "agent")}
	switch runtime.GOOS {
	case "windows":
		dirs = append(dirs, filepath.Join(base, "agent", "logs"))
	default:
		dirs = append(dirs, "/var/log/printwatch/agent", "/etc/printwatch/agent")
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// handleServiceCommand processes install/uninstall/start/stop/restart/status/run.
func handleServiceCommand(cmd, configPath string) error {
	prg := &program{configPath: configPath}
	s, err := service.New(prg, getServiceConfig(configPath))
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	switch cmd {
	case "install":
		if err := setupServiceDirectories(); err != nil {
			return err
		}
		if err := s.Install(); err != nil {
			return fmt.Errorf("failed to install service: %w", err)
		}
		fmt.Println("Service installed")
	case "uninstall":
		if status, err := s.Status(); err == nil && status == service.StatusRunning {
			_ = s.Stop()
		}
		if err := s.Uninstall(); err != nil {
			return fmt.Errorf("failed to uninstall service: %w", err)
		}
		fmt.Println("Service uninstalled")
	case "start", "stop", "restart":
		if err := service.Control(s, cmd); err != nil {
			return fmt.Errorf("failed to %s service: %w", cmd, err)
		}
		fmt.Printf("Service %s: ok\n", cmd)
	case "status":
		status, err := s.Status()
		if err != nil {
			return fmt.Errorf("failed to query service: %w", err)
		}
		fmt.Println(statusText(status))
	case "run":
		return s.Run()
	default:
		return fmt.Errorf("unknown service command %q (valid: install, uninstall, start, stop, restart, status, run)", cmd)
	}
	return nil
}

func statusText(status service.Status) string {
	switch status {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "not installed"
	}
}
