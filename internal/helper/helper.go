// Package helper implements the out-of-process crash helper: it receives
// crash notifications over IPC, hands minidumps back to the client and
// optionally analyzes them.
package helper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/crash-analysis/internal/analyzer"
	"github.com/crash-analysis/internal/ipc"
	"github.com/crash-analysis/internal/report"
	"github.com/crash-analysis/internal/stackwalk"
	"github.com/crash-analysis/pkg/utils"
)

// Config configures a Helper.
type Config struct {
	// DumpDir receives minidumps until a client names a report directory.
	// A dump named <pid>.dmp there is transferred without registration.
	DumpDir string
	// Analyze writes the StackTraces document of every transferred dump
	// into its .extra sidecar.
	Analyze   bool
	AllStacks bool
	Workers   int
	Symbols   stackwalk.SymbolProvider
	Generator Generator
	Logger    utils.Logger
}

// Helper answers crash helper requests.
type Helper struct {
	cfg       Config
	registry  *Registry
	generator Generator
	logger    utils.Logger

	mu             sync.Mutex
	reportDir      string
	releaseChannel string
	platformData   []byte
	endpoint       *os.File
}

// New returns a helper drawing minidumps from registry.
func New(cfg Config, registry *Registry) *Helper {
	h := &Helper{
		cfg:       cfg,
		registry:  registry,
		generator: cfg.Generator,
		logger:    cfg.Logger,
		reportDir: cfg.DumpDir,
	}
	if h.generator == nil {
		h.generator = unsupportedGenerator{}
	}
	if h.logger == nil {
		h.logger = &utils.NullLogger{}
	}
	return h
}

// Registry returns the helper's minidump registry.
func (h *Helper) Registry() *Registry { return h.registry }

// ReportDir returns the directory transferred minidumps are moved to.
func (h *Helper) ReportDir() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reportDir
}

// ReleaseChannel returns the channel the client announced.
func (h *Helper) ReleaseChannel() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.releaseChannel
}

// Initialize records the client's report directory and keeps the crash
// generation endpoint.
func (h *Helper) Initialize(_ context.Context, req *ipc.Initialize) (*ipc.InitializeReply, error) {
	endpoint := req.Endpoint.Take()

	h.mu.Lock()
	if req.Path != "" {
		h.reportDir = req.Path
	}
	h.releaseChannel = req.ReleaseChannel
	h.platformData = req.PlatformData
	old := h.endpoint
	h.endpoint = endpoint
	h.mu.Unlock()

	if old != nil {
		old.Close()
	}
	h.logger.WithFields(map[string]interface{}{
		"report_dir": req.Path,
		"channel":    req.ReleaseChannel,
		"endpoint":   endpoint != nil,
	}).Info("Client initialized")
	return &ipc.InitializeReply{Pid: uint32(os.Getpid())}, nil
}

// TransferMinidump moves the minidump registered for the pid into the
// report directory.
func (h *Helper) TransferMinidump(ctx context.Context, req *ipc.TransferMinidump) (*ipc.TransferMinidumpReply, error) {
	log := h.logger.WithField("pid", req.Pid)
	src, ok := h.registry.Take(req.Pid)
	if !ok {
		src, ok = h.unregistered(req.Pid)
	}
	if !ok {
		log.Warn("No minidump registered")
		return &ipc.TransferMinidumpReply{Error: fmt.Sprintf("no minidump for pid %d", req.Pid)}, nil
	}

	dest, err := h.moveToReportDir(src)
	if err != nil {
		log.Error("Failed to move minidump %s: %v", src, err)
		return &ipc.TransferMinidumpReply{Error: err.Error()}, nil
	}
	log.Info("Transferred minidump to %s", dest)

	if h.cfg.Analyze {
		if _, err := h.analyze(ctx, dest); err != nil {
			// Analysis failures do not fail the transfer.
			log.Warn("Failed to analyze %s: %v", dest, err)
		}
	}
	return &ipc.TransferMinidumpReply{Path: dest}, nil
}

func (h *Helper) unregistered(pid uint32) (string, bool) {
	if h.cfg.DumpDir == "" {
		return "", false
	}
	path := filepath.Join(h.cfg.DumpDir, fmt.Sprintf("%d.dmp", pid))
	if fi, err := os.Stat(path); err != nil || !fi.Mode().IsRegular() {
		return "", false
	}
	return path, true
}

// GenerateMinidump asks the generator for a minidump of a live process.
func (h *Helper) GenerateMinidump(ctx context.Context, req *ipc.GenerateMinidump) (*ipc.GenerateMinidumpReply, error) {
	path, err := h.generator.GenerateMinidump(ctx, req.Pid, req.ThreadID, h.ReportDir())
	if err != nil {
		h.logger.WithField("pid", req.Pid).Warn("Minidump generation failed: %v", err)
		return &ipc.GenerateMinidumpReply{Error: err.Error()}, nil
	}
	return &ipc.GenerateMinidumpReply{Path: path}, nil
}

// WindowsErrorReporting handles an exception forwarded by the WER runtime
// by generating a minidump and registering it for transfer.
func (h *Helper) WindowsErrorReporting(ctx context.Context, req *ipc.WindowsErrorReporting) (*ipc.WindowsErrorReportingReply, error) {
	log := h.logger.WithFields(map[string]interface{}{"pid": req.Pid, "tid": req.ThreadID})
	rec, err := ipc.ParseExceptionRecord(req.ExceptionRecord)
	if err != nil {
		log.Warn("Bad exception record: %v", err)
		return &ipc.WindowsErrorReportingReply{Handled: false}, nil
	}
	log.Info("Exception %#08x at %#x", rec.Code, rec.Address)

	path, err := h.generator.GenerateMinidump(ctx, req.Pid, req.ThreadID, h.cfg.DumpDir)
	if err != nil {
		log.Warn("Minidump generation failed: %v", err)
		return &ipc.WindowsErrorReportingReply{Handled: false}, nil
	}
	h.registry.Register(req.Pid, path)
	return &ipc.WindowsErrorReportingReply{Handled: true}, nil
}

// Close releases the crash generation endpoint.
func (h *Helper) Close() error {
	h.mu.Lock()
	endpoint := h.endpoint
	h.endpoint = nil
	h.mu.Unlock()
	if endpoint != nil {
		return endpoint.Close()
	}
	return nil
}

func (h *Helper) analyze(ctx context.Context, dumpPath string) (*report.StackTraces, error) {
	return report.AnalyzeFile(ctx, dumpPath, report.ExtraPath(dumpPath), analyzer.Options{
		AllStacks: h.cfg.AllStacks,
		Workers:   h.cfg.Workers,
		Symbols:   h.cfg.Symbols,
		Logger:    h.logger,
	})
}

// moveToReportDir moves src and its .extra sidecar, if any, into the
// report directory.
func (h *Helper) moveToReportDir(src string) (string, error) {
	dir := h.ReportDir()
	if dir == "" || filepath.Dir(src) == filepath.Clean(dir) {
		return src, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	dest := filepath.Join(dir, filepath.Base(src))
	if err := moveFile(src, dest); err != nil {
		return "", err
	}
	extra := report.ExtraPath(src)
	if _, err := os.Stat(extra); err == nil {
		if err := moveFile(extra, report.ExtraPath(dest)); err != nil {
			h.logger.Warn("Failed to move %s: %v", extra, err)
		}
	}
	return dest, nil
}

// moveFile renames src to dest, copying across file systems.
func moveFile(src, dest string) error {
	err := os.Rename(src, dest)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return fmt.Errorf("move %s: %w", src, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
