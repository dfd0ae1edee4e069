package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crash-analysis/internal/analyzer"
	"github.com/crash-analysis/internal/cache"
	"github.com/crash-analysis/internal/minidump"
	"github.com/crash-analysis/internal/report"
	"github.com/crash-analysis/internal/repository"
	"github.com/crash-analysis/internal/stackwalk"
	"github.com/crash-analysis/internal/storage"
	"github.com/crash-analysis/internal/symbols"
	"github.com/crash-analysis/pkg/compression"
	"github.com/crash-analysis/pkg/config"
	apperrors "github.com/crash-analysis/pkg/errors"
	"github.com/crash-analysis/pkg/model"
	"github.com/crash-analysis/pkg/utils"
)

// maxExtraSize bounds the downloaded .extra document.
const maxExtraSize = 4 << 20

// Notifier is told about every stored report.
type Notifier interface {
	Analyzed(ctx context.Context, report *model.CrashReport) error
}

// DefaultTaskProcessor analyzes uploaded minidumps.
type DefaultTaskProcessor struct {
	config   *config.Config
	storage  storage.Storage
	repos    *repository.Repositories
	cache    cache.Cache
	notifier Notifier
	logger   utils.Logger
}

// ProcessorConfig holds processor configuration. Cache and Notifier are
// optional.
type ProcessorConfig struct {
	Config   *config.Config
	Storage  storage.Storage
	Repos    *repository.Repositories
	Cache    cache.Cache
	Notifier Notifier
	Logger   utils.Logger
}

// NewDefaultTaskProcessor creates a new DefaultTaskProcessor.
func NewDefaultTaskProcessor(cfg *ProcessorConfig) *DefaultTaskProcessor {
	if cfg.Logger == nil {
		cfg.Logger = utils.NewDefaultLogger(utils.LevelInfo, nil)
	}
	if cfg.Config == nil {
		cfg.Config = config.Default()
	}
	return &DefaultTaskProcessor{
		config:   cfg.Config,
		storage:  cfg.Storage,
		repos:    cfg.Repos,
		cache:    cfg.Cache,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
	}
}

// Process downloads, analyzes and stores the report of one task. On
// success the task is marked completed.
func (p *DefaultTaskProcessor) Process(ctx context.Context, task *Task) error {
	p.logger.Info("Starting analysis for task %s (platform %s)", task.UUID, task.Platform)

	raw, err := p.download(ctx, task)
	if err != nil {
		return err
	}

	dump, err := minidump.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse minidump: %w", err)
	}
	r, err := analyzer.Analyze(ctx, dump, p.analyzerOptions(task))
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}
	st := report.Build(r)

	var extra []byte
	if task.ExtraKey != "" {
		extra, err = storage.ReadAll(ctx, p.storage, task.ExtraKey, maxExtraSize)
		if err != nil {
			return fmt.Errorf("download extra document: %w", err)
		}
	}
	doc, err := report.Merge(extra, st)
	if err != nil {
		return fmt.Errorf("merge report: %w", err)
	}

	key := model.NewCrashTask(task.UUID, task.DumpKey, task.Platform).ResultKey()
	if err := p.storage.Upload(ctx, key, bytes.NewReader(doc)); err != nil {
		return fmt.Errorf("upload report: %w", err)
	}

	rec := summarize(task, r, st, raw, key)
	p.markDuplicate(ctx, rec)
	if err := p.repos.Report.SaveReport(ctx, rec); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	if err := p.repos.Task.SetResultFile(ctx, task.ID, key); err != nil {
		return fmt.Errorf("failed to set result file: %w", err)
	}
	if err := p.repos.Task.UpdateAnalysisStatus(ctx, task.ID, model.AnalysisStatusCompleted); err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}

	if p.notifier != nil {
		if err := p.notifier.Analyzed(ctx, rec); err != nil {
			p.logger.Warn("Failed to publish analysis of task %s: %v", task.UUID, err)
		}
	}

	p.logger.Info("Task %s analysis completed: %s (%s)", task.UUID, st.Status, r.CrashType)
	return nil
}

// markDuplicate sets rec.DuplicateOf to the first task that uploaded the
// same minidump. Lookup failures leave the report unmarked.
func (p *DefaultTaskProcessor) markDuplicate(ctx context.Context, rec *model.CrashReport) {
	key := cache.FingerprintKey(rec.Fingerprint)
	if p.cache != nil {
		first, err := p.cache.Get(ctx, key)
		if err == nil {
			if first != rec.TaskUUID {
				rec.DuplicateOf = first
			}
			return
		}
		if !errors.Is(err, cache.ErrMiss) {
			p.logger.Warn("Fingerprint cache lookup failed: %v", err)
		}
	}

	prev, err := p.repos.Report.FindByFingerprint(ctx, rec.Fingerprint, 1)
	if err != nil {
		p.logger.Warn("Fingerprint lookup failed: %v", err)
		return
	}
	first := rec.TaskUUID
	if len(prev) > 0 {
		switch {
		case prev[0].DuplicateOf != "":
			first = prev[0].DuplicateOf
		case prev[0].TaskUUID != rec.TaskUUID:
			first = prev[0].TaskUUID
		}
	}
	if first != rec.TaskUUID {
		rec.DuplicateOf = first
	}
	if p.cache != nil {
		if err := p.cache.Set(ctx, key, first); err != nil {
			p.logger.Warn("Fingerprint cache update failed: %v", err)
		}
	}
}

// download fetches and decompresses the minidump.
func (p *DefaultTaskProcessor) download(ctx context.Context, task *Task) ([]byte, error) {
	data, err := storage.ReadAll(ctx, p.storage, task.DumpKey, p.config.Analysis.MaxDumpSize)
	if err != nil {
		return nil, fmt.Errorf("failed to download minidump: %w", err)
	}
	if len(data) == 0 {
		return nil, apperrors.ErrEmptyFile
	}
	data, kind, err := compression.AutoDecompress(data)
	if err != nil {
		return nil, fmt.Errorf("decompress minidump: %w", err)
	}
	if kind != compression.TypeNone {
		p.logger.Debug("Task %s minidump was %s compressed", task.UUID, kind)
	}
	if len(data) == 0 {
		return nil, apperrors.ErrEmptyFile
	}
	return data, nil
}

func (p *DefaultTaskProcessor) analyzerOptions(task *Task) analyzer.Options {
	opts := analyzer.Options{
		AllStacks: task.Options.AllThreads || p.config.Analysis.AllThreads,
		Workers:   p.config.Analysis.Workers,
		Symbols:   stackwalk.NoSymbols{},
		Logger:    p.logger.WithField("uuid", task.UUID),
	}
	dir := task.Options.SymbolsDir
	if dir == "" {
		dir = p.config.Analysis.SymbolsDir
	}
	if dir != "" {
		opts.Symbols = symbols.NewBreakpad(dir, opts.Logger)
	}
	return opts
}

func summarize(task *Task, r *analyzer.CrashReport, st *report.StackTraces, raw []byte, key string) *model.CrashReport {
	rec := &model.CrashReport{
		TaskUUID:       task.UUID,
		Status:         st.Status,
		CrashType:      r.CrashType,
		CrashAddress:   st.CrashInfo.Address,
		CrashingThread: r.CrashingThread,
		Signature:      report.Signature(r),
		Fingerprint:    report.Fingerprint(raw),
		ThreadCount:    len(r.CallStacks),
		ModuleCount:    len(r.Modules),
		ResultFile:     key,
		AnalyzedAt:     time.Now(),
	}
	if r.MainModule >= 0 {
		rec.MainModule = r.Modules[r.MainModule].Filename()
	}
	return rec
}
