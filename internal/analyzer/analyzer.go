// Package analyzer turns a parsed minidump into a symbolized crash report.
package analyzer

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/crash-analysis/internal/minidump"
	"github.com/crash-analysis/internal/stackwalk"
	"github.com/crash-analysis/pkg/parallel"
	"github.com/crash-analysis/pkg/utils"
)

const tracerName = "github.com/crash-analysis/internal/analyzer"

// Options configures one analysis run.
type Options struct {
	// AllStacks unwinds every thread instead of only the crashing one.
	AllStacks bool
	// Workers bounds concurrent unwinds. Zero uses the pool default.
	Workers int
	// Symbols defaults to stackwalk.NoSymbols.
	Symbols stackwalk.SymbolProvider
	Logger  utils.Logger
}

// Preloader is implemented by symbol providers that can load the symbols
// of every module up front.
type Preloader interface {
	Load(ctx context.Context, modules []minidump.Module, workers int) int
}

// CrashReport is the result of analyzing one minidump.
type CrashReport struct {
	Status       stackwalk.CallStackInfo
	CPU          minidump.CPU
	OS           minidump.OS
	OSVersion    string
	CrashType    string
	CrashAddress uint64
	// CrashingThread indexes CallStacks, or is -1.
	CrashingThread int
	// MainModule indexes Modules, or is -1.
	MainModule int

	// Modules are ordered by base address with duplicates removed.
	Modules         []minidump.Module
	UnloadedModules []minidump.UnloadedModule
	CallStacks      []stackwalk.CallStack

	PID         uint32
	HasPID      bool
	ProcessTime time.Time
	DumpTime    time.Time
}

// ModuleIndex returns the index in Modules of the module based at base,
// or -1.
func (r *CrashReport) ModuleIndex(m *minidump.Module) int {
	if m == nil {
		return -1
	}
	i := sort.Search(len(r.Modules), func(i int) bool { return r.Modules[i].BaseOfImage >= m.BaseOfImage })
	if i < len(r.Modules) && r.Modules[i].BaseOfImage == m.BaseOfImage {
		return i
	}
	return -1
}

// CrashingStack returns the call stack of the crashing thread.
func (r *CrashReport) CrashingStack() *stackwalk.CallStack {
	if r.CrashingThread < 0 || r.CrashingThread >= len(r.CallStacks) {
		return nil
	}
	return &r.CallStacks[r.CrashingThread]
}

// threadTask is one unit of unwinding work.
type threadTask struct {
	thread *minidump.Thread
	// context overrides the thread's own context; set for the crashing
	// thread from the exception record.
	context    *minidump.Context
	contextErr error
	dumpThread bool
}

// Analyze builds the crash report of dump.
func Analyze(ctx context.Context, dump *minidump.Minidump, opts Options) (*CrashReport, error) {
	logger := opts.Logger
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	symbols := opts.Symbols
	if symbols == nil {
		symbols = stackwalk.NoSymbols{}
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "analyze")
	defer span.End()

	sysInfo, err := dump.SystemInfo()
	if err != nil {
		err = missingStream("SystemInfo", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	exc, err := dump.Exception()
	if err != nil {
		err = missingStream("Exception", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	threads := minidump.OrDefault(dump.ThreadList())
	moduleList := minidump.OrDefault(dump.ModuleList())
	memory := minidump.OrDefault(dump.MemoryList())
	unloaded := minidump.OrDefault(dump.UnloadedModuleList())
	names := minidump.OrDefault(dump.ThreadNames())

	report := &CrashReport{
		CPU:             sysInfo.CPU,
		OS:              sysInfo.PlatformID,
		OSVersion:       sysInfo.OSVersion(),
		CrashingThread:  -1,
		Modules:         dedupModules(moduleList.Modules),
		UnloadedModules: unloaded.Modules,
		DumpTime:        dump.Timestamp(),
	}
	report.MainModule = report.ModuleIndex(moduleList.MainModule())
	report.CrashType, report.CrashAddress = ClassifyCrash(sysInfo.PlatformID, exc)
	if misc, err := dump.MiscInfo(); err == nil {
		report.PID, report.HasPID = misc.PID()
		report.ProcessTime, _ = misc.CreateTime()
	}

	span.SetAttributes(
		attribute.String("crash.cpu", sysInfo.CPU.String()),
		attribute.String("crash.os", sysInfo.PlatformID.String()),
		attribute.String("crash.type", report.CrashType),
		attribute.Int("crash.threads", len(threads.Threads)),
	)

	if _, err := stackwalk.ArchFor(sysInfo.CPU); err != nil {
		logger.Warn("Cannot unwind %s dump: %v", sysInfo.CPU, err)
		report.Status = stackwalk.StatusUnsupportedCPU
		return report, nil
	}

	if p, ok := symbols.(Preloader); ok {
		loaded := p.Load(ctx, report.Modules, opts.Workers)
		logger.Debug("Loaded symbols for %d of %d modules", loaded, len(report.Modules))
	}

	tasks, crashing := selectThreads(threads, exc, sysInfo.CPU, opts.AllStacks)
	if bp, err := dump.BreakpadInfo(); err == nil {
		if id, ok := bp.DumpThread(); ok {
			for i := range tasks {
				// The thread that wrote the dump is never the crash.
				tasks[i].dumpThread = tasks[i].thread.ID == id && i != crashing
			}
		}
	}
	report.CrashingThread = crashing

	walkModules := minidump.NewModuleList(report.Modules)
	// Unwinding always runs to completion once started.
	results := parallel.Map(context.WithoutCancel(ctx), opts.Workers, tasks, func(ctx context.Context, task threadTask) (stackwalk.CallStack, error) {
		return unwind(ctx, task, unwindEnv{
			cpu:     sysInfo.CPU,
			os:      sysInfo.PlatformID,
			memory:  memory,
			modules: walkModules,
			symbols: symbols,
		}), nil
	})
	stats := parallel.Summarize(results)
	logger.Debug("Unwound %d threads, slowest took %s", stats.Jobs, stats.Slowest)

	report.CallStacks = make([]stackwalk.CallStack, len(results))
	for i, r := range results {
		report.CallStacks[i] = r.Value
		report.CallStacks[i].ThreadName = names.Name(r.Value.ThreadID)
	}

	report.Status = stackwalk.StatusOK
	if cs := report.CrashingStack(); cs != nil {
		switch cs.Status {
		case stackwalk.StatusMissingContext, stackwalk.StatusMissingMemory, stackwalk.StatusUnsupportedCPU:
			report.Status = cs.Status
		}
	}
	logger.Info("Analyzed crash %s at %#x: %d stacks, status %s",
		report.CrashType, report.CrashAddress, len(report.CallStacks), report.Status)
	span.SetAttributes(attribute.String("crash.status", report.Status.String()))
	return report, nil
}

// selectThreads returns the threads to unwind and the index of the
// crashing one among them. A crashing thread missing from the thread list
// is still unwound from the exception context, with its stack taken from
// the memory list.
func selectThreads(threads *minidump.ThreadList, exc *minidump.Exception, cpu minidump.CPU, all bool) ([]threadTask, int) {
	excContext, excErr := exc.Context(cpu)
	crashTask := func(t *minidump.Thread) threadTask {
		return threadTask{thread: t, context: excContext, contextErr: excErr}
	}
	listed, _, ok := threads.ByID(exc.ThreadID)
	if !ok {
		listed = &minidump.Thread{ID: exc.ThreadID}
	}

	if !all {
		return []threadTask{crashTask(listed)}, 0
	}

	tasks := make([]threadTask, 0, len(threads.Threads)+1)
	crashing := -1
	for i := range threads.Threads {
		t := &threads.Threads[i]
		if t.ID == exc.ThreadID && crashing < 0 {
			crashing = len(tasks)
			tasks = append(tasks, crashTask(t))
			continue
		}
		tasks = append(tasks, threadTask{thread: t})
	}
	if crashing < 0 {
		crashing = len(tasks)
		tasks = append(tasks, crashTask(listed))
	}
	return tasks, crashing
}

type unwindEnv struct {
	cpu     minidump.CPU
	os      minidump.OS
	memory  *minidump.MemoryList
	modules *minidump.ModuleList
	symbols stackwalk.SymbolProvider
}

func unwind(ctx context.Context, task threadTask, env unwindEnv) stackwalk.CallStack {
	_, span := otel.Tracer(tracerName).Start(ctx, "unwind",
		trace.WithAttributes(attribute.Int64("thread.id", int64(task.thread.ID))))
	defer span.End()

	cs := stackwalk.CallStack{ThreadID: task.thread.ID}
	if task.dumpThread {
		cs.Status = stackwalk.StatusDumpThreadSkipped
		return cs
	}

	threadCtx, err := task.context, task.contextErr
	if threadCtx == nil && err == nil {
		threadCtx, err = task.thread.Context(env.cpu)
	}
	if err != nil {
		cs.Status = stackwalk.StatusMissingContext
		if errors.Is(err, minidump.ErrUnsupportedCPU) {
			cs.Status = stackwalk.StatusUnsupportedCPU
		}
		span.SetAttributes(attribute.String("unwind.status", cs.Status.String()))
		return cs
	}

	stack := threadStack(task.thread, threadCtx, env)
	walker, err := stackwalk.NewWalker(stackwalk.Config{
		CPU:     env.cpu,
		OS:      env.os,
		Stack:   stack,
		Modules: env.modules,
		Symbols: env.symbols,
	})
	if err != nil {
		cs.Status = stackwalk.StatusUnsupportedCPU
		return cs
	}
	cs.Frames = walker.Walk(threadCtx)
	if stack == nil {
		cs.Status = stackwalk.StatusMissingMemory
	}
	span.SetAttributes(
		attribute.Int("unwind.frames", len(cs.Frames)),
		attribute.String("unwind.status", cs.Status.String()),
	)
	return cs
}

// threadStack returns the thread's stack memory, falling back to the
// memory list region holding its stack pointer.
func threadStack(t *minidump.Thread, ctx *minidump.Context, env unwindEnv) *minidump.MemoryRegion {
	if t.Stack != nil && len(t.Stack.Data) > 0 {
		return t.Stack
	}
	arch, err := stackwalk.ArchFor(env.cpu)
	if err != nil || arch.SP >= len(ctx.Registers) {
		return nil
	}
	return env.memory.RegionAt(ctx.Registers[arch.SP])
}

// dedupModules returns modules ordered by base address, keeping the first
// module seen at each base.
func dedupModules(modules []minidump.Module) []minidump.Module {
	out := make([]minidump.Module, len(modules))
	copy(out, modules)
	sort.SliceStable(out, func(i, j int) bool { return out[i].BaseOfImage < out[j].BaseOfImage })
	n := 0
	for i := range out {
		if n > 0 && out[n-1].BaseOfImage == out[i].BaseOfImage {
			continue
		}
		out[n] = out[i]
		n++
	}
	return out[:n]
}
