// Package report renders crash reports into the StackTraces document and
// merges it into the crash's .extra sidecar.
package report

import (
	"fmt"
	"strings"

	"github.com/crash-analysis/internal/analyzer"
	"github.com/crash-analysis/internal/minidump"
)

// Key is the top-level key of the report in the .extra document.
const Key = "StackTraces"

// StackTraces is the report document.
type StackTraces struct {
	Status          string           `json:"status"`
	CrashInfo       CrashInfo        `json:"crash_info"`
	MainModule      *int             `json:"main_module,omitempty"`
	Modules         []Module         `json:"modules"`
	UnloadedModules []UnloadedModule `json:"unloaded_modules"`
	Threads         []Thread         `json:"threads"`
}

// CrashInfo describes the exception.
type CrashInfo struct {
	Type           string `json:"type,omitempty"`
	Address        string `json:"address,omitempty"`
	CrashingThread *int   `json:"crashing_thread,omitempty"`
}

// Module is a loaded module.
type Module struct {
	BaseAddr  string `json:"base_addr"`
	EndAddr   string `json:"end_addr"`
	Filename  string `json:"filename,omitempty"`
	CodeID    string `json:"code_id,omitempty"`
	DebugFile string `json:"debug_file,omitempty"`
	DebugID   string `json:"debug_id,omitempty"`
	Version   string `json:"version,omitempty"`
}

// UnloadedModule is a module unloaded before the crash.
type UnloadedModule struct {
	BaseAddr string `json:"base_addr"`
	EndAddr  string `json:"end_addr"`
	Filename string `json:"filename,omitempty"`
}

// Thread is one unwound call stack.
type Thread struct {
	Frames []Frame `json:"frames"`
}

// Frame is one stack frame.
type Frame struct {
	IP             string `json:"ip"`
	ModuleIndex    *int   `json:"module_index,omitempty"`
	Trust          string `json:"trust"`
	Function       string `json:"function,omitempty"`
	FunctionOffset string `json:"function_offset,omitempty"`
}

func hexAddr(v uint64) string { return fmt.Sprintf("%#x", v) }

func index(i int) *int {
	if i < 0 {
		return nil
	}
	return &i
}

// Build renders r.
func Build(r *analyzer.CrashReport) *StackTraces {
	st := &StackTraces{
		Status: r.Status.String(),
		CrashInfo: CrashInfo{
			Type:           r.CrashType,
			Address:        hexAddr(r.CrashAddress),
			CrashingThread: index(r.CrashingThread),
		},
		MainModule:      index(r.MainModule),
		Modules:         make([]Module, 0, len(r.Modules)),
		UnloadedModules: make([]UnloadedModule, 0, len(r.UnloadedModules)),
		Threads:         make([]Thread, 0, len(r.CallStacks)),
	}

	for i := range r.Modules {
		st.Modules = append(st.Modules, buildModule(&r.Modules[i]))
	}
	for _, m := range r.UnloadedModules {
		st.UnloadedModules = append(st.UnloadedModules, UnloadedModule{
			BaseAddr: hexAddr(m.BaseOfImage),
			EndAddr:  hexAddr(m.End()),
			Filename: basename(m.Name),
		})
	}
	for _, cs := range r.CallStacks {
		t := Thread{Frames: make([]Frame, 0, len(cs.Frames))}
		for _, f := range cs.Frames {
			frame := Frame{
				IP:          hexAddr(f.IP()),
				ModuleIndex: index(r.ModuleIndex(f.Module)),
				Trust:       f.Trust.String(),
				Function:    f.Function,
			}
			if f.Function != "" && f.IP() >= f.FunctionBase {
				frame.FunctionOffset = hexAddr(f.IP() - f.FunctionBase)
			}
			t.Frames = append(t.Frames, frame)
		}
		st.Threads = append(st.Threads, t)
	}
	return st
}

func buildModule(m *minidump.Module) Module {
	return Module{
		BaseAddr:  hexAddr(m.BaseOfImage),
		EndAddr:   hexAddr(m.End()),
		Filename:  m.Filename(),
		CodeID:    m.CodeID,
		DebugFile: m.DebugFile,
		DebugID:   m.DebugID,
		Version:   m.Version(),
	}
}

func basename(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}
