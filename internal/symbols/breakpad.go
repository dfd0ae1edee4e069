package symbols

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/crash-analysis/internal/minidump"
	"github.com/crash-analysis/internal/stackwalk"
	"github.com/crash-analysis/pkg/parallel"
	"github.com/crash-analysis/pkg/utils"
)

type loaded struct {
	once sync.Once
	file *SymbolFile
	err  error
}

// Breakpad serves symbols from a directory laid out as
// <root>/<debug file>/<debug id>/<debug file without .pdb>.sym.
// Files are parsed on first use and cached.
type Breakpad struct {
	root   string
	logger utils.Logger

	mu    sync.Mutex
	files map[string]*loaded
}

// NewBreakpad returns a provider rooted at dir.
func NewBreakpad(dir string, logger utils.Logger) *Breakpad {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	return &Breakpad{root: dir, logger: logger, files: make(map[string]*loaded)}
}

// FilePath returns where the symbol file of module would be.
func (b *Breakpad) FilePath(module *minidump.Module) (string, error) {
	if module == nil || module.DebugFile == "" || module.DebugID == "" {
		return "", stackwalk.ErrNoSymbols
	}
	return symbolPath(b.root, module.DebugFile, module.DebugID), nil
}

func symbolPath(root, debugFile, debugID string) string {
	name := debugFile
	if strings.EqualFold(filepath.Ext(name), ".pdb") {
		name = name[:len(name)-4]
	}
	return filepath.Join(root, debugFile, debugID, name+".sym")
}

// Load parses the symbol files of modules with up to workers goroutines.
// Missing files are skipped; it returns how many modules have symbols.
func (b *Breakpad) Load(ctx context.Context, modules []minidump.Module, workers int) int {
	ptrs := make([]*minidump.Module, len(modules))
	for i := range modules {
		ptrs[i] = &modules[i]
	}
	n, _ := parallel.ForEach(ctx, workers, ptrs, func(_ context.Context, m *minidump.Module) error {
		_, err := b.file(m)
		return err
	})
	return n
}

func (b *Breakpad) file(module *minidump.Module) (*SymbolFile, error) {
	path, err := b.FilePath(module)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	l, ok := b.files[path]
	if !ok {
		l = &loaded{}
		b.files[path] = l
	}
	b.mu.Unlock()

	l.once.Do(func() {
		l.file, l.err = readSymbolFile(path)
		switch {
		case errors.Is(l.err, os.ErrNotExist):
			l.err = stackwalk.ErrNoSymbols
		case l.err != nil:
			b.logger.Warn("Failed to load symbols for %s: %v", module.Filename(), l.err)
			l.err = fmt.Errorf("%w: %v", stackwalk.ErrNoSymbols, l.err)
		default:
			b.logger.Debug("Loaded symbols for %s from %s", module.Filename(), path)
		}
	})
	return l.file, l.err
}

func readSymbolFile(path string) (*SymbolFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseSymbolFile(f)
}

// FillSymbol implements stackwalk.SymbolProvider.
func (b *Breakpad) FillSymbol(module *minidump.Module, frame *stackwalk.StackFrame) error {
	sym, err := b.file(module)
	if err != nil {
		return err
	}
	if frame.Instruction < module.BaseOfImage {
		return nil
	}
	rva := frame.Instruction - module.BaseOfImage

	if fn := sym.FindFunction(rva); fn != nil {
		frame.Function = fn.Name
		frame.FunctionBase = module.BaseOfImage + fn.Address
		frame.ParameterBytes = fn.ParameterSize
		if line := fn.FindLine(rva); line != nil {
			frame.SourceFile = sym.Files[line.File]
			frame.SourceLine = line.Line
		}
		return nil
	}
	if pub := sym.FindPublic(rva); pub != nil {
		frame.Function = pub.Name
		frame.FunctionBase = module.BaseOfImage + pub.Address
		frame.ParameterBytes = pub.ParameterSize
	}
	return nil
}

// WalkFrame implements stackwalk.SymbolProvider by evaluating STACK CFI
// rules.
func (b *Breakpad) WalkFrame(module *minidump.Module, walker stackwalk.CFIWalker) bool {
	sym, err := b.file(module)
	if err != nil || walker.Instruction() < module.BaseOfImage {
		return false
	}
	rules, ok := sym.CFIRules(walker.Instruction() - module.BaseOfImage)
	if !ok {
		return false
	}
	cfaRule, ok := rules[".cfa"]
	if !ok {
		return false
	}
	raRule, ok := rules[".ra"]
	if !ok {
		return false
	}

	callee := &evaluator{lookup: walker.CalleeRegister, read: walker.ReadMemory}
	cfa, err := callee.eval(cfaRule)
	if err != nil {
		return false
	}
	caller := &evaluator{
		lookup: func(name string) (uint64, bool) {
			if name == ".cfa" {
				return cfa, true
			}
			return walker.CalleeRegister(name)
		},
		read: walker.ReadMemory,
	}
	ra, err := caller.eval(raRule)
	if err != nil {
		return false
	}

	for reg, rule := range rules {
		if reg == ".cfa" || reg == ".ra" {
			continue
		}
		name := strings.TrimPrefix(reg, "$")
		if v, err := caller.eval(rule); err == nil {
			walker.SetCallerRegister(name, v)
		} else {
			walker.ClearCallerRegister(name)
		}
	}
	walker.SetCFA(cfa)
	walker.SetRA(ra)
	return true
}

// Noop provides no symbols.
type Noop = stackwalk.NoSymbols
