// Package symbols implements stackwalk.SymbolProvider backends.
package symbols

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// maxLineSize bounds a single .sym record; FUNC names of templated C++
// code can be long.
const maxLineSize = 1 << 20

// Function is a FUNC record with its line records.
type Function struct {
	Address       uint64
	Size          uint64
	ParameterSize int
	Name          string
	Lines         []Line
}

// Line maps an address range to a source line.
type Line struct {
	Address uint64
	Size    uint64
	Line    int
	File    int
}

// Public is a PUBLIC record.
type Public struct {
	Address       uint64
	ParameterSize int
	Name          string
}

type cfiDelta struct {
	address uint64
	rules   string
}

type cfiRange struct {
	address uint64
	size    uint64
	rules   string
	deltas  []cfiDelta
}

// SymbolFile is a parsed Breakpad text symbol file. All addresses are
// relative to the module base.
type SymbolFile struct {
	OS        string
	Arch      string
	DebugID   string
	DebugFile string
	CodeID    string

	Files     map[int]string
	Functions []Function
	Publics   []Public

	cfi []cfiRange
}

// ParseSymbolFile reads a .sym file. Unknown records are ignored;
// malformed known records fail the parse.
func ParseSymbolFile(r io.Reader) (*SymbolFile, error) {
	s := &SymbolFile{Files: make(map[int]string)}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		if err := s.parseRecord(line); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read symbol file: %w", err)
	}
	if lineNo == 0 {
		return nil, fmt.Errorf("empty symbol file")
	}

	sort.Slice(s.Functions, func(i, j int) bool { return s.Functions[i].Address < s.Functions[j].Address })
	sort.Slice(s.Publics, func(i, j int) bool { return s.Publics[i].Address < s.Publics[j].Address })
	sort.Slice(s.cfi, func(i, j int) bool { return s.cfi[i].address < s.cfi[j].address })
	for i := range s.Functions {
		lines := s.Functions[i].Lines
		sort.Slice(lines, func(a, b int) bool { return lines[a].Address < lines[b].Address })
	}
	return s, nil
}

func (s *SymbolFile) parseRecord(line string) error {
	keyword, rest, _ := strings.Cut(line, " ")
	switch keyword {
	case "MODULE":
		// MODULE <os> <arch> <debug id> <debug file>
		f := strings.SplitN(rest, " ", 4)
		if len(f) != 4 {
			return fmt.Errorf("malformed MODULE record")
		}
		s.OS, s.Arch, s.DebugID, s.DebugFile = f[0], f[1], f[2], f[3]
	case "INFO":
		if kind, value, ok := strings.Cut(rest, " "); ok && kind == "CODE_ID" {
			s.CodeID, _, _ = strings.Cut(value, " ")
		}
	case "FILE":
		num, name, ok := strings.Cut(rest, " ")
		if !ok {
			return fmt.Errorf("malformed FILE record")
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return fmt.Errorf("FILE number: %w", err)
		}
		s.Files[n] = name
	case "FUNC":
		return s.parseFunc(rest)
	case "PUBLIC":
		return s.parsePublic(rest)
	case "STACK":
		return s.parseStack(rest)
	case "INLINE", "INLINE_ORIGIN":
	default:
		if isHex(keyword) {
			return s.parseLine(line)
		}
	}
	return nil
}

// stripMultiple removes the optional "m" flag of FUNC and PUBLIC records.
func stripMultiple(rest string) string {
	if strings.HasPrefix(rest, "m ") {
		return rest[2:]
	}
	return rest
}

func (s *SymbolFile) parseFunc(rest string) error {
	// FUNC [m] <address> <size> <param size> <name>
	f := strings.SplitN(stripMultiple(rest), " ", 4)
	if len(f) < 3 {
		return fmt.Errorf("malformed FUNC record")
	}
	addr, err1 := parseHex(f[0])
	size, err2 := parseHex(f[1])
	params, err3 := parseHex(f[2])
	if err := firstErr(err1, err2, err3); err != nil {
		return fmt.Errorf("FUNC: %w", err)
	}
	fn := Function{Address: addr, Size: size, ParameterSize: int(params)}
	if len(f) == 4 {
		fn.Name = f[3]
	}
	s.Functions = append(s.Functions, fn)
	return nil
}

func (s *SymbolFile) parseLine(line string) error {
	// <address> <size> <line> <file>
	if len(s.Functions) == 0 {
		return fmt.Errorf("line record outside FUNC")
	}
	f := strings.Fields(line)
	if len(f) != 4 {
		return fmt.Errorf("malformed line record")
	}
	addr, err1 := parseHex(f[0])
	size, err2 := parseHex(f[1])
	lineNo, err3 := strconv.Atoi(f[2])
	file, err4 := strconv.Atoi(f[3])
	if err := firstErr(err1, err2, err3, err4); err != nil {
		return fmt.Errorf("line record: %w", err)
	}
	fn := &s.Functions[len(s.Functions)-1]
	fn.Lines = append(fn.Lines, Line{Address: addr, Size: size, Line: lineNo, File: file})
	return nil
}

func (s *SymbolFile) parsePublic(rest string) error {
	// PUBLIC [m] <address> <param size> <name>
	f := strings.SplitN(stripMultiple(rest), " ", 3)
	if len(f) < 2 {
		return fmt.Errorf("malformed PUBLIC record")
	}
	addr, err1 := parseHex(f[0])
	params, err2 := parseHex(f[1])
	if err := firstErr(err1, err2); err != nil {
		return fmt.Errorf("PUBLIC: %w", err)
	}
	p := Public{Address: addr, ParameterSize: int(params)}
	if len(f) == 3 {
		p.Name = f[2]
	}
	s.Publics = append(s.Publics, p)
	return nil
}

func (s *SymbolFile) parseStack(rest string) error {
	kind, rest, _ := strings.Cut(rest, " ")
	if kind != "CFI" {
		// STACK WIN records need the Windows frame data evaluator.
		return nil
	}
	if after, ok := strings.CutPrefix(rest, "INIT "); ok {
		// STACK CFI INIT <address> <size> <rules>
		f := strings.SplitN(after, " ", 3)
		if len(f) != 3 {
			return fmt.Errorf("malformed STACK CFI INIT record")
		}
		addr, err1 := parseHex(f[0])
		size, err2 := parseHex(f[1])
		if err := firstErr(err1, err2); err != nil {
			return fmt.Errorf("STACK CFI INIT: %w", err)
		}
		s.cfi = append(s.cfi, cfiRange{address: addr, size: size, rules: f[2]})
		return nil
	}

	// STACK CFI <address> <rules>
	addrText, rules, ok := strings.Cut(rest, " ")
	if !ok {
		return fmt.Errorf("malformed STACK CFI record")
	}
	if len(s.cfi) == 0 {
		return fmt.Errorf("STACK CFI record before STACK CFI INIT")
	}
	addr, err := parseHex(addrText)
	if err != nil {
		return fmt.Errorf("STACK CFI: %w", err)
	}
	last := &s.cfi[len(s.cfi)-1]
	last.deltas = append(last.deltas, cfiDelta{address: addr, rules: rules})
	return nil
}

// FindFunction returns the function covering rva.
func (s *SymbolFile) FindFunction(rva uint64) *Function {
	i := sort.Search(len(s.Functions), func(i int) bool { return s.Functions[i].Address > rva })
	if i == 0 {
		return nil
	}
	fn := &s.Functions[i-1]
	if rva-fn.Address < fn.Size {
		return fn
	}
	return nil
}

// FindLine returns the line record of fn covering rva.
func (fn *Function) FindLine(rva uint64) *Line {
	i := sort.Search(len(fn.Lines), func(i int) bool { return fn.Lines[i].Address > rva })
	if i == 0 {
		return nil
	}
	l := &fn.Lines[i-1]
	if rva-l.Address < l.Size {
		return l
	}
	return nil
}

// FindPublic returns the nearest PUBLIC symbol at or below rva.
func (s *SymbolFile) FindPublic(rva uint64) *Public {
	i := sort.Search(len(s.Publics), func(i int) bool { return s.Publics[i].Address > rva })
	if i == 0 {
		return nil
	}
	return &s.Publics[i-1]
}

// CFIRules returns the register rules in effect at rva: the INIT rules of
// the covering range overridden by every delta at or below rva.
func (s *SymbolFile) CFIRules(rva uint64) (map[string]string, bool) {
	i := sort.Search(len(s.cfi), func(i int) bool { return s.cfi[i].address > rva })
	if i == 0 {
		return nil, false
	}
	r := &s.cfi[i-1]
	if rva-r.address >= r.size {
		return nil, false
	}
	rules := make(map[string]string)
	if err := parseRules(r.rules, rules); err != nil {
		return nil, false
	}
	for _, d := range r.deltas {
		if d.address > rva {
			break
		}
		if err := parseRules(d.rules, rules); err != nil {
			return nil, false
		}
	}
	return rules, true
}

// parseRules splits "reg: expr reg: expr" into rules.
func parseRules(text string, rules map[string]string) error {
	var reg string
	var expr []string
	flush := func() error {
		if reg == "" {
			return nil
		}
		if len(expr) == 0 {
			return fmt.Errorf("empty rule for %s", reg)
		}
		rules[reg] = strings.Join(expr, " ")
		return nil
	}
	for _, tok := range strings.Fields(text) {
		if name, ok := strings.CutSuffix(tok, ":"); ok {
			if err := flush(); err != nil {
				return err
			}
			reg, expr = name, nil
			continue
		}
		if reg == "" {
			return fmt.Errorf("expression before register name")
		}
		expr = append(expr, tok)
	}
	return flush()
}

func parseHex(s string) (uint64, error) {
	return strconv.ParseUint(s, 16, 64)
}

func isHex(s string) bool {
	_, err := parseHex(s)
	return err == nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
