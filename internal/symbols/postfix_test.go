package symbols

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluator(t *testing.T) {
	regs := map[string]uint64{"rsp": 0x1000, "rbp": 0x1020, ".cfa": 0x2000}
	mem := make([]byte, 16)
	binary.LittleEndian.PutUint64(mem[8:], 0xfeed)
	e := &evaluator{
		lookup: func(name string) (uint64, bool) { v, ok := regs[name]; return v, ok },
		read: func(addr uint64) (uint64, bool) {
			if addr < 0x1000 || addr+8 > 0x1010 {
				return 0, false
			}
			return binary.LittleEndian.Uint64(mem[addr-0x1000:]), true
		},
	}

	tests := []struct {
		expr    string
		want    uint64
		wantErr bool
	}{
		{expr: "$rsp 8 +", want: 0x1008},
		{expr: "$rsp 16 + -8 + ^", want: 0xfeed},
		{expr: ".cfa 0x10 -", want: 0x1ff0},
		{expr: "$rbp 16 @", want: 0x1020},
		{expr: "$rbp 7 +  16 @", want: 0x1020},
		{expr: "6 4 /", want: 1},
		{expr: "7 4 %", want: 3},
		{expr: "3 4 *", want: 12},
		{expr: "1 2 -", want: ^uint64(0)},
		{expr: "$rsp", want: 0x1000},
		{expr: "$rax", wantErr: true},
		{expr: "$rsp +", wantErr: true},
		{expr: "1 2", wantErr: true},
		{expr: "1 0 /", wantErr: true},
		{expr: "8 3 @", wantErr: true},
		{expr: "$rbp ^", wantErr: true},
		{expr: "^", wantErr: true},
		{expr: "12z", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := e.eval(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
