package report

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/crash-analysis/internal/analyzer"
	"github.com/crash-analysis/pkg/model"
)

// Fingerprint returns the hex blake3 digest of the raw minidump bytes.
func Fingerprint(dump []byte) string {
	sum := blake3.Sum256(dump)
	return hex.EncodeToString(sum[:])
}

// Signature joins the top frames of the crashing thread. Symbolized
// frames contribute the function name, others module+offset or the bare
// address.
func Signature(r *analyzer.CrashReport) string {
	cs := r.CrashingStack()
	if cs == nil {
		return ""
	}
	parts := make([]string, 0, model.SignatureFrames)
	for i := range cs.Frames {
		if len(parts) == model.SignatureFrames {
			break
		}
		f := &cs.Frames[i]
		switch {
		case f.Function != "":
			parts = append(parts, f.Function)
		case f.Module != nil:
			parts = append(parts, fmt.Sprintf("%s+%#x", f.Module.Filename(), f.IP()-f.Module.BaseOfImage))
		default:
			parts = append(parts, fmt.Sprintf("%#x", f.IP()))
		}
	}
	return strings.Join(parts, " | ")
}
