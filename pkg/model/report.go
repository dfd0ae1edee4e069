package model

import "time"

// CrashReport is the stored summary of an analyzed minidump.
type CrashReport struct {
	ID             int64     `json:"id"`
	TaskUUID       string    `json:"tid"`
	Status         string    `json:"status"`
	CrashType      string    `json:"crash_type"`
	CrashAddress   string    `json:"crash_address"`
	CrashingThread int       `json:"crashing_thread"`
	MainModule     string    `json:"main_module,omitempty"`
	Signature      string    `json:"signature"`
	Fingerprint    string    `json:"fingerprint"`
	// DuplicateOf is the task that first reported the same minidump.
	DuplicateOf    string    `json:"duplicate_of,omitempty"`
	ThreadCount    int       `json:"thread_count"`
	ModuleCount    int       `json:"module_count"`
	ResultFile     string    `json:"result_file"`
	AnalyzedAt     time.Time `json:"analyzed_at"`
}

// SignatureFrames is the number of top crashing-thread frames a
// signature is built from.
const SignatureFrames = 5
