// Package model defines the core data structures used throughout the application.
package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Platform is the operating system a crash was captured on.
type Platform int

const (
	PlatformUnknown Platform = 0
	PlatformLinux   Platform = 1
	PlatformWindows Platform = 2
	PlatformMacOS   Platform = 3
	PlatformAndroid Platform = 4
)

// String returns the string representation of Platform.
func (p Platform) String() string {
	switch p {
	case PlatformLinux:
		return "linux"
	case PlatformWindows:
		return "windows"
	case PlatformMacOS:
		return "macos"
	case PlatformAndroid:
		return "android"
	default:
		return "unknown"
	}
}

// ParsePlatform maps a platform name, as reported by crash clients, to a
// Platform. Unrecognized names are PlatformUnknown.
func ParsePlatform(name string) Platform {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "linux":
		return PlatformLinux
	case "windows", "win32", "windows nt":
		return PlatformWindows
	case "macos", "mac", "darwin", "mac os x":
		return PlatformMacOS
	case "android":
		return PlatformAndroid
	default:
		return PlatformUnknown
	}
}

// AnalysisStatus represents the analysis status.
type AnalysisStatus int

const (
	AnalysisStatusPending   AnalysisStatus = 0 // Not started
	AnalysisStatusRunning   AnalysisStatus = 1 // Running
	AnalysisStatusCompleted AnalysisStatus = 2 // Completed
	AnalysisStatusFailed    AnalysisStatus = 3 // Failed
	AnalysisStatusEmpty     AnalysisStatus = 5 // Empty upload
)

// String returns the string representation of AnalysisStatus.
func (s AnalysisStatus) String() string {
	switch s {
	case AnalysisStatusPending:
		return "pending"
	case AnalysisStatusRunning:
		return "running"
	case AnalysisStatusCompleted:
		return "completed"
	case AnalysisStatusFailed:
		return "failed"
	case AnalysisStatusEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further processing happens in this status.
func (s AnalysisStatus) IsTerminal() bool {
	return s == AnalysisStatusCompleted || s == AnalysisStatusFailed || s == AnalysisStatusEmpty
}

// CrashTask is one uploaded minidump waiting for, or done with, analysis.
type CrashTask struct {
	ID             int64          `json:"id"`
	TaskUUID       string         `json:"tid"`
	Product        string         `json:"product"`
	Version        string         `json:"version"`
	ReleaseChannel string         `json:"release_channel"`
	Platform       Platform       `json:"platform"`
	AnalysisStatus AnalysisStatus `json:"analysis_status"`
	StatusInfo     string         `json:"status_info"`
	// DumpKey and ExtraKey are storage keys of the minidump and its
	// optional .extra sidecar.
	DumpKey    string      `json:"dump_key"`
	ExtraKey   string      `json:"extra_key,omitempty"`
	ResultFile string      `json:"result_file"`
	Options    TaskOptions `json:"options"`
	CreateTime time.Time   `json:"create_time"`
	BeginTime  *time.Time  `json:"begin_time"`
	EndTime    *time.Time  `json:"end_time"`
}

// TaskOptions holds per-task analysis options.
type TaskOptions struct {
	AllThreads bool   `json:"all_threads,omitempty"`
	SymbolsDir string `json:"symbols_dir,omitempty"`
	// Priority tasks are fetched before older ones.
	Priority bool `json:"priority,omitempty"`
}

// UnmarshalJSON accepts an empty string as no options.
func (o *TaskOptions) UnmarshalJSON(data []byte) error {
	if string(data) == `""` || string(data) == "null" {
		*o = TaskOptions{}
		return nil
	}
	type alias TaskOptions
	*o = TaskOptions{}
	return json.Unmarshal(data, (*alias)(o))
}

// HasExtra reports whether the task carries a sidecar document.
func (t *CrashTask) HasExtra() bool {
	return t.ExtraKey != ""
}

// ResultKey returns the storage key the task's report is uploaded to.
func (t *CrashTask) ResultKey() string {
	return t.TaskUUID + "/report.json"
}

// NewCrashTask creates a pending task for an uploaded minidump.
func NewCrashTask(taskUUID, dumpKey string, platform Platform) *CrashTask {
	return &CrashTask{
		TaskUUID:       taskUUID,
		DumpKey:        dumpKey,
		Platform:       platform,
		AnalysisStatus: AnalysisStatusPending,
		CreateTime:     time.Now(),
	}
}
