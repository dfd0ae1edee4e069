package ipc

// Message is one of the protocol's message types. The set is closed.
type Message interface {
	Kind() Kind
	encode(w *payloadWriter)
}

// Initialize tells the helper where reports go and hands it the endpoint of
// the crash generation server.
type Initialize struct {
	Path           string
	PlatformData   []byte
	ReleaseChannel string
	Endpoint       *AncillaryData
}

// InitializeReply carries the helper's process id.
type InitializeReply struct {
	Pid uint32
}

// TransferMinidump asks for the minidump written for a crashed process.
type TransferMinidump struct {
	Pid uint32
}

// TransferMinidumpReply carries the minidump path, or an error description
// when Path is empty.
type TransferMinidumpReply struct {
	Path  string
	Error string
}

// GenerateMinidump asks the helper to capture a minidump of a live process.
type GenerateMinidump struct {
	Pid      uint32
	ThreadID uint32
}

// GenerateMinidumpReply carries the generated path or an error description.
type GenerateMinidumpReply struct {
	Path  string
	Error string
}

// WindowsErrorReporting forwards an exception caught by the Windows Error
// Reporting runtime. ExceptionRecord and Context are the raw
// EXCEPTION_RECORD64 and CONTEXT bytes of the faulting thread.
type WindowsErrorReporting struct {
	Pid             uint32
	ThreadID        uint32
	ExceptionRecord []byte
	Context         []byte
}

// WindowsErrorReportingReply tells the runtime whether the crash was handled.
type WindowsErrorReportingReply struct {
	Handled bool
}

func (*Initialize) Kind() Kind                 { return KindInitialize }
func (*InitializeReply) Kind() Kind            { return KindInitializeReply }
func (*TransferMinidump) Kind() Kind           { return KindTransferMinidump }
func (*TransferMinidumpReply) Kind() Kind      { return KindTransferMinidumpReply }
func (*GenerateMinidump) Kind() Kind           { return KindGenerateMinidump }
func (*GenerateMinidumpReply) Kind() Kind      { return KindGenerateMinidumpReply }
func (*WindowsErrorReporting) Kind() Kind      { return KindWindowsErrorReporting }
func (*WindowsErrorReportingReply) Kind() Kind { return KindWindowsErrorReportingReply }

func (m *Initialize) encode(w *payloadWriter) {
	w.str(m.Path)
	w.bytes(m.PlatformData)
	w.str(m.ReleaseChannel)
}

func (m *InitializeReply) encode(w *payloadWriter) {
	w.u32(m.Pid)
}

func (m *TransferMinidump) encode(w *payloadWriter) {
	w.u32(m.Pid)
}

func (m *TransferMinidumpReply) encode(w *payloadWriter) {
	w.str(m.Path)
	w.str(m.Error)
}

func (m *GenerateMinidump) encode(w *payloadWriter) {
	w.u32(m.Pid)
	w.u32(m.ThreadID)
}

func (m *GenerateMinidumpReply) encode(w *payloadWriter) {
	w.str(m.Path)
	w.str(m.Error)
}

func (m *WindowsErrorReporting) encode(w *payloadWriter) {
	w.u32(m.Pid)
	w.u32(m.ThreadID)
	w.bytes(m.ExceptionRecord)
	w.bytes(m.Context)
}

func (m *WindowsErrorReportingReply) encode(w *payloadWriter) {
	w.boolean(m.Handled)
}
