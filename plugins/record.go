package plugins

import "time"

// ErrorLogCap bounds the per-plugin error_log FIFO, per spec.md §7
// ("bounded at ~100 entries").
const ErrorLogCap = 100

// Record is the manager's internal bookkeeping for one admitted plugin,
// matching spec.md §3's PluginRecord field-for-field. The Instance and
// Loader fields are opaque `any` here: the concrete plugin object and
// loader-owned OS handle are manager-internal and never exposed to other
// plugins (spec.md §3's ownership rule).
type Record struct {
	ID       string
	FilePath string
	Metadata *Metadata
	State    State

	LoadTime    time.Time
	LastError   *Error
	ErrorLog    []*Error
	TrustLevel  string

	Instance any
	Loader   any

	Configuration map[string]any
}

// AppendError records err, enforcing the bounded FIFO eviction spec.md §7
// requires, and sets LastError.
func (r *Record) AppendError(err *Error) {
	r.LastError = err
	r.ErrorLog = append(r.ErrorLog, err)
	if len(r.ErrorLog) > ErrorLogCap {
		r.ErrorLog = r.ErrorLog[len(r.ErrorLog)-ErrorLogCap:]
	}
}
