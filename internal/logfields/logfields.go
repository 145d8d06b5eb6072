package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyProjectID    = "project_id"
	KeyDeploymentID = "deployment_id"
	KeyJobStatus    = "job_status"
	KeyStage        = "stage"
	KeyReason       = "reason"
	KeyDurationMS   = "duration_ms"
	KeyStream       = "stream"
	KeyExitCode     = "exit_code"
	KeyCommand      = "command"
	KeyPath         = "path"
	KeyFile         = "file"
	KeyKey          = "key"
	KeySlug         = "slug"
	KeyTarget       = "target"
	KeyMethod       = "method"
	KeyStatus       = "status"
	KeyUserAgent    = "user_agent"
	KeyRemoteAddr   = "remote_addr"
	KeyURL          = "url"
	KeySubject      = "subject"
	KeyRequestID    = "request_id"
	KeyError        = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func ProjectID(id string) slog.Attr    { return slog.String(KeyProjectID, id) }
func DeploymentID(id string) slog.Attr { return slog.String(KeyDeploymentID, id) }
func JobStatus(s string) slog.Attr     { return slog.String(KeyJobStatus, s) }
func Stage(name string) slog.Attr      { return slog.String(KeyStage, name) }
func Reason(r string) slog.Attr        { return slog.String(KeyReason, r) }
func DurationMS(ms float64) slog.Attr  { return slog.Float64(KeyDurationMS, ms) }
func Stream(s string) slog.Attr        { return slog.String(KeyStream, s) }
func ExitCode(c int) slog.Attr         { return slog.Int(KeyExitCode, c) }
func Command(c string) slog.Attr       { return slog.String(KeyCommand, c) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func File(f string) slog.Attr          { return slog.String(KeyFile, f) }
func Key(k string) slog.Attr           { return slog.String(KeyKey, k) }
func Slug(s string) slog.Attr          { return slog.String(KeySlug, s) }
func Target(t string) slog.Attr        { return slog.String(KeyTarget, t) }
func Method(m string) slog.Attr        { return slog.String(KeyMethod, m) }
func Status(code int) slog.Attr        { return slog.Int(KeyStatus, code) }
func UserAgent(ua string) slog.Attr    { return slog.String(KeyUserAgent, ua) }
func RemoteAddr(a string) slog.Attr    { return slog.String(KeyRemoteAddr, a) }
func URL(u string) slog.Attr           { return slog.String(KeyURL, u) }
func Subject(s string) slog.Attr       { return slog.String(KeySubject, s) }
func RequestID(id string) slog.Attr    { return slog.String(KeyRequestID, id) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
