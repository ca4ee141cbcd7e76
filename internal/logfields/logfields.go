package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRevision   = "revision"
	KeyRef        = "ref"
	KeyCommit     = "commit"
	KeyStage      = "stage"
	KeyPath       = "path"
	KeyOutput     = "output"
	KeyCommand    = "command"
	KeyDurationMS = "duration_ms"
	KeyBuildID    = "build_id"
	KeyPipelineID = "pipeline_id"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Revision(name string) slog.Attr  { return slog.String(KeyRevision, name) }
func Ref(ref string) slog.Attr        { return slog.String(KeyRef, ref) }
func Commit(hash string) slog.Attr    { return slog.String(KeyCommit, hash) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Output(p string) slog.Attr       { return slog.String(KeyOutput, p) }
func Command(cmd string) slog.Attr    { return slog.String(KeyCommand, cmd) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func BuildID(id string) slog.Attr     { return slog.String(KeyBuildID, id) }
func PipelineID(id string) slog.Attr  { return slog.String(KeyPipelineID, id) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
