package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyCourse     = "course"
	KeyCourseID   = "course_id"
	KeyRunID      = "run_id"
	KeyBranch     = "branch"
	KeyCommit     = "commit"
	KeyStage      = "stage"
	KeyAction     = "action"
	KeyTarget     = "target"
	KeyURL        = "url"
	KeyPath       = "path"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Course(key string) slog.Attr     { return slog.String(KeyCourse, key) }
func CourseID(id string) slog.Attr    { return slog.String(KeyCourseID, id) }
func RunID(id string) slog.Attr       { return slog.String(KeyRunID, id) }
func Branch(b string) slog.Attr       { return slog.String(KeyBranch, b) }
func Commit(c string) slog.Attr       { return slog.String(KeyCommit, c) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func Action(a string) slog.Attr       { return slog.String(KeyAction, a) }
func Target(t string) slog.Attr       { return slog.String(KeyTarget, t) }
func URL(u string) slog.Attr          { return slog.String(KeyURL, u) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
