package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/yuin/goldmark"

	"git.home.luguber.info/inful/coursesync/internal/logfields"
	"git.home.luguber.info/inful/coursesync/internal/state"
)

// routes builds the daemon's HTTP mux.
func (d *Daemon) routes(metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", d.handleHealth)
	mux.HandleFunc("GET /status", d.handleStatus)
	mux.HandleFunc("GET /courses/{key}", d.handleCoursePage)
	mux.HandleFunc("POST /hooks/{key}", d.handleHook)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}
	return mux
}

func (d *Daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"status": "ok",
		"uptime": time.Since(d.startTime).Round(time.Second).String(),
	})
}

// statusResponse is the /status payload.
type statusResponse struct {
	Courses       int         `json:"courses"`
	Uptime        string      `json:"uptime"`
	WorkingCopies []string    `json:"working_copies"`
	RecentRuns    []runStatus `json:"recent_runs"`
}

type runStatus struct {
	ID         string    `json:"id"`
	Key        string    `json:"key"`
	Branch     string    `json:"branch"`
	Commit     string    `json:"commit,omitempty"`
	SyncAction string    `json:"sync_action,omitempty"`
	BuildRan   bool      `json:"build_ran"`
	BuildOK    bool      `json:"build_ok"`
	Published  bool      `json:"published"`
	Target     string    `json:"target,omitempty"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Courses:       len(d.config().Courses),
		Uptime:        time.Since(d.startTime).Round(time.Second).String(),
		WorkingCopies: []string{},
		RecentRuns:    []runStatus{},
	}
	copies, err := d.workspace.Keys()
	if err != nil {
		slog.Warn("Failed to list working copies", logfields.Error(err))
	}
	resp.WorkingCopies = append(resp.WorkingCopies, copies...)
	if d.store != nil {
		runs, err := d.store.Recent(r.Context(), 50)
		if err != nil {
			slog.Error("Failed to read recent runs", logfields.Error(err))
			http.Error(w, "failed to read run history", http.StatusInternalServerError)
			return
		}
		for _, run := range runs {
			resp.RecentRuns = append(resp.RecentRuns, toRunStatus(run))
		}
	}
	writeJSON(w, resp)
}

func toRunStatus(run state.Run) runStatus {
	return runStatus{
		ID:         run.ID,
		Key:        run.Key,
		Branch:     run.Branch,
		Commit:     run.Commit,
		SyncAction: run.SyncAction,
		BuildRan:   run.BuildRan,
		BuildOK:    run.BuildOK,
		Published:  run.Published,
		Target:     run.Target,
		Error:      run.Error,
		FinishedAt: run.FinishedAt,
	}
}

// handleCoursePage renders a small HTML page for one course: its README (if
// the working copy has one) plus the last recorded run.
func (d *Daemon) handleCoursePage(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	crs, ok := d.config().CourseByKey(key)
	if !ok {
		http.Error(w, "unknown course", http.StatusNotFound)
		return
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "<!DOCTYPE html><html><head><title>%s</title></head><body>\n", html.EscapeString(crs.Key))
	fmt.Fprintf(&buf, "<h1>%s</h1>\n", html.EscapeString(crs.Key))
	fmt.Fprintf(&buf, "<p>Repository: %s (branch %s)</p>\n", html.EscapeString(crs.URL), html.EscapeString(crs.Branch))
	if !d.workspace.Exists(crs.Key) {
		buf.WriteString("<p>No working copy yet.</p>\n")
	}

	if d.store != nil {
		run, found, err := d.store.LastRun(r.Context(), crs.Key)
		if err != nil {
			slog.Error("Failed to read last run", logfields.Course(crs.Key), logfields.Error(err))
		} else if found {
			fmt.Fprintf(&buf, "<p>Last run %s: action=%s commit=%s published=%t",
				run.FinishedAt.Format(time.RFC3339),
				html.EscapeString(run.SyncAction),
				html.EscapeString(run.Commit),
				run.Published)
			if run.Error != "" {
				fmt.Fprintf(&buf, " error=%s", html.EscapeString(run.Error))
			}
			buf.WriteString("</p>\n")
		}
	}

	readmePath := filepath.Join(d.workspace.CoursePath(crs.Key), "README.md")
	if source, err := os.ReadFile(readmePath); err == nil {
		buf.WriteString("<hr/>\n")
		md := goldmark.New()
		if err := md.Convert(source, &buf); err != nil {
			slog.Warn("Failed to render course README", logfields.Course(crs.Key), logfields.Error(err))
		}
	}

	buf.WriteString("</body></html>\n")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleHook triggers an asynchronous sync for the named course, typically
// from a forge push webhook. The run itself is not awaited.
func (d *Daemon) handleHook(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	// The run outlives this request; detach it from the request context.
	if err := d.TriggerCourse(context.WithoutCancel(r.Context()), key); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]string{"status": "accepted", "course": key})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", logfields.Error(err))
	}
}
