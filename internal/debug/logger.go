// Package debug writes per-request dump files for diagnosing stream
// issues. Disabled loggers are no-ops so call sites stay unconditional.
package debug

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const baseDir = "debug-logs"

// maxDumpDirs bounds how many per-request dumps survive on disk.
const maxDumpDirs = 50

type Logger struct {
	enabled    bool
	sseEnabled bool
	dir        string
	sseFile    *os.File
	mu         sync.Mutex
	startTime  time.Time
}

// New creates a logger rooted at debug-logs/<timestamp>_<label>.
func New(enabled, sseEnabled bool, label string) *Logger {
	if !enabled {
		return &Logger{enabled: false}
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05.000")
	dir := filepath.Join(baseDir, timestamp+"_"+label)
	os.MkdirAll(dir, 0755)
	CleanupOldDirs(maxDumpDirs)

	return &Logger{
		enabled:    true,
		sseEnabled: sseEnabled,
		dir:        dir,
		startTime:  time.Now(),
	}
}

// CleanupAllLogs resets the dump directory at startup.
func CleanupAllLogs() {
	os.RemoveAll(baseDir)
	os.MkdirAll(baseDir, 0755)
}

func (l *Logger) Dir() string {
	if !l.enabled {
		return ""
	}
	return l.dir
}

// LogIncomingRequest dumps the client request as received.
func (l *Logger) LogIncomingRequest(req interface{}) {
	l.writeJSON("1_client_request.json", req)
}

// LogUpstreamRequest dumps the outgoing model call, key redacted.
func (l *Logger) LogUpstreamRequest(url, model string, body interface{}) {
	l.writeJSON("2_upstream_request.json", map[string]interface{}{
		"url":   url,
		"model": model,
		"body":  body,
	})
}

// LogUpstreamResponse dumps the raw model reply bytes.
func (l *Logger) LogUpstreamResponse(raw []byte) {
	if !l.enabled {
		return
	}
	os.WriteFile(filepath.Join(l.dir, "3_upstream_response.json"), raw, 0644)
}

// LogOutputSSE appends one emitted frame with its elapsed offset.
func (l *Logger) LogOutputSSE(event, data string) {
	if !l.enabled || !l.sseEnabled {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sseFile == nil {
		f, err := os.OpenFile(filepath.Join(l.dir, "4_client_sse.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return
		}
		l.sseFile = f
	}

	elapsed := time.Since(l.startTime).Milliseconds()
	fmt.Fprintf(l.sseFile, "[%dms] event: %s\ndata: %s\n\n", elapsed, event, data)
}

// LogSummary records the request outcome.
func (l *Logger) LogSummary(usedModel string, attempts int, duration time.Duration, outcome string) {
	l.writeJSON("5_summary.json", map[string]interface{}{
		"used_model":  usedModel,
		"attempts":    attempts,
		"duration_ms": duration.Milliseconds(),
		"outcome":     outcome,
	})
}

func (l *Logger) Close() {
	if !l.enabled {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sseFile != nil {
		l.sseFile.Close()
		l.sseFile = nil
	}
}

func (l *Logger) writeJSON(filename string, data interface{}) {
	if !l.enabled {
		return
	}
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return
	}
	os.WriteFile(filepath.Join(l.dir, filename), jsonData, 0644)
}

// CleanupOldDirs keeps only the newest maxKeep dump directories.
func CleanupOldDirs(maxKeep int) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return
	}

	var dirs []os.DirEntry
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e)
		}
	}

	if len(dirs) <= maxKeep {
		return
	}

	// Timestamped names sort newest-first in reverse order.
	sort.Slice(dirs, func(i, j int) bool {
		return dirs[i].Name() > dirs[j].Name()
	})

	for i := maxKeep; i < len(dirs); i++ {
		os.RemoveAll(filepath.Join(baseDir, dirs[i].Name()))
	}
}
