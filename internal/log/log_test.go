package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recorder struct {
	lines []string
}

func (r *recorder) add(level, format string, args ...interface{}) {
	r.lines = append(r.lines, level+" "+fmt.Sprintf(format, args...))
}

func (r *recorder) Debugf(f string, a ...interface{})    { r.add("DEBUG", f, a...) }
func (r *recorder) Infof(f string, a ...interface{})     { r.add("INFO", f, a...) }
func (r *recorder) Warningf(f string, a ...interface{})  { r.add("WARNING", f, a...) }
func (r *recorder) Errorf(f string, a ...interface{})    { r.add("ERROR", f, a...) }
func (r *recorder) Criticalf(f string, a ...interface{}) { r.add("CRITICAL", f, a...) }
func (r *recorder) Shutdown()                            {}

func TestModeFiltering(t *testing.T) {
	rec := &recorder{}
	SetLogger(rec)
	defer SetLogger(nil)
	defer SetLogMode(Mode())

	SetLogMode(WarningMode)
	Debugf("d")
	Infof("i")
	Warningf("w %d", 1)
	Errorf("e")
	Criticalf("c")

	want := []string{"WARNING w 1", "ERROR e", "CRITICAL c"}
	if len(rec.lines) != len(want) {
		t.Fatalf("got %d lines %v, want %v", len(rec.lines), rec.lines, want)
	}
	for i := range want {
		if rec.lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, rec.lines[i], want[i])
		}
	}

	rec.lines = nil
	SetLogMode(SilentMode)
	Criticalf("dropped")
	if len(rec.lines) != 0 {
		t.Errorf("SilentMode still logged %v", rec.lines)
	}
}

func TestTimeLogAppendsElapsed(t *testing.T) {
	rec := &recorder{}
	SetLogger(rec)
	defer SetLogger(nil)
	defer SetLogMode(Mode())
	SetLogMode(DebugMode)

	NewTimeLog().Infof("read %d chunks", 3)
	if len(rec.lines) != 1 || !strings.HasPrefix(rec.lines[0], "INFO read 3 chunks: ") {
		t.Errorf("TimeLog output = %v", rec.lines)
	}
}

func TestLogConfigRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep.log")
	cfg := &LogConfig{Logfile: path, MaxSize: 1, MaxAge: 1}
	cfg.SetLogger()
	defer SetLogger(nil)
	defer SetLogMode(Mode())
	SetLogMode(InfoMode)

	Infof("offset table reconstructed")
	Shutdown()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "INFO offset table reconstructed") {
		t.Errorf("log file = %q", data)
	}
}

func TestLogConfigWithoutFileKeepsLogger(t *testing.T) {
	rec := &recorder{}
	SetLogger(rec)
	defer SetLogger(nil)

	var cfg *LogConfig
	cfg.SetLogger()
	(&LogConfig{}).SetLogger()

	mu.RLock()
	same := logger == Logger(rec)
	mu.RUnlock()
	if !same {
		t.Error("empty LogConfig replaced the logger")
	}
}
