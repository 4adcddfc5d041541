package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"

	"github.com/acolita/sdb/internal/engine"
	"github.com/acolita/sdb/internal/engine/delve"
)

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := Execute(context.Background(), args, &out, &errOut)
	return code, out.String(), ansi.Strip(errOut.String())
}

// =============================================================================
// Command line
// =============================================================================

func TestExecuteMissingProgram(t *testing.T) {
	for _, sub := range []string{"serve", "run"} {
		code, _, stderr := execute(t, sub)
		if code != 1 {
			t.Errorf("%s: exit code = %d, want 1", sub, code)
		}
		if !strings.HasPrefix(stderr, "Error: ") {
			t.Errorf("%s: stderr = %q, want Error: prefix", sub, stderr)
		}
	}
}

func TestExecuteNonexistentProgram(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "none.yaml")
	code, _, stderr := execute(t, "--config", cfgPath, "run", "/nonexistent/prog.go")
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if stderr != "Error: /nonexistent/prog.go does not exist\n" {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestExecuteInvalidLogLevel(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "none.yaml")
	code, _, stderr := execute(t, "--config", cfgPath, "--log-level", "loud", "connect", "6900")
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "logging.level") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestExecuteVersion(t *testing.T) {
	code, stdout, _ := execute(t, "--version")
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stdout, "version "+Version) {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sdb", "config.yaml")

	code, stdout, stderr := execute(t, "config", "init", path)
	if code != 0 {
		t.Fatalf("config init: exit %d, stderr %q", code, stderr)
	}
	if stdout != "wrote "+path+"\n" {
		t.Errorf("stdout = %q", stdout)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	if code, _, stderr := execute(t, "config", "init", path); code != 1 || !strings.Contains(stderr, "already exists") {
		t.Errorf("second init: exit %d, stderr %q", code, stderr)
	}
	if code, _, _ := execute(t, "config", "init", "--force", path); code != 0 {
		t.Errorf("init --force: exit %d", code)
	}

	code, stdout, _ = execute(t, "--config", path, "config", "show")
	if code != 0 {
		t.Fatalf("config show: exit %d", code)
	}
	if !strings.Contains(stdout, "context_lines: 60") {
		t.Errorf("config show = %q", stdout)
	}
}

func TestResolvedConfigPath(t *testing.T) {
	env := map[string]string{"SDB_CONFIG": "/env/sdb.yaml"}
	g := &globalOptions{lookupEnv: func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}}
	if got := g.resolvedConfigPath(); got != "/env/sdb.yaml" {
		t.Errorf("resolvedConfigPath() = %q, want env path", got)
	}
	g.configPath = "/flag/sdb.yaml"
	if got := g.resolvedConfigPath(); got != "/flag/sdb.yaml" {
		t.Errorf("resolvedConfigPath() = %q, want flag path", got)
	}
}

// =============================================================================
// Program and breakpoint arguments
// =============================================================================

func TestResolveProgram(t *testing.T) {
	dir := t.TempDir()
	write := func(name string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("x"), 0o755); err != nil {
			t.Fatal(err)
		}
		return p
	}
	mainGo := write("main.go")
	testGo := write("main_test.go")
	binary := write("app")

	tests := []struct {
		name        string
		arg         string
		pkg         bool
		wantMode    string
		wantProgram string
	}{
		{"directory", dir, false, delve.ModeDebug, dir},
		{"go file", mainGo, false, delve.ModeDebug, mainGo},
		{"test file", testGo, false, delve.ModeTest, dir},
		{"binary", binary, false, delve.ModeExec, binary},
		{"package path", "example.com/tool/cmd/tool", true, delve.ModeDebug, "example.com/tool/cmd/tool"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, program, err := resolveProgram(tt.arg, tt.pkg)
			if err != nil {
				t.Fatalf("resolveProgram() error = %v", err)
			}
			if mode != tt.wantMode || program != tt.wantProgram {
				t.Errorf("resolveProgram() = (%q, %q), want (%q, %q)", mode, program, tt.wantMode, tt.wantProgram)
			}
		})
	}

	if _, _, err := resolveProgram(filepath.Join(dir, "missing.go"), false); err == nil {
		t.Error("resolveProgram(missing) error = nil")
	}
}

func TestBreakpointSpecs(t *testing.T) {
	specs, err := breakpointSpecs(nil, false)
	if err != nil || len(specs) != 1 || specs[0].Function != "main.main" {
		t.Errorf("default specs = %+v, %v", specs, err)
	}
	specs, err = breakpointSpecs(nil, true)
	if err != nil || len(specs) != 0 {
		t.Errorf("stop-on-entry specs = %+v, %v", specs, err)
	}
	specs, err = breakpointSpecs([]string{"pkg.Run", "/src/a.go:7"}, false)
	if err != nil || len(specs) != 2 {
		t.Fatalf("specs = %+v, %v", specs, err)
	}
	if _, err := breakpointSpecs([]string{"12"}, false); err == nil {
		t.Error("bare line accepted")
	}
}

func TestParseBreakFlag(t *testing.T) {
	abs, _ := filepath.Abs("main.go")

	tests := []struct {
		in      string
		want    engine.BreakpointSpec
		wantErr bool
	}{
		{"main.go:12", engine.BreakpointSpec{File: abs, Line: 12}, false},
		{"/src/app/main.go:3, x > 1", engine.BreakpointSpec{File: "/src/app/main.go", Line: 3, Condition: "x > 1"}, false},
		{"main.main", engine.BreakpointSpec{Function: "main.main"}, false},
		{"(*Server).Run, err != nil", engine.BreakpointSpec{Function: "(*Server).Run", Condition: "err != nil"}, false},
		{"12", engine.BreakpointSpec{}, true},
		{"main.go:0", engine.BreakpointSpec{}, true},
		{"", engine.BreakpointSpec{}, true},
	}
	for _, tt := range tests {
		got, err := parseBreakFlag(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseBreakFlag(%q) error = nil", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseBreakFlag(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseBreakFlag(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestConnectAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"6900", "127.0.0.1:6900", false},
		{"remote:6901", "remote:6901", false},
		{":6902", "127.0.0.1:6902", false},
		{"0", "", true},
		{"99999", "", true},
		{"nope", "", true},
		{"host:port", "", true},
	}
	for _, tt := range tests {
		got, err := connectAddress(tt.in, "127.0.0.1")
		if (err != nil) != tt.wantErr {
			t.Errorf("connectAddress(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("connectAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoopCompleterWithoutLoop(t *testing.T) {
	var c loopCompleter
	if matches, n := c.Do([]rune("li"), 2); matches != nil || n != 0 {
		t.Errorf("Do() = %v, %d, want nil, 0", matches, n)
	}
}
