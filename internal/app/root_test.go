package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// runCLI executes the root command with args against fresh flag values and
// returns what it wrote to stdout.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	resetFlags(RootCmd)

	var stdout, stderr bytes.Buffer
	RootCmd.SetArgs(args)
	RootCmd.SetIn(strings.NewReader(stdin))
	RootCmd.SetOut(&stdout)
	RootCmd.SetErr(&stderr)
	t.Cleanup(func() {
		RootCmd.SetArgs(nil)
		RootCmd.SetIn(nil)
		RootCmd.SetOut(nil)
		RootCmd.SetErr(nil)
	})

	err := RootCmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// testDB returns a migrated cache file in a temp directory.
func testDB(t *testing.T) string {
	t.Helper()

	db := filepath.Join(t.TempDir(), "cache.db")
	if _, err := runCLI(t, "", "migrate", "--db", db); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return db
}

func TestRootCommand(t *testing.T) {
	if RootCmd.Use != "pacache" {
		t.Errorf("expected Use to be 'pacache', got '%s'", RootCmd.Use)
	}

	if RootCmd.Short == "" {
		t.Error("expected Short description to be set")
	}

	if RootCmd.Long == "" {
		t.Error("expected Long description to be set")
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	found := make(map[string]bool)
	for _, cmd := range RootCmd.Commands() {
		found[cmd.Name()] = true
	}

	for _, expected := range []string{"migrate", "source", "add", "show", "list", "mark", "rm", "deps", "scan", "orphans", "config"} {
		if !found[expected] {
			t.Errorf("expected command '%s' to be registered", expected)
		}
	}
}

func TestRootCommandHasPersistentFlags(t *testing.T) {
	for _, name := range []string{"db", "config", "output", "verbose"} {
		flag := RootCmd.PersistentFlags().Lookup(name)
		if flag == nil {
			t.Errorf("expected --%s flag to be registered", name)
			continue
		}
		if flag.Usage == "" {
			t.Errorf("expected --%s flag to have usage text", name)
		}
	}

	if got := RootCmd.PersistentFlags().Lookup("output").DefValue; got != "table" {
		t.Errorf("--output default = %q, want table", got)
	}
}

func TestGetDBPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	old := dbPath
	defer func() { dbPath = old }()

	dbPath = ""
	got, err := getDBPath()
	if err != nil {
		t.Fatalf("getDBPath failed: %v", err)
	}
	want := filepath.Join(home, ".pacache", "cache.db")
	if got != want {
		t.Errorf("getDBPath() = %q, want %q", got, want)
	}
	if info, err := os.Stat(filepath.Dir(want)); err != nil || !info.IsDir() {
		t.Errorf("expected %s to be created", filepath.Dir(want))
	}

	dbPath = "postgres://pacache@localhost/pacache"
	got, err = getDBPath()
	if err != nil {
		t.Fatalf("getDBPath failed: %v", err)
	}
	if got != dbPath {
		t.Errorf("getDBPath() = %q, want the flag value", got)
	}
}

func TestGetConfigPath(t *testing.T) {
	old := configPath
	defer func() { configPath = old }()

	configPath = ""
	t.Setenv("PACSTALL_CONFIG", "/tmp/pacstall.toml")
	if got := getConfigPath(); got != "/tmp/pacstall.toml" {
		t.Errorf("getConfigPath() = %q, want the env value", got)
	}

	configPath = "/etc/other.toml"
	if got := getConfigPath(); got != "/etc/other.toml" {
		t.Errorf("getConfigPath() = %q, want the flag value", got)
	}
}

func TestInvalidOutputFormat(t *testing.T) {
	db := testDB(t)

	_, err := runCLI(t, "", "list", "--db", db, "--output", "xml")
	if err == nil || !strings.Contains(err.Error(), "unknown output format") {
		t.Errorf("expected unknown output format error, got %v", err)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	out, err := runCLI(t, "", "migrate", "--db", db)
	if err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
	if !strings.Contains(out, "sqlite cache at schema version 1") {
		t.Errorf("unexpected migrate output: %q", out)
	}
}

func TestRenderRejectsUnknownFormat(t *testing.T) {
	old := outputFlag
	defer func() { outputFlag = old }()

	outputFlag = "csv"
	err := render(&bytes.Buffer{}, nil, func() string { return "" })
	if err == nil {
		t.Fatal("expected error for csv output")
	}
}
