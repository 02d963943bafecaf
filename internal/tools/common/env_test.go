package common

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	return path
}

func TestParseEnvLine(t *testing.T) {
	cases := []struct {
		line, name, value string
		ok                bool
	}{
		{"REDIS_ADDR=localhost:6379", "REDIS_ADDR", "localhost:6379", true},
		{"export APP_ENV=staging", "APP_ENV", "staging", true},
		{`  BASE_URL = "https://navi.example.com"  `, "BASE_URL", "https://navi.example.com", true},
		{"SMART_SCOPES='openid fhirUser'", "SMART_SCOPES", "openid fhirUser", true},
		{`MISMATCHED="x'`, "MISMATCHED", `"x'`, true},
		{"DATABASE_URL=postgres://u:p@h/db?sslmode=disable", "DATABASE_URL", "postgres://u:p@h/db?sslmode=disable", true},
		{"# JWT_TTL=1h", "", "", false},
		{"NO_EQUALS", "", "", false},
		{"=orphan", "", "", false},
		{"", "", "", false},
	}
	for _, tc := range cases {
		name, value, ok := parseEnvLine(tc.line)
		if ok != tc.ok || name != tc.name || value != tc.value {
			t.Fatalf("parseEnvLine(%q) = %q %q %v", tc.line, name, value, ok)
		}
	}
}

func TestLoadEnvFileKeepsProcessValues(t *testing.T) {
	t.Setenv("NAVI_ENV_TEST_SET", "process")
	t.Setenv("NAVI_ENV_TEST_NEW", "")
	_ = os.Unsetenv("NAVI_ENV_TEST_NEW")

	path := writeEnvFile(t, "NAVI_ENV_TEST_SET=file\nNAVI_ENV_TEST_NEW=file\n")
	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := os.Getenv("NAVI_ENV_TEST_SET"); got != "process" {
		t.Fatalf("process value overwritten: %q", got)
	}
	if got := os.Getenv("NAVI_ENV_TEST_NEW"); got != "file" {
		t.Fatalf("file value not applied: %q", got)
	}
}

func TestLoadEnvFileErrors(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("absent file must be ignored, got %v", err)
	}
	if err := LoadEnvFile(t.TempDir()); err == nil {
		t.Fatal("reading a directory should fail")
	}
}

func TestWriteCIResult(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCIResult(&buf, false, "smoke", []string{"health: ok"}, errors.New("embed: 500")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Fatalf("expected one JSON line, got %q", buf.String())
	}
	var got ciResult
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.OK || got.Check != "smoke" || got.Error != "embed: 500" || len(got.Details) != 1 {
		t.Fatalf("unexpected result %+v", got)
	}
}

func FuzzParseEnvLine(f *testing.F) {
	for _, seed := range []string{"A=b", "export X='y'", "#c", "=", `Q=""`, "NO"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, line string) {
		name, value, ok := parseEnvLine(line)
		if !ok {
			return
		}
		if name == "" || strings.ContainsRune(name, '=') {
			t.Fatalf("bad name %q from %q", name, line)
		}
		if len(value) > len(line) {
			t.Fatalf("value %q longer than line %q", value, line)
		}
	})
}
