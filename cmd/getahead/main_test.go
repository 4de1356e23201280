package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const passingTranscript = `[
  {"role": "assistant", "content": "Tell me about a service you built. What did it do?"},
  {"role": "user", "content": "I built a billing service in Go that processed invoices for about two thousand customers every night."},
  {"role": "assistant", "content": "How did you test it?"},
  {"role": "user", "content": "We ran table driven unit tests and a nightly replay of production traffic against a staging database."}
]`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestGate_ValidTranscriptFromFile(t *testing.T) {
	path := writeFile(t, "transcript.json", passingTranscript)

	out, err := execute(t, "", "gate", path)
	if err != nil {
		t.Fatalf("gate returned error: %v", err)
	}
	var res struct {
		Valid bool `json:"isValid"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if !res.Valid {
		t.Fatalf("expected valid transcript, got %s", out)
	}
}

func TestGate_RejectedFromStdin(t *testing.T) {
	body := `{"interviewId":"iv-1","transcript":[{"role":"user","content":"ok"}]}`

	out, err := execute(t, body, "gate", "-")
	if !errors.Is(err, errRejected) {
		t.Fatalf("err = %v, want errRejected", err)
	}
	if !strings.Contains(out, `"isValid": false`) {
		t.Errorf("output missing rejection: %s", out)
	}
	if !strings.Contains(out, "insufficient participation") {
		t.Errorf("output missing reason: %s", out)
	}
}

func TestGate_ThresholdsFromConfig(t *testing.T) {
	transcript := writeFile(t, "transcript.json", passingTranscript)
	cfg := writeFile(t, "config.yaml", `
providers:
  llm:
    name: mock
gate:
  min_user_turns: 3
`)

	_, err := execute(t, "", "--config", cfg, "gate", transcript)
	if !errors.Is(err, errRejected) {
		t.Fatalf("err = %v, want errRejected under stricter config", err)
	}
}

func TestGate_MalformedInput(t *testing.T) {
	_, err := execute(t, "{not json", "gate")
	if err == nil || errors.Is(err, errRejected) {
		t.Fatalf("err = %v, want decode error", err)
	}
}

func TestMigrate_RequiresDSN(t *testing.T) {
	cfg := writeFile(t, "config.yaml", "providers:\n  llm:\n    name: mock\n")

	_, err := execute(t, "", "--config", cfg, "migrate")
	if !errors.Is(err, errNoDSN) {
		t.Fatalf("err = %v, want errNoDSN", err)
	}
}

func TestSeed_RequiresFixtureFile(t *testing.T) {
	cfg := writeFile(t, "config.yaml", "providers:\n  llm:\n    name: mock\n")

	_, err := execute(t, "", "--config", cfg, "seed")
	if err == nil || !strings.Contains(err.Error(), "no fixture file") {
		t.Fatalf("err = %v, want missing fixture error", err)
	}
}

func TestSeed_RequiresDSN(t *testing.T) {
	cfg := writeFile(t, "config.yaml", "providers:\n  llm:\n    name: mock\n")
	fixtures := writeFile(t, "interviews.yaml", `
interviews:
  - id: iv-1
    user_id: u-1
`)

	_, err := execute(t, "", "--config", cfg, "seed", "--file", fixtures)
	if !errors.Is(err, errNoDSN) {
		t.Fatalf("err = %v, want errNoDSN", err)
	}
}

func TestMissingConfigHint(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	_, err := execute(t, "", "--config", missing, "migrate")
	if err == nil || !strings.Contains(err.Error(), "configs/example.yaml") {
		t.Fatalf("err = %v, want hint about the example config", err)
	}
}

func TestRun_ExitCodes(t *testing.T) {
	rejected := writeFile(t, "transcript.json", `[{"role":"user","content":"ok"}]`)
	missing := filepath.Join(t.TempDir(), "missing.yaml")

	tests := []struct {
		name string
		args []string
		want int
	}{
		{name: "rejected transcript", args: []string{"gate", rejected}, want: 2},
		{name: "missing config", args: []string{"--config", missing, "migrate"}, want: 1},
		{name: "unknown command", args: []string{"frobnicate"}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := run(tt.args); got != tt.want {
				t.Errorf("run(%v) = %d, want %d", tt.args, got, tt.want)
			}
		})
	}
}
