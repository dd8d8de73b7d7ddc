// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/sgm/cmd/sgm/cli"
	"github.com/bureau-foundation/sgm/lib/adapter"
	"github.com/bureau-foundation/sgm/lib/groupctl"
	"github.com/bureau-foundation/sgm/lib/groupkey"
	"github.com/bureau-foundation/sgm/lib/state"
	"github.com/bureau-foundation/sgm/lib/testutil"
)

// isolate keeps tests away from the user's config and home directory.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("SGM_CONFIG", "")
	t.Setenv("HOME", t.TempDir())
}

// execute runs the command tree and returns what it wrote to stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buffer bytes.Buffer
	saved := cli.Stdout
	cli.Stdout = &buffer
	defer func() { cli.Stdout = saved }()

	err := Root().Execute(context.Background(), args, nil)
	return buffer.String(), err
}

// testAgent is one agent's state file on a shared file exchange.
type testAgent struct {
	t        *testing.T
	state    string
	exchange string
	pid      string
}

func newTestAgent(t *testing.T, exchange, prefix string) *testAgent {
	t.Helper()
	agent := &testAgent{
		t:        t,
		state:    filepath.Join(t.TempDir(), "state.json"),
		exchange: exchange,
	}
	output := agent.must("whoami", "--reset", "--pid-prefix", prefix, "--json")
	var identity groupctl.Identity
	if err := json.Unmarshal([]byte(output), &identity); err != nil {
		t.Fatalf("decoding whoami output %q: %v", output, err)
	}
	if !strings.HasPrefix(identity.PID, prefix+"_") {
		t.Fatalf("pid = %q, want prefix %s_", identity.PID, prefix)
	}
	agent.pid = identity.PID
	return agent
}

func (a *testAgent) run(args ...string) (string, error) {
	a.t.Helper()
	return execute(a.t, append(args, "--state", a.state, "--dir", a.exchange)...)
}

func (a *testAgent) must(args ...string) string {
	a.t.Helper()
	output, err := a.run(args...)
	if err != nil {
		a.t.Fatalf("sgm %s: %v", strings.Join(args, " "), err)
	}
	return output
}

func requireCategory(t *testing.T, err error, category cli.ErrorCategory) {
	t.Helper()
	var toolErr *cli.ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("error %v is not a ToolError", err)
	}
	if toolErr.Category != category {
		t.Fatalf("category = %q, want %q (error: %v)", toolErr.Category, category, err)
	}
}

func TestMissingStateIsNotFound(t *testing.T) {
	isolate(t)
	statePath := filepath.Join(t.TempDir(), "state.json")

	_, err := execute(t, "whoami", "--state", statePath, "--dir", t.TempDir())
	requireCategory(t, err, cli.CategoryNotFound)
	if !strings.Contains(err.Error(), "--reset") {
		t.Errorf("error %q does not mention --reset", err)
	}
	if exists, _ := state.Exists(statePath); exists {
		t.Error("state file created without --reset")
	}
}

func TestGroupLifecycle(t *testing.T) {
	isolate(t)
	exchange := t.TempDir()
	alice := newTestAgent(t, exchange, "alice")
	bob := newTestAgent(t, exchange, "bob")

	bob.must("advertise")
	if output := alice.must("peers"); strings.TrimSpace(output) != bob.pid {
		t.Fatalf("alice peers = %q, want %s", output, bob.pid)
	}

	gid := strings.TrimSpace(alice.must("group", "create", "chat"))
	if !strings.HasPrefix(gid, "chat-") {
		t.Fatalf("gid = %q, want chat- prefix", gid)
	}

	var added groupctl.CommitResult
	if err := json.Unmarshal([]byte(alice.must("group", "add", gid, bob.pid, "--json")), &added); err != nil {
		t.Fatalf("decoding add result: %v", err)
	}
	if added.Epoch != 1 || added.CommitIndex != 0 || len(added.Welcomes) != 1 || added.Welcomes[0].PID != bob.pid {
		t.Fatalf("add result = %+v", added)
	}

	syncOutput := bob.must("sync")
	if !strings.Contains(syncOutput, "joined "+gid) {
		t.Fatalf("bob sync output %q does not report the join", syncOutput)
	}
	if output := bob.must("groups"); strings.TrimSpace(output) != gid {
		t.Fatalf("bob groups = %q, want %s", output, gid)
	}
	wantMembers := fmt.Sprintf("0\t%s\n1\t%s\n", alice.pid, bob.pid)
	if output := bob.must("group", "members", gid); output != wantMembers {
		t.Fatalf("bob members = %q, want %q", output, wantMembers)
	}

	aliceSecret := alice.must("group", "export", gid, "--label", "media", "--length", "16")
	bobSecret := bob.must("group", "export", gid, "--label", "media", "--length", "16")
	if aliceSecret != bobSecret || len(strings.TrimSpace(aliceSecret)) != 32 {
		t.Fatalf("exports differ or wrong length: alice %q, bob %q", aliceSecret, bobSecret)
	}

	// Bob rotates his key; alice picks it up on her next invocation.
	bob.must("group", "update", gid)
	aliceSecret = alice.must("group", "export", gid)
	bobSecret = bob.must("group", "export", gid)
	if aliceSecret != bobSecret {
		t.Fatalf("exports differ after update: alice %q, bob %q", aliceSecret, bobSecret)
	}
	if len(strings.TrimSpace(aliceSecret)) != 64 {
		t.Fatalf("default export = %q, want 32 bytes", aliceSecret)
	}

	alice.must("group", "remove", gid, "1")
	if output := alice.must("group", "members", gid); output != fmt.Sprintf("0\t%s\n", alice.pid) {
		t.Fatalf("alice members after remove = %q", output)
	}
	if output := bob.must("sync"); !strings.Contains(output, "warning") {
		t.Fatalf("removed bob's sync output %q reports no warning", output)
	}
}

func TestGroupAddFromStdin(t *testing.T) {
	isolate(t)
	exchange := t.TempDir()
	alice := newTestAgent(t, exchange, "alice")
	bob := newTestAgent(t, exchange, "bob")
	carol := newTestAgent(t, exchange, "carol")
	bob.must("advertise")
	carol.must("advertise")

	gid := strings.TrimSpace(alice.must("group", "create", testutil.UniqueID("room")))

	saved := stdin
	stdin = strings.NewReader(fmt.Sprintf("# invitees\n%s\n\n  %s\n", bob.pid, carol.pid))
	defer func() { stdin = saved }()

	output := alice.must("group", "add", gid)
	if !strings.Contains(output, "welcomed "+bob.pid) || !strings.Contains(output, "welcomed "+carol.pid) {
		t.Fatalf("add output = %q", output)
	}
	carol.must("sync")
	if output := carol.must("group", "members", gid); strings.Count(output, "\n") != 3 {
		t.Fatalf("carol members = %q, want three", output)
	}
}

func TestGroupAddWelcomeRetriedBySync(t *testing.T) {
	isolate(t)
	exchange := t.TempDir()
	alice := newTestAgent(t, exchange, "alice")
	bob := newTestAgent(t, exchange, "bob")
	bob.must("advertise")
	gid := strings.TrimSpace(alice.must("group", "create", "chat"))

	// A directory where bob's first welcome belongs makes the publish
	// fail after the commit lands.
	blocked := filepath.Join(exchange, adapter.Address{Namespace: adapter.NamespaceWelcome, Owner: bob.pid}.FileName())
	if err := os.Mkdir(blocked, 0755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	output, err := alice.run("group", "add", gid, bob.pid)
	requireCategory(t, err, cli.CategoryTransient)
	if !strings.Contains(output, gid+" now at epoch 1") || strings.Contains(output, "welcomed") {
		t.Fatalf("partial add output = %q", output)
	}

	if err := os.Remove(blocked); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if output := alice.must("sync"); !strings.Contains(output, "welcomed "+bob.pid+" to "+gid) {
		t.Fatalf("sync output = %q, want the owed welcome published", output)
	}
	if output := bob.must("sync"); !strings.Contains(output, "joined "+gid) {
		t.Fatalf("bob sync output = %q", output)
	}
}

func TestGroupCommandErrors(t *testing.T) {
	isolate(t)
	exchange := t.TempDir()
	alice := newTestAgent(t, exchange, "alice")
	gid := strings.TrimSpace(alice.must("group", "create", "chat"))

	tests := []struct {
		name     string
		args     []string
		category cli.ErrorCategory
		sentinel error
	}{
		{"unknown peer", []string{"group", "add", gid, "nobody_00000000"}, cli.CategoryNotFound, groupctl.ErrUnknownPeer},
		{"not a member", []string{"group", "update", "other-00000000"}, cli.CategoryNotFound, groupctl.ErrNotMember},
		{"duplicate group", []string{"group", "create", "chat"}, cli.CategoryConflict, groupctl.ErrGroupExists},
		{"bad label", []string{"group", "create", "a/b"}, cli.CategoryValidation, groupctl.ErrInvalidArgument},
		{"bad leaf", []string{"group", "remove", gid, "first"}, cli.CategoryValidation, groupctl.ErrInvalidArgument},
		{"remove self", []string{"group", "remove", gid, "0"}, cli.CategoryValidation, groupkey.ErrInvalidProposal},
		{"missing gid", []string{"group", "members"}, cli.CategoryValidation, nil},
		{"export too long", []string{"group", "export", gid, "--length", "100000"}, cli.CategoryValidation, nil},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := alice.run(test.args...)
			requireCategory(t, err, test.category)
			if test.sentinel != nil && !errors.Is(err, test.sentinel) {
				t.Fatalf("error %v does not wrap %v", err, test.sentinel)
			}
		})
	}
}

func TestInspect(t *testing.T) {
	isolate(t)
	exchange := t.TempDir()
	alice := newTestAgent(t, exchange, "alice")
	alice.must("advertise")

	output := alice.must("inspect", adapter.NamespaceKeyPackage, alice.pid, "0")
	if !strings.HasPrefix(output, "{") {
		t.Fatalf("inspect output = %q, want a CBOR map", output)
	}

	var result inspection
	if err := json.Unmarshal([]byte(alice.must("inspect", adapter.NamespaceKeyPackage, adapter.DirectoryOwner, "0", "--hex", "--json")), &result); err != nil {
		t.Fatalf("decoding inspect result: %v", err)
	}
	if result.Size == 0 || len(result.Hex) != 2*result.Size || result.Diagnostic != "" {
		t.Fatalf("inspect --hex = %+v", result)
	}

	_, err := alice.run("inspect", adapter.NamespaceKeyPackage, alice.pid, "1")
	requireCategory(t, err, cli.CategoryNotFound)
	_, err = alice.run("inspect", "mailbox", alice.pid, "0")
	requireCategory(t, err, cli.CategoryValidation)
	_, err = alice.run("inspect", adapter.NamespaceCommit, "g", "minus-one")
	requireCategory(t, err, cli.CategoryValidation)
}

func TestConfigFile(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	configPath := filepath.Join(root, "sgm.yaml")
	content := fmt.Sprintf(`root: %s
state:
  pid_prefix: dana
adapter:
  backend: sqlite
  compression: zstd
`, root)
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SGM_CONFIG", configPath)

	output, err := execute(t, "advertise", "--reset")
	if err != nil {
		t.Fatalf("advertise: %v", err)
	}
	if !strings.Contains(output, "at index 0") {
		t.Fatalf("advertise output = %q", output)
	}
	for _, name := range []string{"state.json", "exchange.db"} {
		if _, err := os.Stat(filepath.Join(root, name)); err != nil {
			t.Errorf("%s not created under the configured root: %v", name, err)
		}
	}

	// Flags override the file.
	_, err = execute(t, "whoami", "--adapter", "carrier-pigeon")
	requireCategory(t, err, cli.CategoryValidation)
}

func TestVersion(t *testing.T) {
	output, err := execute(t, "version", "--json")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var build map[string]any
	if err := json.Unmarshal([]byte(output), &build); err != nil {
		t.Fatalf("decoding version output %q: %v", output, err)
	}
	if build["version"] == "" || build["go"] == "" {
		t.Fatalf("version output = %v", build)
	}
}

// TestCommandTree walks the production tree and checks that every
// runnable command documents itself and binds its flags.
func TestCommandTree(t *testing.T) {
	var walk func(command *cli.Command, path string)
	walk = func(command *cli.Command, path string) {
		if command.Summary == "" && path != "sgm" {
			t.Errorf("%s has no summary", path)
		}
		if command.Params != nil {
			flagSet := cli.FlagsFromParams(command.Name, command.Params())
			if command.Run != nil && path != "sgm version" && flagSet.Lookup("state") == nil {
				t.Errorf("%s does not accept --state", path)
			}
		}
		for _, sub := range command.Subcommands {
			walk(sub, path+" "+sub.Name)
		}
	}
	walk(Root(), "sgm")
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		err  error
		want cli.ErrorCategory
	}{
		{fmt.Errorf("lock: %w", state.ErrStateLocked), cli.CategoryConflict},
		{fmt.Errorf("publish: %w", adapter.ErrIndexTaken), cli.CategoryConflict},
		{fmt.Errorf("fetch: %w", adapter.ErrUnavailable), cli.CategoryTransient},
		{context.Canceled, cli.CategoryTransient},
		{fmt.Errorf("load: %w", groupkey.ErrStorageCorrupt), cli.CategoryInternal},
		{fmt.Errorf("%w: parsing", state.ErrStateIO), cli.CategoryInternal},
		{cli.Validation("already categorized"), cli.CategoryValidation},
	}
	for _, test := range tests {
		requireCategory(t, categorize(test.err), test.want)
	}
	if categorize(nil) != nil {
		t.Error("categorize(nil) != nil")
	}
}
