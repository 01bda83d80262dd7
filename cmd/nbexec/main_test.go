package main

import (
	"testing"
)

func TestApplyArgv0Alias(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{name: "empty", args: nil, want: nil},
		{name: "no-alias", args: []string{"nbexec", "serve"}, want: []string{"nbexec", "serve"}},
		{name: "echo", args: []string{"/usr/bin/nbexec-echo", "--addr", "127.0.0.1:1"}, want: []string{"/usr/bin/nbexec-echo", "engine-echo", "--addr", "127.0.0.1:1"}},
		{name: "daemon", args: []string{"nbexecd", "-c", "cfg.yaml"}, want: []string{"nbexecd", "serve", "-c", "cfg.yaml"}},
	}
	for _, tc := range tests {
		got := applyArgv0Alias(tc.args)
		if len(got) != len(tc.want) {
			t.Fatalf("%s: applyArgv0Alias length = %d, want %d", tc.name, len(got), len(tc.want))
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("%s: applyArgv0Alias[%d] = %q, want %q", tc.name, i, got[i], tc.want[i])
			}
		}
	}
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	want := map[string]bool{"serve": false, "config": false, "engine-echo": false, "hash-password": false, "version": false}
	for _, cmd := range root.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("expected root command to include %s", name)
		}
	}
}

func TestCommandName(t *testing.T) {
	if got := commandName([]string{"nbexec"}); got != "" {
		t.Fatalf("commandName without subcommand = %q", got)
	}
	if got := commandName([]string{"nbexec", "serve", "-c", "x"}); got != "serve" {
		t.Fatalf("commandName = %q, want serve", got)
	}
}

func TestRootReportsVersion(t *testing.T) {
	if newRootCmd().Version == "" {
		t.Fatalf("expected root command to carry a version")
	}
}
