package main

import (
	"testing"

	"github.com/harrison/taskgraph/internal/cmd"
)

func TestVersionConstant(t *testing.T) {
	if Version == "" {
		t.Error("Version constant should not be empty")
	}
}

func TestRootCommandBuilds(t *testing.T) {
	root := cmd.NewRootCommand()
	if root.Use != "taskgraph" {
		t.Errorf("Expected root command 'taskgraph', got %q", root.Use)
	}
}
