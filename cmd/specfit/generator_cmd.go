package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ShayCichocki/specfit/internal/exec"
	"github.com/ShayCichocki/specfit/pkg/models"
)

// generatorRequest is written as JSON to a generator command's stdin.
type generatorRequest struct {
	Context  models.FailureContext `json:"context"`
	Patterns []*models.Pattern     `json:"patterns"`
}

// commandGenerator produces patches by running a shell command in the
// artifact root. The command reads a generatorRequest on stdin and prints
// the patch on stdout.
type commandGenerator struct {
	command string
	root    string
	runner  exec.CommandRunner
}

func newCommandGenerator(command, root string) *commandGenerator {
	return &commandGenerator{command: command, root: root, runner: exec.NewRunner()}
}

func (g *commandGenerator) Generate(ctx context.Context, fc models.FailureContext, patterns []*models.Pattern) (string, error) {
	if patterns == nil {
		patterns = []*models.Pattern{}
	}
	input, err := json.Marshal(generatorRequest{Context: fc, Patterns: patterns})
	if err != nil {
		return "", fmt.Errorf("encode failure context: %w", err)
	}
	out, err := g.runner.RunShell(ctx, g.root, g.command, input)
	if err != nil {
		return "", fmt.Errorf("generator command: %w", err)
	}
	patch := string(out)
	if strings.TrimSpace(patch) == "" {
		return "", errors.New("generator command printed no patch")
	}
	return patch, nil
}
