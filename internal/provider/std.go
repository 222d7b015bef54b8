package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jcdickinson/ferrisdoc/internal/docs"
	"github.com/jcdickinson/ferrisdoc/internal/graph"
	"github.com/jcdickinson/ferrisdoc/internal/registry"
)

const sourceStd = "rustup"

// StdCrates are the crates the rust-docs-json component ships.
var StdCrates = []string{"alloc", "core", "proc_macro", "std", "test"}

func IsStdCrate(name string) bool {
	return slices.Contains(StdCrates, graph.NormalizeName(name))
}

// Std serves the standard library exports of a rustup toolchain, found under
// <sysroot>/share/doc/rust/json.
type Std struct {
	toolchain string
	sysroot   func(ctx context.Context, toolchain string) (string, error)
}

// NewStd uses the given toolchain, or the default one when it is empty.
func NewStd(toolchain string) *Std {
	return &Std{toolchain: toolchain, sysroot: rustcSysroot}
}

func (s *Std) Fetch(ctx context.Context, id graph.Identity) (registry.Export, error) {
	if !IsStdCrate(id.Name) {
		return registry.Export{}, acquisition(sourceStd, NotFound, id, errors.New("not a standard library crate"))
	}
	root, err := s.sysroot(ctx, s.toolchain)
	if err != nil {
		if ctx.Err() != nil {
			return registry.Export{}, ctx.Err()
		}
		return registry.Export{}, acquisition(sourceStd, ToolchainMissing, id, err)
	}

	p := filepath.Join(root, "share", "doc", "rust", "json", graph.NormalizeName(id.Name)+".json")
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return registry.Export{}, acquisition(sourceStd, ComponentMissing, id,
			fmt.Errorf("%s not found; install it with `rustup component add rust-docs-json%s`", p, s.toolchainFlag()))
	}
	if err != nil {
		return registry.Export{}, fmt.Errorf("reading %s: %w", p, err)
	}
	rev, err := docs.PeekRevision(data)
	if err != nil {
		return registry.Export{}, fmt.Errorf("reading %s: %w", p, err)
	}
	return registry.Export{Data: data, Revision: rev}, nil
}

func (s *Std) toolchainFlag() string {
	if s.toolchain == "" {
		return ""
	}
	return " --toolchain " + s.toolchain
}

func rustcSysroot(ctx context.Context, toolchain string) (string, error) {
	args := []string{"--print", "sysroot"}
	if toolchain != "" {
		args = append([]string{"+" + toolchain}, args...)
	}
	cmd := exec.CommandContext(ctx, "rustc", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if errors.Is(err, exec.ErrNotFound) {
		return "", errors.New("rustc not found on PATH; install a toolchain with rustup")
	}
	if err != nil {
		return "", fmt.Errorf("rustc --print sysroot: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(string(out)), nil
}
