// Command catalog compiles every strategy script under a directory and
// writes a registry.json describing them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/quanta/internal/app/scripting"
)

const registryFile = "registry.json"

type registryEntry struct {
	Description string         `json:"description,omitempty"`
	File        string         `json:"file"`
	Hash        string         `json:"hash"`
	Config      map[string]any `json:"config,omitempty"`
}

type registry struct {
	GeneratedAt time.Time                `json:"generatedAt"`
	Strategies  map[string]registryEntry `json:"strategies"`
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "catalog: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, argv []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("catalog", flag.ContinueOnError)
	root := fs.String("root", "strategies", "Directory of JavaScript strategies")
	check := fs.Bool("check", false, "Fail when registry.json is stale instead of rewriting it")
	if err := fs.Parse(argv); err != nil {
		return err
	}

	loader, err := scripting.NewLoader(*root)
	if err != nil {
		return err
	}
	if err := loader.Refresh(ctx); err != nil {
		return err
	}
	names := loader.Names()
	if len(names) == 0 {
		return fmt.Errorf("no JavaScript strategies found under %s", loader.Root())
	}

	reg := registry{GeneratedAt: time.Now().UTC(), Strategies: make(map[string]registryEntry, len(names))}
	for _, name := range names {
		module, err := loader.Get(name)
		if err != nil {
			return err
		}
		reg.Strategies[name] = registryEntry{
			Description: module.Metadata.Description,
			File:        module.Filename,
			Hash:        "sha256:" + module.Hash,
			Config:      module.Metadata.Config,
		}
	}

	target := filepath.Join(loader.Root(), registryFile)
	if *check {
		stale, err := staleEntries(target, reg)
		if err != nil {
			return err
		}
		if len(stale) > 0 {
			return fmt.Errorf("registry out of date: %s", strings.Join(stale, ", "))
		}
		fmt.Fprintf(stdout, "registry up to date (%d strategies)\n", len(names))
		return nil
	}
	if err := writeRegistry(target, reg); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s generated for %d strategies under %s\n", registryFile, len(names), loader.Root())
	return nil
}

// staleEntries lists strategies whose recorded hash differs from the
// compiled one, including additions and removals.
func staleEntries(path string, current registry) ([]string, error) {
	// #nosec G304 -- path is the registry inside the operator-supplied root.
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []string{registryFile + " missing"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	var recorded registry
	if err := json.Unmarshal(data, &recorded); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	var stale []string
	for name, entry := range current.Strategies {
		if prev, ok := recorded.Strategies[name]; !ok || prev.Hash != entry.Hash {
			stale = append(stale, name)
		}
	}
	for name := range recorded.Strategies {
		if _, ok := current.Strategies[name]; !ok {
			stale = append(stale, name+" (removed)")
		}
	}
	sort.Strings(stale)
	return stale, nil
}

func writeRegistry(target string, reg registry) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp registry %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("rename registry %s: %w", target, err)
	}
	return nil
}
