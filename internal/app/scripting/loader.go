// Package scripting runs JavaScript modules as trading strategies.
//
// A module exports metadata and a create function:
//
//	module.exports = {
//	  metadata: { name: "momentum", description: "...", config: { qty: 1 } },
//	  create(ctx) { return { onStart() {...}, onQuote(q) {...} } },
//	}
//
// create receives the strategy context (see ScriptActor) and returns the
// handler object whose on* methods receive callbacks. Times exposed to
// scripts are Unix milliseconds; prices and sizes are numbers.
package scripting

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dop251/goja"
)

// ErrModuleNotFound reports an unknown script name.
var ErrModuleNotFound = errors.New("script module not found")

// Metadata is what a module declares about itself.
type Metadata struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Config      map[string]any `json:"config"`
}

// Module is a compiled script.
type Module struct {
	Name     string
	Filename string
	Path     string
	Hash     string
	Metadata Metadata
	Program  *goja.Program
}

// Loader compiles the scripts of one directory.
type Loader struct {
	mu     sync.RWMutex
	root   string
	byName map[string]*Module
}

// NewLoader builds a loader rooted at dir. The directory must exist.
func NewLoader(dir string) (*Loader, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, errors.New("script loader: directory required")
	}
	clean := filepath.Clean(trimmed)
	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("script loader: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("script loader: %q is not a directory", clean)
	}
	return &Loader{root: clean, byName: make(map[string]*Module)}, nil
}

// Root returns the scripts directory.
func (l *Loader) Root() string { return l.root }

// Refresh recompiles every .js file. The previous catalog stays in place
// when any module fails.
func (l *Loader) Refresh(ctx context.Context) error {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return fmt.Errorf("script loader: read directory %q: %w", l.root, err)
	}
	next := make(map[string]*Module)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("script loader: refresh canceled: %w", err)
		}
		if entry.IsDir() || !isJavaScriptFile(entry.Name()) {
			continue
		}
		module, err := compileModule(filepath.Join(l.root, entry.Name()))
		if err != nil {
			return err
		}
		if _, exists := next[module.Name]; exists {
			return fmt.Errorf("script loader: duplicate script name %q", module.Name)
		}
		next[module.Name] = module
	}
	l.mu.Lock()
	l.byName = next
	l.mu.Unlock()
	return nil
}

// Names lists the loaded script names in order.
func (l *Loader) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.byName))
	for name := range l.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Get returns the named module. Names are case-insensitive.
func (l *Loader) Get(name string) (*Module, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	module, ok := l.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	return module, nil
}

func isJavaScriptFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".js") || strings.HasSuffix(lower, ".mjs")
}

func compileModule(path string) (*Module, error) {
	// #nosec G304 -- path comes from os.ReadDir of the loader root.
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("script loader: read %q: %w", path, err)
	}
	return compileSource(path, source)
}

func compileSource(path string, source []byte) (*Module, error) {
	prog, err := goja.Compile(path, string(source), true)
	if err != nil {
		return nil, fmt.Errorf("script loader: compile %q: %w", path, err)
	}
	meta, err := extractMetadata(prog)
	if err != nil {
		return nil, fmt.Errorf("script loader: %s: %w", path, err)
	}
	sum := sha256.Sum256(source)
	return &Module{
		Name:     meta.Name,
		Filename: filepath.Base(path),
		Path:     path,
		Hash:     hex.EncodeToString(sum[:]),
		Metadata: meta,
		Program:  prog,
	}, nil
}

func extractMetadata(prog *goja.Program) (Metadata, error) {
	rt := goja.New()
	exports, err := runModule(rt, prog, nil)
	if err != nil {
		return Metadata{}, err
	}
	raw := exports.Get("metadata")
	if raw == nil || goja.IsUndefined(raw) || goja.IsNull(raw) {
		return Metadata{}, errors.New("metadata export missing")
	}
	var meta Metadata
	if err := rt.ExportTo(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("metadata export invalid: %w", err)
	}
	meta.Name = strings.ToLower(strings.TrimSpace(meta.Name))
	if meta.Name == "" {
		return Metadata{}, errors.New("metadata name required")
	}
	create := exports.Get("create")
	if _, ok := goja.AssertFunction(create); !ok {
		return Metadata{}, errors.New("create export must be a function")
	}
	return meta, nil
}
