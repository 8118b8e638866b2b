// Package snippet builds submission text for the convenience client.
//
// A selector resolves to code in one of four ways: a named preset, a
// "code:" prefix whose remainder is sent verbatim, a print template when an
// extra argument is given, or passthrough of the selector itself. The server
// treats all four identically.
package snippet

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net"
	"os"
	"slices"
	"strings"

	"go.starlark.net/starlark"
	"gopkg.in/yaml.v3"
)

// CodePrefix marks a selector whose remainder is raw code.
const CodePrefix = "code:"

// Presets maps a selector name to the snippet it expands to.
type Presets map[string]func() string

// DefaultPresets returns the built-in preset table.
func DefaultPresets() Presets {
	return Presets{
		"hello": func() string { return `print('hello world')` },
		"loop":  func() string { return "for i in range(3):\n    print(i)\n    sleep(1)" },
		"sum10": func() string { return `print(sum(range(1, 11)))` },
		"bad":   func() string { return `hello` },
		"while": func() string { return "while True:\n    pass" },
	}
}

// Names returns the preset names in sorted order.
func (p Presets) Names() []string {
	return slices.Sorted(maps.Keys(p))
}

// Builder resolves selectors against a preset table.
type Builder struct {
	presets Presets
}

// NewBuilder creates a Builder over presets. A nil table means DefaultPresets.
func NewBuilder(presets Presets) *Builder {
	if presets == nil {
		presets = DefaultPresets()
	}
	return &Builder{presets: presets}
}

// Build returns the code text for selector. An empty extra means no extra
// argument was given.
func (b *Builder) Build(selector, extra string) string {
	if preset, ok := b.presets[selector]; ok {
		return preset()
	}
	if code, ok := strings.CutPrefix(selector, CodePrefix); ok {
		return code
	}
	if extra != "" {
		return fmt.Sprintf(`print(%s + " " + %s)`, quote(selector), quote(extra))
	}
	return selector
}

// Build resolves selector against the default presets.
func Build(selector, extra string) string {
	return NewBuilder(nil).Build(selector, extra)
}

// quote renders s as a string literal the sandbox parses back to s.
func quote(s string) string {
	return starlark.String(s).String()
}

// LoadPresets reads a YAML mapping of name to code and layers it over the
// defaults. Entries in the file win.
func LoadPresets(path string) (Presets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read presets file: %w", err)
	}

	var entries map[string]string
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse presets file: %w", err)
	}

	presets := DefaultPresets()
	for name, code := range entries {
		if name == "" {
			return nil, errors.New("preset name must not be empty")
		}
		presets[name] = func() string { return code }
	}
	return presets, nil
}

// Send writes text to addr as a single UDP datagram. No reply is expected.
func Send(ctx context.Context, addr, text string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to send to %s: %w", addr, err)
	}
	return nil
}
