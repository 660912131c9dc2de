// Package security holds input hardening shared by the loaders of
// operator-supplied files (configuration and grant policies).
package security

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrLimitExceeded is wrapped by every LimitError.
var ErrLimitExceeded = errors.New("yaml limit exceeded")

// LimitError reports which parsing limit a document broke.
type LimitError struct {
	Limit string
	Value int64
	Max   int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("YAML %s %d exceeds maximum %d", e.Limit, e.Value, e.Max)
}

// Unwrap returns ErrLimitExceeded.
func (e *LimitError) Unwrap() error {
	return ErrLimitExceeded
}

// YAMLLimits defines security limits for YAML parsing
type YAMLLimits struct {
	MaxFileSize  int64 // Maximum document size in bytes
	MaxDepth     int   // Maximum nesting depth
	MaxNodes     int   // Maximum number of nodes, aliases expanded
	MaxKeyLength int   // Maximum mapping key length in bytes
	MaxValueSize int64 // Maximum scalar size in bytes
}

// DefaultYAMLLimits returns limits sized for configuration files.
func DefaultYAMLLimits() YAMLLimits {
	return YAMLLimits{
		MaxFileSize:  1024 * 1024, // 1MB
		MaxDepth:     16,
		MaxNodes:     10000,
		MaxKeyLength: 256,
		MaxValueSize: 64 * 1024,
	}
}

// SafeYAMLParser decodes YAML after checking it against resource limits.
// Alias expansion counts against MaxNodes, which defeats "billion laughs"
// documents.
type SafeYAMLParser struct {
	limits YAMLLimits
	strict bool
}

// NewSafeYAMLParser creates a new YAML parser with security limits
func NewSafeYAMLParser(limits YAMLLimits) *SafeYAMLParser {
	return &SafeYAMLParser{limits: limits}
}

// Strict makes decoding into structs fail on unknown keys, so that typos in
// hand-written files are reported instead of ignored.
func (p *SafeYAMLParser) Strict() *SafeYAMLParser {
	return &SafeYAMLParser{limits: p.limits, strict: true}
}

// UnmarshalYAML checks data and decodes it into v. An empty document leaves v
// untouched.
func (p *SafeYAMLParser) UnmarshalYAML(data []byte, v any) error {
	if size := int64(len(data)); size > p.limits.MaxFileSize {
		return &LimitError{Limit: "document size", Value: size, Max: p.limits.MaxFileSize}
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("YAML parse error: %w", err)
	}
	if len(root.Content) == 0 {
		return nil
	}

	c := checker{limits: p.limits}
	if err := c.check(&root, 0); err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(p.strict)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("YAML decode error: %w", err)
	}
	return nil
}

// UnmarshalYAMLFromReader reads at most MaxFileSize bytes from r and decodes
// them.
func (p *SafeYAMLParser) UnmarshalYAMLFromReader(r io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(r, p.limits.MaxFileSize+1))
	if err != nil {
		return fmt.Errorf("failed to read YAML: %w", err)
	}
	return p.UnmarshalYAML(data, v)
}

// UnmarshalYAMLFile decodes the file at path. Oversized files are rejected
// before being read.
func (p *SafeYAMLParser) UnmarshalYAMLFile(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() > p.limits.MaxFileSize {
		return &LimitError{Limit: "file size", Value: info.Size(), Max: p.limits.MaxFileSize}
	}
	return p.UnmarshalYAMLFromReader(f, v)
}

type checker struct {
	limits YAMLLimits
	nodes  int
}

func (c *checker) check(n *yaml.Node, depth int) error {
	if depth > c.limits.MaxDepth {
		return &LimitError{Limit: "nesting depth", Value: int64(depth), Max: int64(c.limits.MaxDepth)}
	}
	c.nodes++
	if c.nodes > c.limits.MaxNodes {
		return &LimitError{Limit: "node count", Value: int64(c.nodes), Max: int64(c.limits.MaxNodes)}
	}

	switch n.Kind {
	case yaml.ScalarNode:
		if size := int64(len(n.Value)); size > c.limits.MaxValueSize {
			return &LimitError{Limit: "value size", Value: size, Max: c.limits.MaxValueSize}
		}
		return nil
	case yaml.AliasNode:
		if n.Alias == nil {
			return nil
		}
		return c.check(n.Alias, depth+1)
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			if l := len(n.Content[i].Value); l > c.limits.MaxKeyLength {
				return &LimitError{Limit: "key length", Value: int64(l), Max: int64(c.limits.MaxKeyLength)}
			}
		}
	}

	next := depth + 1
	if n.Kind == yaml.DocumentNode {
		next = depth
	}
	for _, child := range n.Content {
		if err := c.check(child, next); err != nil {
			return err
		}
	}
	return nil
}
