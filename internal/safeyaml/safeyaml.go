// Package safeyaml decodes untrusted YAML under size, depth and node limits.
package safeyaml

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// ErrLimitExceeded is wrapped by every limit violation.
var ErrLimitExceeded = errors.New("yaml limit exceeded")

// Limits bounds the documents a Decoder accepts.
type Limits struct {
	MaxBytes    int64 // whole document
	MaxDepth    int
	MaxNodes    int
	MaxKeyBytes int
	// KnownFields rejects mapping keys that have no destination field.
	KnownFields bool
}

// DefaultLimits suits configuration files.
func DefaultLimits() Limits {
	return Limits{
		MaxBytes:    1 << 20,
		MaxDepth:    16,
		MaxNodes:    10000,
		MaxKeyBytes: 256,
		KnownFields: true,
	}
}

// Decoder decodes YAML documents within its limits.
type Decoder struct {
	limits Limits
}

// NewDecoder creates a decoder enforcing limits.
func NewDecoder(limits Limits) *Decoder {
	return &Decoder{limits: limits}
}

// Decode validates data against the limits and then decodes it into v. An
// empty document leaves v untouched.
func (d *Decoder) Decode(data []byte, v any) error {
	if int64(len(data)) > d.limits.MaxBytes {
		return fmt.Errorf("%w: document is %d bytes, maximum %d", ErrLimitExceeded, len(data), d.limits.MaxBytes)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	if root.Kind == 0 {
		return nil
	}
	w := walker{limits: d.limits}
	if err := w.walk(&root, 0); err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(d.limits.KnownFields)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

// DecodeReader reads at most MaxBytes+1 bytes from r and decodes them.
func (d *Decoder) DecodeReader(r io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(r, d.limits.MaxBytes+1))
	if err != nil {
		return fmt.Errorf("read yaml: %w", err)
	}
	return d.Decode(data, v)
}

type walker struct {
	limits Limits
	nodes  int
}

func (w *walker) walk(n *yaml.Node, depth int) error {
	if depth > w.limits.MaxDepth {
		return fmt.Errorf("%w: nesting depth %d, maximum %d", ErrLimitExceeded, depth, w.limits.MaxDepth)
	}
	w.nodes++
	if w.nodes > w.limits.MaxNodes {
		return fmt.Errorf("%w: more than %d nodes", ErrLimitExceeded, w.limits.MaxNodes)
	}

	switch n.Kind {
	case yaml.DocumentNode:
		for _, c := range n.Content {
			if err := w.walk(c, depth); err != nil {
				return err
			}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i]
			if len(key.Value) > w.limits.MaxKeyBytes {
				return fmt.Errorf("%w: key of %d bytes at line %d", ErrLimitExceeded, len(key.Value), key.Line)
			}
			if err := w.walk(n.Content[i+1], depth+1); err != nil {
				return err
			}
		}
	case yaml.SequenceNode:
		for _, c := range n.Content {
			if err := w.walk(c, depth+1); err != nil {
				return err
			}
		}
	case yaml.AliasNode:
		// Aliases are expanded by the decoder; counting them here bounds
		// billion-laughs style documents.
		if n.Alias != nil {
			return w.walk(n.Alias, depth+1)
		}
	}
	return nil
}
