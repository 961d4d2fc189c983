// Package enum backs the closed enumerations used across the pipeline.
// Each enum is a typed int with a fixed name table; text decoding rejects any
// name outside the table.
package enum

import "fmt"

// Names is the ordered name table of one enum: Names[i] is the text of value i.
type Names []string

// String returns the name of i, or kind(i) for a value outside the table.
func (n Names) String(kind string, i int) string {
	if i < 0 || i >= len(n) {
		return fmt.Sprintf("%s(%d)", kind, i)
	}
	return n[i]
}

// Marshal returns the name of i, failing for a value outside the table.
func (n Names) Marshal(kind string, i int) ([]byte, error) {
	if i < 0 || i >= len(n) {
		return nil, fmt.Errorf("invalid %s %d", kind, i)
	}
	return []byte(n[i]), nil
}

// Parse returns the value named b.
func (n Names) Parse(kind string, b []byte) (int, error) {
	for i, name := range n {
		if name == string(b) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown %s %q", kind, string(b))
}
