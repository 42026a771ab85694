// Package annotation manages named frame intervals marked on a video and
// their validation and CSV import rules.
package annotation

import (
	"fmt"
	"sort"
	"strconv"
)

// Interval is one named [enter, exit] frame range. A nil frame means that
// side has not been marked yet. Frames are 0-indexed.
type Interval struct {
	Name  string `json:"name"`
	Enter *int   `json:"enter"`
	Exit  *int   `json:"exit"`
}

// Complete reports whether both frames are set.
func (iv Interval) Complete() bool { return iv.Enter != nil && iv.Exit != nil }

// ValidationKind classifies why a table failed validation.
type ValidationKind string

const (
	ExitBeforeEnter ValidationKind = "exit-before-enter"
	OverlapDetected ValidationKind = "overlap-detected"
)

// ValidationError describes the first validation violation found in a table.
type ValidationError struct {
	Kind      ValidationKind
	Intervals []string // names of the offending interval(s)
	Detail    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid intervals (%s): %s", e.Kind, e.Detail)
}

// Table is an ordered collection of intervals keyed by name. It preserves
// insertion order for display and is not safe for concurrent use.
type Table struct {
	order []string
	byKey map[string]*Interval
}

func NewTable() *Table {
	return &Table{byKey: make(map[string]*Interval)}
}

func (t *Table) get(name string) *Interval {
	iv, ok := t.byKey[name]
	if !ok {
		iv = &Interval{Name: name}
		t.byKey[name] = iv
		t.order = append(t.order, name)
	}
	return iv
}

// SetEnter marks the enter frame for name, creating the interval if needed.
func (t *Table) SetEnter(name string, frame int) {
	f := frame
	t.get(name).Enter = &f
}

// SetExit marks the exit frame for name, creating the interval if needed.
func (t *Table) SetExit(name string, frame int) {
	f := frame
	t.get(name).Exit = &f
}

// Duplicate copies an existing interval under a derived name ("_copy",
// "_copy2", ...) and returns the new name.
func (t *Table) Duplicate(name string) (string, error) {
	src, ok := t.byKey[name]
	if !ok {
		return "", fmt.Errorf("no interval named %q", name)
	}
	newName := name + "_copy"
	for n := 2; ; n++ {
		if _, taken := t.byKey[newName]; !taken {
			break
		}
		newName = fmt.Sprintf("%s_copy%d", name, n)
	}
	dup := &Interval{Name: newName}
	if src.Enter != nil {
		v := *src.Enter
		dup.Enter = &v
	}
	if src.Exit != nil {
		v := *src.Exit
		dup.Exit = &v
	}
	t.byKey[newName] = dup
	t.order = append(t.order, newName)
	return newName, nil
}

// Delete removes the named interval if present.
func (t *Table) Delete(name string) {
	if _, ok := t.byKey[name]; !ok {
		return
	}
	delete(t.byKey, name)
	for i, n := range t.order {
		if n == name {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Clear removes all intervals.
func (t *Table) Clear() {
	t.order = nil
	t.byKey = make(map[string]*Interval)
}

// Intervals returns all intervals in insertion order.
func (t *Table) Intervals() []Interval {
	out := make([]Interval, 0, len(t.order))
	for _, n := range t.order {
		out = append(out, *t.byKey[n])
	}
	return out
}

// Exportable returns the complete intervals in insertion order.
func (t *Table) Exportable() []Interval {
	var out []Interval
	for _, n := range t.order {
		if iv := t.byKey[n]; iv.Complete() {
			out = append(out, *iv)
		}
	}
	return out
}

// Validate checks every complete interval for exit >= enter and for overlap
// between intervals sorted by enter frame. Two intervals sharing a boundary
// frame overlap; strictly adjacent intervals (exit+1 == next enter) do not.
func (t *Table) Validate() error {
	ivs := t.Exportable()
	for _, iv := range ivs {
		if *iv.Exit < *iv.Enter {
			return &ValidationError{
				Kind:      ExitBeforeEnter,
				Intervals: []string{iv.Name},
				Detail:    fmt.Sprintf("%s: exit frame %d before enter frame %d", iv.Name, *iv.Exit, *iv.Enter),
			}
		}
	}
	sort.SliceStable(ivs, func(i, j int) bool { return *ivs[i].Enter < *ivs[j].Enter })
	for i := 0; i+1 < len(ivs); i++ {
		if *ivs[i].Exit >= *ivs[i+1].Enter {
			return &ValidationError{
				Kind:      OverlapDetected,
				Intervals: []string{ivs[i].Name, ivs[i+1].Name},
				Detail: fmt.Sprintf("%s [%d,%d] overlaps %s [%d,%d]",
					ivs[i].Name, *ivs[i].Enter, *ivs[i].Exit,
					ivs[i+1].Name, *ivs[i+1].Enter, *ivs[i+1].Exit),
			}
		}
	}
	return nil
}

// parseFrame parses a numeric CSV cell, rejecting blanks and placeholders.
func parseFrame(s string) (int, bool) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}
