// Package priority maps a department and weekday to a display label such as
// "high" or "regular". Scheduling rules never consult it.
package priority

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Table is an immutable department x weekday lookup.
type Table struct {
	labels map[string]map[time.Weekday]string
}

type document struct {
	Departments map[string]map[string]string `yaml:"departments"`
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Parse reads a table of the form
//
//	departments:
//	  ORTHO: {monday: high, tuesday: regular}
func Parse(data []byte) (*Table, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse priority table: %w", err)
	}
	t := &Table{labels: make(map[string]map[time.Weekday]string, len(doc.Departments))}
	for dept, days := range doc.Departments {
		key := normalize(dept)
		if key == "" {
			return nil, fmt.Errorf("parse priority table: empty department name")
		}
		row := make(map[time.Weekday]string, len(days))
		for day, label := range days {
			wd, ok := weekdays[strings.ToLower(strings.TrimSpace(day))]
			if !ok {
				return nil, fmt.Errorf("parse priority table: %s: unknown weekday %q", dept, day)
			}
			if label = strings.TrimSpace(label); label != "" {
				row[wd] = label
			}
		}
		t.labels[key] = row
	}
	return t, nil
}

// Load reads and parses the table at path. An empty path yields an empty
// table.
func Load(path string) (*Table, error) {
	if path == "" {
		return &Table{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read priority table: %w", err)
	}
	return Parse(data)
}

func normalize(dept string) string {
	return strings.ToUpper(strings.TrimSpace(dept))
}

// Lookup returns the label for department on weekday, if one is set.
func (t *Table) Lookup(department string, weekday time.Weekday) (string, bool) {
	if t == nil {
		return "", false
	}
	label, ok := t.labels[normalize(department)][weekday]
	return label, ok
}

// Departments lists the departments with at least one label, sorted.
func (t *Table) Departments() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.labels))
	for d, row := range t.labels {
		if len(row) > 0 {
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out
}

// Week returns the labels of one department keyed by lower-case weekday name.
func (t *Table) Week(department string) map[string]string {
	out := map[string]string{}
	if t == nil {
		return out
	}
	for wd, label := range t.labels[normalize(department)] {
		out[strings.ToLower(wd.String())] = label
	}
	return out
}
