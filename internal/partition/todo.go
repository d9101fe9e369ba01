// Package partition bin-packs the collection todo list into subjobs and
// workunits.
package partition

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
)

// Entry is one line of the todo list.
type Entry struct {
	Key            string
	Metatranche    string
	Tranche        string
	CollectionName string
	LigandCount    int
}

// Rejected describes a todo line that was skipped.
type Rejected struct {
	Line   int
	Text   string
	Reason string
}

// ParseEntry parses "<metatranche>_<tranche>_<collection> <count>".
func ParseEntry(line string) (Entry, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return Entry{}, fmt.Errorf("expected '<collection key> <count>', got %d fields", len(fields))
	}
	parts := strings.Split(fields[0], "_")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Entry{}, fmt.Errorf("collection key %q does not split into metatranche_tranche_collection", fields[0])
	}
	count, err := strconv.Atoi(fields[1])
	if err != nil {
		return Entry{}, fmt.Errorf("ligand count %q is not numeric", fields[1])
	}
	if count <= 0 {
		return Entry{}, fmt.Errorf("ligand count %d is not positive", count)
	}
	return Entry{
		Key:            fields[0],
		Metatranche:    parts[0],
		Tranche:        parts[1],
		CollectionName: parts[2],
		LigandCount:    count,
	}, nil
}

// ParseTodo reads a todo list. Malformed lines are logged, returned as
// rejected and excluded; blank lines are ignored.
func ParseTodo(r io.Reader, logger *slog.Logger) ([]Entry, []Rejected, error) {
	var entries []Entry
	var rejected []Rejected

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		e, err := ParseEntry(text)
		if err != nil {
			logger.Warn("skipping todo line", "line", lineNo, "text", text, "error", err)
			rejected = append(rejected, Rejected{Line: lineNo, Text: text, Reason: err.Error()})
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("read todo list: %w", err)
	}
	return entries, rejected, nil
}

// SortTodo orders entries by descending ligand count, keeping the input
// order of equal counts.
func SortTodo(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].LigandCount > entries[j].LigandCount
	})
}

// WriteTodo writes entries in todo list format.
func WriteTodo(w io.Writer, entries []Entry) error {
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		if _, err := fmt.Fprintf(bw, "%s %d\n", e.Key, e.LigandCount); err != nil {
			return err
		}
	}
	return bw.Flush()
}
