// Package recipients loads the ordered recipient list and the blacklist
// and unsubscribe sets used to filter it.
package recipients

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// LoadError reports a malformed source row. It is raised at load time,
// never per recipient at run time.
type LoadError struct {
	Path    string
	Line    int
	Message string
}

func (e *LoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Recipient is one row of the source. It is immutable during a run.
type Recipient struct {
	Index  int // position in the source, 0-based
	Line   int
	Name   string
	UID    string
	Tags   []string
	Fields map[string]string // every column, keyed by lower-cased header
}

// Key identifies the recipient for checkpoints and reports.
func (r Recipient) Key() string {
	if r.UID != "" {
		return "uid:" + r.UID
	}
	return "name:" + r.Name
}

// Label is a human-readable identifier.
func (r Recipient) Label() string {
	switch {
	case r.Name != "" && r.UID != "":
		return r.Name + " (" + r.UID + ")"
	case r.Name != "":
		return r.Name
	default:
		return r.UID
	}
}

// Vars returns the recipient's placeholder variables: every column plus
// name, uid and tags.
func (r Recipient) Vars() map[string]string {
	vars := make(map[string]string, len(r.Fields)+3)
	for k, v := range r.Fields {
		vars[k] = v
	}
	vars["name"] = r.Name
	vars["uid"] = r.UID
	vars["tags"] = strings.Join(r.Tags, ",")
	return vars
}

// Load reads a CSV recipient source. The first row is the header and must
// contain a name or uid column ("id" is accepted for uid).
func Load(path string) ([]Recipient, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recipient source: %w", err)
	}
	defer f.Close()
	return Parse(path, f)
}

// Parse reads CSV recipients from r. path is used in error messages.
func Parse(path string, r io.Reader) ([]Recipient, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &LoadError{Path: path, Message: "empty recipient source"}
	}
	if err != nil {
		return nil, csvError(path, err)
	}

	cols := make([]string, len(header))
	nameCol, uidCol, tagsCol := -1, -1, -1
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		cols[i] = h
		switch h {
		case "name":
			nameCol = i
		case "uid", "id":
			if uidCol == -1 {
				uidCol = i
			}
		case "tags":
			tagsCol = i
		}
	}
	if nameCol == -1 && uidCol == -1 {
		return nil, &LoadError{Path: path, Line: 1, Message: "header must contain a name or uid column"}
	}

	var out []Recipient
	seen := map[string]int{}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, csvError(path, err)
		}
		line, _ := cr.FieldPos(0)

		rcp := Recipient{Index: len(out), Line: line, Fields: make(map[string]string, len(rec))}
		for i, v := range rec {
			v = strings.TrimSpace(v)
			rcp.Fields[cols[i]] = v
			switch i {
			case nameCol:
				rcp.Name = v
			case uidCol:
				rcp.UID = v
			case tagsCol:
				rcp.Tags = splitTags(v)
			}
		}
		if rcp.Name == "" && rcp.UID == "" {
			return nil, &LoadError{Path: path, Line: line, Message: "row has neither name nor uid"}
		}
		if prev, dup := seen[rcp.Key()]; dup {
			return nil, &LoadError{Path: path, Line: line, Message: "duplicate recipient " + rcp.Label() + " (first on line " + strconv.Itoa(prev) + ")"}
		}
		seen[rcp.Key()] = line
		out = append(out, rcp)
	}
	return out, nil
}

func csvError(path string, err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &LoadError{Path: path, Line: pe.Line, Message: pe.Err.Error()}
	}
	return fmt.Errorf("failed to read recipient source: %w", err)
}

// splitTags splits a tag cell on ';', '|' or ','.
func splitTags(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ';' || r == '|' || r == ','
	})
	var tags []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			tags = append(tags, f)
		}
	}
	return tags
}
