package project

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FileAction is a closed set of mutations: Create, Update or Delete.
type FileAction interface {
	Target() string
	apply(files map[string]string)
}

// Create adds a file, replacing any existing content.
type Create struct {
	Path    string
	Content string
}

// Update replaces the content of a file, creating it if missing.
type Update struct {
	Path    string
	Content string
}

// Delete removes a file. Deleting a missing file is a no-op.
type Delete struct {
	Path string
}

func (a Create) Target() string { return NormalizeKey(a.Path) }
func (a Update) Target() string { return NormalizeKey(a.Path) }
func (a Delete) Target() string { return NormalizeKey(a.Path) }

func (a Create) apply(files map[string]string) { files[a.Target()] = a.Content }
func (a Update) apply(files map[string]string) { files[a.Target()] = a.Content }
func (a Delete) apply(files map[string]string) { delete(files, a.Target()) }

// actionRecord is the wire shape produced by the code generator.
type actionRecord struct {
	Action  string  `json:"action"`
	Path    string  `json:"path"`
	Content *string `json:"content,omitempty"`
}

// DecodeActions parses a JSON array of {"action","path","content"} records.
func DecodeActions(data []byte) ([]FileAction, error) {
	var records []actionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode file actions: %w", err)
	}

	actions := make([]FileAction, 0, len(records))
	for i, r := range records {
		a, err := r.toAction()
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		actions = append(actions, a)
	}
	return actions, nil
}

func (r actionRecord) toAction() (FileAction, error) {
	if NormalizeKey(r.Path) == "" {
		return nil, fmt.Errorf("missing path")
	}
	content := ""
	if r.Content != nil {
		content = *r.Content
	}
	switch strings.ToLower(strings.TrimSpace(r.Action)) {
	case "create":
		return Create{Path: r.Path, Content: content}, nil
	case "update":
		if r.Content == nil {
			return nil, fmt.Errorf("update of %s has no content", r.Path)
		}
		return Update{Path: r.Path, Content: content}, nil
	case "delete":
		return Delete{Path: r.Path}, nil
	default:
		return nil, fmt.Errorf("unknown action %q", r.Action)
	}
}

// EncodeAction renders an action back into its wire record.
func EncodeAction(a FileAction) ([]byte, error) {
	var r actionRecord
	switch v := a.(type) {
	case Create:
		r = actionRecord{Action: "create", Path: v.Target(), Content: &v.Content}
	case Update:
		r = actionRecord{Action: "update", Path: v.Target(), Content: &v.Content}
	case Delete:
		r = actionRecord{Action: "delete", Path: v.Target()}
	default:
		return nil, fmt.Errorf("unsupported action %T", a)
	}
	return json.Marshal(r)
}

// Apply returns a new snapshot with actions applied in order.
func Apply(s Snapshot, actions ...FileAction) Snapshot {
	files := s.Map()
	for _, a := range actions {
		if a == nil || a.Target() == "" {
			continue
		}
		a.apply(files)
	}
	return newSnapshot(files)
}
