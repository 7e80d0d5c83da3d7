package codec

import (
	"encoding/json"
	"strings"
)

// Node is the subset of the editor's mind-map node used by the backend.
type Node struct {
	Data struct {
		Text string `json:"text"`
	} `json:"data"`
	Children []Node `json:"children,omitempty"`
}

// Tree is the subset of the editor document used by the backend.
type Tree struct {
	Root *Node `json:"root"`
}

// ParseTree extracts the node tree from a payload. Unknown fields are ignored.
func ParseTree(payload json.RawMessage) (*Tree, error) {
	var t Tree
	if err := json.Unmarshal(payload, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// TitleOf returns the root node text, or DefaultTitle.
func TitleOf(payload json.RawMessage) string {
	t, err := ParseTree(payload)
	if err != nil || t.Root == nil {
		return DefaultTitle
	}
	if title := strings.TrimSpace(t.Root.Data.Text); title != "" {
		return title
	}
	return DefaultTitle
}
