// Package payload serializes a scanned tree into the text placed on the
// clipboard: one tree section per root followed by the file contents.
package payload

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
)

// Format selects the payload encoding.
type Format int

const (
	Text Format = iota
	JSON
	YAML
)

func (f Format) String() string {
	switch f {
	case Text:
		return "text"
	case JSON:
		return "json"
	case YAML:
		return "yaml"
	default:
		return "unknown"
	}
}

// ParseFormat maps a --format value onto a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return Text, nil
	case "json":
		return JSON, nil
	case "yaml", "yml":
		return YAML, nil
	default:
		return Text, fmt.Errorf("unknown format %q (want text, json or yaml)", s)
	}
}

// NodeType is the kind of a tree node.
type NodeType string

const (
	FileNode    NodeType = "file"
	DirNode     NodeType = "dir"
	SymlinkNode NodeType = "symlink"
)

// Node is one entry in a rendered tree.
type Node struct {
	Name     string   `json:"name" yaml:"name"`
	Type     NodeType `json:"type" yaml:"type"`
	Target   string   `json:"target,omitempty" yaml:"target,omitempty"`
	Children []*Node  `json:"children,omitempty" yaml:"children,omitempty"`
}

// Tree is the structure of one root directory. A nil Node means the root
// was empty or could not be read.
type Tree struct {
	Root string `json:"root" yaml:"root"`
	Node *Node  `json:"tree,omitempty" yaml:"tree,omitempty"`
}

// File is the content section for one file. Error is set instead of
// Content when the file could not be read.
type File struct {
	Path    string `json:"path" yaml:"path"`
	Content string `json:"content,omitempty" yaml:"content,omitempty"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Document is everything that goes into one payload.
type Document struct {
	Trees []Tree `json:"trees" yaml:"trees"`
	Files []File `json:"files,omitempty" yaml:"files,omitempty"`
}

// Entry is a flat description of a node used by BuildTree.
type Entry struct {
	RelPath string
	Type    NodeType
	Target  string
}

// BuildTree assembles entries, given relative to a root named rootName, into
// a node hierarchy. Children are sorted by name. Missing intermediate
// directories are synthesized.
func BuildTree(rootName string, entries []Entry) *Node {
	root := &Node{Name: rootName, Type: DirNode}
	index := map[string]*Node{".": root}

	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return filepath.ToSlash(sorted[i].RelPath) < filepath.ToSlash(sorted[j].RelPath)
	})

	var parentOf func(rel string) *Node
	parentOf = func(rel string) *Node {
		dir := filepath.Dir(rel)
		if n, ok := index[dir]; ok {
			return n
		}
		p := parentOf(dir)
		n := &Node{Name: filepath.Base(dir), Type: DirNode}
		p.Children = append(p.Children, n)
		index[dir] = n
		return n
	}

	for _, e := range sorted {
		rel := filepath.Clean(e.RelPath)
		if rel == "." {
			continue
		}
		if existing, ok := index[rel]; ok {
			existing.Type = e.Type
			existing.Target = e.Target
			continue
		}
		n := &Node{Name: filepath.Base(rel), Type: e.Type, Target: e.Target}
		p := parentOf(rel)
		p.Children = append(p.Children, n)
		index[rel] = n
	}

	sortNode(root)
	return root
}

func sortNode(n *Node) {
	sort.Slice(n.Children, func(i, j int) bool {
		return n.Children[i].Name < n.Children[j].Name
	})
	for _, c := range n.Children {
		sortNode(c)
	}
}

// Render encodes doc in the requested format.
func Render(doc Document, format Format) (string, error) {
	switch format {
	case Text:
		return renderText(doc), nil
	case JSON:
		b, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode json payload: %w", err)
		}
		return string(b) + "\n", nil
	case YAML:
		b, err := yaml.Marshal(doc)
		if err != nil {
			return "", fmt.Errorf("encode yaml payload: %w", err)
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("unknown format %d", format)
	}
}
