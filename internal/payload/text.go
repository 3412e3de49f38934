package payload

import (
	"fmt"
	"path/filepath"
	"strings"
)

var (
	heavyRule = strings.Repeat("=", 50)
	lightRule = strings.Repeat("-", 50)
)

func renderText(doc Document) string {
	var b strings.Builder

	b.WriteString("Directory Trees:\n")
	b.WriteString(heavyRule + "\n")
	for _, t := range doc.Trees {
		fmt.Fprintf(&b, "\nTree for %s:\n", t.Root)
		if t.Node == nil {
			b.WriteString("(empty or inaccessible)\n")
		} else {
			writeNode(&b, t.Node, "", true)
		}
		b.WriteString("\n" + lightRule + "\n")
	}
	b.WriteString("\n" + heavyRule + "\n\n")

	for _, f := range doc.Files {
		path := filepath.ToSlash(f.Path)
		if f.Error != "" {
			fmt.Fprintf(&b, "Error reading %s: %s\n\n", path, f.Error)
			continue
		}
		fmt.Fprintf(&b, "File: %s\n", path)
		b.WriteString(lightRule + "\n")
		b.WriteString(f.Content)
		b.WriteString("\n\n" + heavyRule + "\n\n")
	}

	return b.String()
}

func writeNode(b *strings.Builder, n *Node, prefix string, last bool) {
	branch, indent := "├── ", "│   "
	if last {
		branch, indent = "└── ", "    "
	}

	b.WriteString(prefix + branch + label(n) + "\n")
	for i, c := range n.Children {
		writeNode(b, c, prefix+indent, i == len(n.Children)-1)
	}
}

func label(n *Node) string {
	switch n.Type {
	case DirNode:
		return n.Name + "/"
	case SymlinkNode:
		return n.Name + " -> " + n.Target
	default:
		return n.Name
	}
}
