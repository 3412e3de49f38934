// Package filter decides which tree entries take part in a copy.
package filter

import (
	"path/filepath"
	"strings"
)

// DefaultIgnores are skipped unless the configuration replaces them.
var DefaultIgnores = []string{".terraform", ".module", "__pycache__"}

// Rule represents a single include or exclude filter rule.
type Rule struct {
	Pattern *compiledPattern
	Include bool // true=include, false=exclude
}

// Chain holds an ordered list of filter rules plus size filters.
type Chain struct {
	rules   []Rule
	minSize int64
	maxSize int64
}

// NewChain creates an empty filter chain.
func NewChain() *Chain {
	return &Chain{}
}

// AddExclude adds an exclude rule for the given glob pattern.
func (c *Chain) AddExclude(pattern string) error {
	cp, err := compilePattern(pattern)
	if err != nil {
		return err
	}
	c.rules = append(c.rules, Rule{Pattern: cp, Include: false})
	return nil
}

// AddInclude adds an include rule for the given glob pattern.
func (c *Chain) AddInclude(pattern string) error {
	cp, err := compilePattern(pattern)
	if err != nil {
		return err
	}
	c.rules = append(c.rules, Rule{Pattern: cp, Include: true})
	return nil
}

// AddIgnore excludes every entry with a path component containing token.
// Ignoring a directory prunes its whole subtree.
func (c *Chain) AddIgnore(token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	c.rules = append(c.rules, Rule{Pattern: containsPattern(token), Include: false})
}

// AddIgnores calls AddIgnore for each token.
func (c *Chain) AddIgnores(tokens []string) {
	for _, t := range tokens {
		c.AddIgnore(t)
	}
}

// SetMinSize sets the minimum file size filter.
func (c *Chain) SetMinSize(n int64) {
	c.minSize = n
}

// SetMaxSize sets the maximum file size filter.
func (c *Chain) SetMaxSize(n int64) {
	c.maxSize = n
}

// Empty reports whether the chain has no rules and no size filters.
func (c *Chain) Empty() bool {
	return len(c.rules) == 0 && c.minSize == 0 && c.maxSize == 0
}

// Match returns true if the path should be INCLUDED (not filtered out).
// relPath is relative to the copy root, isDir indicates directories,
// and size is the file size (ignored for directories).
func (c *Chain) Match(relPath string, isDir bool, size int64) bool {
	if c == nil {
		return true
	}
	relPath = filepath.ToSlash(relPath)

	if !isDir {
		if c.minSize > 0 && size < c.minSize {
			return false
		}
		if c.maxSize > 0 && size > c.maxSize {
			return false
		}
	}

	// First match wins.
	for _, rule := range c.rules {
		if rule.Pattern.match(relPath, isDir) {
			return rule.Include
		}
	}

	return true
}

// ParseList splits a comma-separated list, trimming blanks.
func ParseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
