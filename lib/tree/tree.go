package tree

import (
	"fmt"
	"os"
	"path"
	"strings"
	"time"
)

// Tree holds the two indices built during bootstrap and never mutated
// afterward (spec §3 "Global tree state", invariant I1). It owns every
// Node; callers only ever hold borrowed pointers into it.
type Tree struct {
	// byName maps an absolute pathname (starts with "/") to its Node.
	byName map[string]*Node

	// byIndex is an ordered slice positioned at
	// Node.IndexWithinArchive; gaps (skipped directory entries) hold
	// nil.
	byIndex []*Node

	root *Node

	// blockCount is the running count of DirectoryBlockSize units
	// attributed across all directories, reported by statfs.
	blockCount int64

	frozen bool
}

// New creates a Tree containing only the root node "/".
func New() *Tree {
	root := &Node{
		RelName:            "",
		Kind:               KindDirectory,
		IndexWithinArchive: NoIndex,
		Mode:               os.ModeDir,
	}
	return &Tree{
		byName: map[string]*Node{"/": root},
		root:   root,
	}
}

// Root returns the "/" node. Its non-nil return signals bootstrap has
// at least started; Freeze signals it has finished (I1).
func (t *Tree) Root() *Node { return t.root }

// Freeze marks the tree immutable. Calling any mutating method after
// Freeze panics — it indicates a bug in the bootstrap/read-path
// boundary, not a recoverable runtime condition.
func (t *Tree) Freeze() { t.frozen = true }

func (t *Tree) checkMutable() {
	if t.frozen {
		panic("tree: mutation attempted after Freeze")
	}
}

// Lookup returns the node at an absolute path, or nil if none exists.
func (t *Tree) Lookup(absPath string) *Node {
	return t.byName[absPath]
}

// NodeCount returns the total number of named nodes (files and
// directories), used for statfs's "files" field.
func (t *Tree) NodeCount() int { return len(t.byName) }

// NodeAtIndex returns the node positioned at a given archive ordinal,
// or nil if that index is unoccupied (skipped directory entry) or out
// of range. Invariant I2.
func (t *Tree) NodeAtIndex(index int) *Node {
	if index < 0 || index >= len(t.byIndex) {
		return nil
	}
	return t.byIndex[index]
}

// BlockCount returns the running block-accounting total for statfs.
func (t *Tree) BlockCount() int64 { return t.blockCount }

// NormalizePath validates and normalizes an archive entry's pathname
// per spec §4.5 "Pathname normalization": a leading "./" or "/" is
// tolerated and the result always starts with exactly one "/"; empty,
// ".", ".." and empty (double-slash) components are rejected.
func NormalizePath(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("empty pathname")
	}
	trimmed := strings.TrimPrefix(raw, "./")
	trimmed = strings.TrimPrefix(trimmed, "/")
	trimmed = strings.TrimSuffix(trimmed, "/")
	if trimmed == "" {
		return "", fmt.Errorf("pathname is empty after normalization")
	}

	components := strings.Split(trimmed, "/")
	for _, c := range components {
		switch c {
		case "":
			return "", fmt.Errorf("pathname %q contains an empty component", raw)
		case ".":
			return "", fmt.Errorf("pathname %q contains a \".\" component", raw)
		case "..":
			return "", fmt.Errorf("pathname %q contains a \"..\" component", raw)
		}
	}

	return "/" + strings.Join(components, "/"), nil
}

// LeafSpec describes the node InsertLeaf should create, gathered from
// an archive entry header by the bootstrap pass.
type LeafSpec struct {
	AbsPath            string
	Kind               EntryKind
	Symlink            string
	IndexWithinArchive int
	Size               int64
	Mtime              time.Time
	Mode               os.FileMode
}

// InsertLeaf walks absPath component by component from the root,
// creating implicit directories as needed, and attaches the described
// leaf at the terminal component. It returns an error (never panics)
// on a name collision or a non-terminal component that is not a
// directory — the bootstrap pass logs and skips the entry in that
// case rather than aborting (spec §4.5, §7 "per-entry errors").
func (t *Tree) InsertLeaf(spec LeafSpec) error {
	t.checkMutable()

	components := strings.Split(strings.TrimPrefix(spec.AbsPath, "/"), "/")
	current := t.root
	currentAbsPath := ""

	for _, name := range components[:len(components)-1] {
		currentAbsPath = path.Join(currentAbsPath, name)
		child := t.lookupChild(current, name)
		if child == nil {
			child = &Node{
				RelName:            name,
				Kind:               KindDirectory,
				IndexWithinArchive: NoIndex,
				Mode:               os.ModeDir,
			}
			current.appendChild(child)
			t.byName["/"+currentAbsPath] = child
		} else if !child.IsDir() {
			return fmt.Errorf("path component %q at %q collides with an existing non-directory entry",
				name, "/"+currentAbsPath)
		}
		current = child
	}

	terminalName := components[len(components)-1]
	if existing := t.byName[spec.AbsPath]; existing != nil {
		return fmt.Errorf("entry %q collides with an existing entry", spec.AbsPath)
	}

	leaf := &Node{
		RelName:            terminalName,
		Kind:               spec.Kind,
		Symlink:            spec.Symlink,
		IndexWithinArchive: spec.IndexWithinArchive,
		Size:               spec.Size,
		Mtime:              spec.Mtime,
		Mode:               spec.Mode,
	}
	current.appendChild(leaf)
	t.byName[spec.AbsPath] = leaf

	if spec.IndexWithinArchive >= 0 {
		t.growIndex(spec.IndexWithinArchive)
		t.byIndex[spec.IndexWithinArchive] = leaf
	}

	// Propagate ancestor accounting: widened mode, raised mtime, one
	// block per directory entry (spec §4.5 "On each ancestor visited").
	for ancestor := current; ancestor != nil; ancestor = ancestor.Parent {
		ancestor.widenModeForChild(leaf.Mode)
		if leaf.Mtime.After(ancestor.Mtime) {
			ancestor.Mtime = leaf.Mtime
		}
		ancestor.Size += DirectoryBlockSize
		t.blockCount++
	}

	return nil
}

func (t *Tree) lookupChild(parent *Node, name string) *Node {
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.RelName == name {
			return c
		}
	}
	return nil
}

func (t *Tree) growIndex(index int) {
	if index < len(t.byIndex) {
		return
	}
	grown := make([]*Node, index+1)
	copy(grown, t.byIndex)
	t.byIndex = grown
}
