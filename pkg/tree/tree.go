// Package tree implements the pure transformations of the virtual file tree.
//
// A tree is an ordered slice of root nodes. Every transformation returns a
// new slice and never mutates the nodes it was given: the path from the root
// to the changed node is copied and every untouched subtree is shared with
// the input. On error the input slice is returned as is.
package tree

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/instantpreview/instantpreview/pkg/models"
)

var (
	ErrNotFound    = errors.New("node not found")
	ErrNotFolder   = errors.New("node is not a folder")
	ErrNotFile     = errors.New("node is not a file")
	ErrDuplicateID = errors.New("duplicate node id")
	ErrInvalidNode = errors.New("invalid node")
)

// Create appends node to the root sequence when parentID is empty, or to the
// children of the folder with that id, refreshing the folder's DateModified.
func Create(nodes []*models.FileNode, node *models.FileNode, parentID string) ([]*models.FileNode, error) {
	n, err := prepare(nodes, node)
	if err != nil {
		return nodes, err
	}

	if parentID == "" {
		out := make([]*models.FileNode, len(nodes), len(nodes)+1)
		copy(out, nodes)
		return append(out, n), nil
	}

	out, found, err := update(nodes, parentID, func(parent *models.FileNode) (*models.FileNode, error) {
		if !parent.IsFolder() {
			return nil, fmt.Errorf("create under %q: %w", parentID, ErrNotFolder)
		}
		cp := *parent
		cp.Children = make([]*models.FileNode, len(parent.Children), len(parent.Children)+1)
		copy(cp.Children, parent.Children)
		cp.Children = append(cp.Children, n)
		cp.DateModified = models.Now()
		return &cp, nil
	})
	if err != nil {
		return nodes, err
	}
	if !found {
		return nodes, fmt.Errorf("create under %q: %w", parentID, ErrNotFound)
	}
	return out, nil
}

// Delete removes the node with the given id together with its subtree.
func Delete(nodes []*models.FileNode, id string) ([]*models.FileNode, error) {
	out, found := remove(nodes, id)
	if !found {
		return nodes, fmt.Errorf("delete %q: %w", id, ErrNotFound)
	}
	return out, nil
}

// Rename sets the node's name and refreshes DateModified, even when the
// name is unchanged. Sibling names are not required to be unique.
func Rename(nodes []*models.FileNode, id, name string) ([]*models.FileNode, error) {
	out, found, err := update(nodes, id, func(n *models.FileNode) (*models.FileNode, error) {
		if !utf8.ValidString(name) {
			return nil, fmt.Errorf("%w: name of %q is not valid UTF-8", ErrInvalidNode, id)
		}
		cp := *n
		cp.Name = name
		cp.DateModified = models.Now()
		return &cp, nil
	})
	if err != nil {
		return nodes, err
	}
	if !found {
		return nodes, fmt.Errorf("rename %q: %w", id, ErrNotFound)
	}
	return out, nil
}

// UpdateContent replaces a file's content and refreshes DateModified.
func UpdateContent(nodes []*models.FileNode, id, content string) ([]*models.FileNode, error) {
	out, found, err := update(nodes, id, func(n *models.FileNode) (*models.FileNode, error) {
		if !n.IsFile() {
			return nil, fmt.Errorf("update content of %q: %w", id, ErrNotFile)
		}
		if !utf8.ValidString(content) {
			return nil, fmt.Errorf("%w: content of %q is not valid UTF-8", ErrInvalidNode, id)
		}
		cp := *n
		cp.Content = content
		cp.DateModified = models.Now()
		return &cp, nil
	})
	if err != nil {
		return nodes, err
	}
	if !found {
		return nodes, fmt.Errorf("update content of %q: %w", id, ErrNotFound)
	}
	return out, nil
}

// FindByID returns the first node with the given id in depth-first order.
func FindByID(nodes []*models.FileNode, id string) (*models.FileNode, bool) {
	for _, n := range nodes {
		if n.ID == id {
			return n, true
		}
		if found, ok := FindByID(n.Children, id); ok {
			return found, true
		}
	}
	return nil, false
}

// FindParent returns the folder holding the node with the given id. A root
// level node has a nil parent and ok set to true.
func FindParent(nodes []*models.FileNode, id string) (*models.FileNode, bool) {
	for _, n := range nodes {
		if n.ID == id {
			return nil, true
		}
	}
	for _, n := range nodes {
		if p, ok := findParent(n, id); ok {
			return p, true
		}
	}
	return nil, false
}

func findParent(parent *models.FileNode, id string) (*models.FileNode, bool) {
	for _, c := range parent.Children {
		if c.ID == id {
			return parent, true
		}
		if p, ok := findParent(c, id); ok {
			return p, true
		}
	}
	return nil, false
}

// FindByPath resolves a slash separated name path such as "Examples/example.py".
// Names are not unique, so the first match at each level wins.
func FindByPath(nodes []*models.FileNode, path string) (*models.FileNode, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return nil, false
	}
	level := nodes
	var cur *models.FileNode
	for _, part := range parts {
		cur = nil
		for _, n := range level {
			if n.Name == part {
				cur = n
				break
			}
		}
		if cur == nil {
			return nil, false
		}
		level = cur.Children
	}
	return cur, true
}

// PathOf returns the slash separated name path of the node with the given id.
func PathOf(nodes []*models.FileNode, id string) (string, bool) {
	for _, n := range nodes {
		if n.ID == id {
			return n.Name, true
		}
		if p, ok := PathOf(n.Children, id); ok {
			return n.Name + "/" + p, true
		}
	}
	return "", false
}

// CountNodes counts all nodes at every depth.
func CountNodes(nodes []*models.FileNode) int {
	count := 0
	for _, n := range nodes {
		count += 1 + CountNodes(n.Children)
	}
	return count
}

// Walk visits every node depth-first. Returning false from fn skips the
// node's children.
func Walk(nodes []*models.FileNode, fn func(n *models.FileNode, depth int) bool) {
	walk(nodes, 0, fn)
}

func walk(nodes []*models.FileNode, depth int, fn func(*models.FileNode, int) bool) {
	for _, n := range nodes {
		if fn(n, depth) {
			walk(n.Children, depth+1, fn)
		}
	}
}

// Flatten returns all nodes keyed by id.
func Flatten(nodes []*models.FileNode) map[string]*models.FileNode {
	result := make(map[string]*models.FileNode)
	Walk(nodes, func(n *models.FileNode, _ int) bool {
		result[n.ID] = n
		return true
	})
	return result
}

// Descendants returns the ids of the node with the given id and of every
// node below it.
func Descendants(nodes []*models.FileNode, id string) []string {
	n, ok := FindByID(nodes, id)
	if !ok {
		return nil
	}
	ids := []string{n.ID}
	Walk(n.Children, func(c *models.FileNode, _ int) bool {
		ids = append(ids, c.ID)
		return true
	})
	return ids
}

// ValidateIDs checks that ids are non-empty and unique across the tree and
// that every node has a known kind.
func ValidateIDs(nodes []*models.FileNode) error {
	seen := make(map[string]struct{})
	var err error
	Walk(nodes, func(n *models.FileNode, _ int) bool {
		if err != nil {
			return false
		}
		err = checkNode(n, seen)
		return err == nil
	})
	return err
}

// Clone returns a deep copy of the tree.
func Clone(nodes []*models.FileNode) []*models.FileNode {
	if nodes == nil {
		return nil
	}
	out := make([]*models.FileNode, len(nodes))
	for i, n := range nodes {
		cp := *n
		if n.IsFolder() {
			cp.Children = Clone(n.Children)
			if cp.Children == nil {
				cp.Children = []*models.FileNode{}
			}
		}
		out[i] = &cp
	}
	return out
}

// Equal reports whether two trees hold the same nodes in the same order,
// comparing timestamps as instants.
func Equal(a, b []*models.FileNode) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.ID != y.ID || x.Name != y.Name || x.Kind != y.Kind ||
			x.Content != y.Content || x.Language != y.Language ||
			!x.DateCreated.Equal(y.DateCreated) || !x.DateModified.Equal(y.DateModified) {
			return false
		}
		if !Equal(x.Children, y.Children) {
			return false
		}
	}
	return true
}

func prepare(nodes []*models.FileNode, node *models.FileNode) (*models.FileNode, error) {
	if node == nil {
		return nil, fmt.Errorf("%w: nil node", ErrInvalidNode)
	}
	seen := make(map[string]struct{})
	Walk(nodes, func(n *models.FileNode, _ int) bool {
		seen[n.ID] = struct{}{}
		return true
	})
	if err := checkNode(node, seen); err != nil {
		return nil, err
	}
	var err error
	Walk(node.Children, func(n *models.FileNode, _ int) bool {
		if err != nil {
			return false
		}
		err = checkNode(n, seen)
		return err == nil
	})
	if err != nil {
		return nil, err
	}

	cp := *node
	if cp.IsFolder() {
		if cp.Children == nil {
			cp.Children = []*models.FileNode{}
		}
		cp.Content, cp.Language = "", ""
	} else {
		cp.Children = nil
	}
	return &cp, nil
}

func checkNode(n *models.FileNode, seen map[string]struct{}) error {
	if n == nil {
		return fmt.Errorf("%w: nil node", ErrInvalidNode)
	}
	if n.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidNode)
	}
	if !n.Kind.Valid() {
		return fmt.Errorf("%w: node %q has kind %q", ErrInvalidNode, n.ID, n.Kind)
	}
	if n.IsFile() && len(n.Children) > 0 {
		return fmt.Errorf("%w: file %q has children", ErrInvalidNode, n.ID)
	}
	// Stored as JSON, which cannot carry invalid UTF-8 unchanged.
	if !utf8.ValidString(n.Name) || !utf8.ValidString(n.Content) {
		return fmt.Errorf("%w: node %q is not valid UTF-8", ErrInvalidNode, n.ID)
	}
	if _, dup := seen[n.ID]; dup {
		return fmt.Errorf("%w: %q", ErrDuplicateID, n.ID)
	}
	seen[n.ID] = struct{}{}
	return nil
}

// update copies the path to the node with the given id and swaps that node
// for fn's result.
func update(nodes []*models.FileNode, id string, fn func(*models.FileNode) (*models.FileNode, error)) ([]*models.FileNode, bool, error) {
	for i, n := range nodes {
		if n.ID == id {
			repl, err := fn(n)
			if err != nil {
				return nodes, true, err
			}
			out := make([]*models.FileNode, len(nodes))
			copy(out, nodes)
			out[i] = repl
			return out, true, nil
		}
		if len(n.Children) == 0 {
			continue
		}
		children, found, err := update(n.Children, id, fn)
		if err != nil {
			return nodes, true, err
		}
		if found {
			cp := *n
			cp.Children = children
			out := make([]*models.FileNode, len(nodes))
			copy(out, nodes)
			out[i] = &cp
			return out, true, nil
		}
	}
	return nodes, false, nil
}

func remove(nodes []*models.FileNode, id string) ([]*models.FileNode, bool) {
	for i, n := range nodes {
		if n.ID == id {
			out := make([]*models.FileNode, 0, len(nodes)-1)
			out = append(out, nodes[:i]...)
			return append(out, nodes[i+1:]...), true
		}
		if len(n.Children) == 0 {
			continue
		}
		if children, found := remove(n.Children, id); found {
			cp := *n
			cp.Children = children
			out := make([]*models.FileNode, len(nodes))
			copy(out, nodes)
			out[i] = &cp
			return out, true
		}
	}
	return nodes, false
}
