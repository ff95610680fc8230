package docsync

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/HendryAvila/graphmcp/internal/graph"
)

// ConflictMarker opens the section holding the stored version of a
// conflicting document.
const ConflictMarker = "## SYNC CONFLICT: Database Version"

// legacyConflictMarker is the marker older mirrors used.
const legacyConflictMarker = "## 🔄 SYNC CONFLICT: Database Version"

// renderedRelations are the outgoing relations projected into documents.
var renderedRelations = []string{
	graph.RelCanPerform,
	graph.RelConflict,
	graph.RelDecomposes,
	graph.RelDependsOn,
	graph.RelImplements,
	graph.RelImports,
	graph.RelRelatesTo,
	graph.RelRestricts,
}

func isRenderedRelation(rel string) bool {
	for _, r := range renderedRelations {
		if r == rel {
			return true
		}
	}
	return false
}

// reservedKeys never appear as free-form properties in a document.
var reservedKeys = map[string]bool{
	"uid": true, "type": true, "title": true, "status": true, "description": true,
	"project": true, "content": true, "embedding": true, "created_at": true,
	"updated_at": true, "tags": true, "cssclasses": true, "name": true,
}

// relationKey maps DEPENDS_ON to depends-on.
func relationKey(rel string) string {
	return strings.ToLower(strings.ReplaceAll(rel, "_", "-"))
}

// relationFromKey maps depends-on or depends_on back to DEPENDS_ON.
func relationFromKey(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// Document is the parsed form of a mirrored file.
type Document struct {
	UID         string
	Type        string
	Title       string
	Status      string
	Description string
	Project     string
	Props       map[string]any
	// Relations maps a relation type to its target uids.
	Relations map[string][]string
	Body      string
	// Conflict holds the stored text found in a conflict section.
	Conflict string
}

// DocumentFor projects a node and its outgoing edges into a Document with
// the given body.
func DocumentFor(n *graph.Node, edges []graph.Edge, body string) Document {
	d := Document{
		UID:         n.UID,
		Type:        n.Type,
		Title:       n.Title,
		Status:      n.Status,
		Description: n.Description,
		Project:     n.Project,
		Body:        body,
	}
	for k, v := range n.Props {
		if reservedKeys[k] || isRenderedRelation(relationFromKey(k)) {
			continue
		}
		if d.Props == nil {
			d.Props = make(map[string]any)
		}
		d.Props[k] = v
	}
	for _, e := range edges {
		if e.From != n.UID || !isRenderedRelation(e.Type) {
			continue
		}
		if d.Relations == nil {
			d.Relations = make(map[string][]string)
		}
		d.Relations[e.Type] = append(d.Relations[e.Type], e.To)
	}
	return d
}

// ─── Render ─────────────────────────────────────────────────────────────────

// Render produces the file bytes. Output depends only on the document, so
// rendering twice yields identical bytes.
func (d Document) Render() ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	addString := func(key, value string) {
		root.Content = append(root.Content, keyNode(key), quoted(value))
	}

	addString("uid", d.UID)
	addString("title", d.Title)
	addString("type", d.Type)
	if d.Status != "" {
		addString("status", d.Status)
	}
	if d.Project != "" {
		addString("project", d.Project)
	}
	if d.Description != "" {
		addString("description", d.Description)
	}

	keys := make([]string, 0, len(d.Props))
	for k := range d.Props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := &yaml.Node{}
		if err := v.Encode(d.Props[k]); err != nil {
			return nil, fmt.Errorf("encoding property %s: %w", k, err)
		}
		root.Content = append(root.Content, keyNode(k), v)
	}

	rels := make([]string, 0, len(d.Relations))
	for rel, targets := range d.Relations {
		if len(targets) > 0 {
			rels = append(rels, rel)
		}
	}
	sort.Strings(rels)
	for _, rel := range rels {
		targets := append([]string(nil), d.Relations[rel]...)
		sort.Strings(targets)
		seq := &yaml.Node{Kind: yaml.SequenceNode}
		for _, t := range targets {
			seq.Content = append(seq.Content, quoted("[["+t+"]]"))
		}
		root.Content = append(root.Content, keyNode(relationKey(rel)), seq)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("encoding frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding frontmatter: %w", err)
	}
	buf.WriteString("---\n\n")
	buf.WriteString("# " + headingText(d.Title) + "\n")
	if d.Body != "" {
		buf.WriteString("\n" + d.Body + "\n")
	}
	if d.Conflict != "" {
		buf.WriteString("\n" + ConflictMarker + "\n\n" + d.Conflict + "\n")
	}
	return buf.Bytes(), nil
}

func keyNode(k string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}
}

func quoted(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v, Style: yaml.DoubleQuotedStyle}
}

// ─── Parse ──────────────────────────────────────────────────────────────────

// Parse reads a mirrored document. Files without frontmatter parse to a
// document holding only a body (and a title when the body opens with a
// heading). Conflict sections are split off before anything else.
func Parse(data []byte) (Document, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")

	var d Document
	rest := text
	if fm, body, ok := splitFrontmatter(text); ok {
		if err := d.decodeFrontmatter(fm); err != nil {
			return Document{}, err
		}
		rest = body
	}

	rest, d.Conflict = splitConflict(rest)
	d.Body = cleanBody(rest, &d.Title)
	return d, nil
}

func splitFrontmatter(text string) (fm, body string, ok bool) {
	if !strings.HasPrefix(text, "---\n") {
		return "", text, false
	}
	after := text[len("---\n"):]
	if strings.HasPrefix(after, "---\n") || after == "---" {
		return "", strings.TrimPrefix(after, "---"), true
	}
	if i := strings.Index(after, "\n---\n"); i >= 0 {
		return after[:i], after[i+len("\n---\n"):], true
	}
	if strings.HasSuffix(after, "\n---") {
		return strings.TrimSuffix(after, "\n---"), "", true
	}
	return "", text, false
}

func (d *Document) decodeFrontmatter(fm string) error {
	if strings.TrimSpace(fm) == "" {
		return nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(fm), &doc); err != nil {
		return fmt.Errorf("parsing frontmatter: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil
	}
	m := doc.Content[0]
	if m.Kind != yaml.MappingNode {
		return fmt.Errorf("parsing frontmatter: expected a mapping")
	}

	for i := 0; i+1 < len(m.Content); i += 2 {
		key, val := m.Content[i].Value, m.Content[i+1]
		switch key {
		case "uid":
			d.UID = scalar(val)
		case "type":
			d.Type = scalar(val)
		case "title":
			d.Title = scalar(val)
		case "status":
			d.Status = scalar(val)
		case "description":
			d.Description = scalar(val)
		case "project":
			d.Project = scalar(val)
		default:
			if reservedKeys[key] {
				continue
			}
			if rel := relationFromKey(key); isRenderedRelation(rel) {
				if targets := linkTargets(val); len(targets) > 0 {
					if d.Relations == nil {
						d.Relations = make(map[string][]string)
					}
					d.Relations[rel] = append(d.Relations[rel], targets...)
				}
				continue
			}
			var v any
			if err := val.Decode(&v); err != nil {
				return fmt.Errorf("decoding property %s: %w", key, err)
			}
			if d.Props == nil {
				d.Props = make(map[string]any)
			}
			d.Props[key] = v
		}
	}
	return nil
}

func scalar(n *yaml.Node) string {
	if n.Kind == yaml.ScalarNode {
		return n.Value
	}
	var v any
	if err := n.Decode(&v); err != nil {
		return ""
	}
	return fmt.Sprint(v)
}

// linkTargets reads "[[uid]]" items from a list or a single scalar.
func linkTargets(n *yaml.Node) []string {
	var raw []string
	switch n.Kind {
	case yaml.SequenceNode:
		for _, item := range n.Content {
			raw = append(raw, item.Value)
		}
	case yaml.ScalarNode:
		raw = append(raw, n.Value)
	}
	var out []string
	for _, r := range raw {
		t := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(r), "[["), "]]"))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func splitConflict(body string) (kept, conflict string) {
	for _, marker := range []string{ConflictMarker, legacyConflictMarker} {
		if strings.HasPrefix(body, marker) {
			return "", strings.TrimSpace(body[len(marker):])
		}
		if i := strings.Index(body, "\n"+marker); i >= 0 {
			return body[:i], strings.TrimSpace(body[i+1+len(marker):])
		}
	}
	return body, ""
}

// cleanBody drops the rendered heading and the legacy status callout.
func cleanBody(body string, title *string) string {
	lines := strings.Split(body, "\n")
	i := skipBlank(lines, 0)

	if i < len(lines) && strings.HasPrefix(lines[i], "# ") {
		heading := strings.TrimSpace(lines[i][2:])
		switch {
		case *title == "":
			*title = heading
			i = skipBlank(lines, i+1)
		case heading == headingText(*title):
			i = skipBlank(lines, i+1)
		}
	}

	if isLegacyCallout(lines, i) {
		i = skipBlank(lines, i+2)
		if i < len(lines) && strings.TrimSpace(lines[i]) == "## Description" {
			i = skipBlank(lines, i+1)
		}
	}

	rest := strings.Join(lines[i:], "\n")
	return strings.TrimRight(rest, " \t\n")
}

// headingText is the title as it appears in the rendered heading: one line,
// inner whitespace collapsed.
func headingText(title string) string {
	return strings.Join(strings.Fields(title), " ")
}

// isLegacyCallout reports whether lines[i:] open with the two-line status
// callout older exports wrote under the heading:
//
//	> [!abstract] Task Context
//	> **ID:** `TASK-X` | **Status:** `Open`
//
// Any other callout is content.
func isLegacyCallout(lines []string, i int) bool {
	if i+1 >= len(lines) {
		return false
	}
	head := strings.TrimSpace(lines[i])
	if !strings.HasPrefix(head, "> [!abstract] ") || !strings.HasSuffix(head, " Context") {
		return false
	}
	return strings.HasPrefix(strings.TrimSpace(lines[i+1]), "> **ID:**")
}

func skipBlank(lines []string, i int) int {
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	return i
}

// Normalize collapses whitespace inside lines and drops blank lines, so
// reflowed or re-indented text compares equal.
func Normalize(s string) string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		if f := strings.Fields(line); len(f) > 0 {
			out = append(out, strings.Join(f, " "))
		}
	}
	return strings.Join(out, "\n")
}
