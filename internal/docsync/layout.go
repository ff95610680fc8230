package docsync

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ExportDir is the mirror folder under the workspace root.
const ExportDir = "Graph_Export"

// unclassified receives nodes of unmapped types.
const unclassified = "9_Unclassified"

var typeFolders = map[string]string{
	"Epic":        "0_Epics",
	"Idea":        "1_Ideas",
	"Spec":        "2_Specs",
	"Roadmap":     "2_Specs",
	"Task":        "3_Tasks",
	"Bug":         "3_Tasks",
	"Requirement": "4_Requirements",
	"Domain":      "5_Domain",
	"File":        "6_Code/Files",
	"Class":       "6_Code/Classes",
	"Function":    "6_Code/Functions",
	"Module":      "6_Code/Modules",
	"Constraint":  "Graph_Physics",
	"Action":      "Graph_Physics",
	"NodeType":    "Graph_Physics",
}

// FolderFor returns the subfolder documents of a type live in.
func FolderFor(nodeType string) string {
	if f, ok := typeFolders[nodeType]; ok {
		return f
	}
	return unclassified
}

// FileName derives the document filename from a uid.
func FileName(uid string) string {
	r := strings.NewReplacer("/", "_", `\`, "_")
	return r.Replace(uid) + ".md"
}

// Layout resolves document paths under a workspace root.
type Layout struct {
	root string
}

// NewLayout returns the layout for a workspace root.
func NewLayout(workspaceRoot string) Layout {
	return Layout{root: filepath.Join(workspaceRoot, ExportDir)}
}

// Root returns the export directory.
func (l Layout) Root() string { return l.root }

// Path returns where the document for uid of nodeType lives.
func (l Layout) Path(uid, nodeType string) string {
	return filepath.Join(l.root, filepath.FromSlash(FolderFor(nodeType)), FileName(uid))
}

// Find returns every existing document for uid, regardless of folder.
func (l Layout) Find(uid string) []string {
	name := FileName(uid)
	var found []string
	_ = filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && d.Name() == name {
			found = append(found, path)
		}
		return nil
	})
	return found
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
