package docsync

import "strings"

// Status is the per-node merge outcome of one materialization.
type Status string

const (
	// StatusClean means the rendered body is the stored text.
	StatusClean Status = "Clean"
	// StatusDiskAuthoritative means the on-disk body was kept as is.
	StatusDiskAuthoritative Status = "DiskAuthoritative"
	// StatusConflict means both sides diverged; the disk body was kept and
	// the stored text was appended in a conflict section.
	StatusConflict Status = "Conflict"
)

// MergeInput carries both sides of a document body.
type MergeInput struct {
	// DB is the stored text (content, else description).
	DB string
	// Disk is the body currently on file, conflict section removed.
	Disk string
	// DiskPriority marks types whose documents outrank the store.
	DiskPriority bool
	// Base, when set, is the stored text before the write that triggered
	// this merge. A disk body still equal to it is stale, not a local edit.
	Base *string
}

// MergeResult is the body to render and the resulting status.
type MergeResult struct {
	Body     string
	Conflict string
	Status   Status
}

// Merge applies the content-merge rules in order:
//
//  1. disk empty: render db
//  2. db empty: adopt disk
//  3. disk stale (equal to Base): render db
//  4. disk-priority type: render disk, ignore db
//  5. normalized equal: render db
//  6. otherwise: conflict, keep disk and attach db
//
// Rule 3 comes before disk priority: right after a gateway write the file
// still holds Base, so an update_node on a Spec, Roadmap or Epic replaces
// the document. Disk priority only protects bodies a human has changed.
func Merge(in MergeInput) MergeResult {
	switch {
	case strings.TrimSpace(in.Disk) == "":
		return MergeResult{Body: in.DB, Status: StatusClean}
	case strings.TrimSpace(in.DB) == "":
		return MergeResult{Body: in.Disk, Status: StatusDiskAuthoritative}
	case in.Base != nil && Normalize(in.Disk) == Normalize(*in.Base):
		return MergeResult{Body: in.DB, Status: StatusClean}
	case in.DiskPriority:
		return MergeResult{Body: in.Disk, Status: StatusDiskAuthoritative}
	}

	disk := Normalize(in.Disk)
	if Normalize(in.DB) == disk {
		return MergeResult{Body: in.DB, Status: StatusClean}
	}
	return MergeResult{Body: in.Disk, Conflict: in.DB, Status: StatusConflict}
}
