package state

// FolderStatus is the externally visible state of an inbox folder.
// Unlike Progress it carries no ordering.
type FolderStatus string

const (
	StatusUnknown    FolderStatus = "unknown"
	StatusFailed     FolderStatus = "failed"
	StatusNotStarted FolderStatus = "not_started"
	StatusPending    FolderStatus = "pending"
	StatusPreviewing FolderStatus = "previewing"
	StatusTagged     FolderStatus = "tagged"
	StatusImporting  FolderStatus = "importing"
	StatusImported   FolderStatus = "imported"
	StatusDeleting   FolderStatus = "deleting"
	StatusDeleted    FolderStatus = "deleted"
)

// StatusFor maps a session progress to the folder status clients see.
func StatusFor(p Progress) FolderStatus {
	switch {
	case p == NotStarted:
		return StatusNotStarted
	case p < PreviewCompleted:
		return StatusPreviewing
	case p == PreviewCompleted:
		return StatusTagged
	case p == DeletionCompleted:
		return StatusDeleted
	case p == Deleting:
		return StatusDeleting
	case p == ImportCompleted:
		return StatusImported
	default:
		return StatusImporting
	}
}
