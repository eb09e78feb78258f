package state

import "fmt"

// Progress is the totally ordered stage marker of tasks and sessions.
type Progress int

const (
	NotStarted Progress = iota
	ReadingFiles
	GroupingAlbums
	LookingUpCandidates
	IdentifyingDuplicates
	PreviewCompleted
	DeletionCompleted
	OfferingMatches
	MatchThreshold
	WaitingForUserSelection
	EarlyImporting
	Importing
	ManipulatingFiles
	ImportCompleted
	Deleting
)

var progressNames = [...]string{
	"not_started",
	"reading_files",
	"grouping_albums",
	"looking_up_candidates",
	"identifying_duplicates",
	"preview_completed",
	"deletion_completed",
	"offering_matches",
	"match_threshold",
	"waiting_for_user_selection",
	"early_importing",
	"importing",
	"manipulating_files",
	"import_completed",
	"deleting",
}

func (p Progress) String() string {
	if p < NotStarted || int(p) >= len(progressNames) {
		return fmt.Sprintf("progress(%d)", int(p))
	}
	return progressNames[p]
}

// Add moves n steps along the ordinal, clamping at both ends.
func (p Progress) Add(n int) Progress {
	v := int(p) + n
	if v < int(NotStarted) {
		return NotStarted
	}
	if v > int(Deleting) {
		return Deleting
	}
	return Progress(v)
}

// ParseProgress is the inverse of String for persisted values.
func ParseProgress(s string) (Progress, error) {
	for i, name := range progressNames {
		if name == s {
			return Progress(i), nil
		}
	}
	return NotStarted, fmt.Errorf("unknown progress %q", s)
}
