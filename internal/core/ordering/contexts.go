package ordering

import (
	"fmt"
	"strings"
	"time"
)

// Context key prefixes for the lists the planner keeps in order.
const (
	KindTaskList      = "tasks"
	KindTemplateSteps = "template-steps"
	KindProjectSecs   = "project-sections"
	KindRitualSteps   = "ritual-steps"
	KindDay           = "day"
)

// TaskListContext names the ordering of tasks in a view (inbox, today, ...).
func TaskListContext(view string) string {
	return contextKey(KindTaskList, view)
}

// TemplateStepsContext names the ordering of a template's steps.
func TemplateStepsContext(templateID string) string {
	return contextKey(KindTemplateSteps, templateID)
}

// ProjectSectionsContext names the ordering of a project's sections.
func ProjectSectionsContext(projectID string) string {
	return contextKey(KindProjectSecs, projectID)
}

// RitualStepsContext names the ordering of a ritual's steps.
func RitualStepsContext(ritualID string) string {
	return contextKey(KindRitualSteps, ritualID)
}

// DayContext names the ordering of a calendar day's schedule.
func DayContext(day time.Time) string {
	return contextKey(KindDay, day.Format("2006-01-02"))
}

func contextKey(kind, id string) string {
	return kind + ":" + id
}

// SplitContext returns the kind and id of a context built by this package.
// Arbitrary caller-supplied contexts return ok=false.
func SplitContext(contextKey string) (kind, id string, ok bool) {
	kind, id, found := strings.Cut(contextKey, ":")
	if !found || kind == "" || id == "" {
		return "", "", false
	}
	switch kind {
	case KindTaskList, KindTemplateSteps, KindProjectSecs, KindRitualSteps, KindDay:
		return kind, id, true
	}
	return "", "", false
}

// RankedEntity is the minimal view of an entry needed to check ordering.
type RankedEntity struct {
	EntityID string
	Rank     string
}

// CheckStrictOrder verifies that entries are strictly increasing by rank and
// that no entity appears twice. It returns nil for an empty slice.
func CheckStrictOrder(entries []RankedEntity) error {
	seen := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		if _, dup := seen[e.EntityID]; dup {
			return fmt.Errorf("entity %s appears more than once", e.EntityID)
		}
		seen[e.EntityID] = struct{}{}
		if i > 0 && entries[i-1].Rank >= e.Rank {
			return fmt.Errorf("rank %q of %s does not follow rank %q of %s",
				e.Rank, e.EntityID, entries[i-1].Rank, entries[i-1].EntityID)
		}
	}
	return nil
}
