package aggregates

import (
	"github.com/mcfletch/fitting/domain/core/entities"
	"github.com/mcfletch/fitting/domain/core/valueobjects"
)

// ReplacePlan is the reconciliation of one element's fittings on one side
// against a desired set: fittings to insert, fittings to delete, and
// surviving fittings kept untouched with their original name and timestamp.
type ReplacePlan struct {
	Insert []*entities.Fitting
	Delete []*entities.Fitting
	Keep   []*entities.Fitting
}

// Actions returns the number of writes the plan requires
func (p *ReplacePlan) Actions() int {
	return len(p.Insert) + len(p.Delete)
}

// PlanSinkReplacement reconciles the current outgoing fittings of an element
// against the desired set, matching on target. Duplicate targets in the
// desired set are silently skipped.
func PlanSinkReplacement(current, desired []*entities.Fitting) *ReplacePlan {
	return planReplacement(current, desired, func(f *entities.Fitting) valueobjects.ElementID {
		return f.TargetID()
	})
}

// PlanSourceReplacement reconciles the current incoming fittings of an
// element against the desired set, matching on source. Duplicate sources in
// the desired set are silently skipped.
func PlanSourceReplacement(current, desired []*entities.Fitting) *ReplacePlan {
	return planReplacement(current, desired, func(f *entities.Fitting) valueobjects.ElementID {
		return f.SourceID()
	})
}

func planReplacement(current, desired []*entities.Fitting, otherEnd func(*entities.Fitting) valueobjects.ElementID) *ReplacePlan {
	plan := &ReplacePlan{
		Insert: []*entities.Fitting{},
		Delete: []*entities.Fitting{},
		Keep:   []*entities.Fitting{},
	}

	existing := make(map[valueobjects.ElementID]*entities.Fitting, len(current))
	for _, f := range current {
		existing[otherEnd(f)] = f
	}

	wanted := make(map[valueobjects.ElementID]struct{}, len(desired))
	for _, f := range desired {
		end := otherEnd(f)
		if _, dup := wanted[end]; dup {
			continue
		}
		wanted[end] = struct{}{}

		if kept, ok := existing[end]; ok {
			plan.Keep = append(plan.Keep, kept)
		} else {
			plan.Insert = append(plan.Insert, f)
		}
	}

	for _, f := range current {
		if _, ok := wanted[otherEnd(f)]; !ok {
			plan.Delete = append(plan.Delete, f)
		}
	}

	sortFittings(plan.Insert)
	sortFittings(plan.Delete)
	sortFittings(plan.Keep)
	return plan
}
