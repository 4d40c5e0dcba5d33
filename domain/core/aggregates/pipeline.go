package aggregates

import (
	"sort"

	"github.com/mcfletch/fitting/domain/core/entities"
	"github.com/mcfletch/fitting/domain/core/valueobjects"
	pkgerrors "github.com/mcfletch/fitting/pkg/errors"
)

// Pipeline is the aggregate root for a pipe assembly: the full set of
// fittings between elements, indexed for constant-time duplicate checks and
// per-element adjacency. It enforces the uniqueness of the
// (source, target, type) triple.
type Pipeline struct {
	fittings map[entities.FittingKey]*entities.Fitting
	outgoing map[valueobjects.ElementID]map[entities.FittingKey]struct{}
	incoming map[valueobjects.ElementID]map[entities.FittingKey]struct{}
}

// NewPipeline creates an empty pipeline
func NewPipeline() *Pipeline {
	return &Pipeline{
		fittings: make(map[entities.FittingKey]*entities.Fitting),
		outgoing: make(map[valueobjects.ElementID]map[entities.FittingKey]struct{}),
		incoming: make(map[valueobjects.ElementID]map[entities.FittingKey]struct{}),
	}
}

// ReconstructPipeline rebuilds a pipeline from stored fittings. Stored rows
// are trusted; a duplicate triple keeps the first occurrence.
func ReconstructPipeline(fittings []*entities.Fitting) *Pipeline {
	p := NewPipeline()
	for _, f := range fittings {
		if f == nil {
			continue
		}
		if _, exists := p.fittings[f.Key()]; exists {
			continue
		}
		p.index(f)
	}
	return p
}

// AddFitting adds a fitting, rejecting duplicate triples
func (p *Pipeline) AddFitting(fitting *entities.Fitting) error {
	if fitting == nil {
		return pkgerrors.NewValidationError("fitting cannot be nil")
	}

	if _, exists := p.fittings[fitting.Key()]; exists {
		return pkgerrors.NewDuplicateFittingError(
			fitting.SourceID().String(),
			fitting.TargetID().String(),
			fitting.Type().Value(),
		)
	}

	p.index(fitting)
	return nil
}

// Disconnect removes every fitting from source to target whose type matches
// the given type, which may be the wildcard. Returns the removed fittings;
// an unknown pair removes nothing.
func (p *Pipeline) Disconnect(sourceID, targetID valueobjects.ElementID, fittingType valueobjects.FittingType) []*entities.Fitting {
	removed := []*entities.Fitting{}
	for key := range p.outgoing[sourceID] {
		f := p.fittings[key]
		if f.TargetID().Equals(targetID) && fittingType.Matches(f.Type()) {
			removed = append(removed, f)
		}
	}

	for _, f := range removed {
		p.unindex(f)
	}
	sortFittings(removed)
	return removed
}

// Detach removes every fitting of the matching type touching the element,
// in both directions. Returns the removed fittings.
func (p *Pipeline) Detach(elementID valueobjects.ElementID, fittingType valueobjects.FittingType) []*entities.Fitting {
	seen := make(map[entities.FittingKey]struct{})
	removed := []*entities.Fitting{}

	collect := func(keys map[entities.FittingKey]struct{}) {
		for key := range keys {
			if _, dup := seen[key]; dup {
				continue
			}
			f := p.fittings[key]
			if fittingType.Matches(f.Type()) {
				seen[key] = struct{}{}
				removed = append(removed, f)
			}
		}
	}

	collect(p.outgoing[elementID])
	collect(p.incoming[elementID])

	for _, f := range removed {
		p.unindex(f)
	}
	sortFittings(removed)
	return removed
}

// RemoveElement removes the element from the assembly: every fitting
// referencing it, of any type, in either direction. Returns the removed
// fittings.
func (p *Pipeline) RemoveElement(elementID valueobjects.ElementID) []*entities.Fitting {
	return p.Detach(elementID, valueobjects.TypeAny)
}

// Get retrieves the fitting with the exact triple
func (p *Pipeline) Get(sourceID, targetID valueobjects.ElementID, fittingType valueobjects.FittingType) (*entities.Fitting, bool) {
	f, exists := p.fittings[entities.FittingKey{
		SourceID: sourceID.String(),
		TargetID: targetID.String(),
		Type:     fittingType.Value(),
	}]
	return f, exists
}

// Has reports whether any fitting from source to target matches the type,
// which may be the wildcard
func (p *Pipeline) Has(sourceID, targetID valueobjects.ElementID, fittingType valueobjects.FittingType) bool {
	for key := range p.outgoing[sourceID] {
		f := p.fittings[key]
		if f.TargetID().Equals(targetID) && fittingType.Matches(f.Type()) {
			return true
		}
	}
	return false
}

// Sinks returns the sorted set of elements the element flows into through
// fittings of the matching type. An unknown element yields an empty set.
func (p *Pipeline) Sinks(elementID valueobjects.ElementID, fittingType valueobjects.FittingType) []valueobjects.ElementID {
	set := make(map[valueobjects.ElementID]struct{})
	for key := range p.outgoing[elementID] {
		f := p.fittings[key]
		if fittingType.Matches(f.Type()) {
			set[f.TargetID()] = struct{}{}
		}
	}
	return sortedElements(set)
}

// Sources returns the sorted set of elements flowing into the element
// through fittings of the matching type. An unknown element yields an
// empty set.
func (p *Pipeline) Sources(elementID valueobjects.ElementID, fittingType valueobjects.FittingType) []valueobjects.ElementID {
	set := make(map[valueobjects.ElementID]struct{})
	for key := range p.incoming[elementID] {
		f := p.fittings[key]
		if fittingType.Matches(f.Type()) {
			set[f.SourceID()] = struct{}{}
		}
	}
	return sortedElements(set)
}

// SinkFittings returns the fittings leaving the element whose type matches,
// sorted for deterministic iteration
func (p *Pipeline) SinkFittings(elementID valueobjects.ElementID, fittingType valueobjects.FittingType) []*entities.Fitting {
	result := []*entities.Fitting{}
	for key := range p.outgoing[elementID] {
		f := p.fittings[key]
		if fittingType.Matches(f.Type()) {
			result = append(result, f)
		}
	}
	sortFittings(result)
	return result
}

// SourceFittings returns the fittings entering the element whose type
// matches, sorted for deterministic iteration
func (p *Pipeline) SourceFittings(elementID valueobjects.ElementID, fittingType valueobjects.FittingType) []*entities.Fitting {
	result := []*entities.Fitting{}
	for key := range p.incoming[elementID] {
		f := p.fittings[key]
		if fittingType.Matches(f.Type()) {
			result = append(result, f)
		}
	}
	sortFittings(result)
	return result
}

// Fittings returns every fitting in the assembly, sorted for deterministic
// iteration
func (p *Pipeline) Fittings() []*entities.Fitting {
	result := make([]*entities.Fitting, 0, len(p.fittings))
	for _, f := range p.fittings {
		result = append(result, f)
	}
	sortFittings(result)
	return result
}

// Mapping returns every source element mapped to its sorted sinks through
// fittings of the matching type
func (p *Pipeline) Mapping(fittingType valueobjects.FittingType) map[valueobjects.ElementID][]valueobjects.ElementID {
	result := make(map[valueobjects.ElementID][]valueobjects.ElementID)
	for source := range p.outgoing {
		sinks := p.Sinks(source, fittingType)
		if len(sinks) > 0 {
			result[source] = sinks
		}
	}
	return result
}

// Elements returns the sorted set of every element referenced by a fitting
func (p *Pipeline) Elements() []valueobjects.ElementID {
	set := make(map[valueobjects.ElementID]struct{})
	for _, f := range p.fittings {
		set[f.SourceID()] = struct{}{}
		set[f.TargetID()] = struct{}{}
	}
	return sortedElements(set)
}

// FittingCount returns the number of fittings in the assembly
func (p *Pipeline) FittingCount() int {
	return len(p.fittings)
}

// ElementCount returns the number of distinct elements in the assembly
func (p *Pipeline) ElementCount() int {
	set := make(map[valueobjects.ElementID]struct{})
	for _, f := range p.fittings {
		set[f.SourceID()] = struct{}{}
		set[f.TargetID()] = struct{}{}
	}
	return len(set)
}

// Descendants returns every element reachable downstream from the origin
// through fittings of the matching type, sorted. The origin itself is never
// included, and cycles terminate through the visited set.
func (p *Pipeline) Descendants(origin valueobjects.ElementID, fittingType valueobjects.FittingType) []valueobjects.ElementID {
	return p.traverse(origin, fittingType, p.stepDownstream)
}

// Ancestors returns every element that can reach the origin upstream
// through fittings of the matching type, sorted. The origin itself is never
// included.
func (p *Pipeline) Ancestors(origin valueobjects.ElementID, fittingType valueobjects.FittingType) []valueobjects.ElementID {
	return p.traverse(origin, fittingType, p.stepUpstream)
}

// Path finds a shortest downstream path from start to end through fittings
// of the matching type using BFS. The second return is false when no path
// exists.
func (p *Pipeline) Path(startID, endID valueobjects.ElementID, fittingType valueobjects.FittingType) ([]valueobjects.ElementID, bool) {
	if startID.Equals(endID) {
		return []valueobjects.ElementID{startID}, true
	}

	visited := map[valueobjects.ElementID]bool{startID: true}
	parent := make(map[valueobjects.ElementID]valueobjects.ElementID)
	queue := []valueobjects.ElementID{startID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, next := range p.stepDownstream(current, fittingType) {
			if visited[next] {
				continue
			}
			visited[next] = true
			parent[next] = current
			queue = append(queue, next)

			if next.Equals(endID) {
				// Reconstruct path
				path := []valueobjects.ElementID{}
				for n := endID; ; n = parent[n] {
					path = append([]valueobjects.ElementID{n}, path...)
					if n.Equals(startID) {
						break
					}
				}
				return path, true
			}
		}
	}

	return nil, false
}

// Validate ensures index invariants hold
func (p *Pipeline) Validate() error {
	indexed := 0
	for _, keys := range p.outgoing {
		indexed += len(keys)
	}
	if indexed != len(p.fittings) {
		return pkgerrors.NewInternalError("outgoing index count mismatch")
	}

	indexed = 0
	for _, keys := range p.incoming {
		indexed += len(keys)
	}
	if indexed != len(p.fittings) {
		return pkgerrors.NewInternalError("incoming index count mismatch")
	}

	for key, f := range p.fittings {
		if f.Key() != key {
			return pkgerrors.NewInternalError("fitting indexed under wrong key")
		}
		if _, ok := p.outgoing[f.SourceID()][key]; !ok {
			return pkgerrors.NewInternalError("fitting missing from outgoing index")
		}
		if _, ok := p.incoming[f.TargetID()][key]; !ok {
			return pkgerrors.NewInternalError("fitting missing from incoming index")
		}
	}

	return nil
}

// Private helper methods

func (p *Pipeline) index(f *entities.Fitting) {
	key := f.Key()
	p.fittings[key] = f

	if p.outgoing[f.SourceID()] == nil {
		p.outgoing[f.SourceID()] = make(map[entities.FittingKey]struct{})
	}
	p.outgoing[f.SourceID()][key] = struct{}{}

	if p.incoming[f.TargetID()] == nil {
		p.incoming[f.TargetID()] = make(map[entities.FittingKey]struct{})
	}
	p.incoming[f.TargetID()][key] = struct{}{}
}

func (p *Pipeline) unindex(f *entities.Fitting) {
	key := f.Key()
	delete(p.fittings, key)

	delete(p.outgoing[f.SourceID()], key)
	if len(p.outgoing[f.SourceID()]) == 0 {
		delete(p.outgoing, f.SourceID())
	}

	delete(p.incoming[f.TargetID()], key)
	if len(p.incoming[f.TargetID()]) == 0 {
		delete(p.incoming, f.TargetID())
	}
}

// traverse runs BFS from origin using step to expand each frontier element
func (p *Pipeline) traverse(origin valueobjects.ElementID, fittingType valueobjects.FittingType, step func(valueobjects.ElementID, valueobjects.FittingType) []valueobjects.ElementID) []valueobjects.ElementID {
	visited := map[valueobjects.ElementID]bool{origin: true}
	reached := make(map[valueobjects.ElementID]struct{})
	queue := []valueobjects.ElementID{origin}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, next := range step(current, fittingType) {
			if visited[next] {
				continue
			}
			visited[next] = true
			reached[next] = struct{}{}
			queue = append(queue, next)
		}
	}

	return sortedElements(reached)
}

func (p *Pipeline) stepDownstream(elementID valueobjects.ElementID, fittingType valueobjects.FittingType) []valueobjects.ElementID {
	next := []valueobjects.ElementID{}
	for key := range p.outgoing[elementID] {
		f := p.fittings[key]
		if fittingType.Matches(f.Type()) {
			next = append(next, f.TargetID())
		}
	}
	return next
}

func (p *Pipeline) stepUpstream(elementID valueobjects.ElementID, fittingType valueobjects.FittingType) []valueobjects.ElementID {
	next := []valueobjects.ElementID{}
	for key := range p.incoming[elementID] {
		f := p.fittings[key]
		if fittingType.Matches(f.Type()) {
			next = append(next, f.SourceID())
		}
	}
	return next
}

func sortedElements(set map[valueobjects.ElementID]struct{}) []valueobjects.ElementID {
	result := make([]valueobjects.ElementID, 0, len(set))
	for id := range set {
		result = append(result, id)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].String() < result[j].String()
	})
	return result
}

func sortFittings(fittings []*entities.Fitting) {
	sort.Slice(fittings, func(i, j int) bool {
		a, b := fittings[i], fittings[j]
		if a.SourceID().String() != b.SourceID().String() {
			return a.SourceID().String() < b.SourceID().String()
		}
		if a.Type().Value() != b.Type().Value() {
			return a.Type().Value() < b.Type().Value()
		}
		return a.TargetID().String() < b.TargetID().String()
	})
}
