package contextbuilder

// Slot is one reference in a Plan: an entry name, optionally marked
// optional (spec.md §4.3 "[...] denotes an optional slot").
type Slot struct {
	Name     string
	Optional bool
}

// S builds a required Slot referencing name.
func S(name string) Slot { return Slot{Name: name} }

// OptS builds an optional Slot referencing name.
func OptS(name string) Slot { return Slot{Name: name, Optional: true} }

// Plan is an ordered list of slots selected for one emission attempt. A nil
// or empty Plan means no emission.
type Plan []Slot

// BuildFn is the most flexible selection mechanism (spec.md §4.3 rule 1):
// given the active input and a snapshot of every entry's current value, it
// returns the Plan to resolve, or nil to skip this emission.
type BuildFn func(activeInput string, values map[string]any) Plan

// selectPlan implements the three-mechanism precedence from spec.md §4.3:
// build_fn, then trigger_map keyed by the active input's entry name, then
// the global emit_order.
func (b *Builder) selectPlan(activeInput string, values map[string]any) Plan {
	if b.buildFn != nil {
		return b.buildFn(activeInput, values)
	}
	if plan, ok := b.triggerMap[activeInput]; ok {
		return plan
	}
	return b.emitOrder
}

// templateAllowed applies the optional MaxPerRun/MinTurnsBetween throttle
// (grounded on the teacher's reminder-injection engine; see DESIGN.md).
func (b *Builder) templateAllowed(entry *Entry) bool {
	if entry.MaxPerRun > 0 && b.templateCounts[entry.Name] >= entry.MaxPerRun {
		return false
	}
	if entry.MinTurnsBetween > 0 {
		if last, seen := b.templateLastAt[entry.Name]; seen && b.turn-last < entry.MinTurnsBetween {
			return false
		}
	}
	return true
}

func (b *Builder) recordTemplateInclusion(entry *Entry) {
	b.templateCounts[entry.Name]++
	b.templateLastAt[entry.Name] = b.turn
}

// resolvedSlot is one Plan slot after dependency/optionality resolution,
// still carrying which entry it names.
type resolvedSlot struct {
	entry *Entry
}

// resolvePlan implements spec.md §4.3's resolution rules:
//   - a Template entry whose DependsOn has no current value is skipped
//     silently, regardless of optionality;
//   - an optional slot with no current value is omitted;
//   - a non-optional slot with no current value suppresses the entire
//     emission (returns ok=false).
func (b *Builder) resolvePlan(plan Plan, values map[string]any) (resolved []resolvedSlot, ok bool) {
	type prior struct {
		count, last int
		seen        bool
	}
	saved := make(map[string]prior)
	for _, slot := range plan {
		entry, exists := b.entries[slot.Name]
		if !exists {
			continue
		}

		if entry.Kind == Constant {
			resolved = append(resolved, resolvedSlot{entry: entry})
			continue
		}

		if entry.Kind == Template {
			if entry.DependsOn != "" {
				if _, has := values[entry.DependsOn]; !has {
					continue
				}
			}
			if !b.templateAllowed(entry) {
				continue
			}
			if _, done := saved[entry.Name]; !done {
				last, seen := b.templateLastAt[entry.Name]
				saved[entry.Name] = prior{b.templateCounts[entry.Name], last, seen}
			}
			b.recordTemplateInclusion(entry)
			resolved = append(resolved, resolvedSlot{entry: entry})
			continue
		}

		// PortFed: requires a current value unless optional.
		if _, has := values[entry.Name]; !has {
			if slot.Optional {
				continue
			}
			// A suppressed emission includes no template, so undo the
			// throttle bookkeeping recorded above.
			for name, p := range saved {
				b.templateCounts[name] = p.count
				if p.seen {
					b.templateLastAt[name] = p.last
				} else {
					delete(b.templateLastAt, name)
				}
			}
			return nil, false
		}
		resolved = append(resolved, resolvedSlot{entry: entry})
	}
	return resolved, true
}
