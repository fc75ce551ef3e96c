package domain

// Matches reports whether flow is eligible for selection under the filter.
func (f FlowFilter) Matches(flow *Flow) bool {
	if flow == nil || !flow.Active || !flow.Default {
		return false
	}
	return f.Category == "" || flow.Category == f.Category
}

// SelectActive returns the highest version flow that matches filter, or nil.
func SelectActive(flows []*Flow, filter FlowFilter) *Flow {
	var best *Flow
	for _, f := range flows {
		if !filter.Matches(f) {
			continue
		}
		if best == nil || f.Version > best.Version {
			best = f
		}
	}
	return best
}

// PublishPlan describes how a store applies a publish: the new version and
// the previously stored flows that lose their default flag.
type PublishPlan struct {
	Flow    *Flow
	Demoted []*Flow
}

// PlanPublish numbers flow as the next version of (tenant, name) among
// existing and demotes any other default flow of the same category.
// existing is never modified; demoted entries are copies.
func PlanPublish(existing []*Flow, flow *Flow, newID func() string) PublishPlan {
	stored := flow.Clone()
	version := 0
	taken := false
	var demoted []*Flow
	for _, f := range existing {
		if f.ID == stored.ID {
			taken = true
		}
		if f.Name == stored.Name && f.Version > version {
			version = f.Version
		}
		if stored.Default && f.Default && f.Category == stored.Category {
			d := f.Clone()
			d.Default = false
			demoted = append(demoted, d)
		}
	}
	if stored.ID == "" || taken {
		stored.ID = newID()
	}
	stored.Version = version + 1
	return PublishPlan{Flow: stored, Demoted: demoted}
}
