package depi

// Blackboard is the uncommitted staging area of one user. Resources are unique by
// identity and links are unique by (source, target) identity.
// The same value is used by the client to mirror the blackboard and by the graph
// service as its stored form.
type Blackboard struct {
	Resources []Resource     `json:"resources"`
	Links     []ResourceLink `json:"links"`
}

// HasResource reports whether a resource with the identity of ref is staged.
func (b *Blackboard) HasResource(ref ResourceRef) bool {
	return b.resourceIndex(ref) >= 0
}

// HasLink reports whether a link with the identity of l is staged.
func (b *Blackboard) HasLink(l *ResourceLink) bool {
	return b.linkIndex(l) >= 0
}

func (b *Blackboard) resourceIndex(ref ResourceRef) int {
	for i := range b.Resources {
		if SameResource(&b.Resources[i].ResourceRef, &ref) {
			return i
		}
	}
	return -1
}

func (b *Blackboard) linkIndex(l *ResourceLink) int {
	for i := range b.Links {
		if SameLink(&b.Links[i], l) {
			return i
		}
	}
	return -1
}

// Stage adds resources and links. Entries already staged are left untouched.
// The endpoints of a staged link are staged with it.
// It returns the number of entries actually added.
func (b *Blackboard) Stage(resources []Resource, links []ResourceLink) int {
	added := 0
	addResource := func(r Resource) {
		if b.resourceIndex(r.ResourceRef) < 0 {
			b.Resources = append(b.Resources, r)
			added++
		}
	}
	for _, r := range resources {
		addResource(r)
	}
	for _, l := range links {
		addResource(l.Source)
		addResource(l.Target)
		if b.linkIndex(&l) < 0 {
			b.Links = append(b.Links, l)
			added++
		}
	}
	return added
}

// Unstage removes the given entries. Staged links incident to a removed resource are
// removed as well, even when they are not listed. It returns the number of entries
// removed, cascaded links included.
func (b *Blackboard) Unstage(entries Entries) int {
	before := len(b.Resources) + len(b.Links)

	loose := AdditionalLooseLinks(b.Links, entries.Resources, entries.Links)
	drop := append(append([]ResourceLink{}, entries.Links...), loose...)

	var links []ResourceLink
	for i := range b.Links {
		if !containsLink(drop, &b.Links[i]) {
			links = append(links, b.Links[i])
		}
	}
	var resources []Resource
	for i := range b.Resources {
		if !containsResource(entries.Resources, &b.Resources[i].ResourceRef) {
			resources = append(resources, b.Resources[i])
		}
	}
	b.Resources, b.Links = resources, links

	return before - len(b.Resources) - len(b.Links)
}

// Clear empties the blackboard.
func (b *Blackboard) Clear() {
	b.Resources = nil
	b.Links = nil
}

// IsEmpty reports whether nothing is staged.
func (b *Blackboard) IsEmpty() bool {
	return len(b.Resources) == 0 && len(b.Links) == 0
}

// AdditionalLooseLinks returns the links from candidates that touch one of resources
// but are not listed in explicit. Removing a resource without these leaves links
// dangling, so deletions and unstaging include them.
func AdditionalLooseLinks(candidates []ResourceLink, resources []Resource, explicit []ResourceLink) []ResourceLink {
	var loose []ResourceLink
	for i := range candidates {
		l := &candidates[i]
		if containsLink(explicit, l) || containsLink(loose, l) {
			continue
		}
		if containsResource(resources, &l.Source.ResourceRef) || containsResource(resources, &l.Target.ResourceRef) {
			loose = append(loose, *l)
		}
	}
	return loose
}

func containsResource(resources []Resource, ref *ResourceRef) bool {
	for i := range resources {
		if SameResource(&resources[i].ResourceRef, ref) {
			return true
		}
	}
	return false
}

func containsLink(links []ResourceLink, l *ResourceLink) bool {
	for i := range links {
		if SameLink(&links[i], l) {
			return true
		}
	}
	return false
}
