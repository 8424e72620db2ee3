package pdxtype

// MergeVersion returns t widened with every field of o that t lacks,
// appended in o's order with fresh sequence ids. When o adds nothing, t
// itself is returned.
func (t *TypeDescriptor) MergeVersion(o *TypeDescriptor) *TypeDescriptor {
	var extra []*FieldDescriptor
	for _, f := range o.fields {
		if t.byName[f.Name] == nil {
			extra = append(extra, f)
		}
	}
	if len(extra) == 0 {
		return t
	}
	m := t.Clone()
	for _, f := range extra {
		nf, err := m.AddField(f.Name, f.Type)
		if err == nil {
			nf.Identity = f.Identity
		}
	}
	m.addOtherVersion(t)
	m.addOtherVersion(o)
	return m
}

// SameFieldSet reports whether t and o hold the same field names,
// regardless of order.
func (t *TypeDescriptor) SameFieldSet(o *TypeDescriptor) bool {
	if len(t.fields) != len(o.fields) {
		return false
	}
	for _, f := range t.fields {
		if o.byName[f.Name] == nil {
			return false
		}
	}
	return true
}

// Merge reconciles a local and a remote version of the same class. It
// returns local when remote adds nothing, remote when local adds nothing,
// and otherwise a new, uninitialized descriptor (local fields first) with
// created set.
func Merge(local, remote *TypeDescriptor) (merged *TypeDescriptor, created bool) {
	m := local.MergeVersion(remote)
	if m == local {
		return local, false
	}
	if m.SameFieldSet(remote) {
		return remote, false
	}
	return m, true
}
