package cap

import (
	"fmt"
	"sort"
	"strings"

	"github.com/arclight-os/exocore/formatter"
)

// Dump renders a human-readable snapshot of every live capability,
// grouped by kind. exohttp's /captable/dump route serves it directly;
// the table itself never panics.
func (t *Table) Dump() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var kinds []Kind
	for k := range t.byKind {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	var b strings.Builder
	for _, k := range kinds {
		set := t.byKind[k]
		ids := set.ToSlice()
		sort.Slice(ids, func(i, j int) bool { return ids[i].(uint32) < ids[j].(uint32) })
		fmt.Fprintf(&b, "%s: %d live\n", k, set.Cardinality())
		for _, raw := range ids {
			id := raw.(uint32)
			e := t.entries[id]
			tag := formatter.HashTag{FirstWord: ComputeTag(t.secret, id, e.rights, e.owner).Parts[0]}
			fmt.Fprintf(&b, "  id=%d owner=%d rights=0x%x refcnt=%d tag=%s\n", id, e.owner, e.rights, e.refcnt.Load(), tag)
		}
	}
	return b.String()
}

// Count returns the number of live capabilities of the given kind.
func (t *Table) Count(k Kind) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.byKind[k]
	if !ok {
		return 0
	}
	return set.Cardinality()
}
