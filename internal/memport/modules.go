package memport

import (
	"fmt"
	"sort"

	iradix "github.com/hashicorp/go-immutable-radix"
)

// ModuleTable is an immutable index of modules by label and by address.
type ModuleTable struct {
	modules []Module
	byName  *iradix.Tree
}

// NewModuleTable sorts modules by start address and assigns each a unique label.
// When several mappings share a label the later ones are named "label[1]",
// "label[2]"... in address order.
func NewModuleTable(modules []Module) *ModuleTable {
	sorted := make([]Module, len(modules))
	copy(sorted, modules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	seen := make(map[string]int, len(sorted))
	txn := iradix.New().Txn()
	for i := range sorted {
		label := sorted[i].Label()
		if n, dup := seen[label]; dup {
			seen[label] = n + 1
			label = fmt.Sprintf("%s[%d]", label, n+1)
		} else {
			seen[label] = 0
		}
		sorted[i].Name = label
		txn.Insert([]byte(label), i)
	}

	return &ModuleTable{modules: sorted, byName: txn.Commit()}
}

// Modules returns the labeled modules in address order.
func (t *ModuleTable) Modules() []Module {
	return t.modules
}

// Len returns the number of modules.
func (t *ModuleTable) Len() int {
	return len(t.modules)
}

// Lookup returns the module with the given label.
func (t *ModuleTable) Lookup(label string) (Module, bool) {
	v, ok := t.byName.Get([]byte(label))
	if !ok {
		return Module{}, false
	}
	return t.modules[v.(int)], true
}

// WithPrefix returns the modules whose label starts with prefix, ordered by label.
func (t *ModuleTable) WithPrefix(prefix string) []Module {
	var out []Module
	t.byName.Root().WalkPrefix([]byte(prefix), func(_ []byte, v interface{}) bool {
		out = append(out, t.modules[v.(int)])
		return false
	})
	return out
}

// Containing returns the module whose range contains addr.
func (t *ModuleTable) Containing(addr uint64) (Module, bool) {
	i := sort.Search(len(t.modules), func(i int) bool { return t.modules[i].End > addr })
	if i < len(t.modules) && t.modules[i].Start <= addr {
		return t.modules[i], true
	}
	return Module{}, false
}

// Span returns the smallest range covering every module.
func (t *ModuleTable) Span() Range {
	if len(t.modules) == 0 {
		return Range{}
	}
	r := Range{Start: t.modules[0].Start, End: t.modules[0].End}
	for _, m := range t.modules[1:] {
		if m.End > r.End {
			r.End = m.End
		}
	}
	return r
}
