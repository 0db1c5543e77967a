package rastext

import (
	"sync"

	"github.com/vk/rascheck/internal/fsutil"
)

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// DefaultRegistry returns the shared registry holding the built-in layouts
// for every supported file kind. Built lazily and reused; layouts are
// read-only after registration.
func DefaultRegistry() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
		defaultRegistry.Register(projectLayout())
		defaultRegistry.Register(geometryLayout())
		defaultRegistry.Register(geometryLayoutV6())
		defaultRegistry.Register(planLayout())
		defaultRegistry.Register(flowLayout(fsutil.KindSteadyFlow))
		defaultRegistry.Register(flowLayout(fsutil.KindUnsteadyFlow))
	})
	return defaultRegistry
}

// geometryLayoutV6 extends the base geometry layout with the bookkeeping
// keywords 6.x writes into node blocks. Older files select the base layout.
func geometryLayoutV6() *FileLayout {
	l := geometryLayout()
	l.MinVersion = "6.0"
	for _, d := range l.Sections {
		if d.namesSection(SectionCrossSection) {
			d.Fields = append(d.Fields,
				FieldSpec{Keyword: "Node Last Edited Time", Name: "last_edited", Kind: KindString},
				FieldSpec{Keyword: "XS GIS Cut Line", Name: "gis_cut_line", Kind: KindTable, Arity: 2},
			)
		}
	}
	return l
}
