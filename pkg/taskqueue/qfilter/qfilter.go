// Package qfilter defines the library/tag filter shared by pkg/taskqueue
// and both of its backends. It is a separate leaf package so sqlstore and
// kvstore can depend on the filter type without importing pkg/taskqueue
// itself, which would create an import cycle through factory.go.
package qfilter

// Filter narrows get_next_pending to tasks whose library matches, per
// spec's three-way tag semantics: nil LibraryTags means no tag filter, a
// non-nil empty slice means untagged libraries only, and a non-empty slice
// means at-least-one-tag-intersects. TagsFiltered distinguishes "never
// called WithTags" from "called WithTags(nil-equivalent empty slice)".
type Filter struct {
	LocalOnly    bool
	LibraryNames []string
	LibraryTags  []string
	TagsFiltered bool
}

// WithTags marks LibraryTags as deliberately set.
func (f Filter) WithTags(tags []string) Filter {
	f.LibraryTags = tags
	f.TagsFiltered = true
	return f
}
