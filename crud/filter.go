package crud

import (
	"sort"
	"strings"
	"unicode"

	"github.com/kasuganosora/gamewiki/server/entity"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SortSpec orders the filtered collection by a field.
type SortSpec struct {
	Key  string
	Desc bool
}

// FilterState is the user-entered filter input.
type FilterState struct {
	Search        string
	Rarities      []string
	CustomFilters []string
	Sort          SortSpec
	Page          int
}

// CustomFilterFunc is a resource-specific predicate. It receives the selected
// custom filter values and is only consulted when at least one is selected.
type CustomFilterFunc func(e entity.Entity, selected []string) bool

// FilterOptions names the fields the generic filters read.
type FilterOptions struct {
	NameField   string
	RarityField string
	Custom      CustomFilterFunc
}

// Fold strips diacritics and lower-cases s for accent-insensitive matching.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// ApplyFilters returns the entities matching fs, in input order unless a sort
// key is set. The input slice is not modified.
func ApplyFilters(items []entity.Entity, fs FilterState, opts FilterOptions) []entity.Entity {
	nameField := opts.NameField
	if nameField == "" {
		nameField = DefaultNameField
	}
	rarityField := opts.RarityField
	if rarityField == "" {
		rarityField = DefaultRarityField
	}

	term := Fold(fs.Search)
	rarities := make(map[string]struct{}, len(fs.Rarities))
	for _, r := range fs.Rarities {
		rarities[r] = struct{}{}
	}

	out := make([]entity.Entity, 0, len(items))
	for _, e := range items {
		if term != "" && !strings.Contains(Fold(e.String(nameField)), term) {
			continue
		}
		if len(rarities) > 0 {
			if _, ok := rarities[e.String(rarityField)]; !ok {
				continue
			}
		}
		if opts.Custom != nil && len(fs.CustomFilters) > 0 && !opts.Custom(e, fs.CustomFilters) {
			continue
		}
		out = append(out, e)
	}

	if key := fs.Sort.Key; key != "" {
		desc := fs.Sort.Desc
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i].String(key), out[j].String(key)
			if desc {
				a, b = b, a
			}
			return a < b
		})
	}
	return out
}

// AnyOf builds a CustomFilterFunc that passes entities whose field, a string
// or an array of strings, contains at least one selected value.
func AnyOf(field string) CustomFilterFunc {
	return func(e entity.Entity, selected []string) bool {
		want := make(map[string]struct{}, len(selected))
		for _, s := range selected {
			want[s] = struct{}{}
		}
		switch v := e[field].(type) {
		case []any:
			for _, x := range v {
				if _, ok := want[entity.Stringify(x)]; ok {
					return true
				}
			}
		case []string:
			for _, x := range v {
				if _, ok := want[x]; ok {
					return true
				}
			}
		case nil:
		default:
			_, ok := want[entity.Stringify(v)]
			return ok
		}
		return false
	}
}

// TotalPages is ceil(n / pageSize).
func TotalPages(n, pageSize int) int {
	if pageSize <= 0 {
		pageSize = DefaultItemsPerPage
	}
	return (n + pageSize - 1) / pageSize
}

// Paginate returns items[(page-1)*pageSize : page*pageSize]. Pages outside
// the range yield an empty slice; the caller decides whether to clamp.
func Paginate(items []entity.Entity, page, pageSize int) []entity.Entity {
	if pageSize <= 0 {
		pageSize = DefaultItemsPerPage
	}
	if page < 1 {
		return []entity.Entity{}
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []entity.Entity{}
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// ClampPage puts page into [1, totalPages]. With no pages it returns 1.
func ClampPage(page, totalPages int) int {
	if page > totalPages {
		page = totalPages
	}
	if page < 1 {
		page = 1
	}
	return page
}
