package crud

import "strings"

// NewSegment is the last path segment that opens the create form.
const NewSegment = "new"

// Route is the parsed location relative to a route prefix. It is one of
// ListRoute, NewRoute or EditRoute.
type Route interface {
	isRoute()
}

// ListRoute is the collection view.
type ListRoute struct{}

// NewRoute is the create form for a pending item.
type NewRoute struct{}

// EditRoute is the edit form for an existing item.
type EditRoute struct {
	ID string
}

func (ListRoute) isRoute() {}
func (NewRoute) isRoute()  {}
func (EditRoute) isRoute() {}

// ParseRoute maps a path onto a Route. The prefix itself, with or without a
// trailing separator, is the list; a last segment of "new" is the create
// form; any other path is the edit form for its last segment.
func ParseRoute(path, prefix string) Route {
	p := strings.TrimRight(path, "/")
	if p == strings.TrimRight(prefix, "/") {
		return ListRoute{}
	}
	last := p
	if i := strings.LastIndex(p, "/"); i >= 0 {
		last = p[i+1:]
	}
	switch last {
	case "":
		return ListRoute{}
	case NewSegment:
		return NewRoute{}
	default:
		return EditRoute{ID: last}
	}
}

// Mode is the coarse view mode.
type Mode string

const (
	ModeList Mode = "list"
	ModeEdit Mode = "edit"
)

// ViewState is derived from the current path and never stored on its own.
type ViewState struct {
	Mode       Mode
	SelectedID string
	IsNew      bool
}

// DeriveViewState is the pure path → view mapping. It performs no I/O.
func DeriveViewState(currentPath, routePrefix string) ViewState {
	return ViewStateOf(ParseRoute(currentPath, routePrefix))
}

// ViewStateOf flattens a Route into a ViewState.
func ViewStateOf(r Route) ViewState {
	switch r := r.(type) {
	case NewRoute:
		return ViewState{Mode: ModeEdit, IsNew: true}
	case EditRoute:
		return ViewState{Mode: ModeEdit, SelectedID: r.ID}
	default:
		return ViewState{Mode: ModeList}
	}
}

// ItemPath returns the edit path for id under prefix.
func ItemPath(prefix, id string) string {
	return strings.TrimRight(prefix, "/") + "/" + id
}

// NewPath returns the create path under prefix.
func NewPath(prefix string) string {
	return ItemPath(prefix, NewSegment)
}
