// Package crud implements the generic editor controller that reconciles the
// current location, the server collection and the user's filters into one
// view, and dispatches create, update and delete calls against the REST API.
package crud

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/kasuganosora/gamewiki/server/entity"
	"go.uber.org/zap"
)

const (
	DefaultItemsPerPage = 24
	DefaultNameField    = "name"
	DefaultRarityField  = "rarity"
)

// ErrNoCredentials is returned by mutating calls when no token is available.
var ErrNoCredentials = errors.New("crud: not signed in")

// API is the slice of the REST client the controller drives.
type API interface {
	List(ctx context.Context, endpoint string) ([]entity.Entity, error)
	Upsert(ctx context.Context, endpoint, token string, e entity.Entity) (string, error)
	Delete(ctx context.Context, endpoint, id, token string) (string, error)
}

// TokenSource yields the current bearer token, or "" when signed out.
type TokenSource interface {
	Token() string
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func() string

func (f TokenFunc) Token() string { return f() }

// Navigator exposes the current location and moves to a new one.
type Navigator interface {
	Path() string
	Navigate(path string)
}

// Config is fixed at construction.
type Config struct {
	Endpoint        string
	IDField         string
	RoutePath       string
	ItemsPerPage    int
	NewItemTemplate entity.Entity
	CustomFilter    CustomFilterFunc
	NameField       string
	RarityField     string
}

// NotificationKind separates success and error feedback.
type NotificationKind string

const (
	NotifySuccess NotificationKind = "success"
	NotifyError   NotificationKind = "error"
)

// Notification is one-shot feedback from Save or Remove.
type Notification struct {
	Kind    NotificationKind
	Title   string
	Message string
}

// Snapshot is a consistent copy of everything a view needs.
type Snapshot struct {
	View        ViewState
	Items       []entity.Entity
	Filtered    int
	Total       int
	Page        int
	TotalPages  int
	Selected    entity.Entity
	Filter      FilterState
	Loading     bool
	Loaded      bool
	Err         error
	Notice      *Notification
	ConfirmOpen bool
}

// Controller coordinates list/edit view state with the server collection.
// Its methods are safe for concurrent use; no lock is held across a network
// call.
type Controller struct {
	cfg    Config
	api    API
	tokens TokenSource
	nav    Navigator
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	items       []entity.Entity
	loaded      bool
	inflight    int
	loadErr     error
	notice      *Notification
	confirmOpen bool
	filter      FilterState
	seq         uint64
	pending     entity.Entity
}

// Option customises a Controller.
type Option func(*Controller)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithClock overrides the time source used for temporary ids.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New creates a Controller. The collection is empty until Load is called.
func New(cfg Config, api API, tokens TokenSource, nav Navigator, opts ...Option) *Controller {
	if cfg.ItemsPerPage <= 0 {
		cfg.ItemsPerPage = DefaultItemsPerPage
	}
	if cfg.NameField == "" {
		cfg.NameField = DefaultNameField
	}
	if cfg.RarityField == "" {
		cfg.RarityField = DefaultRarityField
	}
	c := &Controller{
		cfg:    cfg,
		api:    api,
		tokens: tokens,
		nav:    nav,
		logger: zap.NewNop(),
		now:    time.Now,
		filter: FilterState{Page: 1},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Config returns the construction config with defaults applied.
func (c *Controller) Config() Config { return c.cfg }

// ---- server sync ----

// Load fetches the whole collection. On success the collection is replaced
// atomically; on failure the previous collection stays and the error is kept
// until the next successful load. A response is dropped when a newer Load
// was issued after it.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	c.seq++
	mine := c.seq
	c.inflight++
	c.mu.Unlock()

	items, err := c.api.List(ctx, c.cfg.Endpoint)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight--
	if mine != c.seq {
		c.logger.Debug("stale load discarded",
			zap.String("endpoint", c.cfg.Endpoint), zap.Uint64("seq", mine), zap.Uint64("latest", c.seq))
		return nil
	}
	if err != nil {
		c.loadErr = err
		c.logger.Warn("load failed", zap.String("endpoint", c.cfg.Endpoint), zap.Error(err))
		return err
	}
	if items == nil {
		items = []entity.Entity{}
	}
	c.items = items
	c.loaded = true
	c.loadErr = nil
	return nil
}

// Items returns the full, unfiltered collection.
func (c *Controller) Items() []entity.Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]entity.Entity(nil), c.items...)
}

// Err returns the sticky load error, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadErr
}

// ---- view state ----

// ViewState derives the current view from the navigator's path.
func (c *Controller) ViewState() ViewState {
	return DeriveViewState(c.nav.Path(), c.cfg.RoutePath)
}

// ResolveSelectedEntity returns the entity the edit view shows: the template
// with a temporary id for a new item, the collection member with a matching
// key, or nil.
func ResolveSelectedEntity(vs ViewState, items []entity.Entity, template entity.Entity, idField string, now time.Time) entity.Entity {
	if vs.IsNew {
		return entity.Merge(template, entity.Entity{
			idField:          strconv.FormatInt(now.UnixMilli(), 10),
			entity.NewMarker: true,
		})
	}
	if vs.SelectedID == "" {
		return nil
	}
	for _, e := range items {
		if e.Key(idField) == vs.SelectedID {
			return e
		}
	}
	return nil
}

// Selected resolves the entity for the current location. The pending item is
// created once per visit to the create form so its temporary id is stable.
func (c *Controller) Selected() entity.Entity {
	vs := c.ViewState()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedLocked(vs)
}

func (c *Controller) selectedLocked(vs ViewState) entity.Entity {
	if !vs.IsNew {
		c.pending = nil
		return ResolveSelectedEntity(vs, c.items, nil, c.cfg.IDField, c.now())
	}
	if c.pending == nil {
		c.pending = ResolveSelectedEntity(vs, nil, c.cfg.NewItemTemplate, c.cfg.IDField, c.now())
	}
	return c.pending
}

// Open navigates to the edit view for id.
func (c *Controller) Open(id string) { c.nav.Navigate(ItemPath(c.cfg.RoutePath, id)) }

// OpenNew navigates to the create form.
func (c *Controller) OpenNew() { c.nav.Navigate(NewPath(c.cfg.RoutePath)) }

func (c *Controller) backToList() {
	c.mu.Lock()
	c.pending = nil
	c.confirmOpen = false
	c.mu.Unlock()
	c.nav.Navigate(c.cfg.RoutePath)
}

// ---- filters ----

// Filter returns the current filter state.
func (c *Controller) Filter() FilterState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

func (c *Controller) updateFilter(fn func(*FilterState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.filter)
	c.filter.Page = 1
}

// SetSearch sets the free-text term and returns to the first page.
func (c *Controller) SetSearch(term string) {
	c.updateFilter(func(f *FilterState) { f.Search = term })
}

// SetRarities sets the selected rarity values and returns to the first page.
func (c *Controller) SetRarities(rarities ...string) {
	c.updateFilter(func(f *FilterState) { f.Rarities = append([]string(nil), rarities...) })
}

// SetCustomFilters sets the resource-specific filter values.
func (c *Controller) SetCustomFilters(values ...string) {
	c.updateFilter(func(f *FilterState) { f.CustomFilters = append([]string(nil), values...) })
}

// SetSort sets the sort key and direction.
func (c *Controller) SetSort(key string, desc bool) {
	c.updateFilter(func(f *FilterState) { f.Sort = SortSpec{Key: key, Desc: desc} })
}

// SetPage moves to page. No clamping happens here; Snapshot clamps.
func (c *Controller) SetPage(page int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter.Page = page
}

func (c *Controller) filterOptions() FilterOptions {
	return FilterOptions{NameField: c.cfg.NameField, RarityField: c.cfg.RarityField, Custom: c.cfg.CustomFilter}
}

// Filtered applies the current filters to the collection.
func (c *Controller) Filtered() []entity.Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ApplyFilters(c.items, c.filter, c.filterOptions())
}

// Snapshot returns the current view. The displayed page is clamped into
// [1, TotalPages] so a narrowed filter never shows an empty trailing page.
func (c *Controller) Snapshot() Snapshot {
	vs := c.ViewState()
	c.mu.Lock()
	defer c.mu.Unlock()

	filtered := ApplyFilters(c.items, c.filter, c.filterOptions())
	pages := TotalPages(len(filtered), c.cfg.ItemsPerPage)
	page := ClampPage(c.filter.Page, pages)

	var notice *Notification
	if c.notice != nil {
		n := *c.notice
		notice = &n
	}
	return Snapshot{
		View:        vs,
		Items:       Paginate(filtered, page, c.cfg.ItemsPerPage),
		Filtered:    len(filtered),
		Total:       len(c.items),
		Page:        page,
		TotalPages:  pages,
		Selected:    c.selectedLocked(vs),
		Filter:      c.filter,
		Loading:     c.inflight > 0,
		Loaded:      c.loaded,
		Err:         c.loadErr,
		Notice:      notice,
		ConfirmOpen: c.confirmOpen,
	}
}

// ---- mutations ----

// Notice returns the pending notification, if any.
func (c *Controller) Notice() *Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.notice == nil {
		return nil
	}
	n := *c.notice
	return &n
}

// DismissNotification clears the pending notification.
func (c *Controller) DismissNotification() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notice = nil
}

func (c *Controller) notify(kind NotificationKind, title, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notice = &Notification{Kind: kind, Title: title, Message: message}
}

// Save upserts payload. On success the collection is reloaded and the view
// returns to the list; on failure the view stays on the form.
func (c *Controller) Save(ctx context.Context, payload entity.Entity) error {
	token := c.tokens.Token()
	if token == "" {
		c.notify(NotifyError, "Not signed in", "Sign in to save changes.")
		return ErrNoCredentials
	}

	body := payload.Without(entity.NewMarker)
	id := body.Key(c.cfg.IDField)
	msg, err := c.api.Upsert(ctx, c.cfg.Endpoint, token, body)
	if err != nil {
		c.logger.Warn("save failed", zap.String("endpoint", c.cfg.Endpoint), zap.String("id", id), zap.Error(err))
		c.notify(NotifyError, "Save failed", errorMessage(err))
		return fmt.Errorf("save %s: %w", id, err)
	}

	if lerr := c.Load(ctx); lerr != nil {
		c.logger.Warn("reload after save failed", zap.Error(lerr))
	}
	if msg == "" {
		msg = id + " saved."
	}
	c.notify(NotifySuccess, "Saved", msg)
	c.backToList()
	return nil
}

// Remove deletes e on the server and then drops it from the local
// collection without a re-fetch.
func (c *Controller) Remove(ctx context.Context, e entity.Entity) error {
	token := c.tokens.Token()
	if token == "" {
		c.notify(NotifyError, "Not signed in", "Sign in to delete items.")
		return ErrNoCredentials
	}

	id := e.Key(c.cfg.IDField)
	msg, err := c.api.Delete(ctx, c.cfg.Endpoint, id, token)
	if err != nil {
		c.logger.Warn("delete failed", zap.String("endpoint", c.cfg.Endpoint), zap.String("id", id), zap.Error(err))
		c.notify(NotifyError, "Delete failed", errorMessage(err))
		return fmt.Errorf("delete %s: %w", id, err)
	}

	c.mu.Lock()
	// Loads issued before the delete may still list id.
	c.seq++
	kept := make([]entity.Entity, 0, len(c.items))
	for _, it := range c.items {
		if it.Key(c.cfg.IDField) != id {
			kept = append(kept, it)
		}
	}
	c.items = kept
	c.mu.Unlock()

	if msg == "" {
		msg = id + " deleted."
	}
	c.notify(NotifySuccess, "Deleted", msg)

	if vs := c.ViewState(); vs.Mode == ModeEdit && vs.SelectedID == id {
		c.backToList()
	}
	return nil
}

// ---- close gate ----

// RequestClose opens the leave-form confirmation.
func (c *Controller) RequestClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmOpen = true
}

// CancelClose dismisses the confirmation and stays on the form.
func (c *Controller) CancelClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmOpen = false
}

// ConfirmClose leaves the form for the list.
func (c *Controller) ConfirmClose() {
	c.backToList()
}

// ConfirmOpen reports whether the leave-form confirmation is showing.
func (c *Controller) ConfirmOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirmOpen
}

// messenger is implemented by errors that carry a server-provided message.
type messenger interface {
	ServerMessage() string
}

func errorMessage(err error) string {
	var m messenger
	if errors.As(err, &m) && m.ServerMessage() != "" {
		return m.ServerMessage()
	}
	return "Could not reach the server. Please try again."
}
