package pressli

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pressli/pressli/theme"
)

// MaxMenuDepth is the deepest nesting the menu builder accepts.
const MaxMenuDepth = 3

// MenuInput is the editable part of a menu.
type MenuInput struct {
	Name     string
	Slug     string
	Location string
}

// Menus manages navigation menus.
type Menus struct {
	store *Store
	log   *zap.Logger
	now   func() time.Time
}

// NewMenus creates a Menus service.
func NewMenus(store *Store, log *zap.Logger, now func() time.Time) *Menus {
	return &Menus{store: store, log: log, now: now}
}

// List returns every menu.
func (s *Menus) List(ctx context.Context) ([]Menu, error) {
	return s.store.ListMenus(ctx)
}

// Get returns a menu.
func (s *Menus) Get(ctx context.Context, id int64) (Menu, error) {
	m, err := s.store.GetMenu(ctx, id)
	return m, notFoundAs(err, "Menu")
}

// Create stores a new menu. locations are the ones the active theme declares.
func (s *Menus) Create(ctx context.Context, in MenuInput, locations map[string]string) (Menu, error) {
	var m Menu
	return s.save(ctx, &m, in, locations)
}

// Update replaces the name, slug and location of a menu.
func (s *Menus) Update(ctx context.Context, id int64, in MenuInput, locations map[string]string) (Menu, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return Menu{}, err
	}
	return s.save(ctx, &m, in, locations)
}

func (s *Menus) save(ctx context.Context, m *Menu, in MenuInput, locations map[string]string) (Menu, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Menu{}, Invalid("Menu name is required")
	}
	slug := Slugify(in.Slug)
	if slug == "" {
		slug = Slugify(name)
	}
	if slug == "" {
		return Menu{}, Invalid("Menu slug must contain letters or numbers")
	}
	taken, err := s.store.MenuSlugTaken(ctx, slug, m.ID)
	if err != nil {
		return Menu{}, err
	}
	if taken {
		return Menu{}, Conflict("A menu with the slug %q already exists", slug)
	}
	if in.Location != "" {
		if _, ok := locations[in.Location]; !ok {
			return Menu{}, Invalid("The active theme has no menu location %q", in.Location)
		}
	}
	m.Name, m.Slug, m.Location = name, slug, in.Location
	if err := s.store.SaveMenu(ctx, m); err != nil {
		return Menu{}, err
	}
	return *m, nil
}

// Delete soft-deletes a menu.
func (s *Menus) Delete(ctx context.Context, id int64) error {
	return notFoundAs(s.store.DeleteMenu(ctx, id), "Menu")
}

// Items returns the item tree of a menu.
func (s *Menus) Items(ctx context.Context, id int64) ([]*MenuItem, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	flat, err := s.store.MenuItems(ctx, id)
	if err != nil {
		return nil, err
	}
	return BuildMenuTree(flat), nil
}

// BuildMenuTree nests a flat item list by ParentID. Items whose parent is
// missing are placed at the top level.
func BuildMenuTree(flat []MenuItem) []*MenuItem {
	nodes := make(map[int64]*MenuItem, len(flat))
	for i := range flat {
		it := flat[i]
		it.Children = []*MenuItem{}
		nodes[it.ID] = &it
	}
	roots := []*MenuItem{}
	for i := range flat {
		it := nodes[flat[i].ID]
		if parent, ok := nodes[it.ParentID]; ok && it.ParentID != it.ID {
			parent.Children = append(parent.Children, it)
		} else {
			roots = append(roots, it)
		}
	}
	return roots
}

// SaveItems validates tree and replaces the menu's items with it.
func (s *Menus) SaveItems(ctx context.Context, id int64, tree []*MenuItem) ([]*MenuItem, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if err := s.validateItems(ctx, tree, 1); err != nil {
		return nil, err
	}
	if err := s.store.ReplaceMenuItems(ctx, id, tree); err != nil {
		return nil, err
	}
	return s.Items(ctx, id)
}

func (s *Menus) validateItems(ctx context.Context, items []*MenuItem, depth int) error {
	if len(items) > 0 && depth > MaxMenuDepth {
		return Invalid("Menus can be nested at most %d levels deep", MaxMenuDepth)
	}
	for _, it := range items {
		if it == nil {
			return Invalid("Menu items must not be empty")
		}
		it.Title = strings.TrimSpace(it.Title)
		if it.Target != "" && it.Target != "_blank" {
			return Invalid("Unknown link target %q", it.Target)
		}
		switch it.Kind {
		case MenuItemCustom:
			if it.Title == "" {
				return Invalid("Custom links need a title")
			}
			if !safeMenuURL(it.URL) {
				return Invalid("Custom link %q has an invalid URL", it.Title)
			}
			it.ObjectID = 0
		case MenuItemPost, MenuItemPage:
			p, err := s.store.GetPost(ctx, it.ObjectID)
			if err != nil || p.Type != it.Kind || p.Status == StatusTrash {
				return Invalid("Menu item %q points to a missing %s", it.Title, it.Kind)
			}
			if it.Title == "" {
				it.Title = p.Title
			}
			it.URL = ""
		case MenuItemCategory:
			t, err := s.store.GetTerm(ctx, it.ObjectID)
			if err != nil || t.Taxonomy != TaxonomyCategory {
				return Invalid("Menu item %q points to a missing category", it.Title)
			}
			if it.Title == "" {
				it.Title = t.Name
			}
			it.URL = ""
		default:
			return Invalid("Unknown menu item kind %q", it.Kind)
		}
		if err := s.validateItems(ctx, it.Children, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func safeMenuURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	if strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "#") {
		return !strings.HasPrefix(raw, "//")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https":
		return u.Host != ""
	case "mailto", "tel":
		return true
	}
	return false
}

// Resolve returns the public links of the menu at location. Object items
// get their current permalink; items pointing at content that is gone or
// not public are dropped along with their children.
func (s *Menus) Resolve(ctx context.Context, location string) ([]theme.MenuLink, error) {
	m, err := s.store.MenuAt(ctx, location)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	flat, err := s.store.MenuItems(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	return s.links(ctx, BuildMenuTree(flat)), nil
}

func (s *Menus) links(ctx context.Context, items []*MenuItem) []theme.MenuLink {
	var out []theme.MenuLink
	for _, it := range items {
		link := theme.MenuLink{Title: it.Title, URL: it.URL, Target: it.Target}
		switch it.Kind {
		case MenuItemPost, MenuItemPage:
			p, err := s.store.GetPost(ctx, it.ObjectID)
			if err != nil || !p.IsPublic(s.now()) {
				continue
			}
			link.URL = p.Permalink()
		case MenuItemCategory:
			t, err := s.store.GetTerm(ctx, it.ObjectID)
			if err != nil {
				continue
			}
			link.URL = t.Permalink()
		}
		link.Children = s.links(ctx, it.Children)
		out = append(out, link)
	}
	return out
}
