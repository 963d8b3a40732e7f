package pressli

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// TermInput is the editable part of a category or tag.
type TermInput struct {
	Name        string
	Slug        string
	Description string
	ParentID    int64
}

// Terms manages categories and tags.
type Terms struct {
	store    *Store
	settings *Settings
	log      *zap.Logger
}

// NewTerms creates a Terms service.
func NewTerms(store *Store, settings *Settings, log *zap.Logger) *Terms {
	return &Terms{store: store, settings: settings, log: log}
}

func taxonomyLabel(taxonomy string) string {
	if taxonomy == TaxonomyTag {
		return "Tag"
	}
	return "Category"
}

// List returns the terms of a taxonomy. Categories are ordered as a tree
// with Depth set.
func (s *Terms) List(ctx context.Context, taxonomy, search string) ([]Term, error) {
	terms, err := s.store.ListTerms(ctx, taxonomy, search)
	if err != nil {
		return nil, err
	}
	if taxonomy != TaxonomyCategory || search != "" {
		return terms, nil
	}
	return TermTree(terms), nil
}

// TermTree orders terms depth-first under their parents and sets Depth.
// Terms whose parent is not in the list are treated as roots.
func TermTree(terms []Term) []Term {
	present := make(map[int64]bool, len(terms))
	for _, t := range terms {
		present[t.ID] = true
	}
	children := make(map[int64][]Term)
	for _, t := range terms {
		parent := t.ParentID
		if !present[parent] {
			parent = 0
		}
		children[parent] = append(children[parent], t)
	}
	out := make([]Term, 0, len(terms))
	seen := make(map[int64]bool, len(terms))
	var walk func(parent int64, depth int)
	walk = func(parent int64, depth int) {
		for _, t := range children[parent] {
			if seen[t.ID] {
				continue
			}
			seen[t.ID] = true
			t.Depth = depth
			out = append(out, t)
			walk(t.ID, depth+1)
		}
	}
	walk(0, 0)
	return out
}

// Get returns a non-deleted term of taxonomy.
func (s *Terms) Get(ctx context.Context, taxonomy string, id int64) (Term, error) {
	t, err := s.store.GetTerm(ctx, id)
	if err != nil {
		return Term{}, notFoundAs(err, taxonomyLabel(taxonomy))
	}
	if t.Taxonomy != taxonomy {
		return Term{}, NotFound(taxonomyLabel(taxonomy))
	}
	return t, nil
}

// BySlug returns a non-deleted term of taxonomy by slug.
func (s *Terms) BySlug(ctx context.Context, taxonomy, slug string) (Term, error) {
	t, err := s.store.GetTermBySlug(ctx, taxonomy, slug)
	return t, notFoundAs(err, taxonomyLabel(taxonomy))
}

// Create validates and stores a new term.
func (s *Terms) Create(ctx context.Context, taxonomy string, in TermInput) (Term, error) {
	t := Term{Taxonomy: taxonomy}
	return s.save(ctx, &t, in)
}

// Update validates and replaces the editable fields of a term.
func (s *Terms) Update(ctx context.Context, taxonomy string, id int64, in TermInput) (Term, error) {
	t, err := s.Get(ctx, taxonomy, id)
	if err != nil {
		return Term{}, err
	}
	return s.save(ctx, &t, in)
}

func (s *Terms) save(ctx context.Context, t *Term, in TermInput) (Term, error) {
	label := taxonomyLabel(t.Taxonomy)
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Term{}, Invalid("%s name is required", label)
	}
	if len(name) > 200 {
		return Term{}, Invalid("%s name must be at most 200 characters", label)
	}
	slug := Slugify(in.Slug)
	if slug == "" {
		slug = Slugify(name)
	}
	if slug == "" {
		return Term{}, Invalid("%s slug must contain letters or numbers", label)
	}
	taken, err := s.store.TermSlugTaken(ctx, t.Taxonomy, slug, t.ID)
	if err != nil {
		return Term{}, err
	}
	if taken {
		return Term{}, Invalid("A %s with the slug %q already exists", strings.ToLower(label), slug)
	}
	parent := int64(0)
	if t.Taxonomy == TaxonomyCategory {
		parent = in.ParentID
		if err := s.checkParent(ctx, t.ID, parent); err != nil {
			return Term{}, err
		}
	}
	t.Name, t.Slug, t.Description, t.ParentID = name, slug, strings.TrimSpace(in.Description), parent
	if err := s.store.SaveTerm(ctx, t); err != nil {
		return Term{}, err
	}
	return *t, nil
}

func (s *Terms) checkParent(ctx context.Context, id, parent int64) error {
	return checkTermParent(ctx, s.store, id, parent)
}

// checkTermParent rejects a category parent that is missing, the term itself
// or one of its descendants.
func checkTermParent(ctx context.Context, store *Store, id, parent int64) error {
	if parent == 0 {
		return nil
	}
	if parent == id {
		return Invalid("A category cannot be its own parent")
	}
	p, err := store.GetTerm(ctx, parent)
	if err != nil || p.Taxonomy != TaxonomyCategory {
		return Invalid("The parent category does not exist")
	}
	if id == 0 {
		return nil
	}
	for cur, steps := p.ParentID, 0; cur != 0; steps++ {
		if cur == id || steps > 100 {
			return Invalid("A category cannot be nested under its own child")
		}
		if cur, err = store.TermParentID(ctx, cur); err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Delete soft-deletes a term. The default category cannot be deleted.
func (s *Terms) Delete(ctx context.Context, taxonomy string, id int64) error {
	if _, err := s.Get(ctx, taxonomy, id); err != nil {
		return err
	}
	def := int64(s.settings.Int(ctx, "default_category", 0))
	if taxonomy == TaxonomyCategory && id == def {
		return Conflict("The default category cannot be deleted")
	}
	if err := s.store.DeleteTerm(ctx, id, def); err != nil {
		return err
	}
	s.log.Info("term deleted", zap.String("taxonomy", taxonomy), zap.Int64("id", id))
	return nil
}

// Search returns up to limit terms whose name contains q, for autocomplete.
func (s *Terms) Search(ctx context.Context, taxonomy, q string, limit int) ([]Term, error) {
	if strings.TrimSpace(q) == "" {
		return []Term{}, nil
	}
	terms, err := s.store.ListTerms(ctx, taxonomy, q)
	if err != nil {
		return nil, err
	}
	if len(terms) > limit {
		terms = terms[:limit]
	}
	return terms, nil
}
