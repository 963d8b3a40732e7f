package pressli

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pressli/pressli/markdown"
)

// reservedSlugs collide with fixed public routes.
var reservedSlugs = map[string]bool{
	"admin": true, "public": true, "category": true, "tag": true, "page": true,
	"feed-xml": true, "sitemap-xml": true, "robots-txt": true,
}

var templatePattern = regexp.MustCompile(`^[a-z0-9-]*$`)

// PostInput is the editable part of a post or page.
type PostInput struct {
	Title       string
	Slug        string
	Content     string
	Excerpt     string
	Format      string
	Status      string
	PublishedAt time.Time
	ParentID    int64
	Template    string
	MenuOrder   int
	CategoryIDs []int64
	Tags        []string
}

// Posts manages posts and pages.
type Posts struct {
	store    *Store
	settings *Settings
	log      *zap.Logger
	now      func() time.Time
}

// NewPosts creates a Posts service.
func NewPosts(store *Store, settings *Settings, log *zap.Logger, now func() time.Time) *Posts {
	return &Posts{store: store, settings: settings, log: log, now: now}
}

func typeLabel(typ string) string {
	if typ == TypePage {
		return "Page"
	}
	return "Post"
}

// Get returns a non-deleted entry of type typ.
func (s *Posts) Get(ctx context.Context, typ string, id int64) (Post, error) {
	p, err := s.store.GetPost(ctx, id)
	if err != nil {
		return Post{}, notFoundAs(err, typeLabel(typ))
	}
	if p.Type != typ {
		return Post{}, NotFound(typeLabel(typ))
	}
	return p, nil
}

// List returns a page of entries and the total count.
func (s *Posts) List(ctx context.Context, q PostQuery) ([]Post, int, error) {
	return s.store.ListPosts(ctx, q)
}

// Counts returns the number of entries of typ per status. "all" counts
// everything outside the trash.
func (s *Posts) Counts(ctx context.Context, typ string) (map[string]int, error) {
	counts, err := s.store.CountPosts(ctx, typ)
	if err != nil {
		return nil, err
	}
	all := 0
	for status, n := range counts {
		if status != StatusTrash {
			all += n
		}
	}
	counts["all"] = all
	return counts, nil
}

// Published returns the public entry with slug, or a NotFound error.
func (s *Posts) Published(ctx context.Context, slug string) (Post, error) {
	p, err := s.store.GetPostBySlug(ctx, slug)
	if err != nil {
		return Post{}, notFoundAs(err, "Page")
	}
	if !p.IsPublic(s.now()) {
		return Post{}, NotFound("Page")
	}
	return p, nil
}

func (s *Posts) authorize(actor *User, typ string, p *Post) error {
	if !actor.Can(CapEditPosts) {
		return Forbidden("You are not allowed to edit content")
	}
	if typ == TypePage && !actor.Can(CapEditOthers) {
		return Forbidden("You are not allowed to edit pages")
	}
	if p != nil && p.AuthorID != actor.ID && !actor.Can(CapEditOthers) {
		return Forbidden("You can only edit your own %ss", strings.ToLower(typeLabel(typ)))
	}
	return nil
}

// Create validates in and stores a new entry of type typ authored by actor.
func (s *Posts) Create(ctx context.Context, actor *User, typ string, in PostInput) (Post, error) {
	if err := s.authorize(actor, typ, nil); err != nil {
		return Post{}, err
	}
	p := Post{Type: typ, AuthorID: actor.ID}
	return s.save(ctx, actor, &p, in)
}

// Update validates in and replaces the editable fields of an entry.
func (s *Posts) Update(ctx context.Context, actor *User, typ string, id int64, in PostInput) (Post, error) {
	p, err := s.Get(ctx, typ, id)
	if err != nil {
		return Post{}, err
	}
	if err := s.authorize(actor, typ, &p); err != nil {
		return Post{}, err
	}
	if p.Status == StatusTrash {
		return Post{}, Conflict("Restore the %s before editing it", strings.ToLower(typeLabel(typ)))
	}
	return s.save(ctx, actor, &p, in)
}

func (s *Posts) save(ctx context.Context, actor *User, p *Post, in PostInput) (Post, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Post{}, Invalid("Title is required")
	}
	if len(title) > 255 {
		return Post{}, Invalid("Title must be at most 255 characters")
	}
	format := in.Format
	if format == "" {
		format = markdown.FormatHTML
	}
	if !markdown.ValidFormat(format) {
		return Post{}, Invalid("Unknown content format %q", format)
	}
	status, published, err := s.resolveStatus(actor, p, in)
	if err != nil {
		return Post{}, err
	}

	base := Slugify(in.Slug)
	if base == "" {
		base = Slugify(title)
	}
	if base == "" {
		return Post{}, Invalid("Add a title or slug that contains letters or numbers")
	}
	slug, err := s.uniqueSlug(ctx, base, p.ID)
	if err != nil {
		return Post{}, err
	}

	content := in.Content
	if format == markdown.FormatHTML {
		content = markdown.Sanitize(content)
	}
	excerpt := markdown.PlainText(in.Excerpt)
	if len(excerpt) > 1000 {
		return Post{}, Invalid("Excerpt must be at most 1000 characters")
	}

	var termIDs []int64
	switch p.Type {
	case TypePage:
		if err := s.checkParent(ctx, p.ID, in.ParentID); err != nil {
			return Post{}, err
		}
		if !templatePattern.MatchString(in.Template) {
			return Post{}, Invalid("Unknown page template %q", in.Template)
		}
		p.ParentID, p.Template, p.MenuOrder = in.ParentID, in.Template, in.MenuOrder
	case TypePost:
		if termIDs, err = s.resolveTerms(ctx, in); err != nil {
			return Post{}, err
		}
	}

	p.Title, p.Slug, p.Content, p.Excerpt, p.Format = title, slug, content, excerpt, format
	p.Status, p.PublishedAt = status, published
	if err := s.store.SavePost(ctx, p, termIDs); err != nil {
		return Post{}, fmt.Errorf("save %s: %w", p.Type, err)
	}
	s.log.Info("entry saved", zap.String("type", p.Type), zap.Int64("id", p.ID), zap.String("status", p.Status))
	return s.store.GetPost(ctx, p.ID)
}

// resolveStatus maps the requested status and publish time to the stored
// pair. A publish time in the future makes the entry scheduled.
func (s *Posts) resolveStatus(actor *User, p *Post, in PostInput) (string, time.Time, error) {
	status := in.Status
	if status == "" {
		status = StatusDraft
	}
	switch status {
	case StatusDraft:
		return status, in.PublishedAt, nil
	case StatusPublished, StatusScheduled:
	default:
		return "", time.Time{}, Invalid("Unknown status %q", status)
	}
	if !actor.Can(CapPublish) {
		return "", time.Time{}, Forbidden("You are not allowed to publish")
	}
	now := s.now()
	published := in.PublishedAt
	if published.IsZero() {
		published = p.PublishedAt
	}
	if published.IsZero() {
		published = now
	}
	if published.After(now) {
		return StatusScheduled, published, nil
	}
	return StatusPublished, published, nil
}

func (s *Posts) uniqueSlug(ctx context.Context, base string, excludeID int64) (string, error) {
	candidate := base
	for n := 2; ; n++ {
		if !reservedSlugs[candidate] {
			taken, err := s.store.SlugTaken(ctx, candidate, excludeID)
			if err != nil {
				return "", err
			}
			if !taken {
				return candidate, nil
			}
		}
		candidate = base + "-" + strconv.Itoa(n)
	}
}

// checkParent rejects a parent that is missing, not a page, the page
// itself, or one of its descendants.
func (s *Posts) checkParent(ctx context.Context, id, parent int64) error {
	if parent == 0 {
		return nil
	}
	if parent == id {
		return Invalid("A page cannot be its own parent")
	}
	pp, err := s.store.GetPost(ctx, parent)
	if err != nil || pp.Type != TypePage || pp.Status == StatusTrash {
		return Invalid("The parent page does not exist")
	}
	if id == 0 {
		return nil
	}
	for cur, steps := pp.ParentID, 0; cur != 0; steps++ {
		if cur == id || steps > 100 {
			return Invalid("A page cannot be nested under its own child")
		}
		if cur, err = s.store.ParentID(ctx, cur); err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (s *Posts) resolveTerms(ctx context.Context, in PostInput) ([]int64, error) {
	cats, err := s.store.ExistingTermIDs(ctx, TaxonomyCategory, in.CategoryIDs)
	if err != nil {
		return nil, err
	}
	if len(cats) == 0 {
		def := int64(s.settings.Int(ctx, "default_category", 0))
		if def == 0 {
			return nil, Invalid("Choose at least one category")
		}
		cats = []int64{def}
	}
	tags, err := s.store.EnsureTags(ctx, in.Tags)
	if err != nil {
		return nil, err
	}
	return append(cats, tags...), nil
}

// Trash moves an entry to the trash.
func (s *Posts) Trash(ctx context.Context, actor *User, typ string, id int64) error {
	p, err := s.Get(ctx, typ, id)
	if err != nil {
		return err
	}
	if err := s.authorize(actor, typ, &p); err != nil {
		return err
	}
	return s.store.TrashPost(ctx, id)
}

// Restore takes an entry out of the trash.
func (s *Posts) Restore(ctx context.Context, actor *User, typ string, id int64) error {
	p, err := s.Get(ctx, typ, id)
	if err != nil {
		return err
	}
	if err := s.authorize(actor, typ, &p); err != nil {
		return err
	}
	if p.Status != StatusTrash {
		return Conflict("%s is not in the trash", typeLabel(typ))
	}
	return s.store.RestorePost(ctx, id)
}

// Delete permanently deletes a trashed entry.
func (s *Posts) Delete(ctx context.Context, actor *User, typ string, id int64) error {
	p, err := s.Get(ctx, typ, id)
	if err != nil {
		return err
	}
	if err := s.authorize(actor, typ, &p); err != nil {
		return err
	}
	if p.Status != StatusTrash {
		return Conflict("Move the %s to the trash first", strings.ToLower(typeLabel(typ)))
	}
	_, err = s.store.DeletePosts(ctx, []int64{id})
	return err
}

// Bulk applies trash, restore or delete to several entries and returns how
// many were changed. Entries the actor may not touch are skipped.
func (s *Posts) Bulk(ctx context.Context, actor *User, typ, action string, ids []int64) (int, error) {
	var apply func(context.Context, *User, string, int64) error
	switch action {
	case "trash":
		apply = s.Trash
	case "restore":
		apply = s.Restore
	case "delete":
		apply = s.Delete
	default:
		return 0, Invalid("Unknown bulk action %q", action)
	}
	if len(ids) == 0 {
		return 0, Invalid("Select at least one item")
	}
	n := 0
	for _, id := range ids {
		if err := apply(ctx, actor, typ, id); err != nil {
			s.log.Debug("bulk action skipped entry", zap.String("action", action), zap.Int64("id", id), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

// EmptyTrash permanently deletes trashed entries last touched before cutoff.
// A zero cutoff empties the whole trash.
func (s *Posts) EmptyTrash(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.store.TrashedIDs(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return s.store.DeletePosts(ctx, ids)
}

// StartTrashScheduler permanently deletes trash older than retentionDays
// every interval. It returns a stop function.
func (s *Posts) StartTrashScheduler(retentionDays int, interval time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				cutoff := s.now().AddDate(0, 0, -retentionDays)
				n, err := s.EmptyTrash(context.Background(), cutoff)
				if err != nil {
					s.log.Error("trash cleanup failed", zap.Error(err))
				} else if n > 0 {
					s.log.Info("trash cleaned", zap.Int("deleted", n))
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() { close(done) }
}
