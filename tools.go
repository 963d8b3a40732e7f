package pressli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pressli/pressli/bundle"
	"github.com/pressli/pressli/markdown"
)

// ExportVersion identifies the export document layout.
const ExportVersion = "1"

// ExportDocument is the JSON written by Export and read by Import.
// References between records use slugs so the document survives id changes.
type ExportDocument struct {
	Version    string          `json:"version"`
	ExportedAt time.Time       `json:"exported_at"`
	Site       string          `json:"site"`
	Terms      []ExportTerm    `json:"terms"`
	Posts      []ExportPost    `json:"posts"`
	Menus      []ExportMenu    `json:"menus"`
	Settings   []ExportSetting `json:"settings"`
}

type ExportTerm struct {
	Taxonomy    string `json:"taxonomy"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`
	Parent      string `json:"parent,omitempty"`
}

type ExportPost struct {
	Type        string     `json:"type"`
	Title       string     `json:"title"`
	Slug        string     `json:"slug"`
	Content     string     `json:"content"`
	Excerpt     string     `json:"excerpt,omitempty"`
	Format      string     `json:"format"`
	Status      string     `json:"status"`
	Parent      string     `json:"parent,omitempty"`
	Template    string     `json:"template,omitempty"`
	MenuOrder   int        `json:"menu_order,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Author      string     `json:"author,omitempty"`
	Categories  []string   `json:"categories,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
}

type ExportMenu struct {
	Name     string           `json:"name"`
	Slug     string           `json:"slug"`
	Location string           `json:"location,omitempty"`
	Items    []ExportMenuItem `json:"items"`
}

type ExportMenuItem struct {
	Title    string           `json:"title"`
	Kind     string           `json:"kind"`
	URL      string           `json:"url,omitempty"`
	Object   string           `json:"object,omitempty"` // slug of the linked post, page or category
	Target   string           `json:"target,omitempty"`
	Children []ExportMenuItem `json:"children,omitempty"`
}

type ExportSetting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ImportReport counts what Import created and skipped.
type ImportReport struct {
	Terms    int
	Posts    int
	Menus    int
	Settings int // settings groups stored
	Skipped  int
}

// CoreUpdate is the update.json manifest of a core update package.
type CoreUpdate struct {
	Version string `json:"version"`
	Notes   string `json:"notes"`
}

// ToolsConfig holds the directories the maintenance tools work in.
type ToolsConfig struct {
	PublicDir  string
	BackupDir  string
	StagingDir string
	MaxArchive int64
}

// Tools implements the maintenance screen.
type Tools struct {
	store    *Store
	settings *Settings
	posts    *Posts
	cfg      ToolsConfig
	locks    *bundle.Locker
	log      *zap.Logger
	now      func() time.Time
}

// NewTools creates a Tools service.
func NewTools(store *Store, settings *Settings, posts *Posts, cfg ToolsConfig, log *zap.Logger, now func() time.Time) *Tools {
	return &Tools{store: store, settings: settings, posts: posts, cfg: cfg, locks: bundle.NewLocker(), log: log, now: now}
}

// Export writes every post, page, term, menu and setting as JSON.
func (t *Tools) Export(ctx context.Context, w io.Writer) error {
	doc, err := t.buildExport(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func (t *Tools) buildExport(ctx context.Context) (ExportDocument, error) {
	doc := ExportDocument{Version: ExportVersion, ExportedAt: t.now().UTC()}
	doc.Site, _ = t.settings.Get(ctx, "site_title")

	termSlugs := map[int64]string{}
	for _, tax := range []string{TaxonomyCategory, TaxonomyTag} {
		terms, err := t.store.ListTerms(ctx, tax, "")
		if err != nil {
			return doc, err
		}
		for _, term := range terms {
			termSlugs[term.ID] = term.Slug
		}
		for _, term := range TermTree(terms) {
			doc.Terms = append(doc.Terms, ExportTerm{
				Taxonomy: term.Taxonomy, Name: term.Name, Slug: term.Slug,
				Description: term.Description, Parent: termSlugs[term.ParentID],
			})
		}
	}

	postSlugs := map[int64]string{}
	var all []Post
	for _, typ := range []string{TypePage, TypePost} {
		for _, status := range []string{"", StatusTrash} {
			posts, _, err := t.store.ListPosts(ctx, PostQuery{Type: typ, Status: status})
			if err != nil {
				return doc, err
			}
			all = append(all, posts...)
		}
	}
	authors := map[int64]string{}
	users, err := t.store.ListUsers(ctx, "", "")
	if err != nil {
		return doc, err
	}
	for _, u := range users {
		authors[u.ID] = u.Username
	}
	for _, p := range all {
		postSlugs[p.ID] = p.Slug
	}
	for _, p := range all {
		ep := ExportPost{
			Type: p.Type, Title: p.Title, Slug: p.Slug, Content: p.Content, Excerpt: p.Excerpt,
			Format: p.Format, Status: p.Status, Parent: postSlugs[p.ParentID], Template: p.Template,
			MenuOrder: p.MenuOrder, Author: authors[p.AuthorID],
		}
		if p.Status == StatusTrash {
			ep.Status = p.PreviousStatus
		}
		if !p.PublishedAt.IsZero() {
			at := p.PublishedAt
			ep.PublishedAt = &at
		}
		for _, c := range p.Categories {
			ep.Categories = append(ep.Categories, c.Slug)
		}
		for _, tg := range p.Tags {
			ep.Tags = append(ep.Tags, tg.Name)
		}
		doc.Posts = append(doc.Posts, ep)
	}

	menus, err := t.store.ListMenus(ctx)
	if err != nil {
		return doc, err
	}
	for _, m := range menus {
		flat, err := t.store.MenuItems(ctx, m.ID)
		if err != nil {
			return doc, err
		}
		doc.Menus = append(doc.Menus, ExportMenu{
			Name: m.Name, Slug: m.Slug, Location: m.Location,
			Items: exportItems(BuildMenuTree(flat), postSlugs, termSlugs),
		})
	}

	for _, group := range SettingGroups {
		for _, key := range group {
			v, err := t.settings.Get(ctx, key)
			if err != nil {
				return doc, err
			}
			if key == "page_on_front" {
				id, _ := strconv.ParseInt(v, 10, 64)
				if slug, ok := postSlugs[id]; ok {
					v = slug
				}
			}
			doc.Settings = append(doc.Settings, ExportSetting{Key: key, Value: v})
		}
	}
	return doc, nil
}

func exportItems(items []*MenuItem, posts, terms map[int64]string) []ExportMenuItem {
	out := []ExportMenuItem{}
	for _, it := range items {
		ei := ExportMenuItem{Title: it.Title, Kind: it.Kind, URL: it.URL, Target: it.Target}
		switch it.Kind {
		case MenuItemPost, MenuItemPage:
			ei.Object = posts[it.ObjectID]
		case MenuItemCategory:
			ei.Object = terms[it.ObjectID]
		}
		ei.Children = exportItems(it.Children, posts, terms)
		out = append(out, ei)
	}
	return out
}

// Import reads an export document. Records whose slug already exists are
// skipped. Imported entries keep their author when a user with that username
// exists here and are owned by actor otherwise.
func (t *Tools) Import(ctx context.Context, actor *User, r io.Reader) (ImportReport, error) {
	var rep ImportReport
	var doc ExportDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return rep, Invalid("The file is not a valid export: %v", err)
	}
	if doc.Version != ExportVersion {
		return rep, Invalid("Unsupported export version %q", doc.Version)
	}

	termIDs := map[string]int64{}
	parents := map[int64]string{}
	for _, et := range doc.Terms {
		if et.Taxonomy != TaxonomyCategory && et.Taxonomy != TaxonomyTag {
			rep.Skipped++
			continue
		}
		slug := Slugify(et.Slug)
		if slug == "" || strings.TrimSpace(et.Name) == "" {
			rep.Skipped++
			continue
		}
		key := et.Taxonomy + "/" + slug
		if existing, err := t.store.GetTermBySlug(ctx, et.Taxonomy, slug); err == nil {
			termIDs[key] = existing.ID
			rep.Skipped++
			continue
		}
		term := Term{Taxonomy: et.Taxonomy, Name: strings.TrimSpace(et.Name), Slug: slug, Description: et.Description}
		if err := t.store.SaveTerm(ctx, &term); err != nil {
			return rep, err
		}
		termIDs[key] = term.ID
		if et.Taxonomy == TaxonomyCategory && et.Parent != "" {
			parents[term.ID] = et.Parent
		}
		rep.Terms++
	}
	for id, parentSlug := range parents {
		pid, ok := termIDs[TaxonomyCategory+"/"+parentSlug]
		if !ok {
			continue
		}
		if err := checkTermParent(ctx, t.store, id, pid); err != nil {
			if !errors.Is(err, ErrInvalid) {
				return rep, err
			}
			t.log.Warn("imported category parent ignored", zap.Int64("term", id), zap.String("parent", parentSlug), zap.Error(err))
			continue
		}
		term, err := t.store.GetTerm(ctx, id)
		if err != nil {
			return rep, err
		}
		term.ParentID = pid
		if err := t.store.SaveTerm(ctx, &term); err != nil {
			return rep, err
		}
	}

	postIDs := map[string]int64{}
	pageParents := map[int64]string{}
	for _, ep := range doc.Posts {
		id, ok, err := t.importPost(ctx, actor, ep, termIDs)
		if err != nil {
			return rep, err
		}
		if id != 0 {
			postIDs[Slugify(ep.Slug)] = id
		}
		if !ok {
			rep.Skipped++
			continue
		}
		if ep.Type == TypePage && ep.Parent != "" {
			pageParents[id] = ep.Parent
		}
		rep.Posts++
	}
	for id, parentSlug := range pageParents {
		pid, ok := postIDs[Slugify(parentSlug)]
		if !ok {
			continue
		}
		if err := t.posts.checkParent(ctx, id, pid); err != nil {
			if !errors.Is(err, ErrInvalid) {
				return rep, err
			}
			t.log.Warn("imported page parent ignored", zap.Int64("page", id), zap.String("parent", parentSlug), zap.Error(err))
			continue
		}
		p, err := t.store.GetPost(ctx, id)
		if err != nil {
			return rep, err
		}
		p.ParentID = pid
		if err := t.store.SavePost(ctx, &p, nil); err != nil {
			return rep, err
		}
	}

	for _, em := range doc.Menus {
		slug := Slugify(em.Slug)
		taken, err := t.store.MenuSlugTaken(ctx, slug, 0)
		if err != nil {
			return rep, err
		}
		if slug == "" || taken {
			rep.Skipped++
			continue
		}
		m := Menu{Name: em.Name, Slug: slug, Location: em.Location}
		if err := t.store.SaveMenu(ctx, &m); err != nil {
			return rep, err
		}
		items := importItems(em.Items, postIDs, termIDs, 1)
		if err := t.store.ReplaceMenuItems(ctx, m.ID, items); err != nil {
			return rep, err
		}
		rep.Menus++
	}

	if err := t.importSettings(ctx, doc.Settings, postIDs, &rep); err != nil {
		return rep, err
	}
	t.log.Info("import finished", zap.Int("terms", rep.Terms), zap.Int("posts", rep.Posts),
		zap.Int("menus", rep.Menus), zap.Int("settings", rep.Settings), zap.Int("skipped", rep.Skipped))
	return rep, nil
}

// importSettings stores imported settings one group at a time through the
// same validation as the settings screens. Keys missing from the document
// keep their current values; a group that fails validation is skipped.
func (t *Tools) importSettings(ctx context.Context, settings []ExportSetting, postIDs map[string]int64, rep *ImportReport) error {
	imported := map[string]string{}
	for _, es := range settings {
		imported[es.Key] = es.Value
	}
	if v, ok := imported["page_on_front"]; ok {
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			imported["page_on_front"] = t.pageIDBySlug(ctx, Slugify(v), postIDs)
		}
	}

	groups := make([]string, 0, len(SettingGroups))
	for g := range SettingGroups {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	for _, group := range groups {
		form := map[string]string{}
		found := false
		for _, key := range SettingGroups[group] {
			v, ok := imported[key]
			if !ok {
				cur, err := t.settings.Get(ctx, key)
				if err != nil {
					return err
				}
				v = cur
			}
			found = found || ok
			form[key] = v
		}
		if !found {
			continue
		}
		if err := t.settings.SaveGroup(ctx, group, form); err != nil {
			if !errors.Is(err, ErrInvalid) {
				return err
			}
			t.log.Warn("imported settings rejected", zap.String("group", group), zap.Error(err))
			rep.Skipped++
			continue
		}
		rep.Settings++
	}
	return nil
}

func (t *Tools) pageIDBySlug(ctx context.Context, slug string, postIDs map[string]int64) string {
	if id, ok := postIDs[slug]; ok {
		return strconv.FormatInt(id, 10)
	}
	if p, err := t.store.GetPostBySlug(ctx, slug); err == nil {
		return strconv.FormatInt(p.ID, 10)
	}
	return "0"
}

// importPost stores one exported entry. It returns the id of the entry now
// holding the slug and whether it was created.
func (t *Tools) importPost(ctx context.Context, actor *User, ep ExportPost, termIDs map[string]int64) (int64, bool, error) {
	slug := Slugify(ep.Slug)
	if slug == "" || strings.TrimSpace(ep.Title) == "" || (ep.Type != TypePost && ep.Type != TypePage) {
		return 0, false, nil
	}
	if existing, err := t.store.GetPostBySlug(ctx, slug); err == nil {
		return existing.ID, false, nil
	} else if !isNotFound(err) {
		return 0, false, err
	}
	format := ep.Format
	if !markdown.ValidFormat(format) {
		format = markdown.FormatHTML
	}
	content := ep.Content
	if format == markdown.FormatHTML {
		content = markdown.Sanitize(content)
	}
	status := ep.Status
	switch status {
	case StatusDraft, StatusPublished, StatusScheduled:
	default:
		status = StatusDraft
	}
	p := Post{
		Type: ep.Type, Title: strings.TrimSpace(ep.Title), Slug: slug, Content: content,
		Excerpt: markdown.PlainText(ep.Excerpt), Format: format, Status: status,
		AuthorID: actor.ID, MenuOrder: ep.MenuOrder,
	}
	if templatePattern.MatchString(ep.Template) {
		p.Template = ep.Template
	}
	if ep.PublishedAt != nil {
		p.PublishedAt = *ep.PublishedAt
	}
	if p.Status != StatusDraft {
		if p.PublishedAt.IsZero() {
			p.PublishedAt = t.now()
		}
		p.Status = StatusPublished
		if p.PublishedAt.After(t.now()) {
			p.Status = StatusScheduled
		}
	}
	if author, err := t.store.GetUserByLogin(ctx, ep.Author); err == nil {
		p.AuthorID = author.ID
	}
	var terms []int64
	if p.Type == TypePost {
		for _, c := range ep.Categories {
			if id, ok := termIDs[TaxonomyCategory+"/"+c]; ok {
				terms = append(terms, id)
			}
		}
		if len(terms) == 0 {
			if def := int64(t.settings.Int(ctx, "default_category", 0)); def != 0 {
				terms = append(terms, def)
			}
		}
		tags, err := t.store.EnsureTags(ctx, ep.Tags)
		if err != nil {
			return 0, false, err
		}
		terms = append(terms, tags...)
	}
	if err := t.store.SavePost(ctx, &p, terms); err != nil {
		return 0, false, err
	}
	return p.ID, true, nil
}

func importItems(items []ExportMenuItem, posts, terms map[string]int64, depth int) []*MenuItem {
	if depth > MaxMenuDepth {
		return nil
	}
	var out []*MenuItem
	for _, ei := range items {
		it := &MenuItem{Title: ei.Title, Kind: ei.Kind, URL: ei.URL}
		if ei.Target == "_blank" {
			it.Target = ei.Target
		}
		switch ei.Kind {
		case MenuItemCustom:
			if !safeMenuURL(ei.URL) || strings.TrimSpace(ei.Title) == "" {
				continue
			}
		case MenuItemPost, MenuItemPage:
			id, ok := posts[ei.Object]
			if !ok {
				continue
			}
			it.ObjectID, it.URL = id, ""
		case MenuItemCategory:
			id, ok := terms[TaxonomyCategory+"/"+ei.Object]
			if !ok {
				continue
			}
			it.ObjectID, it.URL = id, ""
		default:
			continue
		}
		it.Children = importItems(ei.Children, posts, terms, depth+1)
		out = append(out, it)
	}
	return out
}

// EmptyTrash permanently deletes every trashed entry.
func (t *Tools) EmptyTrash(ctx context.Context) (int, error) {
	return t.posts.EmptyTrash(ctx, time.Time{})
}

// ApplyUpdate installs a core update package: a ZIP holding update.json and
// a public/ tree. The version must be newer than the installed one. Files
// that get replaced are backed up first.
func (t *Tools) ApplyUpdate(ctx context.Context, zipPath string) (CoreUpdate, error) {
	unlock := t.locks.Lock("core")
	defer unlock()

	st, err := bundle.Extract(zipPath, t.cfg.StagingDir, t.cfg.MaxArchive)
	if err != nil {
		return CoreUpdate{}, err
	}
	defer func() {
		if err := st.Cleanup(); err != nil {
			t.log.Warn("staging cleanup failed", zap.String("dir", st.Dir), zap.Error(err))
		}
	}()
	root, err := st.FindManifest("update.json")
	if err != nil {
		return CoreUpdate{}, err
	}
	data, err := os.ReadFile(filepath.Join(root, "update.json"))
	if err != nil {
		return CoreUpdate{}, err
	}
	var up CoreUpdate
	if err := json.Unmarshal(data, &up); err != nil || up.Version == "" {
		return CoreUpdate{}, Invalid("update.json must name a version")
	}
	current, err := t.settings.Get(ctx, "core_version")
	if err != nil {
		return CoreUpdate{}, err
	}
	if CompareVersions(up.Version, current) <= 0 {
		return CoreUpdate{}, Conflict("Version %s is not newer than the installed %s", up.Version, current)
	}
	src := filepath.Join(root, "public")
	if info, err := os.Stat(src); err != nil || !info.IsDir() {
		return CoreUpdate{}, Invalid("The update package has no public directory")
	}

	backup := filepath.Join(t.cfg.BackupDir, "core", current+"-"+t.now().UTC().Format("20060102-150405"))
	err = filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(t.cfg.PublicDir, rel)
		if _, err := os.Stat(target); err == nil {
			if err := copyInto(target, filepath.Join(backup, rel)); err != nil {
				return fmt.Errorf("backup %s: %w", rel, err)
			}
		}
		return copyInto(p, target)
	})
	if err != nil {
		return CoreUpdate{}, fmt.Errorf("apply update: %w", err)
	}
	if err := t.store.SetSetting(ctx, "core_version", up.Version, false); err != nil {
		return CoreUpdate{}, err
	}
	t.settings.Flush(ctx)
	t.log.Info("core updated", zap.String("from", current), zap.String("to", up.Version))
	return up, nil
}

func copyInto(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// CompareVersions compares dotted numeric versions such as 1.10.2. Missing
// parts count as zero; a non-numeric part compares as a string.
func CompareVersions(a, b string) int {
	pa := strings.Split(strings.TrimPrefix(a, "v"), ".")
	pb := strings.Split(strings.TrimPrefix(b, "v"), ".")
	for i := 0; i < len(pa) || i < len(pb); i++ {
		var x, y string
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		nx, errX := strconv.Atoi(orZero(x))
		ny, errY := strconv.Atoi(orZero(y))
		if errors.Join(errX, errY) != nil {
			if c := strings.Compare(x, y); c != 0 {
				return c
			}
			continue
		}
		if nx != ny {
			if nx < ny {
				return -1
			}
			return 1
		}
	}
	return 0
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
