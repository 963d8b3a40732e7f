package pressli

import (
	"path"
	"strings"
	"time"
)

// Content types stored in the posts table.
const (
	TypePost = "post"
	TypePage = "page"
)

// Post statuses.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusScheduled = "scheduled"
	StatusTrash     = "trash"
)

// Taxonomies.
const (
	TaxonomyCategory = "category"
	TaxonomyTag      = "tag"
)

// Post is a post or a page.
type Post struct {
	ID             int64
	Type           string
	Title          string
	Slug           string
	Content        string
	Excerpt        string
	Format         string
	Status         string
	PreviousStatus string
	ParentID       int64
	AuthorID       int64
	AuthorName     string
	Template       string
	MenuOrder      int
	PublishedAt    time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Categories     []Term
	Tags           []Term
}

// Permalink is the public URL of the post or page.
func (p Post) Permalink() string {
	return "/" + p.Slug + "/"
}

// IsPublic reports whether the entry is visible on the public site at now.
// A scheduled entry becomes public once its publish time has passed.
func (p Post) IsPublic(now time.Time) bool {
	switch p.Status {
	case StatusPublished:
		return true
	case StatusScheduled:
		return !p.PublishedAt.After(now)
	}
	return false
}

// TagNames returns the tag names joined for the edit form.
func (p Post) TagNames() string {
	names := make([]string, len(p.Tags))
	for i, t := range p.Tags {
		names[i] = t.Name
	}
	return strings.Join(names, ", ")
}

// HasCategory reports whether the post is filed under category id.
func (p Post) HasCategory(id int64) bool {
	for _, c := range p.Categories {
		if c.ID == id {
			return true
		}
	}
	return false
}

// Term is a category or a tag.
type Term struct {
	ID          int64
	Taxonomy    string
	Name        string
	Slug        string
	Description string
	ParentID    int64
	Count       int
	Depth       int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permalink is the public archive URL of the term.
func (t Term) Permalink() string {
	return "/" + t.Taxonomy + "/" + t.Slug + "/"
}

// Media is an uploaded file.
type Media struct {
	ID           int64
	Filename     string
	Path         string // relative to the uploads dir, e.g. 2026/10/photo.jpg
	ThumbPath    string
	Title        string
	OriginalName string
	MimeType     string
	Size         int64
	Width        int
	Height       int
	AltText      string
	Caption      string
	UploadedBy   int64
	CreatedAt    time.Time
}

// URL is the public URL of the file.
func (m Media) URL() string {
	return "/public/uploads/" + m.Path
}

// ThumbURL is the public URL of the thumbnail, or the file itself.
func (m Media) ThumbURL() string {
	if m.ThumbPath == "" {
		return m.URL()
	}
	return "/public/uploads/" + m.ThumbPath
}

// IsImage reports whether the file is an image.
func (m Media) IsImage() bool {
	return strings.HasPrefix(m.MimeType, "image/")
}

// Ext returns the lowercase extension without the dot.
func (m Media) Ext() string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(m.Filename)), ".")
}

// Menu item kinds.
const (
	MenuItemCustom   = "custom"
	MenuItemPost     = "post"
	MenuItemPage     = "page"
	MenuItemCategory = "category"
)

// Menu is a named navigation menu.
type Menu struct {
	ID        int64
	Name      string
	Slug      string
	Location  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MenuItem is one entry of a menu. Children is filled by BuildMenuTree.
type MenuItem struct {
	ID        int64       `json:"id"`
	MenuID    int64       `json:"-"`
	ParentID  int64       `json:"parent_id"`
	Title     string      `json:"title"`
	URL       string      `json:"url"`
	Kind      string      `json:"kind"`
	ObjectID  int64       `json:"object_id"`
	Target    string      `json:"target"`
	SortOrder int         `json:"sort_order"`
	Children  []*MenuItem `json:"children"`
}

// Capabilities checked by the admin panel.
const (
	CapManageOptions = "manage_options"
	CapEditOthers    = "edit_others"
	CapPublish       = "publish"
	CapEditPosts     = "edit_posts"
	CapUploadFiles   = "upload_files"
	CapReadAdmin     = "read_admin"
)

// Role names.
const (
	RoleAdministrator = "administrator"
	RoleEditor        = "editor"
	RoleAuthor        = "author"
	RoleSubscriber    = "subscriber"
)

// Role groups capabilities.
type Role struct {
	ID           int64
	Name         string
	Label        string
	Capabilities []string
}

// Can reports whether the role grants capability.
func (r Role) Can(capability string) bool {
	for _, c := range r.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// User is an account that can sign in to the admin panel.
type User struct {
	ID           int64
	Username     string
	Email        string
	DisplayName  string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Can reports whether the user's role grants capability.
func (u *User) Can(capability string) bool {
	return u != nil && u.Role.Can(capability)
}

// Name returns the display name, falling back to the username.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Setting is one row of the key/value settings table.
type Setting struct {
	Key      string
	Value    string
	Autoload bool
}
