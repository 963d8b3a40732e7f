package pressli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Hello World", "hello-world"},
		{"  Crème Brûlée!  ", "creme-brulee"},
		{"Straße & Co", "strasse-co"},
		{"already-a-slug", "already-a-slug"},
		{"---", ""},
		{"Go 1.24 released", "go-1-24-released"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Slugify(tt.in))
		})
	}
}

func TestSlugsAreUniqueAcrossPostsAndPages(t *testing.T) {
	ts := newTestSite(t)
	first := ts.post(t, TypePost, PostInput{Title: "Hello World"})
	second := ts.post(t, TypePost, PostInput{Title: "Hello World"})
	page := ts.post(t, TypePage, PostInput{Title: "Other", Slug: "hello-world"})

	assert.Equal(t, "hello-world", first.Slug)
	assert.Equal(t, "hello-world-2", second.Slug)
	assert.Equal(t, "hello-world-3", page.Slug)

	updated, err := ts.posts.Update(ts.ctx, ts.admin, TypePost, first.ID, PostInput{Title: "Hello World", Status: StatusPublished})
	require.NoError(t, err)
	assert.Equal(t, "hello-world", updated.Slug, "an entry keeps its own slug")
}

func TestReservedSlugsAreSuffixed(t *testing.T) {
	ts := newTestSite(t)
	p := ts.post(t, TypePage, PostInput{Title: "Admin"})
	assert.Equal(t, "admin-2", p.Slug)
	p = ts.post(t, TypePost, PostInput{Title: "Category"})
	assert.Equal(t, "category-2", p.Slug)
}

func TestPostValidation(t *testing.T) {
	ts := newTestSite(t)
	_, err := ts.posts.Create(ts.ctx, ts.admin, TypePost, PostInput{Title: "  "})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = ts.posts.Create(ts.ctx, ts.admin, TypePost, PostInput{Title: "x", Format: "rst"})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = ts.posts.Create(ts.ctx, ts.admin, TypePost, PostInput{Title: "x", Status: "archived"})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = ts.posts.Create(ts.ctx, ts.admin, TypePage, PostInput{Title: "x", Template: "../evil"})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestPostContentIsSanitized(t *testing.T) {
	ts := newTestSite(t)
	p := ts.post(t, TypePost, PostInput{Title: "XSS", Content: `<p onclick="x()">hi</p><script>alert(1)</script>`})
	assert.NotContains(t, p.Content, "script")
	assert.NotContains(t, p.Content, "onclick")
	assert.Contains(t, p.Content, "hi")
}

func TestPostWithoutCategoryGetsDefault(t *testing.T) {
	ts := newTestSite(t)
	p := ts.post(t, TypePost, PostInput{Title: "Loose", Tags: []string{"go", "Go", "web"}})
	def := int64(ts.settings.Int(ts.ctx, "default_category", 0))
	assert.True(t, p.HasCategory(def))
	assert.Len(t, p.Tags, 2)
}

func TestScheduledPostBecomesPublic(t *testing.T) {
	ts := newTestSite(t)
	p := ts.post(t, TypePost, PostInput{Title: "Later", PublishedAt: ts.now.Add(time.Hour)})
	assert.Equal(t, StatusScheduled, p.Status)

	_, err := ts.posts.Published(ts.ctx, p.Slug)
	assert.ErrorIs(t, err, ErrNotFound)

	ts.now = ts.now.Add(2 * time.Hour)
	got, err := ts.posts.Published(ts.ctx, p.Slug)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	list, total, err := ts.posts.List(ts.ctx, PostQuery{Type: TypePost, Public: true, Now: ts.now})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, p.ID, list[0].ID)
}

func TestDraftIsNotPublic(t *testing.T) {
	ts := newTestSite(t)
	p := ts.post(t, TypePost, PostInput{Title: "Wip", Status: StatusDraft})
	_, err := ts.posts.Published(ts.ctx, p.Slug)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTrashRestoreAndDelete(t *testing.T) {
	ts := newTestSite(t)
	parent := ts.post(t, TypePage, PostInput{Title: "About"})
	child := ts.post(t, TypePage, PostInput{Title: "Team", ParentID: parent.ID})
	require.Equal(t, parent.ID, child.ParentID)

	err := ts.posts.Delete(ts.ctx, ts.admin, TypePage, parent.ID)
	assert.ErrorIs(t, err, ErrConflict, "only trashed entries can be deleted")

	require.NoError(t, ts.posts.Trash(ts.ctx, ts.admin, TypePage, parent.ID))
	got, err := ts.posts.Get(ts.ctx, TypePage, child.ID)
	require.NoError(t, err)
	assert.Zero(t, got.ParentID, "children move up when their parent is trashed")

	_, err = ts.posts.Update(ts.ctx, ts.admin, TypePage, parent.ID, PostInput{Title: "About"})
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, ts.posts.Restore(ts.ctx, ts.admin, TypePage, parent.ID))
	got, err = ts.posts.Get(ts.ctx, TypePage, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPublished, got.Status)

	require.NoError(t, ts.posts.Trash(ts.ctx, ts.admin, TypePage, parent.ID))
	require.NoError(t, ts.posts.Delete(ts.ctx, ts.admin, TypePage, parent.ID))
	_, err = ts.posts.Get(ts.ctx, TypePage, parent.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPageCannotNestUnderItsChild(t *testing.T) {
	ts := newTestSite(t)
	a := ts.post(t, TypePage, PostInput{Title: "A"})
	b := ts.post(t, TypePage, PostInput{Title: "B", ParentID: a.ID})
	_, err := ts.posts.Update(ts.ctx, ts.admin, TypePage, a.ID, PostInput{Title: "A", Status: StatusPublished, ParentID: b.ID})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestTypeMismatchIsNotFound(t *testing.T) {
	ts := newTestSite(t)
	p := ts.post(t, TypePost, PostInput{Title: "A post"})
	_, err := ts.posts.Get(ts.ctx, TypePage, p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuthorPermissions(t *testing.T) {
	ts := newTestSite(t)
	author := ts.user(t, "writer", RoleAuthor)

	_, err := ts.posts.Create(ts.ctx, author, TypePage, PostInput{Title: "Nope"})
	assert.ErrorIs(t, err, ErrForbidden)

	own, err := ts.posts.Create(ts.ctx, author, TypePost, PostInput{Title: "Mine", Status: StatusPublished})
	require.NoError(t, err)
	assert.Equal(t, author.ID, own.AuthorID)

	theirs := ts.post(t, TypePost, PostInput{Title: "Admin post"})
	err = ts.posts.Trash(ts.ctx, author, TypePost, theirs.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	subscriber := ts.user(t, "reader", RoleSubscriber)
	_, err = ts.posts.Create(ts.ctx, subscriber, TypePost, PostInput{Title: "Nope"})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestBulkSkipsFailures(t *testing.T) {
	ts := newTestSite(t)
	a := ts.post(t, TypePost, PostInput{Title: "A"})
	b := ts.post(t, TypePost, PostInput{Title: "B"})

	n, err := ts.posts.Bulk(ts.ctx, ts.admin, TypePost, "trash", []int64{a.ID, b.ID, 9999})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	counts, err := ts.posts.Counts(ts.ctx, TypePost)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[StatusTrash])
	assert.Equal(t, 0, counts["all"])

	_, err = ts.posts.Bulk(ts.ctx, ts.admin, TypePost, "publish", []int64{a.ID})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestCountsAllExcludesTrash(t *testing.T) {
	ts := newTestSite(t)
	ts.post(t, TypePost, PostInput{Title: "One"})
	ts.post(t, TypePost, PostInput{Title: "Two"})
	ts.post(t, TypePost, PostInput{Title: "Three", Status: StatusDraft})
	gone := ts.post(t, TypePost, PostInput{Title: "Four"})
	require.NoError(t, ts.posts.Trash(ts.ctx, ts.admin, TypePost, gone.ID))

	// Map iteration order varies, so check many calls.
	for i := 0; i < 50; i++ {
		counts, err := ts.posts.Counts(ts.ctx, TypePost)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{StatusPublished: 2, StatusDraft: 1, StatusTrash: 1, "all": 3}, counts)
	}
}

func TestEmptyTrashHonorsCutoff(t *testing.T) {
	ts := newTestSite(t)
	old := ts.post(t, TypePost, PostInput{Title: "Old"})
	require.NoError(t, ts.posts.Trash(ts.ctx, ts.admin, TypePost, old.ID))

	ts.now = ts.now.AddDate(0, 0, 20)
	recent := ts.post(t, TypePost, PostInput{Title: "Recent"})
	require.NoError(t, ts.posts.Trash(ts.ctx, ts.admin, TypePost, recent.ID))

	ts.now = ts.now.AddDate(0, 0, 15)
	n, err := ts.posts.EmptyTrash(ts.ctx, ts.now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = ts.posts.Get(ts.ctx, TypePost, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = ts.posts.Get(ts.ctx, TypePost, recent.ID)
	assert.NoError(t, err)
}
