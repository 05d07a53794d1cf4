package storage

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"github.com/fettsack/geschmackstest/internal/blog"
	"github.com/fettsack/geschmackstest/internal/users"
	"github.com/fettsack/geschmackstest/pkg"
)

const (
	testSeedUsername = "fettiger fettsack"
	testSeedPassword = "fettbeharrt"
)

var (
	testSeedHashOnce sync.Once
	testSeedHash     string
)

func testSeed() SeedUser {
	testSeedHashOnce.Do(func() {
		hash, err := pkg.HashPasswordWithCost(testSeedPassword, bcrypt.MinCost)
		if err != nil {
			panic(err)
		}
		testSeedHash = hash
	})
	return SeedUser{Username: testSeedUsername, PasswordHash: testSeedHash}
}

func ptr[T any](v T) *T {
	return &v
}

func doenerTest() blog.NewPost {
	return blog.NewPost{
		Title:           "Döner Test",
		Content:         "Knuspriges Fleisch, frisches Brot.",
		TasteScore:      9,
		AppearanceScore: 7,
		SmellScore:      8,
	}
}

func fakePost() blog.NewPost {
	return blog.NewPost{
		Title:           gofakeit.Sentence(3),
		Content:         gofakeit.Paragraph(1, 3, 10, " "),
		Icon:            "fas fa-" + gofakeit.Word(),
		TasteScore:      math.Round(gofakeit.Float64Range(0, 10)*10) / 10,
		AppearanceScore: math.Round(gofakeit.Float64Range(0, 10)*10) / 10,
		SmellScore:      math.Round(gofakeit.Float64Range(0, 10)*10) / 10,
		Images:          []string{gofakeit.URL(), gofakeit.URL()},
	}
}

// storageSuite checks the Storage contract, every backend runs it with a
// fresh, seeded store per test.
type storageSuite struct {
	suite.Suite

	newStore func() Storage
	store    Storage
	ctx      context.Context
	author   *users.User
}

func (s *storageSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newStore()

	author, err := s.store.GetUserByUsername(s.ctx, testSeedUsername)
	s.Require().NoError(err)
	s.Require().NotNil(author, "seed user must exist")
	s.author = author
}

func (s *storageSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func (s *storageSuite) TestSeedUser() {
	s.Equal(testSeedUsername, s.author.Username)
	s.NotEmpty(s.author.ID)
	s.True(pkg.CheckPasswordHash(testSeedPassword, s.author.PasswordHash))

	byID, err := s.store.GetUser(s.ctx, s.author.ID)
	s.Require().NoError(err)
	s.Equal(s.author, byID)
}

func (s *storageSuite) TestGetUser_Absent() {
	u, err := s.store.GetUser(s.ctx, "00000000-0000-0000-0000-000000000000")
	s.NoError(err)
	s.Nil(u)

	u, err = s.store.GetUser(s.ctx, "not-an-id")
	s.NoError(err)
	s.Nil(u)

	u, err = s.store.GetUserByUsername(s.ctx, "Fettiger Fettsack")
	s.NoError(err)
	s.Nil(u, "usernames are case sensitive")
}

func (s *storageSuite) TestCreateUser() {
	created, err := s.store.CreateUser(s.ctx, users.NewUser{Username: "gast", PasswordHash: testSeed().PasswordHash})
	s.Require().NoError(err)
	s.NotEmpty(created.ID)
	s.NotEqual(s.author.ID, created.ID)

	got, err := s.store.GetUserByUsername(s.ctx, "gast")
	s.Require().NoError(err)
	s.Equal(created, got)

	_, err = s.store.CreateUser(s.ctx, users.NewUser{Username: "gast", PasswordHash: "other"})
	s.ErrorIs(err, users.ErrUsernameTaken)

	_, err = s.store.CreateUser(s.ctx, users.NewUser{Username: testSeedUsername, PasswordHash: "other"})
	s.ErrorIs(err, users.ErrUsernameTaken)

	// not overwritten
	seed, err := s.store.GetUserByUsername(s.ctx, testSeedUsername)
	s.Require().NoError(err)
	s.Equal(s.author, seed)

	_, err = s.store.CreateUser(s.ctx, users.NewUser{Username: "", PasswordHash: "x"})
	s.ErrorIs(err, users.ErrInvalidUser)
}

func (s *storageSuite) TestCreatePost_GetPost() {
	before := time.Now().Add(-time.Minute)

	created, err := s.store.CreatePost(s.ctx, doenerTest(), s.author.ID)
	s.Require().NoError(err)
	s.NotEmpty(created.ID)
	s.True(created.CreatedAt.After(before))
	s.Equal(blog.DefaultIcon, created.Icon)
	s.Equal([]string{}, created.Images)
	s.Equal(s.author.ID, created.AuthorID)
	s.Equal(8.0, created.OverallScore())

	got, err := s.store.GetPost(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Equal(created, got)

	// callers get copies
	got.Title = "changed"
	again, err := s.store.GetPost(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Equal("Döner Test", again.Title)
}

func (s *storageSuite) TestCreatePost_Fake() {
	for i := 0; i < 5; i++ {
		np := fakePost()
		created, err := s.store.CreatePost(s.ctx, np, s.author.ID)
		s.Require().NoError(err)
		s.Equal(np.Images, created.Images)
		s.Equal(np.Icon, created.Icon)

		got, err := s.store.GetPost(s.ctx, created.ID)
		s.Require().NoError(err)
		s.Equal(created, got)
	}
}

func (s *storageSuite) TestCreatePost_Invalid() {
	np := doenerTest()
	np.TasteScore = 11
	_, err := s.store.CreatePost(s.ctx, np, s.author.ID)
	s.ErrorIs(err, blog.ErrInvalidPost)

	np = doenerTest()
	np.SmellScore = -1
	_, err = s.store.CreatePost(s.ctx, np, s.author.ID)
	s.ErrorIs(err, blog.ErrInvalidPost)

	np = doenerTest()
	np.Title = ""
	_, err = s.store.CreatePost(s.ctx, np, s.author.ID)
	s.ErrorIs(err, blog.ErrInvalidPost)

	_, err = s.store.CreatePost(s.ctx, doenerTest(), "00000000-0000-0000-0000-000000000000")
	s.ErrorIs(err, blog.ErrAuthorNotFound)

	posts, err := s.store.ListPosts(s.ctx)
	s.Require().NoError(err)
	s.Empty(posts)
}

func (s *storageSuite) TestListPosts_NewestFirst() {
	posts, err := s.store.ListPosts(s.ctx)
	s.Require().NoError(err)
	s.NotNil(posts)
	s.Empty(posts)

	var ids []string
	for i := 0; i < 4; i++ {
		np := doenerTest()
		np.Title = fmt.Sprintf("Test %d", i)
		p, err := s.store.CreatePost(s.ctx, np, s.author.ID)
		s.Require().NoError(err)
		ids = append(ids, p.ID)
		time.Sleep(2 * time.Millisecond)
	}

	posts, err = s.store.ListPosts(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(posts, 4)
	for i, p := range posts {
		s.Equal(ids[len(ids)-1-i], p.ID)
	}
	for i := 1; i < len(posts); i++ {
		s.False(posts[i].CreatedAt.After(posts[i-1].CreatedAt))
	}
}

func (s *storageSuite) TestUpdatePost_Partial() {
	np := doenerTest()
	np.Images = []string{"https://img.example/1.jpg"}
	created, err := s.store.CreatePost(s.ctx, np, s.author.ID)
	s.Require().NoError(err)

	updated, err := s.store.UpdatePost(s.ctx, created.ID, blog.PostUpdate{Title: ptr("X")})
	s.Require().NoError(err)
	s.Require().NotNil(updated)

	expected := created.Copy()
	expected.Title = "X"
	s.Equal(expected, updated)

	got, err := s.store.GetPost(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Equal(expected, got)

	updated, err = s.store.UpdatePost(s.ctx, created.ID, blog.PostUpdate{
		TasteScore: ptr(10.0),
		Images:     &[]string{},
	})
	s.Require().NoError(err)
	s.Equal(10.0, updated.TasteScore)
	s.Equal([]string{}, updated.Images)
	s.Equal("X", updated.Title)
	s.Equal(created.CreatedAt, updated.CreatedAt)

	_, err = s.store.UpdatePost(s.ctx, created.ID, blog.PostUpdate{AppearanceScore: ptr(10.1)})
	s.ErrorIs(err, blog.ErrInvalidPost)
}

func (s *storageSuite) TestPost_NonCanonicalIDs() {
	created, err := s.store.CreatePost(s.ctx, doenerTest(), s.author.ID)
	s.Require().NoError(err)

	for _, id := range nonCanonicalIDs(created.ID) {
		got, err := s.store.GetPost(s.ctx, id)
		s.NoError(err, id)
		s.Nil(got, id)

		updated, err := s.store.UpdatePost(s.ctx, id, blog.PostUpdate{Title: ptr("X")})
		s.NoError(err, id)
		s.Nil(updated, id)

		deleted, err := s.store.DeletePost(s.ctx, id)
		s.NoError(err, id)
		s.False(deleted, id)
	}

	got, err := s.store.GetPost(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Equal(created.Title, got.Title)
}

func (s *storageSuite) TestUpdatePost_Absent() {
	updated, err := s.store.UpdatePost(s.ctx, "00000000-0000-0000-0000-000000000000", blog.PostUpdate{Title: ptr("X")})
	s.NoError(err)
	s.Nil(updated)

	updated, err = s.store.UpdatePost(s.ctx, "nope", blog.PostUpdate{})
	s.NoError(err)
	s.Nil(updated)
}

func (s *storageSuite) TestDeletePost_ExactlyOnce() {
	created, err := s.store.CreatePost(s.ctx, doenerTest(), s.author.ID)
	s.Require().NoError(err)

	deleted, err := s.store.DeletePost(s.ctx, created.ID)
	s.Require().NoError(err)
	s.True(deleted)

	for i := 0; i < 2; i++ {
		deleted, err = s.store.DeletePost(s.ctx, created.ID)
		s.Require().NoError(err)
		s.False(deleted)
	}

	got, err := s.store.GetPost(s.ctx, created.ID)
	s.NoError(err)
	s.Nil(got)

	deleted, err = s.store.DeletePost(s.ctx, "nope")
	s.NoError(err)
	s.False(deleted)
}

func (s *storageSuite) TestEnsureUser_Idempotent() {
	u, err := EnsureUser(s.ctx, s.store, testSeed())
	s.Require().NoError(err)
	s.Equal(s.author.ID, u.ID)

	other, err := EnsureUser(s.ctx, s.store, SeedUser{Username: "zweiter", PasswordHash: testSeed().PasswordHash})
	s.Require().NoError(err)
	s.NotEqual(s.author.ID, other.ID)
}
