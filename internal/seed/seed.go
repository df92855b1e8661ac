// Package seed populates the Durable Record Store with a synthetic social
// graph for development and load testing. It writes records only; run a
// reconcile afterwards to derive every counter and the Counter Store.
package seed

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"momentum/internal/models"
	"momentum/internal/ranking"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var industries = []string{
	"technology", "finance", "healthcare", "education", "marketing",
	"design", "energy", "retail", "media", "logistics",
}

var platforms = []string{"linkedin", "twitter", "email", "whatsapp", "slack"}

// Options configures one seeding run.
type Options struct {
	Users        int
	PostsPerUser int
	// FollowsPerUser is the average out-degree of the follow graph.
	FollowsPerUser int
	// Days spreads post timestamps over this many days back from now.
	Days int
	// PrivateRatio and LikeRatio are probabilities in [0, 1].
	PrivateRatio float64
	LikeRatio    float64
	Clean        bool
	// Seed makes the run deterministic when non-zero.
	Seed int64
}

// DefaultOptions is a small but fully connected data set.
func DefaultOptions() Options {
	return Options{
		Users:          50,
		PostsPerUser:   4,
		FollowsPerUser: 8,
		Days:           14,
		PrivateRatio:   0.15,
		LikeRatio:      0.2,
		Clean:          true,
	}
}

// Summary counts the records a run created.
type Summary struct {
	Users    int `json:"users"`
	Posts    int `json:"posts"`
	Follows  int `json:"follows"`
	Pending  int `json:"pending"`
	Likes    int `json:"likes"`
	Comments int `json:"comments"`
	Shares   int `json:"shares"`
}

// Seeder writes synthetic records through gorm.
type Seeder struct {
	db    *gorm.DB
	opts  Options
	faker *gofakeit.Faker
	now   time.Time
}

// NewSeeder creates a Seeder bound to db.
func NewSeeder(db *gorm.DB, opts Options) *Seeder {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if opts.Days <= 0 {
		opts.Days = 14
	}
	return &Seeder{db: db, opts: opts, faker: gofakeit.New(seed), now: time.Now()}
}

// Run clears (when requested) and seeds users, posts, the follow graph and
// engagement records.
func (s *Seeder) Run(ctx context.Context) (*Summary, error) {
	db := s.db.WithContext(ctx)
	if s.opts.Clean {
		if err := ClearAll(db); err != nil {
			return nil, fmt.Errorf("clear: %w", err)
		}
	}

	sum := &Summary{}
	users, err := s.createUsers(db)
	if err != nil {
		return nil, fmt.Errorf("users: %w", err)
	}
	sum.Users = len(users)
	log.Printf("✓ %d users created", len(users))

	accepted, err := s.createFollows(db, users, sum)
	if err != nil {
		return nil, fmt.Errorf("follows: %w", err)
	}
	log.Printf("✓ %d follows created (%d pending)", sum.Follows, sum.Pending)

	posts, err := s.createPosts(db, users)
	if err != nil {
		return nil, fmt.Errorf("posts: %w", err)
	}
	sum.Posts = len(posts)
	log.Printf("✓ %d posts created", len(posts))

	if err := s.createEngagement(db, users, posts, accepted, sum); err != nil {
		return nil, fmt.Errorf("engagement: %w", err)
	}
	log.Printf("✓ %d likes, %d comments, %d shares created", sum.Likes, sum.Comments, sum.Shares)
	return sum, nil
}

// ClearAll deletes every engagement, post and user record.
func ClearAll(db *gorm.DB) error {
	tx := db.Session(&gorm.Session{AllowGlobalUpdate: true})
	for _, model := range []interface{}{
		&models.CommentLike{}, &models.Like{}, &models.Share{}, &models.Comment{},
		&models.Post{}, &models.Follow{}, &models.User{},
	} {
		if err := tx.Unscoped().Delete(model).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *Seeder) createUsers(db *gorm.DB) ([]models.User, error) {
	users := make([]models.User, 0, s.opts.Users)
	for i := 0; i < s.opts.Users; i++ {
		first, last := s.faker.FirstName(), s.faker.LastName()
		users = append(users, models.User{
			Username:    strings.ToLower(fmt.Sprintf("%s.%s%d", first, last, i)),
			DisplayName: first + " " + last,
			Industry:    s.faker.RandomString(industries),
			IsPrivate:   s.faker.Float64Range(0, 1) < s.opts.PrivateRatio,
		})
	}
	if len(users) == 0 {
		return users, nil
	}
	if err := db.CreateInBatches(&users, 100).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// createFollows returns, per follower, the set of accounts it may see
// followers-only posts of.
func (s *Seeder) createFollows(db *gorm.DB, users []models.User, sum *Summary) (map[uint]map[uint]bool, error) {
	accepted := make(map[uint]map[uint]bool, len(users))
	if len(users) < 2 {
		return accepted, nil
	}
	var follows []models.Follow
	for _, follower := range users {
		accepted[follower.ID] = map[uint]bool{}
		seen := map[uint]bool{follower.ID: true}
		n := s.faker.Number(0, 2*s.opts.FollowsPerUser)
		for j := 0; j < n && len(seen) < len(users); j++ {
			followee := users[s.faker.Number(0, len(users)-1)]
			if seen[followee.ID] {
				continue
			}
			seen[followee.ID] = true

			f := models.Follow{FollowerID: follower.ID, FollowingID: followee.ID, Status: models.FollowStatusAccepted}
			if followee.IsPrivate && s.faker.Bool() {
				f.Status = models.FollowStatusPending
				sum.Pending++
			} else {
				at := s.pastTime()
				f.AcceptedAt = &at
				accepted[follower.ID][followee.ID] = true
			}
			follows = append(follows, f)
		}
	}
	sum.Follows = len(follows)
	if len(follows) == 0 {
		return accepted, nil
	}
	return accepted, db.CreateInBatches(&follows, 200).Error
}

func (s *Seeder) createPosts(db *gorm.DB, users []models.User) ([]models.Post, error) {
	var posts []models.Post
	for _, u := range users {
		for i := 0; i < s.opts.PostsPerUser; i++ {
			posts = append(posts, s.buildPost(u))
		}
	}
	if len(posts) == 0 {
		return posts, nil
	}
	if err := db.CreateInBatches(&posts, 200).Error; err != nil {
		return nil, err
	}
	return posts, nil
}

func (s *Seeder) buildPost(author models.User) models.Post {
	p := models.Post{
		UserID:      author.ID,
		Content:     s.faker.Paragraph(1, 3, 12, "\n"),
		ContentType: models.ContentTypeText,
		Industry:    author.Industry,
		Visibility:  models.VisibilityPublic,
		IsActive:    true,
		ViewsCount:  int64(s.faker.Number(0, 500)),
		CreatedAt:   s.pastTime(),
	}
	switch s.faker.Number(0, 9) {
	case 0, 1:
		p.ContentType = models.ContentTypeImage
		p.MediaURL = fmt.Sprintf("https://picsum.photos/seed/%s/800/800", s.faker.UUID())
	case 2:
		p.ContentType = models.ContentTypeLink
		p.MediaURL = s.faker.URL()
	case 3:
		p.ContentType = models.ContentTypeVideo
		p.MediaURL = fmt.Sprintf("https://videos.example.com/%s.mp4", s.faker.UUID())
	}
	switch s.faker.Number(0, 9) {
	case 0:
		p.Visibility = models.VisibilityPrivate
	case 1, 2:
		p.Visibility = models.VisibilityFollowers
	}
	return p
}

func (s *Seeder) createEngagement(db *gorm.DB, users []models.User, posts []models.Post, accepted map[uint]map[uint]bool, sum *Summary) error {
	var (
		likes    []models.Like
		comments []models.Comment
		shares   []models.Share
	)
	for i := range posts {
		p := &posts[i]
		for _, u := range users {
			if !ranking.CanView(u.ID, p, accepted[u.ID][p.UserID]) {
				continue
			}
			if s.faker.Float64Range(0, 1) < s.opts.LikeRatio {
				likes = append(likes, models.Like{UserID: u.ID, PostID: p.ID, CreatedAt: s.after(p.CreatedAt)})
			}
			if s.faker.Float64Range(0, 1) < s.opts.LikeRatio/4 {
				comments = append(comments, models.Comment{
					PostID: p.ID, UserID: u.ID, Content: s.faker.Sentence(12),
					IsActive: true, CreatedAt: s.after(p.CreatedAt),
				})
			}
			if s.faker.Float64Range(0, 1) < s.opts.LikeRatio/8 {
				shares = append(shares, s.buildShare(u.ID, p))
			}
		}
	}

	if len(likes) > 0 {
		if err := db.CreateInBatches(&likes, 500).Error; err != nil {
			return err
		}
	}
	if len(shares) > 0 {
		if err := db.CreateInBatches(&shares, 500).Error; err != nil {
			return err
		}
	}
	if len(comments) > 0 {
		if err := db.CreateInBatches(&comments, 500).Error; err != nil {
			return err
		}
	}

	// replies need their root's id, so they go in a second pass
	var replies []models.Comment
	for i := range comments {
		if !s.faker.Bool() {
			continue
		}
		root := comments[i]
		u := users[s.faker.Number(0, len(users)-1)]
		replies = append(replies, models.Comment{
			PostID: root.PostID, UserID: u.ID, ParentID: &root.ID,
			Content: s.faker.Sentence(8), IsActive: true, CreatedAt: s.after(root.CreatedAt),
		})
	}
	if len(replies) > 0 {
		if err := db.CreateInBatches(&replies, 500).Error; err != nil {
			return err
		}
	}

	sum.Likes, sum.Comments, sum.Shares = len(likes), len(comments)+len(replies), len(shares)
	return nil
}

func (s *Seeder) buildShare(userID uint, p *models.Post) models.Share {
	sh := models.Share{
		Ref: uuid.NewString(), UserID: userID, PostID: p.ID,
		ShareType: models.ShareTypeRepost, CreatedAt: s.after(p.CreatedAt),
	}
	switch s.faker.Number(0, 2) {
	case 1:
		sh.ShareType = models.ShareTypeQuote
		sh.Caption = s.faker.Sentence(10)
	case 2:
		sh.ShareType = models.ShareTypeExternal
		sh.Platform = s.faker.RandomString(platforms)
	}
	return sh
}

func (s *Seeder) pastTime() time.Time {
	start := s.now.Add(-time.Duration(s.opts.Days) * 24 * time.Hour)
	return s.faker.DateRange(start, s.now)
}

func (s *Seeder) after(t time.Time) time.Time {
	if !t.Before(s.now) {
		return s.now
	}
	return s.faker.DateRange(t, s.now)
}
