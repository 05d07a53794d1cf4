package blog

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

const (
	DefaultIcon = "fas fa-utensils"

	MinScore = 0.0
	MaxScore = 10.0
)

var (
	ErrInvalidPost    = errors.New("invalid blog post")
	ErrAuthorNotFound = errors.New("post author not found")
)

// Post is a single review. Scores are in [MinScore, MaxScore], images are
// URLs kept in display order.
type Post struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Content         string    `json:"content"`
	Icon            string    `json:"icon"`
	TasteScore      float64   `json:"tasteScore"`
	AppearanceScore float64   `json:"appearanceScore"`
	SmellScore      float64   `json:"smellScore"`
	Images          []string  `json:"images"`
	CreatedAt       time.Time `json:"createdAt"`
	AuthorID        string    `json:"authorId"`
}

func (p *Post) OverallScore() float64 {
	return OverallScore(p.TasteScore, p.AppearanceScore, p.SmellScore)
}

// Copy returns a deep copy, stores never hand out their own instances.
func (p *Post) Copy() *Post {
	if p == nil {
		return nil
	}
	c := *p
	c.Images = slices.Clone(p.Images)
	if c.Images == nil {
		c.Images = []string{}
	}
	return &c
}

// OverallScore is the mean of the three scores rounded to one decimal.
func OverallScore(taste, appearance, smell float64) float64 {
	mean := (taste + appearance + smell) / 3
	return math.Round(mean*10) / 10
}

func validateScore(name string, score float64) error {
	if math.IsNaN(score) || score < MinScore || score > MaxScore {
		return fmt.Errorf("%w: %s %v not in [%v, %v]", ErrInvalidPost, name, score, MinScore, MaxScore)
	}
	return nil
}

func validateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("%w: title empty", ErrInvalidPost)
	}
	return nil
}

// NewPost holds the caller supplied fields of a post to be created.
type NewPost struct {
	Title           string
	Content         string
	Icon            string
	TasteScore      float64
	AppearanceScore float64
	SmellScore      float64
	Images          []string
}

func (np NewPost) Validate() error {
	return errors.Join(
		validateTitle(np.Title),
		validateScore("tasteScore", np.TasteScore),
		validateScore("appearanceScore", np.AppearanceScore),
		validateScore("smellScore", np.SmellScore),
	)
}

// ToPost builds the post with defaults applied, id and creation time are set by the store.
func (np NewPost) ToPost(id, authorID string, createdAt time.Time) *Post {
	icon := np.Icon
	if icon == "" {
		icon = DefaultIcon
	}
	images := slices.Clone(np.Images)
	if images == nil {
		images = []string{}
	}
	return &Post{
		ID:              id,
		Title:           np.Title,
		Content:         np.Content,
		Icon:            icon,
		TasteScore:      np.TasteScore,
		AppearanceScore: np.AppearanceScore,
		SmellScore:      np.SmellScore,
		Images:          images,
		CreatedAt:       createdAt,
		AuthorID:        authorID,
	}
}

// PostUpdate is a partial update, nil fields keep the stored value.
type PostUpdate struct {
	Title           *string
	Content         *string
	Icon            *string
	TasteScore      *float64
	AppearanceScore *float64
	SmellScore      *float64
	Images          *[]string
}

func (u PostUpdate) Validate() error {
	var errs []error
	if u.Title != nil {
		errs = append(errs, validateTitle(*u.Title))
	}
	if u.TasteScore != nil {
		errs = append(errs, validateScore("tasteScore", *u.TasteScore))
	}
	if u.AppearanceScore != nil {
		errs = append(errs, validateScore("appearanceScore", *u.AppearanceScore))
	}
	if u.SmellScore != nil {
		errs = append(errs, validateScore("smellScore", *u.SmellScore))
	}
	return errors.Join(errs...)
}

// ApplyTo overlays the set fields onto p. ID, CreatedAt and AuthorID never change.
func (u PostUpdate) ApplyTo(p *Post) {
	if u.Title != nil {
		p.Title = *u.Title
	}
	if u.Content != nil {
		p.Content = *u.Content
	}
	if u.Icon != nil {
		p.Icon = *u.Icon
		if p.Icon == "" {
			p.Icon = DefaultIcon
		}
	}
	if u.TasteScore != nil {
		p.TasteScore = *u.TasteScore
	}
	if u.AppearanceScore != nil {
		p.AppearanceScore = *u.AppearanceScore
	}
	if u.SmellScore != nil {
		p.SmellScore = *u.SmellScore
	}
	if u.Images != nil {
		p.Images = slices.Clone(*u.Images)
		if p.Images == nil {
			p.Images = []string{}
		}
	}
}
