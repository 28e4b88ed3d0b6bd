package feed

import (
	"time"

	"github.com/Abhijagtp/ThinkThank/internal/backend"
)

type PostType string

const (
	PostInsight     PostType = "insight"
	PostQuestion    PostType = "question"
	PostAIHighlight PostType = "ai"
)

// Body holds the type-specific part of a post: insight uses Summary and
// Tags, question uses Question, AI highlight uses Title and Bullets.
type Body struct {
	Summary  string   `json:"summary,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Question string   `json:"question,omitempty"`
	Title    string   `json:"title,omitempty"`
	Bullets  []string `json:"bullets,omitempty"`
}

type Post struct {
	ID             backend.ID        `json:"id"`
	Author         backend.User      `json:"author"`
	PostType       PostType          `json:"postType"`
	Body           Body              `json:"body"`
	LikeCount      int               `json:"likeCount"`
	IsLiked        bool              `json:"isLiked"`
	IsSaved        bool              `json:"isSaved"`
	CommentCount   int               `json:"commentCount"`
	Comments       []backend.Comment `json:"comments"`
	CommentsLoaded bool              `json:"commentsLoaded"`
	Expanded       bool              `json:"expanded"`
	CommentError   string            `json:"commentError,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

func fromWire(p backend.Post) Post {
	comments := p.Comments
	if comments == nil {
		comments = []backend.Comment{}
	}
	return Post{
		ID:       p.ID,
		Author:   p.User,
		PostType: PostType(p.PostType),
		Body: Body{
			Summary:  p.Summary,
			Tags:     p.Tags,
			Question: p.Question,
			Title:    p.Title,
			Bullets:  p.Bullets,
		},
		LikeCount:    p.Likes,
		IsLiked:      p.IsLiked,
		IsSaved:      p.IsSaved,
		CommentCount: p.CommentsCount,
		Comments:     comments,
		CreatedAt:    p.CreatedAt.Time,
	}
}

func indexOf(posts []Post, id backend.ID) int {
	for i := range posts {
		if posts[i].ID == id {
			return i
		}
	}
	return -1
}

// replaced returns a copy of posts with posts[i] set to p.
func replaced(posts []Post, i int, p Post) []Post {
	out := make([]Post, len(posts))
	copy(out, posts)
	out[i] = p
	return out
}

func withComment(comments []backend.Comment, c backend.Comment) []backend.Comment {
	out := make([]backend.Comment, len(comments), len(comments)+1)
	copy(out, comments)
	return append(out, c)
}
