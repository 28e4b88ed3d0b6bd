// Package feed manages the social feed: posts, like and save toggles, and
// lazily loaded comment threads.
package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Abhijagtp/ThinkThank/internal/backend"
	"github.com/Abhijagtp/ThinkThank/internal/notify"
)

var ErrPostNotFound = errors.New("feed: post not found")

const (
	genericCommentError = "Failed to add comment"
	commentLoadError    = "Failed to load comments. Please try again."
)

type FeedLoadError struct {
	Err error
}

func (e *FeedLoadError) Error() string { return fmt.Sprintf("load feed: %v", e.Err) }

func (e *FeedLoadError) Unwrap() error { return e.Err }

// CommentError carries the message shown for a rejected comment.
type CommentError struct {
	Message string
	Err     error
}

func (e *CommentError) Error() string { return fmt.Sprintf("add comment: %s", e.Message) }

func (e *CommentError) Unwrap() error { return e.Err }

type Backend interface {
	Posts(ctx context.Context) ([]backend.Post, error)
	CreatePost(ctx context.Context, in backend.NewPost) (backend.Post, error)
	Interact(ctx context.Context, postID backend.ID, action backend.Action) (backend.InteractResponse, error)
	Comments(ctx context.Context, postID backend.ID) ([]backend.Comment, error)
	AddComment(ctx context.Context, postID backend.ID, content string) (backend.Comment, error)
}

type Snapshot struct {
	Posts  []Post `json:"posts"`
	Loaded bool   `json:"loaded"`
	Error  string `json:"error,omitempty"`
}

// Engine holds no lock across requests: operations on different posts run
// independently, and two toggles on the same post both apply in the order
// their responses arrive.
type Engine struct {
	backend  Backend
	notifier notify.Notifier

	mu     sync.Mutex
	posts  []Post
	loaded bool
	err    string
}

func New(b Backend, notifier notify.Notifier) *Engine {
	if notifier == nil {
		notifier = notify.Discard
	}
	return &Engine{backend: b, notifier: notifier, posts: []Post{}}
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{Posts: e.posts, Loaded: e.loaded, Error: e.err}
}

func (e *Engine) Post(id backend.ID) (Post, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i := indexOf(e.posts, id); i >= 0 {
		return e.posts[i], true
	}
	return Post{}, false
}

// LoadFeed replaces the feed. A failed or malformed response leaves an
// empty feed in an error state.
func (e *Engine) LoadFeed(ctx context.Context) error {
	wire, err := e.backend.Posts(ctx)
	if err != nil {
		message := "Failed to load posts. Please try again."
		var shapeErr *backend.ReconciliationError
		if errors.As(err, &shapeErr) {
			message = "Invalid data format from server"
		}
		e.mu.Lock()
		e.posts = []Post{}
		e.loaded = true
		e.err = message
		e.mu.Unlock()
		return &FeedLoadError{Err: err}
	}
	posts := make([]Post, 0, len(wire))
	for _, p := range wire {
		posts = append(posts, fromWire(p))
	}
	e.mu.Lock()
	e.posts = posts
	e.loaded = true
	e.err = ""
	e.mu.Unlock()
	return nil
}

// ToggleLike asks the backend to flip the like and stores the count it
// reports. Nothing changes locally before the backend answers.
func (e *Engine) ToggleLike(ctx context.Context, id backend.ID) (Post, error) {
	post, ok := e.Post(id)
	if !ok {
		return Post{}, ErrPostNotFound
	}
	action := backend.ActionLike
	if post.IsLiked {
		action = backend.ActionUnlike
	}
	resp, err := e.backend.Interact(ctx, id, action)
	if err == nil && (resp.Likes == nil || resp.IsLiked == nil) {
		err = &backend.ReconciliationError{Op: "interact", Detail: "missing likes or is_liked"}
	}
	if err != nil {
		e.notifier.Notify(notify.LevelError, "Failed to update like status")
		return Post{}, fmt.Errorf("%s post %s: %w", action, id, err)
	}
	return e.update(id, func(p *Post) {
		p.LikeCount = *resp.Likes
		p.IsLiked = *resp.IsLiked
	})
}

func (e *Engine) ToggleSave(ctx context.Context, id backend.ID) (Post, error) {
	post, ok := e.Post(id)
	if !ok {
		return Post{}, ErrPostNotFound
	}
	action := backend.ActionSave
	if post.IsSaved {
		action = backend.ActionUnsave
	}
	resp, err := e.backend.Interact(ctx, id, action)
	if err == nil && resp.IsSaved == nil {
		err = &backend.ReconciliationError{Op: "interact", Detail: "missing is_saved"}
	}
	if err != nil {
		e.notifier.Notify(notify.LevelError, "Failed to update save status")
		return Post{}, fmt.Errorf("%s post %s: %w", action, id, err)
	}
	return e.update(id, func(p *Post) {
		p.IsSaved = *resp.IsSaved
	})
}

// ToggleComments expands a collapsed thread and collapses an expanded one.
func (e *Engine) ToggleComments(ctx context.Context, id backend.ID) (Post, error) {
	post, ok := e.Post(id)
	if !ok {
		return Post{}, ErrPostNotFound
	}
	if post.Expanded {
		return e.CollapseComments(id)
	}
	return e.ExpandComments(ctx, id)
}

func (e *Engine) CollapseComments(id backend.ID) (Post, error) {
	return e.update(id, func(p *Post) { p.Expanded = false })
}

// ExpandComments opens the thread. The first expansion fetches the comments
// and takes their count as authoritative; a failed fetch is retried on the
// next expansion.
func (e *Engine) ExpandComments(ctx context.Context, id backend.ID) (Post, error) {
	post, err := e.update(id, func(p *Post) { p.Expanded = true })
	if err != nil || post.CommentsLoaded {
		return post, err
	}

	comments, err := e.backend.Comments(ctx, id)
	if err != nil {
		e.notifier.Notify(notify.LevelError, "Failed to load comments")
		if _, updateErr := e.update(id, func(p *Post) { p.CommentError = commentLoadError }); updateErr != nil {
			return Post{}, updateErr
		}
		return Post{}, fmt.Errorf("load comments for post %s: %w", id, err)
	}
	return e.update(id, func(p *Post) {
		p.Comments = comments
		p.CommentCount = len(comments)
		p.CommentsLoaded = true
		p.CommentError = ""
	})
}

// SubmitComment appends the backend's copy of the comment and bumps the
// count by one. Blank content is rejected without a request.
func (e *Engine) SubmitComment(ctx context.Context, id backend.ID, content string) (backend.Comment, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return backend.Comment{}, &backend.ValidationError{Field: "content", Message: "Please enter a valid comment"}
	}
	if _, ok := e.Post(id); !ok {
		return backend.Comment{}, ErrPostNotFound
	}
	comment, err := e.backend.AddComment(ctx, id, trimmed)
	if err != nil {
		message := genericCommentError
		var httpErr *backend.HTTPError
		if errors.As(err, &httpErr) {
			if field := httpErr.FieldError("content", "non_field_errors"); field != "" {
				message = field
			}
		}
		e.notifier.Notify(notify.LevelError, message)
		return backend.Comment{}, &CommentError{Message: message, Err: err}
	}
	if _, err := e.update(id, func(p *Post) {
		p.Comments = withComment(p.Comments, comment)
		p.CommentCount++
	}); err != nil {
		return backend.Comment{}, err
	}
	e.notifier.Notify(notify.LevelSuccess, "Comment added!")
	return comment, nil
}

// Draft is the user's input for a new post.
type Draft struct {
	Content string   `json:"content"`
	Tags    []string `json:"tags,omitempty"`
	Bullets []string `json:"bullets,omitempty"`
}

// CreatePost publishes a post and puts the backend's copy first in the feed.
func (e *Engine) CreatePost(ctx context.Context, postType PostType, draft Draft) (Post, error) {
	in, err := newPost(postType, draft)
	if err != nil {
		return Post{}, err
	}
	wire, err := e.backend.CreatePost(ctx, in)
	if err != nil {
		e.notifier.Notify(notify.LevelError, "Failed to create post")
		return Post{}, fmt.Errorf("create post: %w", err)
	}
	post := fromWire(wire)
	post.Comments = []backend.Comment{}
	post.CommentsLoaded = false

	e.mu.Lock()
	posts := make([]Post, 0, len(e.posts)+1)
	posts = append(posts, post)
	e.posts = append(posts, e.posts...)
	e.mu.Unlock()

	e.notifier.Notify(notify.LevelSuccess, "Post created successfully")
	return post, nil
}

func newPost(postType PostType, draft Draft) (backend.NewPost, error) {
	content := strings.TrimSpace(draft.Content)
	if content == "" {
		return backend.NewPost{}, &backend.ValidationError{Field: "content", Message: "Content cannot be empty"}
	}
	in := backend.NewPost{PostType: string(postType)}
	switch postType {
	case PostInsight:
		in.Summary = content
		in.Tags = trimAll(draft.Tags)
	case PostQuestion:
		in.Question = content
	case PostAIHighlight:
		in.Title = content
		in.Bullets = trimAll(draft.Bullets)
	default:
		return backend.NewPost{}, &backend.ValidationError{Field: "post_type", Message: "Unsupported post type"}
	}
	return in, nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (e *Engine) update(id backend.ID, mutate func(p *Post)) (Post, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := indexOf(e.posts, id)
	if i < 0 {
		return Post{}, ErrPostNotFound
	}
	post := e.posts[i]
	mutate(&post)
	e.posts = replaced(e.posts, i, post)
	return post, nil
}
