package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

// ProfileUpdate is the profile edit form. Empty fields are not sent, so
// the backend keeps its current value.
type ProfileUpdate struct {
	Username    string      `json:"username,omitempty"`
	Email       string      `json:"email,omitempty"`
	CompanyName string      `json:"company_name,omitempty"`
	Avatar      *UploadFile `json:"-"`
}

func (c *Client) Me(ctx context.Context) (User, error) {
	var user User
	if err := c.do(ctx, call{op: "user", method: http.MethodGet, path: "/user/"}, &user); err != nil {
		return User{}, err
	}
	if user.ID == "" && user.Username == "" {
		return User{}, &ReconciliationError{Op: "user", Detail: "missing user"}
	}
	return user, nil
}

// UpdateMe sends the edit form as multipart, the only encoding the
// endpoint takes because of the avatar file. The returned user is empty
// when the backend answers without a body.
func (c *Client) UpdateMe(ctx context.Context, in ProfileUpdate) (User, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, field := range []struct{ name, value string }{
		{"username", in.Username},
		{"email", in.Email},
		{"company_name", in.CompanyName},
	} {
		if field.value == "" {
			continue
		}
		if err := writer.WriteField(field.name, field.value); err != nil {
			return User{}, fmt.Errorf("update user: write %s: %w", field.name, err)
		}
	}
	if in.Avatar != nil {
		if err := copyFormFile(writer, "avatar", *in.Avatar); err != nil {
			return User{}, fmt.Errorf("update user: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return User{}, fmt.Errorf("update user: close multipart: %w", err)
	}
	req := call{
		op:          "update_user",
		method:      http.MethodPut,
		path:        "/users/me/",
		body:        buf.Bytes(),
		contentType: writer.FormDataContentType(),
	}
	var user User
	if err := c.do(ctx, req, &user); err != nil {
		return User{}, err
	}
	return user, nil
}

// UserComments lists the comments the current user wrote, across posts.
func (c *Client) UserComments(ctx context.Context) ([]Comment, error) {
	var comments []Comment
	if err := c.do(ctx, call{op: "user_comments", method: http.MethodGet, path: "/comments/"}, &comments); err != nil {
		return nil, err
	}
	if comments == nil {
		comments = []Comment{}
	}
	return comments, nil
}

func copyFormFile(writer *multipart.Writer, field string, file UploadFile) error {
	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", file.Name, err)
	}
	defer src.Close()
	part, err := writer.CreateFormFile(field, file.Name)
	if err != nil {
		return fmt.Errorf("create part %s: %w", file.Name, err)
	}
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("copy %s: %w", file.Name, err)
	}
	return nil
}
