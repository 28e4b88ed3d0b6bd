package conversation

import (
	"errors"
	"fmt"

	"github.com/Abhijagtp/ThinkThank/internal/backend"
)

var (
	ErrBusy         = errors.New("conversation: another operation is in flight")
	ErrEmptyMessage = errors.New("conversation: message is empty")
	ErrNoDocument   = errors.New("conversation: no document selected")
)

type HistoryFetchError struct {
	DocumentID backend.ID
	Err        error
}

func (e *HistoryFetchError) Error() string {
	return fmt.Sprintf("load chat history for document %s: %v", e.DocumentID, e.Err)
}

func (e *HistoryFetchError) Unwrap() error { return e.Err }

// SendError is returned after a failed analysis; the thread already holds
// the error notice by then.
type SendError struct {
	Err error
}

func (e *SendError) Error() string { return fmt.Sprintf("analyze: %v", e.Err) }

func (e *SendError) Unwrap() error { return e.Err }

type NoteSaveError struct {
	Err error
}

func (e *NoteSaveError) Error() string { return fmt.Sprintf("save note: %v", e.Err) }

func (e *NoteSaveError) Unwrap() error { return e.Err }
