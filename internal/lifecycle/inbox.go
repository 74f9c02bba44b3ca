package lifecycle

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrNotificationNotFound is returned for ids that were never shown or are
// already closed.
var ErrNotificationNotFound = errors.New("notification not found")

// Inbox is a Notifier keeping shown notifications in memory until clicked.
// A notification reusing a tag replaces the previous one, as browsers do.
type Inbox struct {
	mu    sync.Mutex
	items []Notification
}

func NewInbox() *Inbox {
	return &Inbox{}
}

func (i *Inbox) Show(ctx context.Context, n Notification) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if n.Tag != "" {
		kept := i.items[:0]
		for _, it := range i.items {
			if it.Tag != n.Tag {
				kept = append(kept, it)
			}
		}
		i.items = kept
	}
	i.items = append(i.items, n)
	logrus.Infof("Notification shown: %s", n.Title)
	return nil
}

func (i *Inbox) Close(ctx context.Context, id string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	for idx, it := range i.items {
		if it.ID == id {
			i.items = append(i.items[:idx], i.items[idx+1:]...)
			return nil
		}
	}
	return ErrNotificationNotFound
}

// List returns the open notifications, oldest first.
func (i *Inbox) List() []Notification {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]Notification, len(i.items))
	copy(out, i.items)
	return out
}
