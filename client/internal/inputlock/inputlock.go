// Package inputlock guards the url and occasion inputs. Each field accepts
// its first non-empty value and can then be locked; locked fields swallow
// further writes instead of erroring, so UI surfaces never have to special
// case a re-submit.
package inputlock

import (
	"strings"
	"sync"
)

// Controller holds the two lockable inputs for one session.
type Controller struct {
	mu       sync.RWMutex
	url      string
	occasion string
	locked   bool
}

// New returns an unlocked controller with empty fields.
func New() *Controller {
	return &Controller{}
}

// SetURL records the url if the field is still empty and the controller is
// unlocked. Returns whether the value was taken.
func (c *Controller) SetURL(v string) bool {
	return c.setField(&c.url, v)
}

// SetOccasion records the occasion if the field is still empty and the
// controller is unlocked. Returns whether the value was taken.
func (c *Controller) SetOccasion(v string) bool {
	return c.setField(&c.occasion, v)
}

func (c *Controller) setField(field *string, v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked || *field != "" {
		return false
	}
	*field = v
	return true
}

// Lock freezes both fields. Locking is monotonic: there is no unlock.
func (c *Controller) Lock() {
	c.mu.Lock()
	c.locked = true
	c.mu.Unlock()
}

// Locked reports whether the controller has been locked.
func (c *Controller) Locked() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.locked
}

// URL returns the bound url, or "" if none was accepted yet.
func (c *Controller) URL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.url
}

// Occasion returns the bound occasion, or "" if none was accepted yet.
func (c *Controller) Occasion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.occasion
}

// Adopt seeds fields from a hub session record and locks any field the hub
// already holds a value for. Local empty fields stay writable.
func (c *Controller) Adopt(url, occasion string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.url == "" && url != "" {
		c.url = url
	}
	if c.occasion == "" && occasion != "" {
		c.occasion = occasion
	}
}
