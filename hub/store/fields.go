package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/postforge-ai/postforge/pkg/api"
)

// ErrSessionNotFound is returned by session mutations when no record exists.
var ErrSessionNotFound = errors.New("session not found")

// sessionFieldStore is the subset of driver behavior the shared session
// mutation helpers need. Both drivers implement it.
type sessionFieldStore interface {
	GetSession(ctx context.Context, email string) (*Session, error)
	setSessionFields(ctx context.Context, email, url, info, styles string) error
}

// bindFields applies first-write-wins binding for the URL and occasion
// fields. Re-writing an already-bound field with the same value is a no-op;
// writing a different value fails with ErrFieldBound.
func bindFields(ctx context.Context, s sessionFieldStore, email, url, occasion string) error {
	sess, err := s.GetSession(ctx, email)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrSessionNotFound
	}

	if url != "" {
		switch sess.URL {
		case "":
			sess.URL = url
		case url:
			// already bound to the same value
		default:
			return ErrFieldBound
		}
	}
	if occasion != "" {
		switch sess.Info {
		case "":
			sess.Info = occasion
		case occasion:
		default:
			return ErrFieldBound
		}
	}

	styles, err := json.Marshal(sess.Styles)
	if err != nil {
		return fmt.Errorf("marshal styles: %w", err)
	}
	return s.setSessionFields(ctx, email, sess.URL, sess.Info, string(styles))
}

// markStyleUsed flips one style flag 1→0. The flag never returns to 1 for
// the lifetime of the session record.
func markStyleUsed(ctx context.Context, s sessionFieldStore, email string, style api.StyleID) error {
	sess, err := s.GetSession(ctx, email)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrSessionNotFound
	}

	if sess.Styles == nil {
		sess.Styles = make(map[api.StyleID]int)
	}
	sess.Styles[style] = 0

	styles, err := json.Marshal(sess.Styles)
	if err != nil {
		return fmt.Errorf("marshal styles: %w", err)
	}
	return s.setSessionFields(ctx, email, sess.URL, sess.Info, string(styles))
}
