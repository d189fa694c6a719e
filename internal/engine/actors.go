package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/terabyte/jiraview/internal/store"
)

// actorFields is the slice of an issue payload that carries people.
type actorFields struct {
	Fields struct {
		Assignee *actorRef `json:"assignee"`
		Reporter *actorRef `json:"reporter"`
	} `json:"fields"`
}

type actorRef struct {
	AccountID    string `json:"accountId"`
	EmailAddress string `json:"emailAddress"`
	DisplayName  string `json:"displayName"`
}

// cacheActors harvests assignee and reporter identities from freshly
// committed issue payloads. It runs on the refresh goroutine; failures are
// logged and swallowed since actor data is a best-effort sidecar.
func (c *Controller) cacheActors(ctx context.Context, recs []store.Record) {
	for _, rec := range recs {
		var doc actorFields
		if err := json.Unmarshal(rec.Payload, &doc); err != nil {
			continue
		}
		for _, ref := range []*actorRef{doc.Fields.Assignee, doc.Fields.Reporter} {
			if ref == nil || ref.AccountID == "" {
				continue
			}
			payload, err := json.Marshal(ref)
			if err != nil {
				continue
			}
			actor := store.Actor{
				AccountID:   ref.AccountID,
				Email:       ref.EmailAddress,
				DisplayName: ref.DisplayName,
				Payload:     payload,
			}
			if err := c.store.SetActor(ctx, actor); err != nil {
				c.logger.Debug().Err(err).Str("account_id", ref.AccountID).Msg("actor cache write failed")
			}
		}
	}
}

// Actor returns the cached identity for an exact account ID.
func (c *Controller) Actor(ctx context.Context, accountID string) (store.Actor, error) {
	return c.store.Actor(ctx, accountID)
}

// ActorByEmail returns the cached identity with the given email address.
func (c *Controller) ActorByEmail(ctx context.Context, email string) (store.Actor, error) {
	return c.store.ActorByEmail(ctx, email)
}

// ActorByDisplayName returns the cached identity with the given display
// name, matched case-insensitively.
func (c *Controller) ActorByDisplayName(ctx context.Context, displayName string) (store.Actor, error) {
	return c.store.ActorByDisplayName(ctx, displayName)
}

// FindActor resolves a person reference the way users type them: an exact
// account ID, an email address, or a display name, in that order. Email
// addresses are also matched by their prefix against display names, since
// the backend sometimes omits the email field.
func (c *Controller) FindActor(ctx context.Context, ref string) (store.Actor, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return store.Actor{}, store.ErrNotFound
	}

	if a, err := c.store.Actor(ctx, ref); err == nil {
		return a, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.Actor{}, err
	}

	if strings.Contains(ref, "@") {
		if a, err := c.store.ActorByEmail(ctx, ref); err == nil {
			return a, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return store.Actor{}, err
		}
		// Fall back to the local part as a display name.
		ref = ref[:strings.Index(ref, "@")]
	}

	return c.store.ActorByDisplayName(ctx, ref)
}
