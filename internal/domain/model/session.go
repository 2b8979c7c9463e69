package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Channel identifies the delivery/interaction surface a session belongs to.
// Each channel carries its own isolation rules: scheduled and heartbeat
// sessions never inherit interactive history, and continuation sessions load
// only a condensed summary from their parent.
type Channel string

const (
	// ChannelInteractive is a live conversation with the user.
	ChannelInteractive Channel = "interactive"
	// ChannelScheduled is a cron-triggered background run.
	ChannelScheduled Channel = "scheduled"
	// ChannelHeartbeat is a periodic self-check run.
	ChannelHeartbeat Channel = "heartbeat"
	// ChannelContinuation resumes work from a parent session with a summary only.
	ChannelContinuation Channel = "continuation"
)

// Valid returns true if the Channel is one of the defined surfaces.
func (c Channel) Valid() bool {
	switch c {
	case ChannelInteractive, ChannelScheduled, ChannelHeartbeat, ChannelContinuation:
		return true
	}
	return false
}

// Isolated reports whether sessions on this channel must start with no prior
// transcript. Continuation is not isolated in this sense: it carries a
// condensed parent summary, never the full history.
func (c Channel) Isolated() bool {
	return c == ChannelScheduled || c == ChannelHeartbeat
}

// UnmarshalText implements encoding.TextUnmarshaler so channels parse from env.
func (c *Channel) UnmarshalText(text []byte) error {
	v := Channel(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid channel: %q", string(text))
	}
	*c = v
	return nil
}

// Session is a logical execution context scoped to a channel and purpose.
type Session struct {
	ID              string     `json:"id"                          db:"id"`
	SessionKey      string     `json:"session_key"                 db:"session_key"`
	Channel         Channel    `json:"channel"                     db:"channel"`
	PurposeKey      string     `json:"purpose_key"                 db:"purpose_key"`
	UserID          string     `json:"user_id"                     db:"user_id"`
	ParentSessionID *string    `json:"parent_session_id,omitempty" db:"parent_session_id"`
	ParentSummary   *string    `json:"parent_summary,omitempty"    db:"parent_summary"`
	IsActive        bool       `json:"is_active"                   db:"is_active"`
	LastUsedAt      time.Time  `json:"last_used_at"                db:"last_used_at"`
	DeactivatedAt   *time.Time `json:"deactivated_at,omitempty"    db:"deactivated_at"`
	CreatedAt       time.Time  `json:"created_at"                  db:"created_at"`
}

// ResolveSessionRequest asks the router for the session bound to a
// channel/purpose pair, creating it on first use.
type ResolveSessionRequest struct {
	Channel    Channel `json:"channel"`
	PurposeKey string  `json:"purpose_key"`
	UserID     string  `json:"user_id"`

	// ParentSessionID and ParentSummary apply to continuation sessions only.
	ParentSessionID *string `json:"parent_session_id,omitempty"`
	ParentSummary   *string `json:"parent_summary,omitempty"`
}

// Validate enforces the channel isolation rules at the request boundary.
func (r *ResolveSessionRequest) Validate() error {
	if !r.Channel.Valid() {
		return fmt.Errorf("invalid channel: %q", r.Channel)
	}
	if strings.TrimSpace(r.PurposeKey) == "" {
		return errors.New("purpose key is required")
	}
	if strings.TrimSpace(r.UserID) == "" {
		return errors.New("user id is required")
	}
	if r.Channel == ChannelContinuation && (r.ParentSessionID == nil || *r.ParentSessionID == "") {
		return errors.New("continuation sessions require a parent session id")
	}
	if r.Channel != ChannelContinuation && r.ParentSessionID != nil {
		return fmt.Errorf("%s sessions must not reference a parent session", r.Channel)
	}
	return nil
}

// SessionKey derives the stable identity used to reuse sessions across
// triggers of the same channel/purpose pair.
func SessionKey(channel Channel, userID, purposeKey string) string {
	return string(channel) + ":" + userID + ":" + purposeKey
}
