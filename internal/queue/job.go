// Package queue carries durable-sync work from the request path to the
// workers. Jobs are idempotent, retried with bounded exponential backoff and
// dead-lettered once their attempt budget is spent.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"momentum/internal/models"
	"momentum/internal/observability"

	"github.com/google/uuid"
)

// Kind is the closed set of job types. Each kind has exactly one handler.
type Kind string

const (
	KindSyncLike         Kind = "sync-like"
	KindSyncUnlike       Kind = "sync-unlike"
	KindSyncFollow       Kind = "sync-follow"
	KindSyncUnfollow     Kind = "sync-unfollow"
	KindSyncShare        Kind = "sync-share"
	KindUpdateFeed       Kind = "update-feed"
	KindSendNotification Kind = "send-notification"
)

// Kinds lists every job kind in a stable order.
var Kinds = []Kind{
	KindSyncLike,
	KindSyncUnlike,
	KindSyncFollow,
	KindSyncUnfollow,
	KindSyncShare,
	KindUpdateFeed,
	KindSendNotification,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Coalesces reports whether identical pending jobs of this kind may be
// collapsed into one.
func (k Kind) Coalesces() bool {
	return k == KindUpdateFeed
}

// Job is the envelope every driver stores. Attempt counts the attempts
// already made.
type Job struct {
	ID            string          `json:"id"`
	Kind          Kind            `json:"kind"`
	Key           string          `json:"key"`
	Payload       json.RawMessage `json:"payload"`
	Attempt       int             `json:"attempt"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	LastError     string          `json:"last_error,omitempty"`
	FailedAt      *time.Time      `json:"failed_at,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`

	// driver bookkeeping for the delivery currently held by a worker
	receipt interface{}
}

// NewJob builds a job with a fresh id. The correlation id of ctx, if any,
// travels with the job so worker logs tie back to the request.
func NewJob(ctx context.Context, kind Kind, key string, payload interface{}) (*Job, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("queue: unknown job kind %q", kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("queue: encode %s payload: %w", kind, err)
	}
	return &Job{
		ID:            uuid.NewString(),
		Kind:          kind,
		Key:           key,
		Payload:       raw,
		EnqueuedAt:    time.Now().UTC(),
		CorrelationID: observability.ExtractCorrelationID(ctx),
	}, nil
}

// Decode unmarshals the payload. A payload that does not decode will never
// decode, so the error is permanent.
func (j *Job) Decode(v interface{}) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return Permanent(fmt.Errorf("decode %s payload: %w", j.Kind, err))
	}
	return nil
}

func (j *Job) marshal() ([]byte, error) {
	return json.Marshal(j)
}

func unmarshalJob(data []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("queue: decode envelope: %w", err)
	}
	return &j, nil
}

// LikePayload is carried by sync-like and sync-unlike.
type LikePayload struct {
	UserID   uint              `json:"userId"`
	TargetID uint              `json:"targetId"`
	Target   models.LikeTarget `json:"target"`
	// PostID is the post a comment belongs to; equal to TargetID for post likes.
	PostID uint `json:"postId"`
}

// FollowPayload is carried by sync-follow and sync-unfollow.
type FollowPayload struct {
	FollowerID  uint `json:"followerId"`
	FollowingID uint `json:"followingId"`
}

// SharePayload is carried by sync-share.
type SharePayload struct {
	Ref       string           `json:"ref"`
	UserID    uint             `json:"userId"`
	PostID    uint             `json:"postId"`
	ShareType models.ShareType `json:"shareType"`
	Caption   string           `json:"caption,omitempty"`
	Platform  string           `json:"platform,omitempty"`
}

// FeedPayload is carried by update-feed. Exactly one of PostID and UserID is set.
type FeedPayload struct {
	PostID uint `json:"postId,omitempty"`
	UserID uint `json:"userId,omitempty"`
}

// Notification event types.
const (
	NotifyLike           = "like"
	NotifyComment        = "comment"
	NotifyReply          = "reply"
	NotifyFollow         = "follow"
	NotifyFollowRequest  = "follow_request"
	NotifyFollowAccepted = "follow_accepted"
	NotifyShare          = "share"
)

// NotificationPayload is carried by send-notification.
type NotificationPayload struct {
	RecipientID uint   `json:"recipientId"`
	ActorID     uint   `json:"actorId"`
	Type        string `json:"type"`
	PostID      uint   `json:"postId,omitempty"`
	CommentID   uint   `json:"commentId,omitempty"`
}

// Key builders. Jobs for the same entity share a key.

func LikeKey(target models.LikeTarget, targetID, userID uint) string {
	return fmt.Sprintf("like:%s:%d:user:%d", target, targetID, userID)
}

func FollowKey(followerID, followingID uint) string {
	return fmt.Sprintf("follow:%d:%d", followerID, followingID)
}

func ShareKey(ref string) string {
	return "share:" + ref
}

func PostFeedKey(postID uint) string {
	return fmt.Sprintf("feed:post:%d", postID)
}

func UserFeedKey(userID uint) string {
	return fmt.Sprintf("feed:user:%d", userID)
}

func NotificationKey(p NotificationPayload) string {
	return fmt.Sprintf("notify:%s:%d:%d", p.Type, p.RecipientID, p.ActorID)
}
