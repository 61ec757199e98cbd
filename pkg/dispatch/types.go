package dispatch

import (
	"errors"
	"fmt"
	"time"
)

// Subscription is a browser push subscription as stored for a user.
// P256dh and Auth are base64url encoded exactly as the browser issued them.
type Subscription struct {
	OwnerID  string `json:"user_id" firestore:"owner"`
	Endpoint string `json:"endpoint" firestore:"endpoint"`
	P256dh   string `json:"p256dh" firestore:"p256dh"`
	Auth     string `json:"auth" firestore:"auth"`
}

// BrowserSubscription mirrors PushSubscription.toJSON() from the Push API.
type BrowserSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// ToSubscription attaches the owner to a browser subscription.
func (b BrowserSubscription) ToSubscription(ownerID string) Subscription {
	return Subscription{
		OwnerID:  ownerID,
		Endpoint: b.Endpoint,
		P256dh:   b.Keys.P256dh,
		Auth:     b.Keys.Auth,
	}
}

// DeliveryResult is the outcome of one delivery attempt.
type DeliveryResult struct {
	RecipientID string `json:"recipient_id"`
	Endpoint    string `json:"endpoint"`
	Success     bool   `json:"success"`
	StatusCode  int    `json:"status_code,omitempty"`
	Err         error  `json:"-"`
	Invalidate  bool   `json:"invalidate"`
}

// ErrorDetail returns the error text, or "" on success.
func (r DeliveryResult) ErrorDetail() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// BatchSummary aggregates the results of one batch.
type BatchSummary struct {
	BatchID      string           `json:"batch_id"`
	Total        int              `json:"total"`
	SuccessCount int              `json:"sent"`
	FailureCount int              `json:"failed"`
	Invalidated  []Subscription   `json:"-"`
	Results      []DeliveryResult `json:"-"`
}

// Add folds a result into the summary.
func (s *BatchSummary) Add(r DeliveryResult, sub Subscription) {
	s.Results = append(s.Results, r)
	if r.Success {
		s.SuccessCount++
	} else {
		s.FailureCount++
	}
	if r.Invalidate {
		s.Invalidated = append(s.Invalidated, sub)
	}
}

// InvalidRecipientIDs lists the owners of the subscriptions flagged for deletion.
func (s *BatchSummary) InvalidRecipientIDs() []string {
	ids := make([]string, 0, len(s.Invalidated))
	for _, sub := range s.Invalidated {
		ids = append(ids, sub.OwnerID)
	}
	return ids
}

// TargetType selects the audience of a broadcast.
type TargetType string

const (
	TargetAll      TargetType = "all"
	TargetUser     TargetType = "user"
	TargetInactive TargetType = "inactive"
)

// Target is the recipient selection handed to a RecipientResolver.
type Target struct {
	Type         TargetType
	UserID       string
	InactiveDays int
}

// BroadcastRequest is the inbound request, from HTTP or Pub/Sub.
type BroadcastRequest struct {
	Title        string     `json:"title"`
	Body         string     `json:"body"`
	Icon         string     `json:"icon,omitempty"`
	URL          string     `json:"url,omitempty"`
	TargetType   TargetType `json:"targetType"`
	TargetUserID string     `json:"targetUserId,omitempty"`
	InactiveDays int        `json:"inactiveDays,omitempty"`
}

// Validate checks the request is complete for its target type.
func (r *BroadcastRequest) Validate() error {
	if r.Title == "" || r.Body == "" {
		return errors.New("title and body are required")
	}
	switch r.TargetType {
	case TargetAll:
	case TargetUser:
		if r.TargetUserID == "" {
			return errors.New("targetUserId is required for target type user")
		}
	case TargetInactive:
		if r.InactiveDays <= 0 {
			return errors.New("inactiveDays must be positive for target type inactive")
		}
	default:
		return fmt.Errorf("unknown target type %q", r.TargetType)
	}
	return nil
}

// Target extracts the recipient selection.
func (r *BroadcastRequest) Target() Target {
	return Target{Type: r.TargetType, UserID: r.TargetUserID, InactiveDays: r.InactiveDays}
}

// LogRecord is handed to a LogSink once per batch.
type LogRecord struct {
	BatchID         string     `json:"batch_id" firestore:"batch_id"`
	Title           string     `json:"title" firestore:"title"`
	Body            string     `json:"body" firestore:"body"`
	TargetType      TargetType `json:"target_type" firestore:"target_type"`
	TotalRecipients int        `json:"total_recipients" firestore:"total_recipients"`
	SuccessCount    int        `json:"success_count" firestore:"success_count"`
	FailureCount    int        `json:"failure_count" firestore:"failure_count"`
	SentBy          string     `json:"sent_by" firestore:"sent_by"`
	Timestamp       time.Time  `json:"timestamp" firestore:"timestamp"`
}
