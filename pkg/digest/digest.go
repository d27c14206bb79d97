// Package digest contains the core domain types for the news summariser.
package digest

import "time"

// ArticleRef is a popular page reported by the analytics API.
type ArticleRef struct {
	Title        string
	URL          string
	Path         string // normalised path, used only for filtering
	VisitorCount int
}

// Article is an ArticleRef with its extracted body text.
type Article struct {
	Title        string
	URL          string
	Content      string
	VisitorCount int
}

// SourceArticle attributes part of a summary to the article it came from.
type SourceArticle struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Summary is the document persisted to the object store.
type Summary struct {
	SummaryText    string          `json:"summaryText"`
	SourceArticles []SourceArticle `json:"sourceArticles"`
}

// DraftStatus is the review state shown to admins.
type DraftStatus string

// Draft statuses.
const (
	DraftPending  DraftStatus = "pending"
	DraftApproved DraftStatus = "approved"
	DraftRejected DraftStatus = "rejected"
)

// Draft is a stored summary awaiting review.
type Draft struct {
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
	ID        string      `json:"id"` // object ETag
	Status    DraftStatus `json:"status"`
	Summary
}

// Status of a subscriber record.
type Status string

// Subscriber statuses.
const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Subscriber is one row of the subscribers table, keyed by email.
type Subscriber struct {
	CreatedAt      time.Time  `json:"createdAt" dynamodbav:"createdAt"`
	VerifiedAt     *time.Time `json:"verifiedAt,omitempty" dynamodbav:"verifiedAt,omitempty"`
	UnsubscribedAt *time.Time `json:"unsubscribedAt,omitempty" dynamodbav:"unsubscribedAt,omitempty"`
	Email          string     `json:"email" dynamodbav:"email"`
	Status         Status     `json:"status,omitempty" dynamodbav:"status,omitempty"`
}

// Admin is one row of the admins table.
type Admin struct {
	Email          string `json:"email" dynamodbav:"email"`
	Name           string `json:"name" dynamodbav:"name"`
	HashedPassword string `json:"hashedPassword" dynamodbav:"hashedPassword"`
}

// AdminUser is the admin identity carried in a session.
type AdminUser struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}
