package store

import "time"

type User struct {
	ID          string
	DisplayName string
	Email       string
	IsExternal  bool
	CreatedAt   time.Time
}

type Annotation struct {
	ID         string
	URI        string
	UserName   string
	Text       string
	Tags       []string
	References []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// URISummary aggregates what a document accumulated: all annotations, the
// top-level ones among them, and how many distinct users wrote them.
type URISummary struct {
	URI      string
	Total    int
	TopLevel int
	Users    int
}
