package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	URI     string `json:"uri"`
	User    string `json:"user"`
	Snippet string `json:"snippet"`
}

// Query describes a search request over annotation bodies and tags.
type Query struct {
	Text       string
	FilterURI  string // empty = all documents
	FilterUser string
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push annotations into a search index.
type Indexer interface {
	IndexAnnotation(record AnnotationRecord) error
	DeleteAnnotation(id string) error
}

// AnnotationRecord is the data we index for an annotation.
type AnnotationRecord struct {
	ID   string   `json:"id"`
	URI  string   `json:"uri"`
	User string   `json:"user"`
	Body string   `json:"body"`
	Tags []string `json:"tags"`
}
