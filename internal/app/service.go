package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"marginalia/api/internal/annotation"
	"marginalia/api/internal/auth"
	"marginalia/api/internal/config"
	"marginalia/api/internal/export"
	"marginalia/api/internal/prefs"
	"marginalia/api/internal/revlog"
	"marginalia/api/internal/search"
	"marginalia/api/internal/store"
	"marginalia/api/internal/thread"
	"marginalia/api/internal/util"
)

type Session struct {
	Token      string
	UserID     string
	UserName   string
	IsExternal bool
	JTI        string
	ExpiresAt  time.Time
}

type CreateAnnotationInput struct {
	URI        string   `json:"uri"`
	Text       string   `json:"text"`
	Tags       []string `json:"tags"`
	References []string `json:"references"`
}

type UpdateAnnotationInput struct {
	Text string   `json:"text"`
	Tags []string `json:"tags"`
}

type ExpandInput struct {
	URI          string `json:"uri"`
	AnnotationID string `json:"annotationId"`
	Expanded     bool   `json:"expanded"`
}

type ForceVisibleInput struct {
	URI          string `json:"uri"`
	AnnotationID string `json:"annotationId"`
}

// ThreadQuery carries everything the thread endpoint accepts: which document
// to project, an optional full-text query that becomes the visibility filter,
// and the selection/highlight/ordering parameters.
type ThreadQuery struct {
	URI         string
	Query       string
	Selected    []string
	Highlighted []string
	Sort        string
	ReplySort   string
}

type dataStore interface {
	EnsureUserByName(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	InsertAnnotation(context.Context, store.Annotation) (store.Annotation, error)
	GetAnnotation(context.Context, string) (store.Annotation, error)
	UpdateAnnotation(context.Context, string, string, []string) (store.Annotation, error)
	DeleteAnnotation(context.Context, string) error
	ListAnnotationsByURI(context.Context, string) ([]store.Annotation, error)
	SummaryByURI(context.Context, string) (store.URISummary, error)
	Ping(ctx context.Context) error
}

type prefsStore interface {
	Get(ctx context.Context, viewerID, uri string) (prefs.ViewState, error)
	SetExpanded(ctx context.Context, viewerID, uri, annotationID string, expanded bool) error
	AddForceVisible(ctx context.Context, viewerID, uri, annotationID string) error
	Clear(ctx context.Context, viewerID, uri string) error
	Ping(ctx context.Context) error
}

type revisionLog interface {
	RecordCreate(*annotation.Annotation) (revlog.Revision, error)
	RecordUpdate(*annotation.Annotation) (revlog.Revision, error)
	RecordDelete(uri, annotationID, author string) (revlog.Revision, error)
	History(uri, annotationID string, limit int) ([]revlog.Revision, error)
	Snapshot(uri, annotationID, hash string) (*annotation.Annotation, error)
}

type searchIndex interface {
	Search(q search.Query) search.Response
	MatchingIDs(uri, text string) map[string]bool
	IndexAnnotation(record search.AnnotationRecord)
	DeleteAnnotation(id string)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	prefs    prefsStore
	revlog   revisionLog
	search   searchIndex
	exporter *export.Service
	writeKey auth.WriteKey
}

func New(cfg config.Config, dataStore *store.PostgresStore, prefsStore *prefs.RedisStore, revisionLog *revlog.Service, searchService *search.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		prefs:    prefsStore,
		revlog:   revisionLog,
		search:   searchService,
		exporter: export.NewService(),
		writeKey: auth.NewWriteKey(cfg.WriteKeyHash),
	}
}

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "User"
	}

	user, err := s.store.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, err
	}

	return s.issueSession(user)
}

func (s *Service) issueSession(user store.User) (Session, error) {
	jti := util.NewID("jti")
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{
		Token:      token,
		UserID:     user.ID,
		UserName:   user.DisplayName,
		IsExternal: user.IsExternal,
		JTI:        jti,
		ExpiresAt:  expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:      token,
		UserID:     user.ID,
		UserName:   user.DisplayName,
		IsExternal: user.IsExternal,
		JTI:        claims.JTI,
		ExpiresAt:  time.Unix(claims.Exp, 0),
	}, nil
}

// VerifyWriteKey checks the deployment write key presented on a mutating
// request. It accepts everything when no key is configured.
func (s *Service) VerifyWriteKey(presented string) bool {
	return s.writeKey.Verify(presented)
}

func (s *Service) CreateAnnotation(ctx context.Context, session Session, input CreateAnnotationInput) (*annotation.Annotation, error) {
	uri := strings.TrimSpace(input.URI)
	if uri == "" {
		return nil, domainError(http.StatusBadRequest, "INVALID_URI", "uri is required", nil)
	}
	if strings.TrimSpace(input.Text) == "" {
		return nil, domainError(http.StatusBadRequest, "INVALID_TEXT", "text is required", nil)
	}
	draft := &annotation.Annotation{URI: uri, Text: input.Text, References: input.References}
	if err := s.validateReply(ctx, draft); err != nil {
		return nil, err
	}

	record := store.Annotation{
		ID:         util.NewID("ann"),
		URI:        uri,
		UserName:   session.UserName,
		Text:       input.Text,
		Tags:       input.Tags,
		References: input.References,
	}
	saved, err := s.store.InsertAnnotation(ctx, record)
	if err != nil {
		return nil, err
	}

	ann := toAnnotation(saved)
	if _, err := s.revlog.RecordCreate(ann); err != nil {
		return nil, fmt.Errorf("record revision: %w", err)
	}
	s.search.IndexAnnotation(toSearchRecord(saved))
	return ann, nil
}

// validateReply requires a reply's direct parent to exist on the same URI.
// Deeper ancestors may be missing; projection renders placeholders for them.
func (s *Service) validateReply(ctx context.Context, draft *annotation.Annotation) error {
	if !annotation.IsReply(draft) {
		return nil
	}
	parentID := annotation.Parent(draft)
	parent, err := s.store.GetAnnotation(ctx, parentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domainError(http.StatusUnprocessableEntity, "UNKNOWN_PARENT", "referenced parent annotation does not exist", map[string]any{"parent": parentID})
		}
		return err
	}
	if parent.URI != draft.URI {
		return domainError(http.StatusUnprocessableEntity, "CROSS_URI_REPLY", "parent annotation belongs to a different uri", map[string]any{"parent": parentID})
	}
	return nil
}

func (s *Service) GetAnnotation(ctx context.Context, id string) (*annotation.Annotation, error) {
	record, err := s.store.GetAnnotation(ctx, id)
	if err != nil {
		return nil, err
	}
	return toAnnotation(record), nil
}

func (s *Service) ListAnnotations(ctx context.Context, uri string) ([]*annotation.Annotation, error) {
	records, err := s.store.ListAnnotationsByURI(ctx, uri)
	if err != nil {
		return nil, err
	}
	annotations := make([]*annotation.Annotation, 0, len(records))
	for _, record := range records {
		annotations = append(annotations, toAnnotation(record))
	}
	return annotations, nil
}

func (s *Service) UpdateAnnotation(ctx context.Context, session Session, id string, input UpdateAnnotationInput) (*annotation.Annotation, error) {
	if strings.TrimSpace(input.Text) == "" {
		return nil, domainError(http.StatusBadRequest, "INVALID_TEXT", "text is required", nil)
	}

	existing, err := s.store.GetAnnotation(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.UserName != session.UserName {
		return nil, domainError(http.StatusForbidden, "NOT_AUTHOR", "only the author can edit an annotation", nil)
	}

	updated, err := s.store.UpdateAnnotation(ctx, id, input.Text, input.Tags)
	if err != nil {
		return nil, err
	}

	ann := toAnnotation(updated)
	if _, err := s.revlog.RecordUpdate(ann); err != nil {
		return nil, fmt.Errorf("record revision: %w", err)
	}
	s.search.IndexAnnotation(toSearchRecord(updated))
	return ann, nil
}

func (s *Service) DeleteAnnotation(ctx context.Context, session Session, id string) error {
	existing, err := s.store.GetAnnotation(ctx, id)
	if err != nil {
		return err
	}
	if existing.UserName != session.UserName {
		return domainError(http.StatusForbidden, "NOT_AUTHOR", "only the author can delete an annotation", nil)
	}

	if err := s.store.DeleteAnnotation(ctx, id); err != nil {
		return err
	}
	if _, err := s.revlog.RecordDelete(existing.URI, id, session.UserName); err != nil {
		return fmt.Errorf("record revision: %w", err)
	}
	s.search.DeleteAnnotation(id)
	return nil
}

func (s *Service) AnnotationHistory(ctx context.Context, id string, limit int) ([]revlog.Revision, error) {
	record, err := s.store.GetAnnotation(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.revlog.History(record.URI, id, limit)
}

// AnnotationSnapshot returns the annotation as it was at a given revision.
func (s *Service) AnnotationSnapshot(ctx context.Context, id, hash string) (*annotation.Annotation, error) {
	record, err := s.store.GetAnnotation(ctx, id)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.revlog.Snapshot(record.URI, id, hash)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "REVISION_NOT_FOUND", "no such revision for annotation", map[string]any{"hash": hash})
	}
	return snapshot, nil
}

// GetThread projects a document's annotations into the reply tree the viewer
// should see: the full-text query drives item visibility, the viewer's stored
// state supplies expansion overrides and forced-visible ids.
func (s *Service) GetThread(ctx context.Context, viewerID string, query ThreadQuery) (map[string]any, error) {
	root, err := s.projectThread(ctx, viewerID, query)
	if err != nil {
		return nil, err
	}
	return serializeNode(root), nil
}

func (s *Service) projectThread(ctx context.Context, viewerID string, query ThreadQuery) (*thread.Node, error) {
	if strings.TrimSpace(query.URI) == "" {
		return nil, domainError(http.StatusBadRequest, "INVALID_URI", "uri is required", nil)
	}

	annotations, err := s.ListAnnotations(ctx, query.URI)
	if err != nil {
		return nil, err
	}

	opts := thread.Options{
		Selected:         query.Selected,
		Highlighted:      query.Highlighted,
		SortCompare:      compareFor(query.Sort, thread.ByID),
		ReplySortCompare: compareFor(query.ReplySort, thread.OldestFirst),
	}

	state, err := s.prefs.Get(ctx, viewerID, query.URI)
	if err != nil {
		return nil, err
	}
	opts.Expanded = state.Expanded
	opts.ForceVisible = state.ForceVisible

	if strings.TrimSpace(query.Query) != "" {
		matches := s.search.MatchingIDs(query.URI, query.Query)
		opts.Filter = func(a *annotation.Annotation) bool {
			return matches[annotation.ResolveID(a)]
		}
	}

	return thread.Build(annotations, opts), nil
}

func compareFor(name string, fallback thread.CompareFn) thread.CompareFn {
	switch name {
	case "id":
		return thread.ByID
	case "oldest":
		return thread.OldestFirst
	case "newest":
		return thread.NewestFirst
	default:
		return fallback
	}
}

func (s *Service) SetExpanded(ctx context.Context, viewerID string, input ExpandInput) error {
	if input.URI == "" || input.AnnotationID == "" {
		return domainError(http.StatusBadRequest, "INVALID_BODY", "uri and annotationId are required", nil)
	}
	return s.prefs.SetExpanded(ctx, viewerID, input.URI, input.AnnotationID, input.Expanded)
}

func (s *Service) ForceVisible(ctx context.Context, viewerID string, input ForceVisibleInput) error {
	if input.URI == "" || input.AnnotationID == "" {
		return domainError(http.StatusBadRequest, "INVALID_BODY", "uri and annotationId are required", nil)
	}
	return s.prefs.AddForceVisible(ctx, viewerID, input.URI, input.AnnotationID)
}

func (s *Service) ClearViewState(ctx context.Context, viewerID, uri string) error {
	return s.prefs.Clear(ctx, viewerID, uri)
}

// ExportThread renders the viewer's projected thread to HTML or PDF.
func (s *Service) ExportThread(ctx context.Context, viewerID string, query ThreadQuery, format export.Format) (*export.Result, error) {
	if format != export.FormatHTML && format != export.FormatPDF {
		return nil, domainError(http.StatusBadRequest, "INVALID_FORMAT", "format must be html or pdf", nil)
	}
	root, err := s.projectThread(ctx, viewerID, query)
	if err != nil {
		return nil, err
	}
	return s.exporter.Export(root, export.Request{URI: query.URI, Format: format})
}

func (s *Service) SearchAnnotations(q search.Query) search.Response {
	return s.search.Search(q)
}

func (s *Service) Summary(ctx context.Context, uri string) (store.URISummary, error) {
	return s.store.SummaryByURI(ctx, uri)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingPrefs(ctx context.Context) error {
	return s.prefs.Ping(ctx)
}

func toAnnotation(record store.Annotation) *annotation.Annotation {
	return &annotation.Annotation{
		ID:         record.ID,
		URI:        record.URI,
		User:       record.UserName,
		Text:       record.Text,
		Tags:       record.Tags,
		References: record.References,
		Created:    record.CreatedAt,
		Updated:    record.UpdatedAt,
	}
}

func toSearchRecord(record store.Annotation) search.AnnotationRecord {
	return search.AnnotationRecord{
		ID:   record.ID,
		URI:  record.URI,
		User: record.UserName,
		Body: record.Text,
		Tags: record.Tags,
	}
}

// serializeNode flattens a projected node into the JSON envelope the thread
// endpoint returns. Placeholder nodes carry a null annotation.
func serializeNode(n *thread.Node) map[string]any {
	children := make([]map[string]any, 0, len(n.Children))
	for _, child := range n.Children {
		children = append(children, serializeNode(child))
	}
	payload := map[string]any{
		"id":            n.ID,
		"parent":        n.Parent,
		"visible":       n.Visible,
		"collapsed":     n.Collapsed,
		"totalChildren": n.TotalChildren,
		"highlight":     string(n.Highlight),
		"replyCount":    n.ReplyCount,
		"depth":         n.Depth,
		"children":      children,
	}
	if n.Annotation != nil {
		payload["annotation"] = n.Annotation
	} else {
		payload["annotation"] = nil
	}
	return payload
}
