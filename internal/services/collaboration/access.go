package collaboration

import (
	"context"
	"sync"

	"doc-collab/internal/middleware"
	"doc-collab/internal/models"

	"github.com/golang/glog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

// MessageAccessCheckFailed is shown when a share token cannot be validated
const MessageAccessCheckFailed = "Could not verify share link permissions. The document is opened read-only."

// AccessMode combines the two inputs of the read-only decision
type AccessMode struct {
	Permission models.SharePermission
	Archived   bool
}

// ReadOnly is true unless the session may edit and the document is live
func (m AccessMode) ReadOnly() bool {
	return m.Permission != models.PermissionEdit || m.Archived
}

// AccessResolver validates share tokens, once per (document, token) pair.
// Concurrent lookups for the same pair share one validation. Safe for
// concurrent use.
type AccessResolver struct {
	validator TokenValidator
	notifier  Notifier
	flight    singleflight.Group

	mu        sync.Mutex
	validated map[accessKey]accessResult
	warned    map[accessKey]bool
}

type accessKey struct {
	documentID string
	token      string
}

func (k accessKey) String() string {
	return k.documentID + "\x00" + k.token
}

type accessResult struct {
	permission models.SharePermission
	err        error
}

func NewAccessResolver(validator TokenValidator, notifier Notifier) *AccessResolver {
	return &AccessResolver{
		validator: validator,
		notifier:  notifier,
		validated: make(map[accessKey]accessResult),
		warned:    make(map[accessKey]bool),
	}
}

// InitialPermission is the permission to assume before validation finishes.
// Sessions without a share token are owner sessions; tokened sessions start
// read-only until the token is confirmed.
func InitialPermission(token string) models.SharePermission {
	if token == "" {
		return models.PermissionEdit
	}
	return ""
}

// ResolvePermission returns the permission for token on documentID. A failed
// validation resolves to non-edit and returns the cause; the caller decides
// whether to surface it with WarnFailure.
func (r *AccessResolver) ResolvePermission(ctx context.Context, documentID, token string) (models.SharePermission, error) {
	if token == "" {
		return models.PermissionEdit, nil
	}

	key := accessKey{documentID: documentID, token: token}
	if res, ok := r.cached(key); ok {
		return res.permission, res.err
	}

	v, _, _ := r.flight.Do(key.String(), func() (interface{}, error) {
		if res, ok := r.cached(key); ok {
			return res, nil
		}

		ctx, span := middleware.StartSpan(ctx, "Access.ValidateToken",
			attribute.String("document.id", documentID),
		)
		defer span.End()

		var res accessResult
		validation, err := r.validate(ctx, token)
		if err != nil {
			middleware.AddSpanError(ctx, err)
			glog.Warningf("⚠️  Share token validation failed for document %s: %v", documentID, err)
			res.err = err
		} else {
			res.permission = validation.Permission
		}

		r.mu.Lock()
		r.validated[key] = res
		r.mu.Unlock()
		return res, nil
	})

	res := v.(accessResult)
	return res.permission, res.err
}

// WarnFailure tells the user that the share link could not be verified.
// Only the first call per (document, token) pair notifies.
func (r *AccessResolver) WarnFailure(documentID, token string) {
	key := accessKey{documentID: documentID, token: token}

	r.mu.Lock()
	if r.warned[key] {
		r.mu.Unlock()
		return
	}
	r.warned[key] = true
	r.mu.Unlock()

	if r.notifier != nil {
		r.notifier.Notify(models.Notification{
			Level:      models.NotificationWarning,
			DocumentID: documentID,
			Message:    MessageAccessCheckFailed,
		})
	}
}

func (r *AccessResolver) cached(key accessKey) (accessResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.validated[key]
	return res, ok
}

func (r *AccessResolver) validate(ctx context.Context, token string) (v *models.ShareValidation, err error) {
	if r.validator == nil {
		return nil, errNoValidator
	}
	defer func() {
		if p := recover(); p != nil {
			v, err = nil, panicError(p)
		}
	}()
	v, err = r.validator.ValidateAccessToken(ctx, token)
	if err == nil && v == nil {
		err = errEmptyValidation
	}
	return v, err
}
