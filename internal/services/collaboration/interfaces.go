package collaboration

import (
	"context"

	"doc-collab/internal/models"
)

/*
LEARNING: CONSUMER-DRIVEN INTERFACES

The Controller is the consumer of the transport, the network signal, the
document API and the notification surface, so their interfaces live here.
Each one is small enough to fake in tests, which is how the connection state
machine is exercised without a network.
*/

// ConnectionOptions are passed to the provider when a resource is created
type ConnectionOptions struct {
	Token    string
	Connect  bool
	Identity models.Identity
}

// ConnectionResource is one live session transport: a document replica plus
// an awareness channel. It is owned by exactly one Controller.
type ConnectionResource interface {
	Doc() DocumentReplica
	Awareness() AwarenessChannel

	ShouldConnect() bool
	SetShouldConnect(bool)
	Connect()
	Disconnect()

	// OnStatus and OnAwareness register listeners and return a func that
	// removes them. Status values are raw transport strings.
	OnStatus(func(status string)) (unsubscribe func())
	OnAwareness(func(snapshot models.AwarenessSnapshot)) (unsubscribe func())
}

// ConnectionProvider creates and destroys ConnectionResources.
// DestroyConnection must be safe to call on a resource that failed or was
// already destroyed.
type ConnectionProvider interface {
	CreateConnection(ctx context.Context, documentID string, opts ConnectionOptions) (ConnectionResource, error)
	DestroyConnection(resource ConnectionResource)
}

// DocumentReplica is the opaque, locally held copy of document content
type DocumentReplica interface {
	ApplyLocal(update []byte) error
	OnUpdate(func(update []byte)) (unsubscribe func())
	SetEditable(editable bool)
	Editable() bool
}

// AwarenessChannel carries ephemeral per-participant presence
type AwarenessChannel interface {
	SetLocalState(state models.AwarenessState) error
	Snapshot() models.AwarenessSnapshot
}

// MetadataFetcher loads document metadata (title, archive state)
type MetadataFetcher interface {
	FetchDocumentMeta(ctx context.Context, documentID, token string) (*models.DocumentMeta, error)
}

// TokenValidator resolves the permission a share token grants
type TokenValidator interface {
	ValidateAccessToken(ctx context.Context, token string) (*models.ShareValidation, error)
}

// Reachability is the ambient network signal.
// Implementations must be safe for concurrent use.
type Reachability interface {
	Online() bool
	Subscribe(func(online bool)) (unsubscribe func())
}

// Notifier shows one-shot messages to the user.
// Implementations must be safe for concurrent use and must not block.
type Notifier interface {
	Notify(n models.Notification)
}
