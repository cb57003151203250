package types

import (
	"context"
	"time"
)

// Namespace is a fixed category label prefixing cache keys and selecting the
// TTL policy. The set is closed: unknown namespaces are rejected.
type Namespace string

const (
	NamespaceEmbeddings Namespace = "embeddings"
	NamespaceDocument   Namespace = "document"
	NamespaceScraper    Namespace = "scraper"
	NamespacePrompt     Namespace = "prompt"
	NamespaceContext    Namespace = "context"
	NamespaceMessage    Namespace = "message"
	NamespaceSession    Namespace = "session"
	NamespaceShort      Namespace = "short"
)

// DefaultTTL is the policy lifetime for the namespace. It is also the upper
// bound: callers cannot request longer persistence.
func (n Namespace) DefaultTTL() time.Duration {
	switch n {
	case NamespaceEmbeddings:
		return 7 * 24 * time.Hour
	case NamespaceDocument:
		return 24 * time.Hour
	case NamespaceScraper:
		return 12 * time.Hour
	case NamespacePrompt:
		return 30 * 24 * time.Hour
	case NamespaceContext:
		return 24 * time.Hour
	case NamespaceMessage:
		return 7 * 24 * time.Hour
	case NamespaceSession:
		return 30 * 24 * time.Hour
	case NamespaceShort:
		return time.Hour
	default:
		return time.Hour
	}
}

func (n Namespace) Valid() bool {
	switch n {
	case NamespaceEmbeddings, NamespaceDocument, NamespaceScraper,
		NamespacePrompt, NamespaceContext, NamespaceMessage,
		NamespaceSession, NamespaceShort:
		return true
	}
	return false
}

// CacheClient is the unified cache surface. Backend failures never escape:
// reads miss, writes are logged no-ops.
type CacheClient interface {
	Get(ctx context.Context, key string, ns Namespace) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ns Namespace)
	SetTTL(ctx context.Context, key string, value []byte, ns Namespace, ttl time.Duration)
	Exists(ctx context.Context, key string, ns Namespace) bool
	Delete(ctx context.Context, key string, ns Namespace)
}
