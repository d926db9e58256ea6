// Package storage provides persistence for distribution cursors and
// downloaded documents.
//
// # Interface Design
//
//   - [CursorStore]: the last NSU reached for each tax ID
//   - [DocumentStore]: decoded documents, keyed by tax ID and NSU
//
// The [Store] interface combines both.
//
// # Implementations
//
// The memory sub-package keeps everything in process and suits tests and
// single-shot runs. The mongodb sub-package is the production backend.
//
// # Ordering
//
// Callers save a page's documents before saving the cursor that follows
// them. A crash between the two repeats the page on the next run; saving a
// document twice is harmless because documents are keyed by NSU.
//
// # Concurrency
//
// All store implementations must be safe for concurrent use from multiple
// goroutines.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/sirosfoundation/go-dfe/pkg/distribution"
)

// Store is the main storage interface combining all sub-stores
type Store interface {
	CursorStore
	DocumentStore

	// Close releases storage resources
	Close(ctx context.Context) error

	// Ping checks database connectivity
	Ping(ctx context.Context) error
}

// CursorStore tracks how far each tax ID has been downloaded
type CursorStore interface {
	// GetCursor returns the cursor for a tax ID, or nil when none is stored
	GetCursor(ctx context.Context, taxID string) (*Cursor, error)

	// SaveCursor creates or updates a cursor. A stored LastNSU is never
	// lowered; the other fields are replaced.
	SaveCursor(ctx context.Context, cursor *Cursor) error

	// ListCursors returns all cursors ordered by tax ID
	ListCursors(ctx context.Context) ([]*Cursor, error)
}

// DocumentStore holds downloaded documents
type DocumentStore interface {
	// SaveDocuments upserts documents and returns how many were new
	SaveDocuments(ctx context.Context, docs []*Document) (int, error)

	// GetDocument returns a document by tax ID and NSU, or nil when absent
	GetDocument(ctx context.Context, taxID string, nsu uint64) (*Document, error)

	// ListDocuments returns documents in ascending NSU order
	ListDocuments(ctx context.Context, taxID string, filter *DocumentFilter) ([]*Document, error)

	// CountDocuments returns document count with filtering
	CountDocuments(ctx context.Context, taxID string, filter *DocumentFilter) (int64, error)
}

// Cursor is the download position of one tax ID
type Cursor struct {
	TaxID     string    `bson:"_id" json:"taxId"`
	LastNSU   uint64    `bson:"last_nsu" json:"ultNSU"`
	MaxNSU    uint64    `bson:"max_nsu" json:"maxNSU"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`

	// Status of the last call that touched the cursor
	LastStatus string `bson:"last_status" json:"cStat"`
	LastReason string `bson:"last_reason" json:"xMotivo"`
}

// Document is a stored distribution record
type Document struct {
	ID        string            `bson:"_id" json:"id"`
	TaxID     string            `bson:"tax_id" json:"taxId"`
	NSU       uint64            `bson:"nsu" json:"nsu"`
	Kind      distribution.Kind `bson:"kind" json:"tipo"`
	Schema    string            `bson:"schema" json:"schema"`
	AccessKey string            `bson:"access_key" json:"chNFe"`
	XML       string            `bson:"xml" json:"xml"`
	StoredAt  time.Time         `bson:"stored_at" json:"storedAt"`

	// Summary fields
	IssuerTaxID string  `bson:"issuer_tax_id,omitempty" json:"cnpjEmitente,omitempty"`
	IssuerName  string  `bson:"issuer_name,omitempty" json:"nomeEmitente,omitempty"`
	IssuedAt    string  `bson:"issued_at,omitempty" json:"dataEmissao,omitempty"`
	Value       float64 `bson:"value,omitempty" json:"valorNFe,omitempty"`

	// Event fields
	EventType   string `bson:"event_type,omitempty" json:"tpEvento,omitempty"`
	Description string `bson:"description,omitempty" json:"descricao,omitempty"`
}

// DocumentFilter narrows document queries
type DocumentFilter struct {
	Kind      distribution.Kind
	AccessKey string
	// AfterNSU selects documents with NSU strictly greater
	AfterNSU uint64
	Limit    int
	Offset   int
}

// Matches reports whether doc passes the filter; Limit and Offset are ignored
func (f *DocumentFilter) Matches(doc *Document) bool {
	if f == nil {
		return true
	}
	if f.Kind != "" && doc.Kind != f.Kind {
		return false
	}
	if f.AccessKey != "" && doc.AccessKey != f.AccessKey {
		return false
	}
	return doc.NSU > f.AfterNSU
}

// DocumentID is the storage key of a document
func DocumentID(taxID string, nsu uint64) string {
	return fmt.Sprintf("%s:%015d", taxID, nsu)
}

// NewDocument converts a decoded record for storage
func NewDocument(taxID string, d distribution.Document, now time.Time) *Document {
	meta := d.Meta()
	doc := &Document{
		ID:        DocumentID(taxID, meta.NSU),
		TaxID:     taxID,
		NSU:       meta.NSU,
		Kind:      meta.Kind,
		Schema:    meta.Schema,
		AccessKey: d.Key(),
		XML:       d.Content(),
		StoredAt:  now,
	}

	switch v := d.(type) {
	case *distribution.Summary:
		doc.IssuerTaxID = v.IssuerTaxID
		doc.IssuerName = v.IssuerName
		doc.IssuedAt = v.IssuedAt
		doc.Value = v.Value
	case *distribution.EventSummary:
		doc.EventType = v.EventType
		doc.Description = v.Description
	}

	return doc
}
