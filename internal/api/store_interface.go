package api

import (
	"context"

	"github.com/soaringjerry/Quill/internal/models"
	"github.com/soaringjerry/Quill/internal/services"
)

// Store is the full persistence surface behind the router. The sqlite, mongo
// and memory backends all implement it.
type Store interface {
	services.AuthStore
	services.QuestionStore
	services.FormStore
	services.LedgerStore
	services.ExportStore

	// ListAudit returns the newest entries first; limit <= 0 means all.
	ListAudit(ctx context.Context, limit int) ([]models.AuditEntry, error)
	Close() error
}

var _ Store = (*MemoryStore)(nil)
