package api

import (
	"github.com/openfield/collect/internal/services"
)

// Store is the record store the HTTP layer runs on. It is the union of the
// narrow per-service read interfaces; both the in-memory store and the SQLite
// store satisfy it.
type Store interface {
	services.QAStore
	services.AlertStore
	services.AnalyticsStore
	services.AuthStore
}

var _ Store = (*MemoryStore)(nil)
