package blob

import (
	memorystore "memorypin/internal/infra/blob/memory"
)

// MemoryStore is the in-memory driver, exposed so tests can inject failures.
type MemoryStore = memorystore.Store

// NewMemory returns an in-memory slot store suitable for tests.
func NewMemory() *MemoryStore { return memorystore.New() }
