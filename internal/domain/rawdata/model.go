package rawdata

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Payload is one retained provider response, kept for replay and manual
// reconciliation. Upserts are idempotent on (provider, endpoint, hash).
type Payload struct {
	Provider    string
	EntityType  string
	Endpoint    string
	Page        int
	PayloadJSON string
	PayloadHash string
	RetrievedAt time.Time
}

// New builds a payload with its content hash filled in.
func New(provider, entityType, endpoint string, page int, body []byte, retrievedAt time.Time) Payload {
	sum := sha256.Sum256(body)
	return Payload{
		Provider:    provider,
		EntityType:  entityType,
		Endpoint:    endpoint,
		Page:        page,
		PayloadJSON: string(body),
		PayloadHash: hex.EncodeToString(sum[:]),
		RetrievedAt: retrievedAt,
	}
}
