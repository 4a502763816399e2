package audit

import (
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/angelmondragon/ledgergate-backend/pkg/db/models"
)

// checksummer computes keyed BLAKE2b-256 digests over an entry's canonical content.
type checksummer struct {
	key []byte
}

func newChecksummer(key string) (*checksummer, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("audit checksum key required")
	}
	if len(key) > blake2b.Size {
		return nil, fmt.Errorf("audit checksum key must be at most %d bytes", blake2b.Size)
	}
	return &checksummer{key: []byte(key)}, nil
}

func (c *checksummer) sum(entry models.AuditLog) (string, error) {
	h, err := blake2b.New256(c.key)
	if err != nil {
		return "", err
	}
	// Each field is length-prefixed so adjacent values cannot bleed into each other.
	for _, field := range [][]byte{
		[]byte(entry.ID.String()),
		[]byte(entry.Action),
		[]byte(entry.EntityType),
		[]byte(entry.EntityID),
		[]byte(entry.ActorID),
		[]byte(entry.ActorRole),
		entry.BeforeState,
		entry.AfterState,
		entry.BusinessContext,
		[]byte(entry.RiskLevel),
		[]byte(entry.CorrelationID),
		[]byte(entry.CreatedAt.UTC().Format(time.RFC3339Nano)),
	} {
		writeField(h, field)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeField(h hash.Hash, field []byte) {
	h.Write([]byte(strconv.Itoa(len(field))))
	h.Write([]byte{':'})
	h.Write(field)
}
