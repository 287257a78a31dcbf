package chain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"eventvax.app/relay/core/config"
)

// MetadataHasher derives the bytes32 metadata argument for an award.
type MetadataHasher func(eventID int64, wallet string) [32]byte

// NewMetadataHasher returns the hasher for the configured mode. Timestamped
// hashes include the submission time in milliseconds; deterministic hashes
// depend only on the pair.
func NewMetadataHasher(mode config.MetadataMode, now func() time.Time) MetadataHasher {
	if now == nil {
		now = time.Now
	}

	if mode == config.MetadataModeDeterministic {
		return func(eventID int64, wallet string) [32]byte {
			return crypto.Keccak256Hash([]byte(fmt.Sprintf("poap-%d-%s", eventID, wallet)))
		}
	}

	return func(eventID int64, wallet string) [32]byte {
		seed := fmt.Sprintf("poap-%d-%s-%d", eventID, wallet, now().UnixMilli())
		return crypto.Keccak256Hash([]byte(seed))
	}
}
