package escrowchain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// escrowSaltTag namespaces the CREATE2 salt so escrows cannot collide
// with other account families under the same program.
const escrowSaltTag = "paygram.escrow.v1"

const seedLen = 4

// Deriver computes escrow account addresses for one deployed program.
// Derivation is pure: no key material, no RPC.
type Deriver struct {
	Program      common.Address
	InitCodeHash common.Hash
}

// EscrowAddress returns the CREATE2 address the program places the
// escrow account at for a (sender, recipient, seed) triple. Creation,
// approval and rejection all must call this with the same triple; the
// account is never stored, only re-derived.
func (d Deriver) EscrowAddress(sender, recipient common.Address, seed string) (common.Address, error) {
	if len(seed) != seedLen {
		return common.Address{}, fmt.Errorf("escrow seed must be %d bytes, got %d", seedLen, len(seed))
	}
	seedWord := toBytes32(seed)
	salt := crypto.Keccak256Hash(
		[]byte(escrowSaltTag),
		sender.Bytes(),
		recipient.Bytes(),
		seedWord[:],
	)
	return crypto.CreateAddress2(d.Program, salt, d.InitCodeHash.Bytes()), nil
}

func toBytes32(value string) [32]byte {
	var out [32]byte
	copy(out[:], []byte(value))
	return out
}
