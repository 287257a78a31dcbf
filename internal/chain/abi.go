package chain

import (
	"github.com/ethereum/go-ethereum/crypto"
)

const poapABI = `[
	{
		"type": "function",
		"name": "claimed",
		"stateMutability": "view",
		"inputs": [
			{"name": "eventId", "type": "uint256"},
			{"name": "attendee", "type": "address"}
		],
		"outputs": [{"name": "", "type": "bool"}]
	},
	{
		"type": "function",
		"name": "awardPOAP",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "eventId", "type": "uint256"},
			{"name": "attendee", "type": "address"},
			{"name": "metadataHash", "type": "bytes32"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "hasRole",
		"stateMutability": "view",
		"inputs": [
			{"name": "role", "type": "bytes32"},
			{"name": "account", "type": "address"}
		],
		"outputs": [{"name": "", "type": "bool"}]
	}
]`

const (
	methodClaimed   = "claimed"
	methodAwardPOAP = "awardPOAP"
	methodHasRole   = "hasRole"
)

// VerifierRole is keccak256("VERIFIER"), the role allowed to award tokens.
var VerifierRole = crypto.Keccak256Hash([]byte("VERIFIER"))
