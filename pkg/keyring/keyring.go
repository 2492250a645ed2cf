package keyring

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Keyring holds a secp256k1 keypair used either as a messaging identity
// or as a one-time trade token key. Signatures are BIP-340 schnorr over
// a 32-byte digest.
type Keyring struct {
	prvkey *btcec.PrivateKey
}

// New generates a fresh keypair.
func New() (*Keyring, error) {
	prvkey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return &Keyring{prvkey}, nil
}

// FromHex restores a keyring from a hex-encoded private key.
func FromHex(prvkeyHex string) (*Keyring, error) {
	buf, err := hex.DecodeString(prvkeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key format: %w", err)
	}
	if len(buf) != 32 {
		return nil, fmt.Errorf("invalid private key length: %d", len(buf))
	}
	prvkey, _ := btcec.PrivKeyFromBytes(buf)
	return &Keyring{prvkey}, nil
}

// Serialize returns the hex-encoded private key.
func (k *Keyring) Serialize() string {
	return hex.EncodeToString(k.prvkey.Serialize())
}

// PublicKey returns the compressed hex encoding of the public key, the
// format used for all identities across the protocol.
func (k *Keyring) PublicKey() string {
	return hex.EncodeToString(k.prvkey.PubKey().SerializeCompressed())
}

// Sign returns the schnorr signature of the given digest.
func (k *Keyring) Sign(digest [32]byte) ([]byte, error) {
	// schnorr.Sign negates odd-Y keys in place to meet BIP-340, which
	// would flip the parity byte of PublicKey. Sign a throwaway copy so
	// the identity never changes.
	prvkey, _ := btcec.PrivKeyFromBytes(k.prvkey.Serialize())
	sig, err := schnorr.Sign(prvkey, digest[:])
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

// Verify checks a schnorr signature over digest against a compressed
// hex pubkey.
func Verify(pubkeyHex string, digest [32]byte, sig []byte) bool {
	buf, err := hex.DecodeString(pubkeyHex)
	if err != nil {
		return false
	}
	pubkey, err := btcec.ParsePubKey(buf)
	if err != nil {
		return false
	}
	signature, err := schnorr.ParseSignature(sig)
	if err != nil {
		return false
	}
	return signature.Verify(digest[:], pubkey)
}
