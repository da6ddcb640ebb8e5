package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// attestationPrefix versions the signed message format. Bump it if the field
// set or ordering ever changes.
const attestationPrefix = "bondtreasury/attest/v1"

// Signer holds the treasury operator key and produces settlement
// attestations: detached signatures over the fields of an applied deposit or
// redemption, recorded alongside the audit entry so a third party can verify
// which operator instance settled a workflow.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key (with
// or without 0x prefix), typically obtained via LoadKey.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	privateKey, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: parsing private key: %w", err)
	}
	return &Signer{
		privateKey: privateKey,
		address:    ethcrypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// Address returns the operator address derived from the signing key, in
// checksummed hex form.
func (s *Signer) Address() string {
	return s.address.Hex()
}

// Attest signs the canonical encoding of one settled workflow and returns the
// 65-byte signature as 0x-prefixed hex.
func (s *Signer) Attest(workflowID, kind, paymentAsset, account, amount string, timestamp uint64) (string, error) {
	digest := attestationDigest(workflowID, kind, paymentAsset, account, amount, timestamp)

	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto: signing attestation: %w", err)
	}
	// Normalise the recovery id to {27,28} so the signature matches the form
	// ledger-side verifiers expect.
	sig[64] += 27

	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverAttestor verifies a signature produced by Attest over the same
// fields and returns the checksummed address of the key that signed it.
func RecoverAttestor(workflowID, kind, paymentAsset, account, amount string, timestamp uint64, sigHex string) (string, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("crypto: decoding signature hex: %w", err)
	}
	if len(sig) != 65 {
		return "", fmt.Errorf("crypto: expected 65-byte signature, got %d bytes", len(sig))
	}
	if sig[64] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[64] -= 27
	}

	digest := attestationDigest(workflowID, kind, paymentAsset, account, amount, timestamp)
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return "", fmt.Errorf("crypto: recovering public key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub).Hex(), nil
}

// attestationDigest is the keccak256 hash of the newline-joined attestation
// fields, prefixed with the versioned domain tag.
func attestationDigest(workflowID, kind, paymentAsset, account, amount string, timestamp uint64) []byte {
	msg := strings.Join([]string{
		attestationPrefix,
		workflowID,
		kind,
		paymentAsset,
		account,
		amount,
		strconv.FormatUint(timestamp, 10),
	}, "\n")
	return ethcrypto.Keccak256([]byte(msg))
}
