package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)
}

func TestEncryptKeyRejectsBadInput(t *testing.T) {
	_, err := EncryptKey(testKeyHex, "")
	assert.Error(t, err)

	_, err = EncryptKey("not-hex", "hunter2")
	assert.Error(t, err)

	_, err = EncryptKey("abcd", "hunter2") // too short
	assert.Error(t, err)
}

func TestLoadKeyPrefersRawKey(t *testing.T) {
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKeyHex})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	_, err = LoadKey(KeyConfig{})
	assert.Error(t, err)
}

func TestAttestRoundTrip(t *testing.T) {
	signer, err := NewSigner(testKeyHex)
	require.NoError(t, err)

	sig, err := signer.Attest("wf-1", "deposit_applied", "payment.token", "alice.phoenix", "1000", 1_700_000_000)
	require.NoError(t, err)
	assert.True(t, len(sig) > 2 && sig[:2] == "0x")

	addr, err := RecoverAttestor("wf-1", "deposit_applied", "payment.token", "alice.phoenix", "1000", 1_700_000_000, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), addr)

	// Any field change breaks recovery to the signing address.
	addr, err = RecoverAttestor("wf-1", "deposit_applied", "payment.token", "alice.phoenix", "1001", 1_700_000_000, sig)
	require.NoError(t, err)
	assert.NotEqual(t, signer.Address(), addr)
}

func TestHMACVerify(t *testing.T) {
	auth := &HMACAuth{Key: "key-id", Secret: "c2VjcmV0"}

	headers := auth.HeadersAt("POST", "/v1/tokens/pure.token/mint", `{"amount":"1"}`, 1_700_000_000)

	ok := auth.Verify("POST", "/v1/tokens/pure.token/mint", `{"amount":"1"}`,
		headers["X-TOKEN-TIMESTAMP"], headers["X-TOKEN-SIGNATURE"])
	assert.True(t, ok)

	ok = auth.Verify("POST", "/v1/tokens/pure.token/mint", `{"amount":"2"}`,
		headers["X-TOKEN-TIMESTAMP"], headers["X-TOKEN-SIGNATURE"])
	assert.False(t, ok)
}
