package core

// Owner-badge keypair derivation for the Account blueprint: an Account's
// owner badge is a resource an operator holds outside the kernel, and this
// file derives the badge's Ed25519 keypair and resource fingerprint the
// same deterministic way a real wallet derives addresses, so an operator
// can reproduce a badge's fingerprint offline from a mnemonic without the
// kernel ever touching crypto/rand.
//
// Derivation model: SLIP-0010 hardened-only, path m / account' / index',
// matching ed25519's restriction to hardened children.
//
// An HD wallet derivation with no transaction-signing surface (this
// kernel's accounts are authorized by proofs, not by signatures),
// re-pointed at ResourceAddress instead of a flat account address type.

import (
	"crypto/ed25519"
	"crypto/hmac"
	crand "crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	bip39 "github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/ripemd160"
)

const (
	hardenedOffset uint32 = 0x80000000
	masterHMACKey         = "ed25519 seed" // SLIP-0010 master-key string
)

var walletLog = log.WithField("component", "wallet")

// BadgeWallet keeps master key material in memory only; it is never
// persisted by the kernel itself.
type BadgeWallet struct {
	seed        []byte
	masterKey   []byte
	masterChain []byte
}

// Seed returns a copy of the wallet's master seed.
func (w *BadgeWallet) Seed() []byte {
	out := make([]byte, len(w.seed))
	copy(out, w.seed)
	return out
}

// NewRandomBadgeWallet generates entropyBits (128 or 256) of RNG entropy
// and returns the wallet alongside its recovery mnemonic. This is an
// operator-tooling entry point, never called from within a kernel
// invocation: the mnemonic is the one place real randomness belongs in
// this package.
func NewRandomBadgeWallet(entropyBits int) (*BadgeWallet, string, error) {
	if entropyBits != 128 && entropyBits != 256 {
		return nil, "", fmt.Errorf("unsupported entropy size %d", entropyBits)
	}
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return nil, "", fmt.Errorf("entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, "", fmt.Errorf("mnemonic: %w", err)
	}
	seed := bip39.NewSeed(mnemonic, "")
	w, err := NewBadgeWalletFromSeed(seed)
	if err != nil {
		return nil, "", err
	}
	return w, mnemonic, nil
}

// BadgeWalletFromMnemonic imports an existing BIP-39 recovery phrase.
func BadgeWalletFromMnemonic(mnemonic, passphrase string) (*BadgeWallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid mnemonic checksum")
	}
	return NewBadgeWalletFromSeed(bip39.NewSeed(mnemonic, passphrase))
}

// NewBadgeWalletFromSeed builds a wallet directly from raw seed bytes.
func NewBadgeWalletFromSeed(seed []byte) (*BadgeWallet, error) {
	if len(seed) < 16 {
		return nil, errors.New("seed too short")
	}
	I := hmacSHA512([]byte(masterHMACKey), seed)
	w := &BadgeWallet{seed: seed, masterKey: I[:32], masterChain: I[32:]}
	walletLog.Debugf("badge wallet master key initialized (%d byte seed)", len(seed))
	return w, nil
}

func derivePrivate(parentKey, parentChain []byte, index uint32) (key, ccode []byte, err error) {
	if index < hardenedOffset {
		return nil, nil, errors.New("non-hardened derivation not supported for ed25519")
	}
	data := make([]byte, 1+32+4)
	copy(data[1:], parentKey)
	binary.BigEndian.PutUint32(data[33:], index)
	I := hmacSHA512(parentChain, data)
	return I[:32], I[32:], nil
}

func hmacSHA512(key, data []byte) []byte {
	h := hmac.New(sha512.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// PrivateKey returns the ed25519 keypair for derivation path m / account' /
// index'. account and index are hardened internally.
func (w *BadgeWallet) PrivateKey(account, index uint32) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	account |= hardenedOffset
	index |= hardenedOffset

	k1, c1, err := derivePrivate(w.masterKey, w.masterChain, account)
	if err != nil {
		return nil, nil, err
	}
	k2, _, err := derivePrivate(k1, c1, index)
	if err != nil {
		return nil, nil, err
	}
	priv := ed25519.NewKeyFromSeed(k2)
	pub := priv.Public().(ed25519.PublicKey)
	return priv, pub, nil
}

// pubKeyToBadgeAddress folds a 32-byte ed25519 public key directly into a
// ResourceAddress: the badge's own resource address IS its public key's
// digest, so an Account's OwnerBadge can be compared against a presented
// proof's Resource.Address without an extra lookup table.
func pubKeyToBadgeAddress(pub ed25519.PublicKey) ResourceAddress {
	return sha256.Sum256(pub)
}

// BadgeAddress derives account+index and returns the badge's resource
// address.
func (w *BadgeWallet) BadgeAddress(account, index uint32) (ResourceAddress, error) {
	_, pub, err := w.PrivateKey(account, index)
	if err != nil {
		return ResourceAddress{}, err
	}
	return pubKeyToBadgeAddress(pub), nil
}

// Fingerprint returns a short ripemd160-of-sha256 display fingerprint for a
// badge's public key, for CLI output where the full 32-byte address is
// more than an operator needs to eyeball.
func (w *BadgeWallet) Fingerprint(account, index uint32) (string, error) {
	_, pub, err := w.PrivateKey(account, index)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(pub)
	r := ripemd160.New()
	r.Write(sum[:])
	return hex.EncodeToString(r.Sum(nil)), nil
}

// RandomMnemonicEntropy produces cryptographically secure random entropy of
// the given number of bits, for operator tooling that wants to mix in its
// own entropy source rather than bip39.NewEntropy's default.
func RandomMnemonicEntropy(bits int) ([]byte, error) {
	if bits%32 != 0 {
		return nil, errors.New("entropy bits must be a multiple of 32")
	}
	b := make([]byte, bits/8)
	if _, err := crand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Wipe zeroes a byte slice in place. Best-effort: the GC may still hold a
// copy elsewhere.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Hex returns the full hexadecimal representation of a resource address.
func AddressHex(addr ResourceAddress) string {
	return "0x" + hex.EncodeToString(addr[:])
}
