// Package srp implements the client half of the Secure Remote Password
// handshake spoken by Cognito user pools. The remote variant is fixed: the
// RFC 5054 3072-bit group with g=2, SHA-256 as the hash, big integers padded
// to an even-length hex encoding before hashing, and an HKDF info string of
// "Caldera Derived Key". Deviating from any of those details produces proofs
// the service rejects without explanation, so this package mirrors them
// exactly.
package srp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"
)

// nHex is the RFC 5054 3072-bit group prime.
const nHex = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74" +
	"020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F1437" +
	"4FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
	"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3DC2007CB8A163BF05" +
	"98DA48361C55D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208552BB" +
	"9ED529077096966D670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
	"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF695581718" +
	"3995497CEA956AE515D2261898FA051015728E5A8AAAC42DAD33170D04507A33" +
	"A85521ABDF1CBA64ECFB850458DBEF0A8AEA71575D060C7DB3970F85A6E1E4C7" +
	"ABF5AE8CDB0933D71E8C94E04A25619DCEE3D2261AD2EE6BF12FFA06D98A0864" +
	"D87602733EC86A64521F2B18177B200CBBE117577A615D6C770988C0BAD946E2" +
	"08E24FA074E5AB3143DB5BFCE0FD108E4B82D120A93AD2CAFFFFFFFFFFFFFFFF"

// derivedKeyInfo is the HKDF info string; the trailing 0x01 byte is appended
// when the key is expanded.
const derivedKeyInfo = "Caldera Derived Key"

// timestampLayout renders the proof timestamp the way the service expects:
// UTC, English weekday and month names, day of month without zero padding.
const timestampLayout = "Mon Jan 2 15:04:05 UTC 2006"

var (
	groupN *big.Int
	groupG = big.NewInt(2)
	multK  *big.Int // k = H(PAD(N) || PAD(g))
)

func init() {
	n, ok := new(big.Int).SetString(nHex, 16)
	if !ok {
		panic("srp: invalid group prime constant")
	}
	groupN = n

	k, err := hashHexToInt(padHex(groupN) + padHex(groupG))
	if err != nil {
		panic("srp: cannot derive multiplier k: " + err.Error())
	}
	multK = k
}

// Client holds one ephemeral SRP key pair. A Client is bound to a user pool
// name and must not be reused across sign-in attempts: the server binds its
// challenge to the A value it saw during initiation.
type Client struct {
	poolName string
	a        *big.Int // ephemeral private value
	bigA     *big.Int // g^a mod N, sent as SRP_A
}

// NewClient creates a Client with an ephemeral key pair drawn from
// crypto/rand.
func NewClient(poolName string) (*Client, error) {
	return NewClientFrom(rand.Reader, poolName)
}

// NewClientFrom creates a Client drawing ephemeral material from the given
// reader. Tests pass a deterministic reader; production code uses NewClient.
func NewClientFrom(entropy io.Reader, poolName string) (*Client, error) {
	for attempt := 0; attempt < 3; attempt++ {
		buf := make([]byte, 128)
		if _, err := io.ReadFull(entropy, buf); err != nil {
			return nil, fmt.Errorf("srp: reading ephemeral entropy: %w", err)
		}

		a := new(big.Int).SetBytes(buf)
		a.Mod(a, groupN)
		bigA := new(big.Int).Exp(groupG, a, groupN)

		// A congruent to zero would let the server derive a trivial key.
		if bigA.Sign() != 0 {
			return &Client{poolName: poolName, a: a, bigA: bigA}, nil
		}
	}
	return nil, fmt.Errorf("srp: ephemeral public key A mod N is zero")
}

// AHex returns the public ephemeral value as unpadded hex, the encoding the
// SRP_A auth parameter uses.
func (c *Client) AHex() string {
	return c.bigA.Text(16)
}

// Challenge carries the PASSWORD_VERIFIER challenge parameters returned by
// the service after SRP initiation.
type Challenge struct {
	ServerBHex  string // SRP_B, hex
	SaltHex     string // SALT, hex
	SecretBlock string // PASSWORD_CLAIM_SECRET_BLOCK, base64, echoed back untouched
	UserID      string // USER_ID_FOR_SRP
}

// PasswordClaim is the proof material for answering a PASSWORD_VERIFIER
// challenge.
type PasswordClaim struct {
	Signature string // base64 HMAC over poolName, user ID, secret block, timestamp
	Timestamp string // the exact timestamp string covered by the signature
}

// ProvePassword runs the second half of the handshake: it derives the shared
// key from the server's B and salt, then signs the secret block with it. The
// timestamp is rendered from now and included in the returned claim because
// the server recomputes the HMAC over the same string.
func (c *Client) ProvePassword(ch Challenge, password string, now time.Time) (PasswordClaim, error) {
	serverB, ok := new(big.Int).SetString(ch.ServerBHex, 16)
	if !ok {
		return PasswordClaim{}, fmt.Errorf("srp: malformed SRP_B value")
	}
	if new(big.Int).Mod(serverB, groupN).Sign() == 0 {
		return PasswordClaim{}, fmt.Errorf("srp: server public key B mod N is zero")
	}
	salt, ok := new(big.Int).SetString(ch.SaltHex, 16)
	if !ok {
		return PasswordClaim{}, fmt.Errorf("srp: malformed salt value")
	}
	secret, err := base64.StdEncoding.DecodeString(ch.SecretBlock)
	if err != nil {
		return PasswordClaim{}, fmt.Errorf("srp: malformed secret block: %w", err)
	}

	key, err := c.passwordAuthenticationKey(ch.UserID, password, serverB, salt)
	if err != nil {
		return PasswordClaim{}, err
	}

	timestamp := now.UTC().Format(timestampLayout)

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(c.poolName))
	mac.Write([]byte(ch.UserID))
	mac.Write(secret)
	mac.Write([]byte(timestamp))

	return PasswordClaim{
		Signature: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		Timestamp: timestamp,
	}, nil
}

// passwordAuthenticationKey derives the 16-byte HKDF key shared with the
// server: u from both public values, x from the salted credentials, then
// S = (B - k*g^x)^(a + u*x) mod N.
func (c *Client) passwordAuthenticationKey(userID, password string, serverB, salt *big.Int) ([]byte, error) {
	u, err := hashHexToInt(padHex(c.bigA) + padHex(serverB))
	if err != nil {
		return nil, err
	}
	if u.Sign() == 0 {
		return nil, fmt.Errorf("srp: scrambling parameter U is zero")
	}

	credentials := sha256.Sum256([]byte(c.poolName + userID + ":" + password))
	x, err := hashHexToInt(padHex(salt) + hex.EncodeToString(credentials[:]))
	if err != nil {
		return nil, err
	}

	gx := new(big.Int).Exp(groupG, x, groupN)
	base := new(big.Int).Sub(serverB, new(big.Int).Mul(multK, gx))
	base.Mod(base, groupN)

	exponent := new(big.Int).Add(c.a, new(big.Int).Mul(u, x))
	s := new(big.Int).Exp(base, exponent, groupN)

	return deriveKey(s, u)
}

// deriveKey runs the truncated HKDF expansion over the shared secret.
func deriveKey(s, u *big.Int) ([]byte, error) {
	ikm, err := hex.DecodeString(padHex(s))
	if err != nil {
		return nil, fmt.Errorf("srp: encoding shared secret: %w", err)
	}
	prkSalt, err := hex.DecodeString(padHex(u))
	if err != nil {
		return nil, fmt.Errorf("srp: encoding scrambling parameter: %w", err)
	}

	extract := hmac.New(sha256.New, prkSalt)
	extract.Write(ikm)
	prk := extract.Sum(nil)

	expand := hmac.New(sha256.New, prk)
	expand.Write([]byte(derivedKeyInfo))
	expand.Write([]byte{0x01})

	return expand.Sum(nil)[:16], nil
}

// padHex encodes a non-negative big integer as hex with the padding rules the
// remote service applies before hashing: odd-length strings get a leading
// zero, and strings whose top nibble is 8 or above get a leading zero byte so
// the value cannot be misread as negative.
func padHex(i *big.Int) string {
	h := i.Text(16)
	if len(h)%2 == 1 {
		return "0" + h
	}
	if strings.ContainsRune("89abcdefABCDEF", rune(h[0])) {
		return "00" + h
	}
	return h
}

// hashHex hashes the bytes encoded by a hex string and returns the digest as
// hex.
func hashHex(hexStr string) (string, error) {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", fmt.Errorf("srp: invalid hex input to hash: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// hashHexToInt hashes hex-encoded bytes and interprets the digest as a
// positive big integer.
func hashHexToInt(hexStr string) (*big.Int, error) {
	digest, err := hashHex(hexStr)
	if err != nil {
		return nil, err
	}
	i, ok := new(big.Int).SetString(digest, 16)
	if !ok {
		return nil, fmt.Errorf("srp: digest is not valid hex")
	}
	return i, nil
}
