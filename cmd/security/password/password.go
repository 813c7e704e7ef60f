package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// The only encoding revision this package emits or accepts.
const argon2Version = 19 // argon2.Version (0x13)

var b64 = base64.RawStdEncoding

// Hash derives an argon2id hash for a login credential and returns it in
// the standard encoded form:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
//
// The parameters are baked into the string, so a later cost change leaves
// stored hashes verifiable.
func (c Config) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}

	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	key := argon2.IDKey(
		[]byte(password),
		salt,
		c.Params.Iterations,
		c.Params.MemoryKiB,
		c.Params.Parallelism,
		c.Params.KeyLength,
	)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version,
		c.Params.MemoryKiB,
		c.Params.Iterations,
		c.Params.Parallelism,
		b64.EncodeToString(salt),
		b64.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encodedHash.
// (true, nil) on a match, (false, nil) on a mismatch, and
// (false, ErrInvalidHash) when the hash is malformed or carries parameters
// this configuration refuses to run.
func (c Config) Verify(encodedHash, password string) (bool, error) {
	params, salt, expected, err := parseEncoded(encodedHash)
	if err != nil {
		return false, err
	}

	// A stored hash string chooses its own cost. Cap it relative to the
	// configured parameters so a hostile row cannot make verification
	// arbitrarily expensive.
	if !costAcceptable(params, c.Params) {
		return false, ErrInvalidHash
	}

	key := argon2.IDKey(
		[]byte(password),
		salt,
		params.Iterations,
		params.MemoryKiB,
		params.Parallelism,
		uint32(len(expected)), // #nosec G115 -- length bounded by costAcceptable.
	)

	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}

// costAcceptable allows hashes minted under older, cheaper settings while
// rejecting anything far above the configured cost.
func costAcceptable(got Argon2idParams, limits Argon2idParams) bool {
	switch {
	case got.MemoryKiB > limits.MemoryKiB*2:
		return false
	case got.Iterations > limits.Iterations*2:
		return false
	case got.Parallelism > limits.Parallelism*2:
		return false
	case got.SaltLength < 8 || got.SaltLength > 64:
		return false
	case got.KeyLength < 16 || got.KeyLength > 128:
		return false
	}
	return true
}

// parseEncoded splits an encoded hash into its parameters, salt, and
// derived key. Anything that is not exactly the argon2id v19 shape is
// ErrInvalidHash; no partial results escape.
func parseEncoded(encoded string) (Argon2idParams, []byte, []byte, error) {
	fail := func() (Argon2idParams, []byte, []byte, error) {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return fail()
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2Version) {
		return fail()
	}

	var mem, it, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return fail()
	}
	if mem == 0 || it == 0 || par == 0 || par > 255 {
		return fail()
	}

	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return fail()
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil {
		return fail()
	}

	params := Argon2idParams{
		MemoryKiB:   mem,
		Iterations:  it,
		Parallelism: uint8(par),
		SaltLength:  uint32(len(salt)), // #nosec G115 -- length bounded by costAcceptable.
		KeyLength:   uint32(len(key)),  // #nosec G115 -- length bounded by costAcceptable.
	}
	return params, salt, key, nil
}
