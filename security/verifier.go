package security

import (
	"encoding/hex"
	"io"
	"os"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lynxforge/pluginrt/plugins"
	"golang.org/x/crypto/blake2b"
)

// PermissiveStub is the default signature verifier spec.md §9 calls for: it
// always succeeds but logs a warning, so that hosts which have not wired a
// real verifier are not silently unprotected in their logs.
type PermissiveStub struct {
	Logf func(format string, args ...any)
}

func (p PermissiveStub) Verify(path string, pluginID string, store *TrustStore) error {
	if p.Logf != nil {
		p.Logf("signature verification is a permissive stub for plugin %s at %s; no cryptographic check was performed", pluginID, path)
	}
	return nil
}

// JWTVerifier is a concrete, swappable SignatureVerifier a host can set in
// Config.Verifier (New installs PermissiveStub when none is set): it
// expects a detached manifest signature file at path+".sig" containing a
// JWT whose claims include the file's hex BLAKE2b-256 digest and the
// plugin id, signed with an HMAC key the trust store
// associates with pluginID out-of-band (callers populate Keys directly;
// the trust store itself only records approval level, not keys).
type JWTVerifier struct {
	Keys map[string][]byte // pluginID -> HMAC key
}

type manifestClaims struct {
	jwt.RegisteredClaims
	Digest   string `json:"digest"`
	PluginID string `json:"plugin_id"`
}

func (v JWTVerifier) Verify(path string, pluginID string, store *TrustStore) error {
	key, ok := v.Keys[pluginID]
	if !ok {
		return plugins.Newf(plugins.SecurityViolation, "no signing key registered for plugin %s", pluginID)
	}

	sigPath := path + ".sig"
	tokenBytes, err := os.ReadFile(sigPath)
	if err != nil {
		return plugins.Newf(plugins.SecurityViolation, "missing signature file %s: %v", sigPath, err)
	}

	digest, err := fileDigest(path)
	if err != nil {
		return plugins.Newf(plugins.SecurityViolation, "cannot digest %s: %v", path, err)
	}

	claims := &manifestClaims{}
	token, err := jwt.ParseWithClaims(string(tokenBytes), claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, plugins.Newf(plugins.SecurityViolation, "unexpected signing method %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil || !token.Valid {
		return plugins.Newf(plugins.SecurityViolation, "invalid signature: %v", err)
	}
	if claims.Digest != digest {
		return plugins.New(plugins.SecurityViolation, "signed digest does not match file contents")
	}
	if claims.PluginID != pluginID {
		return plugins.New(plugins.SecurityViolation, "signature was issued for a different plugin id")
	}
	return nil
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
