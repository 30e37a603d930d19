// Package security implements the Security Validator and Trust Store:
// a stateless-per-call pipeline that gates plugin admission by file
// integrity, metadata, signature, and permission checks, staged by
// SecurityLevel.
//
// Grounded on original_source/lib/src/security/security_manager.cpp's
// validate_plugin staging (each level runs all lower-level checks plus its
// own); the Go rewrite replaces Qt's QFileInfo/QCryptographicHash with
// os.Stat and golang.org/x/crypto, and the missing "default permissive
// stub" signature verifier of spec.md §9's open question with a named,
// swappable SignatureVerifier interface.
package security

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/lynxforge/pluginrt/plugins"
)

// Level is the ordered security level: None < Basic < Standard < Strict <
// Maximum, per spec.md §4.3.
type Level int

const (
	LevelNone Level = iota
	LevelBasic
	LevelStandard
	LevelStrict
	LevelMaximum
)

var levelNames = map[Level]string{
	LevelNone:     "None",
	LevelBasic:    "Basic",
	LevelStandard: "Standard",
	LevelStrict:   "Strict",
	LevelMaximum:  "Maximum",
}

func (l Level) String() string {
	if n, ok := levelNames[l]; ok {
		return n
	}
	return "None"
}

// ParseLevel converts a trust-store JSON level string to a Level; unknown
// values default to Basic, per spec.md §6's trust store JSON rule.
func ParseLevel(s string) Level {
	for l, n := range levelNames {
		if strings.EqualFold(n, s) {
			return l
		}
	}
	return LevelBasic
}

const maxFileSize = 100 * 1024 * 1024 // 100 MiB, spec.md §4.3 Basic check

// Result is the outcome of one Validate call, matching spec.md §4.3's
// {is_valid, validated_level, errors[], warnings[]}.
type Result struct {
	IsValid        bool
	ValidatedLevel Level
	Errors         []string
	Warnings       []string
}

func (r *Result) fail(msg string) *Result {
	r.Errors = append(r.Errors, msg)
	r.IsValid = false
	return r
}

func (r *Result) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// SignatureVerifier verifies a plugin file's digital signature against the
// trust store. spec.md §9 leaves the cryptographic algorithm as policy;
// PermissiveStub, a logging no-op, is the default New installs, and
// JWTVerifier is a concrete implementation a host can configure instead.
type SignatureVerifier interface {
	Verify(path string, pluginID string, store *TrustStore) error
}

// Config holds the validator's instance-lived state: current level,
// whether signature verification is enabled, the trust store, the set of
// extensions the loader accepts, and the host-imposed allowed-capability
// set used at Strict.
type Config struct {
	Level                Level
	SignatureVerification bool
	Store                *TrustStore
	Verifier             SignatureVerifier
	AllowedExtensions    []string
	AllowedCapabilities  []plugins.Capability
	Logf                 func(format string, args ...any)
}

// Validator runs the staged pipeline. Stateless per call: all configuration
// lives on the Validator value itself, never accumulated across calls.
type Validator struct {
	cfg Config
}

// New constructs a Validator. A nil Logf is replaced with a no-op.
func New(cfg Config) *Validator {
	if cfg.Verifier == nil {
		cfg.Verifier = PermissiveStub{Logf: cfg.Logf}
	}
	if cfg.Logf == nil {
		cfg.Logf = func(string, ...any) {}
	}
	return &Validator{cfg: cfg}
}

// Validate runs the pipeline for path up to required (or the validator's
// configured level if required is LevelNone), returning the highest level
// whose checks all passed.
func (v *Validator) Validate(path string, pluginID string, meta *plugins.Metadata, required Level) *Result {
	if required == LevelNone {
		required = v.cfg.Level
	}

	res := &Result{IsValid: true, ValidatedLevel: LevelNone}

	// Basic: always performed.
	if err := v.validateBasic(path); err != nil {
		return res.fail(err.Error())
	}
	res.ValidatedLevel = LevelBasic
	if required < LevelStandard {
		return res
	}

	// Standard: metadata presence/schema.
	if err := v.validateMetadata(meta); err != nil {
		return res.fail(err.Error())
	}

	// Standard: signature, if enabled.
	if v.cfg.SignatureVerification {
		if err := v.cfg.Verifier.Verify(path, pluginID, v.cfg.Store); err != nil {
			return res.fail(plugins.Newf(plugins.SecurityViolation, "signature verification failed: %v", err).Error())
		}
	}
	res.ValidatedLevel = LevelStandard
	if required < LevelStrict {
		return v.promoteIfMaximum(res, required)
	}

	// Strict: permission check — declared capabilities within allowed set.
	if err := v.validatePermissions(meta); err != nil {
		return res.fail(err.Error())
	}
	res.ValidatedLevel = LevelStrict

	return v.promoteIfMaximum(res, required)
}

// promoteIfMaximum applies Maximum's "any warning promoted to error" rule.
func (v *Validator) promoteIfMaximum(res *Result, required Level) *Result {
	if required < LevelMaximum {
		return res
	}
	if len(res.Warnings) > 0 {
		msgs := res.Warnings
		res.Warnings = nil
		for _, w := range msgs {
			res.fail(w)
		}
		return res
	}
	res.ValidatedLevel = LevelMaximum
	return res
}

func (v *Validator) validateBasic(path string) error {
	if strings.Contains(path, "..") {
		return plugins.Newf(plugins.SecurityViolation, "path traversal token in %q", path)
	}
	if strings.ContainsAny(path, "\x00") {
		return plugins.New(plugins.SecurityViolation, "forbidden character in path")
	}

	ext := strings.ToLower(filepath.Ext(path))
	if len(v.cfg.AllowedExtensions) > 0 && !containsExt(v.cfg.AllowedExtensions, ext) {
		return plugins.Newf(plugins.InvalidFormat, "invalid file extension %q", ext)
	}

	info, err := os.Stat(path)
	if err != nil {
		return plugins.Newf(plugins.FileNotFound, "cannot stat %q: %v", path, err)
	}
	if !info.Mode().IsRegular() {
		return plugins.Newf(plugins.FileSystemError, "%q is not a regular file", path)
	}
	if info.Size() == 0 {
		return plugins.Newf(plugins.InvalidFormat, "%q is empty", path)
	}
	if info.Size() > maxFileSize {
		return plugins.Newf(plugins.InvalidFormat, "%q exceeds maximum size", path)
	}
	return nil
}

func containsExt(allowed []string, ext string) bool {
	for _, a := range allowed {
		if strings.EqualFold(a, ext) {
			return true
		}
	}
	return false
}

func (v *Validator) validateMetadata(meta *plugins.Metadata) error {
	if meta == nil {
		return plugins.New(plugins.InvalidFormat, "metadata is missing")
	}
	return meta.Validate()
}

func (v *Validator) validatePermissions(meta *plugins.Metadata) error {
	if len(v.cfg.AllowedCapabilities) == 0 {
		return nil
	}
	allowed := make(map[plugins.Capability]bool, len(v.cfg.AllowedCapabilities))
	for _, c := range v.cfg.AllowedCapabilities {
		allowed[c] = true
	}
	for _, c := range meta.Capabilities {
		if !allowed[c] {
			return plugins.Newf(plugins.SecurityViolation, "capability %q exceeds host-allowed set", c)
		}
	}
	return nil
}
