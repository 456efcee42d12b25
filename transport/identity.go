// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base32"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	privateKeyFile = "hwlink-identity-key"
	publicKeyFile  = "hwlink-identity-key.pub"
)

// identityEncoding renders public keys as identities: lowercase
// base32 without padding, safe in host-like strings.
var identityEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Identity returns the identity string of an Ed25519 public key.
func Identity(public ed25519.PublicKey) string {
	return strings.ToLower(identityEncoding.EncodeToString(public))
}

// ParseIdentity decodes an identity string back to a public key.
func ParseIdentity(identity string) (ed25519.PublicKey, error) {
	raw, err := identityEncoding.DecodeString(strings.ToUpper(identity))
	if err != nil {
		return nil, fmt.Errorf("decoding identity %q: %w", identity, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("identity %q decodes to %d bytes, want %d", identity, len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// LoadOrGenerateKey loads the Ed25519 identity key from keyDir, or
// generates and saves one if the directory holds none. Returns the key
// and whether it was newly generated. The private key file is written
// with 0600 permissions.
func LoadOrGenerateKey(keyDir string) (ed25519.PrivateKey, bool, error) {
	privatePath := filepath.Join(keyDir, privateKeyFile)
	privateBytes, err := os.ReadFile(privatePath)
	if err == nil {
		if len(privateBytes) != ed25519.PrivateKeySize {
			return nil, false, fmt.Errorf("%s has %d bytes, want %d", privatePath, len(privateBytes), ed25519.PrivateKeySize)
		}
		return ed25519.PrivateKey(privateBytes), false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, fmt.Errorf("reading identity key: %w", err)
	}

	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, false, fmt.Errorf("generating Ed25519 key: %w", err)
	}
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, false, fmt.Errorf("creating key directory: %w", err)
	}
	if err := os.WriteFile(privatePath, private, 0600); err != nil {
		return nil, false, fmt.Errorf("writing identity key: %w", err)
	}
	publicPath := filepath.Join(keyDir, publicKeyFile)
	if err := os.WriteFile(publicPath, []byte(Identity(public)+"\n"), 0644); err != nil {
		return nil, false, fmt.Errorf("writing identity: %w", err)
	}
	return private, true, nil
}

// selfSignedCertificate builds a TLS certificate for key. Peers never
// check it against a CA; they compare its public key with the
// identity they expect.
func selfSignedCertificate(key ed25519.PrivateKey) (tls.Certificate, error) {
	public := key.Public().(ed25519.PublicKey)
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: Identity(public)},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(180 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, public, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("creating certificate: %w", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}

// peerIdentity derives the identity from the leaf certificate a peer
// presented.
func peerIdentity(rawCerts [][]byte) (string, error) {
	if len(rawCerts) == 0 {
		return "", errors.New("peer presented no certificate")
	}
	certificate, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return "", fmt.Errorf("parsing peer certificate: %w", err)
	}
	public, ok := certificate.PublicKey.(ed25519.PublicKey)
	if !ok {
		return "", fmt.Errorf("peer certificate key is %T, want Ed25519", certificate.PublicKey)
	}
	now := time.Now()
	if now.Before(certificate.NotBefore) || now.After(certificate.NotAfter) {
		return "", errors.New("peer certificate is outside its validity period")
	}
	return Identity(public), nil
}
