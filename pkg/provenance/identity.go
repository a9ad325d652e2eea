package provenance

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
)

const AlgEd25519 = "Ed25519"

// Identity is the process-wide signing keypair. It is built once at startup
// and shared read-only by every signing operation.
type Identity struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// GenerateIdentity creates a fresh keypair (development and tests).
func GenerateIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &Identity{private: priv, public: pub}, nil
}

// LoadIdentity reads the private key (PKCS#8 PEM or OpenSSH) and, when
// publicPath is set, a public key (PKIX PEM or authorized_keys line) that must
// belong to it.
func LoadIdentity(privatePath, publicPath string) (*Identity, error) {
	privPEM, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}

	var pubData []byte
	if publicPath != "" {
		pubData, err = os.ReadFile(publicPath)
		if err != nil {
			return nil, fmt.Errorf("read public key: %w", err)
		}
	}
	return ParseIdentity(privPEM, pubData)
}

// ParseIdentity is LoadIdentity on in-memory key material.
func ParseIdentity(privateKey, publicKey []byte) (*Identity, error) {
	raw, err := ssh.ParseRawPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	var priv ed25519.PrivateKey
	switch k := raw.(type) {
	case ed25519.PrivateKey:
		priv = k
	case *ed25519.PrivateKey:
		priv = *k
	default:
		return nil, fmt.Errorf("private key is %T, want ed25519", raw)
	}

	id := &Identity{private: priv, public: priv.Public().(ed25519.PublicKey)}
	if len(publicKey) == 0 {
		return id, nil
	}

	pub, err := parsePublicKey(publicKey)
	if err != nil {
		return nil, err
	}
	if !pub.Equal(id.public) {
		return nil, errors.New("public key does not match private key")
	}
	return id, nil
}

func parsePublicKey(data []byte) (ed25519.PublicKey, error) {
	if block, _ := pem.Decode(data); block != nil {
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse public key: %w", err)
		}
		pub, ok := key.(ed25519.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is %T, want ed25519", key)
		}
		return pub, nil
	}

	key, _, _, _, err := ssh.ParseAuthorizedKey(bytes.TrimSpace(data))
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	cryptoKey, ok := key.(ssh.CryptoPublicKey)
	if !ok {
		return nil, fmt.Errorf("unsupported ssh key type %s", key.Type())
	}
	pub, ok := cryptoKey.CryptoPublicKey().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("ssh key type %s is not ed25519", key.Type())
	}
	return pub, nil
}

// PublicKey returns a copy of the public half.
func (id *Identity) PublicKey() ed25519.PublicKey {
	return append(ed25519.PublicKey(nil), id.public...)
}

// CallbackSigner binds the identity to a signing callback. The private key
// never leaves the closure.
func (id *Identity) CallbackSigner() *CallbackSigner {
	priv := id.private
	return NewCallbackSigner(func(data []byte) ([]byte, error) {
		return ed25519.Sign(priv, data), nil
	}, AlgEd25519, id.PublicKey())
}

// SignFunc produces a raw signature over data.
type SignFunc func(data []byte) ([]byte, error)

// CallbackSigner signs through a caller-provided callback and carries the
// public key that is embedded into the credential.
type CallbackSigner struct {
	sign      SignFunc
	alg       string
	publicKey []byte
}

func NewCallbackSigner(sign SignFunc, alg string, publicKey []byte) *CallbackSigner {
	return &CallbackSigner{sign: sign, alg: alg, publicKey: publicKey}
}

func (c *CallbackSigner) Sign(data []byte) ([]byte, error) {
	return c.sign(data)
}

func (c *CallbackSigner) Alg() string {
	return c.alg
}

func (c *CallbackSigner) PublicKey() []byte {
	return c.publicKey
}
