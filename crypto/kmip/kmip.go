// Package kmip is an optional super-block key-wrap backend: instead of
// deriving the repository's storage key solely from Argon2id(password)
// (spec.md §4.1), the storage key can be wrapped/unwrapped by an external
// KMIP server via github.com/ovh/kmip-go, the same shape as the teacher's
// internal/crypto.KeyManager abstraction over a Cosmian KMIP server.
package kmip

import (
	"context"
	"crypto/tls"

	"github.com/ovh/kmip-go"
	"github.com/ovh/kmip-go/kmipclient"

	sealedfs "github.com/kenneth/sealedfs"
)

// KeyManager mirrors the teacher's internal/crypto.KeyManager contract:
// wrap/unwrap a plaintext key through an external KMS, never exposing
// the wrapping key itself to this process.
type KeyManager interface {
	Provider() string
	WrapKey(ctx context.Context, plaintext []byte) (ciphertext []byte, err error)
	UnwrapKey(ctx context.Context, ciphertext []byte) (plaintext []byte, err error)
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// Config names the KMIP server and the pre-provisioned symmetric key
// that wraps the repository's storage key.
type Config struct {
	Address   string // host:port of the KMIP server
	TLSConfig *tls.Config
	KeyID     string // unique identifier of the wrapping key, provisioned out of band
}

// Client is the KeyManager backed by a live KMIP connection.
type Client struct {
	cfg Config
	cl  kmipclient.Client
}

// Dial connects to a KMIP server and returns a ready KeyManager.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.KeyID == "" {
		return nil, sealedfs.New(sealedfs.KindInvalidArgument, "kmip.Dial")
	}
	cl, err := kmipclient.Dial(cfg.Address, kmipclient.WithTlsConfig(cfg.TLSConfig))
	if err != nil {
		return nil, sealedfs.Wrap(sealedfs.KindIO, "kmip.Dial", err)
	}
	return &Client{cfg: cfg, cl: cl}, nil
}

func (c *Client) Provider() string { return "kmip" }

// WrapKey asks the KMIP server to encrypt plaintext (the repository's
// storage key) under the provisioned wrapping key, using the KMIP
// Encrypt operation.
func (c *Client) WrapKey(ctx context.Context, plaintext []byte) ([]byte, error) {
	resp, err := c.cl.Encrypt(ctx, c.cfg.KeyID).
		WithData(plaintext).
		WithCryptographicParameters(kmip.CryptographicParameters{
			CryptographicAlgorithm: kmip.CryptoAlgoAES,
			BlockCipherMode:        kmip.BlockCipherModeGCM,
		}).
		ExecContext(ctx)
	if err != nil {
		return nil, sealedfs.Wrap(sealedfs.KindIO, "kmip.WrapKey", err)
	}
	return resp.Data, nil
}

// UnwrapKey reverses WrapKey via the KMIP Decrypt operation.
func (c *Client) UnwrapKey(ctx context.Context, ciphertext []byte) ([]byte, error) {
	resp, err := c.cl.Decrypt(ctx, c.cfg.KeyID).
		WithData(ciphertext).
		WithCryptographicParameters(kmip.CryptographicParameters{
			CryptographicAlgorithm: kmip.CryptoAlgoAES,
			BlockCipherMode:        kmip.BlockCipherModeGCM,
		}).
		ExecContext(ctx)
	if err != nil {
		return nil, sealedfs.Wrap(sealedfs.KindIO, "kmip.UnwrapKey", err)
	}
	return resp.Data, nil
}

// HealthCheck issues a lightweight KMIP Query operation to confirm the
// server is reachable, mirroring the teacher's KeyManager.HealthCheck.
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.cl.Query(ctx).ExecContext(ctx); err != nil {
		return sealedfs.Wrap(sealedfs.KindIO, "kmip.HealthCheck", err)
	}
	return nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.cl.Close()
}
