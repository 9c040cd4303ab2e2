package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"wallet-custody/internal/cryptography"
	"wallet-custody/models"
	"wallet-custody/observability"
)

const kmsService = "kms"

// KeyPair is a custodial secp256k1 keypair held by the KMS
type KeyPair struct {
	PrivateKey string `json:"privateKey"`
	PublicKey  string `json:"publicKey"`
}

// KMSKeyPair is the decrypted payload of a key-pair response
type KMSKeyPair struct {
	KeyPair    KeyPair `json:"keyPair"`
	KeyName    string  `json:"keyName"`
	KeyVersion int     `json:"keyVersion"`
}

type kmsRandomBytesResponse struct {
	Plaintext string `json:"plaintext"`
}

// KMSClient talks to the custodial key service. Key material is never sent in
// the clear: every key-pair response is sealed to a per-call ephemeral key.
type KMSClient struct {
	baseURL     string
	bearerToken string
	keyName     string
	httpClient  *http.Client
	retry       RetryConfig
}

// NewKMSClient creates a new KMSClient instance
func NewKMSClient(baseURL, bearerToken, keyName string, timeout time.Duration) *KMSClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &KMSClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		bearerToken: bearerToken,
		keyName:     keyName,
		httpClient:  &http.Client{Timeout: timeout},
		retry:       DefaultRetryConfig,
	}
}

// GetKeyPair returns the latest keypair for userID, or nil when the KMS has none
func (c *KMSClient) GetKeyPair(ctx context.Context, userID string) (*KMSKeyPair, error) {
	return c.fetchKeyPair(ctx, "get_key_pair", "/key-pair/"+url.PathEscape(userID), url.Values{})
}

// GetOrCreateKeyPair returns the user's keypair, creating it under the configured key name
func (c *KMSClient) GetOrCreateKeyPair(ctx context.Context, userID string) (*KMSKeyPair, error) {
	params := url.Values{}
	params.Set("keyName", c.keyName)
	return c.fetchKeyPair(ctx, "get_or_create_key_pair", "/key-pair/"+url.PathEscape(userID)+"/get-or-create", params)
}

func (c *KMSClient) fetchKeyPair(ctx context.Context, operation, path string, params url.Values) (*KMSKeyPair, error) {
	ephemeral, err := cryptography.NewIdentity()
	if err != nil {
		return nil, err
	}
	params.Set("keyVersion", "latest")
	params.Set("encryptionPubKey", ephemeral.PublicKey)

	return WithCircuitBreaker(ctx, BreakerKMS, func() (*KMSKeyPair, error) {
		var envelope *models.SeedEnvelope

		err := WithRetry(ctx, c.retry, func() error {
			envelope = nil
			body, status, err := c.get(ctx, operation, path+"?"+params.Encode())
			if err != nil {
				return err
			}
			if status == http.StatusNotFound {
				return nil
			}

			var env models.SeedEnvelope
			if err := json.Unmarshal(body, &env); err != nil {
				return Permanent(fmt.Errorf("failed to decode key-pair envelope: %w", err))
			}
			envelope = &env
			return nil
		})
		if err != nil {
			return nil, err
		}
		if envelope == nil {
			return nil, nil
		}

		plaintext, err := cryptography.Decrypt(ephemeral.PrivateKey, envelope)
		if err != nil {
			return nil, fmt.Errorf("failed to open key-pair envelope: %w", err)
		}

		var kp KMSKeyPair
		if err := json.Unmarshal(plaintext, &kp); err != nil {
			return nil, fmt.Errorf("failed to decode key pair: %w", err)
		}
		if kp.KeyPair.PrivateKey == "" {
			return nil, errors.New("kms returned an empty private key")
		}
		return &kp, nil
	})
}

// RandomBytes draws n bytes from the KMS hardware source
func (c *KMSClient) RandomBytes(ctx context.Context, n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid random byte count %d", n)
	}

	return WithCircuitBreaker(ctx, BreakerKMS, func() ([]byte, error) {
		var out []byte

		err := WithRetry(ctx, c.retry, func() error {
			body, status, err := c.get(ctx, "random_bytes", "/random-bytes?size="+strconv.Itoa(n))
			if err != nil {
				return err
			}
			if status == http.StatusNotFound {
				return Permanent(errors.New("kms random-bytes endpoint not found"))
			}

			var resp kmsRandomBytesResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return Permanent(fmt.Errorf("failed to decode random bytes: %w", err))
			}
			out, err = parseByteList(resp.Plaintext)
			if err != nil {
				return Permanent(err)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if len(out) != n {
			return nil, fmt.Errorf("kms returned %d random bytes, want %d", len(out), n)
		}
		return out, nil
	})
}

// get performs an authenticated GET. 404 is returned as a status, other
// non-2xx responses as errors; 4xx errors are permanent and wrap
// ErrUpstreamRejected so they leave the breaker closed.
func (c *KMSClient) get(ctx context.Context, operation, pathAndQuery string) ([]byte, int, error) {
	metrics := observability.GetMetrics()
	metrics.RecordExternalAPIRequest(kmsService, operation)
	defer metrics.NewTimer().ObserveExternalAPI(kmsService, operation)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathAndQuery, nil)
	if err != nil {
		return nil, 0, Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordExternalAPIError(kmsService, operation, "network")
		return nil, 0, fmt.Errorf("kms request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		metrics.RecordExternalAPIError(kmsService, operation, "read")
		return nil, 0, fmt.Errorf("failed to read kms response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, resp.StatusCode, nil
	case resp.StatusCode >= 500:
		metrics.RecordExternalAPIError(kmsService, operation, "server")
		return nil, resp.StatusCode, fmt.Errorf("kms returned status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		metrics.RecordExternalAPIError(kmsService, operation, "client")
		return nil, resp.StatusCode, Permanent(fmt.Errorf("%w: kms returned status %d", ErrUpstreamRejected, resp.StatusCode))
	}

	return body, resp.StatusCode, nil
}

// parseByteList decodes "12,0,255" into bytes
func parseByteList(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty byte list")
	}

	parts := strings.Split(s, ",")
	out := make([]byte, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid byte %q at index %d", p, i)
		}
		out[i] = byte(v)
	}
	return out, nil
}
