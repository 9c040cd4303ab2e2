package mocks

// KeyPair is the plaintext keypair the KMS seals into a response envelope.
type KeyPair struct {
	PrivateKey string `json:"privateKey"`
	PublicKey  string `json:"publicKey"`
}

// KeyPairPayload is the decrypted body of a key-pair response.
type KeyPairPayload struct {
	KeyPair    KeyPair `json:"keyPair"`
	KeyName    string  `json:"keyName"`
	KeyVersion int     `json:"keyVersion"`
}

// RandomBytesResponse mirrors the KMS random-bytes endpoint.
type RandomBytesResponse struct {
	Plaintext string `json:"plaintext"`
}

// ErrorResponse is returned by the mock for injected failures.
type ErrorResponse struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}
