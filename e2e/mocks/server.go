// Package mocks provides an HTTP mock of the key management service used in E2E tests.
package mocks

import (
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"wallet-custody/internal/cryptography"
)

// MockServer serves the KMS key-pair and random-bytes endpoints from memory.
type MockServer struct {
	mu     sync.RWMutex
	server *httptest.Server

	keyPairs    map[string]KeyPairPayload
	bearerToken string
	randomBytes []byte

	// Error injection
	keyPairError error
	randomError  error

	// Request tracking for assertions
	requestLog []RequestLog
}

// RequestLog records incoming requests for test assertions.
type RequestLog struct {
	Method string
	Path   string
	Query  string
}

// NewMockServer creates a new mock KMS that accepts bearerToken.
func NewMockServer(bearerToken string) *MockServer {
	m := &MockServer{
		keyPairs:    make(map[string]KeyPairPayload),
		bearerToken: bearerToken,
		requestLog:  make([]RequestLog, 0),
	}
	m.server = httptest.NewServer(m)
	return m
}

// URL returns the mock server's base URL.
func (m *MockServer) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockServer) Close() {
	m.server.Close()
}

// ServeHTTP routes /key-pair/{id}, /key-pair/{id}/get-or-create and /random-bytes.
func (m *MockServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requestLog = append(m.requestLog, RequestLog{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
	})
	m.mu.Unlock()

	if m.bearerToken != "" && r.Header.Get("Authorization") != "Bearer "+m.bearerToken {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{StatusCode: http.StatusUnauthorized, Message: "invalid bearer token"})
		return
	}

	path := r.URL.Path
	switch {
	case path == "/random-bytes":
		m.handleRandomBytes(w, r)
	case strings.HasPrefix(path, "/key-pair/") && strings.HasSuffix(path, "/get-or-create"):
		userID := strings.TrimSuffix(strings.TrimPrefix(path, "/key-pair/"), "/get-or-create")
		m.handleKeyPair(w, r, userID, true)
	case strings.HasPrefix(path, "/key-pair/"):
		m.handleKeyPair(w, r, strings.TrimPrefix(path, "/key-pair/"), false)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// GetRequestLog returns all logged requests for assertions.
func (m *MockServer) GetRequestLog() []RequestLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RequestLog{}, m.requestLog...)
}

// ClearRequestLog clears the request log.
func (m *MockServer) ClearRequestLog() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestLog = make([]RequestLog, 0)
}

// KeyPairFor returns the stored keypair for userID.
func (m *MockServer) KeyPairFor(userID string) (KeyPairPayload, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kp, ok := m.keyPairs[userID]
	return kp, ok
}

// SetKeyPairError configures the key-pair endpoints to fail.
func (m *MockServer) SetKeyPairError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keyPairError = err
}

// SetRandomBytes pins the random-bytes response. nil restores crypto/rand.
func (m *MockServer) SetRandomBytes(b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.randomBytes = b
}

// SetRandomError configures the random-bytes endpoint to fail.
func (m *MockServer) SetRandomError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.randomError = err
}

func (m *MockServer) handleKeyPair(w http.ResponseWriter, r *http.Request, userID string, create bool) {
	m.mu.RLock()
	err := m.keyPairError
	m.mu.RUnlock()

	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{StatusCode: http.StatusInternalServerError, Message: err.Error()})
		return
	}

	recipient := r.URL.Query().Get("encryptionPubKey")
	if userID == "" || recipient == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{StatusCode: http.StatusBadRequest, Message: "userId and encryptionPubKey are required"})
		return
	}

	m.mu.Lock()
	kp, ok := m.keyPairs[userID]
	if !ok && create {
		id, err := cryptography.NewIdentity()
		if err != nil {
			m.mu.Unlock()
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{StatusCode: http.StatusInternalServerError, Message: err.Error()})
			return
		}
		keyName := r.URL.Query().Get("keyName")
		kp = KeyPairPayload{
			KeyPair:    KeyPair{PrivateKey: id.PrivateKey, PublicKey: id.PublicKey},
			KeyName:    keyName,
			KeyVersion: 1,
		}
		m.keyPairs[userID] = kp
		ok = true
	}
	m.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{StatusCode: http.StatusNotFound, Message: "key pair not found"})
		return
	}

	plaintext, err := json.Marshal(kp)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{StatusCode: http.StatusInternalServerError, Message: err.Error()})
		return
	}
	envelope, err := cryptography.Encrypt(recipient, plaintext)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{StatusCode: http.StatusBadRequest, Message: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, envelope)
}

func (m *MockServer) handleRandomBytes(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	err := m.randomError
	fixed := m.randomBytes
	m.mu.RUnlock()

	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{StatusCode: http.StatusInternalServerError, Message: err.Error()})
		return
	}

	size, convErr := strconv.Atoi(r.URL.Query().Get("size"))
	if convErr != nil || size <= 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{StatusCode: http.StatusBadRequest, Message: "size must be a positive integer"})
		return
	}

	b := make([]byte, size)
	if len(fixed) > 0 {
		for i := range b {
			b[i] = fixed[i%len(fixed)]
		}
	} else if _, err := rand.Read(b); err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{StatusCode: http.StatusInternalServerError, Message: err.Error()})
		return
	}

	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = strconv.Itoa(int(v))
	}
	writeJSON(w, http.StatusOK, RandomBytesResponse{Plaintext: strings.Join(parts, ",")})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
