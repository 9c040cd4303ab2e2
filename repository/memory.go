package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"wallet-custody/models"
)

// MemoryStore is an in-process RepositoryInterface used by tests and local
// runs without Postgres. One mutex serializes every operation, which gives the
// conditional updates the same all-or-nothing behavior as the SQL versions.
type MemoryStore struct {
	mu sync.Mutex

	apiKeys        map[string]models.APIKey
	users          map[uuid.UUID]models.User
	authPublicKeys []models.AuthPublicKey
	authTokens     map[string]models.AuthToken
	challenges     map[string]models.Challenge
	wallets        map[uuid.UUID]models.Wallet
	accounts       map[string]models.Account
	assets         map[string]models.MultisigAsset
	transactions   map[uuid.UUID]models.Transaction
	participants   map[uuid.UUID]models.MultisigParticipant
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		apiKeys:      make(map[string]models.APIKey),
		users:        make(map[uuid.UUID]models.User),
		authTokens:   make(map[string]models.AuthToken),
		challenges:   make(map[string]models.Challenge),
		wallets:      make(map[uuid.UUID]models.Wallet),
		accounts:     make(map[string]models.Account),
		assets:       make(map[string]models.MultisigAsset),
		transactions: make(map[uuid.UUID]models.Transaction),
		participants: make(map[uuid.UUID]models.MultisigParticipant),
	}
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) Health(ctx context.Context) error { return nil }

// API keys

func (s *MemoryStore) FindAPIKey(ctx context.Context, key string) (*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.apiKeys[key]
	if !ok {
		return nil, nil
	}
	k.Origins = append([]string(nil), k.Origins...)
	return &k, nil
}

func (s *MemoryStore) CreateAPIKey(ctx context.Context, k *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.apiKeys[k.Key]; ok {
		return ErrDuplicate
	}
	cp := *k
	cp.Origins = append([]string(nil), k.Origins...)
	s.apiKeys[k.Key] = cp
	return nil
}

func (s *MemoryStore) UpdateAPIKeyStatus(ctx context.Context, key string, status models.APIKeyStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k, ok := s.apiKeys[key]; ok {
		k.Status = status
		k.UpdatedAt = time.Now()
		s.apiKeys[key] = k
	}
	return nil
}

// Users

func (s *MemoryStore) CreateUser(ctx context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if strings.EqualFold(existing.ExternalUserID, u.ExternalUserID) {
			return ErrDuplicate
		}
	}
	s.users[u.ID] = *u
	return nil
}

func (s *MemoryStore) FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *MemoryStore) FindUserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.EqualFold(u.ExternalUserID, externalID) {
			return &u, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) SetHashingSaltIfEmpty(ctx context.Context, userID uuid.UUID, salt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return "", ErrNotFound
	}
	if u.HashingSalt == nil {
		u.HashingSalt = &salt
		s.users[userID] = u
	}
	return *u.HashingSalt, nil
}

func (s *MemoryStore) CreateAuthPublicKey(ctx context.Context, k *models.AuthPublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.authPublicKeys = append(s.authPublicKeys, *k)
	return nil
}

func (s *MemoryStore) FindAuthPublicKeyByUser(ctx context.Context, userID uuid.UUID) (*models.AuthPublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.authPublicKeys) - 1; i >= 0; i-- {
		if s.authPublicKeys[i].UserID == userID {
			k := s.authPublicKeys[i]
			return &k, nil
		}
	}
	return nil, nil
}

// Access tokens

func (s *MemoryStore) CreateAuthToken(ctx context.Context, t *models.AuthToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.authTokens[t.Token] = *t
	return nil
}

func (s *MemoryStore) FindAuthToken(ctx context.Context, token string) (*models.AuthToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.authTokens[token]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *MemoryStore) RevokeAuthToken(ctx context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.authTokens[token]
	if !ok || t.Status != models.AuthTokenStatusActive {
		return false, nil
	}
	t.Status = models.AuthTokenStatusRevoked
	s.authTokens[token] = t
	return true, nil
}

// Challenges

func challengeKey(clientPublicKey, message string) string {
	return clientPublicKey + "|" + message
}

func (s *MemoryStore) CreateChallenge(ctx context.Context, c *models.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.challenges[challengeKey(c.ClientPublicKey, c.Message)] = *c
	return nil
}

func (s *MemoryStore) FindChallenge(ctx context.Context, clientPublicKey, message string) (*models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[challengeKey(clientPublicKey, message)]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *MemoryStore) MarkChallengeUsed(ctx context.Context, c *models.Challenge) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := challengeKey(c.ClientPublicKey, c.Message)
	stored, ok := s.challenges[key]
	if !ok || stored.Status != models.ChallengeStatusPending {
		return false, nil
	}
	stored.Status = models.ChallengeStatusUsed
	s.challenges[key] = stored
	c.Status = models.ChallengeStatusUsed
	return true, nil
}

// Wallets

func (s *MemoryStore) CreateWallet(ctx context.Context, w *models.Wallet, accounts []models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.wallets {
		if existing.HashedSeedPhrase == w.HashedSeedPhrase {
			return ErrDuplicate
		}
	}
	for _, a := range accounts {
		if _, ok := s.accounts[a.Address]; ok {
			return ErrDuplicate
		}
	}

	s.wallets[w.ID] = *w
	for _, a := range accounts {
		s.accounts[a.Address] = a
	}
	return nil
}

func (s *MemoryStore) FindWalletByHash(ctx context.Context, hash string) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.wallets {
		if w.HashedSeedPhrase == hash {
			return &w, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) FindWalletsByUser(ctx context.Context, userID uuid.UUID) ([]models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var wallets []models.Wallet
	for _, w := range s.wallets {
		if w.UserID == userID {
			wallets = append(wallets, w)
		}
	}
	sort.Slice(wallets, func(i, j int) bool { return wallets[i].CreatedAt.After(wallets[j].CreatedAt) })
	return wallets, nil
}

func (s *MemoryStore) FindAccountsByAddresses(ctx context.Context, addresses []string) ([]models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var accounts []models.Account
	for _, addr := range addresses {
		if a, ok := s.accounts[addr]; ok {
			accounts = append(accounts, a)
		}
	}
	return accounts, nil
}

// AddAccount registers a standalone account, for tests that need onboarded
// addresses without deriving a wallet
func (s *MemoryStore) AddAccount(a models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.Address] = a
}

// Multisig

func (s *MemoryStore) FindMultisigAsset(ctx context.Context, address string) (*models.MultisigAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assets[address]
	if !ok {
		return nil, nil
	}
	a.Participants = append([]string(nil), a.Participants...)
	return &a, nil
}

func (s *MemoryStore) InsertMultisigAsset(ctx context.Context, a *models.MultisigAsset) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.assets[a.Address]; ok {
		return false, nil
	}
	cp := *a
	cp.Participants = append([]string(nil), a.Participants...)
	s.assets[a.Address] = cp
	return true, nil
}

func (s *MemoryStore) CreateMultisigTransaction(ctx context.Context, t *models.Transaction, participants []models.MultisigParticipant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transactions[t.ID]; ok {
		return ErrDuplicate
	}
	s.transactions[t.ID] = *t
	for _, p := range participants {
		s.participants[p.ID] = p
	}
	return nil
}

func (s *MemoryStore) FindTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transactions[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *MemoryStore) FindMultisigParticipant(ctx context.Context, transactionID uuid.UUID, address string) (*models.MultisigParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.participants {
		if p.TransactionID == transactionID && p.Address == address {
			return &p, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListMultisigParticipants(ctx context.Context, transactionID uuid.UUID) ([]models.MultisigParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.participantsOf(transactionID), nil
}

func (s *MemoryStore) participantsOf(transactionID uuid.UUID) []models.MultisigParticipant {
	var out []models.MultisigParticipant
	for _, p := range s.participants {
		if p.TransactionID == transactionID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

func (s *MemoryStore) ApproveMultisigParticipant(ctx context.Context, participantID, transactionID uuid.UUID, txBlob string) (*models.ApprovalOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transactions[transactionID]
	if !ok {
		return nil, ErrNotFound
	}

	p, ok := s.participants[participantID]
	if !ok || p.Status != models.ParticipantStatusPendingApproval {
		return &models.ApprovalOutcome{Transaction: &t}, nil
	}

	if t.Status != models.TransactionStatusPendingApproval || t.MultisigSignerApprovedCount >= t.MultisigSignerThreshold {
		return nil, ErrNotPendingApproval
	}

	now := time.Now()
	p.Status = models.ParticipantStatusApproved
	p.UpdatedAt = now
	s.participants[participantID] = p

	t.MultisigSignerApprovedCount++
	if t.MultisigSignerApprovedCount >= t.MultisigSignerThreshold {
		t.Status = models.TransactionStatusPending
	}
	if txBlob != "" {
		t.TxBlob = txBlob
	}
	t.UpdatedAt = now
	s.transactions[transactionID] = t

	return &models.ApprovalOutcome{
		Transaction: &t,
		Applied:     true,
		Promoted:    t.Status == models.TransactionStatusPending,
	}, nil
}

func (s *MemoryStore) RejectMultisigParticipant(ctx context.Context, participantID, transactionID uuid.UUID) (*models.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transactions[transactionID]
	if !ok {
		return nil, false, ErrNotFound
	}

	p, ok := s.participants[participantID]
	if !ok || p.Status != models.ParticipantStatusPendingApproval {
		return &t, false, nil
	}

	now := time.Now()
	p.Status = models.ParticipantStatusRejected
	p.UpdatedAt = now
	s.participants[participantID] = p

	pending := 0
	for _, other := range s.participantsOf(transactionID) {
		if other.Status == models.ParticipantStatusPendingApproval {
			pending++
		}
	}
	if t.Status == models.TransactionStatusPendingApproval && t.MultisigSignerApprovedCount+pending < t.MultisigSignerThreshold {
		t.Status = models.TransactionStatusFailed
		t.UpdatedAt = now
		s.transactions[transactionID] = t
	}

	return &t, true, nil
}

func (s *MemoryStore) TransitionTransaction(ctx context.Context, id uuid.UUID, from, to models.TransactionStatus, txHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transactions[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	if txHash != "" {
		t.TxHash = txHash
	}
	t.UpdatedAt = time.Now()
	s.transactions[id] = t
	return true, nil
}
