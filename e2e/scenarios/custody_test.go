//go:build e2e
// +build e2e

package scenarios

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/tyler-smith/go-bip39"

	"wallet-custody/e2e"
	"wallet-custody/internal/cryptography"
	"wallet-custody/models"
)

// session is one signed-up user driving the API
type session struct {
	client      cryptography.Identity
	headers     map[string]string
	userID      string
	custodyKey  string
	algoAddress string
}

func setup(t *testing.T) *e2e.TestHarness {
	t.Helper()
	e2e.RequireDockerCompose(t)

	harness := e2e.NewTestHarness(t)
	if err := harness.Setup(); err != nil {
		t.Fatalf("failed to setup test harness: %v", err)
	}
	t.Cleanup(harness.Teardown)
	return harness
}

// signed fetches a fresh challenge and returns body extended with its proof
func signed(t *testing.T, h *e2e.TestHarness, path string, s *session, body map[string]any) map[string]any {
	t.Helper()

	resp := h.DoJSON(http.MethodPost, path, map[string]string{"clientAuthPubKey": s.client.PublicKey}, s.headers)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201 for challenge, got %d: %s", resp.Code, resp.Body.String())
	}
	var challenge struct {
		Message string `json:"message"`
	}
	json.NewDecoder(resp.Body).Decode(&challenge)

	sig, err := cryptography.Sign(challenge.Message, s.client.PrivateKey)
	if err != nil {
		t.Fatalf("failed to sign challenge: %v", err)
	}

	out := map[string]any{"message": challenge.Message, "signature": sig, "clientAuthPubKey": s.client.PublicKey}
	for k, v := range body {
		out[k] = v
	}
	return out
}

func signUp(t *testing.T, h *e2e.TestHarness, externalID string) *session {
	t.Helper()

	client, err := cryptography.NewIdentity()
	if err != nil {
		t.Fatalf("failed to create client identity: %v", err)
	}
	s := &session{
		client:  client,
		headers: map[string]string{"X-API-KEY": e2e.APIKey, "X-CLIENT-JWT": h.ClientJWT(externalID)},
	}

	body := signed(t, h, "/api/v1/auth/signature-message/external", s, nil)
	resp := h.DoJSON(http.MethodPost, "/api/v1/auth/sign-up/external", body, s.headers)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201 for sign-up, got %d: %s", resp.Code, resp.Body.String())
	}

	var res struct {
		UserID            string `json:"userId"`
		AccessToken       string `json:"accessToken"`
		WallabyAuthPubKey string `json:"wallabyAuthPubKey"`
	}
	json.NewDecoder(resp.Body).Decode(&res)

	s.userID = res.UserID
	s.custodyKey = res.WallabyAuthPubKey
	s.headers["Authorization"] = "Bearer " + res.AccessToken
	return s
}

func createWallet(t *testing.T, h *e2e.TestHarness, s *session) {
	t.Helper()

	resp := h.DoJSON(http.MethodPost, "/api/v1/wallets", signed(t, h, "/api/v1/auth/signature-message", s, nil), s.headers)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201 for wallet, got %d: %s", resp.Code, resp.Body.String())
	}
	var res struct {
		Wallet models.Wallet `json:"wallet"`
	}
	json.NewDecoder(resp.Body).Decode(&res)
	s.algoAddress = res.Wallet.AlgoAddress
}

func TestSignUp_KeyPairHeldByKMS(t *testing.T) {
	h := setup(t)

	s := signUp(t, h, "ext-kms")
	if s.userID == "" || s.custodyKey == "" {
		t.Fatalf("sign-up returned userId %q, key %q", s.userID, s.custodyKey)
	}

	kp, ok := h.MockServer().KeyPairFor(s.userID)
	if !ok {
		t.Fatal("expected the KMS to hold a keypair for the new user")
	}
	if kp.KeyPair.PublicKey != s.custodyKey {
		t.Errorf("wallabyAuthPubKey = %s, want the KMS public key %s", s.custodyKey, kp.KeyPair.PublicKey)
	}

	t.Run("second sign-up for the same external id conflicts", func(t *testing.T) {
		again := &session{client: s.client, headers: map[string]string{"X-API-KEY": e2e.APIKey, "X-CLIENT-JWT": h.ClientJWT("ext-kms")}}
		body := signed(t, h, "/api/v1/auth/signature-message/external", again, nil)
		resp := h.DoJSON(http.MethodPost, "/api/v1/auth/sign-up/external", body, again.headers)
		if resp.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d: %s", resp.Code, resp.Body.String())
		}
	})
}

func TestWallet_CreateAndImport(t *testing.T) {
	h := setup(t)

	t.Run("create wallet returns an encrypted backup", func(t *testing.T) {
		s := signUp(t, h, "ext-create")
		resp := h.DoJSON(http.MethodPost, "/api/v1/wallets", signed(t, h, "/api/v1/auth/signature-message", s, nil), s.headers)
		if resp.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
		}

		var res struct {
			Wallet        models.Wallet        `json:"wallet"`
			EncryptedSeed *models.SeedEnvelope `json:"encryptedSeed"`
		}
		json.NewDecoder(resp.Body).Decode(&res)

		seed, err := cryptography.Decrypt(s.client.PrivateKey, res.EncryptedSeed)
		if err != nil {
			t.Fatalf("client could not open the seed backup: %v", err)
		}
		if !bip39.IsMnemonicValid(string(seed)) {
			t.Errorf("backup is not a valid mnemonic")
		}
		if res.Wallet.EVMAddress == "" || res.Wallet.BTCAddress == "" || res.Wallet.AlgoAddress == "" {
			t.Errorf("expected an address per chain, got %+v", res.Wallet)
		}
	})

	t.Run("import is idempotent for the same user", func(t *testing.T) {
		s := signUp(t, h, "ext-import")

		entropy, _ := bip39.NewEntropy(128)
		mnemonic, _ := bip39.NewMnemonic(entropy)
		sealed, err := cryptography.Encrypt(s.custodyKey, []byte(mnemonic))
		if err != nil {
			t.Fatalf("failed to seal seed phrase: %v", err)
		}

		wantStatus := []int{http.StatusCreated, http.StatusOK}
		var addresses []string
		for _, want := range wantStatus {
			body := signed(t, h, "/api/v1/auth/signature-message", s, map[string]any{"encryptedSeedPhrase": sealed})
			resp := h.DoJSON(http.MethodPost, "/api/v1/wallets/import", body, s.headers)
			if resp.Code != want {
				t.Fatalf("expected status %d, got %d: %s", want, resp.Code, resp.Body.String())
			}
			var res struct {
				Wallet models.Wallet `json:"wallet"`
			}
			json.NewDecoder(resp.Body).Decode(&res)
			addresses = append(addresses, res.Wallet.EVMAddress)
		}
		if addresses[0] != addresses[1] {
			t.Errorf("re-import returned a different wallet: %v", addresses)
		}
	})

	t.Run("another user cannot import the same seed", func(t *testing.T) {
		owner := signUp(t, h, "ext-owner")
		thief := signUp(t, h, "ext-thief")

		entropy, _ := bip39.NewEntropy(128)
		mnemonic, _ := bip39.NewMnemonic(entropy)

		for i, s := range []*session{owner, thief} {
			sealed, _ := cryptography.Encrypt(s.custodyKey, []byte(mnemonic))
			body := signed(t, h, "/api/v1/auth/signature-message", s, map[string]any{"encryptedSeedPhrase": sealed})
			resp := h.DoJSON(http.MethodPost, "/api/v1/wallets/import", body, s.headers)
			if i == 0 && resp.Code != http.StatusCreated {
				t.Fatalf("expected status 201 for owner, got %d: %s", resp.Code, resp.Body.String())
			}
			if i == 1 && resp.Code != http.StatusForbidden {
				t.Errorf("expected status 403 for second user, got %d: %s", resp.Code, resp.Body.String())
			}
		}
	})
}

func TestMultisig_ApprovalFlow(t *testing.T) {
	h := setup(t)

	alice := signUp(t, h, "ext-alice")
	bob := signUp(t, h, "ext-bob")
	carol := signUp(t, h, "ext-carol")
	for _, s := range []*session{alice, bob, carol} {
		createWallet(t, h, s)
	}

	body := signed(t, h, "/api/v1/auth/signature-message", alice, map[string]any{
		"version":        1,
		"threshold":      2,
		"participants":   []string{alice.algoAddress, bob.algoAddress, carol.algoAddress},
		"creatorAddress": alice.algoAddress,
	})
	resp := h.DoJSON(http.MethodPost, "/api/v1/multisig", body, alice.headers)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201 for multisig, got %d: %s", resp.Code, resp.Body.String())
	}
	var asset models.MultisigAsset
	json.NewDecoder(resp.Body).Decode(&asset)

	initiate := func(t *testing.T) models.Transaction {
		t.Helper()
		body := signed(t, h, "/api/v1/auth/signature-message", alice, map[string]any{
			"multisigAddress": asset.Address,
			"signerAddress":   alice.algoAddress,
			"toAddress":       carol.algoAddress,
			"amount":          "1.5",
			"fee":             "0.001",
			"txBlob":          "dW5zaWduZWQ=",
		})
		resp := h.DoJSON(http.MethodPost, "/api/v1/transactions/multisig", body, alice.headers)
		if resp.Code != http.StatusCreated {
			t.Fatalf("expected status 201 for transaction, got %d: %s", resp.Code, resp.Body.String())
		}
		var tx models.Transaction
		json.NewDecoder(resp.Body).Decode(&tx)
		return tx
	}

	t.Run("second approval reaches the threshold", func(t *testing.T) {
		tx := initiate(t)
		if tx.Status != models.TransactionStatusPendingApproval || tx.MultisigSignerApprovedCount != 1 {
			t.Fatalf("after initiation got status %s, approvals %d", tx.Status, tx.MultisigSignerApprovedCount)
		}

		body := signed(t, h, "/api/v1/auth/signature-message", bob, map[string]any{
			"signerAddress": bob.algoAddress,
			"signedTxBlob":  "c2lnbmVk",
		})
		resp := h.DoJSON(http.MethodPost, "/api/v1/transactions/"+tx.ID.String()+"/sign", body, bob.headers)
		if resp.Code != http.StatusOK {
			t.Fatalf("expected status 200 for sign, got %d: %s", resp.Code, resp.Body.String())
		}
		var signedTx models.Transaction
		json.NewDecoder(resp.Body).Decode(&signedTx)
		if signedTx.Status != models.TransactionStatusPending {
			t.Errorf("status = %s, want %s", signedTx.Status, models.TransactionStatusPending)
		}

		resp = h.DoRequestWithHeaders(http.MethodGet, "/api/v1/transactions/"+tx.ID.String(), "", carol.headers)
		if resp.Code != http.StatusOK {
			t.Fatalf("expected status 200 for get, got %d: %s", resp.Code, resp.Body.String())
		}
		var details struct {
			Participants []models.MultisigParticipant `json:"participants"`
		}
		json.NewDecoder(resp.Body).Decode(&details)
		if len(details.Participants) != 3 {
			t.Errorf("participants = %d, want 3", len(details.Participants))
		}
	})

	t.Run("rejections that make the threshold unreachable fail the transaction", func(t *testing.T) {
		tx := initiate(t)

		reject := func(t *testing.T, s *session) models.Transaction {
			t.Helper()
			body := signed(t, h, "/api/v1/auth/signature-message", s, map[string]any{"signerAddress": s.algoAddress})
			resp := h.DoJSON(http.MethodPost, "/api/v1/transactions/"+tx.ID.String()+"/reject", body, s.headers)
			if resp.Code != http.StatusOK {
				t.Fatalf("expected status 200 for reject, got %d: %s", resp.Code, resp.Body.String())
			}
			var out models.Transaction
			json.NewDecoder(resp.Body).Decode(&out)
			return out
		}

		if got := reject(t, carol); got.Status != models.TransactionStatusPendingApproval {
			t.Errorf("after one rejection status = %s, want %s", got.Status, models.TransactionStatusPendingApproval)
		}
		if got := reject(t, bob); got.Status != models.TransactionStatusFailed {
			t.Errorf("after two rejections status = %s, want %s", got.Status, models.TransactionStatusFailed)
		}

		body := signed(t, h, "/api/v1/auth/signature-message", bob, map[string]any{"signerAddress": bob.algoAddress})
		resp := h.DoJSON(http.MethodPost, "/api/v1/transactions/"+tx.ID.String()+"/sign", body, bob.headers)
		if resp.Code != http.StatusConflict {
			t.Errorf("expected status 409 signing after rejecting, got %d: %s", resp.Code, resp.Body.String())
		}
	})
}
