package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet holds only the dedupe hash of its seed, never the seed itself
type Wallet struct {
	ID               uuid.UUID `json:"id"`
	UserID           uuid.UUID `json:"user_id"`
	HashedSeedPhrase string    `json:"-"`
	Salt             string    `json:"-"`
	EVMAddress       string    `json:"evm_address"`
	BTCAddress       string    `json:"btc_address"`
	AlgoAddress      string    `json:"algo_address"`
	Imported         bool      `json:"imported"`
	CreatedAt        time.Time `json:"created_at"`
}

type Chain string

const (
	ChainEVM  Chain = "evm"
	ChainBTC  Chain = "btc"
	ChainAlgo Chain = "algo"
)

// Account is a custodial address owned by a user on one chain family
type Account struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	WalletID  uuid.UUID `json:"wallet_id"`
	Chain     Chain     `json:"chain"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// Accounts returns one account per chain family the wallet has an address for
func (w *Wallet) Accounts() []Account {
	now := time.Now()
	var accounts []Account
	for _, a := range []struct {
		chain Chain
		addr  string
	}{
		{ChainEVM, w.EVMAddress},
		{ChainBTC, w.BTCAddress},
		{ChainAlgo, w.AlgoAddress},
	} {
		chain, addr := a.chain, a.addr
		if addr == "" {
			continue
		}
		accounts = append(accounts, Account{
			ID:        uuid.New(),
			UserID:    w.UserID,
			WalletID:  w.ID,
			Chain:     chain,
			Address:   addr,
			CreatedAt: now,
		})
	}
	return accounts
}
