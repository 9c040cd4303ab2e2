package custody

import (
	"strconv"
	"strings"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stellar/go/exp/crypto/derivation"
	"github.com/tyler-smith/go-bip39"
)

// BIP-44 paths for the default account of each chain family
const (
	EVMPath  = "m/44'/60'/0'/0/0"
	BTCPath  = "m/44'/0'/0'/0/0"
	AlgoPath = "m/44'/283'/0'/0'/0'"
)

// Addresses holds the default address per chain family for one mnemonic
type Addresses struct {
	EVM  string
	BTC  string
	Algo string
}

// ValidMnemonic reports whether m is a checksummed BIP-39 mnemonic
func ValidMnemonic(m string) bool {
	return bip39.IsMnemonicValid(m)
}

// NormalizeMnemonic collapses whitespace and lowercases words
func NormalizeMnemonic(m string) string {
	return strings.ToLower(strings.Join(strings.Fields(m), " "))
}

// DeriveAddresses derives the EVM, BTC (P2PKH) and Algorand addresses of mnemonic
func DeriveAddresses(mnemonic string, net *chaincfg.Params) (*Addresses, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, errors.Wrap(err, "invalid mnemonic")
	}

	master, err := hdkeychain.NewMaster(seed, net)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create master key")
	}

	evmKey, err := deriveBIP32(master, EVMPath)
	if err != nil {
		return nil, err
	}
	evmPriv, err := evmKey.ECPrivKey()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read evm private key")
	}

	btcKey, err := deriveBIP32(master, BTCPath)
	if err != nil {
		return nil, err
	}
	btcAddr, err := btcKey.Address(net)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode btc address")
	}

	algoKey, err := derivation.DeriveForPath(AlgoPath, seed)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to derive %s", AlgoPath)
	}
	algoPub, err := algoKey.PublicKey()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read algorand public key")
	}
	var algoAddr types.Address
	copy(algoAddr[:], algoPub)

	return &Addresses{
		EVM:  crypto.PubkeyToAddress(evmPriv.ToECDSA().PublicKey).Hex(),
		BTC:  btcAddr.EncodeAddress(),
		Algo: algoAddr.String(),
	}, nil
}

// deriveBIP32 walks a path such as m/44'/60'/0'/0/0 from master
func deriveBIP32(master *hdkeychain.ExtendedKey, path string) (*hdkeychain.ExtendedKey, error) {
	segments := strings.Split(path, "/")
	if len(segments) < 2 || segments[0] != "m" {
		return nil, errors.Errorf("malformed derivation path %q", path)
	}

	key := master
	for _, seg := range segments[1:] {
		hardened := strings.HasSuffix(seg, "'")
		n, err := strconv.ParseUint(strings.TrimSuffix(seg, "'"), 10, 31)
		if err != nil {
			return nil, errors.Wrapf(err, "malformed segment %q in %s", seg, path)
		}
		idx := uint32(n)
		if hardened {
			idx += hdkeychain.HardenedKeyStart
		}
		if key, err = key.Derive(idx); err != nil {
			return nil, errors.Wrapf(err, "failed to derive %s", path)
		}
	}
	return key, nil
}
