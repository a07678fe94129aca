// Package identity is the external identity adapter: it turns a wallet's
// EIP-712 signature over an order or cancel envelope into the account id
// the core trusts, without the matching core ever seeing a signature or a
// private key. The recovered address is just a string to every other
// package in this module.
package identity

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Domain is the EIP-712 domain separator. VerifyingContract is the zero
// address for a purely off-chain custodial exchange.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DefaultDomain is the domain every envelope in this exchange is signed
// under, unless a deployment overrides it via configuration.
func DefaultDomain() Domain {
	return Domain{
		Name:              "ClobExchange",
		Version:           "1",
		ChainID:           big.NewInt(1),
		VerifyingContract: common.Address{},
	}
}

// OrderEnvelope is the typed payload a wallet signs to place an order.
// Price and Quantity travel as decimal strings: the exchange's money.Amount
// has no fixed-width integer tick encoding to sign over, and EIP-712 allows
// a "string" field type for exactly this case.
type OrderEnvelope struct {
	Instrument string
	Side       string // "buy" or "sell"
	Type       string // "limit" or "market"
	Price      string // decimal string, "" for market orders
	Quantity   string // decimal string
	Nonce      *big.Int
	Owner      common.Address
}

// CancelEnvelope is the typed payload a wallet signs to cancel an order.
type CancelEnvelope struct {
	OrderID string
	Nonce   *big.Int
	Owner   common.Address
}

// Verifier recovers the signer address of a domain-bound envelope.
type Verifier struct {
	domain Domain
}

// NewVerifier returns a Verifier bound to domain.
func NewVerifier(domain Domain) *Verifier {
	return &Verifier{domain: domain}
}

func (v *Verifier) domainMap() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              v.domain.Name,
		Version:           v.domain.Version,
		ChainId:           (*math.HexOrDecimal256)(v.domain.ChainID),
		VerifyingContract: v.domain.VerifyingContract.Hex(),
	}
}

// HashOrder computes the EIP-712 digest a wallet must sign for env.
func (v *Verifier) HashOrder(env *OrderEnvelope) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": []apitypes.Type{
				{Name: "instrument", Type: "string"},
				{Name: "side", Type: "string"},
				{Name: "orderType", Type: "string"},
				{Name: "price", Type: "string"},
				{Name: "quantity", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "owner", Type: "address"},
			},
		},
		PrimaryType: "Order",
		Domain:      v.domainMap(),
		Message: apitypes.TypedDataMessage{
			"instrument": env.Instrument,
			"side":       env.Side,
			"orderType":  env.Type,
			"price":      env.Price,
			"quantity":   env.Quantity,
			"nonce":      env.Nonce.String(),
			"owner":      env.Owner.Hex(),
		},
	}
	return hashTypedData(typedData)
}

// HashCancel computes the EIP-712 digest a wallet must sign for env.
func (v *Verifier) HashCancel(env *CancelEnvelope) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Cancel": []apitypes.Type{
				{Name: "orderId", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "owner", Type: "address"},
			},
		},
		PrimaryType: "Cancel",
		Domain:      v.domainMap(),
		Message: apitypes.TypedDataMessage{
			"orderId": env.OrderID,
			"nonce":   env.Nonce.String(),
			"owner":   env.Owner.Hex(),
		},
	}
	return hashTypedData(typedData)
}

func hashTypedData(typedData apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("hash message: %w", err)
	}
	rawData := append([]byte("\x19\x01"), append(domainSeparator, messageHash...)...)
	return crypto.Keccak256(rawData), nil
}

// RecoverOrderSigner recovers and validates the address that signed env,
// returning an error if the signature does not match the claimed owner.
func (v *Verifier) RecoverOrderSigner(env *OrderEnvelope, signature []byte) (common.Address, error) {
	hash, err := v.HashOrder(env)
	if err != nil {
		return common.Address{}, err
	}
	return recoverAndCheck(hash, signature, env.Owner)
}

// RecoverCancelSigner recovers and validates the address that signed env.
func (v *Verifier) RecoverCancelSigner(env *CancelEnvelope, signature []byte) (common.Address, error) {
	hash, err := v.HashCancel(env)
	if err != nil {
		return common.Address{}, err
	}
	return recoverAndCheck(hash, signature, env.Owner)
}

func recoverAndCheck(hash, signature []byte, claimedOwner common.Address) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("identity: signature must be 65 bytes, got %d", len(signature))
	}
	pubKey, err := crypto.SigToPub(hash, signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("identity: recover signer: %w", err)
	}
	recovered := crypto.PubkeyToAddress(*pubKey)
	if recovered != claimedOwner {
		return common.Address{}, fmt.Errorf("identity: signature does not match claimed owner %s", claimedOwner.Hex())
	}
	return recovered, nil
}
