package identity_test

import (
	"math/big"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/clob-exchange/matching-engine/internal/identity"
)

func TestRecoverOrderSignerRoundTrip(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	owner := ethcrypto.PubkeyToAddress(key.PublicKey)

	v := identity.NewVerifier(identity.DefaultDomain())
	env := &identity.OrderEnvelope{
		Instrument: "BTC/USDT", Side: "buy", Type: "limit",
		Price: "50000", Quantity: "1.0", Nonce: big.NewInt(1), Owner: owner,
	}

	hash, err := v.HashOrder(env)
	if err != nil {
		t.Fatalf("HashOrder: %v", err)
	}
	sig, err := ethcrypto.Sign(hash, key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	recovered, err := v.RecoverOrderSigner(env, sig)
	if err != nil {
		t.Fatalf("RecoverOrderSigner: %v", err)
	}
	if recovered != owner {
		t.Fatalf("recovered = %s, want %s", recovered.Hex(), owner.Hex())
	}
}

func TestRecoverOrderSignerRejectsTamperedEnvelope(t *testing.T) {
	key, _ := ethcrypto.GenerateKey()
	owner := ethcrypto.PubkeyToAddress(key.PublicKey)

	v := identity.NewVerifier(identity.DefaultDomain())
	env := &identity.OrderEnvelope{
		Instrument: "BTC/USDT", Side: "buy", Type: "limit",
		Price: "50000", Quantity: "1.0", Nonce: big.NewInt(1), Owner: owner,
	}
	hash, _ := v.HashOrder(env)
	sig, _ := ethcrypto.Sign(hash, key)

	env.Quantity = "2.0"
	if _, err := v.RecoverOrderSigner(env, sig); err == nil {
		t.Fatalf("expected signature mismatch after tampering with quantity")
	}
}

func TestRecoverCancelSignerRoundTrip(t *testing.T) {
	key, _ := ethcrypto.GenerateKey()
	owner := ethcrypto.PubkeyToAddress(key.PublicKey)

	v := identity.NewVerifier(identity.DefaultDomain())
	env := &identity.CancelEnvelope{OrderID: "order-1", Nonce: big.NewInt(7), Owner: owner}

	hash, err := v.HashCancel(env)
	if err != nil {
		t.Fatalf("HashCancel: %v", err)
	}
	sig, err := ethcrypto.Sign(hash, key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	recovered, err := v.RecoverCancelSigner(env, sig)
	if err != nil {
		t.Fatalf("RecoverCancelSigner: %v", err)
	}
	if recovered != owner {
		t.Fatalf("recovered = %s, want %s", recovered.Hex(), owner.Hex())
	}
}

func TestRecoverRejectsShortSignature(t *testing.T) {
	key, _ := ethcrypto.GenerateKey()
	owner := ethcrypto.PubkeyToAddress(key.PublicKey)

	v := identity.NewVerifier(identity.DefaultDomain())
	env := &identity.CancelEnvelope{OrderID: "order-1", Nonce: big.NewInt(1), Owner: owner}

	if _, err := v.RecoverCancelSigner(env, []byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for malformed signature")
	}
}
