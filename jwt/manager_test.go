package jwt

import (
	"crypto/ed25519"
	"testing"
	"time"
)

func hs256Config() Config {
	return Config{
		AccessTTL:     15 * time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("unit-test-signing-secret"),
		Issuer:        "authcore-test",
	}
}

func TestCreateAndParseAccess(t *testing.T) {
	m, err := NewManager(hs256Config(), nil)
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}

	token, err := m.CreateAccess("user-1", "user@example.com", 4)
	if err != nil {
		t.Fatalf("CreateAccess error: %v", err)
	}

	claims, err := m.ParseAccess(token)
	if err != nil {
		t.Fatalf("ParseAccess error: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("Subject = %q", claims.Subject)
	}
	if claims.Email != "user@example.com" {
		t.Fatalf("Email = %q", claims.Email)
	}
	if claims.TokenVersion != 4 {
		t.Fatalf("TokenVersion = %d, want 4", claims.TokenVersion)
	}
}

func TestParseAccessExpired(t *testing.T) {
	current := time.Now()
	m, err := NewManager(hs256Config(), func() time.Time { return current })
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}

	token, err := m.CreateAccess("user-1", "user@example.com", 1)
	if err != nil {
		t.Fatalf("CreateAccess error: %v", err)
	}

	current = current.Add(16 * time.Minute)
	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestParseAccessWrongKey(t *testing.T) {
	m, err := NewManager(hs256Config(), nil)
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	token, err := m.CreateAccess("user-1", "user@example.com", 1)
	if err != nil {
		t.Fatalf("CreateAccess error: %v", err)
	}

	other := hs256Config()
	other.PrivateKey = []byte("a-different-secret")
	m2, err := NewManager(other, nil)
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	if _, err := m2.ParseAccess(token); err == nil {
		t.Fatal("expected wrong-key token to be rejected")
	}
}

func TestParseAccessWrongIssuer(t *testing.T) {
	m, err := NewManager(hs256Config(), nil)
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	token, err := m.CreateAccess("user-1", "user@example.com", 1)
	if err != nil {
		t.Fatalf("CreateAccess error: %v", err)
	}

	other := hs256Config()
	other.Issuer = "someone-else"
	m2, err := NewManager(other, nil)
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	if _, err := m2.ParseAccess(token); err == nil {
		t.Fatal("expected wrong-issuer token to be rejected")
	}
}

func TestEd25519RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey error: %v", err)
	}
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
	}, nil)
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}

	token, err := m.CreateAccess("user-2", "ed@example.com", 9)
	if err != nil {
		t.Fatalf("CreateAccess error: %v", err)
	}
	claims, err := m.ParseAccess(token)
	if err != nil {
		t.Fatalf("ParseAccess error: %v", err)
	}
	if claims.Subject != "user-2" || claims.TokenVersion != 9 {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestHS256TokenRejectedByEd25519Verifier(t *testing.T) {
	hm, err := NewManager(hs256Config(), nil)
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	token, err := hm.CreateAccess("user-1", "user@example.com", 1)
	if err != nil {
		t.Fatalf("CreateAccess error: %v", err)
	}

	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey error: %v", err)
	}
	em, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PublicKey:     pub,
	}, nil)
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	if _, err := em.ParseAccess(token); err == nil {
		t.Fatal("expected cross-algorithm token to be rejected")
	}
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: []byte("k")}, nil); err == nil {
		t.Fatal("expected zero TTL to be rejected")
	}
	if _, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256}, nil); err == nil {
		t.Fatal("expected missing key to be rejected")
	}
	if _, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: "rs512"}, nil); err == nil {
		t.Fatal("expected unsupported method to be rejected")
	}
	cfg := hs256Config()
	cfg.Leeway = 5 * time.Minute
	if _, err := NewManager(cfg, nil); err == nil {
		t.Fatal("expected oversized leeway to be rejected")
	}
}
