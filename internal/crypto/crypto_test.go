package crypto

import (
	"sync"
	"testing"

	"github.com/painelssh/sshpanel/internal/database"
)

func TestVaultRoundTrip(t *testing.T) {
	db, err := database.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	v := NewVault(db)

	tok, err := v.Encrypt("agent-pass")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if tok == "agent-pass" || tok == "" {
		t.Fatalf("token not encrypted: %q", tok)
	}
	if _, err := database.GetSetting(db, keySetting); err != nil {
		t.Fatalf("key was not persisted: %v", err)
	}

	// A fresh vault over the same database reads the same key.
	got, err := NewVault(db).Decrypt(tok)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != "agent-pass" {
		t.Errorf("decrypt = %q, want agent-pass", got)
	}
}

func TestVaultConcurrentFirstUseSharesKey(t *testing.T) {
	db, err := database.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// Separate vaults stand in for separate processes sharing the database.
	vaults := []*Vault{NewVault(db), NewVault(db), NewVault(db), NewVault(db)}

	tokens := make([]string, 16)
	errs := make([]error, len(tokens))
	var wg sync.WaitGroup
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = vaults[i%len(vaults)].Encrypt("agent-pass")
		}(i)
	}
	wg.Wait()

	reader := NewVault(db)
	for i, tok := range tokens {
		if errs[i] != nil {
			t.Fatalf("encrypt %d: %v", i, errs[i])
		}
		if got, err := reader.Decrypt(tok); err != nil || got != "agent-pass" {
			t.Errorf("token %d: decrypt = %q, %v", i, got, err)
		}
	}
}

func TestEnsureKeyIsStable(t *testing.T) {
	db, _ := database.OpenMemory()
	v := NewVault(db)
	if err := v.EnsureKey(); err != nil {
		t.Fatalf("ensure key: %v", err)
	}
	first, _ := database.GetSetting(db, keySetting)
	if err := NewVault(db).EnsureKey(); err != nil {
		t.Fatalf("ensure key again: %v", err)
	}
	if again, _ := database.GetSetting(db, keySetting); again != first || first == "" {
		t.Errorf("key changed: %q -> %q", first, again)
	}
}

func TestVaultEmpty(t *testing.T) {
	db, _ := database.OpenMemory()
	v := NewVault(db)
	if tok, err := v.Encrypt(""); err != nil || tok != "" {
		t.Errorf("Encrypt(\"\") = %q, %v", tok, err)
	}
	if s, err := v.Decrypt(""); err != nil || s != "" {
		t.Errorf("Decrypt(\"\") = %q, %v", s, err)
	}
}

func TestVaultRejectsForeignToken(t *testing.T) {
	db, _ := database.OpenMemory()
	if _, err := NewVault(db).Decrypt("not-a-token"); err == nil {
		t.Fatal("expected error for invalid token")
	}
}

func TestMask(t *testing.T) {
	cases := map[string]string{"": "", "abc": "****", "abcdefgh": "****efgh"}
	for in, want := range cases {
		if got := Mask(in); got != want {
			t.Errorf("Mask(%q) = %q, want %q", in, got, want)
		}
	}
}
