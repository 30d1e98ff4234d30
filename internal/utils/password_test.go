package utils

import "testing"

func TestHashAndCheckPassword(t *testing.T) {
	password := "correct horse battery staple"

	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if hash == password {
		t.Fatal("hash must not equal the plaintext password")
	}

	if !CheckPasswordHash(password, hash) {
		t.Error("correct password should verify against its hash")
	}
	if CheckPasswordHash("wrong password", hash) {
		t.Error("wrong password should not verify")
	}
	if CheckPasswordHash(password, "not-a-bcrypt-hash") {
		t.Error("malformed hash should not verify")
	}
}

func TestHashPasswordSalts(t *testing.T) {
	first, err := HashPassword("same input")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	second, err := HashPassword("same input")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if first == second {
		t.Error("two hashes of the same password should differ by salt")
	}
}
