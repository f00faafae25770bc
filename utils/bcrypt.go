package utils

import "golang.org/x/crypto/bcrypt"

func ComparePassword(hashed string, normal string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(normal))
}

// PasswordService hashes and verifies passwords.
type PasswordService interface {
	HashPassword(plain string) (string, error)
	VerifyPassword(plain, hash string) bool
}

// BcryptPasswordService is the bcrypt PasswordService. Cost 0 means
// bcrypt.DefaultCost.
type BcryptPasswordService struct {
	Cost int
}

func (s BcryptPasswordService) HashPassword(plain string) (string, error) {
	cost := s.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword reports whether plain matches hash. Malformed hashes never
// match.
func (s BcryptPasswordService) VerifyPassword(plain, hash string) bool {
	return ComparePassword(hash, plain) == nil
}
