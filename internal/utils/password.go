package utils

import "golang.org/x/crypto/bcrypt"

// DefaultBcryptCost is used by the CLI when no cost is given.
const DefaultBcryptCost = bcrypt.DefaultCost

// HashPassword returns a bcrypt hash using the given cost.  Costs outside
// bcrypt's accepted range are clamped into it.
func HashPassword(plain string, cost int) (string, error) {
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword safely compares bcrypt hash and plain password.  An empty
// hash never matches.
func VerifyPassword(hash, plain string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
