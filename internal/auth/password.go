package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt ignores everything past this many bytes.
const maxPasswordBytes = 72

// ErrPasswordTooLong is returned by Hash for passwords bcrypt would truncate.
var ErrPasswordTooLong = errors.New("password must be at most 72 bytes")

// Hasher hashes and checks account passwords.
type Hasher struct {
	cost int
}

// NewHasher returns a hasher using cost, clamped to bcrypt's accepted range.
// Zero selects bcrypt.DefaultCost.
func NewHasher(cost int) Hasher {
	switch {
	case cost == 0:
		cost = bcrypt.DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return Hasher{cost: cost}
}

// Cost reports the work factor new hashes are created with.
func (h Hasher) Cost() int {
	return h.cost
}

// Hash returns the encoded hash of password.
func (h Hasher) Hash(password string) (string, error) {
	if len(password) > maxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Matches reports whether password produced hash. A wrong password is
// (false, nil); an error means the stored hash itself is unusable.
func (h Hasher) Matches(hash, password string) (bool, error) {
	if len(password) > maxPasswordBytes {
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}
