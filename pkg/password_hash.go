package pkg

import "golang.org/x/crypto/bcrypt"

const PasswordHashCost = 12

func HashPassword(password string) (string, error) {
	return HashPasswordWithCost(password, PasswordHashCost)
}

// HashPasswordWithCost is HashPassword with an explicit bcrypt cost, tests use bcrypt.MinCost.
func HashPasswordWithCost(password string, cost int) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
