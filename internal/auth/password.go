package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordCost стоимость bcrypt для новых хешей. Хеши с другой стоимостью
// пересчитываются при следующем успешном входе.
var PasswordCost = bcrypt.DefaultCost

// HashPassword bcrypt-хеш пароля со стоимостью PasswordCost
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword true, если password соответствует hash. Повреждённый хеш не совпадает ни с чем.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// needsRehash хеш посчитан с устаревшей стоимостью
func needsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	return err == nil && cost != PasswordCost
}
