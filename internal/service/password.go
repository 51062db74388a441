package service

import (
	"crypto/rand"
	"errors"
	"math/big"
)

const (
	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars  = "0123456789"
	symbolChars = "!@#$%^&*"

	// TempPasswordLength is the length of generated temporary passwords
	TempPasswordLength = 12
	// MinPasswordLength applies to every user-chosen password
	MinPasswordLength = 8
)

// GenerateTempPassword returns a random password of the given length holding
// at least one lowercase letter, uppercase letter, digit and symbol.
func GenerateTempPassword(length int) (string, error) {
	if length < TempPasswordLength {
		return "", errors.New("temporary password must be at least 12 characters")
	}

	all := lowerChars + upperChars + digitChars + symbolChars
	buf := make([]byte, 0, length)
	for _, set := range []string{upperChars, lowerChars, digitChars, symbolChars} {
		ch, err := randomChar(set)
		if err != nil {
			return "", err
		}
		buf = append(buf, ch)
	}
	for len(buf) < length {
		ch, err := randomChar(all)
		if err != nil {
			return "", err
		}
		buf = append(buf, ch)
	}

	// Fisher-Yates so the guaranteed characters are not always in front
	for i := len(buf) - 1; i > 0; i-- {
		j, err := randomIndex(i + 1)
		if err != nil {
			return "", err
		}
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf), nil
}

func randomChar(set string) (byte, error) {
	i, err := randomIndex(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

func randomIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
