package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	// “Service” groups the app’s secrets in the OS keychain.
	KeyringService = "leadtrack"

	apiTokenAccount = "leadtrack:api-token"
)

// ErrNoToken means no API token is stored; the API then runs unauthenticated.
var ErrNoToken = errors.New("api token not set")

func GetAPIToken() (string, error) {
	tok, err := keyring.Get(KeyringService, apiTokenAccount)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(tok) == "" {
		return "", ErrNoToken
	}
	return tok, nil
}

func SetAPIToken(token string) error {
	if strings.TrimSpace(token) == "" {
		return errors.New("token is empty")
	}
	return keyring.Set(KeyringService, apiTokenAccount, token)
}

// RotateAPIToken stores and returns a fresh random token.
func RotateAPIToken() (string, error) {
	var b [24]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	tok := hex.EncodeToString(b[:])
	return tok, SetAPIToken(tok)
}

func DeleteAPIToken() error {
	err := keyring.Delete(KeyringService, apiTokenAccount)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}
