package auth

import "strings"

// API keys look like fs_<64 hex chars>. The first 8 chars after the scheme
// are stored in clear for lookup, the full key only as a bcrypt hash.
const APIKeyScheme = "fs_"

func NewAPIKey() (key, prefix, hash string, err error) {
	token, err := GenerateToken(32)
	if err != nil {
		return "", "", "", err
	}
	key = APIKeyScheme + token
	prefix = token[:8]
	hash, err = HashPassword(key)
	if err != nil {
		return "", "", "", err
	}
	return key, prefix, hash, nil
}

// APIKeyPrefix extracts the lookup prefix from a presented key.
func APIKeyPrefix(key string) (string, bool) {
	token := strings.TrimPrefix(key, APIKeyScheme)
	if token == key || len(token) < 8 {
		return "", false
	}
	return token[:8], true
}
