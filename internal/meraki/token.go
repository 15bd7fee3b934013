package meraki

import (
	"errors"
	"os"
	"strings"
)

type KeySource string

const (
	KeySourceExplicit KeySource = "explicit"
	KeySourceEnv      KeySource = "env:MERAKI_API_KEY"
)

const EnvAPIKey = "MERAKI_API_KEY"

// ResolveAPIKey resolves the Meraki dashboard API key.
//
// Precedence:
//  1. provided (meraki.api_key from the config file), if non-empty
//  2. MERAKI_API_KEY env var
//
// It never prints the key.
func ResolveAPIKey(provided string) (key string, source KeySource, err error) {
	if k := strings.TrimSpace(provided); k != "" {
		return checkKey(k, KeySourceExplicit)
	}
	if env := strings.TrimSpace(os.Getenv(EnvAPIKey)); env != "" {
		return checkKey(env, KeySourceEnv)
	}
	return "", "", nil
}

func checkKey(k string, source KeySource) (string, KeySource, error) {
	if strings.ContainsAny(k, " \t\n\r") {
		return "", "", errors.New("invalid API key: contains whitespace")
	}
	return k, source, nil
}
