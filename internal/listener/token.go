package listener

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// TokenEnv is the environment variable consulted last for the gateway token.
const TokenEnv = "CCC_GATEWAY_TOKEN"

// ErrNoToken is returned when no gateway token can be found.
var ErrNoToken = errors.New("no gateway token found; check ~/.openclaw/openclaw.json or set " + TokenEnv)

// LoadToken finds the gateway token in, in order: home/.openclaw/openclaw.json
// (gateway.auth.token), home/.ccc.json (gateway.token), then TokenEnv.
func LoadToken(home string) (string, error) {
	var openclaw struct {
		Gateway struct {
			Auth struct {
				Token string `json:"token"`
			} `json:"auth"`
		} `json:"gateway"`
	}
	if readJSON(filepath.Join(home, ".openclaw", "openclaw.json"), &openclaw) && openclaw.Gateway.Auth.Token != "" {
		return openclaw.Gateway.Auth.Token, nil
	}

	var ccc struct {
		Gateway struct {
			Token string `json:"token"`
		} `json:"gateway"`
	}
	if readJSON(filepath.Join(home, ".ccc.json"), &ccc) && ccc.Gateway.Token != "" {
		return ccc.Gateway.Token, nil
	}

	if tok := os.Getenv(TokenEnv); tok != "" {
		return tok, nil
	}
	return "", ErrNoToken
}

func readJSON(path string, v any) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}
