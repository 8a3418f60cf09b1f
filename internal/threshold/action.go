package threshold

import (
	"fmt"
	"os"
	"strings"
)

// Action is an authorization program to run on the network: either a
// reference to published code or the code itself, never both.
type Action struct {
	cid    string
	code   string
	source string
}

// ActionFromCID builds an action referencing published program code.
func ActionFromCID(cid, source string) (Action, error) {
	if strings.TrimSpace(cid) == "" {
		return Action{}, fmt.Errorf("action cid is empty")
	}
	return Action{cid: strings.TrimSpace(cid), source: source}, nil
}

// ActionFromCode builds an action carrying inline program code.
func ActionFromCode(code, source string) (Action, error) {
	if strings.TrimSpace(code) == "" {
		return Action{}, fmt.Errorf("action code is empty")
	}
	return Action{code: code, source: source}, nil
}

// IsReference reports whether the action points at published code.
func (a Action) IsReference() bool { return a.cid != "" }

// CID returns the published-code reference, empty for inline actions.
func (a Action) CID() string { return a.cid }

// Code returns the inline program code, empty for references.
func (a Action) Code() string { return a.code }

// Source describes where the action was resolved from, for logging.
func (a Action) Source() string { return a.source }

// Registry resolves named authorization programs for one network.
//
// Resolution precedence per name:
//  1. HEAVEN_ACTION_CID_<NAME> environment override (published reference)
//  2. HEAVEN_ACTION_FILE_<NAME> environment override (local code file)
//  3. the built-in per-network reference table
type Registry struct {
	network string
}

func NewRegistry(network string) *Registry {
	return &Registry{network: network}
}

// Program names known to the registry.
const (
	ActionContentRegister = "content-register"
	ActionContentResolve  = "content-resolve"
	ActionContentGrant    = "content-grant"
	ActionContentRevoke   = "content-revoke"
	ActionShareRecord     = "share-record"
	ActionDecryptKey      = "decrypt-key"
)

var builtinActions = map[string]map[string]string{
	"naga-dev": {
		ActionContentRegister: "QmPxbU2PWLuGWbz4usSCNgzAUMvYp7mTKA3Hrwszzw5Gqo",
		ActionContentResolve:  "QmYzS8cCcUk6nAAuJteAkDSDR9U1mjJcYZFh6kYaJoUGnn",
		ActionContentGrant:    "QmaM1V2c6ipv7ZHiLTRtV1t6nfAMZ4T7ZJwJQZF2mCqPpW",
		ActionContentRevoke:   "QmS5mx1ZTiQ9HGYatkqYYpRyMtKuYWrLZqp1ndHLYUuWqh",
		ActionShareRecord:     "QmbT8ZtcT5MDWLFjbBXS2nN8rwRTJg6rPJxFq6V4D1vR3c",
		ActionDecryptKey:      "QmcV6yxVcbX4MYK3x4B4P7F6pEXqJdQ1KbK1tMhWZGzrHD",
	},
}

// Resolve returns the runnable action for a program name.
func (r *Registry) Resolve(name string) (Action, error) {
	suffix := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))

	if cid := os.Getenv("HEAVEN_ACTION_CID_" + suffix); cid != "" {
		return ActionFromCID(cid, "env:cid")
	}
	if path := os.Getenv("HEAVEN_ACTION_FILE_" + suffix); path != "" {
		code, err := os.ReadFile(path)
		if err != nil {
			return Action{}, fmt.Errorf("failed to read action override %s: %w", path, err)
		}
		return ActionFromCode(string(code), "env:file")
	}

	table, ok := builtinActions[r.network]
	if !ok {
		return Action{}, fmt.Errorf("no actions published for network %s", r.network)
	}
	cid, ok := table[name]
	if !ok {
		return Action{}, fmt.Errorf("unknown action %s for network %s", name, r.network)
	}
	return ActionFromCID(cid, "builtin:"+r.network)
}
