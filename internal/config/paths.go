package config

import (
	"os"
	"path/filepath"
)

func stateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".heaven")
}

func defaultKeystorePath() string {
	return filepath.Join(stateDir(), "credential.json")
}

func defaultDatabaseDSN() string {
	return filepath.Join(stateDir(), "library.db")
}
