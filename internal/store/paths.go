package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirName is the name of the pullsim data directory.
const DirName = ".pullsim"

// DBFile is the name of the results database inside the data directory.
const DBFile = "pullsim.db"

// GlobalPath returns the per-user data directory, ~/.pullsim on Unix and
// %USERPROFILE%\.pullsim on Windows.
func GlobalPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, DirName), nil
}

// LocalPath returns the data directory for projectRoot.
func LocalPath(projectRoot string) string {
	return filepath.Join(projectRoot, DirName)
}
