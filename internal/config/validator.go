package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidateAndExpandPaths validates and expands file paths in configuration
func (c *Config) ValidateAndExpandPaths() error {
	var err error

	// Expand auth directory
	if c.AuthDir != "" {
		c.AuthDir, err = expandPath(c.AuthDir)
		if err != nil {
			return fmt.Errorf("invalid auth_dir path: %v", err)
		}
	}

	// Expand storage base directory
	if c.StorageBaseDir != "" {
		c.StorageBaseDir, err = expandPath(c.StorageBaseDir)
		if err != nil {
			return fmt.Errorf("invalid storage_base_dir path: %v", err)
		}
	}

	// Expand log file destination
	if c.LogFile != "" {
		c.LogFile, err = expandPath(c.LogFile)
		if err != nil {
			return fmt.Errorf("invalid log_file path: %v", err)
		}
	}

	return nil
}

// expandPath expands ~ and environment variables in file paths
func expandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}

	// Expand ~ to home directory
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot get home directory: %v", err)
		}
		path = filepath.Join(home, path[2:])
	}

	// Expand environment variables
	path = os.ExpandEnv(path)

	// Convert to absolute path
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot convert to absolute path: %v", err)
	}

	return absPath, nil
}
