// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"os"
	"path/filepath"
	"strings"
)

// GetCoachDataDir returns the coaching engine data directory.
//
// Priority:
// 1. COACHD_DATA_DIR environment variable (if set and non-empty)
// 2. ~/.coachd (default)
//
// The returned path is always absolute. Tilde (~) in COACHD_DATA_DIR is expanded to the user's home directory.
// Relative paths in COACHD_DATA_DIR are converted to absolute paths.
//
// This function is called during bootstrap (before the config file is loaded) to locate the config file itself.
//
// Examples:
//
//	COACHD_DATA_DIR=/custom/coachd    -> /custom/coachd
//	COACHD_DATA_DIR=~/my-coachd      -> /home/user/my-coachd
//	COACHD_DATA_DIR=relative/path    -> /current/dir/relative/path
//	COACHD_DATA_DIR not set          -> /home/user/.coachd
//
// Note: This function reads directly from os.Getenv(), not from viper, to avoid
// circular dependency during config initialization.
func GetCoachDataDir() string {
	// Check environment variable first
	if dataDir := os.Getenv("COACHD_DATA_DIR"); dataDir != "" {
		return expandPath(dataDir)
	}

	// Fall back to ~/.coachd
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home dir cannot be determined
		return ".coachd"
	}
	return filepath.Join(homeDir, ".coachd")
}

// GetCoachSubDir returns a subdirectory within the coach data directory.
// Example: GetCoachSubDir("topics") returns ~/.coachd/topics
func GetCoachSubDir(subdir string) string {
	return filepath.Join(GetCoachDataDir(), subdir)
}

// expandPath expands ~ and resolves to absolute path
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path // Return as-is if we can't get home dir
		}
		return filepath.Join(homeDir, path[2:])
	}

	// Make path absolute
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path // Return as-is if we can't make it absolute
	}
	return absPath
}
