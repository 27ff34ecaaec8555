// Package auth resolves the Gemini API key and builds the client used by
// the planner.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// APIKeyEnv holds the Gemini API key.
const APIKeyEnv = "GEMINI_API_KEY"

const (
	credentialDir  = ".prism"
	credentialFile = "credentials.gpg"
)

// ErrNoAPIKey is returned when no key source is available.
var ErrNoAPIKey = errors.New("API key not found; set GEMINI_API_KEY or store it in ~/.prism/credentials.gpg")

// GetAPIKey returns the key from GEMINI_API_KEY, falling back to the
// GPG-encrypted file at ~/.prism/credentials.gpg.
func GetAPIKey() (string, error) {
	if key := os.Getenv(APIKeyEnv); key != "" {
		log.Debug().Msg("Using API key from environment variable")
		return key, nil
	}

	key, err := getFromGPG()
	if err == nil && key != "" {
		log.Debug().Msg("Using API key from GPG encrypted file")
		return key, nil
	}
	log.Debug().Err(err).Msg("No GPG credentials")
	return "", ErrNoAPIKey
}

// NewClient returns a Gemini client for the resolved key. Callers that can
// run without a model treat ErrNoAPIKey as "use fallbacks".
func NewClient(ctx context.Context) (*genai.Client, error) {
	key, err := GetAPIKey()
	if err != nil {
		return nil, err
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return client, nil
}

func getFromGPG() (string, error) {
	credPath, err := getCredentialPath()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(credPath); err != nil {
		return "", fmt.Errorf("GPG credentials file not found at %s", credPath)
	}

	log.Debug().Str("file", credPath).Msg("Decrypting GPG credentials")
	args := []string{"--decrypt", "--quiet"}
	if pass := os.Getenv("PRISM_GPG_PASSPHRASE_FILE"); pass != "" {
		fi, err := os.Stat(pass)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("passphrase_file", pass).Msg("Passphrase file unreadable; skipping")
		case fi.Mode().Perm()&0o077 != 0:
			log.Warn().
				Str("passphrase_file", pass).
				Str("permissions", fmt.Sprintf("%04o", fi.Mode().Perm())).
				Msg("Passphrase file has insecure permissions (should be 0600); skipping")
		default:
			args = append(args, "--pinentry-mode", "loopback", "--passphrase-file", pass)
		}
	}
	args = append(args, credPath)

	output, err := exec.Command("gpg", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("GPG decryption failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("GPG decryption failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

func getCredentialPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, credentialDir, credentialFile), nil
}
