package video

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrNotConfigured = errors.New("video provider not configured")

// VonageClient talks to the Vonage Video REST API. Application auth uses a
// short-lived RS256 JWT signed with the application's private key; client
// tokens are minted locally with the same key.
type VonageClient struct {
	applicationID string
	privateKey    *rsa.PrivateKey
	baseURL       string
	httpClient    *http.Client
}

// NewVonageClient builds a client from the application id and the private
// key material. keySource may be a path to a PEM file or the PEM text
// itself. A missing id or key is a construction error, not a deferred
// runtime surprise.
func NewVonageClient(applicationID, keySource, baseURL string) (*VonageClient, error) {
	if applicationID == "" || keySource == "" {
		return nil, ErrNotConfigured
	}

	pem, err := loadPrivateKeyPEM(keySource)
	if err != nil {
		return nil, err
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse vonage private key: %w", err)
	}

	return &VonageClient{
		applicationID: applicationID,
		privateKey:    key,
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

func loadPrivateKeyPEM(source string) ([]byte, error) {
	if strings.Contains(source, "BEGIN") {
		// Inline PEM, possibly with escaped newlines from an env var.
		return []byte(strings.ReplaceAll(source, `\n`, "\n")), nil
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("read vonage private key file %q: %w", source, err)
	}
	return data, nil
}

func (c *VonageClient) applicationJWT() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"application_id": c.applicationID,
		"iat":            now.Unix(),
		"exp":            now.Add(15 * time.Minute).Unix(),
		"jti":            uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(c.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign application jwt: %w", err)
	}
	return signed, nil
}

// CreateSession provisions a routed session and returns its id.
func (c *VonageClient) CreateSession(ctx context.Context) (string, error) {
	appJWT, err := c.applicationJWT()
	if err != nil {
		return "", err
	}

	form := strings.NewReader("mediaMode=routed")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/session/create", form)
	if err != nil {
		return "", fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read session response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("create session: unexpected status %d: %s", resp.StatusCode, body)
	}

	var sessions []struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(body, &sessions); err != nil {
		return "", fmt.Errorf("decode session response: %w", err)
	}
	if len(sessions) == 0 || sessions[0].SessionID == "" {
		return "", errors.New("create session: empty response")
	}

	return sessions[0].SessionID, nil
}

// GenerateClientToken mints a connection token for a session participant.
// No network round trip is needed; the token is a signed claim set.
func (c *VonageClient) GenerateClientToken(sessionID string, opts TokenOptions) (string, error) {
	if sessionID == "" {
		return "", errors.New("session id is required")
	}

	role := opts.Role
	if role == "" {
		role = "publisher"
	}

	now := time.Now()
	exp := opts.ExpireAt
	if exp.IsZero() {
		exp = now.Add(time.Hour)
	}

	claims := jwt.MapClaims{
		"application_id":  c.applicationID,
		"session_id":      sessionID,
		"role":            role,
		"scope":           "session.connect",
		"sub":             "video",
		"connection_data": opts.Data,
		"iat":             now.Unix(),
		"exp":             exp.Unix(),
		"jti":             uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(c.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign client token: %w", err)
	}
	return signed, nil
}
