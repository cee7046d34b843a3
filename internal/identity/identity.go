// internal/identity/identity.go
package identity

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Identity is the local participant: a stable opaque id generated once and reused
// across sessions, plus a display name. There is no authentication behind it.
type Identity struct {
	ID   string
	Name string

	path   string
	secret []byte
}

// Load reads the persisted id from path, generating and persisting a fresh one on
// first run. secret signs channel auth tokens; an empty secret disables Token.
func Load(path, name string, secret []byte) (*Identity, error) {
	if name == "" {
		name = "Player"
	}
	id, err := readOrCreateID(path)
	if err != nil {
		return nil, err
	}
	return &Identity{ID: id, Name: name, path: path, secret: secret}, nil
}

func readOrCreateID(path string) (string, error) {
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id := newID()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("failed to create identity dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to persist identity: %w", err)
	}
	return id, nil
}

// newID mirrors the historical temp-user format so migrated installs keep their id
// shape: user_<millis>_<9 base36 chars>.
func newID() string {
	const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"
	src := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(uuid.New().ID())))
	var sb strings.Builder
	for i := 0; i < 9; i++ {
		sb.WriteByte(base36[src.Intn(len(base36))])
	}
	return fmt.Sprintf("user_%d_%s", time.Now().UnixMilli(), sb.String())
}

// Token mints a short-lived HS256 token carrying the participant id and name, sent
// as the bearer credential when subscribing to a realtime channel.
func (id *Identity) Token() (string, error) {
	if len(id.secret) == 0 {
		return "", fmt.Errorf("no token secret configured")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  id.ID,
		"name": id.Name,
		"iat":  now.Unix(),
		"exp":  now.Add(12 * time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(id.secret)
}
