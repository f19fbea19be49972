package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid client credentials")

type Client struct {
	ID   string
	Role string
	hash []byte
}

// Clients is the fixed set of API callers allowed to request tokens.
type Clients struct {
	byID map[string]Client
}

// ParseClients reads entries of the form id:bcrypt_hash[:role].
func ParseClients(entries []string) (*Clients, error) {
	c := &Clients{byID: make(map[string]Client, len(entries))}
	for _, raw := range entries {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.Split(raw, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("ParseClients: malformed entry %q", raw)
		}
		if _, err := bcrypt.Cost([]byte(parts[1])); err != nil {
			return nil, fmt.Errorf("ParseClients: client %s: %w", parts[0], err)
		}
		role := RoleClient
		if len(parts) == 3 {
			role = parts[2]
		}
		if role != RoleClient && role != RoleAdmin {
			return nil, fmt.Errorf("ParseClients: client %s: unknown role %q", parts[0], role)
		}
		if _, dup := c.byID[parts[0]]; dup {
			return nil, fmt.Errorf("ParseClients: duplicate client %s", parts[0])
		}
		c.byID[parts[0]] = Client{ID: parts[0], Role: role, hash: []byte(parts[1])}
	}
	return c, nil
}

func (c *Clients) Len() int {
	return len(c.byID)
}

// Authenticate checks a client secret against its stored bcrypt hash.
func (c *Clients) Authenticate(id, secret string) (*Client, error) {
	client, ok := c.byID[id]
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(client.hash, []byte(secret)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &client, nil
}
