// Package matcher resolves inbound sender addresses to registered recipients
// without ever persisting a raw address alongside a recipient.
package matcher

import (
	"context"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/polarpost/mailroom/internal/mailroom/domain"
	"github.com/polarpost/mailroom/internal/mailroom/repository"
)

// Matcher hashes sender addresses with a deployment-wide salt and looks the
// digest up against registered recipients.
type Matcher struct {
	recipients repository.RecipientRepository
	salt       string
}

func New(recipients repository.RecipientRepository, salt string) *Matcher {
	return &Matcher{recipients: recipients, salt: salt}
}

// HashAddress returns the hex digest of the salted, normalized address.
// Normalization lowercases and trims so "Kid@Example.com " and
// "kid@example.com" match the same recipient.
func (m *Matcher) HashAddress(address string) string {
	normalized := strings.ToLower(strings.TrimSpace(address))
	digest := sha3.Sum256([]byte(m.salt + normalized))
	return hex.EncodeToString(digest[:])
}

// Match resolves a sender address to a recipient, or domain.ErrNotFound when
// the address is not registered.
func (m *Matcher) Match(ctx context.Context, address string) (*domain.Recipient, error) {
	return m.recipients.GetByEmailHash(ctx, m.HashAddress(address))
}
