package identity

import (
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/factorial-io/scotty-sub002/internal/apierr"
	"github.com/factorial-io/scotty-sub002/internal/model"
)

// bearerEntry pairs a principal with the bcrypt hash of the token that
// authenticates it, so a memory dump or config-file leak doesn't expose
// usable credentials directly.
type bearerEntry struct {
	hash      []byte
	principal model.Principal
}

// BearerTable maps configured bearer tokens to the principal each
// represents. Tokens are never kept in plaintext once NewBearerTable
// returns; Resolve checks a candidate against every stored hash, which
// keeps token enumeration from leaking which prefix of the table it
// matched (bcrypt.CompareHashAndPassword is constant-time per hash).
type BearerTable struct {
	entries []bearerEntry
}

func NewBearerTable(tokens map[string]string) *BearerTable {
	entries := make([]bearerEntry, 0, len(tokens))
	for token, principalName := range tokens {
		hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
		if err != nil {
			// DefaultCost on a non-empty password never fails; if it ever
			// does, skip the entry rather than panic on startup.
			continue
		}
		entries = append(entries, bearerEntry{
			hash: hash,
			principal: model.Principal{
				ID:      ServiceAccountID(principalName),
				Display: principalName,
				Source:  model.SourceBearer,
			},
		})
	}
	return &BearerTable{entries: entries}
}

// Resolve looks up credential against every configured token hash.
func (b *BearerTable) Resolve(credential string) (model.Principal, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return model.Principal{}, apierr.New(apierr.Unauthenticated, "missing bearer token")
	}
	var found *model.Principal
	for i := range b.entries {
		if bcrypt.CompareHashAndPassword(b.entries[i].hash, []byte(credential)) == nil && found == nil {
			p := b.entries[i].principal
			found = &p
		}
	}
	if found != nil {
		return *found, nil
	}
	return model.Principal{}, apierr.New(apierr.Unauthenticated, "bearer token not recognized")
}
