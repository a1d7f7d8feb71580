package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/miladahmadkhan/promotion-panel/internal/authz"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/errors"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/logger"
	"github.com/miladahmadkhan/promotion-panel/internal/repository"
)

// Account describes a seed account.
type Account struct {
	Username string
	FullName string
	Email    string
	Role     authz.Role
}

// EnsureBootstrapAccounts creates the seed accounts that do not exist yet.
// An account created concurrently by another instance counts as existing.
func EnsureBootstrapAccounts(ctx context.Context, store Store, log *logger.Logger, accounts []Account) error {
	for _, a := range accounts {
		username := strings.TrimSpace(a.Username)
		if username == "" {
			return errors.Configuration(fmt.Sprintf("bootstrap %s account has no username", a.Role))
		}
		if !a.Role.Valid() {
			return errors.Configuration(fmt.Sprintf("bootstrap account %s has unknown role %q", username, a.Role))
		}

		u := &repository.User{
			Username: username,
			FullName: strings.TrimSpace(a.FullName),
			Email:    strings.TrimSpace(a.Email),
			Role:     string(a.Role),
		}
		created, err := store.EnsureUser(ctx, u)
		if err != nil {
			return err
		}
		if !created {
			log.Debug().Str("username", u.Username).Msg("Bootstrap account exists")
			continue
		}
		log.Info().
			Str("user_id", u.ID).
			Str("username", u.Username).
			Str("role", u.Role).
			Msg("Bootstrap account created")
	}
	return nil
}
