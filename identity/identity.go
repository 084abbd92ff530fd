// Package identity resolves actors of ledger transactions into display
// form: local users become emails, changes made upstream are attributed to
// the study's managing administration.
package identity

import (
	"context"
	"fmt"

	"sponsorengage/studysync/database"
)

// Resolver is the actor-identity contract consumed by the history
// assembler.
type Resolver interface {
	UserEmail(ctx context.Context, userID int64) (string, error)
}

// AdminLabel renders the provenance label for a change made directly in
// CPMS by the administering authority.
func AdminLabel(administration string) string {
	if administration == "" {
		administration = "CPMS"
	}
	return fmt.Sprintf("%s Admin", administration)
}

type databaseResolver struct {
	db *database.Database
}

// NewDatabaseResolver returns a Resolver backed by the users table.
func NewDatabaseResolver(db *database.Database) Resolver {
	return &databaseResolver{db: db}
}

func (r *databaseResolver) UserEmail(ctx context.Context, userID int64) (string, error) {
	return r.db.UserEmail(ctx, userID)
}
