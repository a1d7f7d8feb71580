package repository

import (
	"context"
	"embed"

	"github.com/miladahmadkhan/promotion-panel/internal/platform/database"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, db *database.DB) error {
	return db.Migrate(ctx, migrations, "migrations")
}

// Store combines the PostgreSQL repositories into one persistence handle.
type Store struct {
	*EvaluationRepository
	*AssignmentRepository
	*VoteRepository
	*DecisionRepository
	*UserRepository
	*AuditRepository

	db *database.DB
}

// NewStore builds a Store on db.
func NewStore(db *database.DB) *Store {
	return &Store{
		EvaluationRepository: NewEvaluationRepository(db),
		AssignmentRepository: NewAssignmentRepository(db),
		VoteRepository:       NewVoteRepository(db),
		DecisionRepository:   NewDecisionRepository(db),
		UserRepository:       NewUserRepository(db),
		AuditRepository:      NewAuditRepository(db),
		db:                   db,
	}
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
