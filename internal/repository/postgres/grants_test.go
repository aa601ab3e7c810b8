package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
	"github.com/voice4victims/medrecord-access/internal/repository"
)

func TestGrantRepository_ConsumeUseConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewGrantRepository(mock)

	mock.ExpectExec(`UPDATE access\.permission_grants`).
		WithArgs("grant-1", 2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := repo.ConsumeUse(context.Background(), "grant-1", 2); !errors.Is(err, repository.ErrVersionConflict) {
		t.Fatalf("ConsumeUse error = %v, want ErrVersionConflict", err)
	}
}

func TestGrantRepository_ListActiveForPrincipal(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewGrantRepository(mock)

	grantedAt := time.Now().UTC()
	rows := pgxmock.NewRows(grantColumns).
		AddRow(
			"grant-1",
			"principal-2",
			"child-1",
			"caregiver",
			"family",
			[]string{"read", "write"},
			"principal-1",
			grantedAt,
			nil,
			nil,
			0,
			true,
			int64(1),
		)

	mock.ExpectQuery(`SELECT .+ FROM access\.permission_grants`).
		WithArgs(true, "principal-2").
		WillReturnRows(rows)

	grants, err := repo.ListActiveForPrincipal(context.Background(), "principal-2")
	if err != nil {
		t.Fatalf("ListActiveForPrincipal returned error: %v", err)
	}
	if len(grants) != 1 {
		t.Fatalf("got %d grants, want 1", len(grants))
	}

	grant := grants[0]
	if grant.Origin != domain.GrantOriginFamily {
		t.Errorf("origin = %q, want family", grant.Origin)
	}
	if !grant.HasPermission(domain.PermissionWrite) {
		t.Errorf("grant should carry write permission")
	}
	if grant.ExpiresAt != nil || grant.MaxUses != nil {
		t.Errorf("unbounded grant should have nil expiry and max uses")
	}
}

func TestLockoutRepository_SaveVersionConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewLockoutRepository(mock)

	state := domain.LockoutState{
		PrincipalID:    "principal-1",
		FailedAttempts: 4,
		UpdatedAt:      time.Now().UTC(),
		Version:        2,
	}

	mock.ExpectExec(`UPDATE access\.lockouts`).
		WithArgs(state.PrincipalID, state.FailedAttempts, nil, nil, state.UpdatedAt, int64(2)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := repo.Save(context.Background(), state, 2); !errors.Is(err, repository.ErrVersionConflict) {
		t.Fatalf("Save error = %v, want ErrVersionConflict", err)
	}
}
