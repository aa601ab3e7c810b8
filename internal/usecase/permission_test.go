package usecase

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/voice4victims/medrecord-access/internal/core/domain"
)

type resolverFixture struct {
	clock    *fakeClock
	records  *memRecordRepo
	grants   *memGrantRepo
	consents *memConsentRepo
	resolver *PermissionResolver
}

func newResolverFixture(t *testing.T) *resolverFixture {
	t.Helper()

	f := &resolverFixture{
		clock:    newFakeClock(time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)),
		records:  newMemRecordRepo(),
		grants:   newMemGrantRepo(),
		consents: newMemConsentRepo(),
	}
	f.resolver = NewPermissionResolver(f.records, f.grants, f.consents, zap.NewNop()).WithClock(f.clock.Now)
	return f
}

func (f *resolverFixture) seedGrant(t *testing.T, grant domain.PermissionGrant) {
	t.Helper()
	if grant.Version == 0 {
		grant.Version = 1
	}
	if err := f.grants.Create(context.Background(), grant); err != nil {
		t.Fatalf("seed grant %s: %v", grant.ID, err)
	}
}

func (f *resolverFixture) setConsent(t *testing.T, principalID string, consentType domain.ConsentType, granted bool) {
	t.Helper()
	if err := f.consents.UpsertConsent(context.Background(), domain.ConsentRecord{
		PrincipalID: principalID,
		Type:        consentType,
		Granted:     granted,
		UpdatedAt:   f.clock.Now(),
	}); err != nil {
		t.Fatalf("seed consent: %v", err)
	}
}

func TestResolveOwnership(t *testing.T) {
	f := newResolverFixture(t)
	f.records.put(domain.ChildRecord{ID: "child-1", OwnerID: "parent-1"})

	res, err := f.resolver.Resolve(context.Background(), "parent-1", "child-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Origin != domain.GrantOriginOwnership {
		t.Fatalf("origin = %s, want ownership", res.Origin)
	}
	if len(res.Permissions) != len(domain.AdminPermissions())-1 {
		t.Fatalf("permissions = %v, want owner set without share_research", res.Permissions)
	}

	f.setConsent(t, "parent-1", domain.ConsentResearchSharing, true)
	res, err = f.resolver.Resolve(context.Background(), "parent-1", "child-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(res.Permissions) != len(domain.AdminPermissions()) {
		t.Fatalf("permissions = %v, want the full owner set once research consent is granted", res.Permissions)
	}
}

func TestResolveNoGrantIsEmpty(t *testing.T) {
	f := newResolverFixture(t)
	f.records.put(domain.ChildRecord{ID: "child-1", OwnerID: "parent-1"})

	res, err := f.resolver.Resolve(context.Background(), "stranger", "child-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Empty() {
		t.Fatalf("resolution = %+v, want empty", res)
	}
}

func TestResolvePrecedence(t *testing.T) {
	f := newResolverFixture(t)

	f.seedGrant(t, domain.PermissionGrant{
		ID: "g-temp", GrantedTo: "aunt-1", Scope: "child-1",
		Origin:      domain.GrantOriginTemporary,
		Permissions: []domain.Permission{domain.PermissionRead, domain.PermissionWrite},
		GrantedBy:   "parent-1", Active: true,
	})
	f.seedGrant(t, domain.PermissionGrant{
		ID: "g-family", GrantedTo: "aunt-1", Scope: "child-1",
		Origin:      domain.GrantOriginFamily,
		Permissions: []domain.Permission{domain.PermissionRead},
		GrantedBy:   "parent-1", Active: true,
	})

	res, err := f.resolver.Resolve(context.Background(), "aunt-1", "child-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Origin != domain.GrantOriginFamily {
		t.Fatalf("origin = %s, want family precedence over temporary", res.Origin)
	}
	if res.GrantID != "g-family" {
		t.Fatalf("grant id = %s, want g-family", res.GrantID)
	}
}

func TestResolveFamilyWideScope(t *testing.T) {
	f := newResolverFixture(t)
	f.seedGrant(t, domain.PermissionGrant{
		ID: "g-wide", GrantedTo: "aunt-1", Scope: domain.ScopeFamily,
		Origin:      domain.GrantOriginFamily,
		Permissions: []domain.Permission{domain.PermissionRead},
		GrantedBy:   "parent-1", Active: true,
	})

	res, err := f.resolver.Resolve(context.Background(), "aunt-1", "child-9")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.GrantID != "g-wide" {
		t.Fatalf("resolution = %+v, want family-wide grant to cover any scope", res)
	}
}

func TestResolveLazilyDeactivatesExpired(t *testing.T) {
	f := newResolverFixture(t)
	expired := f.clock.Now().Add(-time.Minute)
	f.seedGrant(t, domain.PermissionGrant{
		ID: "g-old", GrantedTo: "sitter-1", Scope: "child-1",
		Origin:      domain.GrantOriginTemporary,
		Permissions: []domain.Permission{domain.PermissionRead},
		GrantedBy:   "parent-1", ExpiresAt: &expired, Active: true,
	})

	res, err := f.resolver.Resolve(context.Background(), "sitter-1", "child-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Empty() {
		t.Fatalf("resolution = %+v, want empty for expired grant", res)
	}
	if f.grants.get("g-old").Active {
		t.Fatal("expired grant left active after resolution")
	}
}

func TestResolveLazilyDeactivatesExhausted(t *testing.T) {
	f := newResolverFixture(t)
	maxUses := 2
	f.seedGrant(t, domain.PermissionGrant{
		ID: "g-spent", GrantedTo: "sitter-1", Scope: "child-1",
		Origin:      domain.GrantOriginTemporary,
		Permissions: []domain.Permission{domain.PermissionRead},
		GrantedBy:   "parent-1", MaxUses: &maxUses, UsesSoFar: 2, Active: true,
	})

	res, err := f.resolver.Resolve(context.Background(), "sitter-1", "child-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Empty() {
		t.Fatalf("resolution = %+v, want empty for exhausted grant", res)
	}
	if f.grants.get("g-spent").Active {
		t.Fatal("exhausted grant left active after resolution")
	}
}

func TestResolveProviderGrantRespectsConsent(t *testing.T) {
	f := newResolverFixture(t)
	f.seedGrant(t, domain.PermissionGrant{
		ID: "g-prov", GrantedTo: "clinic-1", Scope: "child-1",
		Origin:      domain.GrantOriginProvider,
		Permissions: []domain.Permission{domain.PermissionRead, domain.PermissionWrite},
		GrantedBy:   "parent-1", Active: true,
	})

	// No consent record yet: provider access defaults to allowed.
	res, err := f.resolver.Resolve(context.Background(), "clinic-1", "child-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Empty() {
		t.Fatal("absent consent record blocked a provider grant")
	}

	f.setConsent(t, "parent-1", domain.ConsentProviderAccess, false)

	res, err = f.resolver.Resolve(context.Background(), "clinic-1", "child-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Empty() {
		t.Fatalf("resolution = %+v, want empty after consent revocation", res)
	}
}

func TestResolveStripsResearchPermissionWithoutConsent(t *testing.T) {
	f := newResolverFixture(t)
	f.seedGrant(t, domain.PermissionGrant{
		ID: "g-research", GrantedTo: "researcher-1", Scope: "child-1",
		Origin:      domain.GrantOriginFamily,
		Permissions: []domain.Permission{domain.PermissionRead, domain.PermissionShareResearch},
		GrantedBy:   "parent-1", Active: true,
	})

	res, err := f.resolver.Resolve(context.Background(), "researcher-1", "child-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for _, p := range res.Permissions {
		if p == domain.PermissionShareResearch {
			t.Fatal("share_research survived without a research_sharing consent")
		}
	}

	f.setConsent(t, "parent-1", domain.ConsentResearchSharing, true)

	res, err = f.resolver.Resolve(context.Background(), "researcher-1", "child-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	found := false
	for _, p := range res.Permissions {
		if p == domain.PermissionShareResearch {
			found = true
		}
	}
	if !found {
		t.Fatalf("permissions = %v, want share_research restored by consent", res.Permissions)
	}
}

func TestConsumeUse(t *testing.T) {
	f := newResolverFixture(t)
	maxUses := 3
	f.seedGrant(t, domain.PermissionGrant{
		ID: "g-uses", GrantedTo: "sitter-1", Scope: "child-1",
		Origin:      domain.GrantOriginTemporary,
		Permissions: []domain.Permission{domain.PermissionRead},
		GrantedBy:   "parent-1", MaxUses: &maxUses, Active: true,
	})

	res, err := f.resolver.Resolve(context.Background(), "sitter-1", "child-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	f.resolver.ConsumeUse(context.Background(), res)
	if got := f.grants.get("g-uses").UsesSoFar; got != 1 {
		t.Fatalf("uses so far = %d, want 1", got)
	}

	// A stale resolution loses the compare-and-swap; the grant is untouched
	// and no error escapes.
	f.resolver.ConsumeUse(context.Background(), res)
	if got := f.grants.get("g-uses").UsesSoFar; got != 1 {
		t.Fatalf("uses so far = %d, want 1 after lost CAS", got)
	}
}

func TestConsumeUseIgnoresStandingGrants(t *testing.T) {
	f := newResolverFixture(t)
	f.seedGrant(t, domain.PermissionGrant{
		ID: "g-standing", GrantedTo: "aunt-1", Scope: "child-1",
		Origin:      domain.GrantOriginFamily,
		Permissions: []domain.Permission{domain.PermissionRead},
		GrantedBy:   "parent-1", Active: true,
	})

	res, err := f.resolver.Resolve(context.Background(), "aunt-1", "child-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	f.resolver.ConsumeUse(context.Background(), res)

	if got := f.grants.get("g-standing").UsesSoFar; got != 0 {
		t.Fatalf("uses so far = %d, want 0 for a standing grant", got)
	}
}
