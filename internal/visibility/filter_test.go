package visibility

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/greirson/gthanks-sub001/internal/captoken"
	"github.com/greirson/gthanks-sub001/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testNow  = time.Date(2025, 12, 1, 10, 0, 0, 0, time.UTC)
	testItem = domain.Item{ID: "item-1", ListID: "list-1", OwnerID: "owner", Title: "Espresso grinder"}
)

func claimedBy(claimant domain.Claimant) *domain.Reservation {
	return &domain.Reservation{
		ID:         "res-1",
		ItemID:     testItem.ID,
		Claimant:   claimant,
		ReservedAt: testNow,
	}
}

func TestFilterItem_OwnerViewIndistinguishableFromUnclaimed(t *testing.T) {
	t.Parallel()

	purchased := testNow.Add(time.Hour)
	claims := map[string]*domain.Reservation{
		"authenticated": claimedBy(domain.AuthenticatedClaimant{IdentityID: "alice", Name: "Alice", Email: "alice@example.com"}),
		"anonymous":     claimedBy(domain.AnonymousClaimant{Name: "Bob", Email: "bob@example.com", TokenHash: captoken.Hash("tok")}),
		"purchased": {
			ID: "res-2", ItemID: testItem.ID, ReservedAt: testNow, PurchasedAt: &purchased,
			Claimant: domain.AuthenticatedClaimant{IdentityID: "carol", Name: "Carol", Email: "carol@example.com"},
		},
	}

	unclaimed, err := json.Marshal(FilterItem(testItem, nil, Owner{}))
	require.NoError(t, err)

	for name, res := range claims {
		res := res
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			claimed, err := json.Marshal(FilterItem(testItem, res, Owner{}))
			require.NoError(t, err)
			assert.JSONEq(t, string(unclaimed), string(claimed))
			assert.Equal(t, unclaimed, claimed)

			body := strings.ToLower(string(claimed))
			for _, leaked := range []string{"reserv", "claim", "purchas", "@example.com", res.ID} {
				assert.NotContains(t, body, strings.ToLower(leaked))
			}
		})
	}
}

func TestFilter_RoleTable(t *testing.T) {
	t.Parallel()

	res := claimedBy(domain.AuthenticatedClaimant{IdentityID: "alice", Name: "Alice", Email: "alice@example.com"})

	tests := []struct {
		name         string
		res          *domain.Reservation
		role         Role
		wantReserved *bool
		wantDetail   bool
	}{
		{name: "owner claimed", res: res, role: Owner{}},
		{name: "owner unclaimed", res: nil, role: Owner{}},
		{name: "co-admin claimed", res: res, role: CoAdmin{}, wantReserved: boolPtr(true)},
		{name: "co-admin unclaimed", res: nil, role: CoAdmin{}, wantReserved: boolPtr(false)},
		{name: "third party claimed", res: res, role: ThirdParty{}, wantReserved: boolPtr(true)},
		{name: "third party unclaimed", res: nil, role: ThirdParty{}, wantReserved: boolPtr(false)},
		{name: "claimant", res: res, role: Claimant{}, wantReserved: boolPtr(true), wantDetail: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			view := Filter(tt.res, tt.role)
			assert.Equal(t, tt.wantReserved, view.IsReserved)
			if !tt.wantDetail {
				assert.Nil(t, view.Reservation)
				return
			}
			require.NotNil(t, view.Reservation)
			assert.Equal(t, "Alice", view.Reservation.ClaimantName)
			assert.Equal(t, "alice@example.com", view.Reservation.ClaimantEmail)
			assert.Equal(t, []Action{ActionCancel, ActionMarkPurchased}, view.Reservation.Actions)
		})
	}
}

func TestFilter_ThirdPartyJSONHasOnlyBoolean(t *testing.T) {
	t.Parallel()

	res := claimedBy(domain.AnonymousClaimant{Name: "Bob", Email: "bob@example.com", TokenHash: captoken.Hash("tok")})
	body, err := json.Marshal(FilterItem(testItem, res, ThirdParty{}))
	require.NoError(t, err)

	assert.JSONEq(t, `{"id":"item-1","list_id":"list-1","title":"Espresso grinder","is_reserved":true}`, string(body))
}

func TestDetail_PurchasedActions(t *testing.T) {
	t.Parallel()

	at := testNow.Add(time.Minute)
	res := claimedBy(domain.AnonymousClaimant{Name: "Bob", Email: "bob@example.com", TokenHash: captoken.Hash("tok")})
	res.PurchasedAt = &at

	view := Detail(*res)
	assert.True(t, view.Anonymous)
	require.NotNil(t, view.PurchasedAt)
	assert.Equal(t, at, *view.PurchasedAt)
	assert.Equal(t, []Action{ActionCancel, ActionUnmarkPurchased}, view.Actions)

	body, err := json.Marshal(view)
	require.NoError(t, err)
	assert.NotContains(t, string(body), captoken.Hash("tok"))
}

func TestResolveRole(t *testing.T) {
	t.Parallel()

	authRes := claimedBy(domain.AuthenticatedClaimant{IdentityID: "alice"})
	anonRes := claimedBy(domain.AnonymousClaimant{Name: "Anonymous", Email: "x@example.com", TokenHash: captoken.Hash("secret")})

	tests := []struct {
		name    string
		res     *domain.Reservation
		viewer  Viewer
		coAdmin bool
		want    Role
	}{
		{name: "authenticated claimant", res: authRes, viewer: Viewer{Actor: &domain.Actor{ID: "alice"}}, want: Claimant{}},
		{name: "token holder", res: anonRes, viewer: Viewer{CapabilityToken: "secret"}, want: Claimant{}},
		{name: "wrong token", res: anonRes, viewer: Viewer{CapabilityToken: "guess"}, want: ThirdParty{}},
		{name: "owner", res: authRes, viewer: Viewer{Actor: &domain.Actor{ID: "owner"}}, want: Owner{}},
		{name: "owner who is also co-admin", res: nil, viewer: Viewer{Actor: &domain.Actor{ID: "owner"}}, coAdmin: true, want: Owner{}},
		{name: "co-admin", res: authRes, viewer: Viewer{Actor: &domain.Actor{ID: "dave"}}, coAdmin: true, want: CoAdmin{}},
		{name: "member", res: authRes, viewer: Viewer{Actor: &domain.Actor{ID: "erin"}}, want: ThirdParty{}},
		{name: "nobody", res: nil, viewer: Viewer{}, want: ThirdParty{}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ResolveRole(testItem, tt.res, tt.viewer, tt.coAdmin)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.String(), got.String())
		})
	}
}
