package storage

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mindburn-labs/assay/pkg/decision"
	"github.com/mindburn-labs/assay/pkg/mandate"
	"github.com/mindburn-labs/assay/pkg/proxy"
)

func TestReceiptStore_SaveThenLookup(t *testing.T) {
	s := openMemStore(t)
	store := s.NewReceiptStore(nil)

	_, ok := store.Lookup("tc1")
	require.False(t, ok)

	receipt := proxy.Receipt{
		Decision: decision.Decision{
			Verdict:    decision.Allow,
			PolicyRefs: []string{"rule-1"},
			Timestamp:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			ToolCallID: "tc1",
		},
		Authz: &mandate.AuthzReceipt{
			UseID:      "use-1",
			WasNew:     true,
			MandateID:  "m1",
			ConsumedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	store.Save("tc1", receipt)

	got, ok := store.Lookup("tc1")
	require.True(t, ok)
	require.Equal(t, decision.Allow, got.Decision.Verdict)
	require.Equal(t, []string{"rule-1"}, got.Decision.PolicyRefs)
	require.NotNil(t, got.Authz)
	require.Equal(t, "use-1", got.Authz.UseID)
	require.True(t, got.Authz.WasNew)
}

func TestReceiptStore_SaveWithoutAuthz(t *testing.T) {
	s := openMemStore(t)
	store := s.NewReceiptStore(nil)

	store.Save("tc2", proxy.Receipt{Decision: decision.Decision{Verdict: decision.Deny, ToolCallID: "tc2"}})

	got, ok := store.Lookup("tc2")
	require.True(t, ok)
	require.Equal(t, decision.Deny, got.Decision.Verdict)
	require.Nil(t, got.Authz)
}

func TestReceiptStore_SurvivesAcrossInstances(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s1, err := New(db)
	require.NoError(t, err)
	s1.NewReceiptStore(nil).Save("tc1", proxy.Receipt{Decision: decision.Decision{Verdict: decision.Allow, ToolCallID: "tc1"}})

	s2, err := New(db)
	require.NoError(t, err)
	got, ok := s2.NewReceiptStore(nil).Lookup("tc1")
	require.True(t, ok)
	require.Equal(t, decision.Allow, got.Decision.Verdict)
}
