package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertexffs/ffscore/internal/decimal"
	"github.com/vertexffs/ffscore/internal/domain"
)

func sampleEntry(calcId string, at time.Time) domain.AuditEntry {
	return domain.AuditEntry{
		CalculationId:            calcId,
		PerformedAt:              at,
		Performer:                "orchestrator",
		InputHash:                "input-hash-" + calcId,
		OutputHash:               "output-hash-" + calcId,
		SoftwareVersion:          "ffscore/1.0.0",
		CalculationMethodVersion: "API579-Part4-5-L1/1.0",
	}
}

func TestCanonicalHashIsOrderIndependent(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2, "c": map[string]any{"y": 1, "x": 2}}
	b := map[string]any{"c": map[string]any{"x": 2, "y": 1}, "a": 2, "b": 1}

	hashA, err := CanonicalHash(a)
	require.NoError(t, err)
	hashB, err := CanonicalHash(b)
	require.NoError(t, err)
	assert.Equal(t, hashA, hashB)
}

func TestCanonicalHashDiffersOnContentChange(t *testing.T) {
	hashA, err := CanonicalHash(map[string]any{"a": 1})
	require.NoError(t, err)
	hashB, err := CanonicalHash(map[string]any{"a": 2})
	require.NoError(t, err)
	assert.NotEqual(t, hashA, hashB)
}

// TestCanonicalHashDiffersOnDecimalFieldChange guards against a Decimal
// field marshaling to an empty object: two results whose only difference is
// a decimal.Decimal value must hash differently, or the audit chain cannot
// detect tampering with the very numbers it exists to protect.
func TestCanonicalHashDiffersOnDecimalFieldChange(t *testing.T) {
	base := domain.CalculationResult{
		CalculationId: "CALC-1",
		EquipmentTag:  "V-101",
		TMin:          decimal.MustFromString("0.2129"),
		Mawp:          decimal.MustFromString("250.00"),
		Rsf:           decimal.MustFromString("0.85"),
	}
	changed := base
	changed.Rsf = decimal.MustFromString("0.70")

	hashBase, err := CanonicalHash(base)
	require.NoError(t, err)
	hashChanged, err := CanonicalHash(changed)
	require.NoError(t, err)
	assert.NotEqual(t, hashBase, hashChanged)

	hashBaseAgain, err := CanonicalHash(base)
	require.NoError(t, err)
	assert.Equal(t, hashBase, hashBaseAgain)
}

func TestMemoryStoreAppendChainsHashes(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first, err := store.Append(ctx, sampleEntry("CALC-1", base))
	require.NoError(t, err)
	assert.Empty(t, first.PrevChainHash)
	assert.NotEmpty(t, first.ChainHash)

	second, err := store.Append(ctx, sampleEntry("CALC-2", base.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, first.ChainHash, second.PrevChainHash)
	assert.NotEqual(t, first.ChainHash, second.ChainHash)
}

func TestMemoryStoreGetReturnsAppendedEntry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	appended, err := store.Append(ctx, sampleEntry("CALC-1", time.Now()))
	require.NoError(t, err)

	got, err := store.Get(ctx, "CALC-1")
	require.NoError(t, err)
	assert.Equal(t, appended.ChainHash, got.ChainHash)
}

func TestMemoryStoreGetUnknownIdFails(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "does-not-exist")
	require.Error(t, err)
}

func TestMemoryStoreVerifyDetectsTamperedContentHash(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := store.Append(ctx, sampleEntry("CALC-1", base))
	require.NoError(t, err)
	_, err = store.Append(ctx, sampleEntry("CALC-2", base.Add(time.Hour)))
	require.NoError(t, err)

	// Tamper with the first record's recorded output hash without
	// recomputing its content hash, simulating a direct data edit.
	store.entries[0].OutputHash = "tampered"

	result, err := store.Verify(ctx, base.Add(-time.Hour), base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Breaks)
}

func TestMemoryStoreVerifyTamperDoesNotCascadeToLaterEntries(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := store.Append(ctx, sampleEntry("CALC-1", base))
	require.NoError(t, err)
	_, err = store.Append(ctx, sampleEntry("CALC-2", base.Add(time.Hour)))
	require.NoError(t, err)
	_, err = store.Append(ctx, sampleEntry("CALC-3", base.Add(2*time.Hour)))
	require.NoError(t, err)

	store.entries[0].OutputHash = "tampered"

	result, err := store.Verify(ctx, base.Add(-time.Hour), base.Add(3*time.Hour))
	require.NoError(t, err)
	assert.False(t, result.Valid)
	require.Len(t, result.Breaks, 1, "only the tampered record itself should be reported broken")
	assert.Contains(t, result.Breaks[0], "CALC-1")
}

func TestMemoryStoreVerifyPassesUntamperedChain(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := store.Append(ctx, sampleEntry("CALC-"+string(rune('1'+i)), base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}

	result, err := store.Verify(ctx, base.Add(-time.Hour), base.Add(5*time.Hour))
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 3, result.RecordsChecked)
	assert.Empty(t, result.Breaks)
}
