package domain

import (
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWindow() (time.Time, time.Time) {
	start := time.Now().UTC().Add(-time.Hour)
	return start, start.Add(24 * time.Hour)
}

func mintTestSubscription(t *testing.T, paid int64) *Subscription {
	t.Helper()
	start, end := testWindow()
	sub, err := NewSubscription("0xOwner", 1, "0xToken", start, end, big.NewInt(paid), []string{"0xAlice", "0xBob"})
	require.NoError(t, err)
	return sub
}

func TestNewSubscription(t *testing.T) {
	start, end := testWindow()
	sub, err := NewSubscription("0xOwNeR", 1, "0xToKeN", start, end, big.NewInt(100), []string{"0xAlice"})

	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, sub.ID())
	assert.Equal(t, "0xowner", sub.Owner())
	assert.Equal(t, uint64(1), sub.HomeChainID())
	assert.Equal(t, "0xtoken", sub.PaymentToken())
	assert.Equal(t, big.NewInt(100), sub.PaidAmount())
	assert.Equal(t, big.NewInt(100), sub.RemainingBalance())
	assert.Equal(t, []string{"0xalice"}, sub.SponsoredAddresses())
}

func TestNewSubscription_EmitsEvent(t *testing.T) {
	sub := mintTestSubscription(t, 100)

	events := sub.DomainEvents()
	require.Len(t, events, 1)

	minted, ok := events[0].(*SubscriptionMinted)
	require.True(t, ok)
	assert.Equal(t, sub.ID(), minted.AggregateID())
}

func TestNewSubscription_InvalidWindow(t *testing.T) {
	now := time.Now().UTC()

	_, err := NewSubscription("0xOwner", 1, "0xToken", now, now, big.NewInt(100), nil)
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = NewSubscription("0xOwner", 1, "0xToken", now.Add(time.Hour), now, big.NewInt(100), nil)
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestNewSubscription_InvalidAmount(t *testing.T) {
	start, end := testWindow()

	_, err := NewSubscription("0xOwner", 1, "0xToken", start, end, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = NewSubscription("0xOwner", 1, "0xToken", start, end, big.NewInt(0), nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = NewSubscription("0xOwner", 1, "0xToken", start, end, big.NewInt(-5), nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestSubscription_IsActiveAt_WindowBounds(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(30 * 24 * time.Hour)
	sub, err := NewSubscription("0xOwner", 1, "0xToken", start, end, big.NewInt(100), nil)
	require.NoError(t, err)

	// Both bounds are inclusive
	assert.True(t, sub.IsActiveAt(start))
	assert.True(t, sub.IsActiveAt(end))
	assert.True(t, sub.IsActiveAt(start.Add(time.Hour)))
	assert.False(t, sub.IsActiveAt(start.Add(-time.Nanosecond)))
	assert.False(t, sub.IsActiveAt(end.Add(time.Nanosecond)))
}

func TestSubscription_IsActiveAt_ExhaustedBalance(t *testing.T) {
	sub := mintTestSubscription(t, 100)
	now := time.Now().UTC()

	require.NoError(t, sub.Deduct(big.NewInt(100), now))
	assert.False(t, sub.IsActiveAt(now))
}

func TestSubscription_Deduct(t *testing.T) {
	sub := mintTestSubscription(t, 100)
	now := time.Now().UTC()

	require.NoError(t, sub.Deduct(big.NewInt(40), now))
	assert.Equal(t, big.NewInt(60), sub.RemainingBalance())
	assert.Equal(t, big.NewInt(100), sub.PaidAmount())
}

func TestSubscription_Deduct_InsufficientBalance(t *testing.T) {
	sub := mintTestSubscription(t, 100)
	now := time.Now().UTC()

	err := sub.Deduct(big.NewInt(101), now)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, big.NewInt(100), sub.RemainingBalance())
}

func TestSubscription_Deduct_OutsideWindow(t *testing.T) {
	start := time.Now().UTC().Add(-48 * time.Hour)
	end := start.Add(24 * time.Hour)
	sub, err := NewSubscription("0xOwner", 1, "0xToken", start, end, big.NewInt(100), nil)
	require.NoError(t, err)

	err = sub.Deduct(big.NewInt(10), time.Now().UTC())
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestSubscription_Deduct_ExhaustingIsAllowed(t *testing.T) {
	sub := mintTestSubscription(t, 100)
	now := time.Now().UTC()

	// The deduction that empties the balance is still accepted
	require.NoError(t, sub.Deduct(big.NewInt(100), now))
	assert.Equal(t, big.NewInt(0), sub.RemainingBalance())
}

func TestSubscription_DeductCapped(t *testing.T) {
	sub := mintTestSubscription(t, 100)

	deducted, shortfall := sub.DeductCapped(big.NewInt(60))
	assert.Equal(t, big.NewInt(60), deducted)
	assert.Equal(t, big.NewInt(0), shortfall)
	assert.Equal(t, big.NewInt(40), sub.RemainingBalance())

	deducted, shortfall = sub.DeductCapped(big.NewInt(70))
	assert.Equal(t, big.NewInt(40), deducted)
	assert.Equal(t, big.NewInt(30), shortfall)
	assert.Equal(t, big.NewInt(0), sub.RemainingBalance())
}

func TestSubscription_DeductCapped_NonPositive(t *testing.T) {
	sub := mintTestSubscription(t, 100)

	deducted, shortfall := sub.DeductCapped(nil)
	assert.Equal(t, big.NewInt(0), deducted)
	assert.Equal(t, big.NewInt(0), shortfall)

	deducted, shortfall = sub.DeductCapped(big.NewInt(0))
	assert.Equal(t, big.NewInt(0), deducted)
	assert.Equal(t, big.NewInt(0), shortfall)
	assert.Equal(t, big.NewInt(100), sub.RemainingBalance())
}

func TestSubscription_TopUp(t *testing.T) {
	sub := mintTestSubscription(t, 100)

	require.NoError(t, sub.TopUp(big.NewInt(50)))
	assert.Equal(t, big.NewInt(150), sub.PaidAmount())
	assert.Equal(t, big.NewInt(150), sub.RemainingBalance())

	assert.ErrorIs(t, sub.TopUp(big.NewInt(0)), ErrInvalidAmount)
	assert.ErrorIs(t, sub.TopUp(nil), ErrInvalidAmount)
}

func TestSubscription_ExtendWindow(t *testing.T) {
	sub := mintTestSubscription(t, 100)
	end := sub.EndTime()

	require.NoError(t, sub.ExtendWindow(48*time.Hour))
	assert.Equal(t, end.Add(48*time.Hour), sub.EndTime())

	assert.Error(t, sub.ExtendWindow(0))
	assert.Error(t, sub.ExtendWindow(-time.Hour))
}

func TestSubscription_SponsoredSet(t *testing.T) {
	sub := mintTestSubscription(t, 100)

	assert.True(t, sub.IsSponsored("0xALICE"))
	assert.True(t, sub.IsSponsored("0xbob"))
	assert.False(t, sub.IsSponsored("0xcarol"))

	sub.AddSponsored("0xCarol")
	assert.True(t, sub.IsSponsored("0xcarol"))

	require.NoError(t, sub.RemoveSponsored("0xAlice"))
	assert.False(t, sub.IsSponsored("0xalice"))

	err := sub.RemoveSponsored("0xdave")
	assert.ErrorIs(t, err, ErrAddressNotSponsored)

	sub.SetSponsoredAddresses([]string{"0xEve"})
	assert.Equal(t, []string{"0xeve"}, sub.SponsoredAddresses())
}

func TestSubscription_AddSponsored_AlreadyPresent(t *testing.T) {
	sub := mintTestSubscription(t, 100)
	sub.ClearDomainEvents()

	sub.AddSponsored("0xALICE")

	// No-op: no event, set unchanged
	assert.Empty(t, sub.DomainEvents())
	assert.Equal(t, []string{"0xalice", "0xbob"}, sub.SponsoredAddresses())
}

func TestSubscription_Burn(t *testing.T) {
	sub := mintTestSubscription(t, 100)
	now := time.Now().UTC()

	assert.ErrorIs(t, sub.Burn(now), ErrStillActive)

	// Exhausted balance makes it inactive and burnable
	_, _ = sub.DeductCapped(big.NewInt(100))
	assert.NoError(t, sub.Burn(now))
}

func TestSubscription_Burn_AfterWindow(t *testing.T) {
	start := time.Now().UTC().Add(-48 * time.Hour)
	end := start.Add(24 * time.Hour)
	sub, err := NewSubscription("0xOwner", 1, "0xToken", start, end, big.NewInt(100), nil)
	require.NoError(t, err)

	assert.NoError(t, sub.Burn(time.Now().UTC()))
}

func TestSubscription_IsOwnedBy(t *testing.T) {
	sub := mintTestSubscription(t, 100)

	assert.True(t, sub.IsOwnedBy("0xOWNER"))
	assert.True(t, sub.IsOwnedBy("  0xowner  "))
	assert.False(t, sub.IsOwnedBy("0xother"))
}

func TestRehydrate_RoundTrip(t *testing.T) {
	sub := mintTestSubscription(t, 100)
	require.NoError(t, sub.TopUp(big.NewInt(20)))

	copy := Rehydrate(
		sub.ID(), sub.Owner(), sub.HomeChainID(), sub.PaymentToken(),
		sub.StartTime(), sub.EndTime(), sub.PaidAmount(), sub.RemainingBalance(),
		sub.SponsoredAddresses(), sub.CreatedAt(), sub.UpdatedAt(),
	)

	assert.Equal(t, sub.ID(), copy.ID())
	assert.Equal(t, sub.Owner(), copy.Owner())
	assert.Equal(t, sub.PaidAmount(), copy.PaidAmount())
	assert.Equal(t, sub.RemainingBalance(), copy.RemainingBalance())
	assert.Equal(t, sub.SponsoredAddresses(), copy.SponsoredAddresses())
	assert.Empty(t, copy.DomainEvents())
}
