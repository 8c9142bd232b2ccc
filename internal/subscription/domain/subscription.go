package domain

import (
	"errors"
	"math/big"
	"sort"
	"strings"
	"time"

	sharedDomain "github.com/gaspass/gaspass/internal/shared/domain"
	"github.com/google/uuid"
)

var (
	ErrNotFound            = errors.New("subscription not found")
	ErrInvalidWindow       = errors.New("start time must be before end time")
	ErrNotActive           = errors.New("subscription is not active")
	ErrInsufficientBalance = errors.New("insufficient remaining balance")
	ErrStillActive         = errors.New("subscription is still active")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrNotOwner            = errors.New("caller does not own the subscription")
	ErrAddressNotSponsored = errors.New("address is not sponsored")
)

// Subscription is a balance- and time-bounded entitlement to gas-fee
// sponsorship. The record on homeChainID is authoritative; usage on other
// chains is folded back in through reconciliation messages.
type Subscription struct {
	sharedDomain.BaseAggregateRoot
	owner        string
	homeChainID  uint64
	paymentToken string
	startTime    time.Time
	endTime      time.Time
	paidAmount   *big.Int
	remaining    *big.Int
	sponsored    map[string]struct{}
}

// NewSubscription mints a subscription. The remaining balance starts equal to
// the paid amount, and every address in sponsoredAddresses may consume it.
func NewSubscription(owner string, homeChainID uint64, paymentToken string, startTime, endTime time.Time, paidAmount *big.Int, sponsoredAddresses []string) (*Subscription, error) {
	if !startTime.Before(endTime) {
		return nil, ErrInvalidWindow
	}
	if paidAmount == nil || paidAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	s := &Subscription{
		BaseAggregateRoot: sharedDomain.NewBaseAggregateRoot(),
		owner:             normalizeAddress(owner),
		homeChainID:       homeChainID,
		paymentToken:      normalizeAddress(paymentToken),
		startTime:         startTime.UTC(),
		endTime:           endTime.UTC(),
		paidAmount:        new(big.Int).Set(paidAmount),
		remaining:         new(big.Int).Set(paidAmount),
		sponsored:         make(map[string]struct{}, len(sponsoredAddresses)),
	}
	for _, addr := range sponsoredAddresses {
		s.sponsored[normalizeAddress(addr)] = struct{}{}
	}

	s.AddDomainEvent(NewSubscriptionMinted(s))

	return s, nil
}

// Rehydrate recreates a subscription from persisted state.
func Rehydrate(id uuid.UUID, owner string, homeChainID uint64, paymentToken string, startTime, endTime time.Time, paidAmount, remaining *big.Int, sponsoredAddresses []string, createdAt, updatedAt time.Time) *Subscription {
	s := &Subscription{
		BaseAggregateRoot: sharedDomain.RehydrateBaseAggregateRoot(
			sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt),
		),
		owner:        normalizeAddress(owner),
		homeChainID:  homeChainID,
		paymentToken: normalizeAddress(paymentToken),
		startTime:    startTime.UTC(),
		endTime:      endTime.UTC(),
		paidAmount:   new(big.Int).Set(paidAmount),
		remaining:    new(big.Int).Set(remaining),
		sponsored:    make(map[string]struct{}, len(sponsoredAddresses)),
	}
	for _, addr := range sponsoredAddresses {
		s.sponsored[normalizeAddress(addr)] = struct{}{}
	}
	return s
}

func (s *Subscription) Owner() string        { return s.owner }
func (s *Subscription) HomeChainID() uint64  { return s.homeChainID }
func (s *Subscription) PaymentToken() string { return s.paymentToken }
func (s *Subscription) StartTime() time.Time { return s.startTime }
func (s *Subscription) EndTime() time.Time   { return s.endTime }

// PaidAmount returns a copy of the cumulative deposited amount.
func (s *Subscription) PaidAmount() *big.Int { return new(big.Int).Set(s.paidAmount) }

// RemainingBalance returns a copy of the spendable balance.
func (s *Subscription) RemainingBalance() *big.Int { return new(big.Int).Set(s.remaining) }

// SponsoredAddresses returns the sponsored set in sorted order.
func (s *Subscription) SponsoredAddresses() []string {
	addrs := make([]string, 0, len(s.sponsored))
	for addr := range s.sponsored {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

// IsSponsored reports whether addr may consume this subscription.
func (s *Subscription) IsSponsored(addr string) bool {
	_, ok := s.sponsored[normalizeAddress(addr)]
	return ok
}

// IsOwnedBy reports whether addr holds the subscription token.
func (s *Subscription) IsOwnedBy(addr string) bool {
	return s.owner == normalizeAddress(addr)
}

// IsActiveAt reports whether the subscription is active at the given instant.
// Both window bounds are inclusive.
func (s *Subscription) IsActiveAt(now time.Time) bool {
	if s.remaining.Sign() <= 0 {
		return false
	}
	return !now.Before(s.startTime) && !now.After(s.endTime)
}

// Deduct permanently removes amount from the remaining balance. The validity
// window is checked before the balance: a subscription whose window has lapsed
// rejects with ErrNotActive, while one that is merely balance-exhausted still
// accepts the deduction that exhausts it.
func (s *Subscription) Deduct(amount *big.Int, now time.Time) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if now.Before(s.startTime) || now.After(s.endTime) {
		return ErrNotActive
	}
	if amount.Cmp(s.remaining) > 0 {
		return ErrInsufficientBalance
	}

	s.remaining.Sub(s.remaining, amount)
	s.Touch()
	s.AddDomainEvent(NewBalanceDeducted(s, amount))
	return nil
}

// DeductCapped removes up to amount from the remaining balance, capping at
// whatever is left. It returns the amount actually deducted and the shortfall
// (zero when the full amount fit). Used at settlement and for reconciled
// cross-chain usage, where the spend already happened and cannot be refused.
func (s *Subscription) DeductCapped(amount *big.Int) (deducted, shortfall *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0), big.NewInt(0)
	}

	deducted = new(big.Int).Set(amount)
	shortfall = big.NewInt(0)
	if deducted.Cmp(s.remaining) > 0 {
		shortfall.Sub(deducted, s.remaining)
		deducted.Set(s.remaining)
	}
	if deducted.Sign() > 0 {
		s.remaining.Sub(s.remaining, deducted)
		s.Touch()
		s.AddDomainEvent(NewBalanceDeducted(s, deducted))
	}
	return deducted, shortfall
}

// TopUp increases both the paid amount and the remaining balance.
func (s *Subscription) TopUp(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	s.paidAmount.Add(s.paidAmount, amount)
	s.remaining.Add(s.remaining, amount)
	s.Touch()
	s.AddDomainEvent(NewSubscriptionToppedUp(s, amount))
	return nil
}

// ExtendWindow pushes the end of the validity window out by the given duration.
func (s *Subscription) ExtendWindow(additional time.Duration) error {
	if additional <= 0 {
		return ErrInvalidAmount
	}

	s.endTime = s.endTime.Add(additional)
	s.Touch()
	s.AddDomainEvent(NewWindowExtended(s))
	return nil
}

// SetSponsoredAddresses replaces the sponsored set.
func (s *Subscription) SetSponsoredAddresses(addresses []string) {
	s.sponsored = make(map[string]struct{}, len(addresses))
	for _, addr := range addresses {
		s.sponsored[normalizeAddress(addr)] = struct{}{}
	}
	s.Touch()
	s.AddDomainEvent(NewSponsoredSetReplaced(s))
}

// AddSponsored adds an address to the sponsored set. Adding an address that is
// already present is a no-op.
func (s *Subscription) AddSponsored(addr string) {
	normalized := normalizeAddress(addr)
	if _, ok := s.sponsored[normalized]; ok {
		return
	}
	s.sponsored[normalized] = struct{}{}
	s.Touch()
	s.AddDomainEvent(NewSponsoredAddressAdded(s, normalized))
}

// RemoveSponsored removes an address from the sponsored set.
func (s *Subscription) RemoveSponsored(addr string) error {
	normalized := normalizeAddress(addr)
	if _, ok := s.sponsored[normalized]; !ok {
		return ErrAddressNotSponsored
	}
	delete(s.sponsored, normalized)
	s.Touch()
	s.AddDomainEvent(NewSponsoredAddressRemoved(s, normalized))
	return nil
}

// Burn marks the subscription for removal. An active subscription can never
// be burned.
func (s *Subscription) Burn(now time.Time) error {
	if s.IsActiveAt(now) {
		return ErrStillActive
	}
	s.AddDomainEvent(NewSubscriptionBurned(s))
	return nil
}

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
