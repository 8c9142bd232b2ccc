package domain

import (
	"math/big"
	"time"

	sharedDomain "github.com/gaspass/gaspass/internal/shared/domain"
	"github.com/google/uuid"
)

const aggregateType = "Subscription"

// SubscriptionMinted is emitted when a subscription is minted.
type SubscriptionMinted struct {
	sharedDomain.BaseEvent
	SubscriptionID uuid.UUID `json:"subscription_id"`
	Owner          string    `json:"owner"`
	HomeChainID    uint64    `json:"home_chain_id"`
	PaymentToken   string    `json:"payment_token"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	PaidAmount     string    `json:"paid_amount"`
}

// NewSubscriptionMinted creates a SubscriptionMinted event.
func NewSubscriptionMinted(s *Subscription) *SubscriptionMinted {
	return &SubscriptionMinted{
		BaseEvent:      sharedDomain.NewBaseEvent(s.ID(), aggregateType, "subscription.minted"),
		SubscriptionID: s.ID(),
		Owner:          s.Owner(),
		HomeChainID:    s.HomeChainID(),
		PaymentToken:   s.PaymentToken(),
		StartTime:      s.StartTime(),
		EndTime:        s.EndTime(),
		PaidAmount:     s.PaidAmount().String(),
	}
}

// BalanceDeducted is emitted for every permanent balance deduction.
type BalanceDeducted struct {
	sharedDomain.BaseEvent
	SubscriptionID   uuid.UUID `json:"subscription_id"`
	Amount           string    `json:"amount"`
	RemainingBalance string    `json:"remaining_balance"`
}

// NewBalanceDeducted creates a BalanceDeducted event.
func NewBalanceDeducted(s *Subscription, amount *big.Int) *BalanceDeducted {
	return &BalanceDeducted{
		BaseEvent:        sharedDomain.NewBaseEvent(s.ID(), aggregateType, "subscription.balance.deducted"),
		SubscriptionID:   s.ID(),
		Amount:           amount.String(),
		RemainingBalance: s.RemainingBalance().String(),
	}
}

// SubscriptionToppedUp is emitted when a subscription balance is topped up.
type SubscriptionToppedUp struct {
	sharedDomain.BaseEvent
	SubscriptionID   uuid.UUID `json:"subscription_id"`
	Amount           string    `json:"amount"`
	PaidAmount       string    `json:"paid_amount"`
	RemainingBalance string    `json:"remaining_balance"`
}

// NewSubscriptionToppedUp creates a SubscriptionToppedUp event.
func NewSubscriptionToppedUp(s *Subscription, amount *big.Int) *SubscriptionToppedUp {
	return &SubscriptionToppedUp{
		BaseEvent:        sharedDomain.NewBaseEvent(s.ID(), aggregateType, "subscription.topped_up"),
		SubscriptionID:   s.ID(),
		Amount:           amount.String(),
		PaidAmount:       s.PaidAmount().String(),
		RemainingBalance: s.RemainingBalance().String(),
	}
}

// WindowExtended is emitted when the validity window is extended.
type WindowExtended struct {
	sharedDomain.BaseEvent
	SubscriptionID uuid.UUID `json:"subscription_id"`
	EndTime        time.Time `json:"end_time"`
}

// NewWindowExtended creates a WindowExtended event.
func NewWindowExtended(s *Subscription) *WindowExtended {
	return &WindowExtended{
		BaseEvent:      sharedDomain.NewBaseEvent(s.ID(), aggregateType, "subscription.window.extended"),
		SubscriptionID: s.ID(),
		EndTime:        s.EndTime(),
	}
}

// SponsoredAddressAdded is emitted when an address joins the sponsored set.
type SponsoredAddressAdded struct {
	sharedDomain.BaseEvent
	SubscriptionID uuid.UUID `json:"subscription_id"`
	Address        string    `json:"address"`
}

// NewSponsoredAddressAdded creates a SponsoredAddressAdded event.
func NewSponsoredAddressAdded(s *Subscription, addr string) *SponsoredAddressAdded {
	return &SponsoredAddressAdded{
		BaseEvent:      sharedDomain.NewBaseEvent(s.ID(), aggregateType, "subscription.sponsored.added"),
		SubscriptionID: s.ID(),
		Address:        addr,
	}
}

// SponsoredAddressRemoved is emitted when an address leaves the sponsored set.
type SponsoredAddressRemoved struct {
	sharedDomain.BaseEvent
	SubscriptionID uuid.UUID `json:"subscription_id"`
	Address        string    `json:"address"`
}

// NewSponsoredAddressRemoved creates a SponsoredAddressRemoved event.
func NewSponsoredAddressRemoved(s *Subscription, addr string) *SponsoredAddressRemoved {
	return &SponsoredAddressRemoved{
		BaseEvent:      sharedDomain.NewBaseEvent(s.ID(), aggregateType, "subscription.sponsored.removed"),
		SubscriptionID: s.ID(),
		Address:        addr,
	}
}

// SponsoredSetReplaced is emitted when the sponsored set is replaced wholesale.
type SponsoredSetReplaced struct {
	sharedDomain.BaseEvent
	SubscriptionID uuid.UUID `json:"subscription_id"`
	Addresses      []string  `json:"addresses"`
}

// NewSponsoredSetReplaced creates a SponsoredSetReplaced event.
func NewSponsoredSetReplaced(s *Subscription) *SponsoredSetReplaced {
	return &SponsoredSetReplaced{
		BaseEvent:      sharedDomain.NewBaseEvent(s.ID(), aggregateType, "subscription.sponsored.replaced"),
		SubscriptionID: s.ID(),
		Addresses:      s.SponsoredAddresses(),
	}
}

// SubscriptionBurned is emitted when an inactive subscription is burned.
type SubscriptionBurned struct {
	sharedDomain.BaseEvent
	SubscriptionID uuid.UUID `json:"subscription_id"`
	Owner          string    `json:"owner"`
}

// NewSubscriptionBurned creates a SubscriptionBurned event.
func NewSubscriptionBurned(s *Subscription) *SubscriptionBurned {
	return &SubscriptionBurned{
		BaseEvent:      sharedDomain.NewBaseEvent(s.ID(), aggregateType, "subscription.burned"),
		SubscriptionID: s.ID(),
		Owner:          s.Owner(),
	}
}
