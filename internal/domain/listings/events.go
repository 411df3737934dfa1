package listings

import "time"

const (
	EventListingCreated   = "listing.created"
	EventListingPublished = "listing.published"
	EventListingSold      = "listing.sold"
	EventListingSuspended = "listing.suspended"
)

type ListingEvent struct {
	Name      string    `json:"name"`
	ListingID ListingID `json:"listing_id"`
	SellerID  SellerID  `json:"seller_id"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

func (e ListingEvent) EventName() string     { return e.Name }
func (e ListingEvent) AggregateID() string   { return string(e.ListingID) }
func (e ListingEvent) OccurredAt() time.Time { return e.At }
