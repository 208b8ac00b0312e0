package backend

import (
	"context"
	"errors"
	"net/http"

	"mymove-wizard/internal/wizard"
)

// CreateOffer creates the customer's move request.
func (c *Client) CreateOffer(ctx context.Context, req wizard.CreateOfferRequest) (wizard.Offer, error) {
	var out wizard.Offer
	err := c.doJSON(ctx, http.MethodPost, "/v1/offers", req, &out)
	return out, err
}

// GetFinalOffers lists every final offer submitted for offerID.
func (c *Client) GetFinalOffers(ctx context.Context, offerID string) ([]wizard.FinalOffer, error) {
	var out []wizard.FinalOffer
	if err := c.doJSON(ctx, http.MethodGet, "/v1/offers/"+pathID(offerID)+"/final-offers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetBestOffer returns the cheapest valid final offer, or nil when none exists.
func (c *Client) GetBestOffer(ctx context.Context, offerID string) (*wizard.FinalOffer, error) {
	var out wizard.FinalOffer
	err := c.doJSON(ctx, http.MethodGet, "/v1/offers/"+pathID(offerID)+"/best-offer", nil, &out)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AcceptFinalOffer accepts one company's proposal.
func (c *Client) AcceptFinalOffer(ctx context.Context, finalOfferID string) (wizard.FinalOffer, error) {
	var out wizard.FinalOffer
	err := c.doJSON(ctx, http.MethodPost, "/v1/final-offers/"+pathID(finalOfferID)+"/accept", nil, &out)
	return out, err
}

type rejectRequest struct {
	Reason string `json:"reason,omitempty"`
}

// RejectFinalOffer rejects one company's proposal with an optional reason.
func (c *Client) RejectFinalOffer(ctx context.Context, finalOfferID, reason string) (wizard.FinalOffer, error) {
	var out wizard.FinalOffer
	err := c.doJSON(ctx, http.MethodPost, "/v1/final-offers/"+pathID(finalOfferID)+"/reject", rejectRequest{Reason: reason}, &out)
	return out, err
}
