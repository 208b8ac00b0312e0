package wizard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCustomerJourney walks one customer from move details to an accepted
// final offer.
func TestCustomerJourney(t *testing.T) {
	fb := newFakeBackend()
	fb.createOffer = func(req CreateOfferRequest) (Offer, error) {
		return Offer{ID: "O1", Status: OfferDraft, VideoID: req.VideoID}, nil
	}
	fb.checkStatus = func(_ context.Context, id string) (AnalysisJob, error) {
		return AnalysisJob{
			ID:     id,
			Status: JobSucceeded,
			DetectedItems: []DetectedItem{
				{Label: "Sofa", Confidence: 0.93, Quantity: 1},
				{Label: "Kühlschrank", Confidence: 0.88, Quantity: 1},
			},
		}, nil
	}
	store := newInventoryStore(Inventory{
		ID:      "INV1",
		OfferID: "O1",
		Status:  InventoryDraft,
		Items: []InventoryItem{
			{Name: "Sofa", Quantity: 1, Volume: ptr(2.5), Source: SourceAIDetected},
			{Name: "Kühlschrank", Quantity: 1, Volume: ptr(0.8), Source: SourceAIDetected},
		},
	})
	store.wire(fb)
	accepted := false
	fb.getFinalOffers = func(offerID string) ([]FinalOffer, error) {
		status := FinalOfferSubmitted
		if accepted {
			status = FinalOfferAccepted
		}
		return []FinalOffer{{ID: "F1", OfferID: offerID, CompanyID: "C7", TotalPrice: 1290, Status: status}}, nil
	}
	fb.acceptFinalOffer = func(id string) (FinalOffer, error) {
		accepted = true
		return FinalOffer{ID: id, Status: FinalOfferAccepted}, nil
	}

	e := New(fb, WithPollInterval(5*time.Millisecond), WithClock(fixedClock))
	ctx := context.Background()

	require.NoError(t, e.SetMoveDetails(completeDetails()))
	require.True(t, e.State().CanProceedToUpload())
	e.NextStep()

	_, err := e.UploadVideo(ctx, VideoFile{Name: "wohnung.mp4", ContentType: "video/mp4"})
	require.NoError(t, err)
	require.True(t, e.State().CanProceedToAnalysis())
	_, err = e.CreateOffer(ctx)
	require.NoError(t, err)
	e.NextStep()

	job, err := e.StartAnalysis(ctx)
	require.NoError(t, err)
	assert.Equal(t, JobPending, job.Status)
	h := e.StartPollingAnalysis(job.ID)
	waitDone(t, h)
	require.True(t, e.State().IsAnalysisComplete())
	e.NextStep()

	_, err = e.LoadInventoryByOffer(ctx, "O1")
	require.NoError(t, err)
	require.NoError(t, e.AddInventoryItem(ctx, InventoryItemRequest{Name: "Umzugskarton", Quantity: 10, Volume: ptr(0.06)}))
	assert.InDelta(t, 3.9, e.State().TotalVolume(), 1e-9)
	e.NextStep()

	inv, err := e.ConfirmInventory(ctx)
	require.NoError(t, err)
	assert.Equal(t, InventoryConfirmed, inv.Status)
	e.NextStep()

	offers, err := e.LoadFinalOffers(ctx, "O1")
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, FinalOfferSubmitted, offers[0].Status)

	_, err = e.AcceptFinalOffer(ctx, "F1")
	require.NoError(t, err)

	s := e.State()
	assert.Equal(t, StepViewOffers, s.Step)
	list, ok := s.FinalOffers.Get()
	require.True(t, ok)
	assert.Equal(t, FinalOfferAccepted, list[0].Status)
	assert.Equal(t, 2, fb.count("GetFinalOffers"))
	assert.False(t, s.Loading)
	assert.Empty(t, s.Error)
}
