package wizard

import "context"

// OfferService creates move offers and handles the customer's decision on
// final offers.
type OfferService interface {
	CreateOffer(ctx context.Context, req CreateOfferRequest) (Offer, error)
	GetFinalOffers(ctx context.Context, offerID string) ([]FinalOffer, error)
	AcceptFinalOffer(ctx context.Context, finalOfferID string) (FinalOffer, error)
	RejectFinalOffer(ctx context.Context, finalOfferID, reason string) (FinalOffer, error)
}

// VideoService stores uploaded footage.
type VideoService interface {
	UploadVideo(ctx context.Context, file VideoFile) (Video, error)
}

// AnalysisService starts and reports on AI inventory detection jobs.
type AnalysisService interface {
	StartAnalysis(ctx context.Context, videoID, offerID string) (AnalysisJob, error)
	CheckAnalysisStatus(ctx context.Context, jobID string) (AnalysisJob, error)
}

// InventoryService owns the inventory aggregate. Every mutation returns the
// full, server-computed inventory.
type InventoryService interface {
	GetInventory(ctx context.Context, inventoryID string) (Inventory, error)
	GetInventoryByOffer(ctx context.Context, offerID string) (Inventory, error)
	AddInventoryItem(ctx context.Context, inventoryID string, req InventoryItemRequest) (Inventory, error)
	UpdateInventoryItem(ctx context.Context, inventoryID string, index int, req UpdateInventoryItemRequest) (Inventory, error)
	RemoveInventoryItem(ctx context.Context, inventoryID string, index int) (Inventory, error)
	ReplaceInventoryItems(ctx context.Context, inventoryID string, items []InventoryItemRequest) (Inventory, error)
	ConfirmInventory(ctx context.Context, inventoryID string) (Inventory, error)
}

// Backend bundles every collaborator the engine talks to.
type Backend interface {
	OfferService
	VideoService
	AnalysisService
	InventoryService
}
