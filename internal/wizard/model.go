package wizard

import (
	"io"
	"time"
)

// DefaultCountry is prefilled on both addresses of a fresh wizard.
const DefaultCountry = "Österreich"

// Address is a postal address of the move origin or destination.
type Address struct {
	Street         string `json:"street" validate:"required"`
	HouseNumber    string `json:"houseNumber" validate:"required"`
	PostalCode     string `json:"postalCode" validate:"required"`
	City           string `json:"city" validate:"required"`
	Country        string `json:"country"`
	AdditionalInfo string `json:"additionalInfo,omitempty"`
}

// FloorDetails describes access conditions at one end of the move.
// Floor 0 is the ground floor, -1 the basement.
type FloorDetails struct {
	Floor                 int   `json:"floor"`
	HasElevator           bool  `json:"hasElevator"`
	NeedsNoParkingZone    bool  `json:"needsNoParkingZone"`
	WalkingDistanceMeters *int  `json:"walkingDistanceMeters,omitempty"`
	NarrowStairs          *bool `json:"narrowStairs,omitempty"`
	CarryOverThresholds   *bool `json:"carryOverThresholds,omitempty"`
}

// MoveDetails is the step-1 input. Cached values are replaced on merge,
// never mutated in place, so snapshots may share the pointers.
type MoveDetails struct {
	FromAddress *Address      `json:"fromAddress" validate:"required"`
	ToAddress   *Address      `json:"toAddress" validate:"required"`
	FromFloor   *FloorDetails `json:"fromFloor" validate:"required"`
	ToFloor     *FloorDetails `json:"toFloor" validate:"required"`
	NeedsBoxes  bool          `json:"needsBoxes"`
	BoxesCount  *int          `json:"boxesCount,omitempty" validate:"omitempty,min=1"`
	MoveDate    string        `json:"moveDate" validate:"required,datetime=2006-01-02"`
}

// MoveDetailsPatch carries the fields to merge into MoveDetails; nil means
// "leave unchanged".
type MoveDetailsPatch struct {
	FromAddress *Address      `json:"fromAddress,omitempty"`
	ToAddress   *Address      `json:"toAddress,omitempty"`
	FromFloor   *FloorDetails `json:"fromFloor,omitempty"`
	ToFloor     *FloorDetails `json:"toFloor,omitempty"`
	NeedsBoxes  *bool         `json:"needsBoxes,omitempty"`
	BoxesCount  *int          `json:"boxesCount,omitempty"`
	MoveDate    *string       `json:"moveDate,omitempty"`
}

func defaultMoveDetails(now time.Time) MoveDetails {
	return MoveDetails{
		FromAddress: &Address{Country: DefaultCountry},
		ToAddress:   &Address{Country: DefaultCountry},
		FromFloor:   &FloorDetails{},
		ToFloor:     &FloorDetails{},
		MoveDate:    now.Format(time.DateOnly),
	}
}

func (d MoveDetails) merge(p MoveDetailsPatch) MoveDetails {
	out := d
	if p.FromAddress != nil {
		a := *p.FromAddress
		out.FromAddress = &a
	}
	if p.ToAddress != nil {
		a := *p.ToAddress
		out.ToAddress = &a
	}
	if p.FromFloor != nil {
		f := *p.FromFloor
		out.FromFloor = &f
	}
	if p.ToFloor != nil {
		f := *p.ToFloor
		out.ToFloor = &f
	}
	if p.NeedsBoxes != nil {
		out.NeedsBoxes = *p.NeedsBoxes
	}
	if p.BoxesCount != nil {
		n := *p.BoxesCount
		out.BoxesCount = &n
	}
	if p.MoveDate != nil {
		out.MoveDate = *p.MoveDate
	}
	return out
}

// SpecialRequirements is sent alongside the offer when boxes are needed.
type SpecialRequirements struct {
	NeedsBoxes bool `json:"needsBoxes"`
	BoxesCount *int `json:"boxesCount,omitempty"`
}

// CreateOfferRequest is the payload for the offer service.
type CreateOfferRequest struct {
	VideoID             string               `json:"videoId,omitempty"`
	FromAddress         Address              `json:"fromAddress"`
	ToAddress           Address              `json:"toAddress"`
	FromFloor           FloorDetails         `json:"fromFloor"`
	ToFloor             FloorDetails         `json:"toFloor"`
	NeedsBoxes          bool                 `json:"needsBoxes"`
	BoxesCount          *int                 `json:"boxesCount,omitempty"`
	MoveDate            string               `json:"moveDate"`
	SpecialRequirements *SpecialRequirements `json:"specialRequirements,omitempty"`
}

// VideoFile is an upload handed to the video service.
type VideoFile struct {
	Name        string
	ContentType string
	Content     io.Reader
}

// Video is the stored footage returned by the video service.
type Video struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	StorageRef  string    `json:"storageRef"`
}

// JobStatus is the lifecycle of a server-side analysis job.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobSucceeded JobStatus = "SUCCEEDED"
	JobFailed    JobStatus = "FAILED"
)

// IsTerminal reports whether polling must stop at this status.
func (s JobStatus) IsTerminal() bool {
	return s == JobSucceeded || s == JobFailed
}

func (s JobStatus) rank() int {
	switch s {
	case JobPending:
		return 1
	case JobRunning:
		return 2
	case JobSucceeded, JobFailed:
		return 3
	default:
		return 0
	}
}

// BoundingBox locates a detected item in a video frame.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DetectedItem is one household item found by the analysis.
type DetectedItem struct {
	Label             string       `json:"label"`
	Description       string       `json:"description,omitempty"`
	Confidence        float64      `json:"confidence"`
	BoundingBox       *BoundingBox `json:"boundingBox,omitempty"`
	EstimatedVolumeM3 *float64     `json:"estimatedVolumeM3,omitempty"`
	Quantity          int          `json:"quantity"`
}

// AnalysisJob is a snapshot of the AI inventory detection job.
type AnalysisJob struct {
	ID                    string         `json:"id"`
	VideoID               string         `json:"videoId"`
	OfferID               string         `json:"offerId,omitempty"`
	Status                JobStatus      `json:"status"`
	DetectedItems         []DetectedItem `json:"detectedItems"`
	ErrorMessage          string         `json:"errorMessage,omitempty"`
	TotalVolumeM3         *float64       `json:"totalVolumeM3,omitempty"`
	RoomType              string         `json:"roomType,omitempty"`
	ProcessingTimeSeconds *int64         `json:"processingTimeSeconds,omitempty"`
	RetryCount            int            `json:"retryCount"`
	CreatedAt             time.Time      `json:"createdAt"`
	StartedAt             *time.Time     `json:"startedAt,omitempty"`
	CompletedAt           *time.Time     `json:"completedAt,omitempty"`
}

// OfferStatus mirrors the backend's offer lifecycle.
type OfferStatus string

const (
	OfferDraft               OfferStatus = "DRAFT"
	OfferInventoryPending    OfferStatus = "INVENTORY_PENDING"
	OfferInventoryConfirmed  OfferStatus = "INVENTORY_CONFIRMED"
	OfferEstimatesReady      OfferStatus = "ESTIMATES_READY"
	OfferEstimatesExpired    OfferStatus = "ESTIMATES_EXPIRED"
	OfferCompanySelected     OfferStatus = "COMPANY_SELECTED"
	OfferFinalOfferPending   OfferStatus = "FINAL_OFFER_PENDING"
	OfferFinalOfferSubmitted OfferStatus = "FINAL_OFFER_SUBMITTED"
	OfferAccepted            OfferStatus = "ACCEPTED"
	OfferRejected            OfferStatus = "REJECTED"
	OfferReadyToSend         OfferStatus = "READY_TO_SEND"
	OfferSent                OfferStatus = "SENT"
	OfferFailed              OfferStatus = "FAILED"
)

// Offer is the customer's move request as created by the offer service.
type Offer struct {
	ID        string      `json:"id"`
	Status    OfferStatus `json:"status"`
	VideoID   string      `json:"videoId,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	SentAt    *time.Time  `json:"sentAt,omitempty"`
}

// InventoryStatus transitions DRAFT -> CONFIRMED exactly once.
type InventoryStatus string

const (
	InventoryDraft     InventoryStatus = "DRAFT"
	InventoryConfirmed InventoryStatus = "CONFIRMED"
)

// ItemSource tells whether an inventory line came from the analysis.
type ItemSource string

const (
	SourceAIDetected ItemSource = "AI_DETECTED"
	SourceManual     ItemSource = "MANUAL"
)

// InventoryItem is one line of the inventory as computed by the server.
type InventoryItem struct {
	Name        string     `json:"name"`
	Quantity    int        `json:"quantity"`
	Confidence  *float64   `json:"confidence,omitempty"`
	Source      ItemSource `json:"source"`
	Category    string     `json:"category,omitempty"`
	Volume      *float64   `json:"volume,omitempty"`
	TotalVolume float64    `json:"totalVolume"`
}

// Inventory is the aggregate the customer edits and confirms.
type Inventory struct {
	ID                  string          `json:"id"`
	OfferID             string          `json:"offerId"`
	Status              InventoryStatus `json:"status"`
	Items               []InventoryItem `json:"items"`
	ItemTypeCount       int             `json:"itemTypeCount"`
	TotalItemCount      int             `json:"totalItemCount"`
	AIDetectedItemCount int             `json:"aiDetectedItemCount"`
	ManualItemCount     int             `json:"manualItemCount"`
	AverageAIConfidence *float64        `json:"averageAiConfidence,omitempty"`
	TotalVolume         float64         `json:"totalVolume"`
	CreatedAt           time.Time       `json:"createdAt"`
	ConfirmedAt         *time.Time      `json:"confirmedAt,omitempty"`
}

// InventoryItemRequest adds or replaces an inventory line.
type InventoryItemRequest struct {
	Name     string   `json:"name"`
	Quantity int      `json:"quantity"`
	Category string   `json:"category,omitempty"`
	Volume   *float64 `json:"volume,omitempty"`
}

// UpdateInventoryItemRequest edits an existing line. Both fields are always
// sent; the backend treats a missing quantity as unchanged.
type UpdateInventoryItemRequest struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// FinalOfferStatus is the lifecycle of a company's priced proposal.
type FinalOfferStatus string

const (
	FinalOfferDraft     FinalOfferStatus = "DRAFT"
	FinalOfferSubmitted FinalOfferStatus = "SUBMITTED"
	FinalOfferAccepted  FinalOfferStatus = "ACCEPTED"
	FinalOfferRejected  FinalOfferStatus = "REJECTED"
	FinalOfferExpired   FinalOfferStatus = "EXPIRED"
)

// PriceBreakdown itemizes a final offer's total.
type PriceBreakdown struct {
	BaseFee           float64            `json:"baseFee"`
	TravelFee         float64            `json:"travelFee"`
	LaborCost         float64            `json:"laborCost"`
	VolumeCost        float64            `json:"volumeCost"`
	FloorSurcharge    float64            `json:"floorSurcharge"`
	DistanceSurcharge float64            `json:"distanceSurcharge"`
	OtherSurcharges   float64            `json:"otherSurcharges"`
	Subtotal          float64            `json:"subtotal"`
	Total             float64            `json:"total"`
	Details           map[string]float64 `json:"details,omitempty"`
}

// FinalOffer is a company-submitted proposal against the customer's offer.
type FinalOffer struct {
	ID              string           `json:"id"`
	OfferID         string           `json:"offerId"`
	CompanyID       string           `json:"companyId"`
	TotalPrice      float64          `json:"totalPrice"`
	Breakdown       *PriceBreakdown  `json:"breakdown,omitempty"`
	ValidityDays    int              `json:"validityDays"`
	Notes           string           `json:"notes,omitempty"`
	Status          FinalOfferStatus `json:"status"`
	CreatedAt       time.Time        `json:"createdAt"`
	SubmittedAt     *time.Time       `json:"submittedAt,omitempty"`
	AcceptedAt      *time.Time       `json:"acceptedAt,omitempty"`
	RejectedAt      *time.Time       `json:"rejectedAt,omitempty"`
	RejectionReason string           `json:"rejectionReason,omitempty"`
	IsExpired       bool             `json:"isExpired"`
}
