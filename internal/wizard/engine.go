package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mymove-wizard/internal/shared/metrics"
	"mymove-wizard/internal/shared/telemetry"
)

// DefaultPollInterval is the fixed delay between analysis status checks.
const DefaultPollInterval = 2 * time.Second

// Option configures an Engine.
type Option func(*Engine)

// WithPollInterval overrides the polling delay.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithClock overrides the clock used for the default move date.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine owns the state of one customer's move-request wizard.
//
// The mutex guards state only and is never held across a backend call, so
// operations and poll ticks interleave freely; each response is applied in a
// single critical section.
type Engine struct {
	backend      Backend
	pollInterval time.Duration
	now          func() time.Time

	mu          sync.Mutex
	run         uint64
	inFlight    int
	step        Step
	details     MoveDetails
	video       Resource[Video]
	job         Resource[AnalysisJob]
	offer       Resource[Offer]
	inventory   Resource[Inventory]
	finalOffers Resource[[]FinalOffer]
	lastError   string
	poll        *PollHandle

	subsMu  sync.Mutex
	subs    map[int]chan State
	nextSub int
}

// New constructs an Engine at MOVE_DETAILS with default move details.
func New(backend Backend, opts ...Option) *Engine {
	e := &Engine{
		backend:      backend,
		pollInterval: DefaultPollInterval,
		now:          time.Now,
		subs:         make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.step = StepMoveDetails
	e.details = defaultMoveDetails(e.now())
	return e
}

// State is a point-in-time copy of the wizard.
type State struct {
	Step         Step                   `json:"step"`
	MoveDetails  MoveDetails            `json:"moveDetails"`
	Video        Resource[Video]        `json:"video"`
	AnalysisJob  Resource[AnalysisJob]  `json:"analysisJob"`
	Offer        Resource[Offer]        `json:"offer"`
	Inventory    Resource[Inventory]    `json:"inventory"`
	FinalOffers  Resource[[]FinalOffer] `json:"finalOffers"`
	Polling      bool                   `json:"polling"`
	PollingJobID string                 `json:"pollingJobId,omitempty"`
	Loading      bool                   `json:"loading"`
	Error        string                 `json:"error,omitempty"`
}

// IsMoveDetailsValid reports whether step 1 is complete.
func (s State) IsMoveDetailsValid() bool { return IsMoveDetailsValid(s.MoveDetails) }

// CanProceedToUpload is the gate for VIDEO_UPLOAD.
func (s State) CanProceedToUpload() bool { return s.IsMoveDetailsValid() }

// CanProceedToAnalysis is the gate for ANALYSIS_STATUS.
func (s State) CanProceedToAnalysis() bool {
	_, ok := s.Video.Get()
	return ok
}

// IsAnalysisComplete reports a SUCCEEDED job.
func (s State) IsAnalysisComplete() bool {
	job, ok := s.AnalysisJob.Get()
	return ok && job.Status == JobSucceeded
}

// IsAnalysisFailed reports a FAILED job.
func (s State) IsAnalysisFailed() bool {
	job, ok := s.AnalysisJob.Get()
	return ok && job.Status == JobFailed
}

// InventoryItems returns the cached inventory lines, or nil.
func (s State) InventoryItems() []InventoryItem {
	inv, ok := s.Inventory.Get()
	if !ok {
		return nil
	}
	return inv.Items
}

// TotalVolume returns the server-computed inventory volume, or 0.
func (s State) TotalVolume() float64 {
	inv, ok := s.Inventory.Get()
	if !ok {
		return 0
	}
	return inv.TotalVolume
}

// State returns a snapshot. Cached values are replaced wholesale and never
// mutated in place, so the snapshot can share them.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := State{
		Step:        e.step,
		MoveDetails: e.details,
		Video:       e.video,
		AnalysisJob: e.job,
		Offer:       e.offer,
		Inventory:   e.inventory,
		FinalOffers: e.finalOffers,
		Loading:     e.inFlight > 0,
		Error:       e.lastError,
	}
	if e.poll != nil {
		s.Polling = true
		s.PollingJobID = e.poll.jobID
	}
	return s
}

// IsMoveDetailsValid reports whether step 1 is complete.
func (e *Engine) IsMoveDetailsValid() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return IsMoveDetailsValid(e.details)
}

// CurrentStep returns the wizard position.
func (e *Engine) CurrentStep() Step {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.step
}

// SetMoveDetails merges the non-nil patch fields into the move details.
// Once an offer exists the details are history and cannot change.
func (e *Engine) SetMoveDetails(p MoveDetailsPatch) error {
	e.mu.Lock()
	if _, ok := e.offer.Get(); ok {
		e.mu.Unlock()
		return e.precondition(ErrMoveDetailsLocked)
	}
	e.details = e.details.merge(p)
	e.mu.Unlock()
	e.notify()
	return nil
}

// request describes one backend round trip. begin, apply and failed run
// under the engine lock.
type request[T any] struct {
	op       string
	fallback string
	begin    func()
	do       func(ctx context.Context) (T, error)
	apply    func(T)
	failed   func(msg string)
}

// execute runs r with the shared failure policy: the loading flag is held
// for the whole call and released on every exit path, a failure records a
// user-facing message and leaves cached data untouched, and a response that
// arrives after Reset is discarded.
func execute[T any](ctx context.Context, e *Engine, r request[T]) (T, error) {
	e.mu.Lock()
	run := e.run
	e.inFlight++
	e.lastError = ""
	if r.begin != nil {
		r.begin()
	}
	e.mu.Unlock()
	e.notify()

	defer func() {
		e.mu.Lock()
		if e.run == run {
			e.inFlight--
		}
		e.mu.Unlock()
		e.notify()
	}()

	start := time.Now()
	v, err := r.do(ctx)
	metrics.ObserveCallDuration(time.Since(start))

	e.mu.Lock()
	current := e.run == run
	if current {
		if err != nil {
			msg := failureMessage(err, r.fallback)
			e.lastError = msg
			if r.failed != nil {
				r.failed(msg)
			}
		} else if r.apply != nil {
			r.apply(v)
		}
	}
	e.mu.Unlock()

	if err != nil {
		metrics.IncCallFailure(r.op)
		telemetry.Warn("wizard.call_failed", map[string]any{
			"op":        r.op,
			"error":     err,
			"discarded": !current,
		})
	}
	return v, err
}

func (e *Engine) precondition(err error) error {
	e.mu.Lock()
	e.lastError = err.Error()
	e.mu.Unlock()
	e.notify()
	return err
}

// UploadVideo stores footage through the video service. It does not move
// the wizard; navigation stays with the caller.
func (e *Engine) UploadVideo(ctx context.Context, file VideoFile) (Video, error) {
	return execute(ctx, e, request[Video]{
		op:       "upload_video",
		fallback: "Video upload failed",
		begin:    e.video.begin,
		do: func(ctx context.Context) (Video, error) {
			return e.backend.UploadVideo(ctx, file)
		},
		apply:  e.video.set,
		failed: e.video.fail,
	})
}

// StartAnalysis kicks off AI inventory detection for the uploaded video,
// linking the current offer when one exists.
func (e *Engine) StartAnalysis(ctx context.Context) (AnalysisJob, error) {
	e.mu.Lock()
	video, ok := e.video.Get()
	offer, _ := e.offer.Get()
	e.mu.Unlock()
	if !ok {
		return AnalysisJob{}, e.precondition(ErrNoVideo)
	}

	return execute(ctx, e, request[AnalysisJob]{
		op:       "start_analysis",
		fallback: "Failed to start analysis",
		begin:    e.job.begin,
		do: func(ctx context.Context) (AnalysisJob, error) {
			return e.backend.StartAnalysis(ctx, video.ID, offer.ID)
		},
		apply:  e.job.set,
		failed: e.job.fail,
	})
}

// CheckAnalysisStatus performs one manual status check of the current job.
// It races freely with an active poll; the last write wins.
func (e *Engine) CheckAnalysisStatus(ctx context.Context) (AnalysisJob, error) {
	e.mu.Lock()
	job, ok := e.job.Get()
	e.mu.Unlock()
	if !ok {
		return AnalysisJob{}, e.precondition(ErrNoAnalysisJob)
	}
	return e.fetchJob(ctx, job.ID)
}

func (e *Engine) fetchJob(ctx context.Context, jobID string) (AnalysisJob, error) {
	return execute(ctx, e, request[AnalysisJob]{
		op:       "check_analysis_status",
		fallback: "Failed to check analysis status",
		begin:    e.job.begin,
		do: func(ctx context.Context) (AnalysisJob, error) {
			return e.backend.CheckAnalysisStatus(ctx, jobID)
		},
		apply:  e.applyJob,
		failed: e.job.fail,
	})
}

// applyJob caches a job snapshot. A snapshot of the same job with an
// earlier status is stale and ignored: job status only moves forward.
func (e *Engine) applyJob(job AnalysisJob) {
	if cur, ok := e.job.Get(); ok && cur.ID == job.ID && job.Status.rank() < cur.Status.rank() {
		e.job.set(cur)
		return
	}
	e.job.set(job)
}

// CreateOffer validates the move details and creates the offer. Invalid
// details fail with a *ValidationError without calling the offer service.
func (e *Engine) CreateOffer(ctx context.Context) (Offer, error) {
	e.mu.Lock()
	details := e.details
	video, _ := e.video.Get()
	e.mu.Unlock()

	if err := validateForOffer(details); err != nil {
		return Offer{}, e.precondition(err)
	}

	req := CreateOfferRequest{
		VideoID:     video.ID,
		FromAddress: *details.FromAddress,
		ToAddress:   *details.ToAddress,
		FromFloor:   *details.FromFloor,
		ToFloor:     *details.ToFloor,
		NeedsBoxes:  details.NeedsBoxes,
		BoxesCount:  details.BoxesCount,
		MoveDate:    details.MoveDate,
	}
	if details.NeedsBoxes {
		req.SpecialRequirements = &SpecialRequirements{NeedsBoxes: true, BoxesCount: details.BoxesCount}
	}

	return execute(ctx, e, request[Offer]{
		op:       "create_offer",
		fallback: "Failed to create offer",
		begin:    e.offer.begin,
		do: func(ctx context.Context) (Offer, error) {
			return e.backend.CreateOffer(ctx, req)
		},
		apply:  e.offer.set,
		failed: e.offer.fail,
	})
}

// LoadInventory fetches and caches an inventory by id.
func (e *Engine) LoadInventory(ctx context.Context, inventoryID string) (Inventory, error) {
	return e.loadInventory(ctx, func(ctx context.Context) (Inventory, error) {
		return e.backend.GetInventory(ctx, inventoryID)
	})
}

// LoadInventoryByOffer fetches and caches the inventory attached to an offer.
func (e *Engine) LoadInventoryByOffer(ctx context.Context, offerID string) (Inventory, error) {
	return e.loadInventory(ctx, func(ctx context.Context) (Inventory, error) {
		return e.backend.GetInventoryByOffer(ctx, offerID)
	})
}

func (e *Engine) loadInventory(ctx context.Context, do func(context.Context) (Inventory, error)) (Inventory, error) {
	return execute(ctx, e, request[Inventory]{
		op:       "load_inventory",
		fallback: "Failed to load inventory",
		begin:    e.inventory.begin,
		do:       do,
		apply:    e.inventory.set,
		failed:   e.inventory.fail,
	})
}

// mutateInventory round-trips an edit through the inventory service and
// replaces the cache with the server's answer. Without a loaded inventory it
// is a no-op; after confirmation it refuses.
func (e *Engine) mutateInventory(ctx context.Context, op, fallback string, do func(ctx context.Context, inventoryID string) (Inventory, error)) error {
	e.mu.Lock()
	inv, ok := e.inventory.Get()
	e.mu.Unlock()
	if !ok {
		return nil
	}
	if inv.Status == InventoryConfirmed {
		return e.precondition(ErrInventoryConfirmed)
	}
	_, err := execute(ctx, e, request[Inventory]{
		op:       op,
		fallback: fallback,
		begin:    e.inventory.begin,
		do: func(ctx context.Context) (Inventory, error) {
			return do(ctx, inv.ID)
		},
		apply:  e.inventory.set,
		failed: e.inventory.fail,
	})
	return err
}

// AddInventoryItem appends a manual line.
func (e *Engine) AddInventoryItem(ctx context.Context, req InventoryItemRequest) error {
	return e.mutateInventory(ctx, "add_inventory_item", "Failed to add item", func(ctx context.Context, id string) (Inventory, error) {
		return e.backend.AddInventoryItem(ctx, id, req)
	})
}

// UpdateInventoryItem renames or requantifies the line at index.
func (e *Engine) UpdateInventoryItem(ctx context.Context, index int, name string, quantity int) error {
	return e.mutateInventory(ctx, "update_inventory_item", "Failed to update item", func(ctx context.Context, id string) (Inventory, error) {
		return e.backend.UpdateInventoryItem(ctx, id, index, UpdateInventoryItemRequest{Name: name, Quantity: quantity})
	})
}

// RemoveInventoryItem deletes the line at index.
func (e *Engine) RemoveInventoryItem(ctx context.Context, index int) error {
	return e.mutateInventory(ctx, "remove_inventory_item", "Failed to remove item", func(ctx context.Context, id string) (Inventory, error) {
		return e.backend.RemoveInventoryItem(ctx, id, index)
	})
}

// ReplaceInventoryItems swaps the whole item list in one call.
func (e *Engine) ReplaceInventoryItems(ctx context.Context, items []InventoryItemRequest) error {
	return e.mutateInventory(ctx, "replace_inventory_items", "Failed to update items", func(ctx context.Context, id string) (Inventory, error) {
		return e.backend.ReplaceInventoryItems(ctx, id, items)
	})
}

// ConfirmInventory moves the server-side inventory to CONFIRMED.
func (e *Engine) ConfirmInventory(ctx context.Context) (Inventory, error) {
	e.mu.Lock()
	inv, ok := e.inventory.Get()
	e.mu.Unlock()
	if !ok {
		return Inventory{}, e.precondition(ErrNoInventory)
	}
	if inv.Status == InventoryConfirmed {
		return inv, e.precondition(ErrInventoryConfirmed)
	}
	return execute(ctx, e, request[Inventory]{
		op:       "confirm_inventory",
		fallback: "Failed to confirm inventory",
		begin:    e.inventory.begin,
		do: func(ctx context.Context) (Inventory, error) {
			return e.backend.ConfirmInventory(ctx, inv.ID)
		},
		apply:  e.inventory.set,
		failed: e.inventory.fail,
	})
}

// LoadFinalOffers fetches every final offer submitted for offerID.
func (e *Engine) LoadFinalOffers(ctx context.Context, offerID string) ([]FinalOffer, error) {
	return execute(ctx, e, request[[]FinalOffer]{
		op:       "load_final_offers",
		fallback: "Failed to load offers",
		begin:    e.finalOffers.begin,
		do: func(ctx context.Context) ([]FinalOffer, error) {
			return e.backend.GetFinalOffers(ctx, offerID)
		},
		apply:  e.finalOffers.set,
		failed: e.finalOffers.fail,
	})
}

// AcceptFinalOffer accepts a company's proposal, then re-reads the list.
func (e *Engine) AcceptFinalOffer(ctx context.Context, finalOfferID string) (FinalOffer, error) {
	fo, err := execute(ctx, e, request[FinalOffer]{
		op:       "accept_final_offer",
		fallback: "Failed to accept offer",
		do: func(ctx context.Context) (FinalOffer, error) {
			return e.backend.AcceptFinalOffer(ctx, finalOfferID)
		},
	})
	if err != nil {
		return fo, err
	}
	return fo, e.refreshFinalOffers(ctx)
}

// RejectFinalOffer rejects a company's proposal, then re-reads the list.
func (e *Engine) RejectFinalOffer(ctx context.Context, finalOfferID, reason string) (FinalOffer, error) {
	fo, err := execute(ctx, e, request[FinalOffer]{
		op:       "reject_final_offer",
		fallback: "Failed to reject offer",
		do: func(ctx context.Context) (FinalOffer, error) {
			return e.backend.RejectFinalOffer(ctx, finalOfferID, reason)
		},
	})
	if err != nil {
		return fo, err
	}
	return fo, e.refreshFinalOffers(ctx)
}

// refreshFinalOffers re-reads rather than patching locally so server-computed
// fields such as expiry stay authoritative.
func (e *Engine) refreshFinalOffers(ctx context.Context) error {
	e.mu.Lock()
	offer, ok := e.offer.Get()
	e.mu.Unlock()
	if !ok {
		return nil
	}
	if _, err := e.LoadFinalOffers(ctx, offer.ID); err != nil {
		return fmt.Errorf("refresh final offers: %w", err)
	}
	return nil
}

// GoToStep jumps to step without checking its data dependencies.
func (e *Engine) GoToStep(step Step) error {
	if !step.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidStep, int(step))
	}
	e.mu.Lock()
	e.step = step
	e.mu.Unlock()
	e.notify()
	return nil
}

// NextStep advances by one, stopping at VIEW_OFFERS.
func (e *Engine) NextStep() {
	e.mu.Lock()
	if e.step < lastStep {
		e.step++
	}
	e.mu.Unlock()
	e.notify()
}

// PreviousStep goes back by one, stopping at MOVE_DETAILS.
func (e *Engine) PreviousStep() {
	e.mu.Lock()
	if e.step > firstStep {
		e.step--
	}
	e.mu.Unlock()
	e.notify()
}

// Reset cancels polling and clears every cached value. Responses to calls
// still in flight are discarded when they arrive.
func (e *Engine) Reset() {
	e.mu.Lock()
	h := e.poll
	e.poll = nil
	e.run++
	e.inFlight = 0
	e.step = StepMoveDetails
	e.details = defaultMoveDetails(e.now())
	e.video = Resource[Video]{}
	e.job = Resource[AnalysisJob]{}
	e.offer = Resource[Offer]{}
	e.inventory = Resource[Inventory]{}
	e.finalOffers = Resource[[]FinalOffer]{}
	e.lastError = ""
	e.mu.Unlock()

	if h != nil {
		h.stop()
	}
	e.notify()
}

// Checkpoint is the part of the wizard worth persisting between processes.
// Server-owned aggregates are stored by id and re-fetched on restore.
type Checkpoint struct {
	Step          Step        `json:"step"`
	MoveDetails   MoveDetails `json:"moveDetails"`
	Video         *Video      `json:"video,omitempty"`
	Offer         *Offer      `json:"offer,omitempty"`
	AnalysisJobID string      `json:"analysisJobId,omitempty"`
	InventoryID   string      `json:"inventoryId,omitempty"`
}

// Checkpoint captures the current wizard for persistence.
func (e *Engine) Checkpoint() Checkpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := Checkpoint{Step: e.step, MoveDetails: e.details}
	if v, ok := e.video.Get(); ok {
		cp.Video = &v
	}
	if o, ok := e.offer.Get(); ok {
		cp.Offer = &o
	}
	if j, ok := e.job.Get(); ok {
		cp.AnalysisJobID = j.ID
	}
	if inv, ok := e.inventory.Get(); ok {
		cp.InventoryID = inv.ID
	}
	return cp
}

// Restore resets the engine to cp. The inventory and job are re-fetched and
// polling resumes for an unfinished job; fetch failures are returned joined
// but do not undo the rest of the restore.
func (e *Engine) Restore(ctx context.Context, cp Checkpoint) error {
	e.Reset()

	e.mu.Lock()
	if cp.Step.Valid() {
		e.step = cp.Step
	}
	patch := MoveDetailsPatch{
		FromAddress: cp.MoveDetails.FromAddress,
		ToAddress:   cp.MoveDetails.ToAddress,
		FromFloor:   cp.MoveDetails.FromFloor,
		ToFloor:     cp.MoveDetails.ToFloor,
		NeedsBoxes:  &cp.MoveDetails.NeedsBoxes,
		BoxesCount:  cp.MoveDetails.BoxesCount,
	}
	if cp.MoveDetails.MoveDate != "" {
		patch.MoveDate = &cp.MoveDetails.MoveDate
	}
	e.details = e.details.merge(patch)
	if cp.Video != nil {
		e.video = Loaded(*cp.Video)
	}
	if cp.Offer != nil {
		e.offer = Loaded(*cp.Offer)
	}
	e.mu.Unlock()
	e.notify()

	var errs []error
	if cp.InventoryID != "" {
		if _, err := e.LoadInventory(ctx, cp.InventoryID); err != nil {
			errs = append(errs, fmt.Errorf("restore inventory %s: %w", cp.InventoryID, err))
		}
	}
	if cp.AnalysisJobID != "" {
		job, err := e.fetchJob(ctx, cp.AnalysisJobID)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("restore analysis job %s: %w", cp.AnalysisJobID, err))
		case !job.Status.IsTerminal():
			e.StartPollingAnalysis(job.ID)
		}
	}
	return errors.Join(errs...)
}

// Subscribe returns a channel carrying the latest State after every change
// and a func to stop the subscription. Slow readers only see the newest
// state.
func (e *Engine) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	ch <- e.State()

	e.subsMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.subsMu.Lock()
			delete(e.subs, id)
			close(ch)
			e.subsMu.Unlock()
		})
	}
}

// notify must be called without e.mu held.
func (e *Engine) notify() {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	if len(e.subs) == 0 {
		return
	}
	s := e.State()
	for _, ch := range e.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}
