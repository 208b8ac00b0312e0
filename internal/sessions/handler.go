package sessions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"mymove-wizard/internal/backend"
	"mymove-wizard/internal/shared/server/middleware"
	"mymove-wizard/internal/shared/server/respond"
	"mymove-wizard/internal/shared/telemetry"
	"mymove-wizard/internal/shared/util"
	"mymove-wizard/internal/wizard"
)

const (
	sessionKey        = "wizardSession"
	keepaliveInterval = 15 * time.Second
)

// Handler wires HTTP handlers to the session manager.
type Handler struct {
	Manager *Manager
}

// NewHandler constructs a Handler.
func NewHandler(m *Manager) *Handler {
	return &Handler{Manager: m}
}

// RegisterRoutes attaches wizard routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/sessions", h.createSession)

	s := rg.Group("/sessions/:id", h.loadSession)
	s.GET("", h.getSession)
	s.DELETE("", h.deleteSession)
	s.POST("/reset", h.reset)
	s.PATCH("/move-details", h.patchMoveDetails)
	s.POST("/video", h.uploadVideo)
	s.POST("/analysis", h.startAnalysis)
	s.GET("/analysis", h.getAnalysisJob)
	s.POST("/analysis/check", h.checkAnalysis)
	s.POST("/analysis/poll", h.startPolling)
	s.DELETE("/analysis/poll", h.stopPolling)
	s.POST("/offer", h.createOffer)
	s.POST("/inventory/load", h.loadInventory)
	s.POST("/inventory/items", h.addItem)
	s.PUT("/inventory/items", h.replaceItems)
	s.PATCH("/inventory/items/:index", h.updateItem)
	s.DELETE("/inventory/items/:index", h.removeItem)
	s.POST("/inventory/confirm", h.confirmInventory)
	s.GET("/final-offers", h.listFinalOffers)
	s.GET("/best-offer", h.bestOffer)
	s.POST("/final-offers/:finalOfferId/accept", h.acceptFinalOffer)
	s.POST("/final-offers/:finalOfferId/reject", h.rejectFinalOffer)
	s.POST("/step", h.step)
	s.GET("/events", h.events)
}

type gates struct {
	MoveDetailsValid   bool `json:"moveDetailsValid"`
	CanProceedToUpload bool `json:"canProceedToUpload"`
	CanProceedAnalysis bool `json:"canProceedToAnalysis"`
	AnalysisComplete   bool `json:"analysisComplete"`
	AnalysisFailed     bool `json:"analysisFailed"`
}

type sessionView struct {
	SessionID string `json:"sessionId"`
	wizard.State
	Gates       gates   `json:"gates"`
	TotalVolume float64 `json:"totalVolume"`
}

func newSessionView(sessionID string, s wizard.State) sessionView {
	return sessionView{
		SessionID: sessionID,
		State:     s,
		Gates: gates{
			MoveDetailsValid:   s.IsMoveDetailsValid(),
			CanProceedToUpload: s.CanProceedToUpload(),
			CanProceedAnalysis: s.CanProceedToAnalysis(),
			AnalysisComplete:   s.IsAnalysisComplete(),
			AnalysisFailed:     s.IsAnalysisFailed(),
		},
		TotalVolume: s.TotalVolume(),
	}
}

func (h *Handler) loadSession(c *gin.Context) {
	sess, err := h.Manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.Error(c, http.StatusNotFound, "not_found", "session not found", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load session", nil)
		return
	}
	c.Set(sessionKey, sess)
	c.Set(middleware.SessionIDKey, sess.ID)
	c.Next()
}

func sessionFrom(c *gin.Context) *Session {
	return c.MustGet(sessionKey).(*Session)
}

func (h *Handler) render(c *gin.Context, status int, sess *Session) {
	respond.JSON(c, status, newSessionView(sess.ID, sess.Engine.State()))
}

// persist saves the checkpoint after a successful mutation. A failed save is
// logged; the live engine stays authoritative.
func (h *Handler) persist(c *gin.Context, sess *Session) {
	if err := h.Manager.Save(c.Request.Context(), sess); err != nil {
		telemetry.Warn("session.save_failed", map[string]any{
			"session_id": sess.ID,
			"request_id": middleware.RequestIDFromContext(c),
			"error":      err,
		})
	}
}

// fail maps wizard and backend errors onto HTTP responses.
func (h *Handler) fail(c *gin.Context, sess *Session, err error) {
	var verr *wizard.ValidationError
	var apiErr *backend.APIError
	switch {
	case errors.As(err, &verr):
		details := make([]map[string]string, 0, len(verr.Fields))
		for _, f := range verr.Fields {
			details = append(details, map[string]string{"field": f, "issue": "invalid"})
		}
		respond.Error(c, http.StatusBadRequest, "validation_error", "move details incomplete", details)
	case wizard.IsPrecondition(err):
		respond.Error(c, http.StatusConflict, "precondition_failed", err.Error(), nil)
	case errors.Is(err, wizard.ErrInvalidStep):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, backend.ErrUnauthorized):
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "backend rejected the credentials", nil)
	case errors.As(err, &apiErr):
		respond.Error(c, http.StatusBadGateway, "backend_error", h.failureMessage(sess, apiErr.UserMessage()), map[string]any{
			"status": apiErr.Status,
		})
	case errors.Is(err, context.DeadlineExceeded):
		respond.Error(c, http.StatusGatewayTimeout, "backend_timeout", h.failureMessage(sess, ""), nil)
	default:
		respond.Error(c, http.StatusBadGateway, "backend_error", h.failureMessage(sess, ""), nil)
	}
}

// failureMessage prefers the message the engine recorded for the customer.
func (h *Handler) failureMessage(sess *Session, fallback string) string {
	if sess != nil {
		if msg := sess.Engine.State().Error; msg != "" {
			return msg
		}
	}
	if fallback != "" {
		return fallback
	}
	return "backend request failed"
}

func (h *Handler) createSession(c *gin.Context) {
	sess, err := h.Manager.Create(c.Request.Context())
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to create session", nil)
		return
	}
	h.render(c, http.StatusCreated, sess)
}

func (h *Handler) getSession(c *gin.Context) {
	h.render(c, http.StatusOK, sessionFrom(c))
}

func (h *Handler) deleteSession(c *gin.Context) {
	sess := sessionFrom(c)
	if err := h.Manager.Drop(c.Request.Context(), sess.ID); err != nil && !errors.Is(err, ErrNotFound) {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to delete session", nil)
		return
	}
	respond.NoContent(c)
}

func (h *Handler) reset(c *gin.Context) {
	sess := sessionFrom(c)
	sess.Engine.Reset()
	h.persist(c, sess)
	h.render(c, http.StatusOK, sess)
}

func (h *Handler) patchMoveDetails(c *gin.Context) {
	sess := sessionFrom(c)
	var patch wizard.MoveDetailsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respond.Error(c, http.StatusBadRequest, "invalid_json", "invalid JSON body", nil)
		return
	}
	if err := sess.Engine.SetMoveDetails(patch); err != nil {
		h.fail(c, sess, err)
		return
	}
	h.persist(c, sess)
	h.render(c, http.StatusOK, sess)
}

func (h *Handler) uploadVideo(c *gin.Context) {
	sess := sessionFrom(c)
	fh, err := c.FormFile("file")
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", []map[string]string{
			{"field": "file", "issue": "required"},
		})
		return
	}
	name, err := util.SanitizeFileName(fh.Filename)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid file name", []map[string]string{
			{"field": "file", "issue": "filename"},
		})
		return
	}
	contentType, ok := util.VideoContentType(fh.Header.Get("Content-Type"), name)
	if !ok {
		respond.Error(c, http.StatusUnsupportedMediaType, "unsupported_media_type", "file must be a video", nil)
		return
	}
	f, err := fh.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "file could not be read", nil)
		return
	}
	defer f.Close()

	_, err = sess.Engine.UploadVideo(c.Request.Context(), wizard.VideoFile{
		Name:        name,
		ContentType: contentType,
		Content:     f,
	})
	if err != nil {
		h.fail(c, sess, err)
		return
	}
	h.persist(c, sess)
	h.render(c, http.StatusCreated, sess)
}

func (h *Handler) startAnalysis(c *gin.Context) {
	sess := sessionFrom(c)
	job, err := sess.Engine.StartAnalysis(c.Request.Context())
	if err != nil {
		h.fail(c, sess, err)
		return
	}
	if poll, _ := strconv.ParseBool(c.Query("poll")); poll {
		sess.Engine.StartPollingAnalysis(job.ID)
	}
	h.persist(c, sess)
	h.render(c, http.StatusAccepted, sess)
}

// getAnalysisJob reads the job straight from the backend without touching
// the wizard state.
func (h *Handler) getAnalysisJob(c *gin.Context) {
	sess := sessionFrom(c)
	cached, ok := sess.Engine.State().AnalysisJob.Get()
	if !ok {
		h.fail(c, sess, wizard.ErrNoAnalysisJob)
		return
	}
	job, err := h.Manager.Backend().GetJob(c.Request.Context(), cached.ID)
	if err != nil {
		h.fail(c, nil, err)
		return
	}
	respond.OK(c, gin.H{"job": job})
}

func (h *Handler) checkAnalysis(c *gin.Context) {
	sess := sessionFrom(c)
	if _, err := sess.Engine.CheckAnalysisStatus(c.Request.Context()); err != nil {
		h.fail(c, sess, err)
		return
	}
	h.render(c, http.StatusOK, sess)
}

type pollRequest struct {
	JobID string `json:"jobId"`
}

func (h *Handler) startPolling(c *gin.Context) {
	sess := sessionFrom(c)
	var req pollRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, "invalid_json", "invalid JSON body", nil)
			return
		}
	}
	jobID := strings.TrimSpace(req.JobID)
	if jobID == "" {
		job, ok := sess.Engine.State().AnalysisJob.Get()
		if !ok {
			h.fail(c, sess, wizard.ErrNoAnalysisJob)
			return
		}
		jobID = job.ID
	}
	sess.Engine.StartPollingAnalysis(jobID)
	h.render(c, http.StatusAccepted, sess)
}

func (h *Handler) stopPolling(c *gin.Context) {
	sess := sessionFrom(c)
	sess.Engine.StopPollingAnalysis()
	h.render(c, http.StatusOK, sess)
}

func (h *Handler) createOffer(c *gin.Context) {
	sess := sessionFrom(c)
	if _, err := sess.Engine.CreateOffer(c.Request.Context()); err != nil {
		h.fail(c, sess, err)
		return
	}
	h.persist(c, sess)
	h.render(c, http.StatusCreated, sess)
}

type loadInventoryRequest struct {
	InventoryID string `json:"inventoryId"`
	OfferID     string `json:"offerId"`
}

func (h *Handler) loadInventory(c *gin.Context) {
	sess := sessionFrom(c)
	var req loadInventoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "invalid_json", "invalid JSON body", nil)
		return
	}
	ctx := c.Request.Context()
	var err error
	switch {
	case strings.TrimSpace(req.InventoryID) != "":
		_, err = sess.Engine.LoadInventory(ctx, req.InventoryID)
	case strings.TrimSpace(req.OfferID) != "":
		_, err = sess.Engine.LoadInventoryByOffer(ctx, req.OfferID)
	default:
		respond.Error(c, http.StatusBadRequest, "validation_error", "inventoryId or offerId is required", []map[string]string{
			{"field": "inventoryId", "issue": "required"},
		})
		return
	}
	if err != nil {
		h.fail(c, sess, err)
		return
	}
	h.persist(c, sess)
	h.render(c, http.StatusOK, sess)
}

func validateItem(req wizard.InventoryItemRequest) []map[string]string {
	var details []map[string]string
	if strings.TrimSpace(req.Name) == "" {
		details = append(details, map[string]string{"field": "name", "issue": "required"})
	}
	if req.Quantity < 1 {
		details = append(details, map[string]string{"field": "quantity", "issue": "min=1"})
	}
	return details
}

func (h *Handler) addItem(c *gin.Context) {
	sess := sessionFrom(c)
	var req wizard.InventoryItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "invalid_json", "invalid JSON body", nil)
		return
	}
	if details := validateItem(req); len(details) > 0 {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid inventory item", details)
		return
	}
	if err := sess.Engine.AddInventoryItem(c.Request.Context(), req); err != nil {
		h.fail(c, sess, err)
		return
	}
	h.render(c, http.StatusOK, sess)
}

func (h *Handler) replaceItems(c *gin.Context) {
	sess := sessionFrom(c)
	var items []wizard.InventoryItemRequest
	if err := c.ShouldBindJSON(&items); err != nil {
		respond.Error(c, http.StatusBadRequest, "invalid_json", "invalid JSON body", nil)
		return
	}
	for i, it := range items {
		if details := validateItem(it); len(details) > 0 {
			respond.Error(c, http.StatusBadRequest, "validation_error", fmt.Sprintf("invalid inventory item %d", i), details)
			return
		}
	}
	if err := sess.Engine.ReplaceInventoryItems(c.Request.Context(), items); err != nil {
		h.fail(c, sess, err)
		return
	}
	h.render(c, http.StatusOK, sess)
}

func itemIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		respond.Error(c, http.StatusBadRequest, "validation_error", "index must be a non-negative integer", nil)
		return 0, false
	}
	return index, true
}

// updateItemBody is a partial edit; omitted fields keep the line's current value.
type updateItemBody struct {
	Name     *string `json:"name"`
	Quantity *int    `json:"quantity"`
}

func (b updateItemBody) resolve(items []wizard.InventoryItem, index int) wizard.UpdateInventoryItemRequest {
	var req wizard.UpdateInventoryItemRequest
	if index < len(items) {
		req.Name = items[index].Name
		req.Quantity = items[index].Quantity
	}
	if b.Name != nil {
		req.Name = *b.Name
	}
	if b.Quantity != nil {
		req.Quantity = *b.Quantity
	}
	return req
}

func (h *Handler) updateItem(c *gin.Context) {
	sess := sessionFrom(c)
	index, ok := itemIndex(c)
	if !ok {
		return
	}
	var body updateItemBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respond.Error(c, http.StatusBadRequest, "invalid_json", "invalid JSON body", nil)
		return
	}
	req := body.resolve(sess.Engine.State().InventoryItems(), index)
	if details := validateItem(wizard.InventoryItemRequest{Name: req.Name, Quantity: req.Quantity}); len(details) > 0 {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid inventory item", details)
		return
	}
	if err := sess.Engine.UpdateInventoryItem(c.Request.Context(), index, req.Name, req.Quantity); err != nil {
		h.fail(c, sess, err)
		return
	}
	h.render(c, http.StatusOK, sess)
}

func (h *Handler) removeItem(c *gin.Context) {
	sess := sessionFrom(c)
	index, ok := itemIndex(c)
	if !ok {
		return
	}
	if err := sess.Engine.RemoveInventoryItem(c.Request.Context(), index); err != nil {
		h.fail(c, sess, err)
		return
	}
	h.render(c, http.StatusOK, sess)
}

func (h *Handler) confirmInventory(c *gin.Context) {
	sess := sessionFrom(c)
	if _, err := sess.Engine.ConfirmInventory(c.Request.Context()); err != nil {
		h.fail(c, sess, err)
		return
	}
	h.persist(c, sess)
	h.render(c, http.StatusOK, sess)
}

// offerID resolves ?offerId= with the session's offer as default.
func offerID(c *gin.Context, sess *Session) (string, bool) {
	if id := strings.TrimSpace(c.Query("offerId")); id != "" {
		return id, true
	}
	if offer, ok := sess.Engine.State().Offer.Get(); ok {
		return offer.ID, true
	}
	respond.Error(c, http.StatusBadRequest, "validation_error", "offerId is required", []map[string]string{
		{"field": "offerId", "issue": "required"},
	})
	return "", false
}

func (h *Handler) listFinalOffers(c *gin.Context) {
	sess := sessionFrom(c)
	id, ok := offerID(c, sess)
	if !ok {
		return
	}
	if _, err := sess.Engine.LoadFinalOffers(c.Request.Context(), id); err != nil {
		h.fail(c, sess, err)
		return
	}
	h.render(c, http.StatusOK, sess)
}

func (h *Handler) bestOffer(c *gin.Context) {
	sess := sessionFrom(c)
	id, ok := offerID(c, sess)
	if !ok {
		return
	}
	best, err := h.Manager.Backend().GetBestOffer(c.Request.Context(), id)
	if err != nil {
		h.fail(c, nil, err)
		return
	}
	respond.OK(c, gin.H{"bestOffer": best})
}

func (h *Handler) acceptFinalOffer(c *gin.Context) {
	sess := sessionFrom(c)
	fo, err := sess.Engine.AcceptFinalOffer(c.Request.Context(), c.Param("finalOfferId"))
	if err != nil {
		h.fail(c, sess, err)
		return
	}
	respond.OK(c, gin.H{
		"finalOffer": fo,
		"session":    newSessionView(sess.ID, sess.Engine.State()),
	})
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) rejectFinalOffer(c *gin.Context) {
	sess := sessionFrom(c)
	var req rejectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, "invalid_json", "invalid JSON body", nil)
			return
		}
	}
	fo, err := sess.Engine.RejectFinalOffer(c.Request.Context(), c.Param("finalOfferId"), strings.TrimSpace(req.Reason))
	if err != nil {
		h.fail(c, sess, err)
		return
	}
	respond.OK(c, gin.H{
		"finalOffer": fo,
		"session":    newSessionView(sess.ID, sess.Engine.State()),
	})
}

type stepRequest struct {
	Action string `json:"action"`
	Step   any    `json:"step"`
}

func (h *Handler) step(c *gin.Context) {
	sess := sessionFrom(c)
	var req stepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "invalid_json", "invalid JSON body", nil)
		return
	}
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "next":
		sess.Engine.NextStep()
	case "previous", "prev", "back":
		sess.Engine.PreviousStep()
	case "goto":
		raw := ""
		if req.Step != nil {
			raw = fmt.Sprint(req.Step)
		}
		target, err := wizard.ParseStep(raw)
		if err == nil {
			err = sess.Engine.GoToStep(target)
		}
		if err != nil {
			h.fail(c, sess, err)
			return
		}
	default:
		respond.Error(c, http.StatusBadRequest, "validation_error", "action must be next, previous or goto", []map[string]string{
			{"field": "action", "issue": "oneof=next previous goto"},
		})
		return
	}
	h.persist(c, sess)
	h.render(c, http.StatusOK, sess)
}

// events streams a state snapshot after every change as Server-Sent Events.
func (h *Handler) events(c *gin.Context) {
	sess := sessionFrom(c)
	updates, stop := sess.Engine.Subscribe()
	defer stop()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case s, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("state", newSessionView(sess.ID, s))
			return true
		case <-keepalive.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		}
	})
}
