package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ludo-service/internal/middleware"
	"ludo-service/internal/service"
	"ludo-service/internal/service/game"
	"ludo-service/internal/service/match"
	"ludo-service/internal/service/rake"
	"ludo-service/internal/service/table"
	"ludo-service/internal/ws"
	appErr "ludo-service/pkg/errors"
	"ludo-service/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type Handler struct {
	services *service.Container
}

func RegisterRoutes(r *gin.Engine, services *service.Container) {
	handler := &Handler{services: services}
	wsHandler := ws.NewHandler(services.Tables)

	r.GET("/ping", func(c *gin.Context) {
		response.Success(c, gin.H{"message": "pong"})
	})

	v1 := r.Group("/ludoService/v1")
	v1.Use(middleware.AuthRequired())
	{
		v1.GET("/wallet", handler.GetWallet)

		sessionGroup := v1.Group("/sessions")
		{
			sessionGroup.POST("", handler.CreateSession)
			sessionGroup.GET("/:id", handler.GetSession)
			sessionGroup.GET("/:id/settlement", handler.GetSettlement)
		}

		matchGroup := v1.Group("/match")
		matchGroup.Use(handler.matchEnabled)
		{
			matchGroup.POST("/join", handler.MatchJoin)
			matchGroup.POST("/cancel", handler.MatchCancel)
			matchGroup.GET("/status", handler.MatchStatus)
		}
	}

	adminGroup := r.Group("/admin")
	adminGroup.Use(middleware.AdminAuthRequired())
	{
		adminGroup.GET("/rake_rules", handler.AdminListRakeRules)
		adminGroup.POST("/rake_rules", handler.AdminCreateRakeRule)
		adminGroup.PUT("/rake_rules/:id", handler.AdminUpdateRakeRule)
	}

	r.GET("/ws/session/:sessionId", wsHandler.HandleSessionWS)
}

type createSessionBody struct {
	Variant string `json:"variant" binding:"required,oneof=ludo tictactoe morris"`
	Stake   int64  `json:"stake" binding:"min=0"`
	Name    string `json:"name" binding:"max=32"`
	Bot     bool   `json:"bot"`
}

type matchJoinBody struct {
	Stake int64  `json:"stake" binding:"required,min=1"`
	Name  string `json:"name" binding:"max=32"`
}

type matchCancelBody struct {
	Stake int64 `json:"stake" binding:"required,min=1"`
}

type rakeRuleBody struct {
	Name        string  `json:"name" binding:"required,max=64"`
	MinStake    int64   `json:"minStake" binding:"min=0"`
	Rate        float64 `json:"rate" binding:"gte=0,lt=1"`
	Status      string  `json:"status" binding:"omitempty,oneof=enabled disabled"`
	Remark      string  `json:"remark" binding:"max=255"`
	EffectiveAt *string `json:"effectiveAt"`
}

func (b rakeRuleBody) toParams() (rake.MutationParams, error) {
	var effectiveAt *time.Time
	if b.EffectiveAt != nil && strings.TrimSpace(*b.EffectiveAt) != "" {
		ts, err := parseTimeWithLayouts(strings.TrimSpace(*b.EffectiveAt))
		if err != nil {
			return rake.MutationParams{}, err
		}
		effectiveAt = ts
	}
	return rake.MutationParams{
		Name:        b.Name,
		MinStake:    b.MinStake,
		Rate:        b.Rate,
		Status:      b.Status,
		Remark:      b.Remark,
		EffectiveAt: effectiveAt,
	}, nil
}

// CreateSession seats the caller at seat 0. The other seat is a bot for
// practice games and open otherwise.
func (h *Handler) CreateSession(c *gin.Context) {
	var body createSessionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, bindError(err))
		return
	}

	userID, ok := getUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	seats := []table.SeatRequest{
		{UserID: userID, Name: strings.TrimSpace(body.Name), IP: c.ClientIP()},
		{Bot: body.Bot},
	}
	snap, err := h.services.Tables.Create(c.Request.Context(), table.CreateRequest{
		Variant: game.Variant(body.Variant),
		Stake:   body.Stake,
		Seats:   seats,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, snap)
}

func (h *Handler) GetSession(c *gin.Context) {
	snap, err := h.services.Tables.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, snap)
}

func (h *Handler) GetSettlement(c *gin.Context) {
	record, err := h.services.Settle.GetRecord(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, table.NewSettlementView(record))
}

func (h *Handler) GetWallet(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	wallet, err := h.services.Wallet.GetWallet(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	response.Success(c, gin.H{
		"userId":           strconv.FormatInt(wallet.UserID, 10),
		"balanceTotal":     wallet.BalanceTotal,
		"balanceAvailable": wallet.BalanceAvailable,
		"balanceFrozen":    wallet.BalanceFrozen,
		"totalWin":         wallet.TotalWin,
		"totalConsume":     wallet.TotalConsume,
	})
}

func (h *Handler) matchEnabled(c *gin.Context) {
	if h.services.Match == nil {
		response.Error(c, http.StatusServiceUnavailable, "matchmaking disabled")
		c.Abort()
		return
	}
	c.Next()
}

func (h *Handler) MatchJoin(c *gin.Context) {
	var body matchJoinBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, bindError(err))
		return
	}

	userID, ok := getUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	queueID, err := h.services.Match.JoinQueue(c.Request.Context(), match.JoinQueueRequest{
		UserID: userID,
		Stake:  body.Stake,
		Name:   strings.TrimSpace(body.Name),
		IP:     c.ClientIP(),
	})
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{
		"queueId": queueID,
		"status":  match.QueueStatusQueued,
	})
}

func (h *Handler) MatchCancel(c *gin.Context) {
	var body matchCancelBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, bindError(err))
		return
	}

	userID, ok := getUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.services.Match.CancelQueue(c.Request.Context(), match.CancelQueueRequest{
		UserID: userID,
		Stake:  body.Stake,
		Reason: "user_cancel",
	}); err != nil {
		handleError(c, err)
		return
	}

	response.SuccessWithMsg(c, gin.H{"status": "cancelled"}, "")
}

func (h *Handler) MatchStatus(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	stake, err := parseInt64Query(c, "stake")
	if err != nil || stake <= 0 {
		response.Error(c, http.StatusBadRequest, "invalid stake")
		return
	}

	status, err := h.services.Match.GetStatus(c.Request.Context(), userID, stake)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, status)
}

func (h *Handler) AdminListRakeRules(c *gin.Context) {
	page, err := parsePositiveIntQuery(c, "page", 1)
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	size, err := parsePositiveIntQuery(c, "size", 20)
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.services.Rake.List(c.Request.Context(), page, size)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}

	response.Success(c, gin.H{
		"items": result.Items,
		"total": result.Total,
		"page":  page,
		"size":  size,
	})
}

func (h *Handler) AdminCreateRakeRule(c *gin.Context) {
	var body rakeRuleBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, bindError(err))
		return
	}
	params, err := body.toParams()
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	rule, err := h.services.Rake.Create(c.Request.Context(), params)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, gin.H{"id": rule.ID})
}

func (h *Handler) AdminUpdateRakeRule(c *gin.Context) {
	ruleID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || ruleID <= 0 {
		response.Error(c, http.StatusBadRequest, "invalid rake rule id")
		return
	}

	var body rakeRuleBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, bindError(err))
		return
	}
	params, err := body.toParams()
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	rule, err := h.services.Rake.Update(c.Request.Context(), ruleID, params)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, rule)
}

func handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, appErr.ErrSessionNotFound),
		errors.Is(err, appErr.ErrSettlementNotFound),
		errors.Is(err, appErr.ErrRakeRuleNotFound):
		response.Error(c, http.StatusNotFound, err.Error())
	case errors.Is(err, appErr.ErrUnauthorized):
		response.Error(c, http.StatusUnauthorized, err.Error())
	case errors.Is(err, appErr.ErrAlreadyInQueue),
		errors.Is(err, appErr.ErrSeatTaken),
		errors.Is(err, appErr.ErrSessionFull),
		errors.Is(err, appErr.ErrAlreadySeated),
		errors.Is(err, appErr.ErrSessionConflict):
		response.Error(c, http.StatusConflict, err.Error())
	case errors.Is(err, appErr.ErrQueueProcessing), errors.Is(err, appErr.ErrQueueFull):
		response.Error(c, http.StatusTooManyRequests, err.Error())
	case appErr.IsRejected(err):
		response.Error(c, http.StatusBadRequest, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, err.Error())
	}
}

func bindError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

func parseInt64Query(c *gin.Context, key string) (int64, error) {
	val := c.Query(key)
	return strconv.ParseInt(val, 10, 64)
}

func parsePositiveIntQuery(c *gin.Context, key string, defaultVal int) (int, error) {
	val := c.Query(key)
	if val == "" {
		return defaultVal, nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return parsed, nil
}

func parseTimeWithLayouts(value string) (*time.Time, error) {
	layouts := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if ts, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return &ts, nil
		}
	}
	return nil, fmt.Errorf("invalid effectiveAt, expected RFC3339 or '2006-01-02 15:04:05'")
}

func getUserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(middleware.ContextUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
