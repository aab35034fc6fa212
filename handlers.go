package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/models"
	"bitbucket.org/mmdatafocus/distribution_backend/models/reports"
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			var validationErrors validator.ValidationErrors
			if errors.As(err, &validationErrors) {
				c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		info, err := models.Login(c.Request.Context(), input.Username, input.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

func createShipmentSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewShipmentSession
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if len(input.MasterCodes) == 0 && len(input.UniqueCodes) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "at least one scanned code is required"})
			return
		}
		session, err := models.CreateShipmentSession(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, session)
	}
}

func getShipmentSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}
		session, err := models.GetShipmentSession(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "shipment session not found"})
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

// confirmShipmentHandler maps the confirmation error taxonomy onto HTTP:
// 404 session missing, 409 already confirmed (with the prior result) or not
// confirmable, 422 nothing shippable, 502 movement gateway failed (retryable),
// 207 movement committed but reconciliation incomplete.
func confirmShipmentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}

		ctx, span := tracer.Start(c.Request.Context(), "ConfirmShipment")
		defer span.End()

		actorId, _ := utils.GetUserIdFromContext(ctx)
		result, err := models.ConfirmShipment(ctx, id, actorId)
		if err == nil {
			c.JSON(http.StatusOK, result)
			return
		}

		var alreadyConfirmed *models.AlreadyConfirmedError
		var invalidState *models.InvalidStateError
		var invalidRequest *models.InvalidRequestError
		var gatewayFailure *models.GatewayFailureError
		var partial *models.PartialReconciliationError
		switch {
		case errors.Is(err, models.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.As(err, &alreadyConfirmed):
			c.JSON(http.StatusConflict, gin.H{
				"error":            err.Error(),
				"approved_by":      alreadyConfirmed.ApprovedBy,
				"approved_at":      alreadyConfirmed.ApprovedAt,
				"shipped_code_ids": alreadyConfirmed.ShippedCodeIds,
				"cases_shipped":    alreadyConfirmed.CasesShipped,
				"units_shipped":    alreadyConfirmed.UnitsShipped,
			})
		case errors.As(err, &invalidState):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.As(err, &invalidRequest):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		case errors.As(err, &gatewayFailure):
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "retryable": true})
		case errors.As(err, &partial):
			c.JSON(http.StatusMultiStatus, gin.H{
				"error":  err.Error(),
				"result": partial.Result,
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	}
}

func verifyCodeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			Code string `json:"code" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := models.VerifyScannedCode(c.Request.Context(), input.Code)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func shipmentHistoryParams(c *gin.Context) (warehouseId int, fromDate time.Time, toDate time.Time, search string, err error) {
	warehouseId, err = strconv.Atoi(c.Query("warehouse_id"))
	if err != nil {
		return 0, time.Time{}, time.Time{}, "", errors.New("warehouse_id is required")
	}
	const layout = "2006-01-02"
	fromDate, err = time.Parse(layout, c.DefaultQuery("from_date", time.Now().AddDate(0, -1, 0).Format(layout)))
	if err != nil {
		return 0, time.Time{}, time.Time{}, "", errors.New("from_date must be YYYY-MM-DD")
	}
	toDate, err = time.Parse(layout, c.DefaultQuery("to_date", time.Now().Format(layout)))
	if err != nil {
		return 0, time.Time{}, time.Time{}, "", errors.New("to_date must be YYYY-MM-DD")
	}
	toDate = toDate.Add(24*time.Hour - time.Nanosecond)
	return warehouseId, fromDate, toDate, c.Query("search"), nil
}

func shipmentHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		warehouseId, fromDate, toDate, search, err := shipmentHistoryParams(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

		report, err := reports.GetShipmentHistory(c.Request.Context(), warehouseId, fromDate, toDate, search, limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func shipmentHistoryExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		warehouseId, fromDate, toDate, search, err := shipmentHistoryParams(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		buf, err := reports.ExportShipmentHistoryXLSX(c.Request.Context(), warehouseId, fromDate, toDate, search)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		filename := fmt.Sprintf("shipment-history-%d.xlsx", warehouseId)
		c.Header("Content-Disposition", "attachment; filename="+filename)
		c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
	}
}

// outboxReplayHandler requeues DEAD/FAILED outbox rows (admin only).
func outboxReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		isAdmin, _ := utils.GetIsAdminFromContext(c.Request.Context())
		if !isAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin only"})
			return
		}
		var input struct {
			RecordIds []int `json:"record_ids" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		db := config.GetDB()
		result := db.WithContext(c.Request.Context()).Model(&models.OutboxRecord{}).
			Where("id IN ? AND publish_status IN ?", input.RecordIds,
				[]string{models.OutboxPublishStatusDead, models.OutboxPublishStatusFailed}).
			Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusPending,
				"publish_attempts":   0,
				"next_attempt_at":    nil,
				"locked_at":          nil,
				"locked_by":          nil,
				"last_publish_error": nil,
			})
		if result.Error != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": result.Error.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"requeued": result.RowsAffected})
	}
}
