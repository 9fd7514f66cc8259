package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cainiao1230/LoadBalance/internal/apierr"
	"github.com/cainiao1230/LoadBalance/internal/api/models"
)

// statusAndMessage maps a gateway error to the HTTP status and safe message
// to send back to the caller. Unrecognized errors are treated as internal.
func statusAndMessage(err error) (int, string) {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		return apiErr.Status(), apiErr.Message
	}
	return http.StatusInternalServerError, "internal error"
}

// Login handles GET /api/login.
func (h *Handler) Login(c *gin.Context) {
	username := c.Query("username")
	password := c.Query("password")
	if username == "" || password == "" {
		c.JSON(http.StatusBadRequest, models.LoginResponse{Success: false, Msg: "username and password required"})
		return
	}

	result, err := h.gateway.Login(c.Request.Context(), username, password)
	if err != nil {
		status, msg := statusAndMessage(err)
		c.JSON(status, models.LoginResponse{Success: false, Msg: msg})
		return
	}

	c.JSON(http.StatusOK, models.LoginResponse{
		Success: true,
		Msg:     "ok",
		Data:    &models.LoginData{Token: result.Token, Orders: []string{result.Orders}},
	})
}

// Decrypt handles GET /api/yd/decryptl.
func (h *Handler) Decrypt(c *gin.Context) {
	hexData := c.Query("hex")
	if hexData == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "useless packet"})
		return
	}

	username := c.Query("username")
	password := c.Query("password")
	token := c.Query("token")
	if token == "" && (username == "" || password == "") {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "username/password or token required"})
		return
	}

	outcome, err := h.gateway.HandleDecrypt(c.Request.Context(), hexData, username, password, token)
	if err != nil {
		status, msg := statusAndMessage(err)
		c.JSON(status, models.ErrorResponse{Error: msg})
		return
	}

	if len(outcome.Body) > 0 {
		c.Data(http.StatusOK, "application/json; charset=utf-8", outcome.Body)
		return
	}

	reply := gin.H{"msg": outcome.Msg}
	if outcome.SN != "" {
		reply["sn"] = outcome.SN
	}
	c.JSON(http.StatusOK, reply)
}

// QueryPersonData handles GET /api/query/persondata. Per the strict param
// set, any query parameter beyond username/password is rejected.
func (h *Handler) QueryPersonData(c *gin.Context) {
	for key := range c.Request.URL.Query() {
		if key != "username" && key != "password" {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "unexpected parameter: " + key})
			return
		}
	}

	username := c.Query("username")
	password := c.Query("password")
	if username == "" || password == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "username and password required"})
		return
	}

	result, err := h.gateway.QueryPersonData(c.Request.Context(), username, password)
	if err != nil {
		status, msg := statusAndMessage(err)
		c.JSON(status, models.PersonDataResponse{Code: status, Message: msg})
		return
	}

	c.JSON(http.StatusOK, models.PersonDataResponse{
		Code:    http.StatusOK,
		Message: "ok",
		Data:    &models.PersonData{VisitTimes: result.VisitTimes},
	})
}
