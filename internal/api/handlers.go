package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"merch-store/internal/middleware"
	"merch-store/internal/service"
	"merch-store/pkg"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handlers struct {
	AuthService   service.AuthService
	LedgerService service.LedgerService
	QueryService  service.QueryService
	Logger        pkg.Logger
}

type AuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token string `json:"token"`
}

type SendCoinRequest struct {
	ToUser string      `json:"toUser"`
	Amount json.Number `json:"amount"`
}

type SendCoinResponse struct {
	ID        int       `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Amount    int       `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}

type BuyItemResponse struct {
	Item     string `json:"item"`
	Price    int    `json:"price"`
	Quantity int    `json:"quantity"`
}

type InventoryItem struct {
	Type     string `json:"type"`
	Quantity int    `json:"quantity"`
}

type ReceivedCoins struct {
	FromUser string `json:"fromUser"`
	Amount   int    `json:"amount"`
}

type SentCoins struct {
	ToUser string `json:"toUser"`
	Amount int    `json:"amount"`
}

type CoinHistory struct {
	Received []ReceivedCoins `json:"received"`
	Sent     []SentCoins     `json:"sent"`
}

type InfoResponse struct {
	Coins       int             `json:"coins"`
	Inventory   []InventoryItem `json:"inventory"`
	CoinHistory CoinHistory     `json:"coinHistory"`
}

type ErrorResponse struct {
	Errors string `json:"errors"`
}

func (h *Handlers) PostApiAuth(c *gin.Context) {
	var req AuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Errors: "Invalid request body"})
		return
	}

	token, err := h.AuthService.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, AuthResponse{Token: token})
}

func (h *Handlers) GetApiBuyItem(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Errors: "Unauthorized"})
		return
	}

	receipt, err := h.LedgerService.Purchase(c.Request.Context(), principal.ID, c.Param("item"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, BuyItemResponse{
		Item:     receipt.Item,
		Price:    receipt.Price,
		Quantity: receipt.Quantity,
	})
}

func (h *Handlers) GetApiInfo(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Errors: "Unauthorized"})
		return
	}

	info, err := h.QueryService.GetAccountSummary(c.Request.Context(), principal.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, convertToInfoResponse(info))
}

func (h *Handlers) PostApiSendCoin(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Errors: "Unauthorized"})
		return
	}

	var req SendCoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Errors: "Invalid request body"})
		return
	}

	receipt, err := h.LedgerService.Transfer(c.Request.Context(), principal.ID, req.ToUser, req.Amount.String())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SendCoinResponse{
		ID:        receipt.ID,
		Sender:    receipt.Sender,
		Recipient: receipt.Recipient,
		Amount:    receipt.Amount,
		CreatedAt: receipt.CreatedAt,
	})
}

// writeError maps a service failure category onto a status code.
func (h *Handlers) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Errors: "Invalid credentials"})
	case errors.Is(err, service.ErrInsufficientFunds):
		c.JSON(http.StatusBadRequest, ErrorResponse{Errors: "Not enough coins"})
	case errors.Is(err, service.ErrRecipientNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Errors: "Recipient not found"})
	case errors.Is(err, service.ErrItemNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Errors: "Item not found"})
	case service.IsNotFound(err):
		c.JSON(http.StatusNotFound, ErrorResponse{Errors: "Not found"})
	case service.IsValidation(err):
		c.JSON(http.StatusBadRequest, ErrorResponse{Errors: err.Error()})
	default:
		h.Logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Errors: "Internal server error"})
	}
}

func convertToInfoResponse(info service.Summary) InfoResponse {
	resp := InfoResponse{
		Coins:     info.Coins,
		Inventory: make([]InventoryItem, 0, len(info.Inventory)),
		CoinHistory: CoinHistory{
			Received: make([]ReceivedCoins, 0, len(info.CoinHistory.Received)),
			Sent:     make([]SentCoins, 0, len(info.CoinHistory.Sent)),
		},
	}
	for _, it := range info.Inventory {
		resp.Inventory = append(resp.Inventory, InventoryItem{Type: it.Type, Quantity: it.Quantity})
	}
	for _, r := range info.CoinHistory.Received {
		resp.CoinHistory.Received = append(resp.CoinHistory.Received, ReceivedCoins{FromUser: r.Counterparty, Amount: r.Amount})
	}
	for _, s := range info.CoinHistory.Sent {
		resp.CoinHistory.Sent = append(resp.CoinHistory.Sent, SentCoins{ToUser: s.Counterparty, Amount: s.Amount})
	}
	return resp
}
