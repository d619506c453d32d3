package handler

import (
	"net/http"
	"time"

	"github.com/evetabi/pointsmarket/internal/repository"
	"github.com/evetabi/pointsmarket/internal/service"
	"github.com/gin-gonic/gin"
)

// WalletHandler serves balance, positions, history and faucet endpoints.
type WalletHandler struct {
	walletSvc *service.WalletService
	marketSvc *service.MarketService
}

// NewWalletHandler creates a WalletHandler.
func NewWalletHandler(walletSvc *service.WalletService, marketSvc *service.MarketService) *WalletHandler {
	return &WalletHandler{walletSvc: walletSvc, marketSvc: marketSvc}
}

// GetWallet godoc
// GET /api/wallets/:address
// A first visit creates the wallet with the starting balance.
func (h *WalletHandler) GetWallet(c *gin.Context) {
	w, err := h.walletSvc.GetOrCreate(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondDomainError(c, err, "could not fetch wallet")
		return
	}
	respondSuccess(c, http.StatusOK, w)
}

// GetPositions godoc
// GET /api/wallets/:address/positions
func (h *WalletHandler) GetPositions(c *gin.Context) {
	positions, err := h.marketSvc.Positions(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondDomainError(c, err, "could not fetch positions")
		return
	}
	respondSuccess(c, http.StatusOK, positions)
}

// GetTrades godoc
// GET /api/wallets/:address/trades?page=1&limit=20
func (h *WalletHandler) GetTrades(c *gin.Context) {
	page, limit := parsePagination(c)
	offset := (page - 1) * limit

	trades, err := h.marketSvc.WalletTrades(c.Request.Context(), c.Param("address"), limit, offset)
	if err != nil {
		respondDomainError(c, err, "could not fetch trades")
		return
	}
	respondList(c, trades, len(trades), page, limit)
}

// GetClaims godoc
// GET /api/wallets/:address/claims?page=1&limit=20
func (h *WalletHandler) GetClaims(c *gin.Context) {
	page, limit := parsePagination(c)
	claims, err := h.marketSvc.Claims(c.Request.Context(), repository.ClaimFilter{
		Wallet: c.Param("address"),
		Limit:  limit,
		Offset: (page - 1) * limit,
	})
	if err != nil {
		respondDomainError(c, err, "could not fetch claims")
		return
	}
	respondList(c, claims, len(claims), page, limit)
}

// ClaimFaucet godoc
// POST /api/wallets/:address/faucet
func (h *WalletHandler) ClaimFaucet(c *gin.Context) {
	w, err := h.walletSvc.ClaimFaucet(c.Request.Context(), c.Param("address"), time.Now().UTC())
	if err != nil {
		respondDomainError(c, err, "could not claim faucet")
		return
	}
	respondSuccess(c, http.StatusOK, w)
}
