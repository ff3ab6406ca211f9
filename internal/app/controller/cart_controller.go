package controller

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ikkim/cartage/internal/errors"
	"github.com/ikkim/cartage/internal/middleware"
	"github.com/ikkim/cartage/pkg/cartage"
	"github.com/shopspring/decimal"
)

// CartController exposes a cartage repository over HTTP. Every request runs
// as the principal the auth middleware attached.
type CartController struct {
	provider cartage.StoreProvider
	opts     []cartage.Option
}

func NewCartController(provider cartage.StoreProvider, opts ...cartage.Option) *CartController {
	return &CartController{
		provider: provider,
		opts:     opts,
	}
}

type RegisterCartRequest struct {
	ID string `json:"id" binding:"omitempty,max=64"`
}

type AddItemsRequest struct {
	ProductCode string            `json:"product_code" binding:"required,max=255"`
	Quantity    decimal.Decimal   `json:"quantity"`
	Attributes  map[string]string `json:"attributes"`
}

type UpdateLineRequest struct {
	Quantity   decimal.Decimal   `json:"quantity"`
	Attributes map[string]string `json:"attributes"`
}

type SetAttributeRequest struct {
	Value string `json:"value"`
}

type CartResponse struct {
	ID             string    `json:"id"`
	Created        time.Time `json:"created"`
	CreateUser     string    `json:"create_user"`
	LastModified   time.Time `json:"last_modified"`
	LastModifyUser string    `json:"last_modify_user"`
	Finalized      bool      `json:"finalized"`
}

type LineResponse struct {
	ID          string            `json:"id"`
	ProductCode string            `json:"product_code"`
	Quantity    decimal.Decimal   `json:"quantity"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

type SummaryResponse struct {
	TotalProducts int             `json:"total_products"`
	TotalItems    decimal.Decimal `json:"total_items"`
}

func newCartResponse(info cartage.CartInfo) CartResponse {
	return CartResponse{
		ID:             info.Identifier,
		Created:        info.Created,
		CreateUser:     info.CreateUser,
		LastModified:   info.LastModified,
		LastModifyUser: info.LastModifyUser,
		Finalized:      info.Finalized,
	}
}

func newLineResponse(info cartage.LineInfo, attributes map[string]cartage.AttributeInfo) LineResponse {
	resp := LineResponse{
		ID:          info.Identifier,
		ProductCode: info.ProductCode,
		Quantity:    info.Quantity,
	}
	if len(attributes) > 0 {
		resp.Attributes = make(map[string]string, len(attributes))
		for name, attr := range attributes {
			resp.Attributes[name] = attr.Value
		}
	}
	return resp
}

func (ctrl *CartController) repo(c *gin.Context) *cartage.Cartage {
	return cartage.New(ctrl.provider, middleware.SecurityManager(c), ctrl.opts...)
}

// fail logs err at a level matching its outcome and writes the mapped response.
func (ctrl *CartController) fail(c *gin.Context, msg string, err error) {
	log := middleware.GetLoggerFromContext(c)
	info := errors.ParseError(err)

	fields := map[string]interface{}{
		"cart_id": c.Param("id"),
		"code":    info.Code,
	}
	if info.Status >= http.StatusInternalServerError {
		log.Error(msg, err, fields)
	} else {
		fields["error"] = err.Error()
		log.Warn(msg, fields)
	}
	errors.RespondWithError(c, info.Status, info.Code, info.Message)
}

func (ctrl *CartController) invalid(c *gin.Context, err error) {
	middleware.GetLoggerFromContext(c).Warn("Invalid cart request", map[string]interface{}{
		"path":  c.Request.URL.Path,
		"error": err.Error(),
	})
	errors.RespondWithError(c, http.StatusBadRequest, errors.ValidationInvalidInput, "invalid request data")
}

func (ctrl *CartController) loadCart(c *gin.Context) (*cartage.Cart, bool) {
	cart, err := ctrl.repo(c).GetCart(c.Request.Context(), c.Param("id"))
	if err != nil {
		ctrl.fail(c, "Failed to load cart", err)
		return nil, false
	}
	return cart, true
}

// RegisterCart creates a cart, with the requested identifier when one is given
// POST /api/v1/carts
func (ctrl *CartController) RegisterCart(c *gin.Context) {
	var req RegisterCartRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			ctrl.invalid(c, err)
			return
		}
	}

	repo := ctrl.repo(c)
	var (
		cart *cartage.Cart
		err  error
	)
	if req.ID != "" {
		cart, err = repo.RegisterCartWithID(c.Request.Context(), req.ID)
	} else {
		cart, err = repo.RegisterCart(c.Request.Context())
	}
	if err != nil {
		ctrl.fail(c, "Failed to register cart", err)
		return
	}

	middleware.GetLoggerFromContext(c).Info("Cart registered", map[string]interface{}{
		"cart_id": cart.Identifier(),
	})
	c.JSON(http.StatusCreated, gin.H{"cart": newCartResponse(cart.Info())})
}

// ListCarts returns the carts created and modified within the requested ranges
// GET /api/v1/carts?created_from=&created_to=&modified_from=&modified_to=
func (ctrl *CartController) ListCarts(c *gin.Context) {
	creation, err := parseRange(c.Query("created_from"), c.Query("created_to"))
	if err != nil {
		errors.RespondWithError(c, http.StatusBadRequest, errors.ValidationInvalidRange, err.Error())
		return
	}
	modification, err := parseRange(c.Query("modified_from"), c.Query("modified_to"))
	if err != nil {
		errors.RespondWithError(c, http.StatusBadRequest, errors.ValidationInvalidRange, err.Error())
		return
	}

	infos, err := ctrl.repo(c).GetCarts(c.Request.Context(), creation, modification)
	if err != nil {
		ctrl.fail(c, "Failed to list carts", err)
		return
	}

	carts := make([]CartResponse, 0, len(infos))
	for _, info := range infos {
		carts = append(carts, newCartResponse(info))
	}
	c.JSON(http.StatusOK, gin.H{
		"carts": carts,
		"count": len(carts),
	})
}

// parseRange reads two optional RFC3339 bounds; a missing bound is open.
func parseRange(from, to string) (*cartage.Range, error) {
	if from == "" && to == "" {
		return nil, nil
	}
	r := &cartage.Range{End: time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)}
	if from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return nil, err
		}
		r.Start = t
	}
	if to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return nil, err
		}
		r.End = t
	}
	return r, nil
}

// GetCart returns the cart record and its summary
// GET /api/v1/carts/:id
func (ctrl *CartController) GetCart(c *gin.Context) {
	cart, ok := ctrl.loadCart(c)
	if !ok {
		return
	}

	summary, err := cart.GetCartSummary(c.Request.Context())
	if err != nil {
		ctrl.fail(c, "Failed to summarize cart", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cart": newCartResponse(cart.Info()),
		"summary": SummaryResponse{
			TotalProducts: summary.TotalProducts,
			TotalItems:    summary.TotalItems,
		},
	})
}

// DeleteCart removes a cart and everything it contains
// DELETE /api/v1/carts/:id
func (ctrl *CartController) DeleteCart(c *gin.Context) {
	if err := ctrl.repo(c).DeleteCart(c.Request.Context(), c.Param("id")); err != nil {
		ctrl.fail(c, "Failed to delete cart", err)
		return
	}

	middleware.GetLoggerFromContext(c).Info("Cart deleted", map[string]interface{}{
		"cart_id": c.Param("id"),
	})
	c.Status(http.StatusNoContent)
}

// AddItems adds a new line to the cart
// POST /api/v1/carts/:id/lines
func (ctrl *CartController) AddItems(c *gin.Context) {
	var req AddItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ctrl.invalid(c, err)
		return
	}

	cart, ok := ctrl.loadCart(c)
	if !ok {
		return
	}

	lineID, err := cart.AddItems(c.Request.Context(), req.ProductCode, req.Quantity, req.Attributes)
	if err != nil {
		ctrl.fail(c, "Failed to add items to cart", err)
		return
	}

	middleware.GetLoggerFromContext(c).Info("Items added to cart", map[string]interface{}{
		"cart_id":      cart.Identifier(),
		"line_id":      lineID,
		"product_code": req.ProductCode,
	})
	c.JSON(http.StatusCreated, gin.H{
		"line_id": lineID,
		"cart":    newCartResponse(cart.Info()),
	})
}

// GetLines returns the cart lines in insertion order
// GET /api/v1/carts/:id/lines
func (ctrl *CartController) GetLines(c *gin.Context) {
	cart, ok := ctrl.loadCart(c)
	if !ok {
		return
	}

	infos, err := cart.GetLines(c.Request.Context())
	if err != nil {
		ctrl.fail(c, "Failed to fetch cart lines", err)
		return
	}

	lines := make([]LineResponse, 0, len(infos))
	for _, info := range infos {
		lines = append(lines, newLineResponse(info, nil))
	}
	c.JSON(http.StatusOK, gin.H{
		"lines": lines,
		"count": len(lines),
	})
}

// GetLine returns one line with its attributes
// GET /api/v1/carts/:id/lines/:line
func (ctrl *CartController) GetLine(c *gin.Context) {
	cart, ok := ctrl.loadCart(c)
	if !ok {
		return
	}

	line, found, err := cart.GetLine(c.Request.Context(), c.Param("line"))
	if err != nil {
		ctrl.fail(c, "Failed to fetch cart line", err)
		return
	}
	if !found {
		errors.RespondWithError(c, http.StatusNotFound, errors.LineNotFound, "cart line not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{"line": newLineResponse(line.Info, line.Attributes())})
}

// UpdateLine replaces the quantity and attributes of a line
// PUT /api/v1/carts/:id/lines/:line
func (ctrl *CartController) UpdateLine(c *gin.Context) {
	var req UpdateLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ctrl.invalid(c, err)
		return
	}

	cart, ok := ctrl.loadCart(c)
	if !ok {
		return
	}

	if err := cart.UpdateLine(c.Request.Context(), c.Param("line"), req.Quantity, req.Attributes); err != nil {
		ctrl.fail(c, "Failed to update cart line", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"cart": newCartResponse(cart.Info())})
}

// RemoveLine deletes a line and its attributes
// DELETE /api/v1/carts/:id/lines/:line
func (ctrl *CartController) RemoveLine(c *gin.Context) {
	cart, ok := ctrl.loadCart(c)
	if !ok {
		return
	}

	if err := cart.RemoveLine(c.Request.Context(), c.Param("line")); err != nil {
		ctrl.fail(c, "Failed to remove cart line", err)
		return
	}

	c.Status(http.StatusNoContent)
}

// SetLineAttribute sets one attribute of a line
// PUT /api/v1/carts/:id/lines/:line/attributes/:name
func (ctrl *CartController) SetLineAttribute(c *gin.Context) {
	var req SetAttributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ctrl.invalid(c, err)
		return
	}

	cart, ok := ctrl.loadCart(c)
	if !ok {
		return
	}

	if err := cart.SetLineAttribute(c.Request.Context(), c.Param("line"), c.Param("name"), req.Value); err != nil {
		ctrl.fail(c, "Failed to set line attribute", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"cart": newCartResponse(cart.Info())})
}

// DeleteLineAttribute removes one attribute of a line
// DELETE /api/v1/carts/:id/lines/:line/attributes/:name
func (ctrl *CartController) DeleteLineAttribute(c *gin.Context) {
	cart, ok := ctrl.loadCart(c)
	if !ok {
		return
	}

	if err := cart.DeleteLineAttribute(c.Request.Context(), c.Param("line"), c.Param("name")); err != nil {
		ctrl.fail(c, "Failed to delete line attribute", err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Clear removes every line of the cart
// POST /api/v1/carts/:id/clear
func (ctrl *CartController) Clear(c *gin.Context) {
	cart, ok := ctrl.loadCart(c)
	if !ok {
		return
	}

	if err := cart.Clear(c.Request.Context()); err != nil {
		ctrl.fail(c, "Failed to clear cart", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"cart": newCartResponse(cart.Info())})
}

// Finalize marks the cart read-only
// POST /api/v1/carts/:id/finalize
func (ctrl *CartController) Finalize(c *gin.Context) {
	cart, ok := ctrl.loadCart(c)
	if !ok {
		return
	}

	if err := cart.MarkAsFinalized(c.Request.Context()); err != nil {
		ctrl.fail(c, "Failed to finalize cart", err)
		return
	}

	middleware.GetLoggerFromContext(c).Info("Cart finalized", map[string]interface{}{
		"cart_id": cart.Identifier(),
	})
	c.JSON(http.StatusOK, gin.H{"cart": newCartResponse(cart.Info())})
}
