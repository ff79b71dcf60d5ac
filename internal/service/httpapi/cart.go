package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/checkout"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/pricing"
)

type bookView struct {
	domain.Book
	Price string `json:"price"`
}

type cartLineView struct {
	BookID    string `json:"book_id"`
	Title     string `json:"title"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
	LineTotal string `json:"line_total"`
}

type cartView struct {
	Items           []cartLineView `json:"items"`
	Quantity        int            `json:"quantity"`
	Subtotal        string         `json:"subtotal"`
	DiscountPercent int            `json:"discount_percent"`
	Discount        string         `json:"discount"`
	Shipping        string         `json:"shipping"`
	Total           string         `json:"total"`
	Currency        string         `json:"currency"`
	Destination     string         `json:"destination,omitempty"`
	Totals          pricing.Totals `json:"totals"`
}

type addItemRequest struct {
	BookID   string `json:"book_id" binding:"required"`
	Quantity int    `json:"quantity"`
}

type updateItemRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

func toBookView(book domain.Book) bookView {
	return bookView{Book: book, Price: pricing.Format(book.PriceMinor)}
}

func (h *Handler) listBooks(c *gin.Context) {
	books := h.catalog.List()
	if category := c.Query("category"); category != "" {
		books = h.catalog.ByCategory(category)
	}
	out := make([]bookView, 0, len(books))
	for _, book := range books {
		out = append(out, toBookView(book))
	}
	c.JSON(http.StatusOK, gin.H{"books": out})
}

func (h *Handler) getBook(c *gin.Context) {
	book, err := h.catalog.Get(trimmed(c, "id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookView(book))
}

func (h *Handler) cartView(s *checkout.Session) cartView {
	totals := s.Cart.Totals()
	items := s.Cart.Items()
	view := cartView{
		Items:           make([]cartLineView, 0, len(items)),
		Quantity:        totals.Quantity,
		Subtotal:        pricing.Format(totals.SubtotalMinor),
		DiscountPercent: totals.DiscountPercent,
		Discount:        pricing.Format(totals.DiscountMinor),
		Shipping:        pricing.Format(totals.ShippingMinor),
		Total:           pricing.Format(totals.TotalMinor),
		Currency:        h.orders.Currency(),
		Destination:     s.Cart.Destination(),
		Totals:          totals,
	}
	for _, item := range items {
		view.Items = append(view.Items, cartLineView{
			BookID:    item.Book.ID,
			Title:     item.Book.Title,
			Quantity:  item.Quantity,
			Price:     pricing.Format(item.Book.PriceMinor),
			LineTotal: pricing.Format(item.LineTotalMinor()),
		})
	}
	return view
}

func (h *Handler) getCart(c *gin.Context) {
	c.JSON(http.StatusOK, h.cartView(sessionFrom(c)))
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity < 0 {
		h.writeError(c, domain.ErrItemQtyInvalid)
		return
	}
	book, err := h.catalog.Get(req.BookID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	s := sessionFrom(c)
	s.Lock()
	s.Wizard.CartChanged()
	s.Cart.Add(book)
	if req.Quantity > 1 {
		s.Cart.UpdateQuantity(book.ID, quantityOf(s, book.ID)+req.Quantity-1)
	}
	s.Unlock()

	c.JSON(http.StatusOK, h.cartView(s))
}

func (h *Handler) updateCartItem(c *gin.Context) {
	var req updateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	s := sessionFrom(c)
	s.Lock()
	s.Wizard.CartChanged()
	s.Cart.UpdateQuantity(trimmed(c, "book_id"), *req.Quantity)
	s.Unlock()

	c.JSON(http.StatusOK, h.cartView(s))
}

func (h *Handler) removeCartItem(c *gin.Context) {
	s := sessionFrom(c)
	s.Lock()
	s.Wizard.CartChanged()
	s.Cart.Remove(trimmed(c, "book_id"))
	s.Unlock()

	c.JSON(http.StatusOK, h.cartView(s))
}

func (h *Handler) clearCart(c *gin.Context) {
	s := sessionFrom(c)
	s.Lock()
	s.Wizard.CartChanged()
	s.Cart.Clear()
	s.Unlock()

	c.JSON(http.StatusOK, h.cartView(s))
}

func quantityOf(s *checkout.Session, bookID string) int {
	for _, item := range s.Cart.Items() {
		if item.Book.ID == bookID {
			return item.Quantity
		}
	}
	return 0
}
