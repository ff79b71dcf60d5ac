package checkout

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/cart"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
)

// Step — шаг мастера оформления.
type Step string

const (
	StepBasket  Step = "basket"
	StepAddress Step = "address"
	StepPayment Step = "payment"
	// StepReview показывается после успешной оплаты.
	StepReview Step = "review"
)

// Index возвращает порядковый номер шага (1..4) для индикатора прогресса.
func (s Step) Index() int {
	switch s {
	case StepBasket:
		return 1
	case StepAddress:
		return 2
	case StepPayment:
		return 3
	case StepReview:
		return 4
	default:
		return 0
	}
}

// State — снимок мастера для отдачи клиенту.
type State struct {
	Step             Step                    `json:"step"`
	StepIndex        int                     `json:"step_index"`
	Customer         *domain.CustomerDetails `json:"customer,omitempty"`
	ValidationErrors []string                `json:"validation_errors,omitempty"`
	PendingOrderID   string                  `json:"pending_order_id,omitempty"`
	Provider         domain.PaymentProvider  `json:"provider,omitempty"`
	PaymentError     string                  `json:"payment_error,omitempty"`
	CompletedOrderID string                  `json:"completed_order_id,omitempty"`
}

// Wizard ведёт сессию по шагам basket → address → payment → review.
// Пропустить шаг нельзя: каждый переход проверяет условия предыдущего.
type Wizard struct {
	mu sync.Mutex

	cart        *cart.Store
	step        Step
	customer    *domain.CustomerDetails
	errs        []string
	pendingID   string
	provider    domain.PaymentProvider
	paymentErr  string
	completedID string
}

// NewWizard создаёт мастер поверх корзины сессии.
func NewWizard(store *cart.Store) *Wizard {
	return &Wizard{cart: store, step: StepBasket}
}

// Step возвращает текущий шаг.
func (w *Wizard) Step() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}

// Next переходит на следующий шаг.
func (w *Wizard) Next() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.step {
	case StepBasket:
		if w.cart.IsEmpty() {
			return domain.ErrCartEmpty
		}
		w.step = StepAddress
	case StepAddress:
		if w.customer == nil {
			return fmt.Errorf("%w: delivery address has not been accepted", domain.ErrCheckoutStep)
		}
		if w.cart.IsEmpty() {
			return domain.ErrCartEmpty
		}
		w.step = StepPayment
	default:
		return fmt.Errorf("%w: cannot advance from %s", domain.ErrCheckoutStep, w.step)
	}
	return nil
}

// Back возвращает на предыдущий шаг; с basket это no-op, с review запрещено.
func (w *Wizard) Back() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.step {
	case StepBasket:
	case StepAddress:
		w.step = StepBasket
	case StepPayment:
		w.step = StepAddress
		w.paymentErr = ""
	default:
		return fmt.Errorf("%w: cannot go back from %s", domain.ErrCheckoutStep, w.step)
	}
	return nil
}

// SubmitAddress проверяет данные покупателя. При ошибках возвращает их и остаётся на address,
// при успехе запоминает адрес, страну доставки корзины и переходит к оплате.
func (w *Wizard) SubmitAddress(details domain.CustomerDetails) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.step != StepAddress {
		return nil, fmt.Errorf("%w: address is accepted on %s step only", domain.ErrCheckoutStep, StepAddress)
	}

	if errs := ValidateCustomerDetails(details); len(errs) > 0 {
		w.errs = errs
		return errs, nil
	}

	normalized := details.Normalized()
	w.customer = &normalized
	w.errs = nil
	w.cart.SetDestination(normalized.Country)
	// pending-заказ несёт старый адрес.
	w.pendingID = ""
	w.provider = ""
	w.step = StepPayment
	return nil, nil
}

// Customer возвращает принятые данные покупателя.
func (w *Wizard) Customer() (domain.CustomerDetails, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.customer == nil {
		return domain.CustomerDetails{}, false
	}
	return *w.customer, true
}

// RequirePayment проверяет, что сессия стоит на шаге оплаты.
func (w *Wizard) RequirePayment() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step != StepPayment {
		return fmt.Errorf("%w: payment requires %s step, current %s", domain.ErrCheckoutStep, StepPayment, w.step)
	}
	return nil
}

// AttachOrder запоминает pending-заказ текущей попытки оплаты.
func (w *Wizard) AttachOrder(orderID string, provider domain.PaymentProvider) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step != StepPayment {
		return fmt.Errorf("%w: order can be attached on %s step only", domain.ErrCheckoutStep, StepPayment)
	}
	w.pendingID = strings.TrimSpace(orderID)
	w.provider = provider
	w.paymentErr = ""
	return nil
}

// PendingOrder возвращает pending-заказ текущей попытки.
func (w *Wizard) PendingOrder() (string, domain.PaymentProvider) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pendingID, w.provider
}

// DetachOrder забывает pending-заказ (после отмены или отказа провайдера).
func (w *Wizard) DetachOrder(orderID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pendingID == orderID {
		w.pendingID = ""
		w.provider = ""
	}
}

// PaymentFailed фиксирует ошибку оплаты: шаг и корзина не меняются.
func (w *Wizard) PaymentFailed(message string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step == StepPayment {
		w.paymentErr = message
	}
}

// Complete завершает оформление: переход на review и очистка корзины. Завершить можно
// только текущий pending-заказ: корзина, изменённая после его создания, не очищается.
// Повторный вызов с тем же orderID ничего не делает и возвращает false.
func (w *Wizard) Complete(orderID string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.step == StepReview {
		if w.completedID == orderID {
			return false, nil
		}
		return false, fmt.Errorf("%w: checkout already completed with %s", domain.ErrCheckoutStep, w.completedID)
	}
	if w.step != StepPayment {
		return false, fmt.Errorf("%w: cannot complete from %s", domain.ErrCheckoutStep, w.step)
	}
	if orderID == "" || orderID != w.pendingID {
		return false, fmt.Errorf("%w: order %s is not the pending order of this checkout", domain.ErrCheckoutStep, orderID)
	}

	w.cart.Clear()
	w.step = StepReview
	w.completedID = orderID
	w.pendingID = ""
	w.paymentErr = ""
	return true, nil
}

// CartChanged вызывается при любом изменении корзины. После оплаты начинается новое
// оформление; на шаге оплаты pending-заказ устаревает, и покупатель возвращается
// к корзине. Адрес сохраняется.
func (w *Wizard) CartChanged() {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.step {
	case StepReview:
		w.reset()
	case StepPayment:
		w.step = StepBasket
		w.pendingID = ""
		w.provider = ""
		w.paymentErr = ""
	}
}

// Reset начинает новое оформление; корзина не трогается.
func (w *Wizard) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reset()
}

func (w *Wizard) reset() {
	w.step = StepBasket
	w.errs = nil
	w.pendingID = ""
	w.provider = ""
	w.paymentErr = ""
	w.completedID = ""
}

// State возвращает снимок состояния.
func (w *Wizard) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()

	state := State{
		Step:             w.step,
		StepIndex:        w.step.Index(),
		PendingOrderID:   w.pendingID,
		Provider:         w.provider,
		PaymentError:     w.paymentErr,
		CompletedOrderID: w.completedID,
	}
	if w.customer != nil {
		c := *w.customer
		state.Customer = &c
	}
	if len(w.errs) > 0 {
		state.ValidationErrors = append([]string(nil), w.errs...)
	}
	return state
}
