package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmacy-backend/internal/orders"
	"github.com/angelmondragon/pharmacy-backend/pkg/db/models"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmacy-backend/pkg/errors"
	"github.com/angelmondragon/pharmacy-backend/pkg/logger"
	"github.com/angelmondragon/pharmacy-backend/pkg/sslcommerz"
)

// Callback routes the gateway posts back to, relative to the public API origin.
const (
	SuccessPath = "/api/v1/payments/success"
	FailPath    = "/api/v1/payments/fail"
	CancelPath  = "/api/v1/payments/cancel"
	IPNPath     = "/api/v1/payments/ipn"
)

// InitiateResult is returned to the client to redirect into hosted checkout.
type InitiateResult struct {
	GatewayURL    string `json:"gateway_url"`
	SessionKey    string `json:"session_key"`
	TransactionID string `json:"transaction_id"`
}

// SessionService opens gateway checkout sessions for pending orders.
type SessionService struct {
	repo         *Repository
	tx           txRunner
	gateway      Gateway
	callbackBase string
	newTranID    func() string
	logg         *logger.Logger
}

func NewSessionService(repo *Repository, tx txRunner, gateway Gateway, callbackBase string, logg *logger.Logger) (*SessionService, error) {
	switch {
	case repo == nil:
		return nil, fmt.Errorf("payments repository required")
	case tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case gateway == nil:
		return nil, fmt.Errorf("payment gateway required")
	case strings.TrimSpace(callbackBase) == "":
		return nil, fmt.Errorf("callback base url required")
	}
	return &SessionService{
		repo:         repo,
		tx:           tx,
		gateway:      gateway,
		callbackBase: strings.TrimRight(callbackBase, "/"),
		newTranID:    newTransactionID,
		logg:         logg,
	}, nil
}

// newTransactionID returns TXN- followed by an upper-case dashless uuid.
func newTransactionID() string {
	return "TXN-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// InitiatePayment issues a fresh transaction id for the order's pending
// payment and opens a gateway session for it. The gateway is called with no
// transaction open; a gateway failure leaves the payment pending.
func (s *SessionService) InitiatePayment(ctx context.Context, userID, orderID uuid.UUID) (*InitiateResult, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to caller")
	}
	payment, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := payable(order, payment); err != nil {
		return nil, err
	}

	tranID := s.newTranID()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		affected, err := repo.AssignTransaction(ctx, payment.ID, tranID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "assign transaction id")
		}
		if affected != 1 {
			return pkgerrors.New(pkgerrors.CodeConflict, "payment is no longer pending")
		}
		return repo.InsertEvent(ctx, &models.PaymentEvent{
			PaymentID:     &payment.ID,
			TransactionID: tranID,
			Signal:        enums.PaymentSignalInitiate,
			Outcome:       enums.PaymentOutcomeApplied,
		})
	})
	if err != nil {
		return nil, err
	}

	logCtx := ctx
	if s.logg != nil {
		logCtx = s.logg.WithOrderID(logCtx, order.ID.String())
		logCtx = s.logg.WithTransactionID(logCtx, tranID)
	}

	session, err := s.gateway.InitiateSession(ctx, s.sessionParams(order, payment, tranID))
	if err != nil {
		detail := err.Error()
		if auditErr := s.repo.InsertEvent(ctx, &models.PaymentEvent{
			PaymentID:     &payment.ID,
			TransactionID: tranID,
			Signal:        enums.PaymentSignalInitiate,
			Outcome:       enums.PaymentOutcomeError,
			Detail:        &detail,
		}); auditErr != nil && s.logg != nil {
			s.logg.Error(logCtx, "record initiate failure", auditErr)
		}
		if s.logg != nil {
			s.logg.Error(logCtx, "gateway session failed", err)
		}
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeGateway {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "payment gateway unavailable")
	}

	if err := s.repo.SetSessionKey(ctx, payment.ID, tranID, session.SessionKey); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store session key")
	}
	if s.logg != nil {
		s.logg.Info(logCtx, "payment session opened")
	}
	return &InitiateResult{
		GatewayURL:    session.GatewayPageURL,
		SessionKey:    session.SessionKey,
		TransactionID: tranID,
	}, nil
}

func payable(order *models.Order, payment *models.Payment) error {
	switch {
	case payment.Status == enums.PaymentStatusSuccess || payment.Status == enums.PaymentStatusRefunded:
		return pkgerrors.New(pkgerrors.CodeConflict, "order is already paid")
	case payment.Status.IsTerminal():
		return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("payment is %s and cannot be retried", payment.Status))
	case order.Status != enums.OrderStatusPending:
		return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("order is %s and cannot be paid", order.Status))
	}
	return nil
}

func (s *SessionService) sessionParams(order *models.Order, payment *models.Payment, tranID string) sslcommerz.SessionParams {
	units := 0
	names := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		units += item.Quantity
		names = append(names, item.MedicineName)
	}
	product := strings.Join(names, ", ")
	if len(product) > 255 {
		product = product[:255]
	}
	ship := order.ShippingAddress
	return sslcommerz.SessionParams{
		TransactionID:   tranID,
		AmountCents:     payment.AmountCents,
		SuccessURL:      s.callbackBase + SuccessPath,
		FailURL:         s.callbackBase + FailPath,
		CancelURL:       s.callbackBase + CancelPath,
		IPNURL:          s.callbackBase + IPNPath,
		CustomerName:    ship.Name,
		CustomerEmail:   ship.Email,
		CustomerPhone:   ship.Phone,
		CustomerAddress: ship.AddressLine(),
		CustomerCity:    ship.City,
		CustomerPostal:  ship.PostalCode,
		CustomerCountry: ship.Country,
		ProductName:     product,
		ProductCategory: "Medicine",
		ItemCount:       units,
		ValueA:          order.ID.String(),
		ValueB:          order.OrderNumber,
	}
}

// GetPaymentForOrder returns the payment of an order visible to caller.
func (s *SessionService) GetPaymentForOrder(ctx context.Context, caller orders.Caller, orderID uuid.UUID) (*models.Payment, error) {
	if caller.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, caller, order); err != nil {
		return nil, err
	}
	return s.repo.FindByOrderID(ctx, orderID)
}

func (s *SessionService) authorize(ctx context.Context, caller orders.Caller, order *models.Order) error {
	if caller.Role == enums.ActorRoleAdmin || order.UserID == caller.UserID {
		return nil
	}
	if caller.Role == enums.ActorRoleShopOwner {
		shop, err := s.repo.FindShop(ctx, order.ShopID)
		if err != nil {
			return err
		}
		if shop.OwnerUserID == caller.UserID {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to caller")
}

func orderLink(id uuid.UUID) string {
	return "/orders/" + id.String()
}
