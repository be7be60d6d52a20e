package api

import (
	"io"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"duka/internal/catalog"
	"duka/internal/checkout"
	"duka/internal/history"
	"duka/internal/mailer"
	"duka/internal/metrics"
	"duka/internal/model"
	"duka/internal/payments"
	"duka/internal/store"
)

// stkKeyPrefix maps a provider CheckoutRequestID to our order id while a
// push payment is in flight.
const stkKeyPrefix = "stk_req:"

// Server wires the storefront's HTTP surface. Card, mpesa and mail are
// optional; endpoints depending on an absent collaborator answer 503.
type Server struct {
	store    store.Store
	norm     *history.Normalizer
	checkout *checkout.Service
	card     *payments.CardClient
	mpesa    *payments.MpesaClient
	mail     *mailer.Mailer
	products []catalog.Product
	metrics  *metrics.Registry
}

type Options struct {
	Store    store.Store
	Norm     *history.Normalizer
	Checkout *checkout.Service
	Card     *payments.CardClient
	Mpesa    *payments.MpesaClient
	Mail     *mailer.Mailer
	Products []catalog.Product
	Metrics  *metrics.Registry
}

func NewServer(opts Options) *Server {
	return &Server{
		store:    opts.Store,
		norm:     opts.Norm,
		checkout: opts.Checkout,
		card:     opts.Card,
		mpesa:    opts.Mpesa,
		mail:     opts.Mail,
		products: opts.Products,
		metrics:  opts.Metrics,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
	e.GET("/api/products", s.handleProducts)
	e.POST("/api/checkout", s.handleCheckout)
	e.GET("/api/orders", s.handleOrders)
	e.POST("/api/pay/card/initialize", s.handleCardInitialize)
	e.GET("/api/pay/card/verify/:reference", s.handleCardVerify)
	e.POST("/api/pay/mpesa/stkpush", s.handleSTKPush)
	e.POST("/api/pay/mpesa/callback", s.handleMpesaCallback)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProducts(c echo.Context) error {
	return c.JSON(http.StatusOK, s.products)
}

type checkoutRequest struct {
	Items []model.OrderItem `json:"items"`
	Email string            `json:"email"`
	Phone string            `json:"phone"`
}

func (s *Server) handleCheckout(c echo.Context) error {
	var req checkoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid checkout payload")
	}
	o, err := s.checkout.Create(req.Items, req.Email, req.Phone)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if s.metrics != nil {
		s.metrics.CheckoutCreated.Inc()
	}
	return c.JSON(http.StatusCreated, o)
}

func (s *Server) handleOrders(c echo.Context) error {
	start := time.Now()
	res := s.norm.Normalize()
	if s.metrics != nil {
		s.metrics.OrdersNormalized.Add(float64(len(res.Orders)))
		s.metrics.RecordsDropped.Add(float64(res.Dropped))
		s.metrics.RecordsDeduped.Add(float64(res.Deduped))
		if res.Swept {
			s.metrics.LegacySweeps.Inc()
		}
		s.metrics.NormalizeDuration.Observe(time.Since(start).Seconds())
		s.metrics.OrdersCurrent.Set(float64(len(res.Orders)))
	}
	return c.JSON(http.StatusOK, res.Orders)
}

type cardInitRequest struct {
	OrderID     string `json:"orderId"`
	CallbackURL string `json:"callbackUrl"`
}

func (s *Server) handleCardInitialize(c echo.Context) error {
	if s.card == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "card gateway not configured")
	}
	var req cardInitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	o, ok := history.Find(s.store, req.OrderID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "order not found")
	}
	// the order token doubles as the gateway reference so verify maps
	// straight back to the order
	res, err := s.card.Initialize(c.Request().Context(), payments.CardInit{
		Email:       o.Email,
		AmountKES:   o.Total,
		Reference:   o.ID,
		CallbackURL: req.CallbackURL,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	if s.metrics != nil {
		s.metrics.CardInits.Inc()
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleCardVerify(c echo.Context) error {
	if s.card == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "card gateway not configured")
	}
	reference := c.Param("reference")
	res, err := s.card.Verify(c.Request().Context(), reference)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	if res.Status == "success" {
		o, ok := s.checkout.MarkPaid(reference, res.Reference)
		if ok {
			s.notifyPaid(c, o)
		}
	} else if res.Status == "failed" || res.Status == "abandoned" {
		if o, ok := s.checkout.MarkFailed(reference); ok {
			s.notifyFailed(c, o)
		}
	}
	return c.JSON(http.StatusOK, res)
}

type stkPushRequest struct {
	OrderID string `json:"orderId"`
	Phone   string `json:"phone"`
}

func (s *Server) handleSTKPush(c echo.Context) error {
	if s.mpesa == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "mobile money not configured")
	}
	var req stkPushRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	o, ok := history.Find(s.store, req.OrderID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "order not found")
	}
	phone := req.Phone
	if phone == "" {
		phone = o.Phone
	}
	res, err := s.mpesa.STKPush(c.Request().Context(), phone, int64(o.Total+0.5), o.ID, "Duka order "+o.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	if err := s.store.Set(stkKeyPrefix+res.CheckoutRequestID, []byte(o.ID)); err != nil {
		log.Printf("api: save stk mapping: %v", err)
	}
	if s.metrics != nil {
		s.metrics.StkPushes.Inc()
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleMpesaCallback(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	cb, err := payments.DecodeCallback(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	raw, ok, _ := s.store.Get(stkKeyPrefix + cb.CheckoutRequestID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown CheckoutRequestID")
	}
	orderID := string(raw)
	_ = s.store.Delete(stkKeyPrefix + cb.CheckoutRequestID)

	if cb.ResultCode == 0 {
		if o, ok := s.checkout.MarkPaid(orderID, cb.Receipt); ok {
			s.notifyPaid(c, o)
		}
	} else {
		if o, ok := s.checkout.MarkFailed(orderID); ok {
			s.notifyFailed(c, o)
		}
	}
	// the provider only needs an ack
	return c.JSON(http.StatusOK, map[string]any{"ResultCode": 0, "ResultDesc": "Accepted"})
}

func (s *Server) notifyPaid(c echo.Context, o model.Order) {
	if s.metrics != nil {
		s.metrics.PaymentsPaid.Inc()
	}
	if s.mail == nil || o.Email == "" {
		return
	}
	if err := s.mail.SendOrderConfirmation(c.Request().Context(), o.Email, o); err != nil {
		log.Printf("api: confirmation email for %s: %v", o.ID, err)
		return
	}
	if s.metrics != nil {
		s.metrics.EmailsSent.Inc()
	}
}

func (s *Server) notifyFailed(c echo.Context, o model.Order) {
	if s.metrics != nil {
		s.metrics.PaymentsFailed.Inc()
	}
	if s.mail == nil || o.Email == "" {
		return
	}
	if err := s.mail.SendPaymentFailed(c.Request().Context(), o.Email, o); err != nil {
		log.Printf("api: failure email for %s: %v", o.ID, err)
		return
	}
	if s.metrics != nil {
		s.metrics.EmailsSent.Inc()
	}
}
