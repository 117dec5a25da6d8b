package http

import (
	"net/http"

	"swiftride/internal/notify"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	Router *chi.Mux
}

func NewServer(handler *Handler, hub *notify.Hub) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", handler.CreateOrder)
		r.Get("/", handler.ListOrders)
		r.Get("/{orderID}", handler.GetOrder)
		r.Post("/{orderID}/accept", handler.AcceptOrder)
		r.Post("/{orderID}/complete", handler.CompleteOrder)
		r.Post("/{orderID}/confirm-completion", handler.ConfirmCompletion)
		r.Post("/{orderID}/disburse", handler.DisburseOrder)
		r.Post("/{orderID}/refund", handler.RefundOrder)
	})

	r.Route("/payments", func(r chi.Router) {
		r.Post("/initiate", handler.InitiatePayment)
		r.Post("/callback", handler.PaymentCallback)
		r.Get("/callback", handler.PaymentCallback) // provider IPN may use GET
	})

	r.Route("/drivers", func(r chi.Router) {
		r.Post("/", handler.RegisterDriver)
		r.Post("/login", handler.LoginDriver)
		r.Get("/{driverID}", handler.GetDriver)
		r.Post("/{driverID}/rating", handler.RateDriver)
	})

	r.Get("/wallet", handler.GetWallet)

	r.Post("/reports", handler.FileReport)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/reports", handler.ListOpenReports)
		r.Post("/reports/{reportID}/resolve", handler.ResolveReport)
		r.Post("/payouts", handler.CreateAdminPayout)
		r.Post("/payouts/{payoutID}/complete", handler.CompletePayout)
		r.Post("/payouts/{payoutID}/cancel", handler.CancelPayout)
		r.Post("/drivers/{driverID}/suspend", handler.SuspendDriver)
		r.Post("/drivers/{driverID}/reinstate", handler.ReinstateDriver)
	})

	r.Get("/ws", hub.ServeWS)

	return &Server{Router: r}
}
