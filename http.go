package bankgo

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type balanceJSONResp struct {
	Balance decimal.Decimal `json:"balance"`
}

type HTTPConfig struct {
	JWTSecret []byte
	TokenTTL  time.Duration
}

func NewHTTPHandler(svc Service, users *UserService, node *snowflake.Node, cfg HTTPConfig, log *zerolog.Logger) http.Handler {
	hndlr := &httpHandler{
		Svc:   svc,
		Users: users,
		Node:  node,
		Cfg:   cfg,
		Log:   log,
	}
	mux := chi.NewMux()
	mux.NotFound(HTTPNotFound)
	mux.Post("/login", hndlr.Login)
	mux.Post("/users", hndlr.CreateUser)
	mux.Group(func(r chi.Router) {
		r.Use(Authenticator(cfg.JWTSecret, log))
		r.Route("/users/me", func(rr chi.Router) {
			rr.Get("/", hndlr.GetProfile)
			rr.Put("/", hndlr.UpdateProfile)
			rr.Put("/password", hndlr.UpdatePassword)
		})
		r.Post("/accounts", hndlr.CreateAccount)
		r.Route("/accounts/{acctID:[0-9]+}", func(rr chi.Router) {
			rr.Get("/", hndlr.GetAccount)
			rr.Patch("/deposit", hndlr.Deposit)
			rr.Patch("/withdraw", hndlr.Withdraw)
			rr.Patch("/transfer", hndlr.Transfer)
			rr.Get("/statement", hndlr.Statement)
		})
		r.Get("/transactions/{acctID:[0-9]+}", hndlr.ListTransactions)
	})

	return mux
}

type httpHandler struct {
	Svc   Service
	Users *UserService
	Node  *snowflake.Node
	Cfg   HTTPConfig
	Log   *zerolog.Logger
}

func (h *httpHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !h.decode(w, r, "login", &req) {
		return
	}
	if err := h.Users.Authenticate(r.Context(), req.Username, req.Password); err != nil {
		WriteHTTPError(w, err)
		return
	}
	token, err := IssueToken(h.Cfg.JWTSecret, req.Username, h.Cfg.TokenTTL)
	if err != nil {
		h.Log.Err(err).Str("method", "login").Msg("error signing token")
		WriteHTTPError(w, ErrInternalServer)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *httpHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req UserProfile
	if !h.decode(w, r, "create user", &req) {
		return
	}
	password, err := h.Users.CreateUser(r.Context(), req)
	if err != nil {
		WriteHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"username":         req.Username,
		"initial_password": password,
	})
}

func (h *httpHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	username, _ := UsernameFromContext(r.Context())
	profile, err := h.Users.GetProfile(r.Context(), username)
	if err != nil {
		WriteHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *httpHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	username, _ := UsernameFromContext(r.Context())
	var req UserProfile
	if !h.decode(w, r, "update profile", &req) {
		return
	}
	if err := h.Users.UpdateProfile(r.Context(), username, req); err != nil {
		WriteHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (h *httpHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	username, _ := UsernameFromContext(r.Context())
	var req struct {
		Password string `json:"password"`
	}
	if !h.decode(w, r, "update password", &req) {
		return
	}
	if err := h.Users.UpdatePassword(r.Context(), username, req.Password); err != nil {
		WriteHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (h *httpHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	username, _ := UsernameFromContext(r.Context())
	acct, err := h.Svc.CreateAccount(r.Context(), CreateAccountReq{
		AcctID:   h.Node.Generate(),
		Username: username,
	})
	if err != nil {
		WriteHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAccountView(acct))
}

func (h *httpHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	username, _ := UsernameFromContext(r.Context())
	acctID, ok := h.acctID(w, r, "get account")
	if !ok {
		return
	}
	view, err := h.Svc.GetAccount(r.Context(), GetAccountReq{AcctID: acctID, Username: username})
	if err != nil {
		WriteHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *httpHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.charge(w, r, "deposit", h.Svc.Deposit)
}

func (h *httpHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.charge(w, r, "withdraw", h.Svc.Withdraw)
}

func (h *httpHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	username, _ := UsernameFromContext(r.Context())
	var req TransferReq
	if !h.decode(w, r, "transfer", &req) {
		return
	}
	acctID, ok := h.acctID(w, r, "transfer")
	if !ok {
		return
	}
	req.AcctID = acctID
	req.Username = username
	bal, err := h.Svc.Transfer(r.Context(), req)
	if err != nil {
		WriteHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceJSONResp{Balance: *bal})
}

func (h *httpHandler) Statement(w http.ResponseWriter, r *http.Request) {
	username, _ := UsernameFromContext(r.Context())
	acctID, ok := h.acctID(w, r, "statement")
	if !ok {
		return
	}
	req := StatementReq{
		AcctID:   acctID,
		Username: username,
	}
	w.Header().Set("Content-Type", "application/pdf")
	if err := h.Svc.Statement(r.Context(), w, req); err != nil {
		WriteHTTPError(w, err)
		return
	}
}

func (h *httpHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	username, _ := UsernameFromContext(r.Context())
	acctID, ok := h.acctID(w, r, "list transactions")
	if !ok {
		return
	}
	req := HistoryReq{
		AcctID:   acctID,
		Username: username,
		Page:     queryInt(r, "page", 0),
		Size:     queryInt(r, "size", defaultPageSize),
	}
	page, err := h.Svc.ListTransactions(r.Context(), req)
	if err != nil {
		WriteHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *httpHandler) charge(w http.ResponseWriter, r *http.Request, method string,
	op func(ctx context.Context, req ChargeReq) (*decimal.Decimal, error),
) {
	username, _ := UsernameFromContext(r.Context())
	var req ChargeReq
	if !h.decode(w, r, method, &req) {
		return
	}
	acctID, ok := h.acctID(w, r, method)
	if !ok {
		return
	}
	req.AcctID = acctID
	req.Username = username
	bal, err := op(r.Context(), req)
	if err != nil {
		WriteHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceJSONResp{Balance: *bal})
}

func (h *httpHandler) decode(w http.ResponseWriter, r *http.Request, method string, dst interface{}) bool {
	buf, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		h.Log.Err(err).Str("method", method).Msg("error reading HTTP request")
		WriteHTTPError(w, ErrInternalServer)
		return false
	}
	if err = json.Unmarshal(buf, dst); err != nil {
		h.Log.Err(err).Str("method", method).Msg("error unmarshalling JSON")
		WriteHTTPError(w, ErrBadRequest{Fields: map[string]string{"request body": "malformed JSON"}})
		return false
	}
	return true
}

func (h *httpHandler) acctID(w http.ResponseWriter, r *http.Request, method string) (snowflake.ID, bool) {
	pid := chi.URLParam(r, "acctID")
	acctID, err := snowflake.ParseString(pid)
	if err != nil {
		h.Log.Err(err).Str("method", method).Msg("error parsing account ID")
		WriteHTTPError(w, ErrBadRequest{Fields: map[string]string{"acctID": "invalid format"}})
		return 0, false
	}
	return acctID, true
}

func queryInt(r *http.Request, key string, dflt int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return dflt
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return dflt
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("response encoding failed")
	}
}

func WriteHTTPError(w http.ResponseWriter, err error) {
	var ne error
	defer func() {
		if ne != nil {
			log.Error().
				Err(ne).
				Msg("error response encoding failed")
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	errnf := &ErrNotFound{}
	errbr := &ErrBadRequest{}
	errif := &ErrInsufficientFunds{}
	errcf := &ErrConflict{}
	switch {
	case errors.As(err, errnf):
		w.WriteHeader(http.StatusNotFound)
		ne = json.NewEncoder(w).Encode(errorBody(errnf.Error(), errnf))
	case errors.As(err, errif):
		w.WriteHeader(http.StatusBadRequest)
		ne = json.NewEncoder(w).Encode(errorBody(errif.Error(), errif))
	case errors.As(err, errbr):
		w.WriteHeader(http.StatusBadRequest)
		ne = json.NewEncoder(w).Encode(errbr)
	case errors.As(err, errcf):
		w.WriteHeader(http.StatusConflict)
		ne = json.NewEncoder(w).Encode(errorBody(errcf.Error(), errcf))
	case errors.Is(err, ErrUnauthorized):
		w.WriteHeader(http.StatusUnauthorized)
		ne = json.NewEncoder(w).Encode(map[string]string{"message": err.Error()})
	case errors.Is(err, ErrOverCapacity):
		w.WriteHeader(http.StatusServiceUnavailable)
		ne = json.NewEncoder(w).Encode(map[string]string{"message": err.Error()})
	default:
		w.WriteHeader(http.StatusInternalServerError)
		resp := map[string]string{
			"message": "server error",
		}
		ne = json.NewEncoder(w).Encode(resp)
	}
}

func errorBody(msg string, detail interface{}) map[string]interface{} {
	return map[string]interface{}{
		"message": msg,
		"detail":  detail,
	}
}

func HTTPNotFound(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNotFound)
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]string{
		"path": r.URL.Path,
	}
	json.NewEncoder(w).Encode(resp)
}
