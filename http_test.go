package bankgo_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/adrianmb/bankgo"
	"github.com/adrianmb/bankgo/mocks"
)

var testJWTSecret = []byte("test-secret")

func newTestHandler(t *testing.T, svc bankgo.Service) (http.Handler, *bankgo.UserService) {
	t.Helper()
	nooplog := zerolog.Nop()
	node, err := snowflake.NewNode(222)
	require.NoError(t, err)
	users := bankgo.NewUserService(bankgo.NewMemoryEndpoint(node), &nooplog)
	cfg := bankgo.HTTPConfig{
		JWTSecret: testJWTSecret,
		TokenTTL:  time.Hour,
	}
	return bankgo.NewHTTPHandler(svc, users, node, cfg, &nooplog), users
}

func bearer(t *testing.T, username string) string {
	t.Helper()
	token, err := bankgo.IssueToken(testJWTSecret, username, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestHTTPDeposit(t *testing.T) {
	t.Run("returns the new balance on success", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		bal := decimal.New(123400, -2)
		svc.EXPECT().
			Deposit(gomock.Any(), gomock.AssignableToTypeOf(bankgo.ChargeReq{})).
			DoAndReturn(func(_ context.Context, r bankgo.ChargeReq) (*decimal.Decimal, error) {
				as.Equal("adrian", r.Username)
				as.Equal(int64(1834563581361305763), r.AcctID.Int64())
				as.True(decimal.New(20000, -2).Equal(r.Amount))
				return &bal, nil
			}).
			Times(1)

		hndlr, _ := newTestHandler(tt, svc)
		body := bytes.NewBufferString(`{"amount":"200.00"}`)
		req := httptest.NewRequest(http.MethodPatch, "/accounts/1834563581361305763/deposit", body)
		req.Header.Set("Authorization", bearer(tt, "adrian"))
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		as.Equal(http.StatusOK, w.Code)
		resp := map[string]string{}
		err := json.Unmarshal(w.Body.Bytes(), &resp)
		as.Nil(err)
		as.Equal("1234.00", resp["balance"])
	})

	t.Run("rejects a request without a token", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		hndlr, _ := newTestHandler(tt, svc)

		body := bytes.NewBufferString(`{"amount":"200.00"}`)
		req := httptest.NewRequest(http.MethodPatch, "/accounts/1834563581361305763/deposit", body)
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		as.Equal(http.StatusUnauthorized, w.Code)
	})

	t.Run("rejects a token signed with the wrong secret", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		hndlr, _ := newTestHandler(tt, svc)

		forged, err := bankgo.IssueToken([]byte("other-secret"), "adrian", time.Hour)
		require.NoError(tt, err)
		body := bytes.NewBufferString(`{"amount":"200.00"}`)
		req := httptest.NewRequest(http.MethodPatch, "/accounts/1834563581361305763/deposit", body)
		req.Header.Set("Authorization", "Bearer "+forged)
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		as.Equal(http.StatusUnauthorized, w.Code)
	})

	t.Run("returns not found on a non-numeric account ID", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		hndlr, _ := newTestHandler(tt, svc)

		body := bytes.NewBufferString(`{"amount":"200.00"}`)
		req := httptest.NewRequest(http.MethodPatch, "/accounts/24j24g/deposit", body)
		req.Header.Set("Authorization", bearer(tt, "adrian"))
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		as.Equal(http.StatusNotFound, w.Code)
		resp := map[string]string{}
		err := json.Unmarshal(w.Body.Bytes(), &resp)
		reqrd.Nil(err)
		as.Contains(resp, "path")
	})

	t.Run("returns bad request on a malformed body", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		hndlr, _ := newTestHandler(tt, svc)

		body := bytes.NewBufferString(`{"amount":"200.00`)
		req := httptest.NewRequest(http.MethodPatch, "/accounts/123456789/deposit", body)
		req.Header.Set("Authorization", bearer(tt, "adrian"))
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		as.Equal(http.StatusBadRequest, w.Code)
		resp := map[string]map[string]string{}
		err := json.Unmarshal(w.Body.Bytes(), &resp)
		reqrd.Nil(err)
		as.Contains(resp, "fields")
		as.Contains(resp["fields"], "request body")
	})
}

func TestHTTPWithdraw(t *testing.T) {
	t.Run("returns the new balance on success", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		bal := decimal.New(430000, -2)
		svc.EXPECT().
			Withdraw(gomock.Any(), gomock.AssignableToTypeOf(bankgo.ChargeReq{})).
			Return(&bal, nil).
			Times(1)

		hndlr, _ := newTestHandler(tt, svc)
		body := bytes.NewBufferString(`{"amount":"200.00"}`)
		req := httptest.NewRequest(http.MethodPatch, "/accounts/1834563581361305763/withdraw", body)
		req.Header.Set("Authorization", bearer(tt, "adrian"))
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		as.Equal(http.StatusOK, w.Code)
		resp := map[string]string{}
		err := json.Unmarshal(w.Body.Bytes(), &resp)
		as.Nil(err)
		as.Equal("4300.00", resp["balance"])
	})

	t.Run("maps insufficient funds to bad request", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		svc.EXPECT().
			Withdraw(gomock.Any(), gomock.AssignableToTypeOf(bankgo.ChargeReq{})).
			Return(nil, bankgo.ErrInsufficientFunds{AcctID: 1834563581361305763}).
			Times(1)

		hndlr, _ := newTestHandler(tt, svc)
		body := bytes.NewBufferString(`{"amount":"99999.00"}`)
		req := httptest.NewRequest(http.MethodPatch, "/accounts/1834563581361305763/withdraw", body)
		req.Header.Set("Authorization", bearer(tt, "adrian"))
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		as.Equal(http.StatusBadRequest, w.Code)
		as.Contains(w.Body.String(), "insufficient balance")
	})
}

func TestHTTPTransfer(t *testing.T) {
	t.Run("returns the sender's new balance on success", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		bal := decimal.New(5000, -2)
		svc.EXPECT().
			Transfer(gomock.Any(), gomock.AssignableToTypeOf(bankgo.TransferReq{})).
			DoAndReturn(func(_ context.Context, r bankgo.TransferReq) (*decimal.Decimal, error) {
				as.Equal("adrian", r.Username)
				as.Equal(int64(1834563581361305763), r.AcctID.Int64())
				as.Equal(int64(1834563581361305764), r.TargetAcctID.Int64())
				return &bal, nil
			}).
			Times(1)

		hndlr, _ := newTestHandler(tt, svc)
		body := bytes.NewBufferString(`{"amount":"150.00","target_account_id":"1834563581361305764"}`)
		req := httptest.NewRequest(http.MethodPatch, "/accounts/1834563581361305763/transfer", body)
		req.Header.Set("Authorization", bearer(tt, "adrian"))
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		as.Equal(http.StatusOK, w.Code)
		resp := map[string]string{}
		err := json.Unmarshal(w.Body.Bytes(), &resp)
		as.Nil(err)
		as.Equal("50.00", resp["balance"])
	})

	t.Run("maps a missing receiver to not found", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		svc.EXPECT().
			Transfer(gomock.Any(), gomock.AssignableToTypeOf(bankgo.TransferReq{})).
			Return(nil, bankgo.ErrNotFound{ID: 42, Resource: "receiver account"}).
			Times(1)

		hndlr, _ := newTestHandler(tt, svc)
		body := bytes.NewBufferString(`{"amount":"150.00","target_account_id":"42"}`)
		req := httptest.NewRequest(http.MethodPatch, "/accounts/1834563581361305763/transfer", body)
		req.Header.Set("Authorization", bearer(tt, "adrian"))
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		as.Equal(http.StatusNotFound, w.Code)
		as.Contains(w.Body.String(), "receiver account")
	})
}

func TestHTTPGetAccount(t *testing.T) {
	as := assert.New(t)
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)
	svc.EXPECT().
		GetAccount(gomock.Any(), gomock.AssignableToTypeOf(bankgo.GetAccountReq{})).
		Return(&bankgo.AccountView{
			AcctID:      "1834563581361305763",
			OpeningDate: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
			Balance:     decimal.New(123456, -2),
		}, nil).
		Times(1)

	hndlr, _ := newTestHandler(t, svc)
	req := httptest.NewRequest(http.MethodGet, "/accounts/1834563581361305763/", nil)
	req.Header.Set("Authorization", bearer(t, "adrian"))
	w := httptest.NewRecorder()
	hndlr.ServeHTTP(w, req)

	as.Equal(http.StatusOK, w.Code)
	resp := map[string]interface{}{}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	as.Nil(err)
	as.Equal("1834563581361305763", resp["account_id"])
	as.Equal("1234.56", resp["balance"])
}

func TestHTTPListTransactions(t *testing.T) {
	as := assert.New(t)
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)
	svc.EXPECT().
		ListTransactions(gomock.Any(), gomock.AssignableToTypeOf(bankgo.HistoryReq{})).
		DoAndReturn(func(_ context.Context, r bankgo.HistoryReq) (*bankgo.TransactionPage, error) {
			as.Equal("adrian", r.Username)
			as.Equal(2, r.Page)
			as.Equal(5, r.Size)
			return &bankgo.TransactionPage{
				Items: []bankgo.TransactionView{},
				Page:  r.Page,
				Size:  r.Size,
				Total: 11,
			}, nil
		}).
		Times(1)

	hndlr, _ := newTestHandler(t, svc)
	req := httptest.NewRequest(http.MethodGet, "/transactions/1834563581361305763?page=2&size=5", nil)
	req.Header.Set("Authorization", bearer(t, "adrian"))
	w := httptest.NewRecorder()
	hndlr.ServeHTTP(w, req)

	as.Equal(http.StatusOK, w.Code)
	var page bankgo.TransactionPage
	err := json.Unmarshal(w.Body.Bytes(), &page)
	as.Nil(err)
	as.Equal(int64(11), page.Total)
	as.Equal(2, page.Page)
}

func TestHTTPLogin(t *testing.T) {
	t.Run("a created user can log in and use the token", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		hndlr, users := newTestHandler(tt, svc)

		password, err := users.CreateUser(context.Background(), bankgo.UserProfile{
			Username: "adrian",
			Name:     "Adrian",
			Email:    "adrian@bank.dev",
		})
		reqrd.NoError(err)

		body := bytes.NewBufferString(fmt.Sprintf(`{"username":"adrian","password":%q}`, password))
		req := httptest.NewRequest(http.MethodPost, "/login", body)
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		reqrd.Equal(http.StatusOK, w.Code)
		resp := map[string]string{}
		err = json.Unmarshal(w.Body.Bytes(), &resp)
		reqrd.Nil(err)
		reqrd.NotEmpty(resp["token"])

		// the issued token opens the protected profile route
		req = httptest.NewRequest(http.MethodGet, "/users/me/", nil)
		req.Header.Set("Authorization", "Bearer "+resp["token"])
		w = httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		as.Equal(http.StatusOK, w.Code)
		profile := bankgo.UserProfile{}
		err = json.Unmarshal(w.Body.Bytes(), &profile)
		as.Nil(err)
		as.Equal("adrian", profile.Username)
	})

	t.Run("a wrong password is unauthorized", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		hndlr, users := newTestHandler(tt, svc)

		_, err := users.CreateUser(context.Background(), bankgo.UserProfile{Username: "adrian"})
		reqrd.NoError(err)

		body := bytes.NewBufferString(`{"username":"adrian","password":"not-the-password"}`)
		req := httptest.NewRequest(http.MethodPost, "/login", body)
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		as.Equal(http.StatusUnauthorized, w.Code)
	})
}

func TestHTTPCreateAccount(t *testing.T) {
	as := assert.New(t)
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)
	svc.EXPECT().
		CreateAccount(gomock.Any(), gomock.AssignableToTypeOf(bankgo.CreateAccountReq{})).
		DoAndReturn(func(_ context.Context, r bankgo.CreateAccountReq) (*bankgo.Account, error) {
			as.Equal("adrian", r.Username)
			as.NotZero(r.AcctID)
			return &bankgo.Account{
				AcctID:      r.AcctID,
				Username:    r.Username,
				OpeningDate: time.Now().UTC(),
				Balance:     decimal.Zero,
			}, nil
		}).
		Times(1)

	hndlr, _ := newTestHandler(t, svc)
	req := httptest.NewRequest(http.MethodPost, "/accounts", nil)
	req.Header.Set("Authorization", bearer(t, "adrian"))
	w := httptest.NewRecorder()
	hndlr.ServeHTTP(w, req)

	as.Equal(http.StatusCreated, w.Code)
	resp := map[string]interface{}{}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	as.Nil(err)
	as.Contains(resp, "account_id")
	as.Equal("0", resp["balance"])
}
