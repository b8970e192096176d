package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Aidin1998/otcdesk/api"
	"github.com/Aidin1998/otcdesk/internal/clients"
	"github.com/Aidin1998/otcdesk/internal/compliance"
	"github.com/Aidin1998/otcdesk/internal/credit"
	"github.com/Aidin1998/otcdesk/internal/custody"
	"github.com/Aidin1998/otcdesk/internal/marketdata"
	"github.com/Aidin1998/otcdesk/internal/messaging"
	"github.com/Aidin1998/otcdesk/internal/otc"
	"github.com/Aidin1998/otcdesk/internal/pricing"
	"github.com/Aidin1998/otcdesk/internal/rails"
	"github.com/Aidin1998/otcdesk/internal/settlement"
	"github.com/Aidin1998/otcdesk/pkg/models"
	"github.com/Aidin1998/otcdesk/testutil"
	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const btcAddress = "bc1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh"

// chain reports confirmations set by the test.
type chain struct {
	mu    sync.Mutex
	confs map[string]int
}

func (c *chain) Confirmations(_ context.Context, _ string, txHash string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confs[txHash], nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Count   int             `json:"count"`
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
	Errors []struct {
		Kind  string `json:"kind"`
		Field string `json:"field"`
	} `json:"errors"`
}

type APITestSuite struct {
	suite.Suite
	ctx      context.Context
	db       *gorm.DB
	router   *gin.Engine
	chain    *chain
	deposits *custody.Deposits
}

func TestAPITestSuite(t *testing.T) {
	gin.SetMode(gin.TestMode)
	suite.Run(t, new(APITestSuite))
}

func (s *APITestSuite) SetupTest() {
	s.ctx = context.Background()
	s.db = testutil.NewDB(s.T())
	logger := zap.NewNop()

	feed := marketdata.NewStaticFeed()
	feed.Set("BTC/USD", testutil.Dec("45000"), testutil.Dec("3"))
	converter := marketdata.NewConverter(feed)
	emitter := messaging.NewEmitter(messaging.NopPublisher{}, logger)

	cs := clients.NewService(s.db, logger)
	screener := compliance.NewScreener(s.db)
	gate := compliance.NewGate(s.db, converter, screener, logger)
	ledger := credit.NewLedger(s.db, converter, logger)
	repo := otc.NewRepository(s.db, logger)
	desk := otc.NewDesk(repo, cs, gate, pricing.NewEngine(feed, logger), emitter,
		otc.DeskConfig{HouseClientID: "CLI-HOUSE"}, logger)

	custodyRails := rails.NewRouter(logger).
		Register(rails.NewCryptoAdapter(custody.NewHotWalletProvider(s.db, logger)), models.MethodCrypto)
	cust := custody.NewService(s.db, gate, converter, custodyRails, emitter, custody.DefaultPolicy(), logger)

	settlementRails := rails.NewRouter(logger).Register(rails.NewSimulated(time.Hour),
		models.MethodCrypto, models.MethodWire, models.MethodSWIFT, models.MethodFedwire)
	orch := settlement.NewOrchestrator(s.db, repo, ledger, screener, cust, settlementRails, emitter,
		settlement.Config{CompletionDelay: 10 * time.Millisecond}, logger)
	s.T().Cleanup(orch.Scheduler().Stop)

	s.chain = &chain{confs: map[string]int{}}
	s.deposits = custody.NewDeposits(s.db, s.chain, emitter, logger)

	srv := api.NewServer(api.Services{
		DB:          s.db,
		Clients:     cs,
		Desk:        desk,
		Settlements: orch,
		Credit:      ledger,
		Compliance:  gate,
		Custody:     cust,
		Deposits:    s.deposits,
		Sweeper:     custody.NewSweeper(s.db, converter, custodyRails, custody.SweepConfig{}, emitter, logger),
	}, logger)
	s.router = srv.Router()

	testutil.SeedClient(s.T(), s.db, "CLI-HOUSE", 3, models.TierInstitutional)
	testutil.SeedClient(s.T(), s.db, "CLI-BUY", 3, models.TierInstitutional)
	testutil.SeedClient(s.T(), s.db, "CLI-SELL", 3, models.TierInstitutional)
}

func (s *APITestSuite) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// ok asserts status and decodes the envelope's data into out.
func (s *APITestSuite) ok(w *httptest.ResponseRecorder, status int, out any) envelope {
	s.Require().Equal(status, w.Code, w.Body.String())
	var env envelope
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &env))
	s.True(env.Success)
	if out != nil {
		s.Require().NoError(json.Unmarshal(env.Data, out))
	}
	return env
}

func (s *APITestSuite) problem(w *httptest.ResponseRecorder, status int) problem {
	s.Require().Equal(status, w.Code, w.Body.String())
	s.Equal("application/problem+json", w.Header().Get("Content-Type"))
	var p problem
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &p))
	s.Equal(status, p.Status)
	return p
}

func (s *APITestSuite) TestHealthAndMetrics() {
	w := s.do(http.MethodGet, "/health", nil)
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `"status":"ok"`)

	w = s.do(http.MethodGet, "/metrics", nil)
	s.Equal(http.StatusOK, w.Code)
}

func (s *APITestSuite) TestClientOnboarding() {
	var client models.Client
	s.ok(s.do(http.MethodPost, "/api/v1/clients", map[string]any{
		"name": "Acme Fund", "email": "ops@acme.example", "tier": "institutional", "risk_score": 20,
	}), http.StatusCreated, &client)
	s.NotEmpty(client.ID)
	s.Equal(0, client.KYCLevel)

	s.ok(s.do(http.MethodPost, "/api/v1/compliance/verify", map[string]any{
		"client_id": client.ID, "kind": "document",
	}), http.StatusOK, &client)
	s.Equal(3, client.KYCLevel)

	p := s.problem(s.do(http.MethodPost, "/api/v1/clients", map[string]any{"name": "No Mail", "email": "nope"}), http.StatusBadRequest)
	s.Equal("Invalid", p.Kind)
	s.Require().NotEmpty(p.Errors)
	s.Equal("email", p.Errors[0].Field)

	p = s.problem(s.do(http.MethodGet, "/api/v1/clients/CLI-MISSING", nil), http.StatusNotFound)
	s.Equal("https://api.otcdesk.io/problems/not-found", p.Type)
}

func (s *APITestSuite) TestDealRejectedByCompliance() {
	testutil.SeedClient(s.T(), s.db, "CLI-ANON", 0, models.TierRetail)
	p := s.problem(s.do(http.MethodPost, "/api/v1/deals", map[string]any{
		"client_id": "CLI-ANON", "side": "buy", "base_currency": "BTC", "quote_currency": "USD",
		"amount": "1", "price": "45000",
	}), http.StatusForbidden)
	s.Equal("ComplianceRejected", p.Kind)
	s.Equal("kyc_required", p.Reason)
}

func (s *APITestSuite) TestDealValidation() {
	p := s.problem(s.do(http.MethodPost, "/api/v1/deals", map[string]any{
		"client_id": "CLI-BUY", "side": "hold", "base_currency": "BTC", "quote_currency": "USD",
		"amount": "0", "price": "45000",
	}), http.StatusBadRequest)
	fields := map[string]string{}
	for _, e := range p.Errors {
		fields[e.Field] = e.Kind
	}
	s.Equal("oneof", fields["side"])
	s.Equal("gt", fields["amount"])

	s.problem(s.do(http.MethodGet, "/api/v1/deals?min_amount=lots", nil), http.StatusBadRequest)
}

func (s *APITestSuite) instruction(client string, body map[string]any) string {
	var inst models.SettlementInstruction
	s.ok(s.do(http.MethodPost, "/api/v1/clients/"+client+"/instructions", body), http.StatusCreated, &inst)
	s.ok(s.do(http.MethodPost, "/api/v1/instructions/"+inst.ID+"/verify", nil), http.StatusOK, &inst)
	return inst.ID
}

func (s *APITestSuite) TestDealToSettlement() {
	var deal models.Deal
	s.ok(s.do(http.MethodPost, "/api/v1/deals", map[string]any{
		"client_id": "CLI-SELL", "side": "sell", "base_currency": "BTC", "quote_currency": "USD",
		"amount": "1", "price": "45000",
	}), http.StatusCreated, &deal)

	var listed []models.Deal
	env := s.ok(s.do(http.MethodGet, "/api/v1/deals?client_id=CLI-SELL&min_amount=0.5", nil), http.StatusOK, &listed)
	s.Equal(1, env.Count)
	s.ok(s.do(http.MethodGet, "/api/v1/deals?client_id=CLI-SELL&min_amount=2", nil), http.StatusOK, &listed)
	s.Empty(listed)

	s.ok(s.do(http.MethodPost, "/api/v1/deals/"+deal.ID+"/match", map[string]any{"counterparty_id": "CLI-BUY"}), http.StatusOK, &deal)
	s.Equal(models.DealMatched, deal.Status)

	s.problem(s.do(http.MethodPost, "/api/v1/deals/"+deal.ID+"/match", map[string]any{"counterparty_id": "CLI-BUY"}), http.StatusConflict)

	s.ok(s.do(http.MethodPost, "/api/v1/custody/whitelist", map[string]any{
		"client_id": "CLI-BUY", "currency": "BTC", "address": btcAddress,
	}), http.StatusCreated, nil)
	buyerBTC := s.instruction("CLI-BUY", map[string]any{
		"currency": "BTC", "type": "crypto_wallet", "address": btcAddress,
	})
	sellerWire := s.instruction("CLI-SELL", map[string]any{
		"currency": "USD", "type": "bank_wire", "bank_name": "First Bank",
		"account_number": "000123456789", "routing_code": "021000021",
	})

	var st models.Settlement
	s.ok(s.do(http.MethodPost, "/api/v1/settlements", map[string]any{
		"source_type": "deal", "source_id": deal.ID,
		"buyer_instruction_id": buyerBTC, "seller_instruction_id": sellerWire,
	}), http.StatusCreated, &st)
	s.Equal("BTC", st.BuyerCurrency)
	s.Equal("USD", st.SellerCurrency)
	s.Equal(models.SettlementPending, st.Status)

	s.ok(s.do(http.MethodPost, "/api/v1/settlements/"+st.ID+"/process", nil), http.StatusOK, &st)
	s.Equal(models.SettlementProcessing, st.Status)

	s.problem(s.do(http.MethodPost, "/api/v1/settlements/"+st.ID+"/confirm", map[string]any{"side": "both"}), http.StatusBadRequest)
	s.ok(s.do(http.MethodPost, "/api/v1/settlements/"+st.ID+"/confirm", map[string]any{"side": "buyer"}), http.StatusOK, &st)
	s.ok(s.do(http.MethodPost, "/api/v1/settlements/"+st.ID+"/confirm", map[string]any{"side": "seller"}), http.StatusOK, &st)
	s.Equal(models.SettlementConfirming, st.Status)

	s.Eventually(func() bool {
		w := s.do(http.MethodGet, "/api/v1/settlements/"+st.ID, nil)
		var got models.Settlement
		var env envelope
		if json.Unmarshal(w.Body.Bytes(), &env) != nil || json.Unmarshal(env.Data, &got) != nil {
			return false
		}
		return got.Status == models.SettlementCompleted
	}, 2*time.Second, 10*time.Millisecond)

	s.ok(s.do(http.MethodGet, "/api/v1/deals/"+deal.ID, nil), http.StatusOK, &deal)
	s.Equal(models.DealCompleted, deal.Status)
}

func (s *APITestSuite) TestQuoteFlow() {
	var quote models.Quote
	s.ok(s.do(http.MethodPost, "/api/v1/quotes", map[string]any{
		"client_id": "CLI-BUY", "base_currency": "BTC", "quote_currency": "USD", "side": "buy", "amount": "2",
	}), http.StatusCreated, &quote)

	var priced struct {
		Quote   models.Quote        `json:"quote"`
		Pricing pricing.PriceResult `json:"pricing"`
	}
	s.ok(s.do(http.MethodPost, "/api/v1/quotes/"+quote.ID+"/price", nil), http.StatusOK, &priced)
	s.Equal(models.QuoteQuoted, priced.Quote.Status)
	s.True(priced.Pricing.Price.IsPositive())

	var accepted struct {
		Quote models.Quote `json:"quote"`
		Deal  *models.Deal `json:"deal"`
	}
	s.ok(s.do(http.MethodPost, "/api/v1/quotes/"+quote.ID+"/accept", map[string]any{"create_deal": true}), http.StatusOK, &accepted)
	s.Equal(models.QuoteAccepted, accepted.Quote.Status)
	s.Require().NotNil(accepted.Deal)
	s.Equal(quote.ID, *accepted.Deal.QuoteID)

	var strategy pricing.Strategy
	s.ok(s.do(http.MethodPost, "/api/v1/pricing/strategy", map[string]any{
		"base_currency": "BTC", "quote_currency": "USD", "amount": "100", "side": "buy", "style": "twap",
	}), http.StatusOK, &strategy)
	s.NotEmpty(strategy.Strategy)
}

func (s *APITestSuite) TestCreditLine() {
	var line models.CreditLine
	s.ok(s.do(http.MethodPost, "/api/v1/credit/CLI-BUY/extend", map[string]any{
		"currency": "USD", "delta": "250000",
	}), http.StatusOK, &line)
	s.True(line.CreditLimit.Equal(testutil.Dec("250000")))

	var u credit.Utilization
	s.ok(s.do(http.MethodGet, "/api/v1/credit/CLI-BUY", nil), http.StatusOK, &u)
	s.True(u.TotalLimit.Equal(testutil.Dec("250000")))

	p := s.problem(s.do(http.MethodPost, "/api/v1/credit/CLI-BUY/extend", map[string]any{
		"currency": "USD", "delta": "-300000",
	}), http.StatusUnprocessableEntity)
	s.Equal("InsufficientCredit", p.Kind)
}

func (s *APITestSuite) TestComplianceCheckAndSanctions() {
	var decision compliance.Decision
	s.ok(s.do(http.MethodPost, "/api/v1/compliance/check", map[string]any{
		"client_id": "CLI-BUY", "type": "withdrawal", "amount": "1000", "currency": "USD",
	}), http.StatusOK, &decision)
	s.True(decision.Approved)

	s.ok(s.do(http.MethodPost, "/api/v1/compliance/sanctions", map[string]any{
		"kind": "address", "value": btcAddress, "source": "OFAC",
	}), http.StatusCreated, nil)

	s.ok(s.do(http.MethodPost, "/api/v1/custody/whitelist", map[string]any{
		"client_id": "CLI-BUY", "currency": "BTC", "address": btcAddress,
	}), http.StatusCreated, nil)
	s.credit("CLI-BUY", "0xdep-sanction", "1")
	p := s.problem(s.do(http.MethodPost, "/api/v1/custody/withdrawals", map[string]any{
		"client_id": "CLI-BUY", "currency": "BTC", "amount": "0.01", "address": btcAddress,
	}), http.StatusForbidden)
	s.Equal("sanctions_hit", p.Reason)
}

// credit registers a BTC deposit and confirms it to depth.
func (s *APITestSuite) credit(client, txHash, amount string) {
	var dep models.Deposit
	s.ok(s.do(http.MethodPost, "/api/v1/custody/deposits", map[string]any{
		"client_id": client, "currency": "BTC", "amount": amount, "tx_hash": txHash,
	}), http.StatusCreated, &dep)
	s.chain.mu.Lock()
	s.chain.confs[txHash] = custody.ConfirmationDepth("BTC")
	s.chain.mu.Unlock()
	_, err := s.deposits.ScanDeposits(s.ctx)
	s.Require().NoError(err)
	s.ok(s.do(http.MethodGet, "/api/v1/custody/deposits/"+dep.ID, nil), http.StatusOK, &dep)
	s.Require().Equal(models.DepositCredited, dep.Status)
}

func (s *APITestSuite) TestWithdrawalNeedsWhitelist() {
	s.credit("CLI-SELL", "0xdep-1", "1")
	p := s.problem(s.do(http.MethodPost, "/api/v1/custody/withdrawals", map[string]any{
		"client_id": "CLI-SELL", "currency": "BTC", "amount": "0.01", "address": btcAddress,
	}), http.StatusForbidden)
	s.Equal("AddressNotWhitelisted", p.Kind)

	s.ok(s.do(http.MethodPost, "/api/v1/custody/whitelist", map[string]any{
		"client_id": "CLI-SELL", "currency": "BTC", "address": btcAddress,
	}), http.StatusCreated, nil)

	var w models.Withdrawal
	s.ok(s.do(http.MethodPost, "/api/v1/custody/withdrawals", map[string]any{
		"client_id": "CLI-SELL", "currency": "BTC", "amount": "0.01", "address": btcAddress,
	}), http.StatusCreated, &w)
	s.Equal(models.WithdrawalBroadcasted, w.Status)
	s.NotEmpty(w.TxID)

	var accounts []models.CustodyAccount
	s.ok(s.do(http.MethodGet, "/api/v1/custody/accounts/CLI-SELL", nil), http.StatusOK, &accounts)
	s.Require().Len(accounts, 1)
	s.True(accounts[0].Available.Equal(testutil.Dec("0.99")))

	w2 := s.do(http.MethodDelete, "/api/v1/custody/whitelist/CLI-SELL/BTC/"+btcAddress, nil)
	s.Equal(http.StatusNoContent, w2.Code)
	s.problem(s.do(http.MethodPost, "/api/v1/custody/withdrawals", map[string]any{
		"client_id": "CLI-SELL", "currency": "BTC", "amount": "0.01", "address": btcAddress,
	}), http.StatusForbidden)
}

func (s *APITestSuite) TestMultisigWithdrawal() {
	s.credit("CLI-SELL", "0xdep-big", "5")
	s.ok(s.do(http.MethodPost, "/api/v1/custody/whitelist", map[string]any{
		"client_id": "CLI-SELL", "currency": "BTC", "address": btcAddress,
	}), http.StatusCreated, nil)

	// 3 BTC at 45,000 is above the multisig threshold.
	var w models.Withdrawal
	s.ok(s.do(http.MethodPost, "/api/v1/custody/withdrawals", map[string]any{
		"client_id": "CLI-SELL", "currency": "BTC", "amount": "3", "address": btcAddress,
	}), http.StatusAccepted, &w)
	s.Equal(models.WithdrawalPendingApproval, w.Status)

	type enrolled struct {
		Signer models.Signer `json:"signer"`
		Secret string        `json:"secret"`
	}
	signers := make([]enrolled, 3)
	for i, name := range []string{"alice", "bob", "carol"} {
		s.ok(s.do(http.MethodPost, "/api/v1/custody/signers", map[string]any{"name": name}), http.StatusCreated, &signers[i])
		s.NotEmpty(signers[i].Secret)
	}

	s.problem(s.do(http.MethodPost, "/api/v1/custody/withdrawals/"+w.ID+"/approve", map[string]any{
		"signer_id": signers[0].Signer.ID, "code": "12345",
	}), http.StatusBadRequest)

	for _, sg := range signers {
		code, err := totp.GenerateCode(sg.Secret, time.Now())
		s.Require().NoError(err)
		s.ok(s.do(http.MethodPost, "/api/v1/custody/withdrawals/"+w.ID+"/approve", map[string]any{
			"signer_id": sg.Signer.ID, "code": code,
		}), http.StatusOK, &w)
	}
	s.Equal(models.WithdrawalBroadcasted, w.Status)

	var view struct {
		models.Withdrawal
		Approvals []models.WithdrawalApproval `json:"approvals"`
	}
	s.ok(s.do(http.MethodGet, "/api/v1/custody/withdrawals/"+w.ID, nil), http.StatusOK, &view)
	s.Len(view.Approvals, 3)

	var hot []models.WalletBalance
	s.ok(s.do(http.MethodGet, "/api/v1/custody/wallets?tier=hot", nil), http.StatusOK, &hot)
	s.Require().Len(hot, 1)
	s.True(hot[0].Balance.Equal(testutil.Dec("2")))

	s.problem(s.do(http.MethodGet, "/api/v1/custody/wallets?tier=warm", nil), http.StatusBadRequest)
}
