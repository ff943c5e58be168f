package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ariefcatur/go-rental-bookings/internal/apperr"
	"github.com/ariefcatur/go-rental-bookings/internal/metrics"
	"github.com/mr-tron/base58"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const signatureLength = 64

var (
	ErrBadSignature = apperr.New(apperr.KindValidation, "Invalid transaction signature")
	ErrTxNotFound   = apperr.New(apperr.KindValidation, "Transaction not found on chain")
	ErrTxFailed     = apperr.New(apperr.KindValidation, "Transaction failed on chain")
	ErrTxProgram    = apperr.New(apperr.KindValidation, "Transaction does not invoke the rental program")
	ErrTxSigner     = apperr.New(apperr.KindValidation, "Transaction was not signed by the expected wallet")
	ErrTxAccounts   = apperr.New(apperr.KindValidation, "Transaction does not reference this rental")
	ErrTxMethod     = apperr.New(apperr.KindValidation, "Transaction does not perform the expected rental operation")
)

// Expectation is what a verified transaction must show: Signer among its signers, every
// key in Accounts among the keys it touches, and a top-level call of the rental program's
// Method.
type Expectation struct {
	Method   string
	Signer   PublicKey
	Accounts []PublicKey
}

// Verifier checks a client-supplied transaction signature against the network before a
// booking may change state.
type Verifier struct {
	cfg     Config
	enabled bool
	client  *http.Client
	limiter *rate.Limiter
	log     logrus.FieldLogger
}

type VerifierOption func(*Verifier)

func WithHTTPClient(c *http.Client) VerifierOption { return func(v *Verifier) { v.client = c } }

func NewVerifier(cfg Config, enabled bool, perSecond float64, log logrus.FieldLogger, opts ...VerifierOption) *Verifier {
	if perSecond <= 0 {
		perSecond = 5
	}
	v := &Verifier{
		cfg:     cfg,
		enabled: enabled,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		log:     log,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify requires signature to name a successful transaction that invokes the rental
// program and matches exp.
func (v *Verifier) Verify(ctx context.Context, signature string, exp Expectation) error {
	raw, err := base58.Decode(signature)
	if err != nil || len(raw) != signatureLength {
		metrics.RecordVerification("malformed")
		return ErrBadSignature
	}
	if !v.enabled {
		v.log.WithField("signature", signature).Warn("settlement verification disabled; trusting signature")
		metrics.RecordVerification("skipped")
		return nil
	}

	if err := v.limiter.Wait(ctx); err != nil {
		return apperr.Wrap(apperr.KindInternal, "rpc rate limit", err)
	}
	body, err := v.call(ctx, "getTransaction", []any{
		signature,
		map[string]any{
			"encoding":                       "json",
			"commitment":                     v.cfg.Commitment,
			"maxSupportedTransactionVersion": 0,
		},
	})
	if err != nil {
		metrics.RecordVerification("rpc_error")
		return apperr.Wrap(apperr.KindInternal, "verify transaction", err)
	}

	if err := v.check(body, exp); err != nil {
		metrics.RecordVerification("rejected")
		v.log.WithFields(logrus.Fields{"signature": signature, "reason": err.Error()}).Info("settlement signature rejected")
		return err
	}
	metrics.RecordVerification("ok")
	return nil
}

func (v *Verifier) check(body []byte, exp Expectation) error {
	res := gjson.GetBytes(body, "result")
	if !res.Exists() || res.Type == gjson.Null {
		return ErrTxNotFound
	}
	if e := res.Get("meta.err"); e.Exists() && e.Type != gjson.Null {
		return ErrTxFailed
	}

	// v0 transactions may pull the program in through a lookup table.
	keys := res.Get("transaction.message.accountKeys").Array()
	keys = append(keys, res.Get("meta.loadedAddresses.writable").Array()...)
	keys = append(keys, res.Get("meta.loadedAddresses.readonly").Array()...)

	program, wallet := v.cfg.ProgramID.String(), exp.Signer.String()
	signers := int(res.Get("transaction.message.header.numRequiredSignatures").Int())
	seen := make(map[string]bool, len(keys))
	var signed bool
	for i, k := range keys {
		s := k.String()
		seen[s] = true
		if i < signers && s == wallet {
			signed = true
		}
	}
	if !seen[program] {
		return ErrTxProgram
	}
	if !signed {
		return ErrTxSigner
	}
	for _, a := range exp.Accounts {
		if !seen[a.String()] {
			return ErrTxAccounts
		}
	}
	if !invokes(res.Get("transaction.message.instructions").Array(), keys, program, exp.Method) {
		return ErrTxMethod
	}
	return nil
}

// invokes reports whether one of the top-level instructions calls method on program.
// Inner instructions do not count: the signer must have asked for method directly.
func invokes(ixs, keys []gjson.Result, program, method string) bool {
	d := Discriminator(method)
	for _, ix := range ixs {
		idx := int(ix.Get("programIdIndex").Int())
		if idx < 0 || idx >= len(keys) || keys[idx].String() != program {
			continue
		}
		data, err := base58.Decode(ix.Get("data").String())
		if err == nil && bytes.HasPrefix(data, d[:]) {
			return true
		}
	}
	return false
}

func (v *Verifier) call(ctx context.Context, method string, params []any) ([]byte, error) {
	reqBody, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.RPCURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rpc %s: status %d", method, resp.StatusCode)
	}
	if e := gjson.GetBytes(body, "error"); e.Exists() && e.Type != gjson.Null {
		return nil, fmt.Errorf("rpc %s: %s", method, e.Get("message").String())
	}
	return body, nil
}
