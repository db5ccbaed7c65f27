package payment

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/dinehub/ordersync/errs"
)

// Provider names the payment integration that produced a completion signal.
type Provider string

const (
	ProviderIPOS        Provider = "ipos"
	ProviderClover      Provider = "clover"
	ProviderSquare      Provider = "square"
	ProviderStatusCheck Provider = "status_check"
)

// Signal type tags carried on the cross-context completion channel.
const (
	signalTypeIPOS        = "IPOS_PAYMENT"
	signalTypeClover      = "CLOVER_PAYMENT"
	signalTypeSquare      = "SQUARE_PAYMENT"
	signalTypeStatusCheck = "PAYMENT_STATUS_CHECK"
)

// Signal is the decoded completion signal, exactly one payload field set
// according to Provider.
type Signal struct {
	Provider    Provider
	IPOS        *IPOSPayload
	Clover      *CloverPayload
	Square      *SquarePayload
	StatusCheck *StatusCheckPayload
}

// IPOSPayload resolves by response code: 200 is success.
type IPOSPayload struct {
	ResponseMessage        string `json:"responseMessage"`
	TransactionReferenceID string `json:"transactionReferenceId"`
	ResponseCode           int    `json:"responseCode"`
	Amount                 string `json:"amount"`
}

// CloverPayload resolves by status string: "success" (case-insensitive) is
// success.
type CloverPayload struct {
	PaymentStatus string `json:"payment_status"`
}

// SquarePayload requires a follow-up status fetch before resolving.
type SquarePayload struct {
	TransactionID string `json:"transactionId"`
	OrderID       string `json:"orderId"`
}

// StatusCheckPayload arrives pre-resolved; no further check is needed.
type StatusCheckPayload struct {
	TransactionID string `json:"transaction_id"`
}

func payloadError(signalType string, err error) error {
	return errs.New("payment/signal", errs.CodeParse,
		errs.WithMessage(fmt.Sprintf("malformed %s payload", signalType)),
		errs.WithCause(err))
}

type signalEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeSignal parses one raw completion-signal message into its provider
// variant. Unknown types and malformed payloads fail with a parse error.
func DecodeSignal(raw []byte) (Signal, error) {
	var env signalEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Signal{}, errs.New("payment/signal", errs.CodeParse,
			errs.WithMessage("malformed completion signal"), errs.WithCause(err))
	}

	switch env.Type {
	case signalTypeIPOS:
		var payload IPOSPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return Signal{}, payloadError(env.Type, err)
		}
		return Signal{Provider: ProviderIPOS, IPOS: &payload}, nil
	case signalTypeClover:
		var payload CloverPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return Signal{}, payloadError(env.Type, err)
		}
		return Signal{Provider: ProviderClover, Clover: &payload}, nil
	case signalTypeSquare:
		var payload SquarePayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return Signal{}, payloadError(env.Type, err)
		}
		return Signal{Provider: ProviderSquare, Square: &payload}, nil
	case signalTypeStatusCheck:
		var payload StatusCheckPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return Signal{}, payloadError(env.Type, err)
		}
		return Signal{Provider: ProviderStatusCheck, StatusCheck: &payload}, nil
	default:
		return Signal{}, errs.New("payment/signal", errs.CodeParse,
			errs.WithMessage(fmt.Sprintf("unrecognized signal type %q", env.Type)))
	}
}
