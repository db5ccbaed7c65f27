package payment

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dinehub/ordersync/errs"
)

func TestDecodeSignalIPOS(t *testing.T) {
	raw := []byte(`{"type":"IPOS_PAYMENT","payload":{"responseMessage":"approved","transactionReferenceId":"tx-41","responseCode":200,"amount":"23.50"}}`)
	signal, err := DecodeSignal(raw)
	require.NoError(t, err)
	require.Equal(t, ProviderIPOS, signal.Provider)
	require.Equal(t, 200, signal.IPOS.ResponseCode)
	require.Equal(t, "tx-41", signal.IPOS.TransactionReferenceID)
	require.Equal(t, "23.50", signal.IPOS.Amount)
}

func TestDecodeSignalClover(t *testing.T) {
	signal, err := DecodeSignal([]byte(`{"type":"CLOVER_PAYMENT","payload":{"payment_status":"Success"}}`))
	require.NoError(t, err)
	require.Equal(t, ProviderClover, signal.Provider)
	require.Equal(t, "Success", signal.Clover.PaymentStatus)
}

func TestDecodeSignalSquare(t *testing.T) {
	signal, err := DecodeSignal([]byte(`{"type":"SQUARE_PAYMENT","payload":{"transactionId":"tx-7","orderId":"912"}}`))
	require.NoError(t, err)
	require.Equal(t, ProviderSquare, signal.Provider)
	require.Equal(t, "tx-7", signal.Square.TransactionID)
	require.Equal(t, "912", signal.Square.OrderID)
}

func TestDecodeSignalStatusCheck(t *testing.T) {
	signal, err := DecodeSignal([]byte(`{"type":"PAYMENT_STATUS_CHECK","payload":{"transaction_id":"tx-9"}}`))
	require.NoError(t, err)
	require.Equal(t, ProviderStatusCheck, signal.Provider)
	require.Equal(t, "tx-9", signal.StatusCheck.TransactionID)
}

func TestDecodeSignalRejectsUnknownAndMalformed(t *testing.T) {
	for name, raw := range map[string]string{
		"unknown type":     `{"type":"VENMO_PAYMENT","payload":{}}`,
		"missing type":     `{"payload":{}}`,
		"not json":         `pong`,
		"payload mistyped": `{"type":"IPOS_PAYMENT","payload":{"responseCode":"two hundred"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeSignal([]byte(raw))
			require.True(t, errs.IsCode(err, errs.CodeParse), "got %v", err)
		})
	}
}
