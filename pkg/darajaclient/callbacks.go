package darajaclient

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// CallbackResult is the flattened interpretation of a provider callback
// payload, for both collection and disbursement flows.
type CallbackResult struct {
	Success           bool
	ExternalReference string
	AmountCents       int64
	Receipt           string
	Phone             string
	ResultCode        int
	ResultDescription string
}

// collectionCallbackEnvelope mirrors the provider's nested STK callback shape:
// a result-code/description envelope plus a flat list of named metadata items.
type collectionCallbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []metadataItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type disbursementCallbackEnvelope struct {
	Result struct {
		ConversationID           string `json:"ConversationID"`
		OriginatorConversationID string `json:"OriginatorConversationID"`
		ResultCode               int    `json:"ResultCode"`
		ResultDesc               string `json:"ResultDesc"`
		ResultParameters         struct {
			ResultParameter []resultParameter `json:"ResultParameter"`
		} `json:"ResultParameters"`
	} `json:"Result"`
}

type metadataItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value"`
}

type resultParameter struct {
	Key   string      `json:"Key"`
	Value interface{} `json:"Value"`
}

// ParseCollectionCallback interprets an STK push callback payload. It is a
// pure function: the only error it returns is a JSON decode failure. A
// non-zero provider result code yields Success=false with the provider's own
// description; missing optional metadata items are tolerated.
func ParseCollectionCallback(payload []byte) (CallbackResult, error) {
	var envelope collectionCallbackEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return CallbackResult{}, fmt.Errorf("failed to decode collection callback: %w", err)
	}

	cb := envelope.Body.StkCallback
	result := CallbackResult{
		ExternalReference: cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		ResultDescription: cb.ResultDesc,
	}

	if cb.ResultCode != 0 {
		return result, nil
	}

	meta := map[string]interface{}{}
	for _, item := range cb.CallbackMetadata.Item {
		meta[item.Name] = item.Value
	}

	result.Success = true
	result.Receipt = stringValue(meta["MpesaReceiptNumber"])
	result.Phone = stringValue(meta["PhoneNumber"])
	result.AmountCents = amountCentsValue(meta["Amount"])
	return result, nil
}

// ParseDisbursementCallback interprets a B2C result callback payload under the
// same contract as ParseCollectionCallback.
func ParseDisbursementCallback(payload []byte) (CallbackResult, error) {
	var envelope disbursementCallbackEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return CallbackResult{}, fmt.Errorf("failed to decode disbursement callback: %w", err)
	}

	res := envelope.Result
	result := CallbackResult{
		ExternalReference: res.ConversationID,
		ResultCode:        res.ResultCode,
		ResultDescription: res.ResultDesc,
	}

	if res.ResultCode != 0 {
		return result, nil
	}

	params := map[string]interface{}{}
	for _, p := range res.ResultParameters.ResultParameter {
		params[p.Key] = p.Value
	}

	result.Success = true
	result.Receipt = stringValue(params["TransactionReceipt"])
	if result.Receipt == "" {
		result.Receipt = stringValue(params["MpesaReceiptNumber"])
	}
	result.Phone = stringValue(params["ReceiverPartyPublicName"])
	result.AmountCents = amountCentsValue(params["TransactionAmount"])
	if result.AmountCents == 0 {
		result.AmountCents = amountCentsValue(params["Amount"])
	}
	return result, nil
}

// stringValue renders a metadata value as a string; the provider mixes string
// and numeric values for the same keys across environments.
func stringValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return decimal.NewFromFloat(t).String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// amountCentsValue converts a provider amount (whole or fractional currency
// units, as JSON number or string) into cents, rounding to the minor unit.
func amountCentsValue(v interface{}) int64 {
	var d decimal.Decimal
	switch t := v.(type) {
	case nil:
		return 0
	case float64:
		d = decimal.NewFromFloat(t)
	case string:
		parsed, err := decimal.NewFromString(t)
		if err != nil {
			return 0
		}
		d = parsed
	default:
		return 0
	}
	return d.Round(2).Shift(2).IntPart()
}
