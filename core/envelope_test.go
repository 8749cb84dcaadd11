package core

import (
	"encoding/json"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestEnvelope_SuccessAndFailureShapes(t *testing.T) {
	ok := Success(map[string]any{"id": "1"})
	if !ok.OK() || ok.Message != "success" {
		t.Fatalf("unexpected success envelope %+v", ok)
	}
	if ok.Err() != nil {
		t.Fatalf("expected nil error for success")
	}

	failed := Failure(CodeOK, "  ", nil)
	if failed.OK() {
		t.Fatalf("failure with zero code must not read as success")
	}
	if failed.Code != CodeInternal || failed.Message != "failure" {
		t.Fatalf("expected promoted internal failure, got %+v", failed)
	}
}

func TestEnvelope_JSONOmitsEmptyData(t *testing.T) {
	raw, err := json.Marshal(Failure(CodeNoData, "no records", nil))
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if string(raw) != `{"code":5001,"message":"no records"}` {
		t.Fatalf("unexpected envelope json %s", raw)
	}
}

func TestEnvelope_ErrCarriesCategoryAndDetail(t *testing.T) {
	env := Failure(CodeTransientExhausted, "retries exhausted after 3 attempts: unavailable (status 503)", FailureDetail{
		Kind:       FailureTransient,
		StatusCode: 503,
		Attempts:   3,
		Target:     "https://api.example.test/items",
	})
	err := env.Err()
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors value, got %T", err)
	}
	if rich.Category != goerrors.CategoryExternal || rich.TextCode != OutboundErrorRetriesExhausted {
		t.Fatalf("unexpected category/text code %q/%q", rich.Category, rich.TextCode)
	}
	if rich.Metadata["attempts"] != 3 || rich.Metadata["envelope_code"] != CodeTransientExhausted {
		t.Fatalf("unexpected metadata %#v", rich.Metadata)
	}

	authErr := Failure(CodeTokenUnavailable, "no token", nil).Err()
	if !goerrors.As(authErr, &rich) || rich.Category != goerrors.CategoryAuth {
		t.Fatalf("expected auth category for token failures, got %#v", authErr)
	}
}

func TestEnvelope_ProviderCodesPassThrough(t *testing.T) {
	env := Failure(99991400, "request trigger frequency limit", nil)
	if env.Code != 99991400 {
		t.Fatalf("expected provider code preserved, got %d", env.Code)
	}
	var rich *goerrors.Error
	if !goerrors.As(env.Err(), &rich) || rich.TextCode != OutboundErrorProvider {
		t.Fatalf("expected provider text code for unknown codes")
	}
}

func TestDataAs_AcceptsValueAndPointer(t *testing.T) {
	detail := FailureDetail{Attempts: 2}
	if got, ok := DataAs[FailureDetail](Envelope{Data: detail}); !ok || got.Attempts != 2 {
		t.Fatalf("expected value payload, got %#v", got)
	}
	if got, ok := DataAs[FailureDetail](Envelope{Data: &detail}); !ok || got.Attempts != 2 {
		t.Fatalf("expected pointer payload, got %#v", got)
	}
	var nilDetail *FailureDetail
	if _, ok := DataAs[FailureDetail](Envelope{Data: nilDetail}); ok {
		t.Fatalf("expected nil pointer payload to be rejected")
	}
	if _, ok := DataAs[Response](Envelope{Data: "text"}); ok {
		t.Fatalf("expected mismatched payload to be rejected")
	}
}
