package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMessageFormat(t *testing.T) {
	err := NewBusiness(OpCreateCredit, CodeActiveCreditExists, "el cliente ya tiene un crédito activo")
	want := "create_credit failed in remote [ACTIVE_CREDIT_EXISTS]: el cliente ya tiene un crédito activo"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestKindHelpers(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	transport := NewTransport(OpGetClients, cause)

	if !IsTransport(transport) {
		t.Error("IsTransport should match a transport error")
	}
	if !IsRetryable(transport) {
		t.Error("transport errors are retryable")
	}
	if IsBusiness(transport) {
		t.Error("transport error is not business")
	}
	if !errors.Is(transport, cause) {
		t.Error("cause should be reachable through Unwrap")
	}

	business := NewBusiness(OpCreateCredit, CodeActiveCreditExists, "rechazado")
	if IsRetryable(business) {
		t.Error("business rejections are not retryable")
	}
	if got := BusinessCode(business); got != CodeActiveCreditExists {
		t.Errorf("BusinessCode = %q, want %q", got, CodeActiveCreditExists)
	}

	session := NewSession(OpGetClients)
	if !IsSession(session) {
		t.Error("IsSession should match a session error")
	}
	if BusinessCode(session) != "" {
		t.Error("session errors carry no business code")
	}
}

func TestKindOfWrappedError(t *testing.T) {
	inner := NewStorage(OpStore, fmt.Errorf("disk full"))
	wrapped := fmt.Errorf("saving client: %w", inner)

	if KindOf(wrapped) != KindStorage {
		t.Errorf("KindOf(wrapped) = %q, want %q", KindOf(wrapped), KindStorage)
	}
	if KindOf(fmt.Errorf("plain")) != "" {
		t.Error("untyped errors have no kind")
	}
}
