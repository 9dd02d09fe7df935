package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required"},
		{code: CodeForbidden, status: http.StatusForbidden, publicMsg: "access denied"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeStateConflict, status: http.StatusConflict, publicMsg: "cannot perform this action"},
		{code: CodeContention, status: http.StatusConflict, publicMsg: "stock is being updated, retry the request", retryable: true},
		{code: CodeRateLimit, status: http.StatusTooManyRequests, publicMsg: "rate limit exceeded", retryable: true},
		{code: CodeInvariant, status: http.StatusInternalServerError, publicMsg: "internal server error"},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestPublicMessageHidesInternalText(t *testing.T) {
	if got := New(CodeStateConflict, "cannot cancel order in status shipped").PublicMessage(); got != "cannot perform this action" {
		t.Fatalf("state conflict text must stay internal, got %q", got)
	}
	if got := New(CodeNotFound, "product SECRET-SKU not found").PublicMessage(); got != "resource not found" {
		t.Fatalf("missing resource identifiers must stay internal, got %q", got)
	}
	if got := New(CodeInvariant, "stock row 42 over-reserved").PublicMessage(); got != "internal server error" {
		t.Fatalf("invariant text must stay internal, got %q", got)
	}
	if got := New(CodeNotFound, "").PublicMessage(); got != "resource not found" {
		t.Fatalf("empty message falls back, got %q", got)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing items")
	if base.Code() != CodeValidation || base.Message() != "missing items" {
		t.Fatalf("unexpected error %v", base)
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}
	base.WithDetails(map[string]any{"field": "items"})
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("could not obtain lock")
	wrapped := Wrap(CodeContention, cause, "allocate order")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Error() != "STOCK_CONTENTION: allocate order: could not obtain lock" {
		t.Fatalf("unexpected error string %q", wrapped.Error())
	}
	if Wrap(CodeInternal, nil, "x").Unwrap() != nil {
		t.Fatalf("nil cause should unwrap to nil")
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeForbidden, "admin only"))
	if got := As(err); got == nil || got.Code() != CodeForbidden {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
	if !HasCode(err, CodeForbidden) || HasCode(err, CodeNotFound) {
		t.Fatalf("HasCode mismatch for %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New(CodeContention, "busy")) {
		t.Fatalf("contention should be retryable")
	}
	if IsRetryable(New(CodeStateConflict, "shipped")) {
		t.Fatalf("state conflicts are final")
	}
	if !IsRetryable(stdErrors.New("plain")) {
		t.Fatalf("uncoded errors count as internal")
	}
	if IsRetryable(nil) {
		t.Fatalf("nil is not retryable")
	}
}

func TestDumpCapturesChainAndPostgresFields(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23514", ConstraintName: "warehouse_stocks_reserved_le_quantity", TableName: "warehouse_stocks"}
	err := Wrap(CodeInvariant, pgErr, "reserve stock").WithDetails(map[string]any{"stock_id": "s-1"})

	dump := Dump(err)
	if dump.Code != CodeInvariant {
		t.Fatalf("expected invariant code, got %s", dump.Code)
	}
	if dump.PGCode != "23514" || dump.PGConstraint != "warehouse_stocks_reserved_le_quantity" {
		t.Fatalf("unexpected pg fields %+v", dump)
	}
	if len(dump.Chain) != 2 {
		t.Fatalf("expected 2 chain entries, got %d", len(dump.Chain))
	}
	if dump.Retryable {
		t.Fatalf("invariant violations must not be retryable")
	}
	fields := dump.LogFields()
	if fields["pg_constraint"] != "warehouse_stocks_reserved_le_quantity" {
		t.Fatalf("log fields missing constraint: %v", fields)
	}
	if _, ok := fields["pg_column"]; ok {
		t.Fatalf("empty pg fields should be omitted: %v", fields)
	}
}

func TestDumpUncodedErrorIsInternal(t *testing.T) {
	dump := Dump(stdErrors.New("plain"))
	if dump.Code != CodeInternal || !dump.Retryable {
		t.Fatalf("unexpected dump %+v", dump)
	}
	if _, ok := dump.LogFields()["pg_code"]; ok {
		t.Fatalf("non-postgres errors carry no pg fields")
	}
}
