package core

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestMapError_NilStaysNil(t *testing.T) {
	if MapError(nil) != nil {
		t.Fatalf("expected nil to map to nil")
	}
}

func TestMapError_ClassifiesByMessage(t *testing.T) {
	cases := []struct {
		err      error
		textCode string
		status   int
	}{
		{fmt.Errorf("event 42 not found"), DispatchErrorNotFound, http.StatusNotFound},
		{fmt.Errorf("invalid webhook signature"), DispatchErrorUnauthorized, http.StatusUnauthorized},
		{fmt.Errorf("routing config rejected"), DispatchErrorConfigInvalid, http.StatusBadRequest},
		{fmt.Errorf("command timed out after 90s"), DispatchErrorExecutionFailed, http.StatusInternalServerError},
		{fmt.Errorf("source is required"), DispatchErrorBadInput, http.StatusBadRequest},
	}
	for _, tc := range cases {
		mapped := MapError(tc.err)
		if mapped == nil {
			t.Fatalf("expected mapped error for %v", tc.err)
		}
		if mapped.TextCode != tc.textCode {
			t.Fatalf("expected %s for %v, got %s", tc.textCode, tc.err, mapped.TextCode)
		}
		if mapped.Code != tc.status {
			t.Fatalf("expected status %d for %v, got %d", tc.status, tc.err, mapped.Code)
		}
	}
}

func TestMapError_PreservesRichErrors(t *testing.T) {
	source := goerrors.New("claim conflict", goerrors.CategoryConflict)
	mapped := MapError(source)
	if mapped.Category != goerrors.CategoryConflict {
		t.Fatalf("expected conflict category to survive, got %v", mapped.Category)
	}
	if mapped.TextCode != DispatchErrorConflict {
		t.Fatalf("expected conflict text code, got %s", mapped.TextCode)
	}
	if mapped.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", mapped.Code)
	}
}

func TestErrorConstructors(t *testing.T) {
	var rich *goerrors.Error

	badInput := BadInputError("source is required", map[string]any{"field": "source"})
	if !errors.As(badInput, &rich) || rich.TextCode != DispatchErrorBadInput {
		t.Fatalf("unexpected bad input envelope: %v", badInput)
	}

	notFound := NotFoundError("event 9 not found", nil)
	if !errors.As(notFound, &rich) || rich.Code != http.StatusNotFound {
		t.Fatalf("unexpected not found envelope: %v", notFound)
	}

	configErr := ConfigError("rules[0]: action is required", nil)
	if !errors.As(configErr, &rich) || rich.TextCode != DispatchErrorConfigInvalid {
		t.Fatalf("unexpected config envelope: %v", configErr)
	}

	execErr := ExecutionError(fmt.Errorf("exit status 2"), "command failed")
	if !errors.As(execErr, &rich) || rich.TextCode != DispatchErrorExecutionFailed {
		t.Fatalf("unexpected execution envelope: %v", execErr)
	}
	if !errors.Is(execErr, execErr) {
		t.Fatalf("expected error identity to hold")
	}
}
