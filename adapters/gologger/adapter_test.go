package gologger

import (
	"testing"

	glog "github.com/goliatone/go-logger/glog"
)

func TestResolve_NilInputsYieldUsableLogger(t *testing.T) {
	_, logger := Resolve("dispatch", nil, nil)
	if Ensure(logger) == nil {
		t.Fatalf("expected a usable logger")
	}
}

func TestToJob_NilMapsToNil(t *testing.T) {
	if ToJobProvider(nil) != nil {
		t.Fatalf("expected nil provider to map to nil")
	}
	if ToJobLogger(nil) != nil {
		t.Fatalf("expected nil logger to map to nil")
	}
}

func TestResolveForJob(t *testing.T) {
	var base glog.Logger
	_, logger, _, jobLogger := ResolveForJob("dispatch", nil, base)
	if logger == nil && jobLogger != nil {
		t.Fatalf("expected job logger to track resolved logger")
	}
}
