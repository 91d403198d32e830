package circuit

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestReporterSanitizedByDefault(t *testing.T) {
	reporter := NewErrorReporter(false, nil)
	proxy := &fakeProxy{connected: true}

	reporter.Report(context.Background(), proxy, errors.New("sql: connection refused"), "Invocation failed.")

	got := proxy.sent()
	if len(got) != 1 {
		t.Fatalf("messages = %v, want one", got)
	}
	if strings.Contains(got[0], "sql") {
		t.Errorf("sanitized message %q leaks error detail", got[0])
	}
	if !strings.Contains(got[0], "Invocation failed.") {
		t.Errorf("message %q should carry the hint", got[0])
	}
}

func TestReporterDetailed(t *testing.T) {
	reporter := NewErrorReporter(true, nil)
	proxy := &fakeProxy{connected: true}

	reporter.Report(context.Background(), proxy, errors.New("component X threw"), "Render failed.")

	got := proxy.sent()
	if len(got) != 1 || !strings.Contains(got[0], "component X threw") {
		t.Errorf("detailed message = %v, want full error detail", got)
	}
}

func TestReporterSkipsDisconnected(t *testing.T) {
	reporter := NewErrorReporter(true, nil)
	proxy := &fakeProxy{connected: false}

	reporter.Report(context.Background(), proxy, errors.New("x"), "")
	reporter.Report(context.Background(), nil, errors.New("x"), "")

	if got := proxy.sent(); len(got) != 0 {
		t.Errorf("messages = %v, disconnected proxies must be skipped", got)
	}
}

func TestReporterSwallowsSendFailure(t *testing.T) {
	reporter := NewErrorReporter(true, nil)
	proxy := &fakeProxy{connected: true, sendErr: errors.New("socket closed")}

	// Must not panic or propagate.
	reporter.Report(context.Background(), proxy, errors.New("x"), "")
}
