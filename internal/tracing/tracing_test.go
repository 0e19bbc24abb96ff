package tracing

import (
	"context"
	"errors"
	"testing"
)

func TestStartEnd_NoopProvider(t *testing.T) {
	ctx, span := Start(context.Background(), ScopeGateway, "test", Session("S1"), User("u1"))
	if ctx == nil || span == nil {
		t.Fatal("Start returned nil")
	}
	End(span, errors.New("boom"))
	End(span, nil)
}
