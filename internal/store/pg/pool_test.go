package pg

import (
	"context"
	"strings"
	"testing"
)

func TestOpenDB_InvalidDSN(t *testing.T) {
	_, err := OpenDB(context.Background(), "postgres://user:pw@localhost:notaport/db")
	if err == nil || !strings.Contains(err.Error(), "parse postgres dsn") {
		t.Errorf("OpenDB err = %v", err)
	}
}
